package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sarathsp06/courier/internal/webhooks"
)

// Memory is an in-process webhooks.Store. Jobs live in an append-only arena
// addressed through an id index; a single mutex makes every claim and
// completion a compare-and-swap. It is safe for concurrent use but not shared
// across processes.
type Memory struct {
	mu        sync.Mutex
	endpoints map[string]*webhooks.Endpoint
	events    map[string]*webhooks.Event
	jobs      []*webhooks.DeliveryJob
	jobIndex  map[string]int
}

var _ webhooks.Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		endpoints: make(map[string]*webhooks.Endpoint),
		events:    make(map[string]*webhooks.Event),
		jobIndex:  make(map[string]int),
	}
}

func (m *Memory) CreateEndpoint(_ context.Context, ep *webhooks.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.endpoints[ep.ID]; ok {
		return fmt.Errorf("endpoint %s already exists", ep.ID)
	}
	m.endpoints[ep.ID] = ep.Clone()
	return nil
}

func (m *Memory) UpdateEndpoint(_ context.Context, ep *webhooks.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.endpoints[ep.ID]
	if !ok {
		return webhooks.ErrNotFound
	}
	next := ep.Clone()
	next.TenantID = cur.TenantID
	next.CreatedAt = cur.CreatedAt
	m.endpoints[ep.ID] = next
	return nil
}

func (m *Memory) DeleteEndpoint(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.endpoints[id]; !ok {
		return false, nil
	}
	delete(m.endpoints, id)
	return true, nil
}

func (m *Memory) GetEndpoint(_ context.Context, id string) (*webhooks.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ep, ok := m.endpoints[id]
	if !ok {
		return nil, webhooks.ErrNotFound
	}
	return ep.Clone(), nil
}

func (m *Memory) ListEndpointsByTenant(_ context.Context, tenantID string) ([]*webhooks.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*webhooks.Endpoint
	for _, ep := range m.endpoints {
		if ep.TenantID == tenantID {
			out = append(out, ep.Clone())
		}
	}
	sortEndpoints(out)
	return out, nil
}

func (m *Memory) ListSubscribedEndpoints(_ context.Context, tenantID, eventType string) ([]*webhooks.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*webhooks.Endpoint
	for _, ep := range m.endpoints {
		if ep.TenantID == tenantID && ep.Active && ep.Subscribes(eventType) {
			out = append(out, ep.Clone())
		}
	}
	sortEndpoints(out)
	return out, nil
}

func (m *Memory) CreateEvent(_ context.Context, ev *webhooks.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[ev.ID]; ok {
		return fmt.Errorf("event %s already exists", ev.ID)
	}
	c := *ev
	c.Payload = append([]byte(nil), ev.Payload...)
	m.events[ev.ID] = &c
	return nil
}

func (m *Memory) GetEvent(_ context.Context, id string) (*webhooks.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return nil, webhooks.ErrNotFound
	}
	c := *ev
	c.Payload = append([]byte(nil), ev.Payload...)
	return &c, nil
}

func (m *Memory) CreateJobs(_ context.Context, jobs []*webhooks.DeliveryJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range jobs {
		if _, ok := m.jobIndex[j.ID]; ok {
			return fmt.Errorf("delivery job %s already exists", j.ID)
		}
	}
	for _, j := range jobs {
		m.jobIndex[j.ID] = len(m.jobs)
		m.jobs = append(m.jobs, j.Clone())
	}
	return nil
}

func (m *Memory) GetJob(_ context.Context, id string) (*webhooks.DeliveryJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.job(id)
	if j == nil {
		return nil, webhooks.ErrNotFound
	}
	return j.Clone(), nil
}

func (m *Memory) ListJobsByEndpoint(_ context.Context, endpointID string, opts webhooks.ListOptions) ([]*webhooks.DeliveryJob, error) {
	opts = opts.Normalize()
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*webhooks.DeliveryJob
	// Newest first: walk the arena backwards.
	for i := len(m.jobs) - 1; i >= 0; i-- {
		j := m.jobs[i]
		if j == nil || j.EndpointID != endpointID {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		matched = append(matched, j)
	}

	if opts.Offset >= len(matched) {
		return []*webhooks.DeliveryJob{}, nil
	}
	matched = matched[opts.Offset:]
	if len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	out := make([]*webhooks.DeliveryJob, len(matched))
	for i, j := range matched {
		out[i] = j.Clone()
	}
	return out, nil
}

func (m *Memory) ClaimReadyJob(_ context.Context, now time.Time, token string) (*webhooks.DeliveryJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var pick *webhooks.DeliveryJob
	for _, j := range m.jobs {
		if j == nil || !j.Ready(now) {
			continue
		}
		if pick == nil || j.DueAt().Before(pick.DueAt()) {
			pick = j
		}
	}
	if pick == nil {
		return nil, nil
	}

	claimed := now
	pick.State = webhooks.StateInFlight
	pick.NextRetryAt = nil
	pick.ClaimToken = token
	pick.ClaimedAt = &claimed
	pick.UpdatedAt = now
	return pick.Clone(), nil
}

func (m *Memory) FinishJob(_ context.Context, job *webhooks.DeliveryJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.job(job.ID)
	if cur == nil {
		return webhooks.ErrNotFound
	}
	if cur.State != webhooks.StateInFlight || cur.ClaimToken != job.ClaimToken {
		return webhooks.ErrStateConflict
	}

	cur.State = job.State
	cur.Attempt = job.Attempt
	cur.NextRetryAt = cloneTime(job.NextRetryAt)
	cur.LastHTTPStatus = job.LastHTTPStatus
	cur.LastError = job.LastError
	cur.CompletedAt = cloneTime(job.CompletedAt)
	cur.UpdatedAt = job.UpdatedAt
	cur.ClaimToken = ""
	cur.ClaimedAt = nil
	return nil
}

func (m *Memory) RearmJob(_ context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.job(id)
	if cur == nil {
		return false, webhooks.ErrNotFound
	}
	if cur.State != webhooks.StateDeadLetter && cur.State != webhooks.StateRetryScheduled {
		return false, nil
	}
	at := now
	cur.State = webhooks.StateRetryScheduled
	cur.NextRetryAt = &at
	cur.CompletedAt = nil
	cur.UpdatedAt = now
	return true, nil
}

func (m *Memory) ListStaleJobs(_ context.Context, cutoff time.Time, limit int) ([]*webhooks.DeliveryJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*webhooks.DeliveryJob
	for _, j := range m.jobs {
		if limit > 0 && len(out) >= limit {
			break
		}
		if j == nil || j.State != webhooks.StateInFlight || j.ClaimedAt == nil {
			continue
		}
		if j.ClaimedAt.Before(cutoff) {
			out = append(out, j.Clone())
		}
	}
	return out, nil
}

// PruneJobs drops terminal jobs from the index. Arena slots are nilled rather
// than compacted so indexes of live jobs stay valid.
func (m *Memory) PruneJobs(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for i, j := range m.jobs {
		if j == nil || !j.State.Terminal() || j.CompletedAt == nil {
			continue
		}
		if j.CompletedAt.Before(cutoff) {
			delete(m.jobIndex, j.ID)
			m.jobs[i] = nil
			n++
		}
	}
	return n, nil
}

func (m *Memory) job(id string) *webhooks.DeliveryJob {
	i, ok := m.jobIndex[id]
	if !ok {
		return nil
	}
	return m.jobs[i]
}

func sortEndpoints(eps []*webhooks.Endpoint) {
	sort.Slice(eps, func(i, k int) bool {
		if eps[i].CreatedAt.Equal(eps[k].CreatedAt) {
			return eps[i].ID < eps[k].ID
		}
		return eps[i].CreatedAt.Before(eps[k].CreatedAt)
	})
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
