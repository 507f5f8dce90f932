package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarathsp06/courier/internal/retry"
	"github.com/sarathsp06/courier/internal/webhooks"
)

// runStoreSuite exercises the webhooks.Store contract. newStore must return an
// empty store.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) webhooks.Store) {
	t.Run("endpoints", func(t *testing.T) { testEndpoints(t, newStore(t)) })
	t.Run("claim is exclusive", func(t *testing.T) { testClaimExclusive(t, newStore(t)) })
	t.Run("claim honours retry time", func(t *testing.T) { testClaimHonoursRetryTime(t, newStore(t)) })
	t.Run("finish is compare and swap", func(t *testing.T) { testFinishCAS(t, newStore(t)) })
	t.Run("rearm", func(t *testing.T) { testRearm(t, newStore(t)) })
	t.Run("list deliveries", func(t *testing.T) { testListJobs(t, newStore(t)) })
	t.Run("stale and prune", func(t *testing.T) { testStaleAndPrune(t, newStore(t)) })
}

var baseTime = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newEndpoint(tenant string, active bool, events ...string) *webhooks.Endpoint {
	return &webhooks.Endpoint{
		ID:          uuid.New().String(),
		TenantID:    tenant,
		URL:         "https://example.com/hook",
		Events:      events,
		Secret:      "secret",
		Active:      active,
		Headers:     map[string]string{"X-Team": "billing"},
		RetryPolicy: retry.DefaultPolicy(),
		CreatedAt:   baseTime,
		UpdatedAt:   baseTime,
	}
}

func seedEvent(t *testing.T, s webhooks.Store) *webhooks.Event {
	t.Helper()
	ev := &webhooks.Event{
		ID:            uuid.New().String(),
		Type:          "order.created",
		TenantID:      "t1",
		Payload:       json.RawMessage(`{"order":1}`),
		Timestamp:     baseTime,
		SchemaVersion: webhooks.SchemaVersion,
	}
	require.NoError(t, s.CreateEvent(context.Background(), ev))
	return ev
}

func newJob(endpointID, eventID string, created time.Time) *webhooks.DeliveryJob {
	return &webhooks.DeliveryJob{
		ID:         uuid.New().String(),
		EndpointID: endpointID,
		EventID:    eventID,
		TenantID:   "t1",
		EventType:  "order.created",
		URL:        "https://example.com/hook",
		State:      webhooks.StatePending,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

func testEndpoints(t *testing.T, s webhooks.Store) {
	ctx := context.Background()

	a := newEndpoint("t1", true, "order.created", "order.paid")
	b := newEndpoint("t1", false, "order.created")
	c := newEndpoint("t2", true, "order.created")
	for _, ep := range []*webhooks.Endpoint{a, b, c} {
		require.NoError(t, s.CreateEndpoint(ctx, ep))
	}

	got, err := s.GetEndpoint(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Events, got.Events)
	assert.Equal(t, a.Headers, got.Headers)
	assert.Equal(t, a.RetryPolicy, got.RetryPolicy)

	subs, err := s.ListSubscribedEndpoints(ctx, "t1", "order.created")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, a.ID, subs[0].ID)

	all, err := s.ListEndpointsByTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	got.TenantID = "hijack"
	got.Active = false
	require.NoError(t, s.UpdateEndpoint(ctx, got))
	after, err := s.GetEndpoint(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "t1", after.TenantID)
	assert.False(t, after.Active)

	deleted, err := s.DeleteEndpoint(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = s.DeleteEndpoint(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = s.GetEndpoint(ctx, a.ID)
	assert.ErrorIs(t, err, webhooks.ErrNotFound)
	assert.ErrorIs(t, s.UpdateEndpoint(ctx, a), webhooks.ErrNotFound)
}

func testClaimExclusive(t *testing.T, s webhooks.Store) {
	ctx := context.Background()
	ev := seedEvent(t, s)
	require.NoError(t, s.CreateJobs(ctx, []*webhooks.DeliveryJob{newJob("ep", ev.ID, baseTime)}))

	const racers = 8
	var wg sync.WaitGroup
	claims := make(chan *webhooks.DeliveryJob, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j, err := s.ClaimReadyJob(ctx, baseTime.Add(time.Second), uuid.New().String())
			assert.NoError(t, err)
			if j != nil {
				claims <- j
			}
		}()
	}
	wg.Wait()
	close(claims)

	var won []*webhooks.DeliveryJob
	for j := range claims {
		won = append(won, j)
	}
	require.Len(t, won, 1)
	assert.Equal(t, webhooks.StateInFlight, won[0].State)
	assert.NotEmpty(t, won[0].ClaimToken)
	require.NotNil(t, won[0].ClaimedAt)
}

func testClaimHonoursRetryTime(t *testing.T, s webhooks.Store) {
	ctx := context.Background()
	ev := seedEvent(t, s)
	j := newJob("ep", ev.ID, baseTime)
	require.NoError(t, s.CreateJobs(ctx, []*webhooks.DeliveryJob{j}))

	claimed, err := s.ClaimReadyJob(ctx, baseTime, "tok-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	retryAt := baseTime.Add(time.Minute)
	claimed.State = webhooks.StateRetryScheduled
	claimed.Attempt = 1
	claimed.NextRetryAt = &retryAt
	claimed.UpdatedAt = baseTime
	require.NoError(t, s.FinishJob(ctx, claimed))

	none, err := s.ClaimReadyJob(ctx, retryAt.Add(-time.Second), "tok-2")
	require.NoError(t, err)
	assert.Nil(t, none)

	again, err := s.ClaimReadyJob(ctx, retryAt, "tok-3")
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, j.ID, again.ID)
	assert.Equal(t, 1, again.Attempt)
	assert.Nil(t, again.NextRetryAt)
}

func testFinishCAS(t *testing.T, s webhooks.Store) {
	ctx := context.Background()
	ev := seedEvent(t, s)
	j := newJob("ep", ev.ID, baseTime)
	require.NoError(t, s.CreateJobs(ctx, []*webhooks.DeliveryJob{j}))

	claimed, err := s.ClaimReadyJob(ctx, baseTime, "owner")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	stranger := claimed.Clone()
	stranger.ClaimToken = "someone-else"
	stranger.State = webhooks.StateDelivered
	assert.ErrorIs(t, s.FinishJob(ctx, stranger), webhooks.ErrStateConflict)

	done := baseTime.Add(time.Second)
	claimed.State = webhooks.StateDelivered
	claimed.LastHTTPStatus = 204
	claimed.CompletedAt = &done
	claimed.UpdatedAt = done
	require.NoError(t, s.FinishJob(ctx, claimed))

	// A second write with the same token loses: the job is no longer in flight.
	assert.ErrorIs(t, s.FinishJob(ctx, claimed), webhooks.ErrStateConflict)

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, webhooks.StateDelivered, got.State)
	assert.Equal(t, 204, got.LastHTTPStatus)
	assert.Empty(t, got.ClaimToken)
}

func testRearm(t *testing.T, s webhooks.Store) {
	ctx := context.Background()
	ev := seedEvent(t, s)
	j := newJob("ep", ev.ID, baseTime)
	require.NoError(t, s.CreateJobs(ctx, []*webhooks.DeliveryJob{j}))

	ok, err := s.RearmJob(ctx, j.ID, baseTime)
	require.NoError(t, err)
	assert.False(t, ok, "pending jobs cannot be re-armed")

	claimed, err := s.ClaimReadyJob(ctx, baseTime, "tok")
	require.NoError(t, err)
	done := baseTime.Add(time.Second)
	claimed.State = webhooks.StateDeadLetter
	claimed.Attempt = 5
	claimed.CompletedAt = &done
	claimed.UpdatedAt = done
	require.NoError(t, s.FinishJob(ctx, claimed))

	now := baseTime.Add(time.Hour)
	ok, err = s.RearmJob(ctx, j.ID, now)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, webhooks.StateRetryScheduled, got.State)
	assert.Equal(t, 5, got.Attempt)
	require.NotNil(t, got.NextRetryAt)
	assert.True(t, got.NextRetryAt.Equal(now))
	assert.Nil(t, got.CompletedAt)

	_, err = s.RearmJob(ctx, "missing", now)
	assert.ErrorIs(t, err, webhooks.ErrNotFound)
}

func testListJobs(t *testing.T, s webhooks.Store) {
	ctx := context.Background()
	ev := seedEvent(t, s)

	var jobs []*webhooks.DeliveryJob
	for i := 0; i < 5; i++ {
		jobs = append(jobs, newJob("ep-a", ev.ID, baseTime.Add(time.Duration(i)*time.Second)))
	}
	jobs = append(jobs, newJob("ep-b", ev.ID, baseTime))
	require.NoError(t, s.CreateJobs(ctx, jobs))

	page, err := s.ListJobsByEndpoint(ctx, "ep-a", webhooks.ListOptions{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, jobs[3].ID, page[0].ID)
	assert.Equal(t, jobs[2].ID, page[1].ID)

	none, err := s.ListJobsByEndpoint(ctx, "ep-a", webhooks.ListOptions{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, none)

	dead, err := s.ListJobsByEndpoint(ctx, "ep-a", webhooks.ListOptions{State: webhooks.StateDeadLetter})
	require.NoError(t, err)
	assert.Empty(t, dead)

	_, err = s.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, webhooks.ErrNotFound)
}

func testStaleAndPrune(t *testing.T, s webhooks.Store) {
	ctx := context.Background()
	ev := seedEvent(t, s)
	a := newJob("ep", ev.ID, baseTime)
	b := newJob("ep", ev.ID, baseTime.Add(time.Second))
	require.NoError(t, s.CreateJobs(ctx, []*webhooks.DeliveryJob{a, b}))

	first, err := s.ClaimReadyJob(ctx, baseTime, "t-a")
	require.NoError(t, err)
	second, err := s.ClaimReadyJob(ctx, baseTime.Add(10*time.Minute), "t-b")
	require.NoError(t, err)
	require.NotNil(t, first)
	require.NotNil(t, second)

	stale, err := s.ListStaleJobs(ctx, baseTime.Add(5*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, first.ID, stale[0].ID)

	done := baseTime.Add(time.Minute)
	first.State = webhooks.StateDelivered
	first.CompletedAt = &done
	first.UpdatedAt = done
	require.NoError(t, s.FinishJob(ctx, first))

	n, err := s.PruneJobs(ctx, baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = s.GetJob(ctx, first.ID)
	assert.ErrorIs(t, err, webhooks.ErrNotFound)
	_, err = s.GetJob(ctx, second.ID)
	assert.NoError(t, err)
}
