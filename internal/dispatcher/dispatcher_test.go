package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarathsp06/courier/internal/queue"
	"github.com/sarathsp06/courier/internal/retry"
	"github.com/sarathsp06/courier/internal/store"
	"github.com/sarathsp06/courier/internal/webhooks"
)

type fixture struct {
	store    *store.Memory
	registry *webhooks.Registry
	queue    *queue.DeliveryQueue
	disp     *Dispatcher
}

func newFixture() *fixture {
	st := store.NewMemory()
	reg := webhooks.NewRegistry(st, retry.DefaultPolicy())
	q := queue.New(st, nil)
	return &fixture{store: st, registry: reg, queue: q, disp: New(st, reg, q, nil)}
}

func (f *fixture) register(t *testing.T, tenant string, events ...string) *webhooks.Endpoint {
	t.Helper()
	ep, err := f.registry.Register(context.Background(), webhooks.Registration{
		TenantID: tenant,
		URL:      "https://example.com/" + tenant,
		Events:   events,
	})
	require.NoError(t, err)
	return ep
}

func (f *fixture) jobsFor(t *testing.T, endpointID string) []*webhooks.DeliveryJob {
	t.Helper()
	jobs, err := f.store.ListJobsByEndpoint(context.Background(), endpointID, webhooks.ListOptions{})
	require.NoError(t, err)
	return jobs
}

func TestEmitFansOutToSubscribedEndpoints(t *testing.T) {
	t.Parallel()
	f := newFixture()
	ctx := context.Background()

	a := f.register(t, "t1", "order.created")
	b := f.register(t, "t1", "order.created", "order.paid")
	other := f.register(t, "t1", "order.paid")
	foreign := f.register(t, "t2", "order.created")

	eventID, err := f.disp.Emit(ctx, "order.created", map[string]any{"order_id": 42}, "t1")
	require.NoError(t, err)
	require.NotEmpty(t, eventID)

	for _, ep := range []*webhooks.Endpoint{a, b} {
		jobs := f.jobsFor(t, ep.ID)
		require.Len(t, jobs, 1)
		job := jobs[0]
		assert.Equal(t, eventID, job.EventID)
		assert.Equal(t, webhooks.StatePending, job.State)
		assert.Equal(t, 0, job.Attempt)
		assert.Equal(t, ep.URL, job.URL)
		assert.Equal(t, "t1", job.TenantID)
	}
	assert.Empty(t, f.jobsFor(t, other.ID))
	assert.Empty(t, f.jobsFor(t, foreign.ID))

	ev, err := f.store.GetEvent(ctx, eventID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"order_id":42}`, string(ev.Payload))
	assert.Equal(t, webhooks.SchemaVersion, ev.SchemaVersion)
}

func TestEmitSkipsInactiveEndpoints(t *testing.T) {
	t.Parallel()
	f := newFixture()
	ctx := context.Background()

	ep := f.register(t, "t1", "a")
	off := false
	_, err := f.registry.Update(ctx, ep.ID, webhooks.Patch{Active: &off})
	require.NoError(t, err)

	_, err = f.disp.Emit(ctx, "a", nil, "t1")
	require.NoError(t, err)
	assert.Empty(t, f.jobsFor(t, ep.ID))
}

func TestEmitWithoutSubscribersStillRecordsEvent(t *testing.T) {
	t.Parallel()
	f := newFixture()

	eventID, err := f.disp.Emit(context.Background(), "nobody.listens", "x", "t1")
	require.NoError(t, err)

	_, err = f.store.GetEvent(context.Background(), eventID)
	assert.NoError(t, err)
}

func TestEmitDoesNotDeduplicate(t *testing.T) {
	t.Parallel()
	f := newFixture()
	ep := f.register(t, "t1", "a")

	first, err := f.disp.Emit(context.Background(), "a", 1, "t1")
	require.NoError(t, err)
	second, err := f.disp.Emit(context.Background(), "a", 1, "t1")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Len(t, f.jobsFor(t, ep.ID), 2)
}

func TestEmitFreezesURL(t *testing.T) {
	t.Parallel()
	f := newFixture()
	ctx := context.Background()
	ep := f.register(t, "t1", "a")

	_, err := f.disp.Emit(ctx, "a", 1, "t1")
	require.NoError(t, err)

	moved := "https://example.com/moved"
	_, err = f.registry.Update(ctx, ep.ID, webhooks.Patch{URL: &moved})
	require.NoError(t, err)

	jobs := f.jobsFor(t, ep.ID)
	require.Len(t, jobs, 1)
	assert.Equal(t, ep.URL, jobs[0].URL)
}

func TestEmitValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		eventType string
		payload   any
		tenant    string
	}{
		{"empty type", "", 1, "t1"},
		{"blank tenant", "a", 1, "  "},
		{"unserializable payload", "a", make(chan int), "t1"},
		{"invalid raw json", "a", json.RawMessage(`{"a":`), "t1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := newFixture().disp.Emit(context.Background(), tt.eventType, tt.payload, tt.tenant)
			require.Error(t, err)
			assert.ErrorIs(t, err, webhooks.ErrValidation)
			assert.ErrorIs(t, err, webhooks.ErrInvalidEvent)
		})
	}
}

type failingEnqueuer struct{}

func (failingEnqueuer) Enqueue(context.Context, ...*webhooks.DeliveryJob) error {
	return errors.New("queue unavailable")
}

func TestEmitReportsEnqueueFailure(t *testing.T) {
	t.Parallel()
	st := store.NewMemory()
	reg := webhooks.NewRegistry(st, retry.DefaultPolicy())
	_, err := reg.Register(context.Background(), webhooks.Registration{TenantID: "t1", URL: "https://x.io", Events: []string{"a"}})
	require.NoError(t, err)

	d := New(st, reg, failingEnqueuer{}, nil)
	_, err = d.Emit(context.Background(), "a", 1, "t1")
	assert.Error(t, err)
}

func TestMarshalPayloadKeepsRawJSON(t *testing.T) {
	t.Parallel()

	raw := json.RawMessage(`{"b":2,"a":1}`)
	out, err := marshalPayload(raw)
	require.NoError(t, err)
	assert.Equal(t, string(raw), string(out))

	out, err = marshalPayload(nil)
	require.NoError(t, err)
	assert.Equal(t, "null", string(out))
}
