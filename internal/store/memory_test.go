package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarathsp06/courier/internal/webhooks"
)

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) webhooks.Store { return NewMemory() })
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	ep := newEndpoint("t1", true, "order.created")
	require.NoError(t, m.CreateEndpoint(ctx, ep))
	ep.Events[0] = "mutated"

	got, err := m.GetEndpoint(ctx, ep.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"order.created"}, got.Events)

	got.Headers["X-Team"] = "ops"
	again, err := m.GetEndpoint(ctx, ep.ID)
	require.NoError(t, err)
	assert.Equal(t, "billing", again.Headers["X-Team"])
}

func TestMemoryClaimsOldestDueFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	late := newJob("ep", "ev", baseTime.Add(time.Minute))
	early := newJob("ep", "ev", baseTime)
	require.NoError(t, m.CreateJobs(ctx, []*webhooks.DeliveryJob{late, early}))

	got, err := m.ClaimReadyJob(ctx, baseTime.Add(time.Hour), "tok")
	require.NoError(t, err)
	assert.Equal(t, early.ID, got.ID)
}

func TestMemoryRejectsDuplicateJobs(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	j := newJob("ep", "ev", baseTime)
	require.NoError(t, m.CreateJobs(ctx, []*webhooks.DeliveryJob{j}))
	assert.Error(t, m.CreateJobs(ctx, []*webhooks.DeliveryJob{j}))
}
