package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarathsp06/courier/internal/store"
	"github.com/sarathsp06/courier/internal/webhooks"
)

func pendingJob(created time.Time) *webhooks.DeliveryJob {
	return &webhooks.DeliveryJob{
		ID:         uuid.New().String(),
		EndpointID: "ep",
		EventID:    "ev",
		URL:        "https://example.com",
		State:      webhooks.StatePending,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

func TestEnqueueWakesWorkers(t *testing.T) {
	t.Parallel()

	q := New(store.NewMemory(), NewLocalNotifier(1))
	require.NoError(t, q.Enqueue(context.Background(), pendingJob(time.Now())))

	select {
	case <-q.Wake():
	case <-time.After(time.Second):
		t.Fatal("expected a wake-up after enqueue")
	}
}

func TestEnqueueNothingDoesNotWake(t *testing.T) {
	t.Parallel()

	q := New(store.NewMemory(), NewLocalNotifier(1))
	require.NoError(t, q.Enqueue(context.Background()))

	select {
	case <-q.Wake():
		t.Fatal("unexpected wake-up")
	default:
	}
}

func TestLocalNotifierNeverBlocks(t *testing.T) {
	t.Parallel()

	n := NewLocalNotifier(2)
	for i := 0; i < 10; i++ {
		n.Notify(context.Background())
	}
	assert.Len(t, n.Wake(), 2)
}

func TestPickReadyIsExclusive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := New(store.NewMemory(), nil)
	const jobs = 20
	for i := 0; i < jobs; i++ {
		require.NoError(t, q.Enqueue(ctx, pendingJob(time.Now())))
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		seen   = map[string]int{}
		claims atomic.Int32
	)
	for w := 0; w < 6; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				j, err := q.PickReady(ctx, time.Now())
				if !assert.NoError(t, err) || j == nil {
					return
				}
				claims.Add(1)
				mu.Lock()
				seen[j.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, jobs, claims.Load())
	for id, n := range seen {
		assert.Equal(t, 1, n, "job %s claimed more than once", id)
	}
}

func TestCompleteRequiresOwnership(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := New(store.NewMemory(), nil)
	require.NoError(t, q.Enqueue(ctx, pendingJob(time.Now())))

	j, err := q.PickReady(ctx, time.Now())
	require.NoError(t, err)
	require.NotNil(t, j)

	other := j.Clone()
	other.ClaimToken = "not-mine"
	other.State = webhooks.StateDelivered
	assert.ErrorIs(t, q.Complete(ctx, other), webhooks.ErrStateConflict)

	j.State = webhooks.StateDelivered
	assert.NoError(t, q.Complete(ctx, j))
}

func TestRearmWakesOnlyOnSuccess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	n := NewLocalNotifier(1)
	q := New(store.NewMemory(), n)
	job := pendingJob(time.Now())
	require.NoError(t, q.Enqueue(ctx, job))
	<-q.Wake()

	ok, err := q.Rearm(ctx, job.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, n.Wake(), 0)
}
