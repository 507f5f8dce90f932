package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sarathsp06/courier/internal/logger"
	"github.com/sarathsp06/courier/internal/observability"
	"github.com/sarathsp06/courier/internal/webhooks"
)

// reapBatch bounds how many stale jobs one sweep recovers.
const reapBatch = 100

// MaintenanceQueue is the part of queue.DeliveryQueue maintenance needs.
type MaintenanceQueue interface {
	Complete(ctx context.Context, job *webhooks.DeliveryJob) error
	Stale(ctx context.Context, cutoff time.Time, limit int) ([]*webhooks.DeliveryJob, error)
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// EndpointLookup loads endpoints.
type EndpointLookup interface {
	GetEndpoint(ctx context.Context, id string) (*webhooks.Endpoint, error)
}

// Maintainer recovers jobs whose worker vanished mid-attempt and prunes old
// history.
type Maintainer struct {
	queue     MaintenanceQueue
	endpoints EndpointLookup
	lease     time.Duration
	retention time.Duration
	sink      DeadLetterSink
	metrics   *observability.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewMaintainer creates a maintainer. A job in flight longer than lease is
// considered abandoned; terminal jobs older than retention are pruned
// (zero retention keeps history forever).
func NewMaintainer(queue MaintenanceQueue, endpoints EndpointLookup, lease, retention time.Duration, sink DeadLetterSink, metrics *observability.Metrics) *Maintainer {
	return &Maintainer{
		queue:     queue,
		endpoints: endpoints,
		lease:     lease,
		retention: retention,
		sink:      sink,
		metrics:   metrics,
		logger:    logger.NewLogger("delivery-maintenance"),
		now:       time.Now,
	}
}

// ReapStale treats every job in flight past its lease as a failed attempt.
// The claim-token check in Complete loses to a worker that finishes first.
func (m *Maintainer) ReapStale(ctx context.Context) (int, error) {
	now := m.now().UTC()
	stale, err := m.queue.Stale(ctx, now.Add(-m.lease), reapBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale jobs: %w", err)
	}

	recovered := 0
	for _, job := range stale {
		log := m.logger.With("delivery_id", job.ID, "endpoint_id", job.EndpointID, "claimed_at", job.ClaimedAt)

		ep, err := m.endpoints.GetEndpoint(ctx, job.EndpointID)
		switch {
		case errors.Is(err, webhooks.ErrNotFound):
			markSkipped(job, reasonEndpointDeleted, now)
		case err != nil:
			return recovered, fmt.Errorf("failed to load endpoint %s: %w", job.EndpointID, err)
		default:
			markFailed(job, ep.RetryPolicy, 0, reasonLeaseExpired, now)
		}

		if err := m.queue.Complete(ctx, job); err != nil {
			if errors.Is(err, webhooks.ErrStateConflict) {
				continue
			}
			return recovered, fmt.Errorf("failed to recover job %s: %w", job.ID, err)
		}
		recovered++
		log.Warn("Recovered delivery with expired lease", "state", job.State, "attempt", job.Attempt)

		outcome := observability.OutcomeRetry
		if job.State == webhooks.StateDeadLetter {
			outcome = observability.OutcomeDeadLetter
			deadLettered(ctx, log, m.sink, m.metrics, job)
		}
		m.metrics.RecordAttempt(ctx, job.EventType, outcome, 0, m.lease)
	}
	return recovered, nil
}

// PruneHistory deletes terminal jobs completed before the retention window.
func (m *Maintainer) PruneHistory(ctx context.Context) (int64, error) {
	if m.retention <= 0 {
		return 0, nil
	}
	n, err := m.queue.Prune(ctx, m.now().UTC().Add(-m.retention))
	if err != nil {
		return 0, fmt.Errorf("failed to prune delivery history: %w", err)
	}
	if n > 0 {
		m.logger.Info("Pruned delivery history", "jobs", n, "retention", m.retention)
	}
	return n, nil
}

// Run sweeps on a ticker until ctx is cancelled. Deployments on Postgres
// schedule the same work as River periodic jobs instead.
func (m *Maintainer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.ReapStale(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error("Stale job sweep failed", "error", err)
			}
			if _, err := m.PruneHistory(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error("History prune failed", "error", err)
			}
		}
	}
}
