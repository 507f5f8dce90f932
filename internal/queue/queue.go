// Package queue holds delivery jobs between the dispatcher and the worker
// pool, and runs the River maintenance jobs that keep the queue healthy.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sarathsp06/courier/internal/webhooks"
)

// DeliveryQueue is the hand-off point between the dispatcher and workers.
// Persistence and claim atomicity come from the JobStore; the notifier only
// shortens the time until a worker looks.
type DeliveryQueue struct {
	store    webhooks.JobStore
	notifier Notifier
}

// New creates a queue over store. A nil notifier gets a LocalNotifier.
func New(store webhooks.JobStore, notifier Notifier) *DeliveryQueue {
	if notifier == nil {
		notifier = NewLocalNotifier(1)
	}
	return &DeliveryQueue{store: store, notifier: notifier}
}

// Enqueue persists jobs and wakes workers.
func (q *DeliveryQueue) Enqueue(ctx context.Context, jobs ...*webhooks.DeliveryJob) error {
	if len(jobs) == 0 {
		return nil
	}
	if err := q.store.CreateJobs(ctx, jobs); err != nil {
		return fmt.Errorf("failed to enqueue delivery jobs: %w", err)
	}
	q.notifier.Notify(ctx)
	return nil
}

// PickReady claims one job that is pending or whose retry time has passed,
// moving it to in-flight. It returns nil when no job is ready. Two concurrent
// callers never receive the same job.
func (q *DeliveryQueue) PickReady(ctx context.Context, now time.Time) (*webhooks.DeliveryJob, error) {
	return q.store.ClaimReadyJob(ctx, now, uuid.New().String())
}

// Complete records the outcome of an in-flight job. It fails with
// webhooks.ErrStateConflict if the caller no longer owns the claim.
func (q *DeliveryQueue) Complete(ctx context.Context, job *webhooks.DeliveryJob) error {
	return q.store.FinishJob(ctx, job)
}

// Rearm makes a dead-lettered or scheduled job eligible immediately and
// wakes workers.
func (q *DeliveryQueue) Rearm(ctx context.Context, id string, now time.Time) (bool, error) {
	ok, err := q.store.RearmJob(ctx, id, now)
	if err != nil || !ok {
		return ok, err
	}
	q.notifier.Notify(ctx)
	return true, nil
}

// Stale returns in-flight jobs claimed before cutoff.
func (q *DeliveryQueue) Stale(ctx context.Context, cutoff time.Time, limit int) ([]*webhooks.DeliveryJob, error) {
	return q.store.ListStaleJobs(ctx, cutoff, limit)
}

// Prune removes terminal jobs completed before cutoff.
func (q *DeliveryQueue) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	return q.store.PruneJobs(ctx, cutoff)
}

// Wake delivers a signal whenever new work may be ready.
func (q *DeliveryQueue) Wake() <-chan struct{} {
	return q.notifier.Wake()
}
