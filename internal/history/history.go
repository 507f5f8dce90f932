// Package history is the read path over delivery jobs, plus manual retry.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sarathsp06/courier/internal/logger"
	"github.com/sarathsp06/courier/internal/webhooks"
)

// Jobs reads delivery jobs.
type Jobs interface {
	GetJob(ctx context.Context, id string) (*webhooks.DeliveryJob, error)
	ListJobsByEndpoint(ctx context.Context, endpointID string, opts webhooks.ListOptions) ([]*webhooks.DeliveryJob, error)
}

// Rearmer makes a job eligible for pickup again.
type Rearmer interface {
	Rearm(ctx context.Context, id string, now time.Time) (bool, error)
}

type History struct {
	jobs    Jobs
	rearmer Rearmer
	logger  *slog.Logger
	now     func() time.Time
}

func New(jobs Jobs, rearmer Rearmer) *History {
	return &History{
		jobs:    jobs,
		rearmer: rearmer,
		logger:  logger.NewLogger("delivery-history"),
		now:     time.Now,
	}
}

// GetDeliveryStatus returns the job, or webhooks.ErrNotFound.
func (h *History) GetDeliveryStatus(ctx context.Context, id string) (*webhooks.DeliveryJob, error) {
	return h.jobs.GetJob(ctx, id)
}

// ListDeliveries pages through an endpoint's jobs, newest first.
func (h *History) ListDeliveries(ctx context.Context, endpointID string, opts webhooks.ListOptions) ([]*webhooks.DeliveryJob, error) {
	if opts.State != "" && !opts.State.Valid() {
		return nil, fmt.Errorf("%w: unknown delivery state %q", webhooks.ErrValidation, opts.State)
	}
	return h.jobs.ListJobsByEndpoint(ctx, endpointID, opts.Normalize())
}

// ListDeadLetters pages through an endpoint's dead-lettered jobs.
func (h *History) ListDeadLetters(ctx context.Context, endpointID string, opts webhooks.ListOptions) ([]*webhooks.DeliveryJob, error) {
	opts.State = webhooks.StateDeadLetter
	return h.ListDeliveries(ctx, endpointID, opts)
}

// RetryDelivery re-arms a dead-letter or retry-scheduled job for immediate
// pickup without resetting its attempt counter, so a dead-lettered job that
// fails again goes straight back to dead-letter. It reports false for jobs in
// any other state and returns webhooks.ErrNotFound for unknown ids.
func (h *History) RetryDelivery(ctx context.Context, id string) (bool, error) {
	ok, err := h.rearmer.Rearm(ctx, id, h.now().UTC())
	if err != nil {
		return false, err
	}
	if ok {
		h.logger.Info("Delivery re-armed", "delivery_id", id)
	}
	return ok, nil
}
