// Package workers delivers claimed jobs over HTTP and keeps the delivery
// queue healthy.
package workers

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sarathsp06/courier/internal/logger"
	"github.com/sarathsp06/courier/internal/observability"
	"github.com/sarathsp06/courier/internal/webhooks"
)

// Queue is the part of queue.DeliveryQueue the pool needs.
type Queue interface {
	PickReady(ctx context.Context, now time.Time) (*webhooks.DeliveryJob, error)
	Complete(ctx context.Context, job *webhooks.DeliveryJob) error
	Wake() <-chan struct{}
}

// Lookup loads what a job refers to.
type Lookup interface {
	GetEndpoint(ctx context.Context, id string) (*webhooks.Endpoint, error)
	GetEvent(ctx context.Context, id string) (*webhooks.Event, error)
}

// PoolConfig sizes the pool.
type PoolConfig struct {
	Workers      int
	PollInterval time.Duration
}

// Pool runs a fixed number of delivery workers. Each worker owns at most one
// job at a time.
type Pool struct {
	cfg     PoolConfig
	queue   Queue
	lookup  Lookup
	sender  *Sender
	sink    DeadLetterSink
	metrics *observability.Metrics
	tracer  trace.Tracer
	logger  *slog.Logger
	now     func() time.Time
}

// NewPool creates a pool. sink and metrics may be nil.
func NewPool(cfg PoolConfig, queue Queue, lookup Lookup, sender *Sender, sink DeadLetterSink, metrics *observability.Metrics) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Pool{
		cfg:     cfg,
		queue:   queue,
		lookup:  lookup,
		sender:  sender,
		sink:    sink,
		metrics: metrics,
		tracer:  observability.GetTracer("courier.workers"),
		logger:  logger.NewLogger("delivery-worker"),
		now:     time.Now,
	}
}

// Run blocks until ctx is cancelled and every worker has finished its
// current attempt.
func (p *Pool) Run(ctx context.Context) {
	p.logger.Info("Starting delivery workers",
		"workers", p.cfg.Workers,
		"poll_interval", p.cfg.PollInterval,
	)

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.work(ctx, id)
		}(i)
	}
	wg.Wait()

	p.logger.Info("Delivery workers stopped")
}

func (p *Pool) work(ctx context.Context, id int) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	var admitted bool
	for {
		p.drain(ctx, id, &admitted)
		select {
		case <-ctx.Done():
			return
		case <-p.queue.Wake():
		case <-ticker.C:
		}
	}
}

// drain processes ready jobs until none is left or ctx is cancelled.
// The rate limit is taken before the claim, so a worker never sits on an
// in-flight job while throttled. An admission that found no job carries over
// to the next drain.
func (p *Pool) drain(ctx context.Context, worker int, admitted *bool) {
	for ctx.Err() == nil {
		if !*admitted {
			if err := p.sender.Wait(ctx); err != nil {
				return
			}
			*admitted = true
		}

		job, err := p.queue.PickReady(ctx, p.now().UTC())
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Error("Failed to pick delivery job", "worker", worker, "error", err)
			}
			return
		}
		if job == nil {
			return
		}
		*admitted = false
		// A claimed attempt runs to completion even during shutdown; the
		// sender timeout bounds it.
		p.Process(context.WithoutCancel(ctx), job)
	}
}

// Process runs one attempt for a job the caller has claimed and records the
// outcome. The rate limit is not consulted; callers take it before claiming.
func (p *Pool) Process(ctx context.Context, job *webhooks.DeliveryJob) {
	ctx, span := p.tracer.Start(ctx, "workers.deliver",
		trace.WithAttributes(
			attribute.String("delivery_id", job.ID),
			attribute.String("endpoint_id", job.EndpointID),
			attribute.String("event_id", job.EventID),
			attribute.String("event_type", job.EventType),
			attribute.Int("attempt", job.Attempt+1),
		),
	)
	defer span.End()

	log := p.logger.With(
		"delivery_id", job.ID,
		"endpoint_id", job.EndpointID,
		"event_id", job.EventID,
	)

	ep, err := p.lookup.GetEndpoint(ctx, job.EndpointID)
	switch {
	case errors.Is(err, webhooks.ErrNotFound):
		markSkipped(job, reasonEndpointDeleted, p.now().UTC())
		log.Warn("Skipping delivery for deleted endpoint")
		p.finish(ctx, log, job, observability.OutcomeSkipped, 0, 0)
		return
	case err != nil:
		span.RecordError(err)
		log.Error("Failed to load endpoint, leaving job for lease recovery", "error", err)
		return
	case !ep.Active:
		markParked(job, ep.RetryPolicy, reasonEndpointInactive, p.now().UTC())
		log.Info("Parking delivery for inactive endpoint", "next_retry_at", job.NextRetryAt)
		p.finish(ctx, log, job, observability.OutcomeSkipped, 0, 0)
		return
	}

	ev, err := p.lookup.GetEvent(ctx, job.EventID)
	switch {
	case errors.Is(err, webhooks.ErrNotFound):
		markSkipped(job, reasonEventMissing, p.now().UTC())
		log.Error("Event missing for delivery job")
		p.finish(ctx, log, job, observability.OutcomeSkipped, 0, 0)
		return
	case err != nil:
		span.RecordError(err)
		log.Error("Failed to load event, leaving job for lease recovery", "error", err)
		return
	}

	log.Info("Processing webhook delivery", "url", job.URL, "attempt", job.Attempt+1)
	res := p.sender.Post(ctx, ep, job.URL, ev)
	now := p.now().UTC()

	if res.Delivered() {
		markDelivered(job, res.StatusCode, now)
		span.SetStatus(otelcodes.Ok, "delivered")
		log.Info("Webhook delivered successfully",
			"status_code", res.StatusCode,
			"duration_ms", res.Duration.Milliseconds(),
		)
		p.finish(ctx, log, job, observability.OutcomeDelivered, res.StatusCode, res.Duration)
		return
	}

	span.RecordError(res.Err)
	span.SetStatus(otelcodes.Error, "delivery failed")
	dead := markFailed(job, ep.RetryPolicy, res.StatusCode, describe(res), now)
	log.Warn("Webhook delivery failed",
		"status_code", res.StatusCode,
		"duration_ms", res.Duration.Milliseconds(),
		"attempt", job.Attempt,
		"permanent", res.Permanent(),
		"error", res.Err,
	)

	outcome := observability.OutcomeRetry
	if dead {
		outcome = observability.OutcomeDeadLetter
	}
	p.finish(ctx, log, job, outcome, res.StatusCode, res.Duration)
}

// finish writes the job back and emits the dead-letter signal if needed.
func (p *Pool) finish(ctx context.Context, log *slog.Logger, job *webhooks.DeliveryJob, outcome string, status int, d time.Duration) {
	if err := p.queue.Complete(ctx, job); err != nil {
		if errors.Is(err, webhooks.ErrStateConflict) {
			log.Warn("Delivery outcome discarded, job was reclaimed", "state", job.State)
			return
		}
		log.Error("Failed to record delivery outcome", "state", job.State, "error", err)
		return
	}

	p.metrics.RecordAttempt(ctx, job.EventType, outcome, status, d)
	if job.State == webhooks.StateDeadLetter {
		deadLettered(ctx, log, p.sink, p.metrics, job)
	}
}

// deadLettered is the operator signal for a job that will not be retried.
func deadLettered(ctx context.Context, log *slog.Logger, sink DeadLetterSink, metrics *observability.Metrics, job *webhooks.DeliveryJob) {
	log.Error("Delivery moved to dead letter",
		"tenant_id", job.TenantID,
		"event_type", job.EventType,
		"attempt", job.Attempt,
		"last_http_status", job.LastHTTPStatus,
		"last_error", job.LastError,
	)
	metrics.RecordDeadLetter(ctx, job.EventType)
	if sink == nil {
		return
	}
	if err := sink.DeadLettered(ctx, job); err != nil {
		log.Error("Dead letter sink failed", "error", err)
	}
}
