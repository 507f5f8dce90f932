package webhooks

import (
	"context"
	"time"
)

// EndpointStore persists endpoints.
type EndpointStore interface {
	CreateEndpoint(ctx context.Context, ep *Endpoint) error
	// UpdateEndpoint replaces the mutable fields of an existing endpoint.
	// Returns ErrNotFound if the endpoint does not exist.
	UpdateEndpoint(ctx context.Context, ep *Endpoint) error
	DeleteEndpoint(ctx context.Context, id string) (bool, error)
	GetEndpoint(ctx context.Context, id string) (*Endpoint, error)
	ListEndpointsByTenant(ctx context.Context, tenantID string) ([]*Endpoint, error)
	// ListSubscribedEndpoints returns the active endpoints of tenantID whose
	// event set contains eventType.
	ListSubscribedEndpoints(ctx context.Context, tenantID, eventType string) ([]*Endpoint, error)
}

// EventStore persists emitted events.
type EventStore interface {
	CreateEvent(ctx context.Context, ev *Event) error
	GetEvent(ctx context.Context, id string) (*Event, error)
}

// JobStore persists delivery jobs. Every state change is a single-job
// compare-and-swap; no operation locks more than one job.
type JobStore interface {
	CreateJobs(ctx context.Context, jobs []*DeliveryJob) error
	GetJob(ctx context.Context, id string) (*DeliveryJob, error)
	ListJobsByEndpoint(ctx context.Context, endpointID string, opts ListOptions) ([]*DeliveryJob, error)

	// ClaimReadyJob atomically moves one ready job (pending, or retry-scheduled
	// with NextRetryAt <= now) to in-flight, stamping ClaimedAt and token.
	// Returns (nil, nil) when nothing is ready.
	ClaimReadyJob(ctx context.Context, now time.Time, token string) (*DeliveryJob, error)

	// FinishJob writes the outcome of an in-flight job. It succeeds only while
	// the stored job is still in-flight under job.ClaimToken; otherwise it
	// returns ErrStateConflict.
	FinishJob(ctx context.Context, job *DeliveryJob) error

	// RearmJob moves a dead-letter or retry-scheduled job to retry-scheduled
	// with NextRetryAt = now, keeping its attempt counter. It reports false if
	// the job exists but is in any other state.
	RearmJob(ctx context.Context, id string, now time.Time) (bool, error)

	// ListStaleJobs returns in-flight jobs claimed before cutoff.
	ListStaleJobs(ctx context.Context, cutoff time.Time, limit int) ([]*DeliveryJob, error)

	// PruneJobs deletes terminal jobs completed before cutoff.
	PruneJobs(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store is the durable store the subsystem runs on.
type Store interface {
	EndpointStore
	EventStore
	JobStore
}
