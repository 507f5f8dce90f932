package webhooks

import (
	"encoding/json"
	"time"

	"github.com/sarathsp06/courier/internal/retry"
)

// SchemaVersion is stamped on every event this service creates.
const SchemaVersion = "1"

// Endpoint is a tenant-registered webhook target.
type Endpoint struct {
	ID          string            `json:"id" db:"id"`
	TenantID    string            `json:"tenant_id" db:"tenant_id"`
	URL         string            `json:"url" db:"url"`
	Events      []string          `json:"events" db:"events"`
	Secret      string            `json:"secret,omitempty" db:"secret"`
	Active      bool              `json:"active" db:"active"`
	Headers     map[string]string `json:"headers,omitempty" db:"headers"`
	RetryPolicy retry.Policy      `json:"retry_policy" db:"-"`
	Description string            `json:"description,omitempty" db:"description"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" db:"updated_at"`
}

// Subscribes reports whether the endpoint listens to eventType.
func (e *Endpoint) Subscribes(eventType string) bool {
	for _, ev := range e.Events {
		if ev == eventType {
			return true
		}
	}
	return false
}

// Redacted returns a deep copy with the signing secret removed.
func (e *Endpoint) Redacted() *Endpoint {
	c := e.Clone()
	c.Secret = ""
	return c
}

// Clone returns a deep copy.
func (e *Endpoint) Clone() *Endpoint {
	c := *e
	c.Events = append([]string(nil), e.Events...)
	if e.Headers != nil {
		c.Headers = make(map[string]string, len(e.Headers))
		for k, v := range e.Headers {
			c.Headers[k] = v
		}
	}
	return &c
}

// Event is an immutable record of something that happened in a tenant.
type Event struct {
	ID            string          `json:"id" db:"id"`
	Type          string          `json:"type" db:"type"`
	TenantID      string          `json:"tenant_id" db:"tenant_id"`
	Payload       json.RawMessage `json:"payload" db:"payload"`
	Timestamp     time.Time       `json:"timestamp" db:"timestamp"`
	SchemaVersion string          `json:"schema_version" db:"schema_version"`
}

// DeliveryState is the lifecycle state of a DeliveryJob.
type DeliveryState string

const (
	StatePending        DeliveryState = "pending"
	StateInFlight       DeliveryState = "in-flight"
	StateDelivered      DeliveryState = "delivered"
	StateRetryScheduled DeliveryState = "retry-scheduled"
	StateDeadLetter     DeliveryState = "dead-letter"
)

// Terminal reports whether no further attempts will be made from this state.
func (s DeliveryState) Terminal() bool {
	return s == StateDelivered || s == StateDeadLetter
}

// Valid reports whether s is a known state.
func (s DeliveryState) Valid() bool {
	switch s {
	case StatePending, StateInFlight, StateDelivered, StateRetryScheduled, StateDeadLetter:
		return true
	}
	return false
}

// DeliveryJob is one (event, endpoint) pairing awaiting or having completed delivery.
type DeliveryJob struct {
	ID             string        `json:"id" db:"id"`
	EndpointID     string        `json:"endpoint_id" db:"endpoint_id"`
	EventID        string        `json:"event_id" db:"event_id"`
	TenantID       string        `json:"tenant_id" db:"tenant_id"`
	EventType      string        `json:"event_type" db:"event_type"`
	URL            string        `json:"url" db:"url"` // frozen at creation
	Attempt        int           `json:"attempt" db:"attempt"`
	State          DeliveryState `json:"state" db:"state"`
	NextRetryAt    *time.Time    `json:"next_retry_at,omitempty" db:"next_retry_at"`
	LastHTTPStatus int           `json:"last_http_status,omitempty" db:"last_http_status"`
	LastError      string        `json:"last_error,omitempty" db:"last_error"`
	ClaimToken     string        `json:"-" db:"claim_token"`
	ClaimedAt      *time.Time    `json:"claimed_at,omitempty" db:"claimed_at"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at" db:"updated_at"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
}

// Clone returns a copy that shares no pointers with j.
func (j *DeliveryJob) Clone() *DeliveryJob {
	c := *j
	c.NextRetryAt = cloneTime(j.NextRetryAt)
	c.ClaimedAt = cloneTime(j.ClaimedAt)
	c.CompletedAt = cloneTime(j.CompletedAt)
	return &c
}

// Ready reports whether the job may be claimed at now.
func (j *DeliveryJob) Ready(now time.Time) bool {
	switch j.State {
	case StatePending:
		return true
	case StateRetryScheduled:
		return j.NextRetryAt != nil && !j.NextRetryAt.After(now)
	}
	return false
}

// DueAt orders ready jobs: pending jobs by creation, scheduled ones by their retry time.
func (j *DeliveryJob) DueAt() time.Time {
	if j.NextRetryAt != nil {
		return *j.NextRetryAt
	}
	return j.CreatedAt
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// ListOptions pages through delivery history.
type ListOptions struct {
	Limit  int
	Offset int
	State  DeliveryState // empty means any state
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Normalize clamps limit and offset into their accepted ranges.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultListLimit
	}
	if o.Limit > MaxListLimit {
		o.Limit = MaxListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
