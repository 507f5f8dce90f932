package connect

import (
	"encoding/json"
	"time"

	"github.com/sarathsp06/courier/internal/retry"
	"github.com/sarathsp06/courier/internal/webhooks"
)

// RetryPolicy is the wire form of retry.Policy. Zero fields take defaults.
type RetryPolicy struct {
	MaxRetries        int     `json:"max_retries,omitempty"`
	InitialBackoffMs  int64   `json:"initial_backoff_ms,omitempty"`
	BackoffMultiplier float64 `json:"backoff_multiplier,omitempty"`
	MaxBackoffMs      int64   `json:"max_backoff_ms,omitempty"`
}

func (p *RetryPolicy) toPolicy() *retry.Policy {
	if p == nil {
		return nil
	}
	return &retry.Policy{
		MaxRetries:        p.MaxRetries,
		InitialBackoff:    time.Duration(p.InitialBackoffMs) * time.Millisecond,
		BackoffMultiplier: p.BackoffMultiplier,
		MaxBackoff:        time.Duration(p.MaxBackoffMs) * time.Millisecond,
	}
}

func fromPolicy(p retry.Policy) *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:        p.MaxRetries,
		InitialBackoffMs:  p.InitialBackoff.Milliseconds(),
		BackoffMultiplier: p.BackoffMultiplier,
		MaxBackoffMs:      p.MaxBackoff.Milliseconds(),
	}
}

// Endpoint is the wire form of webhooks.Endpoint. Secret is only set in the
// RegisterEndpoint response.
type Endpoint struct {
	ID          string            `json:"id"`
	TenantID    string            `json:"tenant_id"`
	URL         string            `json:"url"`
	Events      []string          `json:"events"`
	Secret      string            `json:"secret,omitempty"`
	Active      bool              `json:"active"`
	Headers     map[string]string `json:"headers,omitempty"`
	RetryPolicy *RetryPolicy      `json:"retry_policy"`
	Description string            `json:"description,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func toEndpoint(ep *webhooks.Endpoint) *Endpoint {
	return &Endpoint{
		ID:          ep.ID,
		TenantID:    ep.TenantID,
		URL:         ep.URL,
		Events:      ep.Events,
		Secret:      ep.Secret,
		Active:      ep.Active,
		Headers:     ep.Headers,
		RetryPolicy: fromPolicy(ep.RetryPolicy),
		Description: ep.Description,
		CreatedAt:   ep.CreatedAt,
		UpdatedAt:   ep.UpdatedAt,
	}
}

type RegisterEndpointRequest struct {
	TenantID    string            `json:"tenant_id"`
	URL         string            `json:"url"`
	Events      []string          `json:"events"`
	Secret      string            `json:"secret,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	RetryPolicy *RetryPolicy      `json:"retry_policy,omitempty"`
	Description string            `json:"description,omitempty"`
	Inactive    bool              `json:"inactive,omitempty"`
}

type UpdateEndpointRequest struct {
	ID          string            `json:"id"`
	URL         *string           `json:"url,omitempty"`
	Events      []string          `json:"events,omitempty"`
	Secret      *string           `json:"secret,omitempty"`
	Active      *bool             `json:"active,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	RetryPolicy *RetryPolicy      `json:"retry_policy,omitempty"`
	Description *string           `json:"description,omitempty"`
}

type EndpointRequest struct {
	ID string `json:"id"`
}

type EndpointResponse struct {
	Endpoint *Endpoint `json:"endpoint"`
}

type DeleteEndpointResponse struct {
	Deleted bool `json:"deleted"`
}

type ListEndpointsRequest struct {
	TenantID string `json:"tenant_id"`
}

type ListEndpointsResponse struct {
	Endpoints []*Endpoint `json:"endpoints"`
}

type EmitRequest struct {
	TenantID  string          `json:"tenant_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

type EmitResponse struct {
	EventID string `json:"event_id"`
}

// Delivery is the wire form of webhooks.DeliveryJob.
type Delivery struct {
	ID             string     `json:"id"`
	EndpointID     string     `json:"endpoint_id"`
	EventID        string     `json:"event_id"`
	EventType      string     `json:"event_type"`
	URL            string     `json:"url"`
	Attempt        int        `json:"attempt"`
	State          string     `json:"state"`
	NextRetryAt    *time.Time `json:"next_retry_at,omitempty"`
	LastHTTPStatus int        `json:"last_http_status,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

func toDelivery(j *webhooks.DeliveryJob) *Delivery {
	return &Delivery{
		ID:             j.ID,
		EndpointID:     j.EndpointID,
		EventID:        j.EventID,
		EventType:      j.EventType,
		URL:            j.URL,
		Attempt:        j.Attempt,
		State:          string(j.State),
		NextRetryAt:    j.NextRetryAt,
		LastHTTPStatus: j.LastHTTPStatus,
		LastError:      j.LastError,
		CreatedAt:      j.CreatedAt,
		CompletedAt:    j.CompletedAt,
	}
}

func toDeliveries(jobs []*webhooks.DeliveryJob) []*Delivery {
	out := make([]*Delivery, len(jobs))
	for i, j := range jobs {
		out[i] = toDelivery(j)
	}
	return out
}

type DeliveryRequest struct {
	ID string `json:"id"`
}

type DeliveryResponse struct {
	Delivery *Delivery `json:"delivery"`
}

type ListDeliveriesRequest struct {
	EndpointID string `json:"endpoint_id"`
	Limit      int    `json:"limit,omitempty"`
	Offset     int    `json:"offset,omitempty"`
	State      string `json:"state,omitempty"`
}

type ListDeliveriesResponse struct {
	Deliveries []*Delivery `json:"deliveries"`
}

type RetryDeliveryResponse struct {
	Rearmed bool `json:"rearmed"`
}

type TestEndpointResponse struct {
	Success        bool   `json:"success"`
	Status         int    `json:"status,omitempty"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	Error          string `json:"error,omitempty"`
}

type VerifySignatureRequest struct {
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
	Secret    string `json:"secret"`
	Timestamp int64  `json:"timestamp"`
}

type VerifySignatureResponse struct {
	Valid bool `json:"valid"`
}
