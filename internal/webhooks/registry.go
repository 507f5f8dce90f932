package webhooks

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sarathsp06/courier/internal/logger"
	"github.com/sarathsp06/courier/internal/retry"
)

// secretBytes is the entropy of generated signing secrets (256 bits).
const secretBytes = 32

// Registration describes a new endpoint. Secret and RetryPolicy are optional.
type Registration struct {
	TenantID    string
	URL         string
	Events      []string
	Secret      string
	Headers     map[string]string
	RetryPolicy *retry.Policy
	Description string
	// Inactive registers the endpoint disabled; endpoints are active by default.
	Inactive bool
}

// Patch changes selected fields of an endpoint. Nil fields are left as is.
type Patch struct {
	URL         *string
	Events      []string
	Secret      *string
	Active      *bool
	Headers     map[string]string
	RetryPolicy *retry.Policy
	Description *string
}

// Registry manages webhook endpoints on top of an EndpointStore.
type Registry struct {
	store         EndpointStore
	defaultPolicy retry.Policy
	now           func() time.Time
	logger        *slog.Logger
}

// NewRegistry creates a registry. defaultPolicy fills any retry policy field
// a registration leaves unset.
func NewRegistry(store EndpointStore, defaultPolicy retry.Policy) *Registry {
	return &Registry{
		store:         store,
		defaultPolicy: defaultPolicy.WithDefaults(retry.DefaultPolicy()),
		now:           time.Now,
		logger:        logger.NewLogger("endpoint-registry"),
	}
}

// Register validates and stores a new endpoint. The returned endpoint is the
// only place the generated secret is ever exposed.
func (r *Registry) Register(ctx context.Context, reg Registration) (*Endpoint, error) {
	if strings.TrimSpace(reg.TenantID) == "" {
		return nil, fmt.Errorf("%w: tenant id is required", ErrValidation)
	}
	if err := validateURL(reg.URL); err != nil {
		return nil, err
	}
	events, err := normalizeEvents(reg.Events)
	if err != nil {
		return nil, err
	}

	policy := r.defaultPolicy
	if reg.RetryPolicy != nil {
		policy = reg.RetryPolicy.WithDefaults(r.defaultPolicy)
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	secret := reg.Secret
	if secret == "" {
		secret, err = GenerateSecret()
		if err != nil {
			return nil, err
		}
	}

	now := r.now().UTC()
	ep := &Endpoint{
		ID:          uuid.New().String(),
		TenantID:    reg.TenantID,
		URL:         reg.URL,
		Events:      events,
		Secret:      secret,
		Active:      !reg.Inactive,
		Headers:     reg.Headers,
		RetryPolicy: policy,
		Description: reg.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := r.store.CreateEndpoint(ctx, ep); err != nil {
		return nil, fmt.Errorf("failed to store endpoint: %w", err)
	}

	r.logger.Info("Endpoint registered",
		"endpoint_id", ep.ID,
		"tenant_id", ep.TenantID,
		"events", ep.Events,
		"url", ep.URL,
	)
	return ep, nil
}

// Update applies patch to the endpoint. TenantID and ID never change. New
// event sets and activity only affect future emits.
func (r *Registry) Update(ctx context.Context, id string, patch Patch) (*Endpoint, error) {
	ep, err := r.store.GetEndpoint(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.URL != nil {
		if err := validateURL(*patch.URL); err != nil {
			return nil, err
		}
		ep.URL = *patch.URL
	}
	if patch.Events != nil {
		events, err := normalizeEvents(patch.Events)
		if err != nil {
			return nil, err
		}
		ep.Events = events
	}
	if patch.Secret != nil {
		if *patch.Secret == "" {
			return nil, fmt.Errorf("%w: secret cannot be empty", ErrValidation)
		}
		ep.Secret = *patch.Secret
	}
	if patch.Active != nil {
		ep.Active = *patch.Active
	}
	if patch.Headers != nil {
		ep.Headers = patch.Headers
	}
	if patch.RetryPolicy != nil {
		policy := patch.RetryPolicy.WithDefaults(r.defaultPolicy)
		if err := policy.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		ep.RetryPolicy = policy
	}
	if patch.Description != nil {
		ep.Description = *patch.Description
	}
	ep.UpdatedAt = r.now().UTC()

	if err := r.store.UpdateEndpoint(ctx, ep); err != nil {
		return nil, err
	}

	r.logger.Info("Endpoint updated", "endpoint_id", ep.ID, "active", ep.Active)
	return ep, nil
}

// Delete removes the endpoint. Jobs already in flight finish their attempt;
// scheduled ones are skipped when a worker next picks them up.
func (r *Registry) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := r.store.DeleteEndpoint(ctx, id)
	if err != nil {
		return false, err
	}
	if deleted {
		r.logger.Info("Endpoint deleted", "endpoint_id", id)
	}
	return deleted, nil
}

// Get returns the endpoint, or ErrNotFound.
func (r *Registry) Get(ctx context.Context, id string) (*Endpoint, error) {
	return r.store.GetEndpoint(ctx, id)
}

// ListByTenant returns all endpoints of a tenant, active or not.
func (r *Registry) ListByTenant(ctx context.Context, tenantID string) ([]*Endpoint, error) {
	return r.store.ListEndpointsByTenant(ctx, tenantID)
}

// Subscribed returns the active endpoints of tenantID subscribed to eventType.
func (r *Registry) Subscribed(ctx context.Context, tenantID, eventType string) ([]*Endpoint, error) {
	return r.store.ListSubscribedEndpoints(ctx, tenantID, eventType)
}

// GenerateSecret returns 256 bits of crypto/rand entropy, hex-encoded.
func GenerateSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: %w: url is required", ErrValidation, ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %w: %v", ErrValidation, ErrInvalidURL, err)
	}
	if !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: %w: scheme must be http or https", ErrValidation, ErrInvalidURL)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: %w: host is required", ErrValidation, ErrInvalidURL)
	}
	return nil
}

// normalizeEvents trims and de-duplicates event names, keeping first-seen order.
func normalizeEvents(events []string) ([]string, error) {
	out := make([]string, 0, len(events))
	seen := make(map[string]struct{}, len(events))
	for _, e := range events {
		e = strings.TrimSpace(e)
		if e == "" {
			return nil, fmt.Errorf("%w: event names cannot be empty", ErrValidation)
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrValidation, ErrNoEvents)
	}
	return out, nil
}
