package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sarathsp06/courier/internal/retry"
	"github.com/sarathsp06/courier/internal/webhooks"
)

// Postgres is a webhooks.Store backed by PostgreSQL. Claims use
// FOR UPDATE SKIP LOCKED so several worker processes can share one database.
type Postgres struct {
	db *pgxpool.Pool
}

var _ webhooks.Store = (*Postgres)(nil)

// NewPostgres wraps an existing pool. The schema comes from Migrations.
func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

// Connect creates a pool for databaseURL and verifies the connection.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return pool, nil
}

const endpointColumns = `id, tenant_id, url, events, secret, active, headers,
	max_retries, initial_backoff_ms, backoff_multiplier, max_backoff_ms,
	description, created_at, updated_at`

const jobColumns = `id, endpoint_id, event_id, tenant_id, event_type, url, attempt, state,
	next_retry_at, last_http_status, last_error, claim_token, claimed_at,
	created_at, updated_at, completed_at`

func (p *Postgres) CreateEndpoint(ctx context.Context, ep *webhooks.Endpoint) error {
	eventsJSON, headersJSON, err := marshalEndpointJSON(ep)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO webhook_endpoints (` + endpointColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = p.db.Exec(ctx, query,
		ep.ID,
		ep.TenantID,
		ep.URL,
		eventsJSON,
		ep.Secret,
		ep.Active,
		headersJSON,
		ep.RetryPolicy.MaxRetries,
		ep.RetryPolicy.InitialBackoff.Milliseconds(),
		ep.RetryPolicy.BackoffMultiplier,
		ep.RetryPolicy.MaxBackoff.Milliseconds(),
		ep.Description,
		ep.CreatedAt,
		ep.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert endpoint: %w", err)
	}
	return nil
}

// UpdateEndpoint never writes tenant_id or created_at.
func (p *Postgres) UpdateEndpoint(ctx context.Context, ep *webhooks.Endpoint) error {
	eventsJSON, headersJSON, err := marshalEndpointJSON(ep)
	if err != nil {
		return err
	}

	query := `
		UPDATE webhook_endpoints
		SET url = $2, events = $3, secret = $4, active = $5, headers = $6,
		    max_retries = $7, initial_backoff_ms = $8, backoff_multiplier = $9,
		    max_backoff_ms = $10, description = $11, updated_at = $12
		WHERE id = $1
	`
	tag, err := p.db.Exec(ctx, query,
		ep.ID,
		ep.URL,
		eventsJSON,
		ep.Secret,
		ep.Active,
		headersJSON,
		ep.RetryPolicy.MaxRetries,
		ep.RetryPolicy.InitialBackoff.Milliseconds(),
		ep.RetryPolicy.BackoffMultiplier,
		ep.RetryPolicy.MaxBackoff.Milliseconds(),
		ep.Description,
		ep.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update endpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return webhooks.ErrNotFound
	}
	return nil
}

func (p *Postgres) DeleteEndpoint(ctx context.Context, id string) (bool, error) {
	tag, err := p.db.Exec(ctx, `DELETE FROM webhook_endpoints WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete endpoint: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) GetEndpoint(ctx context.Context, id string) (*webhooks.Endpoint, error) {
	query := `SELECT ` + endpointColumns + ` FROM webhook_endpoints WHERE id = $1`
	ep, err := scanEndpoint(p.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, webhooks.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get endpoint: %w", err)
	}
	return ep, nil
}

func (p *Postgres) ListEndpointsByTenant(ctx context.Context, tenantID string) ([]*webhooks.Endpoint, error) {
	query := `
		SELECT ` + endpointColumns + `
		FROM webhook_endpoints
		WHERE tenant_id = $1
		ORDER BY created_at, id
	`
	return p.queryEndpoints(ctx, query, tenantID)
}

func (p *Postgres) ListSubscribedEndpoints(ctx context.Context, tenantID, eventType string) ([]*webhooks.Endpoint, error) {
	query := `
		SELECT ` + endpointColumns + `
		FROM webhook_endpoints
		WHERE tenant_id = $1 AND active = true AND events ? $2
		ORDER BY created_at, id
	`
	return p.queryEndpoints(ctx, query, tenantID, eventType)
}

func (p *Postgres) queryEndpoints(ctx context.Context, query string, args ...any) ([]*webhooks.Endpoint, error) {
	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []*webhooks.Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, rows.Err()
}

func (p *Postgres) CreateEvent(ctx context.Context, ev *webhooks.Event) error {
	query := `
		INSERT INTO webhook_events (id, type, tenant_id, payload, timestamp, schema_version)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := p.db.Exec(ctx, query,
		ev.ID,
		ev.Type,
		ev.TenantID,
		[]byte(ev.Payload),
		ev.Timestamp,
		ev.SchemaVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

func (p *Postgres) GetEvent(ctx context.Context, id string) (*webhooks.Event, error) {
	query := `
		SELECT id, type, tenant_id, payload, timestamp, schema_version
		FROM webhook_events WHERE id = $1
	`
	var ev webhooks.Event
	var payload []byte
	err := p.db.QueryRow(ctx, query, id).Scan(
		&ev.ID,
		&ev.Type,
		&ev.TenantID,
		&payload,
		&ev.Timestamp,
		&ev.SchemaVersion,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, webhooks.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	ev.Payload = json.RawMessage(payload)
	return &ev, nil
}

// CreateJobs inserts all jobs in one batch so an emit either records every
// fan-out job or none.
func (p *Postgres) CreateJobs(ctx context.Context, jobs []*webhooks.DeliveryJob) error {
	if len(jobs) == 0 {
		return nil
	}

	query := `
		INSERT INTO delivery_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	return pgx.BeginFunc(ctx, p.db, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, j := range jobs {
			batch.Queue(query,
				j.ID,
				j.EndpointID,
				j.EventID,
				j.TenantID,
				j.EventType,
				j.URL,
				j.Attempt,
				string(j.State),
				j.NextRetryAt,
				j.LastHTTPStatus,
				j.LastError,
				j.ClaimToken,
				j.ClaimedAt,
				j.CreatedAt,
				j.UpdatedAt,
				j.CompletedAt,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert delivery jobs: %w", err)
		}
		return nil
	})
}

func (p *Postgres) GetJob(ctx context.Context, id string) (*webhooks.DeliveryJob, error) {
	query := `SELECT ` + jobColumns + ` FROM delivery_jobs WHERE id = $1`
	job, err := scanJob(p.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, webhooks.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get delivery job: %w", err)
	}
	return job, nil
}

func (p *Postgres) ListJobsByEndpoint(ctx context.Context, endpointID string, opts webhooks.ListOptions) ([]*webhooks.DeliveryJob, error) {
	opts = opts.Normalize()
	query := `
		SELECT ` + jobColumns + `
		FROM delivery_jobs
		WHERE endpoint_id = $1 AND ($2 = '' OR state = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4
	`
	return p.queryJobs(ctx, query, endpointID, string(opts.State), opts.Limit, opts.Offset)
}

func (p *Postgres) ClaimReadyJob(ctx context.Context, now time.Time, token string) (*webhooks.DeliveryJob, error) {
	query := `
		UPDATE delivery_jobs
		SET state = 'in-flight', next_retry_at = NULL, claim_token = $2,
		    claimed_at = $1, updated_at = $1
		WHERE id = (
			SELECT id FROM delivery_jobs
			WHERE state = 'pending'
			   OR (state = 'retry-scheduled' AND next_retry_at <= $1)
			ORDER BY COALESCE(next_retry_at, created_at)
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	job, err := scanJob(p.db.QueryRow(ctx, query, now, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim delivery job: %w", err)
	}
	return job, nil
}

func (p *Postgres) FinishJob(ctx context.Context, job *webhooks.DeliveryJob) error {
	query := `
		UPDATE delivery_jobs
		SET state = $3, attempt = $4, next_retry_at = $5, last_http_status = $6,
		    last_error = $7, completed_at = $8, updated_at = $9,
		    claim_token = '', claimed_at = NULL
		WHERE id = $1 AND state = 'in-flight' AND claim_token = $2
	`
	tag, err := p.db.Exec(ctx, query,
		job.ID,
		job.ClaimToken,
		string(job.State),
		job.Attempt,
		job.NextRetryAt,
		job.LastHTTPStatus,
		job.LastError,
		job.CompletedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to finish delivery job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := p.GetJob(ctx, job.ID); err != nil {
			return err
		}
		return webhooks.ErrStateConflict
	}
	return nil
}

func (p *Postgres) RearmJob(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `
		UPDATE delivery_jobs
		SET state = 'retry-scheduled', next_retry_at = $2, completed_at = NULL, updated_at = $2
		WHERE id = $1 AND state IN ('dead-letter', 'retry-scheduled')
	`
	tag, err := p.db.Exec(ctx, query, id, now)
	if err != nil {
		return false, fmt.Errorf("failed to rearm delivery job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := p.GetJob(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (p *Postgres) ListStaleJobs(ctx context.Context, cutoff time.Time, limit int) ([]*webhooks.DeliveryJob, error) {
	if limit <= 0 {
		limit = webhooks.MaxListLimit
	}
	query := `
		SELECT ` + jobColumns + `
		FROM delivery_jobs
		WHERE state = 'in-flight' AND claimed_at < $1
		ORDER BY claimed_at
		LIMIT $2
	`
	return p.queryJobs(ctx, query, cutoff, limit)
}

func (p *Postgres) PruneJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM delivery_jobs
		WHERE state IN ('delivered', 'dead-letter') AND completed_at < $1
	`
	tag, err := p.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune delivery jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) queryJobs(ctx context.Context, query string, args ...any) ([]*webhooks.DeliveryJob, error) {
	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query delivery jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*webhooks.DeliveryJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func marshalEndpointJSON(ep *webhooks.Endpoint) (eventsJSON, headersJSON []byte, err error) {
	eventsJSON, err = json.Marshal(ep.Events)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal events: %w", err)
	}
	headers := ep.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	headersJSON, err = json.Marshal(headers)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal headers: %w", err)
	}
	return eventsJSON, headersJSON, nil
}

func scanEndpoint(row pgx.Row) (*webhooks.Endpoint, error) {
	var ep webhooks.Endpoint
	var eventsJSON, headersJSON []byte
	var initialMS, maxMS int64

	err := row.Scan(
		&ep.ID,
		&ep.TenantID,
		&ep.URL,
		&eventsJSON,
		&ep.Secret,
		&ep.Active,
		&headersJSON,
		&ep.RetryPolicy.MaxRetries,
		&initialMS,
		&ep.RetryPolicy.BackoffMultiplier,
		&maxMS,
		&ep.Description,
		&ep.CreatedAt,
		&ep.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(eventsJSON, &ep.Events); err != nil {
		return nil, fmt.Errorf("failed to unmarshal events: %w", err)
	}
	if err := json.Unmarshal(headersJSON, &ep.Headers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal headers: %w", err)
	}
	ep.RetryPolicy.InitialBackoff = time.Duration(initialMS) * time.Millisecond
	ep.RetryPolicy.MaxBackoff = time.Duration(maxMS) * time.Millisecond
	ep.RetryPolicy = ep.RetryPolicy.WithDefaults(retry.DefaultPolicy())
	return &ep, nil
}

func scanJob(row pgx.Row) (*webhooks.DeliveryJob, error) {
	var j webhooks.DeliveryJob
	var state string

	err := row.Scan(
		&j.ID,
		&j.EndpointID,
		&j.EventID,
		&j.TenantID,
		&j.EventType,
		&j.URL,
		&j.Attempt,
		&state,
		&j.NextRetryAt,
		&j.LastHTTPStatus,
		&j.LastError,
		&j.ClaimToken,
		&j.ClaimedAt,
		&j.CreatedAt,
		&j.UpdatedAt,
		&j.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	j.State = webhooks.DeliveryState(state)
	return &j, nil
}
