package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/sarathsp06/courier/internal/signature"
	"github.com/sarathsp06/courier/internal/webhooks"
)

// DefaultTimeout bounds a single delivery attempt.
const DefaultTimeout = 30 * time.Second

// maxDrainBytes is how much of a response body is read so the connection can
// be reused. Bodies are never stored.
const maxDrainBytes = 64 << 10

// SenderConfig configures outbound delivery.
type SenderConfig struct {
	Timeout   time.Duration
	UserAgent string
	// RateLimit caps outbound requests per second across all workers.
	// Zero disables limiting.
	RateLimit float64
	// Transport overrides the base round tripper, mainly for tests.
	Transport http.RoundTripper
}

// Sender performs signed webhook POSTs.
type Sender struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
	limiter   *rate.Limiter
	now       func() time.Time
}

// NewSender creates a sender with an otelhttp-instrumented client.
func NewSender(cfg SenderConfig) *Sender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	s := &Sender{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(base),
			// Redirects are reported as failures, never followed.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout:   cfg.Timeout,
		userAgent: cfg.UserAgent,
		now:       time.Now,
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return s
}

// Result is the outcome of one HTTP attempt.
type Result struct {
	StatusCode int
	Duration   time.Duration
	// Err is nil for 2xx responses and otherwise wraps
	// webhooks.ErrTransientDelivery or webhooks.ErrPermanentDelivery.
	Err error
}

// Delivered reports whether the receiver accepted the webhook.
func (r Result) Delivered() bool { return r.Err == nil }

// Permanent reports whether the failure is one retrying is unlikely to fix.
func (r Result) Permanent() bool { return errors.Is(r.Err, webhooks.ErrPermanentDelivery) }

// envelope is the JSON body receivers get.
type envelope struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// EncodeBody renders the request body for ev.
func EncodeBody(ev *webhooks.Event) ([]byte, error) {
	data := ev.Payload
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return json.Marshal(envelope{
		ID:        ev.ID,
		Event:     ev.Type,
		Data:      data,
		Timestamp: ev.Timestamp,
	})
}

// Wait blocks until the outbound rate limit admits one request. It returns
// immediately when no limit is configured.
func (s *Sender) Wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}

// Send waits for the rate limit, for no longer than the delivery timeout, and
// then makes one attempt with Post.
func (s *Sender) Send(ctx context.Context, ep *webhooks.Endpoint, url string, ev *webhooks.Event) Result {
	if s.limiter != nil {
		waitCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err := s.limiter.Wait(waitCtx)
		cancel()
		if err != nil {
			return Result{Err: fmt.Errorf("%w: rate limiter: %v", webhooks.ErrTransientDelivery, err)}
		}
	}
	return s.Post(ctx, ep, url, ev)
}

// Post makes one attempt without consulting the rate limit: it POSTs ev to
// url, signed with ep's secret. The signature covers the exact body bytes and
// the send-time unix timestamp. The client timeout bounds the whole call.
func (s *Sender) Post(ctx context.Context, ep *webhooks.Endpoint, url string, ev *webhooks.Event) Result {
	body, err := EncodeBody(ev)
	if err != nil {
		return Result{Err: fmt.Errorf("%w: encode body: %v", webhooks.ErrPermanentDelivery, err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{Err: fmt.Errorf("%w: failed to create request: %v", webhooks.ErrPermanentDelivery, err)}
	}

	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	for key, value := range ep.Headers {
		if reservedHeader(key) {
			continue
		}
		req.Header.Set(key, value)
	}

	ts := s.now().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signature.HeaderSignature, signature.Sign(body, ep.Secret, ts))
	req.Header.Set(signature.HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(signature.HeaderEvent, ev.Type)
	req.Header.Set(signature.HeaderID, ev.ID)

	start := time.Now()
	resp, err := s.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		return Result{Duration: duration, Err: fmt.Errorf("%w: request failed: %v", webhooks.ErrTransientDelivery, err)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

	return Result{
		StatusCode: resp.StatusCode,
		Duration:   duration,
		Err:        classify(resp.StatusCode, resp.Status),
	}
}

// classify maps a response status to nil, transient or permanent.
func classify(code int, status string) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code >= 500,
		code == http.StatusRequestTimeout,
		code == http.StatusTooEarly,
		code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP %d: %s", webhooks.ErrTransientDelivery, code, status)
	default:
		return fmt.Errorf("%w: HTTP %d: %s", webhooks.ErrPermanentDelivery, code, status)
	}
}

// reservedHeader reports whether an endpoint header would clobber one the
// sender owns.
func reservedHeader(key string) bool {
	k := http.CanonicalHeaderKey(strings.TrimSpace(key))
	return k == "Content-Type" || strings.HasPrefix(k, "X-Webhook-")
}

// describe renders a failed result for DeliveryJob.LastError.
func describe(r Result) string {
	msg := r.Err.Error()
	for _, sentinel := range []error{webhooks.ErrTransientDelivery, webhooks.ErrPermanentDelivery} {
		msg = strings.TrimPrefix(msg, sentinel.Error()+": ")
	}
	if r.Permanent() {
		return "permanent: " + msg
	}
	return msg
}
