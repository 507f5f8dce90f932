// Package signature implements the HMAC-SHA256 scheme used to sign outbound
// webhook requests and to verify them on the receiving side.
//
// The signed message is "{timestamp}.{payload}" where timestamp is the unix
// time in seconds sent in the X-Webhook-Timestamp header. The result is
// hex-encoded and sent in X-Webhook-Signature.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Header names carried by every outbound delivery.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderTimestamp = "X-Webhook-Timestamp"
	HeaderEvent     = "X-Webhook-Event"
	HeaderID        = "X-Webhook-ID"
)

var (
	ErrSignatureMismatch = errors.New("webhook signature mismatch")
	ErrMissingHeaders    = errors.New("missing webhook signature headers")
	ErrStaleTimestamp    = errors.New("webhook timestamp outside tolerance")
)

// Sign returns the hex-encoded HMAC-SHA256 of "{timestamp}.{payload}" keyed by secret.
func Sign(payload []byte, secret string, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte{'.'})
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature and compares it in constant time.
func Verify(payload []byte, signature, secret string, timestamp int64) bool {
	expected := Sign(payload, secret, timestamp)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// VerifyRequest checks the signature headers of an inbound webhook request and
// returns the request body on success. A tolerance of zero disables the
// freshness check; otherwise timestamps further than tolerance from now are
// rejected with ErrStaleTimestamp.
func VerifyRequest(r *http.Request, secret string, tolerance time.Duration) ([]byte, error) {
	sig := r.Header.Get(HeaderSignature)
	rawTS := r.Header.Get(HeaderTimestamp)
	if sig == "" || rawTS == "" {
		return nil, ErrMissingHeaders
	}

	ts, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid timestamp %q", ErrMissingHeaders, rawTS)
	}

	if tolerance > 0 {
		age := time.Since(time.Unix(ts, 0))
		if age > tolerance || age < -tolerance {
			return nil, fmt.Errorf("%w: age %s", ErrStaleTimestamp, age.Truncate(time.Second))
		}
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}

	if !Verify(body, sig, secret, ts) {
		return nil, ErrSignatureMismatch
	}
	return body, nil
}
