package signature_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarathsp06/courier/internal/signature"
)

func TestSignKnownVector(t *testing.T) {
	t.Parallel()

	got := signature.Sign([]byte(`{"a":1}`), "s3cr3t", 1700000000)
	assert.Equal(t, "8dbbbbf4523b10bbb793e74d854144c45acccc2d233667b1c06b805b6ded8a84", got)
}

func TestVerify(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"id":"evt_1","event":"order.created","data":{"total":42}}`)
	secret := "whsec_test"
	ts := int64(1700000123)
	sig := signature.Sign(payload, secret, ts)

	tampered := bytes.Clone(payload)
	tampered[10] ^= 0x01

	tests := []struct {
		name      string
		payload   []byte
		signature string
		secret    string
		timestamp int64
		want      bool
	}{
		{name: "valid", payload: payload, signature: sig, secret: secret, timestamp: ts, want: true},
		{name: "payload byte changed", payload: tampered, signature: sig, secret: secret, timestamp: ts},
		{name: "secret changed", payload: payload, signature: sig, secret: "whsec_tesT", timestamp: ts},
		{name: "timestamp changed", payload: payload, signature: sig, secret: secret, timestamp: ts + 1},
		{name: "truncated signature", payload: payload, signature: sig[:len(sig)-1], secret: secret, timestamp: ts},
		{name: "empty signature", payload: payload, signature: "", secret: secret, timestamp: ts},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, signature.Verify(tt.payload, tt.signature, tt.secret, tt.timestamp))
		})
	}
}

func TestVerifyRoundTripAcrossInputs(t *testing.T) {
	t.Parallel()

	payloads := [][]byte{nil, []byte("x"), []byte(`{"nested":{"k":[1,2,3]}}`), bytes.Repeat([]byte("a"), 4096)}
	secrets := []string{"", "k", "a much longer secret with spaces"}
	stamps := []int64{0, 1, 1700000000, -5}

	for _, p := range payloads {
		for _, s := range secrets {
			for _, ts := range stamps {
				require.True(t, signature.Verify(p, signature.Sign(p, s, ts), s, ts))
			}
		}
	}
}

func newSignedRequest(t *testing.T, body []byte, secret string, ts int64) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/hook", bytes.NewReader(body))
	req.Header.Set(signature.HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(signature.HeaderSignature, signature.Sign(body, secret, ts))
	return req
}

func TestVerifyRequest(t *testing.T) {
	t.Parallel()

	body := []byte(`{"id":"evt_1"}`)
	now := time.Now().Unix()

	t.Run("valid request returns body", func(t *testing.T) {
		t.Parallel()
		got, err := signature.VerifyRequest(newSignedRequest(t, body, "secret", now), "secret", 5*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, body, got)
	})

	t.Run("wrong secret", func(t *testing.T) {
		t.Parallel()
		_, err := signature.VerifyRequest(newSignedRequest(t, body, "secret", now), "other", 0)
		assert.ErrorIs(t, err, signature.ErrSignatureMismatch)
	})

	t.Run("stale timestamp", func(t *testing.T) {
		t.Parallel()
		old := time.Now().Add(-time.Hour).Unix()
		_, err := signature.VerifyRequest(newSignedRequest(t, body, "secret", old), "secret", 5*time.Minute)
		assert.ErrorIs(t, err, signature.ErrStaleTimestamp)
	})

	t.Run("stale timestamp accepted without tolerance", func(t *testing.T) {
		t.Parallel()
		old := time.Now().Add(-time.Hour).Unix()
		_, err := signature.VerifyRequest(newSignedRequest(t, body, "secret", old), "secret", 0)
		assert.NoError(t, err)
	})

	t.Run("missing headers", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodPost, "/hook", bytes.NewReader(body))
		_, err := signature.VerifyRequest(req, "secret", 0)
		assert.ErrorIs(t, err, signature.ErrMissingHeaders)
	})

	t.Run("malformed timestamp", func(t *testing.T) {
		t.Parallel()
		req := newSignedRequest(t, body, "secret", now)
		req.Header.Set(signature.HeaderTimestamp, "yesterday")
		_, err := signature.VerifyRequest(req, "secret", 0)
		assert.ErrorIs(t, err, signature.ErrMissingHeaders)
	})
}
