// Package signing holds the HMAC-SHA256 helpers shared by outgoing purchase
// events, the webhook receiver and provider redirect verification.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"
)

var (
	ErrMissingSignature = errors.New("missing signature")
	ErrBadSignature     = errors.New("signature mismatch")
	ErrStaleTimestamp   = errors.New("stale timestamp")
)

// DefaultSkew is the accepted clock difference for timestamped payloads.
const DefaultSkew = 5 * time.Minute

// Sign returns the hex HMAC-SHA256 of parts joined by sep.
func Sign(secret, sep string, parts ...[]byte) string {
	m := hmac.New(sha256.New, []byte(secret))
	for i, p := range parts {
		if i > 0 {
			m.Write([]byte(sep))
		}
		m.Write(p)
	}
	return hex.EncodeToString(m.Sum(nil))
}

// SignPayload signs "<ts>.<body>", the format used on purchase event webhooks.
func SignPayload(secret, ts string, body []byte) string {
	return Sign(secret, ".", []byte(ts), body)
}

// VerifyPayload checks a webhook signature and its timestamp window.
func VerifyPayload(secret, ts, sig string, body []byte, now time.Time, skew time.Duration) error {
	if secret == "" || ts == "" || sig == "" {
		return ErrMissingSignature
	}
	tsInt, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrStaleTimestamp
	}
	if skew <= 0 {
		skew = DefaultSkew
	}
	sec := int64(skew / time.Second)
	if tsInt < now.Unix()-sec || tsInt > now.Unix()+sec {
		return ErrStaleTimestamp
	}
	if !Equal(SignPayload(secret, ts, body), sig) {
		return ErrBadSignature
	}
	return nil
}

// Equal compares two hex signatures in constant time.
func Equal(expected, got string) bool {
	return hmac.Equal([]byte(expected), []byte(got))
}
