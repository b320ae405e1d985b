package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// Outbound request headers.
const (
	HeaderSignature = "X-Agentgate-Signature"
	HeaderEvent     = "X-Agentgate-Event"
	HeaderDelivery  = "X-Agentgate-Delivery"

	signaturePrefix = "sha256="
)

var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Sign returns the HMAC-SHA256 of body keyed by secret, formatted as
// sha256=<hex>.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header value against body. Receivers use it to
// authenticate deliveries; the comparison is constant time.
func Verify(secret string, body []byte, provided string) error {
	provided = strings.TrimSpace(provided)
	if provided == "" {
		return ErrMissingSignature
	}
	if !strings.HasPrefix(provided, signaturePrefix) {
		return ErrInvalidSignature
	}
	expected := Sign(secret, body)
	if !hmac.Equal([]byte(provided), []byte(expected)) {
		return ErrInvalidSignature
	}
	return nil
}
