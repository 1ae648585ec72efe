// Package webhook authenticates inbound provider callbacks.
package webhook

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strings"
)

// Sign returns the lowercase hex HMAC-SHA512 of payload keyed with secret.
func Sign(secret string, payload []byte) string {
	h := hmac.New(sha512.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Verifier checks signatures for a single shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier returns a Verifier for secret. An empty secret is a configuration error.
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: secret is required", ErrInvalidConfiguration)
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// Verify recomputes the HMAC over the exact raw bytes and compares it to the
// supplied hex signature in constant time.
func (v *Verifier) Verify(payload []byte, signature string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return ErrMissingSignature
	}

	got, err := hex.DecodeString(strings.ToLower(signature))
	if err != nil {
		return fmt.Errorf("%w: signature is not hex encoded", ErrInvalidSignature)
	}

	h := hmac.New(sha512.New, v.secret)
	h.Write(payload)
	if !hmac.Equal(h.Sum(nil), got) {
		return ErrInvalidSignature
	}
	return nil
}
