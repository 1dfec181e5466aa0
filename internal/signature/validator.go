// Package signature verifies webhook deliveries signed with the app secret
// (HMAC-SHA256, header form "sha256=<hex>").
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HeaderName is the request header carrying the delivery signature.
const HeaderName = "X-Hub-Signature-256"

const prefix = "sha256="

// Validate reports whether header is a valid signature of raw under secret.
// A missing prefix, an empty secret or a malformed hex digest all yield false.
func Validate(raw []byte, header, secret string) bool {
	if secret == "" || !strings.HasPrefix(header, prefix) {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}
	return hmac.Equal(got, digest(raw, secret))
}

// Compute returns the header value for raw signed with secret.
func Compute(raw []byte, secret string) string {
	return prefix + hex.EncodeToString(digest(raw, secret))
}

func digest(raw []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(raw)
	return mac.Sum(nil)
}
