package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

const bearerPrefix = "bearer "

// CredentialExtractor reads the bearer credential from an inbound request.
// The cookie is consulted first, then the header.
type CredentialExtractor struct {
	Cookie string
	Header string
}

// Extract returns the credential, or "" when the request carries none.
func (e CredentialExtractor) Extract(r *http.Request) string {
	if e.Cookie != "" {
		if c, err := r.Cookie(e.Cookie); err == nil && c.Value != "" {
			return c.Value
		}
	}

	if e.Header == "" {
		return ""
	}
	v := strings.TrimSpace(r.Header.Get(e.Header))
	if len(v) > len(bearerPrefix) && strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(v[len(bearerPrefix):])
	}
	return ""
}

// Fingerprint returns a short digest of credential that is safe to log.
func Fingerprint(credential string) string {
	if credential == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:6])
}
