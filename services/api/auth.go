package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"
)

// Reasons reported by AuthError.
const (
	ReasonMissingHeader     = "missing_or_invalid_header"
	ReasonInvalidCredential = "invalid_credential"
)

const bearerPrefix = "Bearer "

// AuthError describes why a request was refused by the AdminGate.
type AuthError struct {
	Reason string
	Status int
}

func (e *AuthError) Error() string {
	return "unauthorized: " + e.Reason
}

// AdminGate authorizes admin requests against a single shared bearer secret.
// A gate built from an empty secret authorizes everything.
type AdminGate struct {
	digest [sha256.Size]byte
	open   bool
}

// NewAdminGate returns a gate for secret. Surrounding whitespace is ignored.
func NewAdminGate(secret string) *AdminGate {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return &AdminGate{open: true}
	}
	return &AdminGate{digest: sha256.Sum256([]byte(secret))}
}

// Open reports whether the gate runs without a secret.
func (g *AdminGate) Open() bool {
	return g == nil || g.open
}

// Authorize checks the Authorization header value. It returns nil or an *AuthError.
func (g *AdminGate) Authorize(header string) error {
	if g.Open() {
		return nil
	}
	if !strings.HasPrefix(header, bearerPrefix) {
		return &AuthError{Reason: ReasonMissingHeader, Status: http.StatusUnauthorized}
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return &AuthError{Reason: ReasonMissingHeader, Status: http.StatusUnauthorized}
	}

	// Hashing first keeps the comparison length independent of the presented token.
	presented := sha256.Sum256([]byte(token))
	if subtle.ConstantTimeCompare(presented[:], g.digest[:]) != 1 {
		return &AuthError{Reason: ReasonInvalidCredential, Status: http.StatusUnauthorized}
	}
	return nil
}
