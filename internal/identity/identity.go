// Package identity resolves the caller of an inbound HTTP request to a
// tenant or to the admin principal. Tenant auth is a bearer API key, not a
// user/password login; keys are stored as an unsalted sha256 digest rather
// than a bcrypt hash. The key itself is whatever the operator supplies at
// bootstrap (at least 8 characters), so its strength depends on that choice
// (the teacher's clients_portal/shared/security bcrypt+JWT stack is for
// human portal logins and doesn't fit this shape, see DESIGN.md).
package identity

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/relaymux/mux/internal/persistence"
	"github.com/relaymux/mux/internal/platform/apierr"
)

// HashAPIKey returns the hex sha256 digest of a raw API key, the form stored
// in tenants.api_key_hash and compared against on every request.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Resolver looks up the tenant behind a request's Authorization header.
type Resolver struct {
	db *persistence.DB
}

func NewResolver(db *persistence.DB) *Resolver {
	return &Resolver{db: db}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	tok := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if tok == "" {
		return "", false
	}
	return tok, true
}

// ResolveTenant maps an Authorization header to its owning tenant. Every
// mux endpoint under /v1/tenant and /v1/mux requires this (§6).
func (r *Resolver) ResolveTenant(ctx context.Context, authHeader string) (persistence.Tenant, error) {
	raw, ok := bearerToken(authHeader)
	if !ok {
		return persistence.Tenant{}, apierr.Unauthorized("missing or malformed Authorization header")
	}
	tenant, err := r.db.TenantByAPIKeyHash(ctx, HashAPIKey(raw))
	if err != nil {
		if err == persistence.ErrNotFound {
			return persistence.Tenant{}, apierr.Unauthorized("unknown or inactive API key")
		}
		return persistence.Tenant{}, err
	}
	return tenant, nil
}

// IsAdmin does a constant-time compare of the Authorization bearer token
// against the configured admin token, guarding /v1/admin/* (§6).
func IsAdmin(authHeader, adminToken string) bool {
	if adminToken == "" {
		return false
	}
	raw, ok := bearerToken(authHeader)
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(raw), []byte(adminToken)) == 1
}
