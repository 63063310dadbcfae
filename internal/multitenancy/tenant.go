// Package multitenancy carries tenant identity through request contexts and
// authenticates tenants by API key.
package multitenancy

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/intentgate/backend/internal/apperrors"
)

type contextKey string

const (
	tenantKey contextKey = "tenant_id"
	userKey   contextKey = "user_id"
)

// WithTenant attaches the tenant ID to the context.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey, tenantID)
}

// TenantFrom extracts the tenant ID set by the auth middleware.
func TenantFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(tenantKey).(string)
	return id, ok && id != ""
}

// WithUser attaches the acting user ID to the context.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey, userID)
}

// UserFrom extracts the acting user ID, if any.
func UserFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userKey).(string)
	return id, ok && id != ""
}

// ============================================================================
// API KEY AUTHENTICATION
// ============================================================================

// Keys have the format ig_<tenant_id>.<secret>; only a bcrypt hash of the
// secret is configured server-side.
const keyPrefix = "ig_"

// Authenticator validates API keys against configured per-tenant hashes.
type Authenticator struct {
	hashes map[string]string
}

// NewAuthenticator builds an authenticator from tenant-to-hash config.
func NewAuthenticator(hashes map[string]string) *Authenticator {
	if hashes == nil {
		hashes = map[string]string{}
	}
	return &Authenticator{hashes: hashes}
}

// Enabled reports whether any keys are configured. With none, callers may
// fall back to header-trusted tenancy for local development.
func (a *Authenticator) Enabled() bool {
	return len(a.hashes) > 0
}

// Authenticate parses and verifies a full API key, returning the tenant ID.
func (a *Authenticator) Authenticate(fullKey string) (string, error) {
	if !strings.HasPrefix(fullKey, keyPrefix) {
		return "", apperrors.New(apperrors.KindValidation, "invalid API key format")
	}
	parts := strings.SplitN(strings.TrimPrefix(fullKey, keyPrefix), ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", apperrors.New(apperrors.KindValidation, "invalid API key format")
	}
	tenantID, secret := parts[0], parts[1]

	hash, ok := a.hashes[tenantID]
	if !ok {
		return "", apperrors.New(apperrors.KindNotFound, "unknown tenant")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		return "", apperrors.New(apperrors.KindValidation, "invalid API key")
	}
	return tenantID, nil
}

// GenerateKey mints a new API key for a tenant and returns the full key plus
// the bcrypt hash to configure. The secret is never stored.
func GenerateKey(tenantID string) (fullKey, hash string, err error) {
	secretBytes := make([]byte, 24)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", "", err
	}
	secret := hex.EncodeToString(secretBytes)

	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", err
	}
	return fmt.Sprintf("%s%s.%s", keyPrefix, tenantID, secret), string(hashed), nil
}
