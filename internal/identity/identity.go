// Package identity turns the identity provider's token into the principal
// the rest of the sync layer compares against.
package identity

import (
	"fmt"
	"time"

	"jerosync/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the authenticated principal of a session.
type Identity struct {
	Principal string
	Token     string
	ExpiresAt time.Time
}

// FromToken reads the principal and expiry out of a JWT. The signature is
// not checked here; the backend verifies it on every call.
func FromToken(token string) (*Identity, error) {
	if token == "" {
		return nil, fmt.Errorf("identity token is empty")
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("failed to parse identity token: %w", err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("identity token has no subject")
	}

	id := &Identity{
		Principal: claims.Subject,
		Token:     token,
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

// Canonical returns the principal in the form used for comparisons.
func (i *Identity) Canonical() string {
	return models.CanonicalID(i.Principal)
}

// Is reports whether principal refers to this identity.
func (i *Identity) Is(principal string) bool {
	return models.SamePrincipal(i.Principal, principal)
}

// Expired reports whether the token is past its expiry. Tokens without an
// expiry never expire.
func (i *Identity) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

// TimeLeft is how long until the token expires, or zero if it has no expiry.
func (i *Identity) TimeLeft(now time.Time) time.Duration {
	if i.ExpiresAt.IsZero() {
		return 0
	}
	if left := i.ExpiresAt.Sub(now); left > 0 {
		return left
	}
	return 0
}
