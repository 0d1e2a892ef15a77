package entra

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims is the decoded identity-token payload. It is used only to
// derive a stable user key and tenant ownership plus display fields —
// never for authorization decisions. The token signature is deliberately
// not verified here: the token was just received over TLS from the
// authority we asked, and nothing security-bearing hangs off these fields.
type TokenClaims struct {
	jwt.RegisteredClaims

	// TenantID is the directory the user signed in to (`tid`).
	TenantID string `json:"tid,omitempty"`

	// IdentityProvider records which IdP authenticated the subject
	// (`idp`); "live.com" marks a personal Microsoft account.
	IdentityProvider string `json:"idp,omitempty"`

	// ObjectID is the immutable user object ID within the tenant.
	ObjectID string `json:"oid,omitempty"`

	// HomeObjectID is the object ID in the user's home tenant, present
	// for guests.
	HomeObjectID string `json:"home_oid,omitempty"`

	PreferredUsername string `json:"preferred_username,omitempty"`
	Email             string `json:"email,omitempty"`
	Name              string `json:"name,omitempty"`

	// UniqueName is the v1.0 display identifier.
	UniqueName string `json:"unique_name,omitempty"`

	// Nonce echoes the value sent in the authorize request.
	Nonce string `json:"nonce,omitempty"`

	// Version is the id_token version ("1.0" or "2.0").
	Version string `json:"ver,omitempty"`
}

// DecodeTokenClaims extracts the claims from a raw JWT without verifying
// the signature.
func DecodeTokenClaims(raw string) (*TokenClaims, error) {
	claims := &TokenClaims{}

	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("entra: decoding token claims: %w", err)
	}

	return claims, nil
}

// UserKey derives the stable account identifier from the claims: the home
// object ID when present (guests), else the object ID, else the subject.
func (c *TokenClaims) UserKey() string {
	if c.HomeObjectID != "" {
		return c.HomeObjectID
	}

	if c.ObjectID != "" {
		return c.ObjectID
	}

	return c.Subject
}

// BestDisplayName returns the most human-readable name claim available.
func (c *TokenClaims) BestDisplayName() string {
	for _, candidate := range []string{c.Name, c.PreferredUsername, c.Email, c.UniqueName} {
		if candidate != "" {
			return candidate
		}
	}

	return c.UserKey()
}

// BestEmail returns the most email-like claim available, empty if none.
func (c *TokenClaims) BestEmail() string {
	for _, candidate := range []string{c.PreferredUsername, c.Email, c.UniqueName} {
		if candidate != "" {
			return candidate
		}
	}

	return ""
}
