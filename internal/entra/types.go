// Package entra implements interactive sign-in against the Microsoft
// identity platform and the token lifecycle around it: the two interactive
// grant flows (authorization code with PKCE over a loopback listener, and
// device-code polling), the composite-key token store over the encrypted
// cache, the silent-refresh / interaction-required decision logic, and the
// materialization of durable Account records from verified claims.
package entra

import "time"

// Well-known pseudo-tenants accepted by the authority in place of a
// directory GUID.
var (
	CommonTenant = Tenant{ID: "common", DisplayName: "common"}

	OrganizationsTenant = Tenant{ID: "organizations", DisplayName: "organizations"}
)

// HomeCategory is the tenant category marking the account's home tenant.
// The home tenant is always ordered first in tenant lists handed to
// collaborators.
const HomeCategory = "Home"

// Tenant is a directory the signed-in identity belongs to.
type Tenant struct {
	ID             string `json:"id"`
	DisplayName    string `json:"displayName"`
	TenantCategory string `json:"tenantCategory,omitempty"`
}

// AccessToken is an opaque bearer token bound to an account. It is never
// parsed beyond this shape.
type AccessToken struct {
	// Key uniquely identifies the owning account.
	Key string `json:"key"`

	Token string `json:"token"`
}

// RefreshToken is an opaque refresh credential bound to an account. Some
// grants do not return one.
type RefreshToken struct {
	Key   string `json:"key"`
	Token string `json:"token"`
}

// Token is the full record produced by a successful exchange.
type Token struct {
	Key   string `json:"key"`
	Token string `json:"token"`

	// ExpiresOn is the expiry as epoch seconds. Zero means the provider
	// did not state an expiry, which is treated as immediately stale.
	ExpiresOn int64 `json:"expiresOn,omitempty"`

	TokenType string `json:"tokenType"`
	TenantID  string `json:"tenantId,omitempty"`

	// Resource is the resource kind this token was minted for.
	Resource string `json:"resource,omitempty"`
}

// Expiry returns the expiry as a time, zero when unstated.
func (t Token) Expiry() time.Time {
	if t.ExpiresOn == 0 {
		return time.Time{}
	}

	return time.Unix(t.ExpiresOn, 0)
}

// AccountKey uniquely identifies an account across providers.
type AccountKey struct {
	ProviderID     string `json:"providerId"`
	AccountID      string `json:"accountId"`
	AccountVersion string `json:"accountVersion,omitempty"`
}

// AccountProperties carries the tenant topology and classification of an
// account.
type AccountProperties struct {
	OwningTenant      Tenant   `json:"owningTenant"`
	Tenants           []Tenant `json:"tenants"`
	IsPersonalAccount bool     `json:"isPersonalAccount"`

	// AuthKind records which interactive flow created the account, so a
	// later re-auth uses the same interaction style.
	AuthKind FlowKind `json:"authKind"`
}

// Account is the durable record exposed to collaborators. It is built
// atomically from a completed token exchange, never piecewise.
type Account struct {
	Key         AccountKey        `json:"key"`
	DisplayName string            `json:"displayName"`
	Email       string            `json:"email,omitempty"`
	Properties  AccountProperties `json:"properties"`

	// IsStale flips when cached credentials can no longer be validated
	// and the user must sign in again.
	IsStale bool `json:"isStale"`

	// Delete marks the account for removal by the host.
	Delete bool `json:"delete,omitempty"`
}

// ExchangeResult is the flow-agnostic outcome of any successful grant:
// both interactive flows and the refresh-token exchange produce it, so
// downstream handling never cares which flow ran.
type ExchangeResult struct {
	AccessToken  AccessToken
	RefreshToken *RefreshToken
	Claims       *TokenClaims
	ExpiresOn    time.Time
	TokenType    string
}

// Token converts the result into a Token record for the given scope.
func (r *ExchangeResult) Token(resourceKind, tenantID string) Token {
	var expiresOn int64
	if !r.ExpiresOn.IsZero() {
		expiresOn = r.ExpiresOn.Unix()
	}

	return Token{
		Key:       r.AccessToken.Key,
		Token:     r.AccessToken.Token,
		ExpiresOn: expiresOn,
		TokenType: r.TokenType,
		TenantID:  tenantID,
		Resource:  resourceKind,
	}
}
