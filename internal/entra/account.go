package entra

import (
	"sort"
	"strings"
)

// corpTenantID is Microsoft's own directory. Accounts homed there get
// their display name suffixed so employees can tell corp identities apart
// from test tenants with lookalike names.
const corpTenantID = "72f988bf-86f1-41af-91ab-2d7cd011db47"

// personalIdP marks a consumer Microsoft account in the idp claim.
const personalIdP = "live.com"

// BuildAccount materializes a durable account record from verified sign-in
// claims and the fetched tenant list. It is idempotent: the same claims and
// tenants always produce the same record, so re-running it after a refresh
// is safe.
func BuildAccount(providerID string, kind FlowKind, claims *TokenClaims, tenants []Tenant) Account {
	key := AccountKey{
		ProviderID: providerID,
		AccountID:  claims.UserKey(),
	}

	owning := owningTenant(claims, tenants)
	personal := isPersonalAccount(claims)

	displayName := claims.BestDisplayName()
	if owning.ID == corpTenantID {
		displayName += " - MSFT"
	}

	return Account{
		Key:         key,
		DisplayName: displayName,
		Email:       claims.BestEmail(),
		Properties: AccountProperties{
			OwningTenant:      owning,
			Tenants:           SortTenantsHomeFirst(tenants),
			IsPersonalAccount: personal,
			AuthKind:          kind,
		},
	}
}

// owningTenant resolves the account's home directory: the tenant from the
// tid claim when it appears in the fetched list, else a synthetic tenant
// from the claim alone, else the common pseudo-tenant.
func owningTenant(claims *TokenClaims, tenants []Tenant) Tenant {
	if claims.TenantID == "" {
		return CommonTenant
	}

	for _, t := range tenants {
		if t.ID == claims.TenantID {
			return t
		}
	}

	return Tenant{ID: claims.TenantID, DisplayName: claims.TenantID}
}

// isPersonalAccount classifies consumer accounts by issuer and idp claim.
func isPersonalAccount(claims *TokenClaims) bool {
	if strings.Contains(claims.IdentityProvider, personalIdP) {
		return true
	}

	return strings.Contains(claims.Issuer, personalIdP)
}

// SortTenantsHomeFirst orders the home tenant ahead of the rest, leaving
// the remaining order as the directory returned it.
func SortTenantsHomeFirst(tenants []Tenant) []Tenant {
	out := make([]Tenant, len(tenants))
	copy(out, tenants)

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TenantCategory == HomeCategory && out[j].TenantCategory != HomeCategory
	})

	return out
}
