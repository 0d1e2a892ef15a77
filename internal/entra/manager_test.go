package entra

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/entra-auth-go/internal/config"
)

// testAccount is a well-formed account whose id matches the oid in the
// mock provider's tokens.
func testAccount(kind FlowKind) *Account {
	return &Account{
		Key:         AccountKey{ProviderID: "azure_publicCloud", AccountID: "user-1"},
		DisplayName: "Test User",
		Properties: AccountProperties{
			OwningTenant: Tenant{ID: "tenant-1", DisplayName: "Tenant One", TenantCategory: HomeCategory},
			Tenants: []Tenant{
				{ID: "tenant-1", DisplayName: "Tenant One", TenantCategory: HomeCategory},
				{ID: "tenant-2", DisplayName: "Tenant Two"},
			},
			AuthKind: kind,
		},
	}
}

// newTestManager wires a manager over a plaintext store, the mock
// provider, and a static consent prompter.
func newTestManager(t *testing.T, srv *httptest.Server, prompter ConsentPrompter) (*Manager, *TokenStore) {
	t.Helper()

	holder := testHolder(t, srv.URL)
	store := newTestStore(t)

	flow := NewAuthCodeFlow(holder, srv.Client(), browserApproves(t, "auth-code-1"), testLogger())
	m := NewManager(holder, store, []Flow{flow}, prompter, srv.Client(), testLogger())

	return m, store
}

func seedEntry(t *testing.T, store *TokenStore, resource, tenant string, expiresIn time.Duration, withRefresh bool) {
	t.Helper()

	entry := StoredEntry{
		AccessToken: AccessToken{Key: "user-1", Token: "cached-access"},
		ExpiresOn:   time.Now().Add(expiresIn),
	}

	if withRefresh {
		entry.RefreshToken = &RefreshToken{Key: "user-1", Token: "cached-refresh"}
	}

	require.NoError(t, store.SetEntry("user-1", resource, tenant, entry))
}

func TestGetTokenSilentHit(t *testing.T) {
	srv := mockProvider(t, func(http.ResponseWriter, *http.Request) {
		t.Error("no network call expected for a fresh cached token")
	})

	m, store := newTestManager(t, srv, &staticPrompter{})
	seedEntry(t, store, "microsoft", "tenant-1", time.Hour, true)

	token, err := m.GetToken(context.Background(), testAccount(FlowAuthCode), "tenant-1", "microsoft")
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, "cached-access", token.Token)
}

func TestGetTokenCacheHitCarriesTokenType(t *testing.T) {
	srv := mockProvider(t, func(http.ResponseWriter, *http.Request) {
		t.Error("no network call expected for a fresh cached token")
	})

	m, store := newTestManager(t, srv, &staticPrompter{})

	require.NoError(t, store.SetEntry("user-1", "microsoft", "tenant-1", StoredEntry{
		AccessToken: AccessToken{Key: "user-1", Token: "cached-access"},
		ExpiresOn:   time.Now().Add(time.Hour),
		TokenType:   "PoP",
	}))

	token, err := m.GetToken(context.Background(), testAccount(FlowAuthCode), "tenant-1", "microsoft")
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, "PoP", token.TokenType)

	// Records written before the type was stored fall back to Bearer.
	seedEntry(t, store, "microsoft", "tenant-2", time.Hour, false)

	token, err = m.GetToken(context.Background(), testAccount(FlowAuthCode), "tenant-2", "microsoft")
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, "Bearer", token.TokenType)
}

func TestGetTokenInsideToleranceRefreshes(t *testing.T) {
	var sawRefresh bool

	srv := mockProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())

		if r.PostForm.Get("grant_type") == "refresh_token" {
			sawRefresh = true
			assert.Equal(t, "cached-refresh", r.PostForm.Get("refresh_token"))
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, tokenJSON(t, "user-1"))
	})

	m, store := newTestManager(t, srv, &staticPrompter{})

	// One minute left is inside the two-minute tolerance.
	seedEntry(t, store, "microsoft", "tenant-1", time.Minute, true)

	token, err := m.GetToken(context.Background(), testAccount(FlowAuthCode), "tenant-1", "microsoft")
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.True(t, sawRefresh)
	assert.Equal(t, "access-user-1", token.Token)

	// The refreshed credentials were persisted.
	entry, err := store.GetEntry("user-1", "microsoft", "tenant-1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "access-user-1", entry.AccessToken.Token)
	assert.False(t, entry.Expired(expiryTolerance))
}

func TestGetTokenBaseResourceFallback(t *testing.T) {
	var resources []string

	srv := mockProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		resources = append(resources, r.PostForm.Get("resource"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, tokenJSON(t, "user-1"))
	})

	m, store := newTestManager(t, srv, &staticPrompter{})

	// Nothing cached for arm, but the base resource holds a refresh token.
	seedEntry(t, store, "microsoft", "tenant-1", time.Hour, true)

	token, err := m.GetToken(context.Background(), testAccount(FlowAuthCode), "tenant-1", "arm")
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, "arm", token.Resource)

	// The exchange targeted the arm resource URI.
	require.Len(t, resources, 1)
	assert.Equal(t, srv.URL+"/arm/", resources[0])
}

func TestGetTokenUnknownTenant(t *testing.T) {
	srv := mockProvider(t, nil)
	m, _ := newTestManager(t, srv, &staticPrompter{})

	_, err := m.GetToken(context.Background(), testAccount(FlowAuthCode), "tenant-unheard-of", "microsoft")
	require.ErrorIs(t, err, ErrUnknownTenant)
}

func TestGetTokenTransportFailureIsNotInteraction(t *testing.T) {
	srv := mockProvider(t, nil)
	srv.Close()

	prompter := &staticPrompter{decision: ConsentApprove}
	m, store := newTestManager(t, srv, prompter)
	seedEntry(t, store, "microsoft", "tenant-1", time.Minute, true)

	_, err := m.GetToken(context.Background(), testAccount(FlowAuthCode), "tenant-1", "microsoft")
	require.Error(t, err)
	assert.False(t, IsInteractionRequired(err))
	assert.Zero(t, prompter.calls)
}

func TestGetTokenIgnoredTenantSkipsPrompt(t *testing.T) {
	srv := mockProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"error": "interaction_required", "error_description": "MFA required"}`)
	})

	prompter := &staticPrompter{decision: ConsentApprove}
	m, store := newTestManager(t, srv, prompter)
	seedEntry(t, store, "microsoft", "tenant-2", time.Minute, true)

	cfg := testConfig(t, srv.URL)
	cfg.IgnoreTenants = []string{"tenant-2"}
	require.NoError(t, m.Reload(cfg))

	account := testAccount(FlowAuthCode)

	token, err := m.GetToken(context.Background(), account, "tenant-2", "microsoft")
	require.NoError(t, err)
	assert.Nil(t, token)
	assert.Zero(t, prompter.calls)
	assert.True(t, account.IsStale)
}

func TestGetTokenConsentCancel(t *testing.T) {
	srv := mockProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"error": "interaction_required"}`)
	})

	prompter := &staticPrompter{decision: ConsentCancel}
	m, store := newTestManager(t, srv, prompter)
	seedEntry(t, store, "microsoft", "tenant-1", time.Minute, true)

	token, err := m.GetToken(context.Background(), testAccount(FlowAuthCode), "tenant-1", "microsoft")
	require.NoError(t, err)
	assert.Nil(t, token)
	assert.Equal(t, 1, prompter.calls)
}

func TestGetTokenConsentIgnorePersists(t *testing.T) {
	srv := mockProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"error": "interaction_required"}`)
	})

	prompter := &staticPrompter{decision: ConsentIgnoreTenant}
	m, store := newTestManager(t, srv, prompter)
	seedEntry(t, store, "microsoft", "tenant-2", time.Minute, true)

	token, err := m.GetToken(context.Background(), testAccount(FlowAuthCode), "tenant-2", "microsoft")
	require.NoError(t, err)
	assert.Nil(t, token)
	assert.Equal(t, 1, prompter.calls)

	// The ignore is durable in the configuration file and live in the
	// running process.
	onDisk, err := config.Load(m.holder.Path())
	require.NoError(t, err)
	assert.True(t, onDisk.IsTenantIgnored("tenant-2"))
	assert.True(t, m.holder.Config().IsTenantIgnored("tenant-2"))

	// A second request short-circuits without prompting.
	_, err = m.GetToken(context.Background(), testAccount(FlowAuthCode), "tenant-2", "microsoft")
	require.NoError(t, err)
	assert.Equal(t, 1, prompter.calls)
}

func TestGetTokenConsentApproveRunsInteractive(t *testing.T) {
	var sawGrants []string

	srv := mockProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		grant := r.PostForm.Get("grant_type")
		sawGrants = append(sawGrants, grant)

		w.Header().Set("Content-Type", "application/json")

		if grant == "refresh_token" {
			fmt.Fprint(w, `{"error": "interaction_required", "error_description": "AADSTS50076 MFA"}`)

			return
		}

		fmt.Fprint(w, tokenJSON(t, "user-1"))
	})

	prompter := &staticPrompter{decision: ConsentApprove}
	m, store := newTestManager(t, srv, prompter)
	seedEntry(t, store, "microsoft", "tenant-1", time.Minute, true)

	account := testAccount(FlowAuthCode)

	token, err := m.GetToken(context.Background(), account, "tenant-1", "microsoft")
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, "access-user-1", token.Token)
	assert.Equal(t, 1, prompter.calls)
	assert.False(t, account.IsStale)
	assert.Contains(t, sawGrants, "authorization_code")

	// The interactive result was persisted.
	entry, err := store.GetEntry("user-1", "microsoft", "tenant-1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "access-user-1", entry.AccessToken.Token)
}

func TestLoginMaterializesAccount(t *testing.T) {
	srv := mockProviderWithTenants(t, []string{"tenant-1", "tenant-2"})

	m, store := newTestManager(t, srv, &staticPrompter{})

	account, err := m.Login(context.Background(), FlowAuthCode)
	require.NoError(t, err)

	assert.Equal(t, "user-1", account.Key.AccountID)
	assert.Equal(t, "azure_publicCloud", account.Key.ProviderID)
	assert.Equal(t, FlowAuthCode, account.Properties.AuthKind)
	require.Len(t, account.Properties.Tenants, 2)

	// Home tenant first.
	assert.Equal(t, "tenant-1", account.Properties.Tenants[0].ID)
	assert.Equal(t, HomeCategory, account.Properties.Tenants[0].TenantCategory)

	// Credentials landed under the base resource against common.
	entry, err := store.GetEntry("user-1", "microsoft", "common")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "access-user-1", entry.AccessToken.Token)
}

func TestGetTokenAfterLoginIsSilent(t *testing.T) {
	srv := mockProviderWithTenants(t, []string{"tenant-1", "tenant-2"})

	prompter := &staticPrompter{decision: ConsentApprove}
	m, store := newTestManager(t, srv, prompter)

	account, err := m.Login(context.Background(), FlowAuthCode)
	require.NoError(t, err)

	// Nothing is cached under the owning tenant yet. The sign-in
	// credential stored against the common authority must serve the
	// request silently, without another prompt.
	token, err := m.GetToken(context.Background(), account, "", "arm")
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, "access-user-1", token.Token)
	assert.Equal(t, "arm", token.Resource)
	assert.Zero(t, prompter.calls)
	assert.False(t, account.IsStale)

	// The exchange result landed under the owning tenant for next time.
	entry, err := store.GetEntry("user-1", "arm", "tenant-1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "access-user-1", entry.AccessToken.Token)
}

func TestClearCredentialsIsTotal(t *testing.T) {
	srv := mockProvider(t, nil)
	m, store := newTestManager(t, srv, &staticPrompter{})

	seedEntry(t, store, "microsoft", "tenant-1", time.Hour, true)
	seedEntry(t, store, "arm", "tenant-2", time.Hour, true)

	require.NoError(t, m.ClearCredentials(testAccount(FlowAuthCode)))

	for _, scope := range []struct{ resource, tenant string }{
		{"microsoft", "tenant-1"},
		{"arm", "tenant-2"},
	} {
		entry, err := store.GetEntry("user-1", scope.resource, scope.tenant)
		require.NoError(t, err)
		assert.Nil(t, entry)
	}
}

func TestRefreshAccountRebuildsRecord(t *testing.T) {
	srv := mockProviderWithTenants(t, []string{"tenant-1"})
	m, store := newTestManager(t, srv, &staticPrompter{})

	seedEntry(t, store, "microsoft", "common", time.Minute, true)

	account := testAccount(FlowAuthCode)
	account.DisplayName = "Outdated Name"

	require.NoError(t, m.RefreshAccount(context.Background(), account))

	assert.False(t, account.IsStale)
	assert.Equal(t, "Test User", account.DisplayName)
	assert.Equal(t, FlowAuthCode, account.Properties.AuthKind)
}

func TestRefreshAccountWithoutRefreshTokenGoesStale(t *testing.T) {
	srv := mockProvider(t, nil)
	m, _ := newTestManager(t, srv, &staticPrompter{})

	account := testAccount(FlowAuthCode)

	require.NoError(t, m.RefreshAccount(context.Background(), account))
	assert.True(t, account.IsStale)
}

func TestRefreshAccountInteractionRequiredGoesStale(t *testing.T) {
	srv := mockProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"error": "interaction_required"}`)
	})

	m, store := newTestManager(t, srv, &staticPrompter{})
	seedEntry(t, store, "microsoft", "common", time.Minute, true)

	account := testAccount(FlowAuthCode)

	require.NoError(t, m.RefreshAccount(context.Background(), account))
	assert.True(t, account.IsStale)
}

func TestReloadRejectsInvalidConfig(t *testing.T) {
	srv := mockProvider(t, nil)
	m, _ := newTestManager(t, srv, &staticPrompter{})

	bad := testConfig(t, srv.URL)
	bad.Provider.Host = "missing-trailing-slash"

	require.Error(t, m.Reload(bad))
}

// mockProviderWithTenants extends the mock provider with the management
// tenant list endpoint.
func mockProviderWithTenants(t *testing.T, tenantIDs []string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("POST /{tenant}/oauth2/token", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, tokenJSON(t, "user-1"))
	})

	mux.HandleFunc("GET /arm/tenants", func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.Header.Get("Authorization"), "Bearer ")
		require.Equal(t, tenantsAPIVersion, r.URL.Query().Get("api-version"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"value": [`)

		for i, id := range tenantIDs {
			if i > 0 {
				fmt.Fprint(w, ",")
			}

			fmt.Fprintf(w, `{"tenantId": %q, "displayName": "Tenant %s"}`, id, id)
		}

		fmt.Fprint(w, `]}`)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv
}
