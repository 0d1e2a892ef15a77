package entra

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpointURLs(t *testing.T) {
	ep := endpoints{host: "https://login.example.com/"}

	assert.Equal(t, "https://login.example.com/common/oauth2/authorize", ep.authorizeURL("common"))
	assert.Equal(t, "https://login.example.com/tenant-1/oauth2/token", ep.tokenURL("tenant-1"))
	assert.Equal(t, "https://login.example.com/common/oauth2/devicecode", ep.deviceCodeURL("common"))
}

func TestEpochStringAcceptsBothEncodings(t *testing.T) {
	var tr tokenResponse

	require.NoError(t, json.Unmarshal([]byte(`{"expires_in": "3600", "expires_on": 1700000000}`), &tr))
	assert.Equal(t, int64(3600), tr.ExpiresIn.int64())
	assert.Equal(t, int64(1700000000), tr.ExpiresOn.int64())
}

func TestClassifyInteractionCodes(t *testing.T) {
	for _, code := range []string{
		"interaction_required",
		"AADSTS50078",
		"AADSTS50085",
	} {
		tr := &tokenResponse{Error: "invalid_grant", ErrorDescription: code + ": do something"}
		if code == "interaction_required" {
			tr = &tokenResponse{Error: code}
		}

		err := tr.classify()
		assert.True(t, IsInteractionRequired(err), "code %s", code)
	}

	hard := &tokenResponse{Error: "invalid_client", ErrorDescription: "bad client"}
	err := hard.classify()
	require.Error(t, err)
	assert.False(t, IsInteractionRequired(err))
}

func TestResultRequiresAccessToken(t *testing.T) {
	tr := &tokenResponse{TokenType: "Bearer"}

	_, err := tr.result()
	require.Error(t, err)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestResultPrefersExpiresOn(t *testing.T) {
	tr := &tokenResponse{
		ExpiresOn: "1700000000",
		ExpiresIn: "3600",
	}

	assert.Equal(t, time.Unix(1700000000, 0), tr.expiry())

	relative := &tokenResponse{ExpiresIn: "60"}
	assert.WithinDuration(t, time.Now().Add(time.Minute), relative.expiry(), 5*time.Second)
}

func TestResultFallsBackToAccessTokenClaims(t *testing.T) {
	access := makeJWT(t, map[string]any{"oid": "user-9", "tid": "tenant-9"})

	tr := &tokenResponse{AccessToken: access, TokenType: "Bearer", ExpiresIn: "3600"}

	result, err := tr.result()
	require.NoError(t, err)
	assert.Equal(t, "user-9", result.AccessToken.Key)
	assert.Equal(t, "tenant-9", result.Claims.TenantID)
	assert.Nil(t, result.RefreshToken)
}

func TestPostTokenFormTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	_, err := postTokenForm(context.Background(), srv.Client(), srv.URL+"/token", nil)
	require.Error(t, err)
	assert.False(t, IsInteractionRequired(err))
}

func TestFetchTenantsErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error": {"code": "AuthorizationFailed", "message": "not allowed"}}`)
	}))
	t.Cleanup(srv.Close)

	_, err := FetchTenants(context.Background(), srv.Client(), srv.URL+"/", "token", "tenant-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AuthorizationFailed")
}

func TestFetchTenantsHomeFirst(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer arm-token", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"value": [
			{"tenantId": "tenant-2", "displayName": "Other"},
			{"tenantId": "tenant-1", "displayName": "Mine"}
		]}`)
	}))
	t.Cleanup(srv.Close)

	tenants, err := FetchTenants(context.Background(), srv.Client(), srv.URL+"/", "arm-token", "tenant-1")
	require.NoError(t, err)
	require.Len(t, tenants, 2)

	assert.Equal(t, "tenant-1", tenants[0].ID)
	assert.Equal(t, HomeCategory, tenants[0].TenantCategory)
	assert.Equal(t, "tenant-2", tenants[1].ID)
}
