package entra

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const tenantsAPIVersion = "2019-11-01"

// tenantListResponse is the management API's tenant list shape.
type tenantListResponse struct {
	Value []struct {
		TenantID       string `json:"tenantId"`
		DisplayName    string `json:"displayName"`
		TenantCategory string `json:"tenantCategory"`
	} `json:"value"`
}

// managementError is the management API's error envelope.
type managementError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// FetchTenants lists every directory the signed-in identity can access,
// using a management-plane access token. armResource must end with a
// slash. The account's home tenant is ordered first.
func FetchTenants(ctx context.Context, client *http.Client, armResource, accessToken, homeTenantID string) ([]Tenant, error) {
	endpoint := fmt.Sprintf("%stenants?api-version=%s", armResource, tenantsAPIVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("entra: building tenant request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("entra: listing tenants: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("entra: reading tenant response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var me managementError
		if json.Unmarshal(body, &me) == nil && me.Error.Code != "" {
			return nil, newAuthError(
				"Unable to list directories for the signed-in account.",
				fmt.Sprintf("%s: %s", me.Error.Code, me.Error.Message),
				nil,
			)
		}

		return nil, fmt.Errorf("entra: tenant list returned status %d", resp.StatusCode)
	}

	var list tenantListResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("entra: parsing tenant list: %w", err)
	}

	tenants := make([]Tenant, 0, len(list.Value))
	for _, t := range list.Value {
		category := t.TenantCategory
		if t.TenantID == homeTenantID {
			category = HomeCategory
		}

		tenants = append(tenants, Tenant{
			ID:             t.TenantID,
			DisplayName:    t.DisplayName,
			TenantCategory: category,
		})
	}

	return SortTenantsHomeFirst(tenants), nil
}
