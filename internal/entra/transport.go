package entra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// endpoints derives the provider URLs from the login host, which always
// ends with a slash.
type endpoints struct {
	host string
}

func (e endpoints) authorizeURL(tenantID string) string {
	return e.host + tenantID + "/oauth2/authorize"
}

func (e endpoints) tokenURL(tenantID string) string {
	return e.host + tenantID + "/oauth2/token"
}

func (e endpoints) deviceCodeURL(tenantID string) string {
	return e.host + tenantID + "/oauth2/devicecode"
}

// Poll-loop control signals. authorization_pending is the provider saying
// "keep waiting", not a failure; slow_down additionally stretches the
// interval.
var (
	errAuthorizationPending = errors.New("entra: authorization pending")
	errSlowDown             = errors.New("entra: slow down")
)

// epochString tolerates the v1 endpoint's habit of returning numeric
// fields as JSON strings.
type epochString string

func (s *epochString) UnmarshalJSON(data []byte) error {
	trimmed := strings.Trim(string(data), `"`)
	*s = epochString(trimmed)

	return nil
}

func (s epochString) int64() int64 {
	n, err := strconv.ParseInt(string(s), 10, 64)
	if err != nil {
		return 0
	}

	return n
}

// tokenResponse is the token endpoint's reply for every grant type.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	TokenType    string `json:"token_type"`

	ExpiresIn epochString `json:"expires_in"`
	ExpiresOn epochString `json:"expires_on"`

	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// postTokenForm posts a form-encoded grant to the token endpoint and
// parses the JSON reply. Transport failures are returned as errors;
// provider-level errors come back inside the tokenResponse for the caller
// to classify.
func postTokenForm(ctx context.Context, client *http.Client, endpoint string, form url.Values) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("entra: building token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("entra: token request: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("entra: reading token response: %w", err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("entra: parsing token response (status %d): %w", resp.StatusCode, err)
	}

	return &tr, nil
}

// postForm posts a form-encoded request and decodes the JSON reply into
// out. Used for the device-code request, which has its own response shape.
func postForm(ctx context.Context, client *http.Client, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("entra: building request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("entra: posting form: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("entra: reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var te tokenResponse
		if json.Unmarshal(body, &te) == nil && te.Error != "" {
			return te.classify()
		}

		return fmt.Errorf("entra: unexpected status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("entra: parsing response: %w", err)
	}

	return nil
}

// classify turns a provider-level error payload into the right error type.
// Returns nil when the response carries no error.
func (tr *tokenResponse) classify() error {
	switch tr.Error {
	case "":
		return nil
	case "authorization_pending":
		return errAuthorizationPending
	case "slow_down":
		return errSlowDown
	}

	if interactionRequired(tr.Error, tr.ErrorDescription) {
		return &InteractionRequiredError{Code: tr.Error, Description: tr.ErrorDescription}
	}

	return newAuthError(
		"The identity provider rejected the request.",
		fmt.Sprintf("%s: %s", tr.Error, tr.ErrorDescription),
		nil,
	)
}

// result converts a successful token response into the flow-agnostic
// ExchangeResult. The account key and display fields come from the
// identity token claims; the access token JWT is used when no identity
// token was returned (refresh grants omit it for some resources).
func (tr *tokenResponse) result() (*ExchangeResult, error) {
	if err := tr.classify(); err != nil {
		return nil, err
	}

	if tr.AccessToken == "" {
		return nil, newAuthError(
			"The identity provider returned an empty access token.",
			"access_token missing from a non-error token response",
			nil,
		)
	}

	rawClaims := tr.IDToken
	if rawClaims == "" {
		rawClaims = tr.AccessToken
	}

	claims, err := DecodeTokenClaims(rawClaims)
	if err != nil {
		return nil, newAuthError(
			"Unable to read the identity token.",
			"token claims decode failed",
			err,
		)
	}

	key := claims.UserKey()

	result := &ExchangeResult{
		AccessToken: AccessToken{Key: key, Token: tr.AccessToken},
		Claims:      claims,
		TokenType:   tr.TokenType,
		ExpiresOn:   tr.expiry(),
	}

	if tr.RefreshToken != "" {
		result.RefreshToken = &RefreshToken{Key: key, Token: tr.RefreshToken}
	}

	return result, nil
}

// expiry prefers the absolute expires_on epoch, falling back to a
// relative expires_in. Zero when the provider stated neither.
func (tr *tokenResponse) expiry() time.Time {
	if on := tr.ExpiresOn.int64(); on > 0 {
		return time.Unix(on, 0)
	}

	if in := tr.ExpiresIn.int64(); in > 0 {
		return time.Now().Add(time.Duration(in) * time.Second)
	}

	return time.Time{}
}
