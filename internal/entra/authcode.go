package entra

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/entra-auth-go/internal/config"
)

// FlowKind selects which interactive grant a flow implements.
type FlowKind string

const (
	FlowAuthCode   FlowKind = "authorization_code"
	FlowDeviceCode FlowKind = "device_code"
)

// Flow is the capability every interactive grant provides. The lifecycle
// manager dispatches through it and never cares whether a browser or a
// second device completed the sign-in.
type Flow interface {
	Kind() FlowKind
	Login(ctx context.Context, tenant Tenant, resourceKind string) (*ExchangeResult, error)
}

// Loopback paths. The authorize redirect lands on redirectPath, which
// forwards to callbackPath where the state is validated and the code
// extracted.
const (
	redirectPath = "/redirect"
	callbackPath = "/callback"
)

// successPageHTML is shown in the browser once the code is captured.
const successPageHTML = `<html><body><h1>Authentication complete</h1>` +
	`<p>You can close this window and return to the application.</p></body></html>`

// callbackResult carries the authorization code or error out of the
// callback handler.
type callbackResult struct {
	code string
	err  error
}

// AuthCodeFlow implements the authorization-code-with-PKCE grant over a
// loopback redirect listener.
type AuthCodeFlow struct {
	holder  *config.Holder
	client  *http.Client
	openURL func(string) error
	logger  *slog.Logger
}

// NewAuthCodeFlow returns the desktop authorization-code flow. openURL
// launches the user's browser; when it fails the authorize URL is printed
// to stderr as a fallback.
func NewAuthCodeFlow(holder *config.Holder, client *http.Client, openURL func(string) error, logger *slog.Logger) *AuthCodeFlow {
	return &AuthCodeFlow{holder: holder, client: client, openURL: openURL, logger: logger}
}

func (f *AuthCodeFlow) Kind() FlowKind { return FlowAuthCode }

// Login runs one complete interactive sign-in for the tenant and resource:
// fresh PKCE material and nonce, loopback listener, browser hand-off,
// bounded wait for the redirect, then the code exchange. The verifier,
// challenge, and nonce are never reused across attempts.
func (f *AuthCodeFlow) Login(ctx context.Context, tenant Tenant, resourceKind string) (*ExchangeResult, error) {
	cfg := f.holder.Config()

	resource, err := resolveResource(cfg, resourceKind)
	if err != nil {
		return nil, err
	}

	verifier := oauth2.GenerateVerifier()
	challenge := s256Challenge(verifier)
	nonce := uuid.New().String()

	srv := NewRedirectServer(
		cfg.Timeouts.ListenerBindDuration(),
		cfg.Timeouts.ListenerIdleDuration(),
		f.logger,
	)
	defer srv.Shutdown()

	resultCh := make(chan callbackResult, 1)

	// The redirect hop preserves the provider's query string onto the
	// fixed local callback path.
	if err := srv.Handle(redirectPath, func(w http.ResponseWriter, r *http.Request) {
		target := callbackPath
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}

		http.Redirect(w, r, target, http.StatusFound)
	}); err != nil {
		return nil, err
	}

	if err := srv.Handle(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		f.handleCallback(w, r, srv.Port(), nonce, resultCh)
	}); err != nil {
		return nil, err
	}

	port, err := srv.Start(ctx)
	if err != nil {
		return nil, err
	}

	state := encodeState(port, nonce)
	redirectURI := fmt.Sprintf("http://localhost:%d%s", port, redirectPath)
	authorizeURL := f.authorizeURL(cfg, tenant, resource, redirectURI, state, challenge)

	f.logger.Info("starting interactive sign-in",
		slog.String("tenant", tenant.ID),
		slog.String("resource", resourceKind),
		slog.Int("port", port),
	)

	f.launchBrowser(authorizeURL)

	code, err := waitForCallback(ctx, resultCh, cfg.Timeouts.BrowserResponseDuration())
	if err != nil {
		return nil, err
	}

	f.logger.Info("authorization code received, exchanging")

	return f.exchangeCode(ctx, cfg, tenant, resource, code, verifier, redirectURI)
}

// handleCallback validates the state parameter against the expected
// port/nonce encoding. A mismatch rejects the pending authorization and
// never silently continues, to defend against cross-flow code injection.
func (f *AuthCodeFlow) handleCallback(w http.ResponseWriter, r *http.Request, port int, nonce string, resultCh chan<- callbackResult) {
	query := r.URL.Query()

	if query.Get("state") != encodeState(port, nonce) {
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		deliver(resultCh, callbackResult{err: newAuthError(
			"Sign-in was rejected because the response did not match this request.",
			"state mismatch on loopback callback",
			nil,
		)})

		return
	}

	if errParam := query.Get("error"); errParam != "" {
		desc := query.Get("error_description")
		http.Error(w, "Authorization failed: "+errParam, http.StatusBadRequest)
		deliver(resultCh, callbackResult{err: newAuthError(
			"Sign-in failed in the browser.",
			fmt.Sprintf("%s: %s", errParam, desc),
			nil,
		)})

		return
	}

	code := query.Get("code")
	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		deliver(resultCh, callbackResult{err: newAuthError(
			"Sign-in did not return an authorization code.",
			"callback missing code parameter",
			nil,
		)})

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, successPageHTML)
	deliver(resultCh, callbackResult{code: code})
}

// deliver hands the outcome to the waiting login without blocking. Only
// the first callback counts; a repeated request, such as the user
// refreshing the success page, must not park its handler goroutine.
func deliver(resultCh chan<- callbackResult, res callbackResult) {
	select {
	case resultCh <- res:
	default:
	}
}

// authorizeURL builds the provider's authorize URL with the PKCE
// challenge embedded.
func (f *AuthCodeFlow) authorizeURL(cfg *config.Config, tenant Tenant, resource, redirectURI, state, challenge string) string {
	query := url.Values{
		"response_type":         {"code"},
		"response_mode":         {"query"},
		"client_id":             {cfg.Provider.ClientID},
		"redirect_uri":          {redirectURI},
		"state":                 {state},
		"prompt":                {"select_account"},
		"code_challenge_method": {"S256"},
		"code_challenge":        {challenge},
		"resource":              {resource},
	}

	return endpoints{host: cfg.Provider.Host}.authorizeURL(tenant.ID) + "?" + query.Encode()
}

func (f *AuthCodeFlow) launchBrowser(authorizeURL string) {
	if f.openURL == nil {
		fmt.Fprintf(os.Stderr, "Open this URL in your browser:\n%s\n", authorizeURL)

		return
	}

	if err := f.openURL(authorizeURL); err != nil {
		f.logger.Warn("failed to open browser, printing URL",
			slog.String("error", err.Error()),
		)

		fmt.Fprintf(os.Stderr, "Open this URL in your browser:\n%s\n", authorizeURL)
	}
}

// exchangeCode swaps the authorization code for tokens.
func (f *AuthCodeFlow) exchangeCode(ctx context.Context, cfg *config.Config, tenant Tenant, resource, code, verifier, redirectURI string) (*ExchangeResult, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {verifier},
		"redirect_uri":  {redirectURI},
		"client_id":     {cfg.Provider.ClientID},
		"resource":      {resource},
	}

	tr, err := postTokenForm(ctx, f.client, endpoints{host: cfg.Provider.Host}.tokenURL(tenant.ID), form)
	if err != nil {
		return nil, err
	}

	return tr.result()
}

// LoginExternal is the web variant for hosts without a local listener:
// the final redirect URI arrives through an external URI event and its
// query parameters are parsed directly. The registered redirect URI from
// configuration is used instead of a loopback address, and the state is
// the bare nonce.
func (f *AuthCodeFlow) LoginExternal(ctx context.Context, tenant Tenant, resourceKind, externalRedirectURI string, uris <-chan string) (*ExchangeResult, error) {
	cfg := f.holder.Config()

	resource, err := resolveResource(cfg, resourceKind)
	if err != nil {
		return nil, err
	}

	verifier := oauth2.GenerateVerifier()
	challenge := s256Challenge(verifier)
	nonce := uuid.New().String()

	authorizeURL := f.authorizeURL(cfg, tenant, resource, externalRedirectURI, nonce, challenge)
	f.launchBrowser(authorizeURL)

	timeout := cfg.Timeouts.BrowserResponseDuration()
	code, err := waitForExternalURI(ctx, uris, nonce, timeout)
	if err != nil {
		return nil, err
	}

	return f.exchangeCode(ctx, cfg, tenant, resource, code, verifier, externalRedirectURI)
}

// encodeState builds the state value the callback handler must see:
// "port,urlencoded-nonce". The authorize request and the handler compute
// this identically or the flow is rejected.
func encodeState(port int, nonce string) string {
	return fmt.Sprintf("%d,%s", port, url.QueryEscape(nonce))
}

// s256Challenge derives the PKCE code challenge from the verifier.
func s256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))

	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// resolveResource maps a resource kind to its configured URI. An unknown
// kind is a user-facing configuration error.
func resolveResource(cfg *config.Config, resourceKind string) (string, error) {
	resource, ok := cfg.Provider.Resources[resourceKind]
	if !ok {
		return "", newAuthError(
			fmt.Sprintf("No configuration found for resource %q.", resourceKind),
			"resource kind missing from provider.resources",
			nil,
		)
	}

	return resource, nil
}
