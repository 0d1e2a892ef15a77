package entra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/tonimelisma/entra-auth-go/internal/config"
)

// expiryTolerance is subtracted from a cached token's lifetime before a
// silent hit: a token inside this window is treated as already expired so
// callers never receive one about to die mid-request.
const expiryTolerance = 2 * time.Minute

// ConsentDecision is the user's answer when a tenant needs re-auth.
type ConsentDecision int

const (
	// ConsentCancel declines this prompt without remembering anything.
	ConsentCancel ConsentDecision = iota

	// ConsentApprove runs the interactive flow for the tenant.
	ConsentApprove

	// ConsentIgnoreTenant declines and durably suppresses future prompts
	// for this tenant.
	ConsentIgnoreTenant
)

// ConsentPrompter asks the user whether to re-authenticate a tenant.
// Implemented by the hosting surface (terminal prompt, dialog).
type ConsentPrompter interface {
	PromptReauth(ctx context.Context, account Account, tenant Tenant) (ConsentDecision, error)
}

// ErrUnknownTenant is returned when a token is requested for a tenant the
// account does not belong to. A well-formed account record never triggers
// it.
var ErrUnknownTenant = errors.New("entra: tenant not known to account")

// Manager orchestrates the token lifecycle: silent cache hits, refresh
// exchanges, the base-resource fallback, and the consent-gated drop to
// interactive sign-in. It is the only layer that translates raised errors
// into user-facing outcomes; collaborators above it never see raw
// network or crypto errors.
type Manager struct {
	holder   *config.Holder
	store    *TokenStore
	flows    map[FlowKind]Flow
	prompter ConsentPrompter
	client   *http.Client
	logger   *slog.Logger
}

// NewManager wires the lifecycle manager. flows must contain every
// FlowKind an account may carry.
func NewManager(holder *config.Holder, store *TokenStore, flows []Flow, prompter ConsentPrompter, client *http.Client, logger *slog.Logger) *Manager {
	byKind := make(map[FlowKind]Flow, len(flows))
	for _, f := range flows {
		byKind[f.Kind()] = f
	}

	return &Manager{
		holder:   holder,
		store:    store,
		flows:    byKind,
		prompter: prompter,
		client:   client,
		logger:   logger,
	}
}

// Reload swaps in a new validated configuration. Endpoints, timeouts, and
// the tenant ignore list all take effect for subsequent operations.
func (m *Manager) Reload(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("entra: reloading configuration: %w", err)
	}

	m.holder.Update(cfg)
	m.logger.Info("configuration reloaded")

	return nil
}

// GetToken returns a usable access token for the account at the given
// tenant and resource, trying each acquisition path from cheapest to most
// intrusive: cached hit, refresh exchange, base-resource refresh
// fallback, then consent-gated interactive sign-in. Returns (nil, nil)
// when no token is available and the user declined or the tenant is
// ignored. Transport failures propagate as errors; they are never treated
// as "this tenant needs interaction".
func (m *Manager) GetToken(ctx context.Context, account *Account, tenantID, resourceKind string) (*Token, error) {
	cfg := m.holder.Config()

	tenant, err := resolveTenant(account, tenantID)
	if err != nil {
		return nil, err
	}

	accountID := account.Key.AccountID

	entry, err := m.store.GetEntry(accountID, resourceKind, tenant.ID)
	if err != nil {
		return nil, err
	}

	if entry != nil && !entry.Expired(expiryTolerance) {
		m.logger.Debug("silent cache hit",
			slog.String("resource", resourceKind),
			slog.String("tenant", tenant.ID),
		)

		return m.tokenFromEntry(entry, resourceKind, tenant.ID), nil
	}

	token, err := m.trySilentRefresh(ctx, cfg, account, entry, tenant, resourceKind)
	if err == nil && token != nil {
		return token, nil
	}

	if err != nil && !IsInteractionRequired(err) {
		return nil, err
	}

	return m.handleInteractionRequired(ctx, cfg, account, tenant, resourceKind)
}

// trySilentRefresh attempts the refresh-token exchange for the scope,
// falling back to the account's base-resource refresh token so one
// sign-in serves many resource kinds. Returns (nil, nil) when no refresh
// token exists anywhere. A transport failure propagates as an error and
// is never folded into the interaction path.
func (m *Manager) trySilentRefresh(ctx context.Context, cfg *config.Config, account *Account, entry *StoredEntry, tenant Tenant, resourceKind string) (*Token, error) {
	accountID := account.Key.AccountID

	var lastErr error

	if entry != nil && entry.RefreshToken != nil {
		result, err := m.refreshExchange(ctx, cfg, accountID, entry.RefreshToken, tenant, resourceKind)
		if err == nil {
			token := result.Token(resourceKind, tenant.ID)

			return &token, nil
		}

		if IsInteractionRequired(err) {
			return nil, err
		}

		lastErr = err
		m.logger.Warn("refresh exchange failed, trying base resource",
			slog.String("resource", resourceKind),
			slog.String("error", err.Error()),
		)
	}

	// The base-resource refresh token covers every resource kind, and
	// interactive sign-in stores its credentials under the common
	// authority, so both scopes are consulted before giving up.
	fallbacks := []struct{ resourceKind, tenantID string }{
		{cfg.Provider.BaseResource, tenant.ID},
		{cfg.Provider.BaseResource, CommonTenant.ID},
	}

	for _, fb := range fallbacks {
		if fb.resourceKind == resourceKind && fb.tenantID == tenant.ID {
			continue
		}

		base, err := m.store.GetEntry(accountID, fb.resourceKind, fb.tenantID)
		if err != nil {
			return nil, err
		}

		if base == nil || base.RefreshToken == nil {
			continue
		}

		result, err := m.refreshExchange(ctx, cfg, accountID, base.RefreshToken, tenant, resourceKind)
		if err != nil {
			return nil, err
		}

		token := result.Token(resourceKind, tenant.ID)

		return &token, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}

	return nil, nil
}

// refreshExchange runs the refresh-token grant for the target resource
// and persists the full credential set on success.
func (m *Manager) refreshExchange(ctx context.Context, cfg *config.Config, accountID string, refresh *RefreshToken, tenant Tenant, resourceKind string) (*ExchangeResult, error) {
	resource, err := resolveResource(cfg, resourceKind)
	if err != nil {
		return nil, err
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refresh.Token},
		"client_id":     {cfg.Provider.ClientID},
		"tenant":        {tenant.ID},
		"resource":      {resource},
	}

	tr, err := postTokenForm(ctx, m.client, endpoints{host: cfg.Provider.Host}.tokenURL(tenant.ID), form)
	if err != nil {
		return nil, err
	}

	result, err := tr.result()
	if err != nil {
		return nil, err
	}

	if err := m.persistResult(accountID, resourceKind, tenant.ID, result); err != nil {
		return nil, err
	}

	m.logger.Debug("refresh exchange succeeded",
		slog.String("resource", resourceKind),
		slog.String("tenant", tenant.ID),
	)

	return result, nil
}

// handleInteractionRequired is the last stop of the acquisition ladder:
// the tenant ignore list short-circuits silently, otherwise the user
// decides. The account is marked stale either way until a new sign-in
// lands.
func (m *Manager) handleInteractionRequired(ctx context.Context, cfg *config.Config, account *Account, tenant Tenant, resourceKind string) (*Token, error) {
	account.IsStale = true

	if cfg.IsTenantIgnored(tenant.ID) {
		m.logger.Debug("tenant is ignored, skipping prompt",
			slog.String("tenant", tenant.ID),
		)

		return nil, nil
	}

	decision, err := m.prompter.PromptReauth(ctx, *account, tenant)
	if err != nil {
		return nil, fmt.Errorf("entra: consent prompt: %w", err)
	}

	switch decision {
	case ConsentCancel:
		return nil, nil
	case ConsentIgnoreTenant:
		if err := m.ignoreTenant(tenant.ID); err != nil {
			return nil, err
		}

		return nil, nil
	case ConsentApprove:
	default:
		return nil, fmt.Errorf("entra: unknown consent decision %d", decision)
	}

	flow, ok := m.flows[account.Properties.AuthKind]
	if !ok {
		return nil, fmt.Errorf("entra: no flow registered for %q", account.Properties.AuthKind)
	}

	result, err := flow.Login(ctx, tenant, resourceKind)
	if err != nil {
		return nil, err
	}

	if err := m.persistResult(account.Key.AccountID, resourceKind, tenant.ID, result); err != nil {
		return nil, err
	}

	account.IsStale = false
	token := result.Token(resourceKind, tenant.ID)

	return &token, nil
}

// ignoreTenant records the suppression durably in the user's
// configuration file, then reloads so the running process honors it too.
func (m *Manager) ignoreTenant(tenantID string) error {
	cfg, err := config.AddIgnoredTenant(m.holder.Path(), tenantID)
	if err != nil {
		return fmt.Errorf("entra: persisting ignored tenant: %w", err)
	}

	m.holder.Update(cfg)
	m.logger.Info("tenant added to ignore list", slog.String("tenant", tenantID))

	return nil
}

// Login runs the named interactive flow against the common authority for
// the provider's base resource, persists the credentials, fetches the
// tenant list, and materializes the durable account record.
func (m *Manager) Login(ctx context.Context, kind FlowKind) (*Account, error) {
	cfg := m.holder.Config()

	flow, ok := m.flows[kind]
	if !ok {
		return nil, fmt.Errorf("entra: no flow registered for %q", kind)
	}

	result, err := flow.Login(ctx, CommonTenant, cfg.Provider.BaseResource)
	if err != nil {
		return nil, err
	}

	accountID := result.AccessToken.Key

	if err := m.persistResult(accountID, cfg.Provider.BaseResource, CommonTenant.ID, result); err != nil {
		return nil, err
	}

	tenants := m.fetchTenants(ctx, cfg, accountID, result)

	account := BuildAccount(cfg.Provider.ID, kind, result.Claims, tenants)
	m.logger.Info("signed in",
		slog.String("account", account.DisplayName),
		slog.Int("tenants", len(tenants)),
	)

	return &account, nil
}

// RefreshAccount revalidates an account's credentials silently and
// rebuilds the record from fresh claims. An interaction-required answer
// marks the account stale rather than failing.
func (m *Manager) RefreshAccount(ctx context.Context, account *Account) error {
	cfg := m.holder.Config()

	entry, err := m.store.GetEntry(account.Key.AccountID, cfg.Provider.BaseResource, CommonTenant.ID)
	if err != nil {
		return err
	}

	if entry == nil || entry.RefreshToken == nil {
		account.IsStale = true

		return nil
	}

	result, err := m.refreshExchange(ctx, cfg, account.Key.AccountID, entry.RefreshToken, CommonTenant, cfg.Provider.BaseResource)
	if err != nil {
		if IsInteractionRequired(err) {
			account.IsStale = true

			return nil
		}

		return err
	}

	tenants := m.fetchTenants(ctx, cfg, account.Key.AccountID, result)

	*account = BuildAccount(cfg.Provider.ID, account.Properties.AuthKind, result.Claims, tenants)

	return nil
}

// ClearCredentials removes every cached credential for the account. The
// account record itself is the caller's to delete.
func (m *Manager) ClearCredentials(account *Account) error {
	if err := m.store.ClearAccount(account.Key.AccountID); err != nil {
		return err
	}

	m.logger.Info("credentials cleared",
		slog.String("account", account.DisplayName),
	)

	return nil
}

// fetchTenants lists the account's directories using a management-plane
// token. Tenant discovery is best-effort: on any failure the owning
// tenant from the claims stands alone.
func (m *Manager) fetchTenants(ctx context.Context, cfg *config.Config, accountID string, result *ExchangeResult) []Tenant {
	fallback := []Tenant{owningTenant(result.Claims, nil)}

	if result.RefreshToken == nil {
		return fallback
	}

	armResult, err := m.refreshExchange(ctx, cfg, accountID, result.RefreshToken, CommonTenant, cfg.Provider.ARMResource)
	if err != nil {
		m.logger.Warn("tenant discovery token exchange failed",
			slog.String("error", err.Error()),
		)

		return fallback
	}

	armResource, err := resolveResource(cfg, cfg.Provider.ARMResource)
	if err != nil {
		return fallback
	}

	tenants, err := FetchTenants(ctx, m.client, armResource, armResult.AccessToken.Token, result.Claims.TenantID)
	if err != nil {
		m.logger.Warn("tenant discovery failed",
			slog.String("error", err.Error()),
		)

		return fallback
	}

	return tenants
}

// persistResult writes the full credential set for one scope in a single
// transaction.
func (m *Manager) persistResult(accountID, resourceKind, tenantID string, result *ExchangeResult) error {
	return m.store.SetEntry(accountID, resourceKind, tenantID, StoredEntry{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		ExpiresOn:    result.ExpiresOn,
		TokenType:    result.TokenType,
	})
}

// tokenFromEntry converts a cached entry back into the caller-facing
// token shape.
func (m *Manager) tokenFromEntry(entry *StoredEntry, resourceKind, tenantID string) *Token {
	var expiresOn int64
	if !entry.ExpiresOn.IsZero() {
		expiresOn = entry.ExpiresOn.Unix()
	}

	tokenType := entry.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	return &Token{
		Key:       entry.AccessToken.Key,
		Token:     entry.AccessToken.Token,
		ExpiresOn: expiresOn,
		TokenType: tokenType,
		TenantID:  tenantID,
		Resource:  resourceKind,
	}
}

// resolveTenant maps a tenant id onto the account's known topology:
// owning tenant first, then the full list. An id the account has never
// seen is a hard error.
func resolveTenant(account *Account, tenantID string) (Tenant, error) {
	if tenantID == "" || account.Properties.OwningTenant.ID == tenantID {
		return account.Properties.OwningTenant, nil
	}

	for _, t := range account.Properties.Tenants {
		if t.ID == tenantID {
			return t, nil
		}
	}

	return Tenant{}, fmt.Errorf("%w: %s", ErrUnknownTenant, tenantID)
}
