package entra

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/entra-auth-go/internal/cache"
	"github.com/tonimelisma/entra-auth-go/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// makeJWT builds an unsigned JWT carrying the given claims. Claims are
// read without signature verification, so an empty signature segment is
// enough for tests.
func makeJWT(t *testing.T, claims map[string]any) string {
	t.Helper()

	header, err := json.Marshal(map[string]string{"alg": "none", "typ": "JWT"})
	require.NoError(t, err)

	payload, err := json.Marshal(claims)
	require.NoError(t, err)

	return base64.RawURLEncoding.EncodeToString(header) + "." +
		base64.RawURLEncoding.EncodeToString(payload) + "."
}

// testConfig builds a validated configuration pointing every endpoint at
// the mock provider, with tight timeouts so failure paths finish fast.
func testConfig(t *testing.T, providerURL string) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Provider.Host = providerURL + "/"
	cfg.Provider.Resources = map[string]string{
		"microsoft": providerURL + "/resource/",
		"arm":       providerURL + "/arm/",
	}
	cfg.Provider.BaseResource = "microsoft"
	cfg.Provider.ARMResource = "arm"
	cfg.Timeouts.DevicePoll = "10s"
	cfg.Timeouts.BrowserResponse = "10s"
	cfg.Timeouts.ListenerBind = "5s"
	cfg.Timeouts.ListenerIdle = "30s"

	require.NoError(t, config.Validate(cfg))

	return cfg
}

func testHolder(t *testing.T, providerURL string) *config.Holder {
	t.Helper()

	cfg := testConfig(t, providerURL)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, config.Write(path, cfg))

	return config.NewHolder(cfg, path)
}

func passthrough(data []byte) ([]byte, error) { return data, nil }

// newTestStore builds a token store over a plaintext file cache.
func newTestStore(t *testing.T) *TokenStore {
	t.Helper()

	c := cache.New(filepath.Join(t.TempDir(), "tokens.cache"), nil, cache.Options{}, testLogger())
	require.NoError(t, c.SetHooks(passthrough, passthrough))
	require.NoError(t, c.Initialize(context.Background()))
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })

	return NewTokenStore(c)
}

// staticPrompter answers every consent prompt with a fixed decision.
type staticPrompter struct {
	decision ConsentDecision
	calls    int
}

func (p *staticPrompter) PromptReauth(_ context.Context, _ Account, _ Tenant) (ConsentDecision, error) {
	p.calls++

	return p.decision, nil
}

var _ ConsentPrompter = (*staticPrompter)(nil)
var _ Flow = (*AuthCodeFlow)(nil)
var _ Flow = (*DeviceCodeFlow)(nil)
