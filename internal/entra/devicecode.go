package entra

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/tonimelisma/entra-auth-go/internal/config"
)

// devicePollInterval is the default wait between token polls when the
// provider does not supply one.
const devicePollInterval = 5 * time.Second

// slowDownPenalty is added to the poll interval every time the provider
// answers slow_down.
const slowDownPenalty = 5 * time.Second

// DeviceCodePrompt is the user-facing half of a device-code sign-in: the
// short code to type and where to type it.
type DeviceCodePrompt struct {
	UserCode        string
	VerificationURL string
	Message         string
}

// deviceCodeResponse is the provider's reply to the device-code request.
type deviceCodeResponse struct {
	DeviceCode      string      `json:"device_code"`
	UserCode        string      `json:"user_code"`
	VerificationURL string      `json:"verification_url"`
	Message         string      `json:"message"`
	Interval        epochString `json:"interval"`
	ExpiresIn       epochString `json:"expires_in"`
}

// DeviceCodeFlow implements the device-authorization grant for hosts
// without a browser. The prompt callback shows the user code; polling
// continues until the provider reports completion, failure, or the
// configured ceiling passes.
type DeviceCodeFlow struct {
	holder *config.Holder
	client *http.Client
	prompt func(DeviceCodePrompt)
	logger *slog.Logger
}

// NewDeviceCodeFlow returns the device-code flow. prompt is invoked once
// per sign-in with the code the user must enter on a second device.
func NewDeviceCodeFlow(holder *config.Holder, client *http.Client, prompt func(DeviceCodePrompt), logger *slog.Logger) *DeviceCodeFlow {
	return &DeviceCodeFlow{holder: holder, client: client, prompt: prompt, logger: logger}
}

func (f *DeviceCodeFlow) Kind() FlowKind { return FlowDeviceCode }

// Login requests a device code, shows it to the user, and polls the token
// endpoint until the user completes sign-in elsewhere. authorization_pending
// keeps polling, slow_down stretches the interval, anything else fails the
// attempt. The overall wait is capped by the configured poll ceiling.
func (f *DeviceCodeFlow) Login(ctx context.Context, tenant Tenant, resourceKind string) (*ExchangeResult, error) {
	cfg := f.holder.Config()

	resource, err := resolveResource(cfg, resourceKind)
	if err != nil {
		return nil, err
	}

	ep := endpoints{host: cfg.Provider.Host}

	dc, err := f.requestDeviceCode(ctx, ep.deviceCodeURL(tenant.ID), cfg.Provider.ClientID, resource)
	if err != nil {
		return nil, err
	}

	f.prompt(DeviceCodePrompt{
		UserCode:        dc.UserCode,
		VerificationURL: dc.VerificationURL,
		Message:         dc.Message,
	})

	f.logger.Info("device code issued, polling for completion",
		slog.String("tenant", tenant.ID),
		slog.String("resource", resourceKind),
	)

	return f.poll(ctx, cfg, ep.tokenURL(tenant.ID), tenant, dc)
}

func (f *DeviceCodeFlow) requestDeviceCode(ctx context.Context, endpoint, clientID, resource string) (*deviceCodeResponse, error) {
	form := url.Values{
		"client_id": {clientID},
		"resource":  {resource},
	}

	var dc deviceCodeResponse
	if err := postForm(ctx, f.client, endpoint, form, &dc); err != nil {
		return nil, err
	}

	if dc.DeviceCode == "" || dc.UserCode == "" {
		return nil, newAuthError(
			"The sign-in service did not issue a device code.",
			"device code response missing device_code or user_code",
			nil,
		)
	}

	return &dc, nil
}

// poll exchanges the device code at the provider's interval until the user
// finishes, the ceiling passes, or the context is cancelled.
func (f *DeviceCodeFlow) poll(ctx context.Context, cfg *config.Config, endpoint string, tenant Tenant, dc *deviceCodeResponse) (*ExchangeResult, error) {
	form := url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:device_code"},
		"code":       {dc.DeviceCode},
		"client_id":  {cfg.Provider.ClientID},
		"tenant":     {tenant.ID},
	}

	interval := devicePollInterval
	if n := dc.Interval.int64(); n > 0 {
		interval = time.Duration(n) * time.Second
	}

	deadline := time.Now().Add(cfg.Timeouts.DevicePollDuration())

	for {
		if time.Now().After(deadline) {
			return nil, newAuthError(
				"Timed out waiting for the device code to be entered.",
				"device code polling exceeded deadline",
				nil,
			)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}

		tr, err := postTokenForm(ctx, f.client, endpoint, form)
		if err != nil {
			return nil, err
		}

		switch pollErr := tr.classify(); {
		case pollErr == nil:
			return tr.result()
		case errors.Is(pollErr, errAuthorizationPending):
			continue
		case errors.Is(pollErr, errSlowDown):
			interval += slowDownPenalty
			f.logger.Debug("provider requested slower polling",
				slog.Duration("interval", interval),
			)

			continue
		default:
			return nil, pollErr
		}
	}
}
