package entra

import (
	"errors"
	"fmt"
	"strings"
)

// AuthError is the user-facing failure type. Display is suitable for a
// dialog; Detail carries the internal diagnostic; Err is the original
// cause, if any. Collaborators above the lifecycle manager only ever see
// AuthError or "no token" — raw network and crypto errors stop here.
type AuthError struct {
	Display string
	Detail  string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (%s)", e.Display, e.Detail)
	}

	return e.Display
}

func (e *AuthError) Unwrap() error { return e.Err }

// newAuthError builds an AuthError wrapping err.
func newAuthError(display, detail string, err error) *AuthError {
	return &AuthError{Display: display, Detail: detail, Err: err}
}

// InteractionRequiredError is a recognized provider response, not a
// failure: the tenant wants the user to re-authenticate interactively
// (expired refresh token, conditional access, password change, MFA
// enrollment). It routes to the consent/re-auth path.
type InteractionRequiredError struct {
	Code        string
	Description string
}

func (e *InteractionRequiredError) Error() string {
	return fmt.Sprintf("entra: interaction required: %s: %s", e.Code, e.Description)
}

// stsInteractionCodes are STS error codes that demand re-authentication
// even when the provider did not say interaction_required outright.
var stsInteractionCodes = []string{
	"AADSTS70043",  // refresh token expired or revoked
	"AADSTS50173",  // fresh auth token needed after credential change
	"AADSTS50078",  // presented multi-factor authentication expired
	"AADSTS50085",  // refresh token needs social IdP login
	"AADSTS50089",  // flow token expired
	"AADSTS700082", // refresh token expired due to inactivity
	"AADSTS700084", // refresh token issued to a single-page app
}

// interactionRequired classifies a provider error payload.
func interactionRequired(code, description string) bool {
	if code == "interaction_required" {
		return true
	}

	for _, sts := range stsInteractionCodes {
		if strings.Contains(description, sts) {
			return true
		}
	}

	return false
}

// IsInteractionRequired reports whether err (anywhere in its chain) is the
// interaction-required signal.
func IsInteractionRequired(err error) bool {
	var ire *InteractionRequiredError

	return errors.As(err, &ire)
}
