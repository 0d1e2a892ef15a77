package entra

import (
	"context"
	"net/url"
	"time"
)

// waitForCallback blocks until the loopback handler delivers a result,
// the timeout expires, or the context is cancelled. Abandoned browser
// windows surface as a timeout error, never as a hang.
func waitForCallback(ctx context.Context, resultCh <-chan callbackResult, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		return res.code, res.err
	case <-timer.C:
		return "", newAuthError(
			"Timed out waiting for the browser sign-in to complete.",
			"no redirect received before deadline",
			nil,
		)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// waitForExternalURI consumes externally delivered redirect URIs until one
// carries the expected state. URIs with a different state belong to other
// pending flows and are skipped.
func waitForExternalURI(ctx context.Context, uris <-chan string, state string, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case raw, ok := <-uris:
			if !ok {
				return "", newAuthError(
					"Sign-in was cancelled.",
					"external redirect channel closed",
					nil,
				)
			}

			u, err := url.Parse(raw)
			if err != nil {
				continue
			}

			query := u.Query()
			if query.Get("state") != state {
				continue
			}

			if errParam := query.Get("error"); errParam != "" {
				return "", newAuthError(
					"Sign-in failed in the browser.",
					errParam+": "+query.Get("error_description"),
					nil,
				)
			}

			if code := query.Get("code"); code != "" {
				return code, nil
			}
		case <-timer.C:
			return "", newAuthError(
				"Timed out waiting for the browser sign-in to complete.",
				"no redirect received before deadline",
				nil,
			)
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}
