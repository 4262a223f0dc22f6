package flow

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/email-weather/oauthflow/pkg/core"
	"github.com/email-weather/oauthflow/pkg/redirect"
)

// oobRedirectURL is the out-of-band redirect value: the provider displays
// the authorization code for the operator to copy instead of redirecting.
const oobRedirectURL = "urn:ietf:wg:oauth:2.0:oob"

// ConsentRedirect is the mechanism the installed flow uses to obtain the
// operator's consent: either an out-of-band copy/paste or an HTTP redirect
// delivered over a channel by the redirect capture server.
type ConsentRedirect interface {
	// RedirectURL is the redirect_uri sent with the authorization request.
	RedirectURL() string
	// AwaitCode presents authURL to the operator and waits for the
	// authorization code. state is the CSRF value the redirect must echo.
	AwaitCode(ctx context.Context, authURL, state string) (string, error)
}

// OutOfBand prompts the operator to open the consent URL and paste the code
// back, read without echo so it never lands in terminal scrollback.
type OutOfBand struct {
	// ReadCode overrides the masked terminal prompt, for tests.
	ReadCode func() (string, error)
}

// RedirectURL returns the out-of-band redirect value.
func (o *OutOfBand) RedirectURL() string {
	return oobRedirectURL
}

// AwaitCode logs the consent URL and reads the pasted code from the
// terminal with echo disabled.
func (o *OutOfBand) AwaitCode(ctx context.Context, authURL, state string) (string, error) {
	logger := core.LoggerFromCtx(ctx)
	logger.Info("Open this URL to obtain the authorization code for your account", "url", authURL)

	read := o.ReadCode
	if read == nil {
		read = promptCode
	}
	code, err := read()
	if err != nil {
		return "", fmt.Errorf("failed to read authorization code: %w", err)
	}
	code = strings.TrimSpace(code)
	logger.Debug("Read authorization code", "length", len(code))
	return code, nil
}

func promptCode() (string, error) {
	fmt.Fprint(os.Stderr, "Enter the code: ")
	code, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(code), nil
}

// HTTPRedirect awaits the consent result on a channel fed by the redirect
// capture server.
type HTTPRedirect struct {
	// Params delivers the captured redirect parameters.
	Params <-chan redirect.Params
	// URL is the redirect URI registered with the provider.
	URL string
	// WaitBound optionally bounds the consent wait. Zero means the wait is
	// bounded only by ctx, i.e. the process shutdown signal.
	WaitBound time.Duration
}

// RedirectURL returns the registered HTTP redirect URI.
func (h *HTTPRedirect) RedirectURL() string {
	return h.URL
}

// AwaitCode waits for one redirect result and verifies its CSRF state. A
// mismatch aborts the attempt before any token exchange.
func (h *HTTPRedirect) AwaitCode(ctx context.Context, authURL, state string) (string, error) {
	logger := core.LoggerFromCtx(ctx)
	logger.Info("Open this URL to authorize access to your account", "url", authURL)

	var bound <-chan time.Time
	if h.WaitBound > 0 {
		timer := time.NewTimer(h.WaitBound)
		defer timer.Stop()
		bound = timer.C
	}

	select {
	case params, ok := <-h.Params:
		if !ok {
			return "", ErrConsentChannelClosed
		}
		if params.State != state {
			return "", ErrStateMismatch
		}
		return params.Code, nil
	case <-bound:
		return "", fmt.Errorf("failed to receive consent redirect within %s", h.WaitBound)
	case <-ctx.Done():
		return "", fmt.Errorf("failed to receive consent redirect: %w", ctx.Err())
	}
}
