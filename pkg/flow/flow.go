// Package flow implements the three OAuth2 authentication flows (installed,
// device, service account) behind a single Authenticate operation. Each flow
// owns one token cache; the cache decides when a flow actually talks to the
// provider.
package flow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/email-weather/oauthflow/pkg/core"
)

var (
	// ErrStateMismatch is returned when the consent redirect carries a
	// state value different from the one generated for the request. This
	// may indicate an interception attempt; the attempt is aborted before
	// any token exchange and never retried automatically.
	ErrStateMismatch = errors.New("consent redirect state does not match this request")
	// ErrConsentChannelClosed is returned when the redirect channel closes
	// without delivering a result.
	ErrConsentChannelClosed = errors.New("consent redirect channel closed before delivering a result")
	// ErrConfiguration is returned for invalid flow construction or
	// unusable scope sets, before any network call.
	ErrConfiguration = errors.New("invalid flow configuration")
)

// Flow performs authentication against an OAuth2 provider. Authenticate may
// suspend (consent wait, device polling) and returns the current bearer
// token, reusing or refreshing the flow's cached token when possible.
type Flow interface {
	Authenticate(ctx context.Context, scopes []string) (core.AccessToken, error)
}

// ServerError is a structured OAuth2 error response from the provider. The
// full body is preserved verbatim for operator diagnosis.
type ServerError struct {
	StatusCode int
	Body       string
	err        error
}

func (e *ServerError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("provider returned error response (status %d):\n%s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("provider returned error response: status %d", e.StatusCode)
}

func (e *ServerError) Unwrap() error {
	return e.err
}

// prettyJSON re-indents a JSON body for diagnostics; non-JSON bodies are
// returned unchanged.
func prettyJSON(body []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		return string(body)
	}
	return buf.String()
}

// wrapTokenError converts x/oauth2 retrieval failures into *ServerError when
// the provider answered with a structured error body; transport failures
// propagate unchanged.
func wrapTokenError(err error) error {
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) {
		status := 0
		if retrieve.Response != nil {
			status = retrieve.Response.StatusCode
		}
		return &ServerError{
			StatusCode: status,
			Body:       prettyJSON(retrieve.Body),
			err:        err,
		}
	}
	return err
}

// tokenResponse converts an x/oauth2 token into the cacheable provider
// payload, recovering the relative lifetime from the absolute expiry.
func tokenResponse(tok *oauth2.Token, now time.Time) core.TokenResponse {
	response := core.TokenResponse{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		response.ExpiresIn = int64(tok.Expiry.Sub(now) / time.Second)
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		response.Scope = scope
	}
	return response
}

// requestTimeout bounds direct token-endpoint requests made outside
// x/oauth2 (the device authorization request and the jwt-bearer grant).
const requestTimeout = 30 * time.Second

// contextClient returns the HTTP client carried in ctx under
// oauth2.HTTPClient, matching how x/oauth2 resolves its transport, so tests
// and callers override all network calls the same way.
func contextClient(ctx context.Context) *http.Client {
	if client, ok := ctx.Value(oauth2.HTTPClient).(*http.Client); ok && client != nil {
		return client
	}
	return &http.Client{Timeout: requestTimeout}
}

// warnIfNotRefreshable logs the consequence of a response without a refresh
// token: once the access token expires a full re-consent will be required.
func warnIfNotRefreshable(ctx context.Context, response core.TokenResponse) {
	if response.RefreshToken != "" {
		return
	}
	logger := core.LoggerFromCtx(ctx)
	if response.ExpiresIn > 0 {
		lifetime := time.Duration(response.ExpiresIn) * time.Second
		logger.Warn("Token response carries no refresh token, a new consent will be required when it expires",
			"expires_in", lifetime.String())
	} else {
		logger.Warn("Token response carries no refresh token and never expires")
	}
}
