package flow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"

	"github.com/email-weather/oauthflow/pkg/core"
	"github.com/email-weather/oauthflow/pkg/credentials"
	"github.com/email-weather/oauthflow/pkg/tokencache"
)

// InstalledFlow is the three-legged authorization-code flow with PKCE: build
// the consent URL, await the operator's consent, exchange the code for
// tokens.
type InstalledFlow struct {
	credential *credentials.ClientCredential
	consent    ConsentRedirect
	cache      *tokencache.Cache
}

// NewInstalledFlow creates an InstalledFlow over the given client
// credential, consent mechanism, and token cache.
func NewInstalledFlow(
	credential *credentials.ClientCredential,
	consent ConsentRedirect,
	cache *tokencache.Cache,
) (*InstalledFlow, error) {
	if credential == nil {
		return nil, fmt.Errorf("%w: installed flow requires a client credential", ErrConfiguration)
	}
	if consent == nil {
		return nil, fmt.Errorf("%w: installed flow requires a consent redirect", ErrConfiguration)
	}
	return &InstalledFlow{
		credential: credential,
		consent:    consent,
		cache:      cache,
	}, nil
}

func (f *InstalledFlow) config(scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     f.credential.ClientID,
		ClientSecret: f.credential.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  f.credential.AuthURI,
			TokenURL: f.credential.TokenURI,
		},
		RedirectURL: f.consent.RedirectURL(),
		Scopes:      scopes,
	}
}

// Authenticate returns a bearer token for the given scopes, running the
// consent exchange only when the cache cannot supply one.
func (f *InstalledFlow) Authenticate(ctx context.Context, scopes []string) (core.AccessToken, error) {
	guard, err := f.cache.Lock(ctx)
	if err != nil {
		return "", err
	}
	defer guard.Unlock()

	core.AddAttributes(ctx, attribute.String("auth.flow", "installed"))

	config := f.config(scopes)
	return tokencache.Authenticate(ctx, scopes, guard,
		func(ctx context.Context, scopes []string) (core.TokenResponse, error) {
			return f.obtainNewToken(ctx, config)
		},
		func(ctx context.Context, refreshToken string, scopes []string) (core.TokenResponse, error) {
			return refresh(ctx, config, refreshToken)
		},
	)
}

// obtainNewToken runs one full consent attempt: fresh PKCE pair and CSRF
// state, consent wait, code exchange. The state and code are single-use and
// discarded when the attempt ends.
func (f *InstalledFlow) obtainNewToken(ctx context.Context, config *oauth2.Config) (core.TokenResponse, error) {
	verifier := oauth2.GenerateVerifier()
	state := uuid.New().String()

	authURL := config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
	)

	code, err := f.consent.AwaitCode(ctx, authURL, state)
	if err != nil {
		return core.TokenResponse{}, err
	}

	tok, err := config.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return core.TokenResponse{}, fmt.Errorf("failed to exchange authorization code: %w", wrapTokenError(err))
	}

	response := tokenResponse(tok, time.Now())
	warnIfNotRefreshable(ctx, response)
	return response, nil
}

// refresh exchanges a refresh token for a new token response.
func refresh(ctx context.Context, config *oauth2.Config, refreshToken string) (core.TokenResponse, error) {
	source := config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := source.Token()
	if err != nil {
		return core.TokenResponse{}, fmt.Errorf("failed to exchange refresh token: %w", wrapTokenError(err))
	}
	return tokenResponse(tok, time.Now()), nil
}
