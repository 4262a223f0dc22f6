package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/email-weather/oauthflow/pkg/core"
	"github.com/email-weather/oauthflow/pkg/credentials"
	"github.com/email-weather/oauthflow/pkg/tokencache"
)

// jwtBearerGrantType is the grant type for the signed-assertion exchange.
const jwtBearerGrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// assertionLifetime is how long a signed assertion stays valid. The
// provider caps this at one hour.
const assertionLifetime = 30 * time.Minute

// ServiceAccountFlow authenticates with a self-signed JWT assertion. No
// human consent, and no refresh token: refreshing means signing and posting
// a fresh assertion.
type ServiceAccountFlow struct {
	key   *credentials.ServiceAccountKey
	cache *tokencache.Cache

	// now is the clock used for assertion claims, replaceable in tests.
	now func() time.Time
}

// NewServiceAccountFlow creates a ServiceAccountFlow over the given key and
// token cache.
func NewServiceAccountFlow(key *credentials.ServiceAccountKey, cache *tokencache.Cache) (*ServiceAccountFlow, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: service account flow requires a key", ErrConfiguration)
	}
	return &ServiceAccountFlow{
		key:   key,
		cache: cache,
		now:   time.Now,
	}, nil
}

// Authenticate returns a bearer token for the given scope, posting a fresh
// assertion only when the cache cannot supply one. Exactly one scope is
// supported.
func (f *ServiceAccountFlow) Authenticate(ctx context.Context, scopes []string) (core.AccessToken, error) {
	guard, err := f.cache.Lock(ctx)
	if err != nil {
		return "", err
	}
	defer guard.Unlock()

	core.AddAttributes(ctx, attribute.String("auth.flow", "service_account"))

	return tokencache.Authenticate(ctx, scopes, guard,
		f.obtainNewToken,
		func(ctx context.Context, _ string, scopes []string) (core.TokenResponse, error) {
			// There is never a refresh token; refreshing is re-obtaining.
			return f.obtainNewToken(ctx, scopes)
		},
	)
}

// signAssertion builds and signs the RS256 assertion for one scope. Scope
// set problems are reported before any network call.
func (f *ServiceAccountFlow) signAssertion(scopes []string) (string, error) {
	if len(scopes) != 1 {
		return "", fmt.Errorf("%w: service account flow supports exactly one scope, got %d",
			ErrConfiguration, len(scopes))
	}

	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(f.key.PrivateKey))
	if err != nil {
		return "", fmt.Errorf("failed to parse service account private key: %w", err)
	}

	now := f.now()
	claims := jwt.MapClaims{
		"iss":   f.key.ClientEmail,
		"scope": scopes[0],
		"aud":   f.key.TokenURI,
		"iat":   now.Unix(),
		"exp":   now.Add(assertionLifetime).Unix(),
	}

	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign service account assertion: %w", err)
	}
	return assertion, nil
}

// obtainNewToken posts the signed assertion as a jwt-bearer grant to the
// token endpoint.
func (f *ServiceAccountFlow) obtainNewToken(ctx context.Context, scopes []string) (core.TokenResponse, error) {
	assertion, err := f.signAssertion(scopes)
	if err != nil {
		return core.TokenResponse{}, err
	}

	form := url.Values{
		"grant_type": {jwtBearerGrantType},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.key.TokenURI,
		strings.NewReader(form.Encode()))
	if err != nil {
		return core.TokenResponse{}, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := contextClient(ctx).Do(req)
	if err != nil {
		return core.TokenResponse{}, fmt.Errorf("failed to post jwt-bearer grant: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.TokenResponse{}, fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return core.TokenResponse{}, &ServerError{StatusCode: resp.StatusCode, Body: prettyJSON(body)}
	}

	var response core.TokenResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return core.TokenResponse{}, fmt.Errorf("failed to decode token response: %w", err)
	}
	return response, nil
}
