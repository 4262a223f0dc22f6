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

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"

	"github.com/email-weather/oauthflow/pkg/core"
	"github.com/email-weather/oauthflow/pkg/credentials"
	"github.com/email-weather/oauthflow/pkg/tokencache"
)

// DeviceFlow is the headless variant: the provider issues a short user code
// the operator enters on a separate device while this process polls the
// token endpoint.
type DeviceFlow struct {
	credential    *credentials.ClientCredential
	deviceAuthURL string
	cache         *tokencache.Cache
}

// NewDeviceFlow creates a DeviceFlow over the given client credential,
// device authorization endpoint, and token cache.
func NewDeviceFlow(
	credential *credentials.ClientCredential,
	deviceAuthURL string,
	cache *tokencache.Cache,
) (*DeviceFlow, error) {
	if credential == nil {
		return nil, fmt.Errorf("%w: device flow requires a client credential", ErrConfiguration)
	}
	if deviceAuthURL == "" {
		return nil, fmt.Errorf("%w: device flow requires a device authorization URL", ErrConfiguration)
	}
	return &DeviceFlow{
		credential:    credential,
		deviceAuthURL: deviceAuthURL,
		cache:         cache,
	}, nil
}

// Authenticate returns a bearer token for the given scopes, starting a new
// device authorization only when the cache cannot supply one.
func (f *DeviceFlow) Authenticate(ctx context.Context, scopes []string) (core.AccessToken, error) {
	guard, err := f.cache.Lock(ctx)
	if err != nil {
		return "", err
	}
	defer guard.Unlock()

	core.AddAttributes(ctx, attribute.String("auth.flow", "device"))

	config := &oauth2.Config{
		ClientID:     f.credential.ClientID,
		ClientSecret: f.credential.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:       f.credential.AuthURI,
			TokenURL:      f.credential.TokenURI,
			DeviceAuthURL: f.deviceAuthURL,
			AuthStyle:     oauth2.AuthStyleInParams,
		},
		Scopes: scopes,
	}

	return tokencache.Authenticate(ctx, scopes, guard,
		func(ctx context.Context, scopes []string) (core.TokenResponse, error) {
			return f.obtainNewToken(ctx, config, scopes)
		},
		func(ctx context.Context, refreshToken string, scopes []string) (core.TokenResponse, error) {
			return refresh(ctx, config, refreshToken)
		},
	)
}

// DeviceAuthorization is the provider's device-authorization response.
// Unknown fields are preserved in Extra so future provider fields never
// break decoding.
type DeviceAuthorization struct {
	DeviceCode      string
	UserCode        string
	VerificationURI string
	// ExpiresIn is the device code lifetime in seconds.
	ExpiresIn int64
	// Interval is the minimum polling interval in seconds.
	Interval int64
	Extra    map[string]any
}

// UnmarshalJSON decodes the response, accepting both the RFC 8628
// verification_uri spelling and the verification_url variant some providers
// use, and keeping everything else in Extra.
func (d *DeviceAuthorization) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*d = DeviceAuthorization{}
	for key, value := range raw {
		var err error
		switch key {
		case "device_code":
			err = json.Unmarshal(value, &d.DeviceCode)
		case "user_code":
			err = json.Unmarshal(value, &d.UserCode)
		case "verification_uri", "verification_url":
			err = json.Unmarshal(value, &d.VerificationURI)
		case "expires_in":
			var n float64
			err = json.Unmarshal(value, &n)
			d.ExpiresIn = int64(n)
		case "interval":
			var n float64
			err = json.Unmarshal(value, &n)
			d.Interval = int64(n)
		default:
			if d.Extra == nil {
				d.Extra = make(map[string]any)
			}
			var v any
			err = json.Unmarshal(value, &v)
			d.Extra[key] = v
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// obtainNewToken requests a device code, shows the operator where to enter
// it, and polls the token endpoint at the provider-specified cadence (the
// polling loop itself is the oauth2 library's).
func (f *DeviceFlow) obtainNewToken(ctx context.Context, config *oauth2.Config, scopes []string) (core.TokenResponse, error) {
	logger := core.LoggerFromCtx(ctx)

	authorization, err := f.requestDeviceCode(ctx, scopes)
	if err != nil {
		return core.TokenResponse{}, err
	}

	logger.Info("Open this URL in a browser on another device and enter the code",
		"url", authorization.VerificationURI,
		"code", authorization.UserCode)

	response := &oauth2.DeviceAuthResponse{
		DeviceCode:      authorization.DeviceCode,
		UserCode:        authorization.UserCode,
		VerificationURI: authorization.VerificationURI,
		Interval:        authorization.Interval,
	}
	if authorization.ExpiresIn > 0 {
		response.Expiry = time.Now().Add(time.Duration(authorization.ExpiresIn) * time.Second)
	}

	tok, err := config.DeviceAccessToken(ctx, response)
	if err != nil {
		return core.TokenResponse{}, fmt.Errorf("failed to exchange device code: %w", wrapTokenError(err))
	}

	result := tokenResponse(tok, time.Now())
	warnIfNotRefreshable(ctx, result)
	return result, nil
}

// requestDeviceCode posts the device-authorization request directly so the
// response's unknown fields survive decoding.
func (f *DeviceFlow) requestDeviceCode(ctx context.Context, scopes []string) (*DeviceAuthorization, error) {
	form := url.Values{
		"client_id": {f.credential.ClientID},
		"scope":     {strings.Join(scopes, " ")},
	}
	if f.credential.ClientSecret != "" {
		form.Set("client_secret", f.credential.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.deviceAuthURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build device authorization request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := contextClient(ctx).Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to request device code: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read device authorization response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ServerError{StatusCode: resp.StatusCode, Body: prettyJSON(body)}
	}

	var authorization DeviceAuthorization
	if err := json.Unmarshal(body, &authorization); err != nil {
		return nil, fmt.Errorf("failed to decode device authorization response: %w", err)
	}
	return &authorization, nil
}
