package core

import (
	"encoding/json"
	"math"
	"time"
)

// AccessToken is the bearer credential returned over the module boundary.
// Its String method masks the value; logging an AccessToken directly never
// reveals the full secret.
type AccessToken string

// Secret returns the raw bearer string for use in protocol exchanges.
func (t AccessToken) Secret() string {
	return string(t)
}

// String returns a masked rendering of the token: the first 6 and last 2
// characters with the middle hidden, or just asterisks for short tokens.
func (t AccessToken) String() string {
	s := string(t)
	switch {
	case len(s) > 8:
		return s[:6] + "****" + s[len(s)-2:]
	case len(s) > 0:
		return "****"
	default:
		return ""
	}
}

// TokenResponse is the opaque token payload returned by an OAuth2 provider.
// Fields this module does not know about are preserved in Extra so a
// round-trip through the cache never drops provider data.
type TokenResponse struct {
	AccessToken  string
	TokenType    string
	RefreshToken string
	// ExpiresIn is the relative lifetime in seconds, valid only at the
	// instant the response was received. Cleared when loaded from cache.
	ExpiresIn int64
	Scope     string
	Extra     map[string]any
}

// known JSON keys lifted out of Extra.
const (
	keyAccessToken  = "access_token"
	keyTokenType    = "token_type"
	keyRefreshToken = "refresh_token"
	keyExpiresIn    = "expires_in"
	keyScope        = "scope"
)

// UnmarshalJSON decodes a provider token payload, keeping unknown fields.
func (r *TokenResponse) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = TokenResponse{}
	for key, value := range raw {
		switch key {
		case keyAccessToken:
			if err := json.Unmarshal(value, &r.AccessToken); err != nil {
				return err
			}
		case keyTokenType:
			if err := json.Unmarshal(value, &r.TokenType); err != nil {
				return err
			}
		case keyRefreshToken:
			if err := json.Unmarshal(value, &r.RefreshToken); err != nil {
				return err
			}
		case keyExpiresIn:
			var n float64
			if err := json.Unmarshal(value, &n); err != nil {
				return err
			}
			r.ExpiresIn = int64(n)
		case keyScope:
			if err := json.Unmarshal(value, &r.Scope); err != nil {
				return err
			}
		default:
			if r.Extra == nil {
				r.Extra = make(map[string]any)
			}
			var v any
			if err := json.Unmarshal(value, &v); err != nil {
				return err
			}
			r.Extra[key] = v
		}
	}
	return nil
}

// MarshalJSON encodes the payload, merging Extra back in. Known fields win
// over identically named Extra entries.
func (r TokenResponse) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Extra)+5)
	for key, value := range r.Extra {
		out[key] = value
	}
	out[keyAccessToken] = r.AccessToken
	if r.TokenType != "" {
		out[keyTokenType] = r.TokenType
	}
	if r.RefreshToken != "" {
		out[keyRefreshToken] = r.RefreshToken
	}
	if r.ExpiresIn != 0 {
		out[keyExpiresIn] = r.ExpiresIn
	}
	if r.Scope != "" {
		out[keyScope] = r.Scope
	}
	return json.Marshal(out)
}

// Expiry converts the relative ExpiresIn into an absolute instant based on
// now. Returns nil when the provider declared no lifetime.
func (r TokenResponse) Expiry(now time.Time) *time.Time {
	if r.ExpiresIn <= 0 || r.ExpiresIn > math.MaxInt64/int64(time.Second) {
		return nil
	}
	t := now.Add(time.Duration(r.ExpiresIn) * time.Second)
	return &t
}
