package tokencache

import (
	"time"

	"github.com/email-weather/oauthflow/pkg/core"
)

// Data is one cache entry: the provider's token payload plus the absolute
// instant the access token expires. The absolute instant is computed once,
// when the response is received; the payload's relative expires_in is never
// trusted after that.
type Data struct {
	Response    core.TokenResponse `json:"response"`
	ExpiresTime *time.Time         `json:"expires_time"`
}

// NewData wraps a freshly received token response, converting its relative
// expires_in (if any) into an absolute expiry based on now.
func NewData(response core.TokenResponse, now time.Time) *Data {
	return &Data{
		Response:    response,
		ExpiresTime: response.Expiry(now),
	}
}

// Expired reports whether the entry's access token has expired at now.
// An entry without an expiry never expires.
func (d *Data) Expired(now time.Time) bool {
	return d.ExpiresTime != nil && d.ExpiresTime.Before(now)
}

// ExpiresIn returns the remaining lifetime of the access token at now,
// clamped at zero, and whether an expiry is known at all.
func (d *Data) ExpiresIn(now time.Time) (time.Duration, bool) {
	if d.ExpiresTime == nil {
		return 0, false
	}
	remaining := d.ExpiresTime.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// clearRelativeExpiry drops the transient expires_in field after a load so
// only ExpiresTime governs later decisions.
func (d *Data) clearRelativeExpiry() {
	d.Response.ExpiresIn = 0
}
