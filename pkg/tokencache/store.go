// Package tokencache persists the most recent OAuth2 token response and
// decides, per authenticate call, whether to reuse it, refresh it, or obtain
// a new one.
package tokencache

import (
	"context"
	"errors"
)

var (
	// ErrNilData is returned when attempting to write a nil cache entry.
	ErrNilData = errors.New("token cache data cannot be nil")
	// ErrNoData is returned by Read when the backend holds no entry.
	ErrNoData = errors.New("token cache holds no data")
)

// Store is one backend holding at most one cache entry. The entry is always
// replaced wholesale; backends never merge fields.
type Store interface {
	// Exists reports whether an entry is present. Absence is not an error.
	Exists(ctx context.Context) (bool, error)
	// Read returns the stored entry with its relative expiry cleared.
	Read(ctx context.Context) (*Data, error)
	// Write replaces the stored entry.
	Write(ctx context.Context, data *Data) error
}
