package tokencache

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/email-weather/oauthflow/pkg/core"
)

// Cache binds one Store to an exclusive lock. Each authentication flow owns
// exactly one Cache; the lock serializes concurrent Authenticate calls so
// the second caller observes the first caller's freshly written entry
// instead of triggering a duplicate exchange.
type Cache struct {
	store Store
	sem   chan struct{}
}

// New creates a Cache over the given store.
func New(store Store) *Cache {
	return &Cache{
		store: store,
		sem:   make(chan struct{}, 1),
	}
}

// NewFile creates a Cache over a file store at path.
func NewFile(path string) *Cache {
	return New(NewFileStore(path))
}

// Lock acquires exclusive access to the cache for the duration of one
// authenticate call. It parks the calling goroutine rather than spinning,
// and gives up when ctx is cancelled.
func (c *Cache) Lock(ctx context.Context) (*Guard, error) {
	select {
	case c.sem <- struct{}{}:
		return &Guard{cache: c}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to lock token cache: %w", ctx.Err())
	}
}

// Guard is exclusive access to one Cache, obtained via Cache.Lock.
type Guard struct {
	cache    *Cache
	released bool
}

// Unlock releases the guard. Calling Unlock more than once is harmless.
func (g *Guard) Unlock() {
	if g.released {
		return
	}
	g.released = true
	<-g.cache.sem
}

// Exists reports whether the cache holds an entry.
func (g *Guard) Exists(ctx context.Context) (bool, error) {
	return g.cache.store.Exists(ctx)
}

// Read returns the cached entry.
func (g *Guard) Read(ctx context.Context) (*Data, error) {
	return g.cache.store.Read(ctx)
}

// Write replaces the cached entry.
func (g *Guard) Write(ctx context.Context, data *Data) error {
	return g.cache.store.Write(ctx, data)
}

// ObtainFunc performs a full token acquisition for the given scopes. It is
// the flow-specific "how": consent exchange, device polling, or a signed
// assertion.
type ObtainFunc func(ctx context.Context, scopes []string) (core.TokenResponse, error)

// RefreshFunc exchanges a refresh token for a new token response.
type RefreshFunc func(ctx context.Context, refreshToken string, scopes []string) (core.TokenResponse, error)

// Authenticate decides whether the cached token can be reused, refreshed, or
// must be re-obtained, performing at most one network exchange. The guard
// must be held for the whole call; writes happen only after a fully
// successful exchange, so a failed call never leaves a partial entry.
func Authenticate(
	ctx context.Context,
	scopes []string,
	guard *Guard,
	obtain ObtainFunc,
	refresh RefreshFunc,
) (core.AccessToken, error) {
	logger := core.LoggerFromCtx(ctx)
	now := time.Now()

	exists, err := guard.Exists(ctx)
	if err != nil {
		return "", err
	}

	var data *Data
	if !exists {
		logger.Debug("Token cache is empty, obtaining new token")
		response, err := obtain(ctx, scopes)
		if err != nil {
			return "", fmt.Errorf("failed to obtain new token: %w", err)
		}
		logger.Debug("Successfully obtained new token")
		data = NewData(response, time.Now())
		if err := guard.Write(ctx, data); err != nil {
			return "", err
		}
	} else {
		logger.Debug("Token cache exists, reading cached token")
		data, err = guard.Read(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to read token cache: %w", err)
		}

		if data.Expired(now) {
			logger.Debug("Cached token has expired")
			var response core.TokenResponse
			if prior := data.Response.RefreshToken; prior != "" {
				logger.Debug("Using refresh token to obtain a new token")
				response, err = refresh(ctx, prior, scopes)
				if err != nil {
					return "", fmt.Errorf("failed to refresh token: %w", err)
				}
				// Providers may omit the refresh token from a refresh
				// response; keep the prior one so future rotations still work.
				if response.RefreshToken == "" {
					logger.Debug("Refresh response omitted a refresh token, re-using the current one")
					response.RefreshToken = prior
				}
			} else {
				logger.Debug("No refresh token cached, obtaining a new token")
				response, err = obtain(ctx, scopes)
				if err != nil {
					return "", fmt.Errorf("failed to obtain new token: %w", err)
				}
			}
			data = NewData(response, time.Now())
			if err := guard.Write(ctx, data); err != nil {
				return "", err
			}
		}
	}

	refreshable := data.Response.RefreshToken != ""
	if remaining, ok := data.ExpiresIn(time.Now()); ok {
		if refreshable {
			logger.Debug("Token lifetime",
				"expires_in", remaining.Round(time.Second).String(),
				"refreshable", true)
		} else {
			logger.Debug("Token lifetime; no refresh token cached, expiry will require a new consent",
				"expires_in", remaining.Round(time.Second).String(),
				"refreshable", false)
		}
		core.AddAttributes(ctx,
			attribute.String("auth.token_expires_in", remaining.Round(time.Second).String()),
			attribute.Bool("auth.token_refreshable", refreshable),
		)
	} else {
		logger.Warn("Token has no expiration time")
		core.AddAttributes(ctx,
			attribute.Bool("auth.token_never_expires", true),
			attribute.Bool("auth.token_refreshable", refreshable),
		)
	}

	return core.AccessToken(data.Response.AccessToken), nil
}
