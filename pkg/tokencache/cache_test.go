package tokencache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/email-weather/oauthflow/pkg/core"
)

// callbacks counts orchestrator invocations and records their arguments.
type callbacks struct {
	mu             sync.Mutex
	obtainCalls    int
	refreshCalls   int
	refreshedWith  string
	refreshScopes  []string
	obtainResponse core.TokenResponse
	refreshResult  core.TokenResponse
}

func (c *callbacks) obtain(ctx context.Context, scopes []string) (core.TokenResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.obtainCalls++
	return c.obtainResponse, nil
}

func (c *callbacks) refresh(ctx context.Context, refreshToken string, scopes []string) (core.TokenResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshCalls++
	c.refreshedWith = refreshToken
	c.refreshScopes = scopes
	return c.refreshResult, nil
}

func authenticateOnce(t *testing.T, cache *Cache, cb *callbacks, scopes []string) core.AccessToken {
	t.Helper()
	ctx := context.Background()
	guard, err := cache.Lock(ctx)
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	defer guard.Unlock()

	token, err := Authenticate(ctx, scopes, guard, cb.obtain, cb.refresh)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	return token
}

func TestAuthenticate_EmptyCacheObtains(t *testing.T) {
	cache := New(NewMemoryStore())
	cb := &callbacks{obtainResponse: core.TokenResponse{AccessToken: "fresh", ExpiresIn: 3600}}

	token := authenticateOnce(t, cache, cb, []string{"scope-a"})

	if token.Secret() != "fresh" {
		t.Errorf("Authenticate() = %q, want %q", token.Secret(), "fresh")
	}
	if cb.obtainCalls != 1 {
		t.Errorf("obtain called %d times, want 1", cb.obtainCalls)
	}
	if cb.refreshCalls != 0 {
		t.Errorf("refresh called %d times, want 0", cb.refreshCalls)
	}

	// The obtained token must be persisted with a computed absolute expiry.
	data, err := cache.store.Read(context.Background())
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if data.ExpiresTime == nil {
		t.Fatal("persisted data has no ExpiresTime")
	}
	if remaining := time.Until(*data.ExpiresTime); remaining < 59*time.Minute || remaining > time.Hour {
		t.Errorf("persisted expiry %v from now, want about 1h", remaining)
	}
}

func TestAuthenticate_UnexpiredCacheSkipsNetwork(t *testing.T) {
	cache := New(NewMemoryStore())
	future := time.Now().Add(time.Hour)
	seed := &Data{
		Response:    core.TokenResponse{AccessToken: "cached"},
		ExpiresTime: &future,
	}
	if err := cache.store.Write(context.Background(), seed); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	cb := &callbacks{}
	token := authenticateOnce(t, cache, cb, nil)

	if token.Secret() != "cached" {
		t.Errorf("Authenticate() = %q, want cached token", token.Secret())
	}
	if cb.obtainCalls != 0 || cb.refreshCalls != 0 {
		t.Errorf("callbacks invoked (obtain=%d refresh=%d), want none", cb.obtainCalls, cb.refreshCalls)
	}
}

func TestAuthenticate_NoExpiryNeverRefreshes(t *testing.T) {
	cache := New(NewMemoryStore())
	seed := &Data{Response: core.TokenResponse{AccessToken: "eternal", RefreshToken: "rt"}}
	if err := cache.store.Write(context.Background(), seed); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	cb := &callbacks{}
	token := authenticateOnce(t, cache, cb, nil)

	if token.Secret() != "eternal" {
		t.Errorf("Authenticate() = %q, want cached token", token.Secret())
	}
	if cb.obtainCalls != 0 || cb.refreshCalls != 0 {
		t.Errorf("callbacks invoked (obtain=%d refresh=%d), want none", cb.obtainCalls, cb.refreshCalls)
	}
}

func TestAuthenticate_ExpiredWithRefreshToken(t *testing.T) {
	cache := New(NewMemoryStore())
	past := time.Now().Add(-time.Minute)
	seed := &Data{
		Response:    core.TokenResponse{AccessToken: "stale", RefreshToken: "rt-original"},
		ExpiresTime: &past,
	}
	if err := cache.store.Write(context.Background(), seed); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	// The refresh response deliberately omits a refresh token.
	cb := &callbacks{refreshResult: core.TokenResponse{AccessToken: "rotated", ExpiresIn: 3600}}
	scopes := []string{"scope-a", "scope-b"}
	token := authenticateOnce(t, cache, cb, scopes)

	if token.Secret() != "rotated" {
		t.Errorf("Authenticate() = %q, want refreshed token", token.Secret())
	}
	if cb.refreshCalls != 1 {
		t.Errorf("refresh called %d times, want 1", cb.refreshCalls)
	}
	if cb.obtainCalls != 0 {
		t.Errorf("obtain called %d times, want 0", cb.obtainCalls)
	}
	if cb.refreshedWith != "rt-original" {
		t.Errorf("refresh called with %q, want the cached refresh token", cb.refreshedWith)
	}
	if len(cb.refreshScopes) != 2 {
		t.Errorf("refresh called with scopes %v, want the requested scopes", cb.refreshScopes)
	}

	// Refresh tokens are reused across rotations unless explicitly replaced.
	data, err := cache.store.Read(context.Background())
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if data.Response.RefreshToken != "rt-original" {
		t.Errorf("persisted RefreshToken = %q, want the original", data.Response.RefreshToken)
	}
	if data.Response.AccessToken != "rotated" {
		t.Errorf("persisted AccessToken = %q, want the rotated one", data.Response.AccessToken)
	}
}

func TestAuthenticate_ExpiredWithoutRefreshToken(t *testing.T) {
	cache := New(NewMemoryStore())
	past := time.Now().Add(-time.Minute)
	seed := &Data{
		Response:    core.TokenResponse{AccessToken: "stale"},
		ExpiresTime: &past,
	}
	if err := cache.store.Write(context.Background(), seed); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	cb := &callbacks{obtainResponse: core.TokenResponse{AccessToken: "reconsented", ExpiresIn: 60}}
	token := authenticateOnce(t, cache, cb, nil)

	if token.Secret() != "reconsented" {
		t.Errorf("Authenticate() = %q, want newly obtained token", token.Secret())
	}
	if cb.obtainCalls != 1 {
		t.Errorf("obtain called %d times, want 1", cb.obtainCalls)
	}
	if cb.refreshCalls != 0 {
		t.Errorf("refresh called %d times, want 0", cb.refreshCalls)
	}
}

func TestCache_LockSerializesCallers(t *testing.T) {
	cache := New(NewMemoryStore())
	cb := &callbacks{obtainResponse: core.TokenResponse{AccessToken: "shared", ExpiresIn: 3600}}

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := context.Background()
			guard, err := cache.Lock(ctx)
			if err != nil {
				errs <- err
				return
			}
			defer guard.Unlock()
			_, err = Authenticate(ctx, nil, guard, cb.obtain, cb.refresh)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Authenticate() error = %v", err)
		}
	}

	// The first caller fills the cache; the rest must observe its entry
	// instead of triggering duplicate exchanges.
	if cb.obtainCalls != 1 {
		t.Errorf("obtain called %d times across concurrent callers, want 1", cb.obtainCalls)
	}
}

func TestCache_LockHonoursContext(t *testing.T) {
	cache := New(NewMemoryStore())

	guard, err := cache.Lock(context.Background())
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	defer guard.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := cache.Lock(ctx); err == nil {
		t.Error("Lock() on a held cache with an expiring context should fail")
	}
}
