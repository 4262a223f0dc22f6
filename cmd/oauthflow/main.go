// Command oauthflow performs one OAuth2 authentication with the configured
// flow and prints a masked bearer token. It doubles as the wiring example
// for the flows, the token cache, and the consent redirect server.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/appleboy/graceful"

	"github.com/email-weather/oauthflow/pkg/core"
	"github.com/email-weather/oauthflow/pkg/credentials"
	"github.com/email-weather/oauthflow/pkg/flow"
	"github.com/email-weather/oauthflow/pkg/logger"
	"github.com/email-weather/oauthflow/pkg/redirect"
	"github.com/email-weather/oauthflow/pkg/tokencache"
	"github.com/email-weather/oauthflow/pkg/xoauth2"
)

func main() {
	var flowName string
	var consentName string
	var secretsDir string
	var scopesFlag string
	var addr string
	var redirectURL string
	var deviceAuthURL string
	var storeType string
	var cacheKey string
	var redisAddr string
	var redisPassword string
	var redisDB int
	var logLevel string
	var user string
	flag.StringVar(&flowName, "flow", "installed", "Authentication flow: installed, device, or serviceaccount")
	flag.StringVar(&consentName, "consent", "oob", "Consent mechanism for the installed flow: oob or http")
	flag.StringVar(&secretsDir, "secrets-dir", "secrets", "Directory holding credential files and the token cache")
	flag.StringVar(&scopesFlag, "scopes", "https://mail.google.com/", "Comma-separated OAuth2 scopes")
	flag.StringVar(&addr, "addr", ":8085", "Address for the consent redirect server (consent=http)")
	flag.StringVar(&redirectURL, "redirect-url", "http://localhost:8085/oauth2/", "Redirect URI registered with the provider (consent=http)")
	flag.StringVar(&deviceAuthURL, "device-auth-url", "https://oauth2.googleapis.com/device/code", "Device authorization endpoint (flow=device)")
	flag.StringVar(&storeType, "store", "file", "Token cache store: file, memory, or redis")
	flag.StringVar(&cacheKey, "cache-key", "oauthflow:token_cache", "Token cache key (store=redis)")
	flag.StringVar(&redisAddr, "redis-addr", "localhost:6379", "Redis address (store=redis)")
	flag.StringVar(&redisPassword, "redis-password", "", "Redis password (store=redis)")
	flag.IntVar(&redisDB, "redis-db", 0, "Redis database (store=redis)")
	flag.StringVar(&logLevel, "log-level", "", "Log level (DEBUG, INFO, WARN, ERROR). Defaults to DEBUG in development, INFO in production")
	flag.StringVar(&user, "user", "", "Mail account; when set, reports the XOAUTH2 initial response size")
	flag.Parse()

	logger.NewWithLevel(logLevel)

	secrets, err := credentials.Load(secretsDir)
	if err != nil {
		slog.Error("Failed to load secrets", "error", err)
		os.Exit(1)
	}

	store, err := tokencache.NewStore(tokencache.Config{
		Type: tokencache.ParseStoreType(storeType),
		Path: secrets.TokenCachePath,
		Key:  cacheKey,
		Redis: tokencache.RedisOptions{
			Addr:     redisAddr,
			Password: redisPassword,
			DB:       redisDB,
		},
	})
	if err != nil {
		slog.Error("Failed to create token cache store", "error", err)
		os.Exit(1)
	}
	cache := tokencache.New(store)

	scopes := splitScopes(scopesFlag)
	m := graceful.NewManager()

	if redisStore, ok := store.(*tokencache.RedisStore); ok {
		m.AddShutdownJob(func() error {
			redisStore.Close()
			return nil
		})
	}

	authFlow, err := buildFlow(m, flowName, consentName, secrets, cache, addr, redirectURL, deviceAuthURL)
	if err != nil {
		slog.Error("Failed to build authentication flow", "flow", flowName, "error", err)
		os.Exit(1)
	}

	m.AddRunningJob(func(ctx context.Context) error {
		ctx = core.WithAttemptID(ctx)
		logger := core.LoggerFromCtx(ctx)

		token, err := authFlow.Authenticate(ctx, scopes)
		if err != nil {
			logger.Error("Authentication failed", "error", err)
			m.DoGracefulShutdown()
			return err
		}

		logger.Info("Authentication succeeded", "token", token.String())
		if user != "" {
			response := xoauth2.InitialResponse(user, token)
			logger.Info("XOAUTH2 initial response ready", "user", user, "bytes", len(response))
		}
		m.DoGracefulShutdown()
		return nil
	})

	<-m.Done()
}

// splitScopes parses the comma-separated scopes flag.
func splitScopes(s string) []string {
	var scopes []string
	for _, scope := range strings.Split(s, ",") {
		if scope = strings.TrimSpace(scope); scope != "" {
			scopes = append(scopes, scope)
		}
	}
	return scopes
}

// buildFlow constructs the requested flow, starting the consent redirect
// server under the graceful manager when the http consent mechanism is
// selected.
func buildFlow(
	m *graceful.Manager,
	flowName, consentName string,
	secrets *credentials.Secrets,
	cache *tokencache.Cache,
	addr, redirectURL, deviceAuthURL string,
) (flow.Flow, error) {
	switch flowName {
	case "installed":
		var consent flow.ConsentRedirect
		switch consentName {
		case "http":
			params := make(chan redirect.Params, 1)
			srv := redirect.NewServer(addr, params)
			m.AddRunningJob(func(ctx context.Context) error {
				slog.Info("Consent redirect server listening", "addr", addr)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					return err
				}
				return nil
			})
			m.AddShutdownJob(func() error {
				return srv.Shutdown(context.Background())
			})
			consent = &flow.HTTPRedirect{Params: params, URL: redirectURL}
		default:
			consent = &flow.OutOfBand{}
		}
		return flow.NewInstalledFlow(secrets.ClientCredential, consent, cache)
	case "device":
		return flow.NewDeviceFlow(secrets.ClientCredential, deviceAuthURL, cache)
	case "serviceaccount":
		return flow.NewServiceAccountFlow(secrets.ServiceAccountKey, cache)
	default:
		return nil, flow.ErrConfiguration
	}
}
