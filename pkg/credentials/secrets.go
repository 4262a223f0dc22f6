package credentials

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Environment variables honoured by Load. Each secret can be provided
// through the environment for container deployments, falling back to a file
// in the secrets directory.
const (
	EnvClientSecret      = "CLIENT_SECRET"
	EnvServiceAccountKey = "SERVICE_ACCOUNT_KEY"
	EnvTokenCache        = "TOKEN_CACHE"
	EnvDeleteTokenCache  = "DELETE_TOKEN_CACHE"
	EnvOverwriteCache    = "OVERWRITE_TOKEN_CACHE"
)

// File names resolved inside the secrets directory.
const (
	clientSecretFile      = "client_secret.json"
	serviceAccountKeyFile = "service_account_key.json"
	tokenCacheFile        = "token_cache.json"
)

// Secrets is everything the authentication flows need from disk or the
// environment. Either credential may be absent; each flow checks for the
// one it requires at construction time.
type Secrets struct {
	// TokenCachePath is where the token cache file lives. The file itself
	// is owned by the token cache, not by this loader.
	TokenCachePath string
	// ClientCredential is the installed/web client, if provided.
	ClientCredential *ClientCredential
	// ServiceAccountKey is the service account key, if provided.
	ServiceAccountKey *ServiceAccountKey
}

// Load resolves all secrets from the environment and the given directory.
// Environment variables win over files; a missing optional secret is nil.
func Load(secretsDir string) (*Secrets, error) {
	credential, err := loadClientCredential(secretsDir)
	if err != nil {
		return nil, err
	}

	key, err := loadServiceAccountKey(secretsDir)
	if err != nil {
		return nil, err
	}

	cachePath, err := initializeTokenCache(secretsDir)
	if err != nil {
		return nil, err
	}

	return &Secrets{
		TokenCachePath:    cachePath,
		ClientCredential:  credential,
		ServiceAccountKey: key,
	}, nil
}

func loadClientCredential(secretsDir string) (*ClientCredential, error) {
	if raw, ok := os.LookupEnv(EnvClientSecret); ok {
		slog.Debug("Reading client secret from environment", "var", EnvClientSecret)
		credential, err := ParseClientCredential([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s environment variable: %w", EnvClientSecret, err)
		}
		return credential, nil
	}

	path := filepath.Join(secretsDir, clientSecretFile)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read client secret file %s: %w", path, err)
	}
	slog.Debug("Read client secret from file", "path", path)

	credential, err := ParseClientCredential(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse client secret file %s: %w", path, err)
	}
	return credential, nil
}

func loadServiceAccountKey(secretsDir string) (*ServiceAccountKey, error) {
	if raw, ok := os.LookupEnv(EnvServiceAccountKey); ok {
		slog.Debug("Reading service account key from environment", "var", EnvServiceAccountKey)
		key, err := ParseServiceAccountKey([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s environment variable: %w", EnvServiceAccountKey, err)
		}
		return key, nil
	}

	path := filepath.Join(secretsDir, serviceAccountKeyFile)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read service account key file %s: %w", path, err)
	}
	slog.Debug("Read service account key from file", "path", path)

	key, err := ParseServiceAccountKey(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service account key file %s: %w", path, err)
	}
	return key, nil
}

// initializeTokenCache resolves the cache path, optionally deleting a stale
// cache (DELETE_TOKEN_CACHE) and seeding the file from the TOKEN_CACHE
// environment variable. An existing file is only replaced by the seed when
// OVERWRITE_TOKEN_CACHE=true.
func initializeTokenCache(secretsDir string) (string, error) {
	path := filepath.Join(secretsDir, tokenCacheFile)

	if _, ok := os.LookupEnv(EnvDeleteTokenCache); ok {
		if _, err := os.Stat(path); err == nil {
			slog.Warn("Deleting existing token cache file", "path", path)
			if err := os.Remove(path); err != nil {
				return "", fmt.Errorf("failed to remove token cache file %s: %w", path, err)
			}
		}
	}

	seed, ok := os.LookupEnv(EnvTokenCache)
	if !ok {
		return path, nil
	}

	write := true
	if _, err := os.Stat(path); err == nil {
		if os.Getenv(EnvOverwriteCache) == "true" {
			slog.Warn("Overwriting existing token cache file with environment seed", "path", path)
		} else {
			slog.Debug("Token cache file already exists, will not overwrite", "path", path)
			write = false
		}
	}
	if write {
		slog.Debug("Seeding token cache from environment", "var", EnvTokenCache, "path", path)
		if err := os.WriteFile(path, []byte(seed), 0o600); err != nil {
			return "", fmt.Errorf("failed to seed token cache file %s: %w", path, err)
		}
	}
	return path, nil
}
