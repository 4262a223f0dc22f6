package tokencache

import (
	"fmt"
	"strings"
)

// StoreType represents the type of cache backend.
type StoreType string

const (
	// StoreTypeFile represents the crash-survivable on-disk backend.
	StoreTypeFile StoreType = "file"
	// StoreTypeMemory represents in-memory storage.
	StoreTypeMemory StoreType = "memory"
	// StoreTypeRedis represents Redis storage.
	StoreTypeRedis StoreType = "redis"
)

// Config contains configuration for creating a cache store.
type Config struct {
	// Type specifies the backend (file, memory or redis).
	Type StoreType
	// Path is the cache file path (file backend only).
	Path string
	// Key is the cache key (redis backend only).
	Key string
	// Redis contains Redis-specific configuration.
	Redis RedisOptions
}

// Factory creates cache store instances based on configuration.
type Factory struct {
	config Config
}

// NewFactory creates a new store factory with the provided configuration.
func NewFactory(config Config) *Factory {
	return &Factory{
		config: config,
	}
}

// Create creates and returns a new store instance based on the factory
// configuration. Returns an error if the store type is invalid or if store
// creation fails.
func (f *Factory) Create() (Store, error) {
	switch f.config.Type {
	case StoreTypeFile:
		if f.config.Path == "" {
			return nil, fmt.Errorf("file store requires a cache path")
		}
		return NewFileStore(f.config.Path), nil
	case StoreTypeMemory:
		return NewMemoryStore(), nil
	case StoreTypeRedis:
		if f.config.Key == "" {
			return nil, fmt.Errorf("redis store requires a cache key")
		}
		return NewRedisStoreFromOptions(f.config.Redis, f.config.Key)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", f.config.Type)
	}
}

// NewStore is a convenience function that creates a store directly from
// configuration. It's equivalent to NewFactory(config).Create().
func NewStore(config Config) (Store, error) {
	return NewFactory(config).Create()
}

// ParseStoreType parses a string into a StoreType.
// Returns StoreTypeFile for invalid inputs.
func ParseStoreType(s string) StoreType {
	switch strings.ToLower(s) {
	case "file":
		return StoreTypeFile
	case "memory":
		return StoreTypeMemory
	case "redis":
		return StoreTypeRedis
	default:
		return StoreTypeFile
	}
}

// String returns the string representation of a StoreType.
func (t StoreType) String() string {
	return string(t)
}

// IsValid returns true if the StoreType is valid.
func (t StoreType) IsValid() bool {
	switch t {
	case StoreTypeFile, StoreTypeMemory, StoreTypeRedis:
		return true
	default:
		return false
	}
}

// MustCreate creates a store and panics if creation fails. Useful for
// initialization where store creation must succeed.
func MustCreate(config Config) Store {
	store, err := NewStore(config)
	if err != nil {
		panic(fmt.Sprintf("failed to create token cache store: %v", err))
	}
	return store
}

// DefaultConfig returns the default configuration: a file store at path.
func DefaultConfig(path string) Config {
	return Config{
		Type: StoreTypeFile,
		Path: path,
	}
}
