// Package credentials parses the immutable OAuth2 client and service
// account configuration this application authenticates with, and resolves
// where each secret is loaded from (environment or secrets directory).
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNoCredential is returned when a credential envelope contains
	// neither an installed nor a web client definition.
	ErrNoCredential = errors.New("credential envelope contains no installed or web client")
	// ErrNotServiceAccount is returned when a key file is not of type
	// service_account.
	ErrNotServiceAccount = errors.New("key file type is not service_account")
)

// ClientCredential is a parsed OAuth2 client definition. Loaded once at
// startup and never mutated.
type ClientCredential struct {
	// ClientID identifies the application to the provider.
	ClientID string `json:"client_id"`
	// ClientSecret authenticates the application. Never logged.
	ClientSecret string `json:"client_secret"`
	// ProjectID names the provider project the credential belongs to.
	ProjectID string `json:"project_id,omitempty"`
	// AuthURI is the authorization server endpoint.
	AuthURI string `json:"auth_uri"`
	// TokenURI is the token server endpoint.
	TokenURI string `json:"token_uri"`
	// AuthProviderX509CertURL points at the provider's public certificates.
	AuthProviderX509CertURL string `json:"auth_provider_x509_cert_url,omitempty"`
	// RedirectURIs lists the redirect URIs registered for this client.
	RedirectURIs []string `json:"redirect_uris,omitempty"`
}

// envelope is the {"installed": {...}} / {"web": {...}} wrapper used by
// downloadable client secret files.
type envelope struct {
	Installed *ClientCredential `json:"installed"`
	Web       *ClientCredential `json:"web"`
}

// ParseClientCredential decodes a client secret JSON document wrapped in an
// installed or web envelope.
func ParseClientCredential(data []byte) (*ClientCredential, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to deserialize client credential: %w", err)
	}
	switch {
	case env.Installed != nil:
		return env.Installed, nil
	case env.Web != nil:
		return env.Web, nil
	default:
		return nil, ErrNoCredential
	}
}

// ServiceAccountKey is a parsed service account private key file. Loaded
// once at startup and never mutated.
type ServiceAccountKey struct {
	Type string `json:"type"`
	// ProjectID names the provider project the key belongs to.
	ProjectID    string `json:"project_id,omitempty"`
	PrivateKeyID string `json:"private_key_id"`
	// PrivateKey is the PEM-encoded RSA key used to sign assertions.
	// Never logged.
	PrivateKey string `json:"private_key"`
	// ClientEmail is the service account's email address, used as the JWT
	// issuer.
	ClientEmail string `json:"client_email"`
	ClientID    string `json:"client_id,omitempty"`
	AuthURI     string `json:"auth_uri,omitempty"`
	// TokenURI is the token endpoint the signed assertion is posted to.
	TokenURI                string `json:"token_uri"`
	AuthProviderX509CertURL string `json:"auth_provider_x509_cert_url,omitempty"`
	ClientX509CertURL       string `json:"client_x509_cert_url,omitempty"`
}

// ParseServiceAccountKey decodes a service account key JSON document.
func ParseServiceAccountKey(data []byte) (*ServiceAccountKey, error) {
	var key ServiceAccountKey
	if err := json.Unmarshal(data, &key); err != nil {
		return nil, fmt.Errorf("failed to deserialize service account key: %w", err)
	}
	if key.Type != "service_account" {
		return nil, fmt.Errorf("%w: %q", ErrNotServiceAccount, key.Type)
	}
	return &key, nil
}
