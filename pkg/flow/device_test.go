package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/email-weather/oauthflow/pkg/tokencache"
)

func TestDeviceAuthorization_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantURI string
		wantExtra bool
	}{
		{
			name: "rfc verification_uri",
			input: `{
				"device_code": "dev-code",
				"user_code": "ABCD-EFGH",
				"verification_uri": "https://example.com/device",
				"expires_in": 1800,
				"interval": 5
			}`,
			wantURI: "https://example.com/device",
		},
		{
			name: "verification_url variant with extras",
			input: `{
				"device_code": "dev-code",
				"user_code": "ABCD-EFGH",
				"verification_url": "https://example.com/device",
				"expires_in": 1800,
				"interval": 5,
				"verification_uri_complete": "https://example.com/device?user_code=ABCD-EFGH"
			}`,
			wantURI:   "https://example.com/device",
			wantExtra: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var authorization DeviceAuthorization
			if err := json.Unmarshal([]byte(tt.input), &authorization); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if authorization.DeviceCode != "dev-code" {
				t.Errorf("DeviceCode = %q", authorization.DeviceCode)
			}
			if authorization.UserCode != "ABCD-EFGH" {
				t.Errorf("UserCode = %q", authorization.UserCode)
			}
			if authorization.VerificationURI != tt.wantURI {
				t.Errorf("VerificationURI = %q, want %q", authorization.VerificationURI, tt.wantURI)
			}
			if authorization.ExpiresIn != 1800 || authorization.Interval != 5 {
				t.Errorf("ExpiresIn/Interval = %d/%d, want 1800/5", authorization.ExpiresIn, authorization.Interval)
			}
			if tt.wantExtra {
				if _, ok := authorization.Extra["verification_uri_complete"]; !ok {
					t.Error("unknown field verification_uri_complete not preserved in Extra")
				}
			}
		})
	}
}

func TestDeviceFlow_Authenticate(t *testing.T) {
	var deviceHits, tokenHits atomic.Int64
	var deviceCodeSeen atomic.Value

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/device", func(w http.ResponseWriter, r *http.Request) {
		deviceHits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"device_code": "dev-code-1",
			"user_code": "ABCD-EFGH",
			"verification_url": "https://example.com/device",
			"expires_in": 1800,
			"interval": 1
		}`)
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		tokenHits.Add(1)
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		deviceCodeSeen.Store(r.PostForm.Get("device_code"))
		jsonToken("device-access-token", "device-refresh-token", 3600)(w, r)
	})

	credential := testCredential(server.URL + "/token")
	flow, err := NewDeviceFlow(credential, server.URL+"/device", tokencache.New(tokencache.NewMemoryStore()))
	if err != nil {
		t.Fatalf("NewDeviceFlow() error = %v", err)
	}

	token, err := flow.Authenticate(context.Background(), []string{"https://mail.example.com/"})
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if token.Secret() != "device-access-token" {
		t.Errorf("Authenticate() = %q, want device-access-token", token.Secret())
	}
	if n := deviceHits.Load(); n != 1 {
		t.Errorf("device authorization hits = %d, want 1", n)
	}
	if n := tokenHits.Load(); n != 1 {
		t.Errorf("token endpoint hits = %d, want 1", n)
	}
	if code, _ := deviceCodeSeen.Load().(string); code != "dev-code-1" {
		t.Errorf("polled device_code = %q, want dev-code-1", code)
	}

	// The cached token must be reused without another authorization.
	if _, err := flow.Authenticate(context.Background(), []string{"https://mail.example.com/"}); err != nil {
		t.Fatalf("second Authenticate() error = %v", err)
	}
	if n := deviceHits.Load(); n != 1 {
		t.Errorf("device authorization hits after reuse = %d, want 1", n)
	}
}

func TestDeviceFlow_Authenticate_AuthorizationError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":"access_denied"}`)
	}))
	defer server.Close()

	flow, err := NewDeviceFlow(testCredential(server.URL), server.URL, tokencache.New(tokencache.NewMemoryStore()))
	if err != nil {
		t.Fatalf("NewDeviceFlow() error = %v", err)
	}

	_, err = flow.Authenticate(context.Background(), []string{"https://mail.example.com/"})
	var serverErr *ServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("Authenticate() error = %v, want *ServerError", err)
	}
	if serverErr.StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d, want 403", serverErr.StatusCode)
	}
}

func TestNewDeviceFlow_Validation(t *testing.T) {
	cache := tokencache.New(tokencache.NewMemoryStore())

	if _, err := NewDeviceFlow(nil, "https://example.com/device", cache); !errors.Is(err, ErrConfiguration) {
		t.Errorf("NewDeviceFlow(nil credential) error = %v, want ErrConfiguration", err)
	}
	if _, err := NewDeviceFlow(testCredential("https://oauth2.example.com/token"), "", cache); !errors.Is(err, ErrConfiguration) {
		t.Errorf("NewDeviceFlow(no device URL) error = %v, want ErrConfiguration", err)
	}
}
