package middleware

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// hashKey produces a bcrypt hash at minimum cost to keep the tests fast.
func hashKey(t *testing.T, key string) string {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash key: %v", err)
	}

	return string(hash)
}

func authHandler(t *testing.T, keyHashes map[string]string) http.Handler {
	t.Helper()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client, _ := GetClientContext(r.Context())

		w.Header().Set("X-Client", client.Name)
		w.WriteHeader(http.StatusOK)
	})

	return AuthenticateAPIKey(keyHashes, discardLogger())(next)
}

func TestAuthenticateAPIKey_ValidKeyHeaders(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	keyHashes := map[string]string{"scheduler": hashKey(t, "secret-key")}
	handler := authHandler(t, keyHashes)

	tests := []struct {
		name   string
		header string
		value  string
	}{
		{name: "X-Api-Key header", header: "X-Api-Key", value: "secret-key"},
		{name: "Bearer token", header: "Authorization", value: "Bearer secret-key"},
		{name: "key with surrounding whitespace", header: "X-Api-Key", value: "  secret-key  "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/internal/ingestion/methods", nil)
			r.Header.Set(tt.header, tt.value)

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}

			if got := w.Header().Get("X-Client"); got != "scheduler" {
				t.Errorf("client name = %q, want scheduler", got)
			}
		})
	}
}

func TestAuthenticateAPIKey_Rejections(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	keyHashes := map[string]string{"scheduler": hashKey(t, "secret-key")}
	handler := authHandler(t, keyHashes)

	tests := []struct {
		name    string
		headers map[string]string
	}{
		{name: "no key at all", headers: nil},
		{name: "wrong key", headers: map[string]string{"X-Api-Key": "wrong-key"}},
		{name: "newline injection", headers: map[string]string{"X-Api-Key": "secret\r\nInjected: yes"}},
		{name: "blank key", headers: map[string]string{"X-Api-Key": "   "}},
		{name: "non-bearer authorization", headers: map[string]string{"Authorization": "Basic abc"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/internal/ingestion/methods", nil)
			for header, value := range tt.headers {
				r.Header.Set(header, value)
			}

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)

			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", w.Code)
			}

			if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
				t.Errorf("Content-Type = %q, want problem+json", ct)
			}

			var problem map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &problem); err != nil {
				t.Fatalf("failed to decode problem: %v", err)
			}

			if problem["title"] != "Unauthorized" {
				t.Errorf("title = %v, want Unauthorized", problem["title"])
			}
		})
	}
}

func TestAuthenticateAPIKey_PublicEndpointBypass(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	RegisterPublicEndpoint("/ping-auth-test")

	keyHashes := map[string]string{"scheduler": hashKey(t, "secret-key")}
	handler := authHandler(t, keyHashes)

	r := httptest.NewRequest(http.MethodGet, "/ping-auth-test", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 without credentials", w.Code)
	}
}

func TestExtractAPIKey_Precedence(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Api-Key", "header-key")
	r.Header.Set("Authorization", "Bearer bearer-key")

	key, found := extractAPIKey(r)
	if !found || key != "header-key" {
		t.Errorf("key = %q found=%v, want X-Api-Key to win", key, found)
	}
}
