package soap

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dalejandrov/sipsa-ingest/internal/ingestion"
)

const testResponse = `<Envelope><Body><response><return><regId>1</regId></return></response></Body></Envelope>`

func testClient(endpoint string, maxRetries int) *Client {
	return NewClient(&Config{
		Endpoint:       endpoint,
		Namespace:      "http://ws.sipsa.dane.gov.co/",
		ConnectTimeout: 2 * time.Second,
		ReadTimeout:    5 * time.Second,
		MaxRetries:     maxRetries,
		RetryBackoff:   time.Millisecond,
	}, slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

func TestClientStream_PostsEnvelope(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	var gotBody, gotContentType string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, _ := io.ReadAll(r.Body)
		gotBody = string(payload)
		gotContentType = r.Header.Get("Content-Type")

		_, _ = io.WriteString(w, testResponse)
	}))
	defer server.Close()

	client := testClient(server.URL, 3)

	body, err := client.Stream(t.Context(), "promediosSipsaCiudad")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	defer func() { _ = body.Close() }()

	content, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}

	if string(content) != testResponse {
		t.Errorf("body = %q, want %q", content, testResponse)
	}

	if gotContentType != "application/soap+xml; charset=utf-8" {
		t.Errorf("Content-Type = %q, want SOAP 1.2 media type", gotContentType)
	}

	if !strings.Contains(gotBody, `<promediosSipsaCiudad xmlns="http://ws.sipsa.dane.gov.co/"/>`) {
		t.Errorf("request envelope %q missing empty operation element", gotBody)
	}

	if !strings.Contains(gotBody, "soap12:Envelope") {
		t.Errorf("request envelope %q is not SOAP 1.2", gotBody)
	}
}

func TestClientStream_GzipResponse(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			t.Error("request did not offer gzip")
		}

		w.Header().Set("Content-Encoding", "gzip")

		gz := gzip.NewWriter(w)
		_, _ = io.WriteString(gz, testResponse)
		_ = gz.Close()
	}))
	defer server.Close()

	client := testClient(server.URL, 0)

	body, err := client.Stream(t.Context(), "promediosSipsaCiudad")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	defer func() { _ = body.Close() }()

	content, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("failed to read gzip body: %v", err)
	}

	if string(content) != testResponse {
		t.Errorf("decompressed body = %q, want %q", content, testResponse)
	}
}

func TestClientStream_RetriesServerErrors(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		_, _ = io.WriteString(w, testResponse)
	}))
	defer server.Close()

	client := testClient(server.URL, 3)

	body, err := client.Stream(t.Context(), "promediosSipsaCiudad")
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}

	_ = body.Close()

	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestClientStream_RetryExhaustion(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := testClient(server.URL, 2)

	_, err := client.Stream(t.Context(), "promediosSipsaCiudad")
	if !errors.Is(err, ingestion.ErrExternalUnavailable) {
		t.Fatalf("expected ErrExternalUnavailable, got %v", err)
	}

	var external *ingestion.ExternalError
	if !errors.As(err, &external) {
		t.Fatalf("expected *ingestion.ExternalError, got %T", err)
	}

	if external.HTTPStatus != http.StatusBadGateway {
		t.Errorf("HTTPStatus = %d, want 502", external.HTTPStatus)
	}

	// Initial attempt plus two retries.
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestClientStream_ClientErrorNotRetried(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := testClient(server.URL, 5)

	_, err := client.Stream(t.Context(), "promediosSipsaCiudad")
	if !errors.Is(err, ingestion.ErrExternalUnavailable) {
		t.Fatalf("expected ErrExternalUnavailable, got %v", err)
	}

	var external *ingestion.ExternalError
	if !errors.As(err, &external) {
		t.Fatalf("expected *ingestion.ExternalError, got %T", err)
	}

	if external.HTTPStatus != http.StatusNotFound {
		t.Errorf("HTTPStatus = %d, want 404", external.HTTPStatus)
	}

	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1 (no retries on 4xx)", got)
	}
}

func TestClientStream_ContextCancellation(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	client := testClient(server.URL, 10)

	if _, err := client.Stream(ctx, "promediosSipsaCiudad"); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestConfigValidate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	valid := &Config{Endpoint: "https://appweb.dane.gov.co/sipsaWS/SrvSipsaUpraBeanService", MaxRetries: 3}
	if err := valid.Validate(); err != nil {
		t.Errorf("unexpected error for valid config: %v", err)
	}

	empty := &Config{MaxRetries: 3}
	if err := empty.Validate(); !errors.Is(err, ErrEndpointEmpty) {
		t.Errorf("expected ErrEndpointEmpty, got %v", err)
	}

	negative := &Config{Endpoint: "https://example.com", MaxRetries: -1}
	if err := negative.Validate(); !errors.Is(err, ErrInvalidMaxRetries) {
		t.Errorf("expected ErrInvalidMaxRetries, got %v", err)
	}
}
