package soap

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/cenkalti/backoff/v4"

	"github.com/dalejandrov/sipsa-ingest/internal/ingestion"
)

// The upstream service speaks SOAP 1.2 with an empty request element named
// after the operation. Responses can be hundreds of megabytes, so the body is
// handed to the caller as a stream instead of being buffered.
const envelopeFormat = `<?xml version="1.0" encoding="utf-8"?>` +
	`<soap12:Envelope xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"` +
	` xmlns:xsd="http://www.w3.org/2001/XMLSchema"` +
	` xmlns:soap12="http://www.w3.org/2003/05/soap-envelope">` +
	`<soap12:Body><%s xmlns="%s"/></soap12:Body></soap12:Envelope>`

// Client posts SOAP requests to the SIPSA service and yields streaming
// response bodies. Server errors and transport failures are retried with
// exponential backoff; client errors fail immediately.
type Client struct {
	cfg        *Config
	httpClient *http.Client
	logger     *slog.Logger
}

var _ ingestion.StreamSource = (*Client)(nil)

// NewClient creates a Client from the transport configuration.
func NewClient(cfg *Config, logger *slog.Logger) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		// Compression is negotiated manually so gzip survives into the
		// returned stream only when the server actually applied it.
		DisableCompression: true,
	}

	return &Client{
		cfg: cfg,
		// No client-level timeout: the body outlives the request and is
		// consumed incrementally by the caller.
		httpClient: &http.Client{Transport: transport},
		logger:     logger,
	}
}

// Stream posts the request for method and returns the decompressed response
// body. The caller owns the body and must close it.
func (c *Client) Stream(ctx context.Context, method string) (io.ReadCloser, error) {
	var body io.ReadCloser

	attempt := 0
	operation := func() error {
		attempt++

		reader, err := c.post(ctx, method)
		if err != nil {
			c.logger.Warn("SOAP request attempt failed",
				"method", method,
				"attempt", attempt,
				"error", err)

			return err
		}

		body = reader

		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.RetryBackoff
	policy.Multiplier = 2
	policy.MaxElapsedTime = 0

	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(c.cfg.MaxRetries)), ctx))
	if err != nil {
		var extErr *ingestion.ExternalError
		if errors.As(err, &extErr) {
			return nil, extErr
		}

		return nil, &ingestion.ExternalError{
			Kind:    ingestion.ErrExternalUnavailable,
			Message: err.Error(),
		}
	}

	return body, nil
}

func (c *Client) post(ctx context.Context, method string) (io.ReadCloser, error) {
	envelope := fmt.Sprintf(envelopeFormat, method, c.cfg.Namespace)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.Endpoint, strings.NewReader(envelope))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("building SOAP request: %w", err))
	}

	req.Header.Set("Content-Type", "application/soap+xml; charset=utf-8")
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("posting SOAP request: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		drain(resp.Body)

		return nil, &ingestion.ExternalError{
			Kind:       ingestion.ErrExternalUnavailable,
			HTTPStatus: resp.StatusCode,
			Message:    fmt.Sprintf("upstream returned status %d", resp.StatusCode),
		}
	case resp.StatusCode >= 300:
		drain(resp.Body)

		return nil, backoff.Permanent(&ingestion.ExternalError{
			Kind:       ingestion.ErrExternalUnavailable,
			HTTPStatus: resp.StatusCode,
			Message:    fmt.Sprintf("upstream returned status %d", resp.StatusCode),
		})
	}

	if strings.Contains(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			drain(resp.Body)

			return nil, fmt.Errorf("opening gzip stream: %w", err)
		}

		return &gzipBody{gz: gz, raw: resp.Body}, nil
	}

	return resp.Body, nil
}

// drain discards a failed response body so the connection can be reused.
func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
	_ = body.Close()
}

// gzipBody decompresses on read and closes both layers.
type gzipBody struct {
	gz  *gzip.Reader
	raw io.ReadCloser
}

func (b *gzipBody) Read(p []byte) (int, error) {
	return b.gz.Read(p)
}

func (b *gzipBody) Close() error {
	gzErr := b.gz.Close()
	rawErr := b.raw.Close()

	if gzErr != nil {
		return gzErr
	}

	return rawErr
}
