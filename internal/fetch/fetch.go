// Package fetch downloads the yearly microdata archives from INEP.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/censo_downloader/internal/logctx"
	"github.com/italolelis/censo_downloader/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// DefaultBaseURL is the origin that publishes the archives.
	DefaultBaseURL = "https://download.inep.gov.br"
	// DefaultHost is the origin host with the broken certificate chain.
	DefaultHost = "download.inep.gov.br"

	progressInterval = 10 * 1024 * 1024 // 10MB
)

// URL returns the archive location for year under baseURL.
func URL(baseURL string, year int) string {
	return fmt.Sprintf("%s/microdados/microdados_censo_da_educacao_superior_%d.zip", strings.TrimRight(baseURL, "/"), year)
}

// Options configures the Client.
type Options struct {
	BaseURL string
	// Timeout bounds a whole request, body included. Zero disables it.
	Timeout time.Duration
	TLS     TLSPolicy
	// Transport replaces the default transport; TLS is ignored when set.
	Transport http.RoundTripper
}

// DefaultOptions returns options pointing at the INEP origin with its host in
// the TLS exception list.
func DefaultOptions() Options {
	return Options{
		BaseURL: DefaultBaseURL,
		Timeout: 10 * time.Minute,
		TLS:     TLSPolicy{InsecureHosts: []string{DefaultHost}},
	}
}

// Client performs one GET per Fetch call and never retries.
type Client struct {
	baseURL    string
	httpClient *http.Client
	telemetry  *telemetry.Telemetry
}

// NewClient builds a Client. tel may be nil.
func NewClient(opts Options, tel *telemetry.Telemetry) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}

	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}

	transport := opts.Transport
	if transport == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = opts.TLS.Config()
		transport = tr
	}

	return &Client{
		baseURL: opts.BaseURL,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(transport),
			Timeout:   opts.Timeout,
		},
		telemetry: tel,
	}, nil
}

// URL returns the archive location for year.
func (c *Client) URL(year int) string {
	return URL(c.baseURL, year)
}

// Fetch downloads the archive for year and returns its bytes.
func (c *Client) Fetch(ctx context.Context, year int) ([]byte, error) {
	var body []byte

	start := time.Now()

	err := c.telemetry.InstrumentFetch(ctx, func(ctx context.Context) error {
		var err error

		body, err = c.fetch(ctx, year)

		return err
	})

	status := "success"
	if err != nil {
		status = "error"
	}

	c.telemetry.RecordFetch(ctx, status, int64(len(body)), time.Since(start))

	if err != nil {
		return nil, err
	}

	return body, nil
}

func (c *Client) fetch(ctx context.Context, year int) ([]byte, error) {
	u := c.URL(year)
	logger := logctx.LoggerFromContext(ctx).With("url", u)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &FetchError{Year: year, URL: u, Err: err}
	}

	logger.Debug("sending request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error("request failed", "err", err)

		return nil, &FetchError{Year: year, URL: u, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// drain a little so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		logger.Error("non-2xx response", "status", resp.StatusCode)

		return nil, &FetchError{Year: year, URL: u, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)}
	}

	var buf bytes.Buffer
	if resp.ContentLength > 0 {
		buf.Grow(int(resp.ContentLength))
	}

	logger.Info("downloading archive", "size", sizeOrUnknown(resp.ContentLength))

	pr := newProgressReader(resp.Body, resp.ContentLength, progressInterval, logger)
	if _, err := io.Copy(&buf, pr); err != nil {
		logger.Error("failed to read body", "read", humanize.Bytes(uint64(pr.read)), "err", err)

		return nil, &FetchError{Year: year, URL: u, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read body: %w", err)}
	}

	if resp.ContentLength > 0 && int64(buf.Len()) != resp.ContentLength {
		return nil, &FetchError{
			Year:       year,
			URL:        u,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("short body: got %d of %d bytes", buf.Len(), resp.ContentLength),
		}
	}

	logger.Info("archive downloaded", "size", humanize.Bytes(uint64(buf.Len())))

	return buf.Bytes(), nil
}

func sizeOrUnknown(n int64) string {
	if n < 0 {
		return "unknown"
	}

	return humanize.Bytes(uint64(n))
}
