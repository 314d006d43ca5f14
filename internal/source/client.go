package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"nutrimerge/internal/config"
	"nutrimerge/internal/metrics"
)

// maxErrorBody caps how much of a non-2xx body is kept in a RemoteAPIError.
const maxErrorBody = 4 << 10

// Client performs the GET requests of the remote sources. It carries the
// endpoints so loaders only take the item they fetch.
type Client struct {
	HTTP      *http.Client
	UserAgent string

	// SwedishBaseURL is the Livsmedelsverket API root.
	SwedishBaseURL string
	// SearchURL is the Open Food Facts search endpoint. Empty disables the
	// product search integration.
	SearchURL string
}

// NewClient builds a Client from cfg with the configured timeout.
func NewClient(cfg config.Config) *Client {
	timeout := cfg.HTTP.Timeout.Duration
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		HTTP: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 4,
			},
		},
		UserAgent:      cfg.Swedish.UserAgent,
		SwedishBaseURL: cfg.Swedish.BaseURL,
		SearchURL:      cfg.OpenFoodFacts.SearchURL,
	}
}

// get fetches rawURL and returns the body of a 2xx response. job labels the
// request in metrics.
//
// Errors:
//   - transport errors and context cancellation, wrapped
//   - *RemoteAPIError for any non-2xx status, with up to 4 KiB of the body
func (c *Client) get(ctx context.Context, job, rawURL string) ([]byte, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", rawURL, err)
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	req.Header.Set("Accept", "application/json")

	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		metrics.RecordHTTP(job, 0, err, time.Since(start), -1, -1)
		return nil, fmt.Errorf("GET %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	requestDur := time.Since(start)

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300

	var body []byte
	if ok {
		body, err = io.ReadAll(resp.Body)
	} else {
		body, err = io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		// Drain the rest so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	metrics.RecordHTTP(job, resp.StatusCode, err, requestDur, time.Since(start), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("read body %s: %w", rawURL, err)
	}

	if !ok {
		return nil, &RemoteAPIError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}
	return body, nil
}
