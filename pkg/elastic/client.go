// Package elastic is a thin REST client for an Elasticsearch-compatible
// document store. It exposes only the narrow surface the platform needs:
// single-document get and index, batched writes, and search with
// terms aggregations. Server-side scripting stays inside this package;
// callers express conditional updates through typed BulkOps.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/listenlab/artistrank/pkg/config"
	apperrors "github.com/listenlab/artistrank/pkg/errors"
)

// Client talks to a single document store endpoint.
type Client struct {
	baseURL  *url.URL
	httpc    *http.Client
	username string
	password string
	logger   *slog.Logger
}

// New creates a Client and verifies the endpoint with a ping. A malformed
// URL is a configuration error and fails immediately.
func New(cfg config.ElasticConfig) (*Client, error) {
	base, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing elastic url %q: %w", cfg.URL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("elastic url %q must include scheme and host", cfg.URL)
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		baseURL:  base,
		httpc:    &http.Client{Timeout: timeout},
		username: cfg.Username,
		password: cfg.Password,
		logger:   slog.Default().With("component", "elastic-client"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		return nil, fmt.Errorf("elastic ping failed: %w", err)
	}
	return c, nil
}

// Ping issues a HEAD request against the cluster root.
func (c *Client) Ping(ctx context.Context) error {
	status, _, err := c.do(ctx, http.MethodHead, "/", "", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: ping returned status %d", apperrors.ErrStoreUnavailable, status)
	}
	return nil
}

// Get fetches a document by id. A missing document or a missing index is a
// normal outcome reported as (nil, false, nil), never as an error.
func (c *Client) Get(ctx context.Context, index, id string) (json.RawMessage, bool, error) {
	path := fmt.Sprintf("/%s/_doc/%s", url.PathEscape(index), url.PathEscape(id))
	status, body, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return nil, false, err
	}
	if status == http.StatusNotFound {
		return nil, false, nil
	}
	if status != http.StatusOK {
		return nil, false, fmt.Errorf("%w: get %s/%s returned status %d", apperrors.ErrStoreUnavailable, index, id, status)
	}

	var resp struct {
		Found  bool            `json:"found"`
		Source json.RawMessage `json:"_source"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, false, fmt.Errorf("decoding get response: %w", err)
	}
	if !resp.Found {
		return nil, false, nil
	}
	return resp.Source, true, nil
}

// Index writes a document. An empty id lets the engine assign one.
func (c *Client) Index(ctx context.Context, index, id string, doc any) error {
	var method, path string
	if id == "" {
		method = http.MethodPost
		path = fmt.Sprintf("/%s/_doc", url.PathEscape(index))
	} else {
		method = http.MethodPut
		path = fmt.Sprintf("/%s/_doc/%s", url.PathEscape(index), url.PathEscape(id))
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling document: %w", err)
	}
	status, body, err := c.do(ctx, method, path, "", payload)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return fmt.Errorf("%w: index into %s returned status %d: %s", apperrors.ErrStoreUnavailable, index, status, truncate(body, 256))
	}
	return nil
}

// do executes a single HTTP request and returns status and body. query is
// the raw query string without the leading "?"; it must not be folded into
// path, where URL rendering would percent-escape it. Transport failures are
// wrapped; HTTP status interpretation is the caller's job.
func (c *Client) do(ctx context.Context, method, path, query string, body []byte) (int, []byte, error) {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawQuery = query

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return 0, nil, fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", apperrors.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response body: %w", err)
	}
	return resp.StatusCode, data, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
