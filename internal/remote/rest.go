package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// RESTConfig holds remote API connection configuration.
type RESTConfig struct {
	// Endpoint is the API base URL, e.g. https://project.example.co
	Endpoint string
	// APIKey is sent as both apikey header and bearer token.
	APIKey string
	// Timeout bounds each request. Zero means 30 seconds.
	Timeout time.Duration
}

// RESTClient implements Store against a PostgREST-style row API plus a
// storage object API.
type RESTClient struct {
	config     *RESTConfig
	httpClient *http.Client
}

// NewRESTClient creates a RESTClient.
func NewRESTClient(config *RESTConfig) *RESTClient {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &RESTClient{
		config: config,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// Select returns the rows of table matching filter.
func (c *RESTClient) Select(ctx context.Context, table string, filter Filter) ([]Row, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.tableURL(table, filter), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("select request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError("select", resp)
	}

	var rows []Row
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode select response: %w", err)
	}
	return rows, nil
}

// Insert appends one row to table.
func (c *RESTClient) Insert(ctx context.Context, table string, row Row) error {
	body, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to encode row: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.tableURL(table, nil), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("insert request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return c.statusError("insert", resp)
	}
	return nil
}

// Update modifies the rows of table matching filter.
func (c *RESTClient) Update(ctx context.Context, table string, row Row, filter Filter) error {
	body, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to encode row: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPatch, c.tableURL(table, filter), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("update request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return c.statusError("update", resp)
	}
	return nil
}

// UploadFile stores a blob at path inside bucket, replacing any existing
// object (upsert keeps retried uploads idempotent).
func (c *RESTClient) UploadFile(ctx context.Context, bucket, path string, data []byte) error {
	uploadURL := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.config.Endpoint, bucket, path)

	req, err := c.newRequest(ctx, http.MethodPost, uploadURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("x-upsert", "true")
	req.ContentLength = int64(len(data))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return c.statusError("upload", resp)
	}
	return nil
}

// tableURL builds the row endpoint URL with PostgREST-style equality filters.
func (c *RESTClient) tableURL(table string, filter Filter) string {
	u := fmt.Sprintf("%s/rest/v1/%s", c.config.Endpoint, table)
	if len(filter) == 0 {
		return u
	}
	q := url.Values{}
	for col, val := range filter {
		q.Set(col, "eq."+val)
	}
	return u + "?" + q.Encode()
}

func (c *RESTClient) newRequest(ctx context.Context, method, rawURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", c.config.APIKey)
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	return req, nil
}

// statusError returns an error carrying the backend's response body verbatim.
// IsConflict depends on the body text surviving untouched.
func (c *RESTClient) statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("%s failed with status %d: %s", op, resp.StatusCode, string(body))
}
