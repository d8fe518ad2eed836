package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"gitlab.com/tozd/go/errors"
)

const defaultCallTimeout = 30 * time.Second

// Option configures a metadata client
type Option func(*restClient)

// WithHTTPClient replaces the HTTP client used for API calls
func WithHTTPClient(c *http.Client) Option {
	return func(r *restClient) {
		r.httpClient = c
	}
}

// WithCallTimeout bounds every individual API call
func WithCallTimeout(d time.Duration) Option {
	return func(r *restClient) {
		if d > 0 {
			r.callTimeout = d
		}
	}
}

// restClient performs bearer-authenticated JSON calls
type restClient struct {
	httpClient  *http.Client
	callTimeout time.Duration
	token       string
}

func newRESTClient(token string, opts []Option) restClient {
	c := restClient{
		httpClient:  &http.Client{},
		callTimeout: defaultCallTimeout,
		token:       token,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// statusError is returned for non-2xx responses
type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("API returned status %d - %s", e.StatusCode, e.Body)
}

// doJSON sends body (if non-nil) as JSON and decodes the response into out
func (c *restClient) doJSON(ctx context.Context, method, url string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return errors.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &statusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}
