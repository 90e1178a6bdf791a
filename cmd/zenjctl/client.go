package main

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

const requestTimeout = 60 * time.Second

// apiClient talks to the service's HTTP API as one user.
type apiClient struct {
	baseURL    string
	userID     string
	httpClient *http.Client
}

// apiError is a non-2xx response.
type apiError struct {
	Status  int
	Message string
	Body    []byte
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func newAPIClient(cfg *Config) (*apiClient, error) {
	if cfg.Default.UserID == "" {
		return nil, fmt.Errorf("no user id. Run 'zenjctl config set default.user_id <id>' first")
	}
	base := cfg.Default.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return &apiClient{
		baseURL:    base,
		userID:     cfg.Default.UserID,
		httpClient: &http.Client{Timeout: requestTimeout},
	}, nil
}

// getClient loads the config and builds a client from it.
func getClient() (*apiClient, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return newAPIClient(cfg)
}

// do sends body as JSON and returns the raw response. out, when non-nil,
// receives the decoded response.
func (c *apiClient) do(ctx context.Context, method, path string, query url.Values, body, out any) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-User-ID", c.userID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return data, &apiError{Status: resp.StatusCode, Message: e.Error, Body: data}
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return data, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return data, nil
}
