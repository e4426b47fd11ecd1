package licensor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/veridesk/veridesk/internal/config"
	"github.com/veridesk/veridesk/internal/httpclient"
)

// Client provides access to the external license catalog API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     zerolog.Logger
}

// ClientConfig holds configuration for creating a new catalog client.
type ClientConfig struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	ProxyConfig *config.ProxyConfig
}

// NewClient creates a new license catalog API client.
func NewClient(cfg ClientConfig, logger zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("licensor client: base URL is required")
	}

	parsedURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("licensor client: invalid URL: %w", err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	client, err := httpclient.New(httpclient.Options{
		Timeout:     timeout,
		ProxyConfig: cfg.ProxyConfig,
	})
	if err != nil {
		return nil, fmt.Errorf("licensor client: create http client: %w", err)
	}

	return &Client{
		baseURL:    parsedURL.String(),
		apiKey:     cfg.APIKey,
		httpClient: client,
		logger:     logger.With().Str("component", "licensor_client").Logger(),
	}, nil
}

// FetchPage retrieves one page of license records from the catalog.
// Records are normalized before being returned.
func (c *Client) FetchPage(ctx context.Context, page, pageSize int) (*PageResult, error) {
	if page < 1 {
		return nil, fmt.Errorf("licensor: page must be >= 1, got %d", page)
	}
	if pageSize < 1 {
		return nil, fmt.Errorf("licensor: pageSize must be >= 1, got %d", pageSize)
	}

	path := "/api/licenses?page=" + strconv.Itoa(page) + "&pageSize=" + strconv.Itoa(pageSize)
	req, err := c.newRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, fmt.Errorf("licensor: failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("licensor: fetch page %d: %w", page, err)
	}
	defer resp.Body.Close()

	if err := c.checkResponse(resp); err != nil {
		return nil, err
	}

	var result PageResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("licensor: failed to decode page %d: %w", page, err)
	}

	for i := range result.Records {
		result.Records[i].Normalize()
	}

	c.logger.Debug().
		Int("page", page).
		Int("records", len(result.Records)).
		Bool("has_more", result.HasMore).
		Msg("fetched catalog page")

	return &result, nil
}

// TestConnectivity probes the catalog health endpoint. It never returns an
// error; failures are reported in the result.
func (c *Client) TestConnectivity(ctx context.Context) *ConnectivityResult {
	start := time.Now()

	req, err := c.newRequest(ctx, http.MethodGet, "/api/health")
	if err != nil {
		return &ConnectivityResult{Success: false, Message: "create request: " + err.Error()}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ConnectivityResult{
			Success: false,
			Message: "connection failed: " + err.Error(),
			Latency: time.Since(start),
		}
	}
	defer resp.Body.Close()

	latency := time.Since(start)

	if resp.StatusCode == http.StatusUnauthorized {
		return &ConnectivityResult{Success: false, Message: "authentication failed", Latency: latency}
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return &ConnectivityResult{
			Success: false,
			Message: fmt.Sprintf("health check failed with status %d: %s", resp.StatusCode, string(body)),
			Latency: latency,
		}
	}

	c.logger.Debug().Dur("latency", latency).Msg("catalog connection successful")
	return &ConnectivityResult{Success: true, Message: "ok", Latency: latency}
}

// newRequest builds an authenticated request against the catalog API.
func (c *Client) newRequest(ctx context.Context, method, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Veridesk/1.0")

	return req, nil
}

// checkResponse checks if the HTTP response indicates an error.
func (c *Client) checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)

	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
		return &apiErr
	}

	return fmt.Errorf("licensor: request failed with status %d: %s", resp.StatusCode, string(body))
}
