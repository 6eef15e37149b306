package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/colthorp/convcache-go/internal/core"
)

// APIError is returned when the conversation API returns an error response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// Client is the HTTP wrapper around the conversation REST API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	verbose    bool
}

// NewClient creates a new API client. Empty apiKey or baseURL fall back to
// the environment / default endpoint.
func NewClient(apiKey, baseURL string, verbose bool) *Client {
	if baseURL == "" {
		baseURL = fmt.Sprintf("%s/%s", core.APIBaseURL, core.APIVersion)
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 300 * time.Second,
		},
		verbose: verbose,
	}
}

// log writes a message to stderr if verbose mode is enabled.
func (c *Client) log(msg string) {
	core.Eprint(fmt.Sprintf("[API] %s", msg), c.verbose)
}

// Request performs a GET request and decodes the JSON payload.
// Retries automatically on HTTP 5xx or 429 responses with exponential back-off.
func (c *Client) Request(endpoint string, params map[string]string) (map[string]interface{}, error) {
	urlStr := fmt.Sprintf("%s/%s", c.baseURL, endpoint)

	if len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, v)
		}
		urlStr = fmt.Sprintf("%s?%s", urlStr, q.Encode())
	}

	c.log(fmt.Sprintf("GET %s", urlStr))

	maxRetries := 3
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		req, err := http.NewRequest("GET", urlStr, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		req.Header.Set("X-API-Key", c.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if attempt < maxRetries {
				wait := time.Duration(1<<(attempt-1)) * time.Second
				c.log(fmt.Sprintf("Attempt %d failed (connection error); retrying in %v...", attempt, wait))
				time.Sleep(wait)
				continue
			}
			return nil, fmt.Errorf("request failed: %w", err)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}

		// Check for retryable errors
		if resp.StatusCode >= 500 || resp.StatusCode == 429 {
			lastErr = &APIError{StatusCode: resp.StatusCode, Message: string(body)}
			if attempt < maxRetries {
				wait := time.Duration(1<<(attempt-1)) * time.Second
				if resp.StatusCode == 429 {
					if ra := resp.Header.Get("Retry-After"); ra != "" {
						if secs, err := strconv.Atoi(ra); err == nil {
							wait = time.Duration(secs) * time.Second
						}
					}
				}
				c.log(fmt.Sprintf("Attempt %d failed (HTTP %d); retrying in %v...", attempt, resp.StatusCode, wait))
				time.Sleep(wait)
				continue
			}
			return nil, lastErr
		}

		// Non-retryable error
		if resp.StatusCode >= 400 {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: string(body)}
		}

		var result map[string]interface{}
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, fmt.Errorf("failed to parse JSON response: %w", err)
		}

		c.log(fmt.Sprintf("Response: HTTP %d, %d bytes", resp.StatusCode, len(body)))
		return result, nil
	}

	return nil, lastErr
}

// IsVerbose returns whether verbose logging is enabled.
func (c *Client) IsVerbose() bool {
	return c.verbose
}
