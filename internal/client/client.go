// Copyright (c) 2025 GoldenGlimmer
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package client implements the completion client for OpenAI-compatible
// aggregators (OpenRouter, VseGPT).
//
// A single API surface covers chat completions, the model catalog, and the
// account balance. Transient failures are retried with exponential backoff;
// requests are rate-limited client-side.
package client

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Configuration constants for the aggregator API.
const (
	// DefaultBaseURL is the OpenRouter API base.
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	// DefaultTimeout is the default timeout for API requests.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the default number of retry attempts for
	// transient errors.
	DefaultMaxRetries = 3

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay is the maximum delay for exponential backoff.
	retryMaxDelay = 10 * time.Second

	// MaxResponseSize caps response bodies to prevent memory exhaustion.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB
)

// Error variables for common aggregator errors.
var (
	// ErrNotConfigured indicates the API key is not set.
	ErrNotConfigured = errors.New("API key not configured")

	// ErrAuthFailed indicates authentication failed (invalid API key).
	ErrAuthFailed = errors.New("invalid API key")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")

	// ErrModelNotFound indicates the requested model does not exist.
	ErrModelNotFound = errors.New("model not found")

	// ErrInsufficientCredits indicates the account balance is exhausted.
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// APIStatusError is a non-2xx response that maps to no sentinel error.
type APIStatusError struct {
	Code    string
	Message string
	Status  int
}

// Error implements the error interface.
func (e *APIStatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("API error (HTTP %d): %s", e.Status, e.Message)
}

// apiErrorBody is the error envelope on non-2xx responses.
type apiErrorBody struct {
	Error struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	} `json:"error"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to one OpenAI-compatible aggregator.
type Client struct {
	mu         sync.RWMutex // guards apiKey and baseURL
	apiKey     string
	baseURL    string
	httpClient *http.Client
	maxRetries int
	limiter    *rate.Limiter
	userAgent  string
}

// New creates a client for the given base URL and API key.
//
// An empty API key still yields a usable client; Complete and Balance fail
// with ErrNotConfigured until a key is supplied.
func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		maxRetries: DefaultMaxRetries,
		// Interactive client: short bursts, steady trickle.
		limiter:   rate.NewLimiter(rate.Limit(2), 4),
		userAgent: "aichat/1.0",
	}
}

// WithTimeout sets the per-request timeout.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.httpClient.Timeout = timeout
	return c
}

// WithMaxRetries sets the maximum number of retry attempts.
func (c *Client) WithMaxRetries(maxRetries int) *Client {
	c.maxRetries = maxRetries
	return c
}

// WithHTTPClient replaces the underlying HTTP client. Intended for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// UpdateCredentials swaps the API key and base URL, typically after a
// config reload. In-flight requests keep the credentials they started with.
func (c *Client) UpdateCredentials(baseURL, apiKey string) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c.mu.Lock()
	c.apiKey = strings.TrimSpace(apiKey)
	c.baseURL = strings.TrimSuffix(baseURL, "/")
	c.mu.Unlock()
}

// BaseURL returns the aggregator base URL.
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// IsConfigured returns true if the client has an API key configured.
func (c *Client) IsConfigured() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey != ""
}

// APIKeyMasked returns a loggable form of the API key.
// SECURITY: Never exposes key fragments; a short hash identifies the key.
func (c *Client) APIKeyMasked() string {
	c.mu.RLock()
	key := c.apiKey
	c.mu.RUnlock()
	if key == "" {
		return "[not set]"
	}
	h := sha256.Sum256([]byte(key))
	return fmt.Sprintf("[redacted, fingerprint=%s]", hex.EncodeToString(h[:4]))
}

// setHeaders sets the required headers for aggregator requests.
func (c *Client) setHeaders(req *http.Request) {
	c.mu.RLock()
	key := c.apiKey
	c.mu.RUnlock()
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
}

// =============================================================================
// COMPLETIONS
// =============================================================================

// Complete performs one chat completion request.
//
// Transient failures (5xx, rate limiting) are retried with exponential
// backoff. The returned Completion may itself carry an in-band Error field;
// that is a valid response, not a call failure.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	endpoint := c.BaseURL() + "/chat/completions"

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoff(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := c.doCompletion(ctx, endpoint, req)
		if err != nil {
			if isRetryable(err) {
				lastErr = err
				continue
			}
			return nil, err
		}
		return resp, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
	}
	return nil, errors.New("max retries exceeded")
}

// doCompletion performs a single HTTP round trip to the completions endpoint.
func (c *Client) doCompletion(ctx context.Context, endpoint string, reqBody CompletionRequest) (*Completion, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	log.Printf("api: POST %s -> %d (%v)", req.URL.Path, resp.StatusCode, time.Since(start).Round(time.Millisecond))

	body, err := readResponse(resp)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.handleErrorResponse(resp.StatusCode, body)
	}

	var completion Completion
	if err := json.Unmarshal(body, &completion); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &completion, nil
}

// =============================================================================
// MODEL CATALOG
// =============================================================================

// ListModels retrieves the list of available models from the aggregator.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL()+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.handleErrorResponse(resp.StatusCode, body)
	}

	var parsed modelsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse models response: %w", err)
	}
	return parsed.Data, nil
}

// =============================================================================
// ACCOUNT BALANCE
// =============================================================================

// Balance retrieves the remaining account credits as a display string.
//
// VseGPT-style bases expose GET /balance with ruble credits; everything else
// is assumed OpenRouter-compatible with GET /credits.
func (c *Client) Balance(ctx context.Context) (string, error) {
	if !c.IsConfigured() {
		return "", ErrNotConfigured
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	base := c.BaseURL()
	endpoint := base + "/credits"
	ruble := strings.Contains(base, "vsegpt")
	if ruble {
		endpoint = base + "/balance"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", c.handleErrorResponse(resp.StatusCode, body)
	}

	var parsed balanceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse balance response: %w", err)
	}

	if ruble {
		return fmt.Sprintf("%.2f₽", parsed.Data.Credits.Float64()), nil
	}
	remaining := parsed.Data.TotalCredits.Float64() - parsed.Data.TotalUsage.Float64()
	return fmt.Sprintf("$%.2f", remaining), nil
}

// =============================================================================
// SHARED PLUMBING
// =============================================================================

// readResponse reads the response body with a size limit.
// SECURITY: Response size limit prevents memory exhaustion.
func readResponse(resp *http.Response) ([]byte, error) {
	limited := io.LimitReader(resp.Body, MaxResponseSize)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) == MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// handleErrorResponse converts HTTP error responses to typed Go errors.
func (c *Client) handleErrorResponse(statusCode int, body []byte) error {
	var parsed apiErrorBody
	message := ""
	code := ""
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		message = parsed.Error.Message
		code = strings.Trim(string(parsed.Error.Code), `"`)
	}

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		if message != "" {
			return fmt.Errorf("%w: %s", ErrAuthFailed, message)
		}
		return ErrAuthFailed
	case http.StatusPaymentRequired:
		if message != "" {
			return fmt.Errorf("%w: %s", ErrInsufficientCredits, message)
		}
		return ErrInsufficientCredits
	case http.StatusNotFound:
		if message != "" {
			return fmt.Errorf("%w: %s", ErrModelNotFound, message)
		}
		return ErrModelNotFound
	case http.StatusTooManyRequests:
		if message != "" {
			return fmt.Errorf("%w: %s", ErrRateLimited, message)
		}
		return ErrRateLimited
	default:
		if message == "" {
			message = strings.TrimSpace(string(body))
		}
		return &APIStatusError{Code: code, Message: message, Status: statusCode}
	}
}

// isRetryable determines if an error should trigger a retry.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var statusErr *APIStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status >= 500 && statusErr.Status < 600
	}
	return false
}

// backoff returns the delay before retry attempt n (1-based).
func backoff(attempt int) time.Duration {
	delay := retryBaseDelay * time.Duration(1<<uint(attempt-1))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}
