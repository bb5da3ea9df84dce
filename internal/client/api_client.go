package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"Mansoor88-6/fieldsync-agent/internal/translator"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// IdempotencyKeyHeader carries the event id so the ingestion API can
// deduplicate re-submissions
const IdempotencyKeyHeader = "Idempotency-Key"

// DeviceNameHeader carries the operator-facing name of the capturing device
const DeviceNameHeader = "X-Device-Name"

const maxErrorBody = 4 << 10

// APIClient handles communication with the remote ingestion API
type APIClient struct {
	baseURL     string
	apiKey      string
	deviceToken string // JWT token for device authentication
	deviceName  string
	timeout     time.Duration
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewAPIClient creates a new API client
func NewAPIClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		timeout: timeout,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// SetDeviceToken sets the device JWT token
func (c *APIClient) SetDeviceToken(token string) {
	c.deviceToken = token
}

// SetDeviceName sets the name sent with every delivery
func (c *APIClient) SetDeviceName(name string) {
	c.deviceName = name
}

// Deliver submits one canonical record. A 409 means the API already holds the
// record under this idempotency key and counts as success. Errors are one of
// the typed errors below or a transport error; use IsTerminal to decide
// whether retrying can help.
func (c *APIClient) Deliver(ctx context.Context, rec translator.Record) error {
	jsonData, err := json.Marshal(rec)
	if err != nil {
		return &BadRequestError{Message: fmt.Sprintf("failed to marshal record: %v", err)}
	}

	url := fmt.Sprintf("%s/api/v1/events", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(IdempotencyKeyHeader, rec.IdempotencyKey)
	if c.deviceName != "" {
		req.Header.Set(DeviceNameHeader, c.deviceName)
	}
	c.authorize(req)

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(startTime)

	if err != nil {
		c.logger.Warn("Failed to deliver event",
			zap.String("event_id", rec.IdempotencyKey),
			zap.Error(err),
			zap.Duration("duration", duration),
		)
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 || resp.StatusCode == http.StatusConflict {
		c.logger.Debug("Event delivered",
			zap.String("event_id", rec.IdempotencyKey),
			zap.Int("status_code", resp.StatusCode),
			zap.Duration("duration", duration),
		)
		return nil
	}

	// Handle different error status codes
	errMsg := fmt.Sprintf("backend returned status %d: %s", resp.StatusCode, string(body))

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		c.logger.Error("Authentication failed",
			zap.String("event_id", rec.IdempotencyKey),
			zap.Int("status_code", resp.StatusCode),
		)
		return &AuthError{Message: errMsg, StatusCode: resp.StatusCode}
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooEarly:
		c.logger.Warn("Rate limited",
			zap.String("event_id", rec.IdempotencyKey),
			zap.Int("status_code", resp.StatusCode),
		)
		return &RateLimitError{Message: errMsg, StatusCode: resp.StatusCode}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		c.logger.Error("Event rejected",
			zap.String("event_id", rec.IdempotencyKey),
			zap.Int("status_code", resp.StatusCode),
			zap.String("response", string(body)),
		)
		return &BadRequestError{Message: errMsg, StatusCode: resp.StatusCode}
	default:
		c.logger.Warn("Backend error",
			zap.String("event_id", rec.IdempotencyKey),
			zap.Int("status_code", resp.StatusCode),
			zap.String("response", string(body)),
		)
		return &BackendError{Message: errMsg, StatusCode: resp.StatusCode}
	}
}

// Reachable reports whether the ingestion API answers at all. Any HTTP
// response, even an error status, proves the network path works.
func (c *APIClient) Reachable(ctx context.Context) error {
	url := fmt.Sprintf("%s/health", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return nil
}

func (c *APIClient) authorize(req *http.Request) {
	// Prefer device token over API key
	if c.deviceToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.deviceToken)
	} else if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// IsTerminal reports whether err is a permanent rejection that retrying
// cannot fix
func IsTerminal(err error) bool {
	var terminal interface{ Terminal() bool }
	if errors.As(err, &terminal) {
		return terminal.Terminal()
	}
	return false
}

// Error types
type AuthError struct {
	Message    string
	StatusCode int
}

func (e *AuthError) Error() string {
	return e.Message
}

func (e *AuthError) Terminal() bool { return false }

type RateLimitError struct {
	Message    string
	StatusCode int
}

func (e *RateLimitError) Error() string {
	return e.Message
}

func (e *RateLimitError) Terminal() bool { return false }

// BadRequestError is a validation rejection of the record itself
type BadRequestError struct {
	Message    string
	StatusCode int
}

func (e *BadRequestError) Error() string {
	return e.Message
}

func (e *BadRequestError) Terminal() bool { return true }

type BackendError struct {
	Message    string
	StatusCode int
}

func (e *BackendError) Error() string {
	return e.Message
}

func (e *BackendError) Terminal() bool { return false }
