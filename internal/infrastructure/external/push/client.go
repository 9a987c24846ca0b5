// Package push delivers notices through the marketplace's push gateway, the
// service that fans them out to the mobile apps and email.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/notification"
	"github.com/halaka-hub/halaka-scheduler/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the push gateway client.
type ClientConfig struct {
	// BaseURL is the gateway base URL.
	BaseURL string

	// APIKey is sent as a bearer token.
	APIKey string

	// Timeout is the HTTP request timeout.
	Timeout time.Duration

	RateLimiterConfig RateLimiterConfig

	Logger *slog.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:           baseURL,
		Timeout:           10 * time.Second,
		RateLimiterConfig: DefaultRateLimiterConfig(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client implements notification.Sender over HTTP.
type Client struct {
	config      ClientConfig
	httpClient  *http.Client
	logger      *slog.Logger
	rateLimiter *RateLimiter
}

var _ notification.Sender = (*Client)(nil)

// NewClient creates a push gateway client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &Client{
		config:      config,
		httpClient:  &http.Client{Timeout: config.Timeout},
		logger:      config.Logger.With("component", "push_client"),
		rateLimiter: NewRateLimiter(config.RateLimiterConfig),
	}
}

// messageDTO is the gateway's request body.
type messageDTO struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	RecipientKind string    `json:"recipient_kind"`
	RecipientID   string    `json:"recipient_id"`
	Message       string    `json:"message"`
	Link          string    `json:"link,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Send posts one notice. The notice ID is the idempotency key, so a retried
// send is delivered once. 429 and 5xx answers are retryable; any other
// non-2xx answer is permanent.
func (c *Client) Send(ctx context.Context, n *notification.Notification) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return retry.Retryable(fmt.Errorf("rate limiter: %w", err))
	}

	body, err := json.Marshal(messageDTO{
		ID:            n.ID.String(),
		Type:          string(n.Type),
		RecipientKind: string(n.Recipient.Kind),
		RecipientID:   n.Recipient.ID,
		Message:       n.Message,
		Link:          n.Link,
		CreatedAt:     n.CreatedAt,
	})
	if err != nil {
		return retry.Permanent(fmt.Errorf("marshal body: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Idempotency-Key", n.ID.String())
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return retry.Retryable(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		c.logger.Debug("notice delivered", "notification_id", n.ID, "type", n.Type)
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(detail))}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		c.rateLimiter.RecordRateLimitHit(parseRetryAfter(resp.Header.Get("Retry-After")))
		return retry.Retryable(apiErr)
	case resp.StatusCode >= 500:
		return retry.Retryable(apiErr)
	default:
		return retry.Permanent(apiErr)
	}
}

// APIError is a non-2xx gateway answer.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("push gateway returned %d", e.StatusCode)
	}
	return fmt.Sprintf("push gateway returned %d: %s", e.StatusCode, e.Body)
}

// parseRetryAfter reads the delay-seconds form of Retry-After.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
