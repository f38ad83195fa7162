// Package shortener talks to the URL-shortening provider's HTTP API.
package shortener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"shortlink_bot/internal/logging"
)

const (
	apiPath          = "/api"
	maxResponseBytes = 64 << 10

	// MinTokenLength is the shortest credential worth sending to the provider.
	MinTokenLength = 10

	// ValidationURL is shortened to check that a credential works.
	ValidationURL = "https://google.com"
)

var (
	// ErrInvalidToken means the provider rejected the credential or returned
	// no shortened URL.
	ErrInvalidToken = errors.New("invalid api token")

	// ErrProviderUnavailable covers transport failures, timeouts and
	// unexpected HTTP statuses.
	ErrProviderUnavailable = errors.New("shortener unavailable")
)

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type apiResponse struct {
	Status       string `json:"status"`
	ShortenedURL string `json:"shortenedUrl"`
	Message      string `json:"message"`
}

// Client shortens URLs on behalf of a user credential.
type Client struct {
	baseURL string
	http    httpDoer
	logger  *logrus.Entry
}

// NewClient builds a provider client whose requests are bounded by timeout.
func NewClient(baseURL string, timeout time.Duration, logger *logrus.Entry) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid shortener base url: %w", err)
	}
	if timeout <= 0 {
		return nil, errors.New("shortener timeout must be positive")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

// Shorten returns the short link for longURL. It is never retried.
func (c *Client) Shorten(ctx context.Context, token, longURL string) (string, error) {
	if c == nil || c.http == nil {
		return "", errors.New("shortener client is not initialized")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidToken
	}

	endpoint := c.baseURL + apiPath + "?" + url.Values{
		"api": {token},
		"url": {longURL},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build shortener request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.WithFields(logging.Fields{
			"event": "shortener_error",
			"token": logging.MaskToken(token),
		}).WithError(err).Warn("shortener request failed")
		return "", fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	fields := logging.Fields{
		"event":       "shortener_response",
		"status_code": resp.StatusCode,
		"duration_ms": time.Since(started).Milliseconds(),
		"token":       logging.MaskToken(token),
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		c.logger.WithFields(fields).Warn("shortener returned server error")
		return "", fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	}

	var body apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		c.logger.WithFields(fields).WithError(err).Warn("shortener returned unreadable body")
		if resp.StatusCode >= http.StatusBadRequest {
			return "", fmt.Errorf("%w: status %d", ErrInvalidToken, resp.StatusCode)
		}
		return "", fmt.Errorf("%w: decode response: %w", ErrProviderUnavailable, err)
	}

	short := strings.TrimSpace(body.ShortenedURL)
	if short == "" || strings.EqualFold(body.Status, "error") {
		fields["provider_message"] = body.Message
		c.logger.WithFields(fields).Info("shortener rejected request")
		if body.Message != "" {
			return "", fmt.Errorf("%w: %s", ErrInvalidToken, body.Message)
		}
		return "", ErrInvalidToken
	}

	c.logger.WithFields(fields).Debug("shortened url")

	return short, nil
}

// Validate checks a credential by shortening ValidationURL with it. Tokens
// shorter than MinTokenLength are rejected without a request.
func (c *Client) Validate(ctx context.Context, token string) error {
	if len(strings.TrimSpace(token)) < MinTokenLength {
		return fmt.Errorf("%w: too short", ErrInvalidToken)
	}

	_, err := c.Shorten(ctx, token, ValidationURL)
	return err
}
