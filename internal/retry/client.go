// Package retry wraps close-order submission with transient-error
// detection and capped exponential backoff.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"credit-spread-bot/internal/broker"
)

// Config controls retry behavior for order submission.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// DefaultConfig is the default retry configuration.
var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

// Client retries close-order submissions against the broker.
type Client struct {
	broker broker.Broker
	logger *log.Logger
	config Config
}

// NewClient creates a retrying submission client.
func NewClient(b broker.Broker, logger *log.Logger, config ...Config) *Client {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}

	return &Client{
		broker: b,
		logger: logger,
		config: cfg,
	}
}

// SubmitCloseWithRetry submits a closing order for one leg, retrying on
// transient failures. Permanent failures (order rejections, auth errors)
// are returned immediately so the caller can surface them.
func (c *Client) SubmitCloseWithRetry(
	ctx context.Context,
	legSymbol string,
	side broker.OrderSide,
	quantity int,
) (string, error) {
	submitCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		select {
		case <-submitCtx.Done():
			return "", fmt.Errorf("close submission timed out after %v: %w", c.config.Timeout, submitCtx.Err())
		default:
		}

		c.logger.Printf("Close submission attempt %d/%d for %s (%s x%d)",
			attempt+1, c.config.MaxRetries+1, legSymbol, side, quantity)

		orderID, err := c.broker.SubmitClose(submitCtx, legSymbol, side, quantity)
		if err == nil {
			c.logger.Printf("Close order placed on attempt %d: %s", attempt+1, orderID)
			return orderID, nil
		}

		lastErr = err
		c.logger.Printf("Close submission attempt %d failed: %v", attempt+1, err)

		if c.isTransientError(err) && attempt < c.config.MaxRetries {
			c.logger.Printf("Transient error detected, retrying in %v", backoff)
			select {
			case <-time.After(backoff):
				backoff = c.calculateNextBackoff(backoff)
			case <-submitCtx.Done():
				return "", fmt.Errorf("close submission timed out during backoff: %w", submitCtx.Err())
			}
		} else {
			break
		}
	}

	return "", fmt.Errorf("failed to submit close order after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

func (c *Client) calculateNextBackoff(currentBackoff time.Duration) time.Duration {
	backoff := time.Duration(float64(currentBackoff) * 1.5)
	if backoff > c.config.MaxBackoff {
		backoff = c.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			log.Printf("Failed to generate jitter: %v", err)
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}

	return backoff
}

func (c *Client) isTransientError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *broker.APIError
	if errors.As(err, &apiErr) {
		// 429 and 5xx are worth retrying; other 4xx are permanent.
		return apiErr.Status == 429 || apiErr.Status >= 500
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"rate limit",
		"network",
		"dns",
		"tcp",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
