// Package ags is the HTTP client for the availability generation service.
package ags

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/example/availability-orchestrator/internal/domain/availability"
	"github.com/example/availability-orchestrator/internal/logging"
)

const (
	pathGenerate   = "generate"
	pathCleanup    = "cleanup"
	pathRegenerate = "regenerate"
)

// Config configures a Client. BaseURL is required.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// FailureThreshold is the number of consecutive transport failures that
	// opens the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

// Client calls the generation service. Transport failures and 5xx replies
// are returned as errors and count against the circuit breaker; 4xx replies
// with a JSON body are business answers and are returned as results.
type Client struct {
	hc      *http.Client
	base    *url.URL
	token   string
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("ags: base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("ags: parse base URL: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	logger = logging.OrNop(logger)

	threshold := cfg.FailureThreshold
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ags",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("component", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Client{
		hc:      &http.Client{Timeout: cfg.Timeout},
		base:    base,
		token:   cfg.Token,
		breaker: breaker,
		logger:  logger,
	}, nil
}

func (c *Client) Generate(ctx context.Context, req availability.GenerationRequest) (availability.GenerationResult, error) {
	return c.call(ctx, pathGenerate, req)
}

func (c *Client) CleanupOnly(ctx context.Context, req availability.GenerationRequest) (availability.GenerationResult, error) {
	return c.call(ctx, pathCleanup, req)
}

func (c *Client) CleanupAndRegenerate(ctx context.Context, req availability.GenerationRequest) (availability.GenerationResult, error) {
	return c.call(ctx, pathRegenerate, req)
}

// State reports the breaker state for health output.
func (c *Client) State() string {
	return c.breaker.State().String()
}

type requestBody struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// statusError is a reply the service could not answer. It trips the breaker.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("ags: unexpected status %d", e.status)
	}
	return fmt.Sprintf("ags: unexpected status %d: %s", e.status, e.body)
}

func (c *Client) call(ctx context.Context, op string, req availability.GenerationRequest) (availability.GenerationResult, error) {
	body, err := json.Marshal(requestBody{
		StartDate: availability.DateKey(req.Start),
		EndDate:   availability.DateKey(req.End),
	})
	if err != nil {
		return availability.GenerationResult{}, err
	}
	endpoint := c.base.JoinPath("restaurants", req.RestaurantID, "availability", op).String()

	v, err := c.breaker.Execute(func() (interface{}, error) {
		status, b, err := c.do(ctx, http.MethodPost, endpoint, body)
		if err != nil {
			return nil, err
		}
		if status >= 500 || status == http.StatusTooManyRequests {
			return nil, &statusError{status: status, body: snippet(b)}
		}
		return decode(status, b)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return availability.GenerationResult{}, fmt.Errorf("ags: circuit open: %w", err)
		}
		return availability.GenerationResult{}, err
	}
	res := v.(availability.GenerationResult)
	c.logger.Debug("ags call finished",
		zap.String("op", op),
		zap.String("restaurant_id", req.RestaurantID),
		zap.Bool("success", res.Success))
	return res, nil
}

// decode reads a 2xx or 4xx reply. A 4xx without a usable JSON body is still
// a rejection; a 2xx that omits success counts as success.
func decode(status int, b []byte) (availability.GenerationResult, error) {
	var res availability.GenerationResult
	var fields map[string]json.RawMessage
	if len(bytes.TrimSpace(b)) > 0 {
		if err := json.Unmarshal(b, &fields); err != nil {
			if status < 300 {
				return availability.GenerationResult{}, fmt.Errorf("ags: decode reply: %w", err)
			}
			return availability.GenerationResult{Success: false, Error: snippet(b)}, nil
		}
		if err := json.Unmarshal(b, &res); err != nil {
			return availability.GenerationResult{}, fmt.Errorf("ags: decode reply: %w", err)
		}
	}
	if status >= 300 {
		res.Success = false
		if res.Error == "" {
			res.Error = fmt.Sprintf("request rejected with status %d", status)
		}
		return res, nil
	}
	if _, ok := fields["success"]; !ok {
		res.Success = true
	}
	return res, nil
}

func (c *Client) do(ctx context.Context, method, rawURL string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("accept", "application/json")
	if c.token != "" {
		req.Header.Set("authorization", "Bearer "+c.token)
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer res.Body.Close()
	b, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return res.StatusCode, nil, err
	}
	return res.StatusCode, b, nil
}

const snippetLen = 200

// snippet shortens a response body for error messages without splitting a
// UTF-8 sequence.
func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= snippetLen {
		return s
	}
	cut := snippetLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
