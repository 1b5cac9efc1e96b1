package slackapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/wscache/wscache/internal/metrics"
	"github.com/wscache/wscache/internal/protoerr"
)

// Encoding selects how Client.Post serializes its body, per spec.md
// §4.6's "the client selects per endpoint from a static table".
type Encoding int

const (
	EncodingForm Encoding = iota
	EncodingJSON
)

// Endpoint describes one remote call: its path and, for POST, the
// body encoding to use. The static table of endpoints is declared in
// pagination.go; do itself is endpoint-agnostic.
type Endpoint struct {
	Path     string
	Encoding Encoding
}

// Config tunes the client; zero values fall back to spec.md §6 defaults.
type Config struct {
	BaseURL         string
	BotToken        string
	UserToken       string
	Timeout         time.Duration
	MaxConnections  int
	RequestsPerMin  int
	BucketCapacity  int
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
}

// Client is a bearer-token HTTP client gated by a token bucket and
// wrapped in a bounded exponential-backoff retry loop, per spec.md §4.6.
// Shape grounded on the teacher's CerebrasProvider: *http.Client with
// context, explicit status-code branching, json.NewDecoder/json.Marshal,
// bearer header.
type Client struct {
	http      *http.Client
	baseURL   string
	botToken  string
	userToken string
	bucket    *tokenBucket
	retry     retryPolicy
	log       zerolog.Logger
}

// NewClient builds a Client from cfg, defaulting any zero-valued tuning
// fields to the spec's defaults.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 10
	}
	capacity := cfg.BucketCapacity
	if capacity <= 0 {
		capacity = DefaultBucketCapacity
	}
	rpm := cfg.RequestsPerMin
	if rpm <= 0 {
		rpm = DefaultRefillPerMinute
	}

	policy := retryPolicy{
		maxAttempts: cfg.MaxAttempts,
		initial:     cfg.InitialDelay,
		max:         cfg.MaxDelay,
		base:        cfg.ExponentialBase,
	}
	if policy.maxAttempts <= 0 {
		policy.maxAttempts = DefaultMaxAttempts
	}
	if policy.initial <= 0 {
		policy.initial = DefaultInitialDelay
	}
	if policy.max <= 0 {
		policy.max = DefaultMaxDelay
	}
	if policy.base <= 0 {
		policy.base = DefaultExponentialBase
	}

	return &Client{
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxConnsPerHost: maxConns,
			},
		},
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		botToken:  cfg.BotToken,
		userToken: cfg.UserToken,
		bucket:    newTokenBucket(capacity, rpm),
		retry:     policy,
		log:       log,
	}
}

// tokenFor returns the user token when useUserToken is set; message
// search and other user-scoped calls require it, everything else uses
// the bot token (spec.md §6: "the user credential gates message-search
// capability").
func (c *Client) tokenFor(useUserToken bool) string {
	if useUserToken {
		return c.userToken
	}
	return c.botToken
}

// get performs a rate-limited, retried GET against ep with the given
// query parameters, decoding the JSON response body into out.
func (c *Client) get(ctx context.Context, ep Endpoint, query url.Values, useUserToken bool, out any) error {
	u := c.baseURL + ep.Path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, u, nil, "", useUserToken, out)
}

// post performs a rate-limited, retried POST against ep, encoding
// params as either a form body or a JSON body per ep.Encoding.
func (c *Client) post(ctx context.Context, ep Endpoint, params url.Values, useUserToken bool, out any) error {
	u := c.baseURL + ep.Path

	var body io.Reader
	var contentType string
	switch ep.Encoding {
	case EncodingJSON:
		m := make(map[string]string, len(params))
		for k := range params {
			m[k] = params.Get(k)
		}
		b, err := json.Marshal(m)
		if err != nil {
			return protoerr.Wrap(protoerr.Internal, "marshal request body", err)
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	default:
		body = strings.NewReader(params.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	return c.do(ctx, http.MethodPost, u, body, contentType, useUserToken, out)
}

// do runs the full rate-limit + retry + decode pipeline for one call.
// Each attempt (including retries) consumes its own token, per S5's
// "consumes 2 bucket tokens total" for a call that retries once.
func (c *Client) do(ctx context.Context, method, rawURL string, body io.Reader, contentType string, useUserToken bool, out any) error {
	var bodyBytes []byte
	if body != nil {
		b, err := io.ReadAll(body)
		if err != nil {
			return protoerr.Wrap(protoerr.Internal, "buffer request body", err)
		}
		bodyBytes = b
	}

	var lastErr error
	for attempt := 0; attempt < c.retry.maxAttempts; attempt++ {
		if err := c.bucket.take(ctx); err != nil {
			return protoerr.Wrap(protoerr.Internal, "token bucket wait cancelled", err)
		}

		var reqBody io.Reader
		if bodyBytes != nil {
			reqBody = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
		if err != nil {
			return protoerr.Wrap(protoerr.Internal, "build request", err)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		req.Header.Set("Authorization", "Bearer "+c.tokenFor(useUserToken))

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = protoerr.WrapRetriable(protoerr.Internal, "transport error", err)
			metrics.HTTPRetries.WithLabelValues("transport").Inc()
			c.sleepIfMoreAttempts(ctx, attempt, "")
			continue
		}

		retryAfter := resp.Header.Get("Retry-After")
		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = protoerr.WrapRetriable(protoerr.Internal, "read response body", readErr)
			c.sleepIfMoreAttempts(ctx, attempt, "")
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = protoerr.WrapRetriable(protoerr.RateLimited, "rate limited", nil)
			metrics.HTTPRetries.WithLabelValues("rate_limited").Inc()
			c.log.Warn().Str("url", rawURL).Str("retry_after", retryAfter).Msg("slackapi: 429, backing off")
			c.sleepIfMoreAttempts(ctx, attempt, retryAfter)
			continue
		case resp.StatusCode == http.StatusUnauthorized:
			return statusError(resp.StatusCode, "")
		case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusNotFound:
			return statusError(resp.StatusCode, extractErrorCode(respBody))
		case resp.StatusCode >= 500:
			lastErr = protoerr.WrapRetriable(protoerr.Internal, fmt.Sprintf("server error %d", resp.StatusCode), nil)
			metrics.HTTPRetries.WithLabelValues("server_error").Inc()
			c.sleepIfMoreAttempts(ctx, attempt, "")
			continue
		case resp.StatusCode != http.StatusOK:
			return statusError(resp.StatusCode, extractErrorCode(respBody))
		}

		var env envelope
		if err := json.Unmarshal(respBody, &env); err != nil {
			return protoerr.Wrap(protoerr.Internal, "decode response envelope", err)
		}
		if !env.OK {
			return envelopeError(env.Error)
		}
		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return protoerr.Wrap(protoerr.Internal, "decode response body", err)
			}
		}
		return nil
	}
	return lastErr
}

func (c *Client) sleepIfMoreAttempts(ctx context.Context, attempt int, retryAfter string) {
	if attempt >= c.retry.maxAttempts-1 {
		return
	}
	delay := effectiveDelay(c.retry.backoff(attempt), retryAfter)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func extractErrorCode(body []byte) string {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return ""
	}
	return env.Error
}
