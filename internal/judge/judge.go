package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Error kinds carried in a failed Result
const (
	KindBadRequest  = "bad_request"
	KindForbidden   = "forbidden_url"
	KindUnreachable = "upstream_unreachable"
	KindUpstream    = "upstream_status"
	KindBadResponse = "invalid_response"
)

const (
	secretHeader     = "client-secret"
	maxResponseBytes = 4 << 20
)

type Error struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Kind + ": " + e.Message
}

// Result is either the judge's JSON reply or a classified failure.
type Result struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

func failure(kind, format string, args ...any) Result {
	return Result{Error: &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}}
}

type Config struct {
	SubmitURL string
	Secret    string
	Timeout   time.Duration
}

// Client forwards code submissions to the remote judge and polls their
// status.
type Client struct {
	submitURL *url.URL
	secret    string
	http      *http.Client
	logger    *zap.Logger
}

func New(cfg Config, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(cfg.SubmitURL)
	if err != nil {
		return nil, fmt.Errorf("parse judge url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("judge url %q must be absolute", cfg.SubmitURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		submitURL: u,
		secret:    cfg.Secret,
		http:      &http.Client{Timeout: timeout},
		logger:    logger.Named("judge"),
	}, nil
}

// Submit posts a submission body unchanged.
func (c *Client) Submit(ctx context.Context, body []byte) Result {
	if !json.Valid(body) {
		return failure(KindBadRequest, "submission body is not valid JSON")
	}
	return c.do(ctx, http.MethodPost, c.submitURL.String(), body)
}

// Status fetches a status URL returned by an earlier submission. Only URLs
// on the judge's own host are fetched.
func (c *Client) Status(ctx context.Context, statusURL string) Result {
	u, err := url.Parse(statusURL)
	if err != nil || statusURL == "" {
		return failure(KindBadRequest, "invalid status url")
	}
	if u.Scheme != c.submitURL.Scheme || u.Host != c.submitURL.Host {
		return failure(KindForbidden, "status url must be on %s", c.submitURL.Host)
	}
	return c.do(ctx, http.MethodGet, u.String(), nil)
}

func (c *Client) do(ctx context.Context, method, target string, body []byte) Result {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return failure(KindBadRequest, "%v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(secretHeader, c.secret)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("judge request failed", zap.String("method", method), zap.Error(err))
		return failure(KindUnreachable, "%v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return failure(KindUnreachable, "read response: %v", err)
	}
	if resp.StatusCode >= 400 {
		c.logger.Warn("judge returned error status", zap.Int("status", resp.StatusCode))
		return failure(KindUpstream, "judge returned %d", resp.StatusCode)
	}
	if !json.Valid(data) {
		return failure(KindBadResponse, "judge reply is not JSON")
	}
	return Result{OK: true, Data: data}
}
