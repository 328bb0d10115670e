package aps

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

const DefaultBaseURL = "https://developer.api.autodesk.com"

const (
	authPath = "/authentication/v2/token"
	ossPath  = "/oss/v2"
	mdPath   = "/modelderivative/v2"
	daPath   = "/da/us-east/v3"

	maxJSONBody  = 16 << 20
	maxErrorBody = 4 << 10
)

const (
	connectTimeout        = 10 * time.Second
	tlsHandshakeTimeout   = 10 * time.Second
	responseHeaderTimeout = 60 * time.Second
	keepAliveTimeout      = 30 * time.Second
	idleConnTimeout       = 90 * time.Second
	maxIdleConnsPerHost   = 10
)

// Timeouts bound each call by its expected latency.
type Timeouts struct {
	Auth     time.Duration
	Control  time.Duration
	Transfer time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Auth:     15 * time.Second,
		Control:  30 * time.Second,
		Transfer: 120 * time.Second,
	}
}

type Client struct {
	baseURL  string
	http     *http.Client
	timeouts Timeouts
	logger   *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func New(baseURL string, timeouts Timeouts, opts ...Option) *Client {
	def := DefaultTimeouts()
	if timeouts.Auth <= 0 {
		timeouts.Auth = def.Auth
	}
	if timeouts.Control <= 0 {
		timeouts.Control = def.Control
	}
	if timeouts.Transfer <= 0 {
		timeouts.Transfer = def.Transfer
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}

	dialer := &net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: keepAliveTimeout,
	}
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		timeouts: timeouts,
		logger:   slog.Default(),
		http: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           dialer.DialContext,
				TLSHandshakeTimeout:   tlsHandshakeTimeout,
				ResponseHeaderTimeout: responseHeaderTimeout,
				IdleConnTimeout:       idleConnTimeout,
				MaxIdleConnsPerHost:   maxIdleConnsPerHost,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StatusError is a non-2xx answer from the platform or from a signed URL.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: %s", e.Method, e.URL, e.Status)
	}
	return fmt.Sprintf("%s %s: %s: %s", e.Method, e.URL, e.Status, e.Body)
}

// IsStatus reports whether err carries the given HTTP status code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

func (c *Client) newRequest(ctx context.Context, method, rawURL, token string, body io.Reader) (*http.Request, error) {
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = c.baseURL + rawURL
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) newJSONRequest(ctx context.Context, method, path, token string, payload any) (*http.Request, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	req, err := c.newRequest(ctx, method, path, token, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// send performs the request and returns the buffered body. Non-2xx answers
// come back as *StatusError.
func (c *Client) send(req *http.Request) (int, []byte, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("aps request failed",
			slog.String("method", req.Method),
			slog.String("path", redact(req)),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return 0, nil, fmt.Errorf("%s %s: %w", req.Method, redact(req), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJSONBody))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("%s %s: read body: %w", req.Method, redact(req), err)
	}

	c.logger.Debug("aps request",
		slog.String("method", req.Method),
		slog.String("path", redact(req)),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode/100 != 2 {
		return resp.StatusCode, body, statusError(req, resp, body)
	}
	return resp.StatusCode, body, nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	_, body, err := c.send(req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", req.Method, redact(req), err)
	}
	return nil
}

func statusError(req *http.Request, resp *http.Response, body []byte) *StatusError {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &StatusError{
		Method:     req.Method,
		URL:        redact(req),
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       strings.TrimSpace(string(body)),
	}
}

// redact drops the query string: signed URLs carry credentials there.
func redact(req *http.Request) string {
	return req.URL.Scheme + "://" + req.URL.Host + req.URL.Path
}
