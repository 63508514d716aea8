package bungie

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/valyala/fasthttp"

	"github.com/nao1215/d2crawl/internal/metrics"
	"github.com/nao1215/d2crawl/internal/ratelimit"
)

// DefaultBaseURL is the Bungie platform API root.
const DefaultBaseURL = "https://www.bungie.net/Platform"

// DefaultRetryDelay is the wait between attempts after a transient fault.
const DefaultRetryDelay = time.Second

// Doer executes a single HTTP exchange. *fasthttp.Client satisfies it.
type Doer interface {
	Do(req *fasthttp.Request, resp *fasthttp.Response) error
}

// deadlineDoer is implemented by clients that can bound an exchange by a
// deadline, as *fasthttp.Client does.
type deadlineDoer interface {
	DoDeadline(req *fasthttp.Request, resp *fasthttp.Response, deadline time.Time) error
}

// Acquirer hands out rate limit tokens.
type Acquirer interface {
	Acquire(ctx context.Context) error
}

// Client talks to the Bungie platform API.
type Client struct {
	apiKey     string
	baseURL    string
	doer       Doer
	limiter    Acquirer
	retryDelay time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API root.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithDoer replaces the HTTP transport.
func WithDoer(d Doer) Option {
	return func(c *Client) {
		if d != nil {
			c.doer = d
		}
	}
}

// WithLimiter sets the shared rate limiter.
func WithLimiter(l Acquirer) Option {
	return func(c *Client) {
		if l != nil {
			c.limiter = l
		}
	}
}

// WithRetryDelay sets the wait before retrying a transient fault.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.retryDelay = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewTransport returns the fasthttp client used in production. timeout bounds
// reading and writing a single exchange.
func NewTransport(timeout time.Duration) *fasthttp.Client {
	return &fasthttp.Client{
		Name:                "d2crawl",
		MaxConnsPerHost:     256,
		ReadTimeout:         timeout,
		WriteTimeout:        timeout,
		MaxIdleConnDuration: time.Minute,
		ReadBufferSize:      16 * 1024,
	}
}

// New creates a Client. Without WithLimiter the client uses a default bucket;
// without WithDoer it uses NewTransport with a one minute timeout.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		retryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.doer == nil {
		c.doer = NewTransport(time.Minute)
	}
	if c.limiter == nil {
		c.limiter = ratelimit.New(ratelimit.DefaultCapacity, ratelimit.DefaultPerSecond)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// call describes one logical request.
type call struct {
	endpoint string // metrics label
	method   string
	path     string // relative to baseURL, with query
	body     any    // JSON encoded when non-nil
	context  string // used in error messages and logs
}

// envelope is the full response wrapper with a typed payload.
type envelope[T any] struct {
	Envelope
	Response T `json:"Response"`
}

// doRequest runs c through the rate limiter, the transient retry loop and the
// envelope check, returning the decoded payload.
func doRequest[T any](ctx context.Context, client *Client, c call) (T, error) {
	var zero T

	var payload []byte
	if c.body != nil {
		var err error
		payload, err = json.Marshal(c.body)
		if err != nil {
			return zero, fmt.Errorf("%s: failed to encode request: %w", c.context, err)
		}
	}

	attempt := 0
	operation := func() (T, error) {
		attempt++
		if err := client.limiter.Acquire(ctx); err != nil {
			return zero, backoff.Permanent(err)
		}

		body, err := client.exchange(ctx, c, payload)
		if err != nil {
			if isTransient(err) {
				return zero, err
			}
			return zero, backoff.Permanent(fmt.Errorf("%s: %w", c.context, err))
		}

		var env envelope[T]
		if err := json.Unmarshal(body, &env); err != nil {
			if isTransient(err) {
				return zero, err
			}
			return zero, backoff.Permanent(fmt.Errorf("%s: %w: %w", c.context, ErrDecode, err))
		}
		if env.ErrorCode != ErrorCodeSuccess {
			return zero, backoff.Permanent(&APIError{Envelope: env.Envelope, Context: c.context})
		}
		return env.Response, nil
	}

	notify := func(err error, wait time.Duration) {
		client.metrics.Retry(c.endpoint)
		client.logger.Warn("transient fault, retrying",
			"endpoint", c.endpoint,
			"request", c.context,
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
	}

	policy := backoff.WithContext(backoff.NewConstantBackOff(client.retryDelay), ctx)
	result, err := backoff.RetryNotifyWithData(operation, policy, notify)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			client.metrics.APIError(apiErr.ErrorStatus)
			client.metrics.Request(c.endpoint, metrics.OutcomeAPIError)
		} else {
			client.metrics.Request(c.endpoint, metrics.OutcomeFailed)
		}
		return zero, err
	}
	client.metrics.Request(c.endpoint, metrics.OutcomeOK)
	return result, nil
}

// exchange performs one HTTP round trip and returns a copy of the body.
func (client *Client) exchange(ctx context.Context, c call, payload []byte) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(client.baseURL + c.path)
	req.Header.SetMethod(c.method)
	req.Header.Set("X-API-Key", client.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.SetContentType("application/json")
		req.SetBodyRaw(payload)
	}

	client.metrics.RequestStarted()
	defer client.metrics.RequestFinished()

	var err error
	if deadline, ok := ctx.Deadline(); ok {
		if dd, ok := client.doer.(deadlineDoer); ok {
			err = dd.DoDeadline(req, resp, deadline)
		} else {
			err = client.doer.Do(req, resp)
		}
	} else {
		err = client.doer.Do(req, resp)
	}
	if err != nil {
		return nil, err
	}

	body := resp.Body()
	out := make([]byte, len(body))
	copy(out, body)

	client.logger.Debug("bungie response",
		"endpoint", c.endpoint,
		"request", c.context,
		"status", resp.StatusCode(),
		"bytes", len(out),
	)
	return out, nil
}
