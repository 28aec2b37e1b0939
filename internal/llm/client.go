package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	apperrors "coderev/internal/errors"
	"coderev/internal/httpclient"
	"coderev/internal/logging"
	"coderev/internal/observability"
)

const (
	defaultTimeout       = 30 * time.Second
	defaultHealthTimeout = 5 * time.Second
	maxLoggedBody        = 512
)

// Client talks to an OpenAI-compatible chat completions endpoint with
// bounded retries. It is safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	referer string
	title   string

	httpClient   *http.Client
	healthClient *http.Client
	retry        apperrors.RetryConfig
	maxBody      int64

	sleep   apperrors.SleepFunc
	logger  logging.Logger
	metrics *observability.MetricsCollector
	tracer  *observability.TracerProvider
}

// Option customizes a Client.
type Option func(*Client)

// WithSleep replaces the backoff wait, mainly for tests.
func WithSleep(sleep apperrors.SleepFunc) Option {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) { c.logger = logging.OrNop(logger) }
}

// WithMetrics records attempts and retries on m.
func WithMetrics(m *observability.MetricsCollector) Option {
	return func(c *Client) { c.metrics = m }
}

// WithTracer traces completions and attempts.
func WithTracer(tp *observability.TracerProvider) Option {
	return func(c *Client) {
		if tp != nil {
			c.tracer = tp
		}
	}
}

// WithTransport replaces the pooled transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.httpClient.Transport = rt
		c.healthClient.Transport = rt
	}
}

// NewClient creates a client for cfg. The completion and health clients share
// one connection pool.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	healthTimeout := cfg.HealthTimeout
	if healthTimeout <= 0 {
		healthTimeout = defaultHealthTimeout
	}

	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		referer: cfg.Referer,
		title:   cfg.Title,
		retry: apperrors.RetryConfig{
			MaxAttempts:       cfg.MaxAttempts,
			BackoffFactor:     cfg.BackoffFactor,
			MaxDelay:          cfg.MaxBackoff,
			RetryableStatuses: cfg.RetryableStatuses,
		}.Normalize(),
		maxBody: cfg.MaxResponseBytes,
		sleep:   apperrors.Sleep,
		logger:  logging.NewComponentLogger("Upstream"),
		tracer:  observability.NoopTracerProvider(),
	}

	transport := httpclient.NewTransport()
	c.httpClient = httpclient.New(timeout, transport, c.logger)
	c.healthClient = httpclient.New(healthTimeout, transport, c.logger)

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the model name used by this client.
func (c *Client) Model() string {
	return c.model
}

// Send posts one chat completion and returns the decoded reply. Timeouts,
// transport errors and 429/502/503/504 are retried with exponential backoff;
// any other error status or an embedded error object fails immediately.
func (c *Client) Send(ctx context.Context, req CompletionRequest) (Reply, error) {
	body, err := json.Marshal(chatPayload{
		Model:       c.model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	ctx, span := c.tracer.StartSpan(ctx, observability.SpanUpstreamComplete,
		attribute.String(observability.AttrModel, c.model))
	defer span.End()

	prefix := logPrefix(ctx)
	attempts := c.retry.MaxAttempts

	for attempt := 0; attempt < attempts; attempt++ {
		c.logger.Debug("%sattempt %d/%d model=%s", prefix, attempt+1, attempts, c.model)

		reply, result := c.attempt(ctx, body, attempt)
		if result.err == nil {
			if attempt > 0 {
				c.logger.Info("%sretry succeeded after %d attempts", prefix, attempt+1)
			}
			return reply, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			err := abortError(attempt+1, ctxErr)
			span.RecordError(err)
			span.SetStatus(codes.Error, "cancelled")
			return nil, err
		}

		if !result.retryable || attempt == attempts-1 {
			if result.retryable {
				c.logger.Warn("%smax attempts (%d) exhausted: %v", prefix, attempts, result.err)
			}
			span.RecordError(result.err)
			span.SetStatus(codes.Error, result.reason)
			return nil, result.err
		}

		delay := c.retry.Backoff(attempt)
		c.logger.Warn("%sattempt %d/%d failed (%s), retrying in %v: %v",
			prefix, attempt+1, attempts, result.reason, delay, result.err)
		c.metrics.RecordUpstreamRetry(ctx, result.reason)

		if err := c.sleep(ctx, delay); err != nil {
			err = abortError(attempt+1, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "cancelled")
			return nil, err
		}
	}

	// MaxAttempts is normalized to at least one, so the loop always returns.
	return nil, apperrors.NewUpstreamService("no attempts made", nil)
}

type attemptResult struct {
	err       error
	retryable bool
	reason    string
	status    int
}

func (c *Client) attempt(ctx context.Context, body []byte, attempt int) (Reply, attemptResult) {
	ctx, span := c.tracer.StartSpan(ctx, observability.SpanUpstreamAttempt,
		attribute.Int(observability.AttrAttempt, attempt+1))
	defer span.End()

	start := time.Now()
	reply, result := c.doAttempt(ctx, body, attempt)

	outcome := result.reason
	if result.err == nil {
		outcome = "success"
	}
	span.SetAttributes(attribute.Int(observability.AttrStatusCode, result.status))
	c.metrics.RecordUpstreamAttempt(ctx, c.model, outcome, result.status, time.Since(start))
	return reply, result
}

func (c *Client) doAttempt(ctx context.Context, body []byte, attempt int) (Reply, attemptResult) {
	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, attemptResult{err: apperrors.NewUpstreamService("build request", err), reason: "request"}
	}
	c.setHeaders(ctx, httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportFailure(attempt, err)
	}
	defer resp.Body.Close()

	data, err := httpclient.ReadLimited(resp.Body, httpclient.BodyCompletion, c.maxBody)
	if err != nil {
		if httpclient.IsBodyTooLarge(err) {
			return nil, attemptResult{
				err:    apperrors.NewUpstreamService("upstream response too large", err),
				reason: "payload",
				status: resp.StatusCode,
			}
		}
		result := transportFailure(attempt, err)
		result.status = resp.StatusCode
		return nil, result
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Debug("%supstream status %d body=%s", logPrefix(ctx), resp.StatusCode, truncate(string(data)))
		return nil, attemptResult{
			err:       apperrors.NewUpstreamStatus(resp.StatusCode, string(data)),
			retryable: c.retry.Retryable(resp.StatusCode),
			reason:    "status",
			status:    resp.StatusCode,
		}
	}

	var reply Reply
	if err := json.Unmarshal(data, &reply); err != nil || reply == nil {
		if err == nil {
			err = errors.New("payload is not a JSON object")
		}
		return nil, attemptResult{
			err:    apperrors.NewUpstreamService("decode response", err),
			reason: "payload",
			status: resp.StatusCode,
		}
	}

	if embedded, ok := reply["error"]; ok && embedded != nil {
		return nil, attemptResult{
			err:    embeddedError(embedded, string(data)),
			reason: "payload",
			status: resp.StatusCode,
		}
	}

	return reply, attemptResult{status: resp.StatusCode}
}

// Health probes GET {base}/models with its own short timeout. Redirect
// statuses count as reachable.
func (c *Client) Health(ctx context.Context) error {
	ctx, span := c.tracer.StartSpan(ctx, observability.SpanUpstreamHealth)
	defer span.End()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return apperrors.NewUpstreamService("build request", err)
	}
	c.setHeaders(ctx, httpReq)

	resp, err := c.healthClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		if isTimeout(err) {
			return apperrors.NewUpstreamTimeout(1, err)
		}
		return apperrors.NewUpstreamService("health check failed", err)
	}
	defer resp.Body.Close()

	if healthyStatus(resp.StatusCode) {
		return nil
	}
	data, _ := httpclient.ReadLimited(resp.Body, httpclient.BodyHealth, maxLoggedBody)
	span.SetStatus(codes.Error, resp.Status)
	return apperrors.NewUpstreamStatus(resp.StatusCode, string(data))
}

func healthyStatus(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return status >= 200 && status < 300
}

func (c *Client) setHeaders(ctx context.Context, req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.referer != "" {
		req.Header.Set("HTTP-Referer", c.referer)
	}
	if c.title != "" {
		req.Header.Set("X-Title", c.title)
	}
	if requestID := observability.RequestIDFromContext(ctx); requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}
	c.tracer.InjectHeaders(ctx, req.Header)
}

func transportFailure(attempt int, err error) attemptResult {
	if isTimeout(err) {
		return attemptResult{
			err:       apperrors.NewUpstreamTimeout(attempt+1, err),
			retryable: true,
			reason:    "timeout",
		}
	}
	return attemptResult{
		err:       apperrors.NewUpstreamService("upstream request failed", err),
		retryable: true,
		reason:    "network",
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// abortError classifies a caller cancellation or deadline.
func abortError(attempts int, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewUpstreamTimeout(attempts, err)
	}
	return apperrors.NewUpstreamService("request cancelled", err)
}

func embeddedError(raw any, body string) error {
	svc := &apperrors.UpstreamServiceError{Body: body, Message: "upstream error"}
	switch value := raw.(type) {
	case map[string]any:
		if msg, ok := value["message"].(string); ok && msg != "" {
			svc.Message = "upstream error: " + msg
		}
		if code, ok := value["code"].(float64); ok {
			svc.StatusCode = int(code)
		}
	case string:
		if value != "" {
			svc.Message = "upstream error: " + value
		}
	}
	return svc
}

func logPrefix(ctx context.Context) string {
	if requestID := observability.RequestIDFromContext(ctx); requestID != "" {
		return fmt.Sprintf("[req:%s] ", requestID)
	}
	return ""
}

func truncate(s string) string {
	if len(s) <= maxLoggedBody {
		return s
	}
	return s[:maxLoggedBody] + "..."
}
