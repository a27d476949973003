// Package skill calls the remote skill services (music playback and the like)
// that command handlers delegate to.
//
// A skill service speaks JSON over HTTP:
//
//	POST {base}/v1/{method}   body: method-specific JSON
//	                          reply: {"response": "...", "success": true, "error_message": ""}
//	GET  {base}/v1/health     reply: {"status": "healthy", "message": "..."}
//
// A [Client] knows every replica of one service and tries them in order
// through a [resilience.FallbackGroup], so a dead replica trips its own
// circuit breaker and is skipped until it recovers.
package skill

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

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/jarvis/internal/command"
	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/internal/resilience"
)

// ErrSkillFailed marks transport and protocol failures of a skill replica:
// connection errors, non-2xx statuses and unreadable replies. A reply with
// success=false is a valid answer and is not an error.
var ErrSkillFailed = errors.New("skill: request failed")

// RequestIDHeader carries a per-call UUID to the skill service.
const RequestIDHeader = "X-Request-ID"

const maxReplyBytes = 1 << 20

// Health is a skill service's health report.
type Health struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Healthy reports whether Status is "healthy".
func (h Health) Healthy() bool { return h.Status == "healthy" }

type reply struct {
	Response     string `json:"response"`
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message"`
}

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its Timeout bounds each replica
// attempt.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithTimeout sets the per-attempt timeout of the default HTTP client.
// Default: 5s.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.timeout = d
		}
	}
}

// WithBreaker configures the circuit breaker created for each replica.
func WithBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(cl *Client) { cl.breaker = cfg }
}

// WithMetrics records skill calls on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(cl *Client) { cl.metrics = m }
}

// Client calls one skill service. It is safe for concurrent use.
type Client struct {
	name    string
	http    *http.Client
	timeout time.Duration
	breaker resilience.CircuitBreakerConfig
	metrics *observe.Metrics
	group   *resilience.FallbackGroup[string]
}

// NewClient creates a client for the skill called name, served by the
// replicas at urls in priority order.
func NewClient(name string, urls []string, opts ...Option) (*Client, error) {
	if name == "" {
		return nil, errors.New("skill: name must not be empty")
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("skill: %s: at least one url is required", name)
	}
	bases := make([]string, len(urls))
	for i, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("skill: %s: invalid url %q", name, raw)
		}
		bases[i] = strings.TrimRight(raw, "/")
	}

	c := &Client{
		name:    name,
		timeout: 5 * time.Second,
		breaker: resilience.CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: 30 * time.Second, HalfOpenMax: 1},
	}
	for _, o := range opts {
		o(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: c.timeout}
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}

	cfg := resilience.FallbackConfig{CircuitBreaker: c.breaker}
	c.group = resilience.NewFallbackGroup(bases[0], name+"@"+bases[0], cfg)
	for _, b := range bases[1:] {
		c.group.AddFallback(name+"@"+b, b)
	}
	return c, nil
}

// Name returns the skill's name.
func (c *Client) Name() string { return c.name }

// Replicas returns each replica's circuit breaker state, keyed by
// "name@url".
func (c *Client) Replicas() map[string]resilience.State { return c.group.States() }

// Available reports whether any replica may currently be called.
func (c *Client) Available() bool { return c.group.Healthy() }

// Call invokes method with body marshalled as JSON and returns the skill's
// reply. Replicas are tried in order until one answers.
func (c *Client) Call(ctx context.Context, method string, body any) (command.SkillResponse, error) {
	ctx, span := observe.StartSpan(ctx, "skill.call")
	defer span.End()
	span.SetAttributes(attribute.String("skill.name", c.name), attribute.String("skill.method", method))

	payload, err := json.Marshal(body)
	if err != nil {
		return command.SkillResponse{}, fmt.Errorf("skill: %s.%s: encode request: %w", c.name, method, err)
	}
	requestID := uuid.NewString()

	r, err := resilience.ExecuteWithResult(ctx, c.group, func(ctx context.Context, base string) (reply, error) {
		return c.post(ctx, base+"/v1/"+method, requestID, payload)
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		c.metrics.RecordSkillRequest(ctx, c.name, method, "error")
		observe.Logger(ctx).Warn("skill call failed", "skill", c.name, "method", method, "request_id", requestID, "error", err)
		return command.SkillResponse{}, fmt.Errorf("skill: %s.%s: %w", c.name, method, err)
	}

	status := observe.Status(r.Success)
	c.metrics.RecordSkillRequest(ctx, c.name, method, status)
	span.SetAttributes(attribute.Bool("skill.success", r.Success))
	observe.Logger(ctx).Debug("skill replied", "skill", c.name, "method", method, "request_id", requestID, "success", r.Success)
	return command.SkillResponse{Response: r.Response, Success: r.Success, ErrorMessage: r.ErrorMessage}, nil
}

func (c *Client) post(ctx context.Context, endpoint, requestID string, payload []byte) (reply, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return reply{}, fmt.Errorf("%w: %w", ErrSkillFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(RequestIDHeader, requestID)

	var r reply
	if err := c.do(req, &r); err != nil {
		return reply{}, err
	}
	return r, nil
}

// HealthCheck asks the first reachable replica for its health.
func (c *Client) HealthCheck(ctx context.Context) (Health, error) {
	h, err := resilience.ExecuteWithResult(ctx, c.group, func(ctx context.Context, base string) (Health, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/v1/health", nil)
		if err != nil {
			return Health{}, fmt.Errorf("%w: %w", ErrSkillFailed, err)
		}
		var h Health
		if err := c.do(req, &h); err != nil {
			return Health{}, err
		}
		return h, nil
	})
	if err != nil {
		return Health{}, fmt.Errorf("skill: %s: health: %w", c.name, err)
	}
	return h, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSkillFailed, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return fmt.Errorf("%w: read reply: %w", ErrSkillFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s returned %d: %s", ErrSkillFailed, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode reply: %w", ErrSkillFailed, err)
	}
	return nil
}
