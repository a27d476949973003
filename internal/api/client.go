package api

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

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.opentelemetry.io/otel/propagation"

	"github.com/MrWong99/jarvis/internal/dispatch"
	"github.com/MrWong99/jarvis/internal/observe"
)

// SourceVoice tags messages forwarded by the voice pipeline.
const SourceVoice = "voice"

// ClientOption configures a [Client].
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithSource sets the source reported with every message. Default "voice".
func WithSource(source string) ClientOption {
	return func(c *Client) { c.source = source }
}

// Client calls a remote [Server]. It is safe for concurrent use. When the
// voice process forwards commands to a core service, a Client is its
// dispatcher.
type Client struct {
	base   string
	http   *http.Client
	source string
}

var _ Dispatcher = (*Client)(nil)

// NewClient creates a client for the server at baseURL, e.g.
// "http://core:50051".
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("api: invalid base url %q", baseURL)
	}
	c := &Client{
		base:   strings.TrimRight(baseURL, "/"),
		http:   &http.Client{Timeout: 30 * time.Second},
		source: SourceVoice,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string { return c.base }

// ProcessMessage asks the server to resolve message.
func (c *Client) ProcessMessage(ctx context.Context, message string) (MessageResponse, error) {
	var out MessageResponse
	err := c.do(ctx, http.MethodPost, "/v1/messages", MessageRequest{
		Message:   message,
		Source:    c.source,
		Timestamp: time.Now().Unix(),
	}, &out)
	return out, err
}

// Dispatch implements the pipeline dispatcher over [Client.ProcessMessage].
// A transport failure yields an unsuccessful result with no response, so
// the caller speaks its error phrase.
func (c *Client) Dispatch(ctx context.Context, text string) dispatch.Result {
	resp, err := c.ProcessMessage(ctx, text)
	if err != nil {
		observe.Logger(ctx).Error("remote dispatch failed", "core", c.base, "err", err)
		return dispatch.Result{Error: err.Error()}
	}
	return dispatch.Result{
		Response: resp.Response,
		Success:  resp.Success,
		Error:    resp.ErrorMessage,
	}
}

// HealthCheck asks the server for the health of service.
func (c *Client) HealthCheck(ctx context.Context, service string) (HealthResponse, error) {
	path := "/v1/health"
	if service != "" {
		path += "?service=" + url.QueryEscape(service)
	}
	var out HealthResponse
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// Speak asks the server to say text. It returns once playback has finished.
func (c *Client) Speak(ctx context.Context, text string) (SpeakResponse, error) {
	var out SpeakResponse
	err := c.do(ctx, http.MethodPost, "/v1/speak", SpeakRequest{Text: text}, &out)
	return out, err
}

// WakeWordStream subscribes to the wake word stream and calls fn for every
// event until ctx is cancelled, the server ends the stream, or fn returns an
// error. Cancellation and a normal close return nil.
func (c *Client) WakeWordStream(ctx context.Context, fn func(WakeWordEvent) error) error {
	conn, _, err := websocket.Dial(ctx, c.base+"/v1/wakeword/stream", nil)
	if err != nil {
		return fmt.Errorf("api: dial wake word stream: %w", err)
	}
	defer conn.CloseNow()

	for {
		var ev WakeWordEvent
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			return fmt.Errorf("api: read wake word stream: %w", err)
		}
		if err := fn(ev); err != nil {
			conn.Close(websocket.StatusNormalClosure, "")
			return err
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("api: encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("api: build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	propagation.TraceContext{}.Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("api: %s %s: read body: %w", method, path, err)
	}
	// Failure replies still carry a structured body; only an undecodable
	// reply is an error.
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("api: %s %s: status %d: undecodable reply %q", method, path, resp.StatusCode,
			strings.TrimSpace(string(data)))
	}
	return nil
}
