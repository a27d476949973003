package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/jarvis/internal/command"
	"github.com/MrWong99/jarvis/internal/dispatch"
	"github.com/MrWong99/jarvis/internal/health"
	"github.com/MrWong99/jarvis/internal/pipeline"
)

// ── test doubles ─────────────────────────────────────────────────────────────

type fakeSpeaker struct {
	mu    sync.Mutex
	err   error
	texts []string
}

func (s *fakeSpeaker) Say(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	return s.err
}

func (s *fakeSpeaker) said() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

type fakeFeed struct {
	ch          chan pipeline.WakeEvent
	subscribed  chan struct{}
	unsubscribe chan struct{}
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		ch:          make(chan pipeline.WakeEvent, 4),
		subscribed:  make(chan struct{}, 1),
		unsubscribe: make(chan struct{}, 1),
	}
}

func (f *fakeFeed) Subscribe() (<-chan pipeline.WakeEvent, func()) {
	f.subscribed <- struct{}{}
	return f.ch, func() { f.unsubscribe <- struct{}{} }
}

type runner bool

func (r runner) Running() bool { return bool(r) }

func testDispatcher(t *testing.T) *dispatch.Dispatcher {
	t.Helper()
	reg, err := command.NewBuilder().
		Register([]command.Term{command.AnyOf("hello", "hi")}, func(context.Context, []string) (command.Output, error) {
			return command.Text("Hello!"), nil
		}, "greet", false).
		Register([]command.Term{command.Required("fail")}, func(context.Context, []string) (command.Output, error) {
			return nil, errors.New("skill down")
		}, "always fails", false).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return dispatch.New(reg)
}

func newTestServer(t *testing.T, sp Speaker, opts ...ServerOption) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(NewServer(testDispatcher(t), sp, opts...).Handler())
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return srv, c
}

// ── ProcessMessage ───────────────────────────────────────────────────────────

func TestProcessMessage(t *testing.T) {
	t.Parallel()
	_, c := newTestServer(t, nil)
	ctx := context.Background()

	tests := []struct {
		message string
		want    MessageResponse
	}{
		{"Hello there", MessageResponse{Response: "Hello!", Success: true}},
		{"open the pod bay doors", MessageResponse{Response: dispatch.NotUnderstood}},
		{"fail please", MessageResponse{Response: dispatch.Apology, ErrorMessage: "skill down"}},
	}
	for _, tc := range tests {
		got, err := c.ProcessMessage(ctx, tc.message)
		if err != nil {
			t.Fatalf("ProcessMessage(%q): %v", tc.message, err)
		}
		if got != tc.want {
			t.Errorf("ProcessMessage(%q) = %+v, want %+v", tc.message, got, tc.want)
		}
	}
}

func TestProcessMessage_Malformed(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, nil)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"not json", "{nope", "invalid request"},
		{"empty body", "", "empty body"},
		{"empty message", `{"message":"  "}`, "message is required"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/v1/messages", "application/json", strings.NewReader(tc.body))
			if err != nil {
				t.Fatalf("POST: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
			var got MessageResponse
			if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.Success || !strings.Contains(got.ErrorMessage, tc.want) {
				t.Errorf("body = %+v, want failure mentioning %q", got, tc.want)
			}
		})
	}
}

func TestDispatch_Remote(t *testing.T) {
	t.Parallel()
	_, c := newTestServer(t, nil)

	res := c.Dispatch(context.Background(), "hi")
	if res.Response != "Hello!" || !res.Success {
		t.Errorf("Dispatch = %+v", res)
	}
}

func TestDispatch_RemoteUnreachable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	res := c.Dispatch(context.Background(), "hi")
	if res.Success || res.Response != "" || res.Error == "" {
		t.Errorf("Dispatch = %+v, want failure with empty response", res)
	}
}

// ── HealthCheck ──────────────────────────────────────────────────────────────

func TestHealthCheck(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("no checks", func(t *testing.T) {
		_, c := newTestServer(t, nil)
		got, err := c.HealthCheck(ctx, "")
		if err != nil {
			t.Fatalf("HealthCheck: %v", err)
		}
		if !got.Healthy() || got.Message != "jarvis service is running normally" {
			t.Errorf("HealthCheck = %+v", got)
		}
	})

	t.Run("named service", func(t *testing.T) {
		_, c := newTestServer(t, nil, WithHealth(health.New(health.Pipeline(runner(true)))))
		got, err := c.HealthCheck(ctx, "voice")
		if err != nil {
			t.Fatalf("HealthCheck: %v", err)
		}
		if !got.Healthy() || got.Message != "voice service is running normally" {
			t.Errorf("HealthCheck = %+v", got)
		}
	})

	t.Run("failing check", func(t *testing.T) {
		_, c := newTestServer(t, nil, WithHealth(health.New(health.Pipeline(runner(false)))))
		got, err := c.HealthCheck(ctx, "voice")
		if err != nil {
			t.Fatalf("HealthCheck: %v", err)
		}
		if got.Status != StatusUnhealthy || got.Message != "Error: pipeline: voice loop is not running" {
			t.Errorf("HealthCheck = %+v", got)
		}
	})
}

func TestProbesAndMetricsRoutes(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, nil, WithHealth(health.New(health.Pipeline(runner(true)))))

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}

// ── Speak ────────────────────────────────────────────────────────────────────

func TestSpeak(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("completed", func(t *testing.T) {
		sp := &fakeSpeaker{}
		_, c := newTestServer(t, sp)
		got, err := c.Speak(ctx, "Dinner is ready")
		if err != nil {
			t.Fatalf("Speak: %v", err)
		}
		if got != (SpeakResponse{Success: true, Message: SpeechCompleted}) {
			t.Errorf("Speak = %+v", got)
		}
		if said := sp.said(); len(said) != 1 || said[0] != "Dinner is ready" {
			t.Errorf("said = %v", said)
		}
	})

	t.Run("tts failure", func(t *testing.T) {
		_, c := newTestServer(t, &fakeSpeaker{err: errors.New("quota exceeded")})
		got, err := c.Speak(ctx, "hello")
		if err != nil {
			t.Fatalf("Speak: %v", err)
		}
		if got != (SpeakResponse{Message: SpeechFailed}) {
			t.Errorf("Speak = %+v", got)
		}
	})

	t.Run("no speaker", func(t *testing.T) {
		_, c := newTestServer(t, nil)
		got, err := c.Speak(ctx, "hello")
		if err != nil {
			t.Fatalf("Speak: %v", err)
		}
		if got.Success {
			t.Errorf("Speak = %+v, want failure", got)
		}
	})

	t.Run("empty text", func(t *testing.T) {
		sp := &fakeSpeaker{}
		_, c := newTestServer(t, sp)
		got, err := c.Speak(ctx, " ")
		if err != nil {
			t.Fatalf("Speak: %v", err)
		}
		if got.Success || got.Message != "text is required" {
			t.Errorf("Speak = %+v", got)
		}
		if len(sp.said()) != 0 {
			t.Error("speaker called for empty text")
		}
	})
}

// ── WakeWordStream ───────────────────────────────────────────────────────────

func TestWakeWordStream_HeartbeatsAndDetections(t *testing.T) {
	t.Parallel()
	feed := newFakeFeed()
	_, c := newTestServer(t, nil, WithWakeFeed(feed), WithHeartbeat(20*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events := make(chan WakeWordEvent, 256)
	errc := make(chan error, 1)
	go func() {
		errc <- c.WakeWordStream(ctx, func(ev WakeWordEvent) error {
			events <- ev
			return nil
		})
	}()

	<-feed.subscribed
	next := func() WakeWordEvent {
		t.Helper()
		select {
		case ev := <-events:
			return ev
		case <-ctx.Done():
			t.Fatal("stream produced no event")
			return WakeWordEvent{}
		}
	}

	hb := next()
	if hb.Detected || hb.WakeWord != "jarvis" || hb.Timestamp.IsZero() {
		t.Errorf("heartbeat = %+v", hb)
	}

	detectedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	feed.ch <- pipeline.WakeEvent{Detected: true, WakeWord: "hey jarvis", Score: 0.91, Timestamp: detectedAt}

	var detection WakeWordEvent
	for !detection.Detected {
		detection = next()
	}
	if detection.WakeWord != "hey jarvis" || detection.Score != 0.91 || !detection.Timestamp.Equal(detectedAt) {
		t.Errorf("detection = %+v", detection)
	}

	close(feed.ch)
	if err := <-errc; err != nil {
		t.Fatalf("WakeWordStream = %v, want nil when the pipeline stops", err)
	}
	select {
	case <-feed.unsubscribe:
	case <-time.After(time.Second):
		t.Error("stream did not unsubscribe")
	}
}

func TestWakeWordStream_ImmediateHeartbeat(t *testing.T) {
	t.Parallel()
	_, c := newTestServer(t, nil, WithHeartbeat(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stop := errors.New("got one")
	var first WakeWordEvent
	err := c.WakeWordStream(ctx, func(ev WakeWordEvent) error {
		first = ev
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("WakeWordStream = %v, want an event before the first interval", err)
	}
	if first.Detected || first.WakeWord != "jarvis" || first.Timestamp.IsZero() {
		t.Errorf("first event = %+v, want jarvis heartbeat", first)
	}
}

func TestWakeWordStream_ClientCancel(t *testing.T) {
	t.Parallel()
	feed := newFakeFeed()
	_, c := newTestServer(t, nil, WithWakeFeed(feed), WithHeartbeat(10*time.Millisecond), WithWakeWord("friday"))

	ctx, cancel := context.WithCancel(context.Background())
	var got []WakeWordEvent
	err := c.WakeWordStream(ctx, func(ev WakeWordEvent) error {
		got = append(got, ev)
		if len(got) == 3 {
			cancel()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WakeWordStream = %v, want nil on cancel", err)
	}
	for _, ev := range got {
		if ev.Detected || ev.WakeWord != "friday" {
			t.Errorf("event = %+v, want friday heartbeat", ev)
		}
	}
	select {
	case <-feed.unsubscribe:
	case <-time.After(2 * time.Second):
		t.Error("server did not unsubscribe after client went away")
	}
}

func TestWakeWordStream_CallbackError(t *testing.T) {
	t.Parallel()
	_, c := newTestServer(t, nil, WithHeartbeat(10*time.Millisecond))

	stop := errors.New("enough")
	err := c.WakeWordStream(context.Background(), func(WakeWordEvent) error { return stop })
	if !errors.Is(err, stop) {
		t.Errorf("WakeWordStream = %v, want %v", err, stop)
	}
}

// ── Client ───────────────────────────────────────────────────────────────────

func TestNewClient_InvalidURL(t *testing.T) {
	t.Parallel()
	for _, u := range []string{"", "core:50051", "ftp://core", "http://"} {
		if _, err := NewClient(u); err == nil {
			t.Errorf("NewClient(%q) succeeded, want error", u)
		}
	}
}

func TestClient_UndecodableReply(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()
	c, err := NewClient(srv.URL + "/")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = c.HealthCheck(context.Background(), "core")
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Errorf("HealthCheck err = %v, want status 502", err)
	}
}

func TestClient_SendsSource(t *testing.T) {
	t.Parallel()
	reqs := make(chan MessageRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req MessageRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		reqs <- req
		writeJSON(w, http.StatusOK, MessageResponse{Response: "ok", Success: true})
	}))
	defer srv.Close()
	c, err := NewClient(srv.URL, WithSource("cli"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	if _, err := c.ProcessMessage(context.Background(), "what is the date"); err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	req := <-reqs
	if req.Source != "cli" || req.Message != "what is the date" || req.Timestamp == 0 {
		t.Errorf("request = %+v", req)
	}
}
