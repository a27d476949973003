package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/jarvis/internal/dispatch"
	"github.com/MrWong99/jarvis/internal/health"
	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/internal/pipeline"
	"github.com/MrWong99/jarvis/internal/voice"
)

const (
	defaultHeartbeat = time.Second
	defaultWakeWord  = "jarvis"
	maxBodyBytes     = 64 << 10
	writeTimeout     = 5 * time.Second
)

// Dispatcher resolves message text. Implemented by [dispatch.Dispatcher].
type Dispatcher interface {
	Dispatch(ctx context.Context, text string) dispatch.Result
}

// Speaker plays text on the output device. Implemented by [voice.Speaker].
type Speaker interface {
	Say(ctx context.Context, text string) error
}

// WakeFeed publishes wake events. Implemented by [pipeline.Controller].
type WakeFeed interface {
	Subscribe() (<-chan pipeline.WakeEvent, func())
}

// ServerOption configures a [Server].
type ServerOption func(*Server)

// WithWakeFeed forwards real detections from feed onto the wake word stream.
// Without a feed the stream carries heartbeats only.
func WithWakeFeed(feed WakeFeed) ServerOption {
	return func(s *Server) { s.feed = feed }
}

// WithHealth backs the health RPC and the /healthz and /readyz probes with h.
func WithHealth(h *health.Handler) ServerOption {
	return func(s *Server) { s.health = h }
}

// WithWakeWord sets the label sent on heartbeats. Default "jarvis".
func WithWakeWord(word string) ServerOption {
	return func(s *Server) {
		if word != "" {
			s.wakeWord = word
		}
	}
}

// WithHeartbeat sets the wake stream heartbeat interval. Default 1s.
func WithHeartbeat(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

// WithServiceName sets the name reported by the health RPC when the caller
// does not name a service.
func WithServiceName(name string) ServerOption {
	return func(s *Server) { s.service = name }
}

// WithServerMetrics records HTTP request metrics on m.
func WithServerMetrics(m *observe.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// Server serves the remote surface. It never touches the capture device:
// messages go to the dispatcher and speech to the shared speaker.
type Server struct {
	dispatcher Dispatcher
	speaker    Speaker
	feed       WakeFeed
	health     *health.Handler
	metrics    *observe.Metrics
	wakeWord   string
	heartbeat  time.Duration
	service    string
}

// NewServer creates a [Server]. speaker may be nil for a text-only core, in
// which case Speak always fails.
func NewServer(d Dispatcher, speaker Speaker, opts ...ServerOption) *Server {
	s := &Server{
		dispatcher: d,
		speaker:    speaker,
		wakeWord:   defaultWakeWord,
		heartbeat:  defaultHeartbeat,
		service:    "jarvis",
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the routed, instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/messages", s.handleMessage)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("POST /v1/speak", s.handleSpeak)
	mux.HandleFunc("GET /v1/wakeword/stream", s.handleWakeStream)
	mux.Handle("GET /metrics", observe.MetricsHandler())
	if s.health != nil {
		s.health.Register(mux)
	}
	return observe.Middleware(s.metrics)(mux)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := decode(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, MessageResponse{ErrorMessage: err.Error()})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, MessageResponse{ErrorMessage: "message is required"})
		return
	}

	observe.Logger(r.Context()).Info("processing message", "source", req.Source, "message", req.Message)
	res := s.dispatcher.Dispatch(r.Context(), req.Message)
	writeJSON(w, http.StatusOK, MessageResponse{
		Response:     res.Response,
		Success:      res.Success,
		ErrorMessage: res.Error,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("service")
	if name == "" {
		name = s.service
	}
	if s.health == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: StatusHealthy, Message: name + " service is running normally"})
		return
	}

	rep := s.health.Evaluate(r.Context())
	if rep.OK() {
		writeJSON(w, http.StatusOK, HealthResponse{Status: StatusHealthy, Message: name + " service is running normally"})
		return
	}
	var failed []string
	for check, outcome := range rep.Checks {
		if outcome != "ok" {
			failed = append(failed, check+": "+strings.TrimPrefix(outcome, "fail: "))
		}
	}
	slices.Sort(failed)
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  StatusUnhealthy,
		Message: fmt.Sprintf("Error: %s", strings.Join(failed, "; ")),
	})
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req SpeakRequest
	if err := decode(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, SpeakResponse{Message: err.Error()})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, SpeakResponse{Message: "text is required"})
		return
	}

	log := observe.Logger(r.Context())
	if s.speaker == nil {
		log.Warn("speak request without an output device")
		writeJSON(w, http.StatusOK, SpeakResponse{Message: SpeechFailed})
		return
	}
	if err := s.speaker.Say(voice.WithOrigin(r.Context(), voice.OriginAPI), req.Text); err != nil {
		log.Error("speak request failed", "err", err)
		writeJSON(w, http.StatusOK, SpeakResponse{Message: SpeechFailed})
		return
	}
	writeJSON(w, http.StatusOK, SpeakResponse{Success: true, Message: SpeechCompleted})
}

func (s *Server) handleWakeStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		// Accept has already written an error response.
		return
	}
	defer conn.CloseNow()

	log := observe.Logger(r.Context())
	log.Info("wake word stream client connected")
	defer log.Info("wake word stream client disconnected")

	// The client never sends; CloseRead cancels ctx when it goes away.
	ctx := conn.CloseRead(r.Context())

	var events <-chan pipeline.WakeEvent
	if s.feed != nil {
		ch, unsubscribe := s.feed.Subscribe()
		defer unsubscribe()
		events = ch
	}

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	send := func(ev WakeWordEvent) bool {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()
		if err := wsjson.Write(wctx, conn, ev); err != nil {
			if ctx.Err() == nil {
				log.Warn("wake word stream write failed", "err", err)
			}
			return false
		}
		return true
	}

	// Greet the client right away rather than after a full interval.
	if !send(WakeWordEvent{WakeWord: s.wakeWord, Timestamp: time.Now().UTC()}) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if !send(WakeWordEvent{WakeWord: s.wakeWord, Timestamp: now.UTC()}) {
				return
			}
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "pipeline stopped")
				return
			}
			if !send(WakeWordEvent{
				Detected:  ev.Detected,
				WakeWord:  ev.WakeWord,
				Score:     ev.Score,
				Timestamp: ev.Timestamp.UTC(),
			}) {
				return
			}
		}
	}
}

// decode reads a single JSON object from the request body.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("invalid request: empty body")
		}
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
