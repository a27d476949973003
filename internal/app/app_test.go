package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/jarvis/internal/api"
	"github.com/MrWong99/jarvis/internal/app"
	"github.com/MrWong99/jarvis/internal/config"
	"github.com/MrWong99/jarvis/pkg/audio"
	audiomock "github.com/MrWong99/jarvis/pkg/audio/mock"
	sttmock "github.com/MrWong99/jarvis/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/jarvis/pkg/provider/tts/mock"
	wakemock "github.com/MrWong99/jarvis/pkg/provider/wake/mock"
)

// voiceProviders returns a full set of mocks. The source blocks on read so
// the voice loop idles in Listening.
func voiceProviders() (*app.Providers, *audiomock.Source, *audiomock.Sink) {
	src := &audiomock.Source{}
	sink := &audiomock.Sink{}
	return &app.Providers{
		Audio: audio.Device{Source: src, Sink: sink},
		Wake:  &wakemock.Detector{},
		STT:   &sttmock.Provider{},
		TTS:   &ttsmock.Provider{SynthesizeChunks: [][]byte{make([]byte, 320)}},
	}, src, sink
}

func postMessage(t *testing.T, h http.Handler, text string) api.MessageResponse {
	t.Helper()
	body, _ := json.Marshal(api.MessageRequest{Message: text})
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /v1/messages = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var out api.MessageResponse
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func get(t *testing.T, h http.Handler, path string) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec.Code
}

func TestNew_TextOnlyCore(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), config.Default(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Controller() != nil {
		t.Error("Controller() != nil without audio providers")
	}
	if got := a.Commands().Len(); got != 12 {
		t.Errorf("Commands().Len() = %d, want 12", got)
	}

	res := postMessage(t, a.Handler(), "hello")
	if res.Response != "Hello!" || !res.Success {
		t.Errorf("hello = %+v, want Hello!", res)
	}
	if code := get(t, a.Handler(), "/readyz"); code != http.StatusOK {
		t.Errorf("GET /readyz = %d, want 200", code)
	}
}

func TestNew_VoiceLoop(t *testing.T) {
	t.Parallel()

	providers, _, _ := voiceProviders()
	a, err := app.New(context.Background(), config.Default(), providers)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c := a.Controller()
	if c == nil {
		t.Fatal("Controller() = nil with every provider set")
	}
	if got := c.WakeThreshold(); got != 0.7 {
		t.Errorf("WakeThreshold() = %v, want 0.7", got)
	}
	if got := c.CaptureTimeout(); got != 10*time.Second {
		t.Errorf("CaptureTimeout() = %v, want 10s", got)
	}
	// Not started yet.
	if code := get(t, a.Handler(), "/readyz"); code != http.StatusServiceUnavailable {
		t.Errorf("GET /readyz before Run = %d, want 503", code)
	}
}

func TestNew_SkillsMustBeValid(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Skills = []config.SkillConfig{{Name: "spotify", URLs: []string{"not a url"}}}
	if _, err := app.New(context.Background(), cfg, nil); err == nil {
		t.Fatal("New accepted an invalid skill url")
	}
}

func TestNew_RemoteCoreUnreachable(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Pipeline.Dispatch = config.DispatchRemote
	cfg.Pipeline.CoreURL = "http://127.0.0.1:1"

	providers, _, _ := voiceProviders()
	a, err := app.New(context.Background(), cfg, providers)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Controller() == nil {
		t.Fatal("Controller() = nil")
	}
	// The API still resolves locally.
	if res := postMessage(t, a.Handler(), "hi"); res.Response != "Hello!" {
		t.Errorf("hi = %+v, want Hello!", res)
	}
}

func TestRun_ServesUntilCancelled(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	providers, src, sink := voiceProviders()
	a, err := app.New(context.Background(), config.Default(), providers, app.WithListener(ln))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	base := "http://" + a.Addr().String()
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(base + "/readyz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("readyz never passed: err=%v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	client, err := api.NewClient(base)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	h, err := client.HealthCheck(context.Background(), "")
	if err != nil || !h.Healthy() {
		t.Errorf("HealthCheck = %+v, %v; want healthy", h, err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	if err := a.Shutdown(sctx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	if src.Held() {
		t.Error("audio source still held after Shutdown")
	}
	if _, _, closes, _ := src.Stats(); closes != 1 {
		t.Errorf("source closes = %d, want 1", closes)
	}
	if src.CallCountCloseNoop != 0 {
		t.Errorf("source closed again after release %d times, want 0", src.CallCountCloseNoop)
	}
	if sink.CallCountClose != 1 {
		t.Errorf("sink closes = %d, want 1", sink.CallCountClose)
	}
	if _, _, closes := providers.Wake.(*wakemock.Detector).Counts(); closes != 1 {
		t.Errorf("detector closes = %d, want 1", closes)
	}
}

func TestRun_ListenFailure(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Server.ListenAddr = "256.0.0.1:bad"
	a, err := app.New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Run(context.Background()); err == nil {
		t.Fatal("Run succeeded on an invalid address")
	}
}

func TestOnConfigChange(t *testing.T) {
	t.Parallel()

	var levels slog.LevelVar
	providers, _, _ := voiceProviders()
	old := config.Default()
	a, err := app.New(context.Background(), old, providers, app.WithLevelVar(&levels))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	next := config.Default()
	next.Server.LogLevel = config.LogDebug
	next.Pipeline.WakeThreshold = 0.5
	next.Pipeline.CaptureTimeout = 3
	next.Pipeline.Acknowledgement = "Ready"
	a.OnConfigChange(old, next)

	if got := levels.Level(); got != slog.LevelDebug {
		t.Errorf("level = %v, want debug", got)
	}
	c := a.Controller()
	if got := c.WakeThreshold(); got != 0.5 {
		t.Errorf("WakeThreshold() = %v, want 0.5", got)
	}
	if got := c.CaptureTimeout(); got != 3*time.Second {
		t.Errorf("CaptureTimeout() = %v, want 3s", got)
	}
	if got := c.Acknowledgement(); got != "Ready" {
		t.Errorf("Acknowledgement() = %q, want Ready", got)
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()

	providers, _, sink := voiceProviders()
	a, err := app.New(context.Background(), config.Default(), providers)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := range 2 {
		if err := a.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown #%d: %v", i+1, err)
		}
	}
	if sink.CallCountClose != 1 {
		t.Errorf("sink closes = %d, want 1", sink.CallCountClose)
	}
}

func TestShutdown_TextOnlyClosesDevice(t *testing.T) {
	t.Parallel()

	// No controller owns the source, so Shutdown releases the whole device.
	src := &audiomock.Source{}
	sink := &audiomock.Sink{}
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	providers := &app.Providers{Audio: audio.Device{Source: src, Sink: sink}}
	a, err := app.New(context.Background(), config.Default(), providers)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Controller() != nil {
		t.Fatal("Controller() != nil without wake and stt providers")
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if src.Held() {
		t.Error("audio source still held after Shutdown")
	}
	if sink.CallCountClose != 1 {
		t.Errorf("sink closes = %d, want 1", sink.CallCountClose)
	}
}

func TestShutdown_DeadlineExceeded(t *testing.T) {
	t.Parallel()

	// A wake detector without the rest of the voice loop is released by a
	// closer, which an expired context skips.
	providers := &app.Providers{Wake: &wakemock.Detector{}}
	a, err := app.New(context.Background(), config.Default(), providers)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Shutdown = %v, want context.Canceled", err)
	}
}
