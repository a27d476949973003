// Package app wires the jarvis subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the command table,
// skill clients, speaker, voice loop and HTTP surface; Run serves until the
// context is cancelled; Shutdown tears everything down in order.
//
// Providers come from main.go through the config registry. Any provider may
// be nil: without a sink there is no speaker, and without a capture device,
// wake detector or recognizer the voice loop is disabled and the process
// serves the API as a text-only core.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/jarvis/internal/api"
	"github.com/MrWong99/jarvis/internal/command"
	"github.com/MrWong99/jarvis/internal/config"
	"github.com/MrWong99/jarvis/internal/dispatch"
	"github.com/MrWong99/jarvis/internal/health"
	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/internal/pipeline"
	"github.com/MrWong99/jarvis/internal/skill"
	"github.com/MrWong99/jarvis/internal/transcript"
	"github.com/MrWong99/jarvis/internal/voice"
	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/MrWong99/jarvis/pkg/audio/wavrec"
	"github.com/MrWong99/jarvis/pkg/provider/stt"
	"github.com/MrWong99/jarvis/pkg/provider/tts"
	"github.com/MrWong99/jarvis/pkg/provider/wake"
)

// SpotifySkill is the skill name bound to the music commands.
const SpotifySkill = "spotify"

const (
	coreProbeTimeout = 5 * time.Second
	serverShutdown   = 5 * time.Second
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	Audio audio.Device
	Wake  wake.Detector
	STT   stt.Provider
	TTS   tts.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	levels  *slog.LevelVar
	watcher *config.Watcher
	metrics *observe.Metrics
	fs      afero.Fs

	// Subsystems, initialised in New and torn down in Shutdown.
	commands   *command.Registry
	local      *dispatch.Dispatcher
	core       *api.Client
	skills     []*skill.Client
	speaker    *voice.Speaker
	controller *pipeline.Controller
	health     *health.Handler
	api        *api.Server
	server     *http.Server

	mu sync.Mutex
	ln net.Listener

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithLevelVar lets hot reloads change the log level through lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.levels = lv }
}

// WithWatcher runs w alongside the server in [App.Run]. w should deliver
// changes to [App.OnConfigChange].
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// WithMetrics records every subsystem's metrics on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithFs sets the filesystem utterance recordings are written to. Default is
// the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(a *App) { a.fs = fs }
}

// WithListener serves on ln instead of listening on the configured address.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.ln = ln }
}

// New creates an App by wiring all subsystems together. It performs no I/O
// other than the optional remote core probe.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.fs == nil {
		a.fs = afero.NewOsFs()
	}

	if err := a.initSkills(); err != nil {
		return nil, fmt.Errorf("app: init skills: %w", err)
	}
	if err := a.initCommands(); err != nil {
		return nil, fmt.Errorf("app: init commands: %w", err)
	}
	if err := a.initCore(ctx); err != nil {
		return nil, fmt.Errorf("app: init core client: %w", err)
	}
	a.initSpeaker()
	if err := a.initPipeline(); err != nil {
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}
	a.initAPI()
	return a, nil
}

func (a *App) initSkills() error {
	for _, sc := range a.cfg.Skills {
		c, err := skill.NewClient(sc.Name, sc.URLs,
			skill.WithTimeout(sc.Timeout),
			skill.WithMetrics(a.metrics),
		)
		if err != nil {
			return err
		}
		a.skills = append(a.skills, c)
		slog.Info("skill configured", "skill", sc.Name, "replicas", len(sc.URLs))
	}
	return nil
}

func (a *App) initCommands() error {
	var spotify *skill.Spotify
	for _, c := range a.skills {
		if c.Name() == SpotifySkill {
			spotify = skill.NewSpotify(c)
		}
	}
	if spotify == nil {
		slog.Warn("no spotify skill configured; music commands will fail")
	}

	reg, err := DefaultCommands(spotify)
	if err != nil {
		return err
	}
	a.commands = reg
	a.local = dispatch.New(reg, dispatch.WithMetrics(a.metrics))
	return nil
}

// initCore creates the remote dispatcher in remote mode. An unhealthy or
// unreachable core is logged and tolerated.
func (a *App) initCore(ctx context.Context) error {
	if a.cfg.Pipeline.Dispatch != config.DispatchRemote {
		return nil
	}
	c, err := api.NewClient(a.cfg.Pipeline.CoreURL)
	if err != nil {
		return err
	}
	a.core = c

	pctx, cancel := context.WithTimeout(ctx, coreProbeTimeout)
	defer cancel()
	h, err := c.HealthCheck(pctx, "voice")
	switch {
	case err != nil:
		slog.Warn("core service unreachable", "core", c.BaseURL(), "err", err)
	case !h.Healthy():
		slog.Warn("core service unhealthy", "core", c.BaseURL(), "message", h.Message)
	default:
		slog.Info("core service healthy", "core", c.BaseURL(), "message", h.Message)
	}
	return nil
}

func (a *App) initSpeaker() {
	p := a.providers
	if p.TTS == nil || p.Audio.Sink == nil {
		slog.Warn("no speech output configured; responses will not be spoken")
		return
	}
	v := tts.Voice{ID: config.OptString(a.cfg.Providers.TTS.Options, "voice_id")}
	a.speaker = voice.New(p.TTS, p.Audio.Sink, voice.WithVoice(v), voice.WithMetrics(a.metrics))
}

func (a *App) initPipeline() error {
	p := a.providers
	var missing []string
	if p.Audio.Source == nil {
		missing = append(missing, "audio source")
	}
	if p.Wake == nil {
		missing = append(missing, "wake detector")
	}
	if p.STT == nil {
		missing = append(missing, "speech recognizer")
	}
	if a.speaker == nil {
		missing = append(missing, "speaker")
	}
	if len(missing) > 0 {
		slog.Warn("voice loop disabled", "missing", missing)
		if p.Wake != nil {
			a.closers = append(a.closers, p.Wake.Close)
		}
		return nil
	}

	pc := a.cfg.Pipeline
	cfg := pipeline.Config{
		WakeThreshold:   pc.WakeThreshold,
		CaptureTimeout:  pc.Timeout(),
		Acknowledgement: pc.Acknowledgement,
		BootMessage:     pc.BootMessage,
		ErrorMessage:    pc.ErrorMessage,
		Language:        pc.Language,
		Keywords:        a.commands.Vocabulary(),
	}

	var disp pipeline.Dispatcher = a.local
	if a.core != nil {
		disp = a.core
	}

	opts := []pipeline.Option{pipeline.WithMetrics(a.metrics)}
	if pc.PhoneticCorrection {
		opts = append(opts, pipeline.WithCorrector(transcript.NewCorrector(a.commands.Vocabulary())))
	}
	if pc.RecordingDir != "" {
		opts = append(opts, pipeline.WithRecorder(wavrec.New(a.fs, pc.RecordingDir)))
	}

	c, err := pipeline.New(cfg, pipeline.Deps{
		Source:     p.Audio.Source,
		Detector:   p.Wake,
		Recognizer: p.STT,
		Dispatcher: disp,
		Speaker:    a.speaker,
	}, opts...)
	if err != nil {
		return err
	}
	a.controller = c
	return nil
}

func (a *App) initAPI() {
	var checks []health.Checker
	if a.controller != nil {
		checks = append(checks, health.Pipeline(a.controller))
	}
	if len(a.skills) > 0 {
		skills := make([]health.Skill, len(a.skills))
		for i, s := range a.skills {
			skills[i] = s
		}
		checks = append(checks, health.Skills(skills...))
	}
	a.health = health.New(checks...)

	opts := []api.ServerOption{
		api.WithHealth(a.health),
		api.WithWakeWord(a.cfg.Pipeline.WakeWord),
		api.WithServerMetrics(a.metrics),
	}
	if a.controller != nil {
		opts = append(opts, api.WithWakeFeed(a.controller))
	}
	// A nil *voice.Speaker must not become a non-nil interface.
	var sp api.Speaker
	if a.speaker != nil {
		sp = a.speaker
	}
	a.api = api.NewServer(a.local, sp, opts...)
	a.server = &http.Server{
		Handler:           a.api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Commands returns the command table.
func (a *App) Commands() *command.Registry { return a.commands }

// Controller returns the voice loop controller, or nil when it is disabled.
func (a *App) Controller() *pipeline.Controller { return a.controller }

// Handler returns the HTTP handler of the remote surface.
func (a *App) Handler() http.Handler { return a.server.Handler }

// Addr returns the address the server listens on, or nil before [App.Run]
// has bound it.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ln == nil {
		return nil
	}
	return a.ln.Addr()
}

func (a *App) listen() (net.Listener, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ln != nil {
		return a.ln, nil
	}
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return nil, err
	}
	a.ln = ln
	return ln, nil
}

// Run serves the API, runs the voice loop and polls the config watcher until
// ctx is cancelled or the server fails. A clean stop returns nil.
func (a *App) Run(ctx context.Context) error {
	ln, err := a.listen()
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("api server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), serverShutdown)
		defer cancel()
		if err := a.server.Shutdown(sctx); err != nil {
			slog.Warn("api server shutdown", "err", err)
		}
		return nil
	})

	if a.controller != nil {
		if err := a.controller.Start(gctx); err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("app: start pipeline: %w", err)
		}
	}

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	return g.Wait()
}

// OnConfigChange applies the hot-reloadable differences between old and new
// and warns about fields that need a restart.
func (a *App) OnConfigChange(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.levels != nil {
		a.levels.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if a.controller != nil {
		if d.WakeThresholdChanged {
			if err := a.controller.SetWakeThreshold(d.NewWakeThreshold); err != nil {
				slog.Warn("wake threshold not applied", "err", err)
			} else {
				slog.Info("wake threshold changed", "threshold", d.NewWakeThreshold)
			}
		}
		if d.CaptureTimeoutChanged {
			if err := a.controller.SetCaptureTimeout(d.NewCaptureTimeout); err != nil {
				slog.Warn("capture timeout not applied", "err", err)
			} else {
				slog.Info("capture timeout changed", "timeout", d.NewCaptureTimeout)
			}
		}
		if d.AcknowledgementChanged {
			a.controller.SetAcknowledgement(d.NewAcknowledgement)
			slog.Info("acknowledgement changed", "phrase", d.NewAcknowledgement)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "fields", d.RestartRequired)
	}
}

// Shutdown tears down all subsystems. It respects the context deadline: if
// ctx expires before all closers finish, remaining closers are skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// The voice loop goes first so nothing writes to the device.
		if a.controller != nil {
			if err := a.controller.Stop(ctx); err != nil {
				slog.Warn("pipeline stop", "err", err)
			}
		}
		if err := a.server.Close(); err != nil {
			slog.Warn("api server close", "err", err)
		}
		// A controller has already released the source.
		device := a.providers.Audio
		if a.controller != nil {
			device.Source = nil
		}
		if err := device.Close(); err != nil {
			slog.Warn("audio device close", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
