// Package pipeline runs the voice loop: wait for the wake word, capture one
// utterance, dispatch it and speak the reply.
//
// A [Controller] owns a single worker goroutine that is the only reader of
// the audio source. The worker advances one [State] per iteration:
//
//	Idle → Listening → Capturing → Dispatching → Speaking → Listening → ...
//	                                                  any → ShuttingDown
//
// Failures inside a state are contained: device errors release the
// microphone and retry, recognition errors finalize the capture with what
// was heard so far, and panics are recovered at the state boundary.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/jarvis/internal/dispatch"
	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/internal/transcript"
	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/MrWong99/jarvis/pkg/provider/stt"
	"github.com/MrWong99/jarvis/pkg/provider/wake"
)

var (
	// ErrAlreadyStarted is returned by a second call to [Controller.Start].
	ErrAlreadyStarted = errors.New("pipeline: already started")

	// ErrStopTimeout is returned by [Controller.Stop] when the worker does not
	// exit within the grace period.
	ErrStopTimeout = errors.New("pipeline: worker did not stop in time")
)

// State is the controller's position in the voice loop.
type State int32

const (
	StateIdle State = iota
	StateListening
	StateCapturing
	StateDispatching
	StateSpeaking
	StateShuttingDown
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateCapturing:
		return "capturing"
	case StateDispatching:
		return "dispatching"
	case StateSpeaking:
		return "speaking"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// EndReason says why a capture ended.
type EndReason string

const (
	EndEndpoint EndReason = "endpoint"
	EndTimeout  EndReason = "timeout"
	EndError    EndReason = "error"
)

// Utterance is one captured command.
type Utterance struct {
	ID     string
	Text   string
	Start  time.Time
	End    time.Time
	Reason EndReason
}

// Duration returns how long the capture lasted.
func (u Utterance) Duration() time.Duration { return u.End.Sub(u.Start) }

// WakeEvent is published to subscribers on every wake-word hit.
type WakeEvent struct {
	Detected  bool
	WakeWord  string
	Score     float64
	Timestamp time.Time
}

// Dispatcher resolves transcript text to a response.
type Dispatcher interface {
	Dispatch(ctx context.Context, text string) dispatch.Result
}

// Speaker plays a response and returns when playback has finished.
type Speaker interface {
	Say(ctx context.Context, text string) error
}

// Corrector rewrites recognised text before dispatch.
type Corrector interface {
	Correct(text string) (string, []transcript.Correction)
}

// Recorder persists the raw audio of a capture.
type Recorder interface {
	Save(id string, pcm []byte, format audio.Format) (string, error)
}

// Default phrases and timings.
const (
	DefaultAcknowledgement = "Yes sir?"
	DefaultBootMessage     = "Booting up!"
	DefaultErrorMessage    = "Error processing command"
	DefaultWakeThreshold   = 0.7
	DefaultCaptureTimeout  = 10 * time.Second
	DefaultStopGrace       = 2 * time.Second
	DefaultDeviceRetry     = time.Second
)

// Config holds the controller's tunables. Empty phrases are not spoken.
type Config struct {
	WakeThreshold   float64
	CaptureTimeout  time.Duration
	Acknowledgement string
	BootMessage     string
	ErrorMessage    string

	// Language and Keywords are passed to every recognition session.
	Language string
	Keywords []string
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		WakeThreshold:   DefaultWakeThreshold,
		CaptureTimeout:  DefaultCaptureTimeout,
		Acknowledgement: DefaultAcknowledgement,
		BootMessage:     DefaultBootMessage,
		ErrorMessage:    DefaultErrorMessage,
		Language:        "en",
	}
}

func validThreshold(t float64) bool { return t > 0 && t <= 1 }

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if !validThreshold(c.WakeThreshold) {
		errs = append(errs, fmt.Errorf("wake threshold %v must be in (0, 1]", c.WakeThreshold))
	}
	if c.CaptureTimeout <= 0 {
		errs = append(errs, fmt.Errorf("capture timeout %v must be positive", c.CaptureTimeout))
	}
	return errors.Join(errs...)
}

// Deps are the collaborators the controller drives.
type Deps struct {
	Source     audio.Source
	Detector   wake.Detector
	Recognizer stt.Provider
	Dispatcher Dispatcher
	Speaker    Speaker
}

func (d Deps) validate() error {
	var errs []error
	if d.Source == nil {
		errs = append(errs, errors.New("source is required"))
	}
	if d.Detector == nil {
		errs = append(errs, errors.New("detector is required"))
	}
	if d.Recognizer == nil {
		errs = append(errs, errors.New("recognizer is required"))
	}
	if d.Dispatcher == nil {
		errs = append(errs, errors.New("dispatcher is required"))
	}
	if d.Speaker == nil {
		errs = append(errs, errors.New("speaker is required"))
	}
	return errors.Join(errs...)
}

// Option configures a [Controller].
type Option func(*Controller)

// WithStopGrace bounds how long Stop waits for the worker. Default: 2s.
func WithStopGrace(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.stopGrace = d
		}
	}
}

// WithDeviceRetry sets the back-off after a device failure. Default: 1s.
func WithDeviceRetry(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.deviceRetry = d
		}
	}
}

// WithCorrector enables transcript correction of captured speech.
func WithCorrector(cr Corrector) Option {
	return func(c *Controller) { c.corrector = cr }
}

// WithRecorder saves the audio of every capture.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// WithMetrics records pipeline metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// Controller runs the voice loop. All exported methods are safe for
// concurrent use.
type Controller struct {
	deps        Deps
	cfg         Config
	stopGrace   time.Duration
	deviceRetry time.Duration
	corrector   Corrector
	recorder    Recorder
	metrics     *observe.Metrics

	threshold atomic.Uint64 // math.Float64bits
	timeout   atomic.Int64  // time.Duration
	ack       atomic.Pointer[string]
	state     atomic.Int32

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	stopErr  error

	events *hub

	lastMu  sync.Mutex
	last    Utterance
	hasLast bool

	// Owned by the worker goroutine.
	held      bool
	streaming bool
	booted    bool
}

// New validates cfg and deps and returns an idle controller.
func New(cfg Config, deps Deps, opts ...Option) (*Controller, error) {
	if err := errors.Join(cfg.Validate(), deps.validate()); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	c := &Controller{
		deps:        deps,
		cfg:         cfg,
		stopGrace:   DefaultStopGrace,
		deviceRetry: DefaultDeviceRetry,
		events:      newHub(),
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	c.threshold.Store(math.Float64bits(cfg.WakeThreshold))
	c.timeout.Store(int64(cfg.CaptureTimeout))
	ack := cfg.Acknowledgement
	c.ack.Store(&ack)
	return c, nil
}

// Start moves the controller from Idle to Listening and spawns the worker.
// The worker runs until Stop is called or ctx is cancelled.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true
	wctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.setState(StateListening)
	go c.run(wctx)
	return nil
}

// Stop shuts the controller down. It cancels the worker, waits for it up to
// the grace period, releases the device and closes the detector. Stop is
// idempotent; later calls return the first result.
func (c *Controller) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() { c.stopErr = c.shutdown(ctx) })
	return c.stopErr
}

func (c *Controller) shutdown(ctx context.Context) error {
	c.setState(StateShuttingDown)
	c.mu.Lock()
	wasStarted := c.started
	c.started = true
	cancel := c.cancel
	c.mu.Unlock()
	if !wasStarted {
		// Never started: no worker owns the device or the event feed.
		c.events.close()
		close(c.done)
		return c.closeDetector()
	}
	cancel()

	timer := time.NewTimer(c.stopGrace)
	defer timer.Stop()
	select {
	case <-c.done:
		return c.closeDetector()
	case <-timer.C:
	case <-ctx.Done():
	}
	// The worker may still be inside the detector; close it once it leaves.
	go func() {
		<-c.done
		_ = c.closeDetector()
	}()
	return ErrStopTimeout
}

func (c *Controller) closeDetector() error {
	if err := c.deps.Detector.Close(); err != nil {
		return fmt.Errorf("pipeline: close detector: %w", err)
	}
	return nil
}

// Done is closed when the worker has exited.
func (c *Controller) Done() <-chan struct{} { return c.done }

// State returns the current state.
func (c *Controller) State() State { return State(c.state.Load()) }

func (c *Controller) setState(s State) {
	// ShuttingDown is terminal.
	for {
		cur := c.state.Load()
		if State(cur) == StateShuttingDown || cur == int32(s) {
			return
		}
		if c.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

// Running reports whether the worker is active and not shutting down.
func (c *Controller) Running() bool {
	select {
	case <-c.done:
		return false
	default:
	}
	s := c.State()
	return s != StateIdle && s != StateShuttingDown
}

// WakeThreshold returns the threshold in effect.
func (c *Controller) WakeThreshold() float64 {
	return math.Float64frombits(c.threshold.Load())
}

// SetWakeThreshold changes the detection threshold for subsequent frames.
func (c *Controller) SetWakeThreshold(t float64) error {
	if !validThreshold(t) {
		return fmt.Errorf("pipeline: wake threshold %v must be in (0, 1]", t)
	}
	c.threshold.Store(math.Float64bits(t))
	return nil
}

// CaptureTimeout returns the capture timeout in effect.
func (c *Controller) CaptureTimeout() time.Duration {
	return time.Duration(c.timeout.Load())
}

// SetCaptureTimeout changes the timeout of subsequent captures.
func (c *Controller) SetCaptureTimeout(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("pipeline: capture timeout %v must be positive", d)
	}
	c.timeout.Store(int64(d))
	return nil
}

// Acknowledgement returns the phrase spoken after the wake word.
func (c *Controller) Acknowledgement() string { return *c.ack.Load() }

// SetAcknowledgement changes the phrase spoken after the wake word. An empty
// phrase disables it.
func (c *Controller) SetAcknowledgement(s string) { c.ack.Store(&s) }

// Subscribe returns a feed of wake events and a function that ends the
// subscription. Slow subscribers miss events rather than stall the worker.
// The channel is closed when the worker exits.
func (c *Controller) Subscribe() (<-chan WakeEvent, func()) {
	return c.events.subscribe()
}

// LastUtterance returns the most recently finalized capture.
func (c *Controller) LastUtterance() (Utterance, bool) {
	c.lastMu.Lock()
	defer c.lastMu.Unlock()
	return c.last, c.hasLast
}

func (c *Controller) setLast(u Utterance) {
	c.lastMu.Lock()
	c.last, c.hasLast = u, true
	c.lastMu.Unlock()
}
