// Package flux implements a [vad.Engine] based on spectral flux: the
// positive change in magnitude spectrum between consecutive frames. Speech
// produces sharp spectral changes while steady background noise does not,
// so the engine compares each frame's flux against a running noise floor.
package flux

import (
	"errors"
	"math"
	"math/cmplx"
	"sync"

	"github.com/mjibson/go-dsp/fft"

	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/MrWong99/jarvis/pkg/provider/vad"
)

const (
	// DefaultSpeechThreshold is the flux-to-floor ratio at which speech
	// starts.
	DefaultSpeechThreshold = 1.75

	// DefaultSilenceThreshold is the ratio below which speech ends.
	DefaultSilenceThreshold = 1.2

	// floorAdapt is the weight given to each silent frame when updating the
	// noise floor.
	floorAdapt = 0.05

	minFloor = 1e-6
)

var errClosed = errors.New("flux: session closed")

// Engine creates spectral-flux sessions.
type Engine struct{}

var _ vad.Engine = Engine{}

// New returns a flux engine.
func New() Engine { return Engine{} }

// NewSession implements [vad.Engine]. Thresholds are ratios of the current
// frame's flux to the noise floor.
func (Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	speech, silence := cfg.SpeechThreshold, cfg.SilenceThreshold
	if speech <= 0 {
		speech = DefaultSpeechThreshold
	}
	if silence <= 0 {
		silence = min(DefaultSilenceThreshold, speech)
	}
	if silence > speech {
		return nil, errors.New("flux: silence threshold exceeds speech threshold")
	}
	return &session{gate: vad.Gate{Speech: speech, Silence: silence}}, nil
}

type session struct {
	mu     sync.Mutex
	gate   vad.Gate
	prev   []float64
	floor  float64
	closed bool
}

func (s *session) ProcessFrame(frame []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.Event{}, errClosed
	}
	mag := Spectrum(frame)
	if s.prev == nil || len(s.prev) != len(mag) {
		s.prev = mag
		return vad.Event{Type: s.gate.Step(0)}, nil
	}
	f := Flux(s.prev, mag)
	s.prev = mag

	if s.floor == 0 {
		s.floor = math.Max(f, minFloor)
		return vad.Event{Type: s.gate.Step(1)}, nil
	}
	ratio := f / s.floor
	typ := s.gate.Step(ratio)
	if !s.gate.Active() {
		s.floor = math.Max((1-floorAdapt)*s.floor+floorAdapt*f, minFloor)
	}
	return vad.Event{
		Type:        typ,
		Probability: math.Min(1, ratio/(2*s.gate.Speech)),
	}, nil
}

func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate.Reset()
	s.prev = nil
	s.floor = 0
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Spectrum returns the magnitude of the non-negative frequency bins of the
// frame, with samples normalised to [-1, 1].
func Spectrum(frame []byte) []float64 {
	samples := audio.Int16s(frame)
	if len(samples) == 0 {
		return nil
	}
	x := make([]float64, len(samples))
	for i, v := range samples {
		x[i] = float64(v) / 32768.0
	}
	bins := fft.FFTReal(x)
	mag := make([]float64, len(bins)/2+1)
	for i := range mag {
		mag[i] = cmplx.Abs(bins[i])
	}
	return mag
}

// Flux returns the mean positive magnitude change from prev to cur.
func Flux(prev, cur []float64) float64 {
	n := min(len(prev), len(cur))
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		if d := cur[i] - prev[i]; d > 0 {
			sum += d
		}
	}
	return sum / float64(n)
}
