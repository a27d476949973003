// Package energy implements a [vad.Engine] that classifies frames by their
// RMS amplitude. It needs no model and works well for a close-talking
// microphone in a quiet room.
package energy

import (
	"errors"
	"math"
	"sync"

	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/MrWong99/jarvis/pkg/provider/vad"
)

const (
	// DefaultSpeechThreshold is the RMS (int16 units) at which speech starts.
	DefaultSpeechThreshold = 300.0

	// DefaultSilenceThreshold is the RMS below which speech ends.
	DefaultSilenceThreshold = 200.0
)

var errClosed = errors.New("energy: session closed")

// Engine creates RMS-based sessions.
type Engine struct{}

var _ vad.Engine = Engine{}

// New returns an energy engine.
func New() Engine { return Engine{} }

// NewSession implements [vad.Engine].
func (Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	speech, silence := cfg.SpeechThreshold, cfg.SilenceThreshold
	if speech <= 0 {
		speech = DefaultSpeechThreshold
	}
	if silence <= 0 {
		silence = min(DefaultSilenceThreshold, speech)
	}
	if silence > speech {
		return nil, errors.New("energy: silence threshold exceeds speech threshold")
	}
	return &session{gate: vad.Gate{Speech: speech, Silence: silence}}, nil
}

type session struct {
	mu     sync.Mutex
	gate   vad.Gate
	closed bool
}

func (s *session) ProcessFrame(frame []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.Event{}, errClosed
	}
	rms := audio.RMS(frame)
	return vad.Event{
		Type:        s.gate.Step(rms),
		Probability: math.Min(1, rms/(2*s.gate.Speech)),
	}, nil
}

func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate.Reset()
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
