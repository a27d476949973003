// Package mock provides in-memory implementations of [audio.Source] and
// [audio.Sink] for use in unit tests.
//
// Both mocks are safe for concurrent use. They record every call so that
// tests can assert on counts and arguments, and expose fields the test sets
// to control behaviour.
//
// Typical usage:
//
//	src := &mock.Source{
//	    Steps: []mock.Step{{Frame: loud}, {Err: io.ErrUnexpectedEOF}},
//	    Fill:  &silence,
//	}
//	frame, err := src.ReadFrame(ctx)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/jarvis/pkg/audio"
)

// Step is one scripted ReadFrame result.
type Step struct {
	Frame audio.AudioFrame
	Err   error

	// Delay is slept (respecting ctx) before the step is returned.
	Delay time.Duration
}

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source].
//
// ReadFrame returns Steps in order. Once they are exhausted it returns *Fill
// repeatedly (after FillDelay each) when Fill is set, or blocks until ctx is
// cancelled otherwise.
type Source struct {
	mu sync.Mutex

	// Steps are consumed one per ReadFrame call.
	Steps []Step

	// Fill is returned after Steps run out. Nil blocks instead.
	Fill *audio.AudioFrame

	// FillDelay is slept before each Fill frame.
	FillDelay time.Duration

	// StartErrs are returned by successive Start calls; a nil entry or an
	// exhausted slice means success.
	StartErrs []error

	// SourceFormat is returned by Format. Defaults to 16 kHz mono.
	SourceFormat audio.Format

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// CallCountClose records how many times Close was called while the
	// device was held. Redundant Close calls are counted in CallCountCloseNoop.
	CallCountClose int

	// CallCountCloseNoop records Close calls on an already released device.
	CallCountCloseNoop int

	// CallCountRead records how many times ReadFrame was called.
	CallCountRead int

	held    bool
	running bool
	next    int
}

var _ audio.Source = (*Source)(nil)

// Start implements [audio.Source].
func (s *Source) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.CallCountStart
	s.CallCountStart++
	if idx < len(s.StartErrs) && s.StartErrs[idx] != nil {
		return s.StartErrs[idx]
	}
	s.held = true
	s.running = true
	return nil
}

// ReadFrame implements [audio.Source].
func (s *Source) ReadFrame(ctx context.Context) (audio.AudioFrame, error) {
	s.mu.Lock()
	s.CallCountRead++
	var (
		step  Step
		block bool
	)
	switch {
	case s.next < len(s.Steps):
		step = s.Steps[s.next]
		s.next++
	case s.Fill != nil:
		step = Step{Frame: *s.Fill, Delay: s.FillDelay}
	default:
		block = true
	}
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return audio.AudioFrame{}, ctx.Err()
	}
	if step.Delay > 0 {
		t := time.NewTimer(step.Delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return audio.AudioFrame{}, ctx.Err()
		case <-t.C:
		}
	} else if err := ctx.Err(); err != nil {
		return audio.AudioFrame{}, err
	}
	if step.Err != nil {
		return audio.AudioFrame{}, step.Err
	}
	frame := step.Frame
	if frame.Timestamp.IsZero() {
		frame.Timestamp = time.Now()
	}
	return frame, nil
}

// Stop implements [audio.Source].
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	s.running = false
	return nil
}

// Close implements [audio.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.held {
		s.CallCountCloseNoop++
		return nil
	}
	s.CallCountClose++
	s.held = false
	s.running = false
	return nil
}

// Format implements [audio.Source].
func (s *Source) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SourceFormat == (audio.Format{}) {
		return audio.Format{SampleRate: 16000, Channels: 1}
	}
	return s.SourceFormat
}

// Held reports whether the device is currently acquired.
func (s *Source) Held() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}

// Running reports whether the source is streaming.
func (s *Source) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stats returns a snapshot of the call counters.
func (s *Source) Stats() (starts, stops, closes, reads int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountStart, s.CallCountStop, s.CallCountClose, s.CallCountRead
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// PlayCall records a single Play invocation.
type PlayCall struct {
	PCM   []byte
	Start time.Time
	End   time.Time
}

// Sink is a mock implementation of [audio.Sink].
type Sink struct {
	mu sync.Mutex

	// PlayErr is returned by every Play call when set.
	PlayErr error

	// PlayDelay is slept (respecting ctx) inside each Play call.
	PlayDelay time.Duration

	// SinkFormat is returned by Format. Defaults to 16 kHz mono.
	SinkFormat audio.Format

	// CloseErr is returned by Close.
	CloseErr error

	// Calls records every Play call in order.
	Calls []PlayCall

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

var _ audio.Sink = (*Sink)(nil)

// Play implements [audio.Sink].
func (s *Sink) Play(ctx context.Context, pcm []byte) error {
	start := time.Now()
	s.mu.Lock()
	delay, err := s.PlayDelay, s.PlayErr
	s.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, PlayCall{PCM: append([]byte(nil), pcm...), Start: start, End: time.Now()})
	return err
}

// Format implements [audio.Sink].
func (s *Sink) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SinkFormat == (audio.Format{}) {
		return audio.Format{SampleRate: 16000, Channels: 1}
	}
	return s.SinkFormat
}

// Close implements [audio.Sink].
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return s.CloseErr
}

// PlayCalls returns a copy of the recorded Play calls.
func (s *Sink) PlayCalls() []PlayCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PlayCall(nil), s.Calls...)
}

// Played returns the concatenation of all PCM passed to Play.
func (s *Sink) Played() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []byte
	for _, c := range s.Calls {
		out = append(out, c.PCM...)
	}
	return out
}
