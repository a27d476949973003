// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to verify that the caller starts sessions with the expected
// StreamConfig. Use Session to script per-frame results and inspect which
// frames were delivered.
//
// Example:
//
//	sess := &mock.Session{
//	    Results:   []mock.Result{{Partial: "play"}, {Endpoint: true}},
//	    FlushText: "music",
//	}
//	p := &mock.Provider{Sessions: []*mock.Session{sess}}
//	handle, _ := p.StartSession(ctx, cfg)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/jarvis/pkg/provider/stt"
)

// StartSessionCall records a single invocation of Provider.StartSession.
type StartSessionCall struct {
	Ctx context.Context
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Sessions are handed out one per StartSession call. Once exhausted a new
	// default Session is returned each time.
	Sessions []*Session

	// StartSessionErr, if non-nil, is returned from StartSession.
	StartSessionErr error

	// Calls records every call to StartSession.
	Calls []StartSessionCall

	// Started records every session handed out, including defaults.
	Started []*Session
}

var _ stt.Provider = (*Provider)(nil)

// StartSession records the call and returns the next scripted session.
func (p *Provider) StartSession(ctx context.Context, cfg stt.StreamConfig) (stt.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, StartSessionCall{Ctx: ctx, Cfg: cfg})
	if p.StartSessionErr != nil {
		return nil, p.StartSessionErr
	}
	var s *Session
	if len(p.Sessions) > 0 {
		s = p.Sessions[0]
		p.Sessions = p.Sessions[1:]
	} else {
		s = &Session{}
	}
	p.Started = append(p.Started, s)
	return s, nil
}

// CallCount returns the number of StartSession calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Result is one scripted Process outcome.
type Result struct {
	Partial  string
	Endpoint bool
	Err      error
}

// Session is a mock implementation of stt.Session.
type Session struct {
	mu sync.Mutex

	// Results are returned one per Process call; Default afterwards.
	Results []Result

	// Default is returned once Results are exhausted.
	Default Result

	// FlushText and FlushErr are returned by Flush.
	FlushText string
	FlushErr  error

	// FlushDelay is slept before Flush returns.
	FlushDelay time.Duration

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// Frames records a copy of every frame passed to Process.
	Frames [][]byte

	// FlushCallCount is the number of times Flush was called.
	FlushCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

var _ stt.Session = (*Session)(nil)

// Process records the frame and returns the next scripted result.
func (s *Session) Process(frame []byte) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Frames = append(s.Frames, append([]byte(nil), frame...))
	r := s.Default
	if len(s.Results) > 0 {
		r = s.Results[0]
		s.Results = s.Results[1:]
	}
	return r.Partial, r.Endpoint, r.Err
}

// Flush records the call and returns FlushText, FlushErr.
func (s *Session) Flush() (string, error) {
	s.mu.Lock()
	s.FlushCallCount++
	delay := s.FlushDelay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FlushText, s.FlushErr
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// FrameCount returns the number of Process calls. Thread-safe.
func (s *Session) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Frames)
}

// Counts returns the Flush and Close call counts. Thread-safe.
func (s *Session) Counts() (flushes, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FlushCallCount, s.CloseCallCount
}
