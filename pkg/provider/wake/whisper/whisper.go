// Package whisper implements a keyword-spotting wake.Detector on top of a
// whisper transcriber.
//
// The Spotter keeps the last few seconds of audio in a ring buffer. Every
// stride it checks the buffered energy and, if someone is talking, transcribes
// the window and scores the transcript against each wake phrase with the
// phonetic matcher. Frames between evaluations return an empty score map.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/jarvis/internal/transcript/phonetic"
	"github.com/MrWong99/jarvis/pkg/audio"
	sttwhisper "github.com/MrWong99/jarvis/pkg/provider/stt/whisper"
	"github.com/MrWong99/jarvis/pkg/provider/wake"
)

const (
	defaultWindow  = 2 * time.Second
	defaultStride  = 500 * time.Millisecond
	defaultMinRMS  = 250
	defaultTimeout = time.Second
)

// Option is a functional option for configuring a Spotter.
type Option func(*Spotter)

// WithFormat sets the format of incoming frames. Defaults to 16 kHz mono.
func WithFormat(f audio.Format) Option {
	return func(s *Spotter) { s.format = f }
}

// WithWindow sets how much audio is transcribed per evaluation. Defaults to 2 s.
func WithWindow(d time.Duration) Option {
	return func(s *Spotter) { s.window = d }
}

// WithStride sets how often the window is evaluated. Defaults to 500 ms.
func WithStride(d time.Duration) Option {
	return func(s *Spotter) { s.stride = d }
}

// WithMinRMS sets the window energy below which no inference is run.
// Defaults to 250.
func WithMinRMS(rms float64) Option {
	return func(s *Spotter) { s.minRMS = rms }
}

// WithTimeout bounds a single inference. Defaults to 1 s, which keeps a
// blocked Score inside the controller's stop grace. Frames arriving during an
// inference queue in the device buffer, so a window that takes longer than
// the stride to transcribe stretches the evaluation cadence; pick a smaller
// model or a longer stride rather than raising the timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Spotter) { s.timeout = d }
}

// WithMatcher replaces the default phonetic matcher.
func WithMatcher(m *phonetic.Matcher) Option {
	return func(s *Spotter) { s.matcher = m }
}

// WithLanguage sets the transcription language. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(s *Spotter) { s.language = lang }
}

// Spotter is a wake.Detector that listens for spoken phrases.
type Spotter struct {
	tr       sttwhisper.Transcriber
	phrases  []string
	matcher  *phonetic.Matcher
	format   audio.Format
	window   time.Duration
	stride   time.Duration
	minRMS   float64
	timeout  time.Duration
	language string

	ring        *ring
	sinceStride time.Duration
	closed      bool
}

var _ wake.Detector = (*Spotter)(nil)

// New returns a Spotter scoring phrases, which become the score labels.
func New(tr sttwhisper.Transcriber, phrases []string, opts ...Option) (*Spotter, error) {
	if tr == nil {
		return nil, errors.New("whisper kws: transcriber must not be nil")
	}
	if len(phrases) == 0 {
		return nil, errors.New("whisper kws: at least one phrase is required")
	}
	s := &Spotter{
		tr:       tr,
		phrases:  phrases,
		matcher:  phonetic.New(),
		format:   audio.Format{SampleRate: sttwhisper.SampleRate, Channels: 1},
		window:   defaultWindow,
		stride:   defaultStride,
		minRMS:   defaultMinRMS,
		timeout:  defaultTimeout,
		language: "en",
	}
	for _, o := range opts {
		o(s)
	}
	if s.format.SampleRate <= 0 || s.format.Channels <= 0 {
		return nil, fmt.Errorf("whisper kws: invalid format %s", s.format)
	}
	if s.window <= 0 || s.stride <= 0 {
		return nil, errors.New("whisper kws: window and stride must be positive")
	}
	samples := int(s.window.Seconds() * float64(s.format.SampleRate*s.format.Channels))
	s.ring = newRing(samples)
	return s, nil
}

// Score implements wake.Detector.
func (s *Spotter) Score(frame []byte) (map[string]float64, error) {
	if s.closed {
		return nil, errors.New("whisper kws: detector is closed")
	}
	samples := audio.Int16s(frame)
	s.ring.add(samples)
	s.sinceStride += s.format.Duration(len(frame))
	if s.sinceStride < s.stride || !s.ring.full() {
		return map[string]float64{}, nil
	}
	s.sinceStride = 0

	window := s.ring.read()
	scores := make(map[string]float64, len(s.phrases))
	for _, p := range s.phrases {
		scores[p] = 0
	}
	pcmWindow := audio.PCM(window)
	if audio.RMS(pcmWindow) < s.minRMS {
		return scores, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	pcm := audio.Convert(pcmWindow, s.format, audio.Format{SampleRate: sttwhisper.SampleRate, Channels: 1})
	text, err := s.tr.Transcribe(ctx, pcm, sttwhisper.Request{Language: s.language})
	if err != nil {
		return nil, fmt.Errorf("whisper kws: transcribe: %w", err)
	}
	text = sttwhisper.CleanText(text)
	for _, p := range s.phrases {
		scores[p] = s.matcher.Score(text, p)
	}
	return scores, nil
}

// Reset implements wake.Detector.
func (s *Spotter) Reset() {
	s.ring.clear()
	s.sinceStride = 0
}

// Close implements wake.Detector. The transcriber is owned by the caller.
func (s *Spotter) Close() error {
	s.closed = true
	return nil
}

// ring is a fixed-size sample buffer that overwrites its oldest samples.
type ring struct {
	buf  []int16
	head int
	n    int
}

func newRing(size int) *ring {
	return &ring{buf: make([]int16, max(size, 1))}
}

func (r *ring) add(samples []int16) {
	for _, v := range samples {
		r.buf[r.head] = v
		r.head = (r.head + 1) % len(r.buf)
	}
	r.n = min(r.n+len(samples), len(r.buf))
}

func (r *ring) full() bool { return r.n == len(r.buf) }

// read returns the buffered samples oldest first.
func (r *ring) read() []int16 {
	out := make([]int16, len(r.buf))
	for i := range r.buf {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

func (r *ring) clear() {
	clear(r.buf)
	r.head, r.n = 0, 0
}
