// Package whisper provides endpointing STT sessions backed by whisper.cpp.
//
// whisper.cpp is a batch engine, so the [Provider] buffers speech, runs a VAD
// session over every frame to find the end of the utterance, and submits the
// buffered audio for inference when the speaker goes quiet (or when the
// buffer would grow past its limit). Two [Transcriber] backends are provided:
//
//   - [Native] links the whisper.cpp library through CGO and loads the model
//     in process.
//   - [Server] posts WAV audio to a running whisper-server (POST /inference).
//
// Usage:
//
//	tr, err := whisper.NewNative("models/ggml-base.en.bin")
//	p := whisper.New(tr, whisper.WithLanguage("en"), whisper.WithEndpoint(1500*time.Millisecond))
//	sess, err := p.StartSession(ctx, stt.StreamConfig{SampleRate: 16000, Channels: 1})
package whisper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/MrWong99/jarvis/pkg/provider/stt"
	"github.com/MrWong99/jarvis/pkg/provider/vad"
	"github.com/MrWong99/jarvis/pkg/provider/vad/energy"
)

// SampleRate is the only rate whisper.cpp accepts. Audio in other formats is
// converted before inference.
const SampleRate = 16000

const (
	defaultLanguage  = "en"
	defaultEndpoint  = 1500 * time.Millisecond
	defaultMaxBuffer = 10 * time.Second
)

var mono16k = audio.Format{SampleRate: SampleRate, Channels: 1}

var errSessionClosed = errors.New("whisper: session is closed")

// Request carries per-inference hints.
type Request struct {
	// Language is the spoken language code, e.g. "en".
	Language string

	// Prompt biases decoding towards the given text. Backends that cannot
	// use it ignore it.
	Prompt string
}

// Transcriber runs batch inference over 16 kHz mono PCM.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, req Request) (string, error)
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the default recognition language. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithEndpoint sets how much trailing silence ends an utterance. Defaults to
// 1.5 s.
func WithEndpoint(d time.Duration) Option {
	return func(p *Provider) { p.endpoint = d }
}

// WithMaxBuffer sets how much speech may accumulate before an intermediate
// inference is forced. Defaults to 10 s.
func WithMaxBuffer(d time.Duration) Option {
	return func(p *Provider) { p.maxBuffer = d }
}

// WithVAD sets the VAD engine and its session config used for endpointing.
// Defaults to the energy engine with its default thresholds.
func WithVAD(engine vad.Engine, cfg vad.Config) Option {
	return func(p *Provider) {
		p.vad = engine
		p.vadCfg = cfg
	}
}

// Provider implements [stt.Provider] on top of a [Transcriber].
type Provider struct {
	tr        Transcriber
	language  string
	endpoint  time.Duration
	maxBuffer time.Duration
	vad       vad.Engine
	vadCfg    vad.Config
}

var _ stt.Provider = (*Provider)(nil)

// New creates a Provider running inference through tr.
func New(tr Transcriber, opts ...Option) *Provider {
	p := &Provider{
		tr:        tr,
		language:  defaultLanguage,
		endpoint:  defaultEndpoint,
		maxBuffer: defaultMaxBuffer,
		vad:       energy.New(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// StartSession implements [stt.Provider]. No inference runs until speech has
// been buffered.
func (p *Provider) StartSession(ctx context.Context, cfg stt.StreamConfig) (stt.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	format := audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	if format.SampleRate <= 0 {
		format.SampleRate = SampleRate
	}
	if format.Channels <= 0 {
		format.Channels = 1
	}
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}

	vcfg := p.vadCfg
	vcfg.SampleRate = format.SampleRate
	vs, err := p.vad.NewSession(vcfg)
	if err != nil {
		return nil, fmt.Errorf("whisper: vad session: %w", err)
	}

	return &session{
		ctx:       ctx,
		tr:        p.tr,
		vad:       vs,
		format:    format,
		req:       Request{Language: lang, Prompt: strings.Join(cfg.Keywords, ", ")},
		endpoint:  p.endpoint,
		maxBuffer: p.maxBuffer,
	}, nil
}

// session is used by a single goroutine and carries no locking.
type session struct {
	ctx       context.Context
	tr        Transcriber
	vad       vad.SessionHandle
	format    audio.Format
	req       Request
	endpoint  time.Duration
	maxBuffer time.Duration

	buf        []byte
	hadSpeech  bool
	silence    time.Duration
	endpointed bool
	closed     bool
}

func (s *session) Process(frame []byte) (string, bool, error) {
	if s.closed {
		return "", false, errSessionClosed
	}
	if s.endpointed {
		return "", true, nil
	}
	ev, err := s.vad.ProcessFrame(frame)
	if err != nil {
		return "", false, fmt.Errorf("whisper: vad: %w", err)
	}

	switch {
	case ev.Type.IsSpeech():
		s.hadSpeech = true
		s.silence = 0
		s.buf = append(s.buf, frame...)
		if s.maxBuffer > 0 && s.buffered() >= s.maxBuffer {
			text, err := s.infer()
			return text, false, err
		}
	case s.hadSpeech:
		// Trailing silence is kept so word endings are not clipped.
		s.buf = append(s.buf, frame...)
		s.silence += s.format.Duration(len(frame))
		if s.silence >= s.endpoint {
			s.endpointed = true
			return "", true, nil
		}
	}
	return "", false, nil
}

func (s *session) Flush() (string, error) {
	if s.closed {
		return "", errSessionClosed
	}
	if !s.hadSpeech || len(s.buf) == 0 {
		s.buf = nil
		return "", nil
	}
	return s.infer()
}

func (s *session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.buf = nil
	return s.vad.Close()
}

func (s *session) buffered() time.Duration {
	return s.format.Duration(len(s.buf))
}

func (s *session) infer() (string, error) {
	pcm := audio.Convert(s.buf, s.format, mono16k)
	s.buf = nil
	text, err := s.tr.Transcribe(s.ctx, pcm, s.req)
	if err != nil {
		return "", err
	}
	return CleanText(text), nil
}

// CleanText normalises whisper output: it drops non-speech annotations such
// as "[BLANK_AUDIO]" or "(music)", collapses repeated segments and trims
// whitespace. Segments are separated by newlines or by the annotations
// themselves.
func CleanText(text string) string {
	var (
		parts []string
		seen  = make(map[string]bool)
	)
	for _, seg := range strings.Split(text, "\n") {
		seg = stripAnnotations(seg)
		seg = strings.Join(strings.Fields(seg), " ")
		if seg == "" || seen[seg] {
			continue
		}
		seen[seg] = true
		parts = append(parts, seg)
	}
	return strings.Join(parts, " ")
}

// stripAnnotations removes bracketed and parenthesised spans.
func stripAnnotations(s string) string {
	var (
		b     strings.Builder
		depth int
	)
	for _, r := range s {
		switch r {
		case '[', '(':
			depth++
		case ']', ')':
			if depth > 0 {
				depth--
			}
		default:
			if depth == 0 {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}
