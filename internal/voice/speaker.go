// Package voice renders text responses as speech on the output device.
//
// A [Speaker] owns the pairing of a TTS provider with an audio sink. Every
// utterance, whether it comes from the pipeline or the Speak API, goes
// through the same Speaker, which plays one utterance at a time.
package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/MrWong99/jarvis/pkg/provider/tts"
)

// ErrNoAudio is returned when a synthesis stream ends without producing any
// audio.
var ErrNoAudio = errors.New("voice: synthesis produced no audio")

// Origin labels who requested speech in metrics.
const (
	OriginPipeline = "pipeline"
	OriginAPI      = "api"
)

type originKey struct{}

// WithOrigin tags ctx so that [Speaker.Say] attributes the request to origin.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

func originFrom(ctx context.Context) string {
	if o, ok := ctx.Value(originKey{}).(string); ok && o != "" {
		return o
	}
	return OriginPipeline
}

// Option configures a [Speaker].
type Option func(*Speaker)

// WithVoice selects the synthesis voice.
func WithVoice(v tts.Voice) Option {
	return func(s *Speaker) { s.voice = v }
}

// WithMetrics records speak counts and synthesis time on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Speaker) { s.metrics = m }
}

// Speaker synthesizes text and plays it on a sink. It is safe for concurrent
// use; calls are serialized so utterances never overlap on the device.
type Speaker struct {
	tts     tts.Provider
	sink    audio.Sink
	voice   tts.Voice
	metrics *observe.Metrics

	mu sync.Mutex
}

// New creates a Speaker that plays p's output on sink.
func New(p tts.Provider, sink audio.Sink, opts ...Option) *Speaker {
	s := &Speaker{tts: p, sink: sink}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Say speaks text and returns once playback has finished. Empty text is a
// no-op. The lock is held from the start of synthesis to the end of
// playback.
func (s *Speaker) Say(ctx context.Context, text string) error {
	sentences := tts.Sentences(text)
	if len(sentences) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	err := s.say(ctx, sentences)
	s.metrics.RecordSpeak(ctx, originFrom(ctx), observe.Status(err == nil), time.Since(start))
	if err != nil {
		observe.Logger(ctx).Warn("speech failed", "text", text, "error", err)
	}
	return err
}

func (s *Speaker) say(ctx context.Context, sentences []string) error {
	textCh := make(chan string, len(sentences))
	for _, sentence := range sentences {
		textCh <- sentence
	}
	close(textCh)

	audioCh, err := s.tts.SynthesizeStream(ctx, textCh, s.voice)
	if err != nil {
		return fmt.Errorf("voice: synthesize: %w", err)
	}

	from, to := s.tts.Format(), s.sink.Format()
	frameBytes := audio.BytesPerSample * max(from.Channels, 1)

	var (
		pending []byte
		played  int
	)
	for chunk := range audioCh {
		pending = append(pending, chunk...)
		n := len(pending) - len(pending)%frameBytes
		if n == 0 {
			continue
		}
		pcm := pending[:n]
		if from != to {
			pcm = audio.Convert(pcm, from, to)
		}
		if err := s.sink.Play(ctx, pcm); err != nil {
			audio.Drain(audioCh)
			return fmt.Errorf("voice: play: %w", err)
		}
		played += n
		pending = append(pending[:0], pending[n:]...)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if played == 0 {
		return ErrNoAudio
	}
	return nil
}
