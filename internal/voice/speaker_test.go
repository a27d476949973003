package voice

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/jarvis/pkg/audio"
	audiomock "github.com/MrWong99/jarvis/pkg/audio/mock"
	"github.com/MrWong99/jarvis/pkg/provider/tts"
	ttsmock "github.com/MrWong99/jarvis/pkg/provider/tts/mock"
)

func TestSay_PlaysSynthesizedAudio(t *testing.T) {
	t.Parallel()
	p := &ttsmock.Provider{SynthesizeChunks: [][]byte{{1, 0, 2, 0}, {3, 0}}}
	sink := &audiomock.Sink{}
	voice := tts.Voice{ID: "jarvis-voice"}
	s := New(p, sink, WithVoice(voice))

	if err := s.Say(context.Background(), "Yes sir? Playing now."); err != nil {
		t.Fatalf("Say: %v", err)
	}

	if got := sink.Played(); !bytes.Equal(got, []byte{1, 0, 2, 0, 3, 0}) {
		t.Errorf("played = %v, want the synthesized chunks", got)
	}
	if p.CallCount() != 1 {
		t.Fatalf("SynthesizeStream calls = %d, want 1", p.CallCount())
	}
	if got := p.SynthesizeStreamCalls[0].Voice; got.ID != voice.ID {
		t.Errorf("voice = %q, want %q", got.ID, voice.ID)
	}
	if got := p.Texts[0]; len(got) != 2 || got[0] != "Yes sir?" || got[1] != "Playing now." {
		t.Errorf("fragments = %q, want two sentences", got)
	}
}

func TestSay_EmptyTextIsNoop(t *testing.T) {
	t.Parallel()
	p := &ttsmock.Provider{}
	s := New(p, &audiomock.Sink{})
	if err := s.Say(context.Background(), "   "); err != nil {
		t.Fatalf("Say: %v", err)
	}
	if p.CallCount() != 0 {
		t.Errorf("SynthesizeStream called %d times for blank text", p.CallCount())
	}
}

func TestSay_ConvertsToSinkFormat(t *testing.T) {
	t.Parallel()
	// One second of stereo 8 kHz becomes one second of mono 16 kHz.
	from := audio.Format{SampleRate: 8000, Channels: 2}
	to := audio.Format{SampleRate: 16000, Channels: 1}
	p := &ttsmock.Provider{
		OutputFormat:     from,
		SynthesizeChunks: [][]byte{make([]byte, from.BytesPerSecond())},
	}
	sink := &audiomock.Sink{SinkFormat: to}

	if err := New(p, sink).Say(context.Background(), "Hello!"); err != nil {
		t.Fatalf("Say: %v", err)
	}
	if got, want := len(sink.Played()), to.BytesPerSecond(); got != want {
		t.Errorf("played %d bytes, want %d", got, want)
	}
}

func TestSay_CarriesPartialSamples(t *testing.T) {
	t.Parallel()
	p := &ttsmock.Provider{SynthesizeChunks: [][]byte{{1}, {0, 2}, {0}}}
	sink := &audiomock.Sink{}

	if err := New(p, sink).Say(context.Background(), "Hi."); err != nil {
		t.Fatalf("Say: %v", err)
	}
	for i, c := range sink.PlayCalls() {
		if len(c.PCM)%2 != 0 {
			t.Errorf("Play call %d got %d bytes, want whole samples", i, len(c.PCM))
		}
	}
	if got := sink.Played(); !bytes.Equal(got, []byte{1, 0, 2, 0}) {
		t.Errorf("played = %v, want [1 0 2 0]", got)
	}
}

func TestSay_Errors(t *testing.T) {
	t.Parallel()
	errTTS := errors.New("quota exceeded")
	errDevice := errors.New("device unplugged")

	tests := []struct {
		name string
		p    *ttsmock.Provider
		sink *audiomock.Sink
		want error
	}{
		{
			name: "synthesis fails",
			p:    &ttsmock.Provider{SynthesizeErr: errTTS},
			sink: &audiomock.Sink{},
			want: errTTS,
		},
		{
			name: "no audio",
			p:    &ttsmock.Provider{},
			sink: &audiomock.Sink{},
			want: ErrNoAudio,
		},
		{
			name: "playback fails",
			p:    &ttsmock.Provider{SynthesizeChunks: [][]byte{{1, 0}, {2, 0}}},
			sink: &audiomock.Sink{PlayErr: errDevice},
			want: errDevice,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := New(tc.p, tc.sink).Say(context.Background(), "Error processing command")
			if !errors.Is(err, tc.want) {
				t.Errorf("Say = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestSay_Cancelled(t *testing.T) {
	t.Parallel()
	p := &ttsmock.Provider{SynthesizeChunks: [][]byte{{1, 0}}, ChunkDelay: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := New(p, &audiomock.Sink{}).Say(ctx, "Booting up!"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Say = %v, want context.DeadlineExceeded", err)
	}
}

// overlapSink records the highest number of concurrent Play calls.
type overlapSink struct {
	audiomock.Sink

	mu      sync.Mutex
	active  int
	maxSeen int
}

func (s *overlapSink) Play(ctx context.Context, pcm []byte) error {
	s.mu.Lock()
	s.active++
	s.maxSeen = max(s.maxSeen, s.active)
	s.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	s.mu.Lock()
	s.active--
	s.mu.Unlock()
	return s.Sink.Play(ctx, pcm)
}

func TestSay_Serialized(t *testing.T) {
	t.Parallel()
	p := &ttsmock.Provider{SynthesizeChunks: [][]byte{{1, 0}, {2, 0}, {3, 0}}}
	sink := &overlapSink{}
	s := New(p, sink)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := WithOrigin(context.Background(), OriginAPI)
			if err := s.Say(ctx, "Speech completed"); err != nil {
				t.Errorf("Say: %v", err)
			}
		}()
	}
	wg.Wait()

	if sink.maxSeen != 1 {
		t.Errorf("max concurrent Play calls = %d, want 1", sink.maxSeen)
	}
	if got := len(sink.PlayCalls()); got != 12 {
		t.Errorf("Play calls = %d, want 12", got)
	}
}

func TestOrigin(t *testing.T) {
	t.Parallel()
	if got := originFrom(context.Background()); got != OriginPipeline {
		t.Errorf("default origin = %q, want %q", got, OriginPipeline)
	}
	if got := originFrom(WithOrigin(context.Background(), OriginAPI)); got != OriginAPI {
		t.Errorf("origin = %q, want %q", got, OriginAPI)
	}
}
