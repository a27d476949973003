package whisper_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/jarvis/pkg/audio"
	sttwhisper "github.com/MrWong99/jarvis/pkg/provider/stt/whisper"
	"github.com/MrWong99/jarvis/pkg/provider/wake/whisper"
)

type fakeTranscriber struct {
	text  string
	err   error
	calls int
	last  []byte
}

func (f *fakeTranscriber) Transcribe(_ context.Context, pcm []byte, _ sttwhisper.Request) (string, error) {
	f.calls++
	f.last = pcm
	return f.text, f.err
}

// frame returns 50 ms of 16 kHz mono audio at a constant amplitude.
func frame(amplitude int16) []byte {
	s := make([]int16, 800)
	for i := range s {
		s[i] = amplitude
	}
	return audio.PCM(s)
}

func newSpotter(t *testing.T, tr sttwhisper.Transcriber) *whisper.Spotter {
	t.Helper()
	s, err := whisper.New(tr, []string{"hey jarvis", "jarvis"},
		whisper.WithWindow(100*time.Millisecond),
		whisper.WithStride(50*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestSpotter_DetectsPhrase(t *testing.T) {
	t.Parallel()

	tr := &fakeTranscriber{text: "[BLANK_AUDIO]\n Hey Jarvis."}
	s := newSpotter(t, tr)

	scores, err := s.Score(frame(1000))
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if len(scores) != 0 || tr.calls != 0 {
		t.Fatalf("first frame: scores = %v, calls = %d, want no evaluation before the window fills", scores, tr.calls)
	}

	scores, err = s.Score(frame(1000))
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if tr.calls != 1 {
		t.Fatalf("transcriber calls = %d, want 1", tr.calls)
	}
	if len(tr.last) != 3200 {
		t.Errorf("transcribed %d bytes, want the 100 ms window (3200)", len(tr.last))
	}
	for _, label := range []string{"hey jarvis", "jarvis"} {
		if scores[label] != 1 {
			t.Errorf("scores[%q] = %v, want 1", label, scores[label])
		}
	}
}

func TestSpotter_QuietWindowSkipsInference(t *testing.T) {
	t.Parallel()

	tr := &fakeTranscriber{text: "jarvis"}
	s := newSpotter(t, tr)

	for range 3 {
		if _, err := s.Score(frame(10)); err != nil {
			t.Fatalf("Score: %v", err)
		}
	}
	scores, _ := s.Score(frame(10))
	if tr.calls != 0 {
		t.Errorf("transcriber calls = %d, want 0 for silence", tr.calls)
	}
	if len(scores) != 2 || scores["jarvis"] != 0 {
		t.Errorf("scores = %v, want zero per phrase", scores)
	}
}

func TestSpotter_TranscriberError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	s := newSpotter(t, &fakeTranscriber{err: boom})
	_, _ = s.Score(frame(1000))
	if _, err := s.Score(frame(1000)); !errors.Is(err, boom) {
		t.Errorf("Score error = %v, want %v", err, boom)
	}
}

func TestSpotter_ResetClearsWindow(t *testing.T) {
	t.Parallel()

	tr := &fakeTranscriber{text: "jarvis"}
	s := newSpotter(t, tr)
	_, _ = s.Score(frame(1000))
	_, _ = s.Score(frame(1000))
	s.Reset()

	scores, _ := s.Score(frame(1000))
	if len(scores) != 0 || tr.calls != 1 {
		t.Errorf("after Reset: scores = %v, calls = %d, want no evaluation", scores, tr.calls)
	}
}

func TestSpotter_Closed(t *testing.T) {
	t.Parallel()

	s := newSpotter(t, &fakeTranscriber{})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := s.Score(frame(0)); err == nil {
		t.Error("Score after Close: want error")
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tr := &fakeTranscriber{}
	if _, err := whisper.New(nil, []string{"jarvis"}); err == nil {
		t.Error("New with nil transcriber: want error")
	}
	if _, err := whisper.New(tr, nil); err == nil {
		t.Error("New without phrases: want error")
	}
	if _, err := whisper.New(tr, []string{"jarvis"}, whisper.WithStride(0)); err == nil {
		t.Error("New with zero stride: want error")
	}
	if _, err := whisper.New(tr, []string{"jarvis"}, whisper.WithFormat(audio.Format{})); err == nil {
		t.Error("New with empty format: want error")
	}
}

type deadlineTranscriber struct {
	budget time.Duration
	calls  int
}

func (d *deadlineTranscriber) Transcribe(ctx context.Context, _ []byte, _ sttwhisper.Request) (string, error) {
	d.calls++
	if dl, ok := ctx.Deadline(); ok {
		d.budget = time.Until(dl)
	}
	return "", nil
}

func TestSpotter_DefaultInferenceBudget(t *testing.T) {
	t.Parallel()

	tr := &deadlineTranscriber{}
	s := newSpotter(t, tr)
	for i := 0; i < 4 && tr.calls == 0; i++ {
		if _, err := s.Score(frame(1000)); err != nil {
			t.Fatalf("Score: %v", err)
		}
	}
	if tr.calls == 0 {
		t.Fatal("no inference ran")
	}
	// Must stay under the pipeline's 2 s stop grace.
	if tr.budget <= 0 || tr.budget > time.Second {
		t.Errorf("inference budget = %v, want at most 1s", tr.budget)
	}
}
