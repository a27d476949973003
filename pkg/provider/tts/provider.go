// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A provider consumes text fragments from a channel and emits raw 16-bit
// little-endian PCM as it is synthesised, so playback can begin before the
// whole response has been rendered. The PCM layout is reported by Format.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"strings"
	"unicode"

	"github.com/MrWong99/jarvis/pkg/audio"
)

// Voice identifies a synthesis voice.
type Voice struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Labels holds provider-specific attributes such as accent or category.
	Labels map[string]string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream reads fragments from text until it is closed and returns
	// a channel of PCM chunks. The audio channel is closed when all text has
	// been synthesised, when the stream fails or when ctx is cancelled; callers
	// distinguish cancellation through ctx.Err(). A non-nil error means the
	// stream could not be started.
	SynthesizeStream(ctx context.Context, text <-chan string, voice Voice) (<-chan []byte, error)

	// ListVoices returns the voices available to the configured account.
	ListVoices(ctx context.Context) ([]Voice, error)

	// Format describes the PCM emitted by SynthesizeStream.
	Format() audio.Format
}

// Sentences splits text at line breaks and after sentence-ending punctuation
// followed by whitespace, so long responses can be fed to SynthesizeStream
// incrementally. Whitespace around each piece is trimmed and empty pieces are
// dropped.
func Sentences(text string) []string {
	var (
		out   []string
		start int
	)
	runes := []rune(text)
	for i, r := range runes {
		switch r {
		case '\n':
		case '.', '!', '?':
			// "1.5" and "e.g." stay whole.
			if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
				continue
			}
		default:
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}
