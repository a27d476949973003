// Package stt defines the Provider interface for speech-to-text backends.
//
// A provider opens one Session per utterance. The session is fed captured
// frames synchronously and decides when the speaker has stopped talking
// (endpointing). The caller owns the wall-clock timeout; a session only
// reports text and the endpoint signal.
//
//	sess, err := p.StartSession(ctx, stt.StreamConfig{SampleRate: 16000, Channels: 1})
//	for each frame {
//	    partial, endpoint, err := sess.Process(frame)
//	    if endpoint {
//	        rest, err := sess.Flush()
//	        break
//	    }
//	}
//	sess.Close()
//
// Text returned by Process and Flush is incremental: each call returns only
// text not returned before, so the utterance transcript is the space-joined
// concatenation of all results.
package stt

import (
	"context"
	"strings"
)

// StreamConfig describes the audio format and recognition hints for a new
// session. Zero values select the provider defaults.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz.
	SampleRate int

	// Channels is the number of interleaved channels. Most backends downmix
	// to mono internally.
	Channels int

	// Language is the BCP-47 language tag, e.g. "en".
	Language string

	// Keywords are vocabulary hints (command words) for backends that accept
	// them.
	Keywords []string
}

// Session is an open endpointing transcription session for one utterance.
// A Session is used by a single goroutine.
type Session interface {
	// Process feeds one frame of 16-bit little-endian PCM. It returns any
	// newly recognised text and whether the utterance has reached its
	// endpoint.
	Process(frame []byte) (partial string, endpoint bool, err error)

	// Flush finalises recognition of all buffered audio and returns the text
	// not yet returned by Process. Call it once, after the endpoint or when
	// the caller's deadline expires.
	Flush() (string, error)

	// Close releases the session. Safe to call more than once.
	Close() error
}

// Provider is the abstraction over any STT backend. Implementations must be
// safe for concurrent use.
type Provider interface {
	// StartSession opens a session ready to accept frames immediately.
	StartSession(ctx context.Context, cfg StreamConfig) (Session, error)
}

// JoinText concatenates transcript fragments with single spaces, skipping
// empty ones.
func JoinText(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(p)
	}
	return b.String()
}
