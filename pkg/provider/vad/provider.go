// Package vad defines the Engine interface for voice activity detection
// backends.
//
// A VAD engine turns a stream of PCM frames into speech/silence events. Each
// session keeps its own smoothing state so independent streams never share
// history. Sessions are synchronous: ProcessFrame returns immediately.
//
// The endpointing STT sessions use a VAD session to decide when an utterance
// has ended. Backends live in subpackages (energy, flux, mock).
package vad

// Config holds the parameters for a VAD session. Thresholds are in the
// engine's native scale; see each engine for defaults. Zero values select the
// engine default.
type Config struct {
	// SampleRate is the PCM sample rate in Hz.
	SampleRate int

	// SpeechThreshold is the score at or above which silence turns into
	// speech.
	SpeechThreshold float64

	// SilenceThreshold is the score below which speech turns back into
	// silence. Must not exceed SpeechThreshold.
	SilenceThreshold float64
}

// EventType enumerates per-frame detection results.
type EventType int

const (
	// EventSilence indicates no speech in this frame.
	EventSilence EventType = iota

	// EventSpeechStart indicates speech has just begun.
	EventSpeechStart

	// EventSpeechContinue indicates ongoing speech.
	EventSpeechContinue

	// EventSpeechEnd indicates speech has just ended.
	EventSpeechEnd
)

// String returns a short name for the event type.
func (t EventType) String() string {
	switch t {
	case EventSilence:
		return "silence"
	case EventSpeechStart:
		return "speech_start"
	case EventSpeechContinue:
		return "speech_continue"
	case EventSpeechEnd:
		return "speech_end"
	}
	return "unknown"
}

// IsSpeech reports whether the frame carried speech.
func (t EventType) IsSpeech() bool {
	return t == EventSpeechStart || t == EventSpeechContinue
}

// Event is the detection result for a single frame.
type Event struct {
	Type EventType

	// Probability is the engine's speech likelihood mapped to [0, 1].
	Probability float64
}

// SessionHandle is an active VAD session for a single audio stream.
type SessionHandle interface {
	// ProcessFrame analyses one frame of little-endian 16-bit PCM.
	ProcessFrame(frame []byte) (Event, error)

	// Reset clears accumulated state without closing the session.
	Reset()

	// Close releases the session. Safe to call more than once.
	Close() error
}

// Engine creates VAD sessions. Implementations must be safe for concurrent
// use.
type Engine interface {
	NewSession(cfg Config) (SessionHandle, error)
}

// Gate turns a per-frame score into speech events with hysteresis: speech
// starts at Speech and ends when the score falls below Silence.
type Gate struct {
	Speech  float64
	Silence float64

	active bool
}

// Step feeds one score and returns the resulting event type.
func (g *Gate) Step(score float64) EventType {
	switch {
	case !g.active && score >= g.Speech:
		g.active = true
		return EventSpeechStart
	case g.active && score < g.Silence:
		g.active = false
		return EventSpeechEnd
	case g.active:
		return EventSpeechContinue
	}
	return EventSilence
}

// Active reports whether the gate is currently inside speech.
func (g *Gate) Active() bool { return g.active }

// Reset returns the gate to silence.
func (g *Gate) Reset() { g.active = false }
