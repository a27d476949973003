// Package api is the remote surface of the assistant: JSON over HTTP for
// message processing, health and direct speech, plus a websocket stream of
// wake word events.
//
//	POST /v1/messages          MessageRequest  -> MessageResponse
//	GET  /v1/health?service=   -               -> HealthResponse
//	POST /v1/speak             SpeakRequest    -> SpeakResponse
//	GET  /v1/wakeword/stream   websocket       -> WakeWordEvent*
//
// Both [Server] and [Client] live here so the wire types have a single
// definition.
package api

import "time"

// Health statuses reported by [HealthResponse].
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Speak outcome messages.
const (
	SpeechCompleted = "Speech completed"
	SpeechFailed    = "TTS failed"
)

// MessageRequest asks the assistant to resolve a text command.
type MessageRequest struct {
	Message string `json:"message"`
	// Source names the caller, e.g. "voice" or "cli". Informational only.
	Source string `json:"source,omitempty"`
	// Timestamp is the caller's Unix time in seconds.
	Timestamp int64 `json:"timestamp,omitempty"`
}

// MessageResponse is the resolved command output.
type MessageResponse struct {
	Response     string `json:"response"`
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message"`
}

// HealthResponse reports service health.
type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Healthy reports whether Status is [StatusHealthy].
func (h HealthResponse) Healthy() bool { return h.Status == StatusHealthy }

// SpeakRequest asks the assistant to say text on its output device.
type SpeakRequest struct {
	Text string `json:"text"`
}

// SpeakResponse is the outcome of a [SpeakRequest].
type SpeakResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// WakeWordEvent is one message on the wake word stream. Heartbeats have
// Detected false and zero Score.
type WakeWordEvent struct {
	Detected  bool      `json:"detected"`
	WakeWord  string    `json:"wake_word"`
	Score     float64   `json:"score,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
