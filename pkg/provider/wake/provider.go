// Package wake defines the Detector interface for wake-word engines.
//
// A Detector is fed fixed-size PCM frames one at a time and returns a score in
// [0, 1] per configured label. The caller compares the highest score against
// its own threshold, so the threshold can change at runtime without touching
// the engine.
package wake

import (
	"slices"
	"time"
)

// Detection is a wake-word hit reported by the pipeline.
type Detection struct {
	// Label is the keyword that triggered.
	Label string

	// Score is the engine score that crossed the threshold.
	Score float64

	// Timestamp is when the triggering frame was captured.
	Timestamp time.Time
}

// Detector scores audio frames for wake words. Implementations are driven by
// a single goroutine and need not be safe for concurrent use.
type Detector interface {
	// Score consumes one frame and returns a score per label. A map without
	// entries means the frame was buffered but not evaluated.
	Score(frame []byte) (map[string]float64, error)

	// Reset discards buffered audio, typically after a capture so the tail of
	// the wake word cannot trigger again.
	Reset()

	// Close releases engine resources.
	Close() error
}

// Best returns the highest-scoring label. Ties go to the label that sorts
// first. ok is false for an empty map.
func Best(scores map[string]float64) (label string, score float64, ok bool) {
	labels := make([]string, 0, len(scores))
	for l := range scores {
		labels = append(labels, l)
	}
	slices.Sort(labels)
	for _, l := range labels {
		if s := scores[l]; !ok || s > score {
			label, score, ok = l, s, true
		}
	}
	return label, score, ok
}
