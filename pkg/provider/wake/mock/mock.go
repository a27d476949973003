// Package mock provides a test double for the wake.Detector interface.
//
// Script per-frame outcomes with Results; once exhausted Default is returned
// for every further frame.
package mock

import (
	"sync"

	"github.com/MrWong99/jarvis/pkg/provider/wake"
)

// Result is one scripted Score outcome.
type Result struct {
	Scores map[string]float64
	Err    error
}

// Detector is a mock implementation of wake.Detector.
type Detector struct {
	mu sync.Mutex

	// Results are returned one per Score call.
	Results []Result

	// Default is returned once Results are exhausted.
	Default Result

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// ScoreCallCount, ResetCallCount and CloseCallCount count calls.
	ScoreCallCount int
	ResetCallCount int
	CloseCallCount int
}

var _ wake.Detector = (*Detector)(nil)

// Score returns the next scripted result.
func (d *Detector) Score(_ []byte) (map[string]float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ScoreCallCount++
	r := d.Default
	if len(d.Results) > 0 {
		r = d.Results[0]
		d.Results = d.Results[1:]
	}
	return r.Scores, r.Err
}

// Reset records the call.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ResetCallCount++
}

// Close records the call and returns CloseErr.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CloseCallCount++
	return d.CloseErr
}

// Counts returns the Score, Reset and Close call counts. Thread-safe.
func (d *Detector) Counts() (scores, resets, closes int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ScoreCallCount, d.ResetCallCount, d.CloseCallCount
}
