// Package audio defines the PCM frame type and the device contracts used by
// the voice pipeline.
//
// All PCM in this package is signed 16-bit little-endian. A [Source] delivers
// fixed-size frames from a capture device; a [Sink] plays synthesized speech
// out of an output device. Concrete backends live in subpackages
// (portaudio, mock) and are selected through the config registry.
package audio

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// BytesPerSample is the width of one sample of one channel.
const BytesPerSample = 2

// ErrDevice marks failures of the capture or playback device (open, start or
// read). The pipeline treats any error matching ErrDevice by releasing the
// device and retrying on the next listening cycle.
var ErrDevice = errors.New("audio: device error")

// DeviceError wraps err so that errors.Is(err, ErrDevice) reports true.
func DeviceError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrDevice, op, err)
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond returns the byte rate of 16-bit PCM in this format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * BytesPerSample
}

// Duration returns how long n bytes of 16-bit PCM in this format last.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// String renders the format as e.g. "16000Hz mono".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// AudioFrame is one chunk of captured PCM. Frames are treated as immutable
// once they leave the source.
type AudioFrame struct {
	Data       []byte
	SampleRate int
	Channels   int

	// Timestamp is the wall-clock time the frame finished capturing.
	Timestamp time.Time
}

// Format returns the frame's sample rate and channel count.
func (f AudioFrame) Format() Format {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}
}

// Samples returns the number of samples per channel.
func (f AudioFrame) Samples() int {
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	return len(f.Data) / (BytesPerSample * ch)
}

// Duration returns how much audio the frame holds.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}

// Source is a capture device producing fixed-size frames.
//
// A Source has exactly one reader. The lifecycle is:
//
//	Start -> ReadFrame* -> Stop -> Start -> ... -> Close
//
// Close releases the device; a later Start re-acquires it. Implementations
// must return from ReadFrame when ctx is cancelled.
type Source interface {
	// Start acquires the device if it is not held and begins streaming.
	// Calling Start on a running source is a no-op.
	Start(ctx context.Context) error

	// ReadFrame blocks until the next frame is available.
	ReadFrame(ctx context.Context) (AudioFrame, error)

	// Stop halts streaming and discards buffered input, keeping the device
	// open for a fast restart.
	Stop() error

	// Close releases the device. Safe to call more than once.
	Close() error

	// Format reports the format of frames returned by ReadFrame.
	Format() Format
}

// Sink is a playback device.
type Sink interface {
	// Play writes pcm (in the sink's Format) and blocks until it has been
	// queued to the device or ctx is cancelled.
	Play(ctx context.Context, pcm []byte) error

	// Format reports the PCM format Play expects.
	Format() Format

	// Close releases the device.
	Close() error
}

// Device pairs the capture source and playback sink of one audio backend.
type Device struct {
	Source Source
	Sink   Sink
}

// Close releases both halves of the device.
func (d Device) Close() error {
	var errs []error
	if d.Source != nil {
		errs = append(errs, d.Source.Close())
	}
	if d.Sink != nil {
		errs = append(errs, d.Sink.Close())
	}
	return errors.Join(errs...)
}
