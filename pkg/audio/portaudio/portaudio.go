// Package portaudio implements [audio.Source] and [audio.Sink] on top of the
// PortAudio C library. The library must be installed on the host (libportaudio
// and its headers) for the package to link.
//
// PortAudio itself is initialised lazily and reference counted: the first
// device opened calls Initialize, the last one closed calls Terminate.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/jarvis/pkg/audio"
)

var timeNow = time.Now

var (
	hostMu   sync.Mutex
	hostRefs int
)

func acquireHost() error {
	hostMu.Lock()
	defer hostMu.Unlock()
	if hostRefs == 0 {
		if err := pa.Initialize(); err != nil {
			return fmt.Errorf("portaudio: initialize: %w", err)
		}
	}
	hostRefs++
	return nil
}

func releaseHost() {
	hostMu.Lock()
	defer hostMu.Unlock()
	if hostRefs == 0 {
		return
	}
	hostRefs--
	if hostRefs == 0 {
		if err := pa.Terminate(); err != nil {
			slog.Warn("portaudio: terminate failed", "err", err)
		}
	}
}

// Option configures a [Microphone] or [Speaker].
type Option func(*options)

type options struct {
	device int
}

// WithDevice selects a device by its PortAudio index. A negative index (the
// default) uses the host's default device.
func WithDevice(index int) Option {
	return func(o *options) { o.device = index }
}

func buildOptions(opts []Option) options {
	o := options{device: -1}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func deviceByIndex(index int) (*pa.DeviceInfo, error) {
	devices, err := pa.Devices()
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(devices) {
		return nil, fmt.Errorf("device index %d out of range (%d devices)", index, len(devices))
	}
	return devices[index], nil
}

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone captures mono 16-bit frames of a fixed length.
type Microphone struct {
	mu          sync.Mutex
	format      audio.Format
	frameLength int
	opts        options

	stream  *pa.Stream
	buf     []int16
	running bool
}

var _ audio.Source = (*Microphone)(nil)

// NewMicrophone returns a capture source producing frames of frameLength
// samples at sampleRate. No device is opened until Start.
func NewMicrophone(sampleRate, frameLength int, opts ...Option) *Microphone {
	return &Microphone{
		format:      audio.Format{SampleRate: sampleRate, Channels: 1},
		frameLength: frameLength,
		opts:        buildOptions(opts),
	}
}

// Start implements [audio.Source].
func (m *Microphone) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		if err := m.open(); err != nil {
			return audio.DeviceError("open microphone", err)
		}
	}
	if m.running {
		return nil
	}
	if err := m.stream.Start(); err != nil {
		return audio.DeviceError("start microphone", err)
	}
	m.running = true
	return nil
}

func (m *Microphone) open() error {
	if err := acquireHost(); err != nil {
		return err
	}
	buf := make([]int16, m.frameLength)
	var (
		stream *pa.Stream
		err    error
	)
	if m.opts.device < 0 {
		stream, err = pa.OpenDefaultStream(1, 0, float64(m.format.SampleRate), len(buf), buf)
	} else {
		var dev *pa.DeviceInfo
		dev, err = deviceByIndex(m.opts.device)
		if err == nil {
			p := pa.LowLatencyParameters(dev, nil)
			p.Input.Channels = 1
			p.SampleRate = float64(m.format.SampleRate)
			p.FramesPerBuffer = len(buf)
			stream, err = pa.OpenStream(p, buf)
		}
	}
	if err != nil {
		releaseHost()
		return err
	}
	m.stream = stream
	m.buf = buf
	return nil
}

// ReadFrame implements [audio.Source]. A single PortAudio read blocks for at
// most one frame duration, so cancellation is observed within one frame.
func (m *Microphone) ReadFrame(ctx context.Context) (audio.AudioFrame, error) {
	if err := ctx.Err(); err != nil {
		return audio.AudioFrame{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil || !m.running {
		return audio.AudioFrame{}, audio.DeviceError("read microphone", errors.New("stream not started"))
	}
	if err := m.stream.Read(); err != nil {
		if !errors.Is(err, pa.InputOverflowed) {
			return audio.AudioFrame{}, audio.DeviceError("read microphone", err)
		}
		slog.Debug("portaudio: input overflowed")
	}
	return audio.AudioFrame{
		Data:       audio.PCM(m.buf),
		SampleRate: m.format.SampleRate,
		Channels:   1,
		Timestamp:  timeNow(),
	}, nil
}

// Stop implements [audio.Source]. Buffered input is dropped.
func (m *Microphone) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil || !m.running {
		return nil
	}
	m.running = false
	if err := m.stream.Abort(); err != nil {
		return audio.DeviceError("stop microphone", err)
	}
	return nil
}

// Close implements [audio.Source].
func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return nil
	}
	if m.running {
		_ = m.stream.Abort()
		m.running = false
	}
	err := m.stream.Close()
	m.stream = nil
	m.buf = nil
	releaseHost()
	if err != nil {
		return audio.DeviceError("close microphone", err)
	}
	return nil
}

// Format implements [audio.Source].
func (m *Microphone) Format() audio.Format { return m.format }

// ─── Speaker ──────────────────────────────────────────────────────────────────

// Speaker plays 16-bit PCM through an output device. The stream is opened on
// the first Play and kept until Close.
type Speaker struct {
	mu     sync.Mutex
	format audio.Format
	opts   options
	chunk  int

	stream *pa.Stream
	buf    []int16
}

var _ audio.Sink = (*Speaker)(nil)

// NewSpeaker returns a sink for PCM in the given format. chunkSamples is the
// number of samples per channel written per device call.
func NewSpeaker(format audio.Format, chunkSamples int, opts ...Option) *Speaker {
	if chunkSamples <= 0 {
		chunkSamples = 1024
	}
	return &Speaker{format: format, opts: buildOptions(opts), chunk: chunkSamples}
}

func (s *Speaker) open() error {
	if err := acquireHost(); err != nil {
		return err
	}
	buf := make([]int16, s.chunk*s.format.Channels)
	var (
		stream *pa.Stream
		err    error
	)
	if s.opts.device < 0 {
		stream, err = pa.OpenDefaultStream(0, s.format.Channels, float64(s.format.SampleRate), s.chunk, buf)
	} else {
		var dev *pa.DeviceInfo
		dev, err = deviceByIndex(s.opts.device)
		if err == nil {
			p := pa.LowLatencyParameters(nil, dev)
			p.Output.Channels = s.format.Channels
			p.SampleRate = float64(s.format.SampleRate)
			p.FramesPerBuffer = s.chunk
			stream, err = pa.OpenStream(p, buf)
		}
	}
	if err == nil {
		err = stream.Start()
		if err != nil {
			_ = stream.Close()
		}
	}
	if err != nil {
		releaseHost()
		return err
	}
	s.stream = stream
	s.buf = buf
	return nil
}

// Play implements [audio.Sink]. The PCM is written in device-sized chunks;
// the final chunk is padded with silence.
func (s *Speaker) Play(ctx context.Context, pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		if err := s.open(); err != nil {
			return audio.DeviceError("open speaker", err)
		}
	}
	samples := audio.Int16s(pcm)
	for off := 0; off < len(samples); off += len(s.buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		fillChunk(s.buf, samples[off:])
		if err := s.stream.Write(); err != nil && !errors.Is(err, pa.OutputUnderflowed) {
			return audio.DeviceError("write speaker", err)
		}
	}
	return nil
}

// fillChunk copies as much of src into dst as fits and zeroes the rest.
func fillChunk(dst, src []int16) int {
	n := copy(dst, src)
	clear(dst[n:])
	return n
}

// Format implements [audio.Sink].
func (s *Speaker) Format() audio.Format { return s.format }

// Close implements [audio.Sink].
func (s *Speaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return nil
	}
	_ = s.stream.Stop()
	err := s.stream.Close()
	s.stream = nil
	s.buf = nil
	releaseHost()
	if err != nil {
		return audio.DeviceError("close speaker", err)
	}
	return nil
}
