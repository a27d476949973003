package main

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/jarvis/internal/app"
	"github.com/MrWong99/jarvis/internal/config"
	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/MrWong99/jarvis/pkg/audio/portaudio"
	"github.com/MrWong99/jarvis/pkg/provider/stt"
	"github.com/MrWong99/jarvis/pkg/provider/stt/deepgram"
	"github.com/MrWong99/jarvis/pkg/provider/stt/whisper"
	"github.com/MrWong99/jarvis/pkg/provider/tts"
	"github.com/MrWong99/jarvis/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/jarvis/pkg/provider/vad"
	"github.com/MrWong99/jarvis/pkg/provider/vad/energy"
	"github.com/MrWong99/jarvis/pkg/provider/vad/flux"
	"github.com/MrWong99/jarvis/pkg/provider/wake"
	wakewhisper "github.com/MrWong99/jarvis/pkg/provider/wake/whisper"
)

const defaultEndpointMs = 1500

// modelCache loads each whisper.cpp model once so the keyword spotter and
// the recognizer can share it.
type modelCache struct {
	mu     sync.Mutex
	models map[string]*whisper.Native
}

func newModelCache() *modelCache {
	return &modelCache{models: make(map[string]*whisper.Native)}
}

func (c *modelCache) Load(path string) (*whisper.Native, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.models[path]; ok {
		return m, nil
	}
	m, err := whisper.NewNative(path)
	if err != nil {
		return nil, err
	}
	c.models[path] = m
	slog.Info("whisper model loaded", "path", path)
	return m, nil
}

func (c *modelCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for path, m := range c.models {
		if err := m.Close(); err != nil {
			slog.Warn("close whisper model", "path", path, "err", err)
		}
	}
	clear(c.models)
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Factories close over the pipeline settings they need beyond their own
// entry, such as the capture format.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config, models *modelCache) {
	pc := cfg.Pipeline
	capture := audio.Format{SampleRate: pc.SampleRate, Channels: 1}

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("portaudio", func(entry config.ProviderEntry) (audio.Device, error) {
		mic := portaudio.NewMicrophone(pc.SampleRate, pc.FrameLength,
			portaudio.WithDevice(config.OptInt(entry.Options, "input_device", -1)))
		out := audio.Format{
			SampleRate: config.OptInt(entry.Options, "output_sample_rate", 16000),
			Channels:   1,
		}
		spk := portaudio.NewSpeaker(out, config.OptInt(entry.Options, "output_chunk", 1024),
			portaudio.WithDevice(config.OptInt(entry.Options, "output_device", -1)))
		return audio.Device{Source: mic, Sink: spk}, nil
	})

	// ── Wake ──────────────────────────────────────────────────────────────────

	reg.RegisterWake("whisper-kws", func(entry config.ProviderEntry) (wake.Detector, error) {
		tr, err := models.Load(entry.Model)
		if err != nil {
			return nil, err
		}
		phrases := config.OptStrings(entry.Options, "phrases")
		if len(phrases) == 0 {
			phrases = []string{"hey " + pc.WakeWord, pc.WakeWord}
		}
		opts := []wakewhisper.Option{wakewhisper.WithFormat(capture)}
		if ms := config.OptInt(entry.Options, "window_ms", 0); ms > 0 {
			opts = append(opts, wakewhisper.WithWindow(time.Duration(ms)*time.Millisecond))
		}
		if ms := config.OptInt(entry.Options, "stride_ms", 0); ms > 0 {
			opts = append(opts, wakewhisper.WithStride(time.Duration(ms)*time.Millisecond))
		}
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, wakewhisper.WithLanguage(lang))
		}
		return wakewhisper.New(tr, phrases, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	endpointer := func(entry config.ProviderEntry) ([]whisper.Option, error) {
		engine, err := reg.CreateVAD(cfg.Providers.VAD)
		if err != nil {
			return nil, fmt.Errorf("vad for %s: %w", entry.Name, err)
		}
		vcfg := vad.Config{
			SpeechThreshold:  optFloat(cfg.Providers.VAD.Options, "speech_threshold"),
			SilenceThreshold: optFloat(cfg.Providers.VAD.Options, "silence_threshold"),
		}
		ms := config.OptInt(entry.Options, "endpoint_ms", defaultEndpointMs)
		opts := []whisper.Option{
			whisper.WithVAD(engine, vcfg),
			whisper.WithEndpoint(time.Duration(ms) * time.Millisecond),
		}
		if lang := language(entry, pc); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return opts, nil
	}

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = config.OptString(entry.Options, "model_path")
		}
		tr, err := models.Load(modelPath)
		if err != nil {
			return nil, err
		}
		opts, err := endpointer(entry)
		if err != nil {
			return nil, err
		}
		return whisper.New(tr, opts...), nil
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var sopts []whisper.ServerOption
		if entry.Model != "" {
			sopts = append(sopts, whisper.WithServerModel(entry.Model))
		}
		tr, err := whisper.NewServer(entry.BaseURL, sopts...)
		if err != nil {
			return nil, err
		}
		opts, err := endpointer(entry)
		if err != nil {
			return nil, err
		}
		return whisper.New(tr, opts...), nil
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []deepgram.Option{
			deepgram.WithSampleRate(pc.SampleRate),
			deepgram.WithEndpointMs(config.OptInt(entry.Options, "endpoint_ms", defaultEndpointMs)),
		}
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := language(entry, pc); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpointURL(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := config.OptString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithStreamURL(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})
	reg.RegisterVAD("flux", func(config.ProviderEntry) (vad.Engine, error) {
		return flux.New(), nil
	})
}

// buildProviders instantiates the providers named in cfg. An empty or
// unregistered name leaves the slot nil; the app then runs without it.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	var err error

	if ps.Audio, err = create("audio", cfg.Providers.Audio, reg.CreateAudio); err != nil {
		return nil, err
	}
	if ps.Wake, err = create("wake", cfg.Providers.Wake, reg.CreateWake); err != nil {
		_ = ps.Audio.Close()
		return nil, err
	}
	if ps.STT, err = create("stt", cfg.Providers.STT, reg.CreateSTT); err != nil {
		_ = ps.Audio.Close()
		return nil, err
	}
	if ps.TTS, err = create("tts", cfg.Providers.TTS, reg.CreateTTS); err != nil {
		_ = ps.Audio.Close()
		return nil, err
	}
	return ps, nil
}

func create[T any](kind string, entry config.ProviderEntry, fn func(config.ProviderEntry) (T, error)) (T, error) {
	var zero T
	if entry.Name == "" {
		slog.Info("provider not configured", "kind", kind)
		return zero, nil
	}
	p, err := fn(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Warn("provider not available, skipping", "kind", kind, "name", entry.Name)
		return zero, nil
	}
	if err != nil {
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name)
	return p, nil
}

// language prefers the entry's language option over the pipeline default.
func language(entry config.ProviderEntry, pc config.PipelineConfig) string {
	if lang := config.OptString(entry.Options, "language"); lang != "" {
		return lang
	}
	return pc.Language
}

// optFloat reads a numeric option. Missing or non-numeric values yield 0,
// which the VAD engines treat as their default.
func optFloat(opts map[string]any, key string) float64 {
	switch v := opts[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}
