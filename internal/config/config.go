// Package config provides the configuration schema, loader, and provider registry
// for the jarvis voice assistant.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to a slog level. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// DispatchMode selects where transcribed commands are resolved.
type DispatchMode string

const (
	// DispatchLocal resolves commands with the in-process registry.
	DispatchLocal DispatchMode = "local"

	// DispatchRemote forwards commands to a core service at
	// [PipelineConfig.CoreURL].
	DispatchRemote DispatchMode = "remote"
)

// IsValid reports whether m is a recognised dispatch mode.
func (m DispatchMode) IsValid() bool {
	return m == DispatchLocal || m == DispatchRemote
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Providers ProvidersConfig `yaml:"providers"`
	Skills    []SkillConfig   `yaml:"skills"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the HTTP API (e.g., ":50051").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. It can be changed without a restart.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// PipelineConfig tunes the wake, capture, and response loop.
type PipelineConfig struct {
	// WakeThreshold is the minimum detector score that counts as a wake,
	// in (0, 1]. Hot-reloadable.
	WakeThreshold float64 `yaml:"wake_threshold"`

	// CaptureTimeout is the maximum utterance length in seconds.
	// Hot-reloadable.
	CaptureTimeout float64 `yaml:"capture_timeout"`

	// SampleRate is the capture rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// FrameLength is the number of samples per captured frame.
	FrameLength int `yaml:"frame_length"`

	// WakeWord is the label reported on the wake word stream heartbeat.
	WakeWord string `yaml:"wake_word"`

	// Acknowledgement is spoken after a wake. Empty disables it.
	// Hot-reloadable.
	Acknowledgement string `yaml:"acknowledgement"`

	// BootMessage is spoken once when the loop first starts listening.
	BootMessage string `yaml:"boot_message"`

	// ErrorMessage is spoken when a command produced no response.
	ErrorMessage string `yaml:"error_message"`

	// Language is the recognition language passed to the STT session.
	Language string `yaml:"language"`

	// PhoneticCorrection snaps misheard words to command vocabulary.
	PhoneticCorrection bool `yaml:"phonetic_correction"`

	// RecordingDir, when set, receives one WAV file per captured utterance.
	RecordingDir string `yaml:"recording_dir"`

	// Dispatch selects local or remote command resolution.
	Dispatch DispatchMode `yaml:"dispatch"`

	// CoreURL is the base URL of the core service in remote mode.
	CoreURL string `yaml:"core_url"`
}

// Timeout returns CaptureTimeout as a duration.
func (p PipelineConfig) Timeout() time.Duration {
	return time.Duration(p.CaptureTimeout * float64(time.Second))
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	Audio ProviderEntry `yaml:"audio"`
	Wake  ProviderEntry `yaml:"wake"`
	STT   ProviderEntry `yaml:"stt"`
	TTS   ProviderEntry `yaml:"tts"`
	VAD   ProviderEntry `yaml:"vad"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model name or a local model file, depending on the
	// provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the standard
	// fields above.
	Options map[string]any `yaml:"options"`
}

// SkillConfig describes one skill service and its replicas.
type SkillConfig struct {
	// Name identifies the skill (e.g., "spotify").
	Name string `yaml:"name"`

	// URLs lists replica base URLs in failover order.
	URLs []string `yaml:"urls"`

	// Timeout bounds a single call. Zero selects the client default.
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns the configuration used for any field a YAML file leaves
// out.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":50051",
			LogLevel:   LogInfo,
		},
		Pipeline: PipelineConfig{
			WakeThreshold:      0.7,
			CaptureTimeout:     10,
			SampleRate:         16000,
			FrameLength:        512,
			WakeWord:           "jarvis",
			Acknowledgement:    "Yes sir?",
			BootMessage:        "Booting up!",
			ErrorMessage:       "Error processing command",
			Language:           "en",
			PhoneticCorrection: true,
			Dispatch:           DispatchLocal,
		},
		Providers: ProvidersConfig{
			Audio: ProviderEntry{Name: "portaudio"},
			VAD:   ProviderEntry{Name: "energy"},
		},
	}
}

// Skill returns the skill named name.
func (c *Config) Skill(name string) (SkillConfig, bool) {
	for _, s := range c.Skills {
		if s.Name == name {
			return s, true
		}
	}
	return SkillConfig{}, false
}
