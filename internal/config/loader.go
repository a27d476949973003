package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"audio": {"portaudio"},
	"wake":  {"whisper-kws"},
	"stt":   {"deepgram", "whisper", "whisper-native"},
	"tts":   {"elevenlabs"},
	"vad":   {"energy", "flux"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	p := cfg.Pipeline
	if p.WakeThreshold <= 0 || p.WakeThreshold > 1 {
		errs = append(errs, fmt.Errorf("pipeline.wake_threshold %.2f is out of range (0, 1]", p.WakeThreshold))
	}
	if p.CaptureTimeout <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.capture_timeout %v must be positive", p.CaptureTimeout))
	}
	if p.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.sample_rate %d must be positive", p.SampleRate))
	}
	if p.FrameLength <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.frame_length %d must be positive", p.FrameLength))
	}
	switch {
	case !p.Dispatch.IsValid():
		errs = append(errs, fmt.Errorf("pipeline.dispatch %q is invalid; valid values: local, remote", p.Dispatch))
	case p.Dispatch == DispatchRemote && p.CoreURL == "":
		errs = append(errs, errors.New("pipeline.core_url is required when dispatch is remote"))
	}
	if p.CoreURL != "" {
		if u, err := url.Parse(p.CoreURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("pipeline.core_url %q is not an absolute URL", p.CoreURL))
		}
	}

	validateProviderName("audio", cfg.Providers.Audio.Name)
	validateProviderName("wake", cfg.Providers.Wake.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)

	seen := make(map[string]int, len(cfg.Skills))
	for i, s := range cfg.Skills {
		prefix := fmt.Sprintf("skills[%d]", i)
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := seen[s.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of skills[%d]", prefix, s.Name, prev))
			}
			seen[s.Name] = i
		}
		if len(s.URLs) == 0 {
			errs = append(errs, fmt.Errorf("%s.urls needs at least one entry", prefix))
		}
		if s.Timeout < 0 {
			errs = append(errs, fmt.Errorf("%s.timeout %v must not be negative", prefix, s.Timeout))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

// ApplyEnv overrides cfg with the deployment environment variables read
// through getenv. Unset or empty variables leave the config untouched.
// Call [Validate] afterwards; ApplyEnv only reports values it cannot parse.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	var errs []error

	if v := getenv("WAKE_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("WAKE_THRESHOLD %q: %w", v, err))
		} else {
			cfg.Pipeline.WakeThreshold = f
		}
	}
	if v := getenv("TIMEOUT_DURATION"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("TIMEOUT_DURATION %q: %w", v, err))
		} else {
			cfg.Pipeline.CaptureTimeout = f
		}
	}

	if v := getenv("ELEVENLABS_API_KEY"); v != "" {
		cfg.Providers.TTS.APIKey = v
	}
	if v := getenv("ELEVEN_VOICE_ID"); v != "" {
		setOption(&cfg.Providers.TTS, "voice_id", v)
	}
	if v := getenv("ELEVEN_MODEL"); v != "" {
		cfg.Providers.TTS.Model = v
	}
	if v := getenv("DEEPGRAM_API_KEY"); v != "" && cfg.Providers.STT.Name == "deepgram" {
		cfg.Providers.STT.APIKey = v
	}

	port := getenv("LISTEN_PORT")
	if port == "" {
		port = getenv("GRPC_PORT")
	}
	if port != "" {
		if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
			errs = append(errs, fmt.Errorf("listen port %q is not a valid TCP port", port))
		} else {
			cfg.Server.ListenAddr = hostOf(cfg.Server.ListenAddr) + ":" + port
		}
	}

	if v := getenv("CORE_URL"); v != "" {
		cfg.Pipeline.CoreURL = v
	}

	return errors.Join(errs...)
}

func setOption(e *ProviderEntry, key string, v any) {
	if e.Options == nil {
		e.Options = make(map[string]any)
	}
	e.Options[key] = v
}

func hostOf(addr string) string {
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		return addr[:i]
	}
	return addr
}
