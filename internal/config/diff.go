package config

import (
	"slices"
	"time"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be applied to a running assistant are tracked; any
// other change needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	WakeThresholdChanged bool
	NewWakeThreshold     float64

	CaptureTimeoutChanged bool
	NewCaptureTimeout     time.Duration

	AcknowledgementChanged bool
	NewAcknowledgement     string

	// RestartRequired lists changed fields that are not hot-reloadable.
	RestartRequired []string
}

// Empty reports whether nothing hot-reloadable changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.WakeThresholdChanged &&
		!d.CaptureTimeoutChanged && !d.AcknowledgementChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Pipeline.WakeThreshold != new.Pipeline.WakeThreshold {
		d.WakeThresholdChanged = true
		d.NewWakeThreshold = new.Pipeline.WakeThreshold
	}
	if old.Pipeline.CaptureTimeout != new.Pipeline.CaptureTimeout {
		d.CaptureTimeoutChanged = true
		d.NewCaptureTimeout = new.Pipeline.Timeout()
	}
	if old.Pipeline.Acknowledgement != new.Pipeline.Acknowledgement {
		d.AcknowledgementChanged = true
		d.NewAcknowledgement = new.Pipeline.Acknowledgement
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Pipeline.SampleRate != new.Pipeline.SampleRate || old.Pipeline.FrameLength != new.Pipeline.FrameLength {
		d.RestartRequired = append(d.RestartRequired, "pipeline.audio_format")
	}
	if old.Pipeline.Dispatch != new.Pipeline.Dispatch || old.Pipeline.CoreURL != new.Pipeline.CoreURL {
		d.RestartRequired = append(d.RestartRequired, "pipeline.dispatch")
	}
	if !sameProviders(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if !sameSkills(old.Skills, new.Skills) {
		d.RestartRequired = append(d.RestartRequired, "skills")
	}
	return d
}

func sameProviders(a, b ProvidersConfig) bool {
	pairs := [][2]ProviderEntry{{a.Audio, b.Audio}, {a.Wake, b.Wake}, {a.STT, b.STT}, {a.TTS, b.TTS}, {a.VAD, b.VAD}}
	for _, p := range pairs {
		x, y := p[0], p[1]
		if x.Name != y.Name || x.Model != y.Model || x.APIKey != y.APIKey || x.BaseURL != y.BaseURL {
			return false
		}
	}
	return true
}

func sameSkills(a, b []SkillConfig) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || a[i].Timeout != b[i].Timeout || !slices.Equal(a[i].URLs, b[i].URLs) {
			return false
		}
	}
	return true
}
