package config

import "slices"

// ConfigDiff describes what changed between two configs.
//
// Log level, voice name and instructions are applied live. Everything else
// (listen address, providers, devices) needs a restart and is only reported.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VoiceChanged bool
	NewVoice     string

	InstructionsChanged bool
	NewInstructions     string

	// RestartRequired lists the top-level settings that changed but cannot
	// be applied to a running server.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.VoiceChanged && !d.InstructionsChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Voice.Name != new.Voice.Name {
		d.VoiceChanged = true
		d.NewVoice = new.Voice.Name
	}
	if old.Voice.Instructions != new.Voice.Instructions {
		d.InstructionsChanged = true
		d.NewInstructions = new.Voice.Instructions
	}

	if old.Server.Addr() != new.Server.Addr() {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	for _, p := range []struct {
		field    string
		old, new ProviderEntry
	}{
		{"providers.live", old.Providers.Live, new.Providers.Live},
		{"providers.chat", old.Providers.Chat, new.Providers.Chat},
		{"providers.image", old.Providers.Image, new.Providers.Image},
		{"providers.video", old.Providers.Video, new.Providers.Video},
	} {
		if !sameEntry(p.old, p.new) {
			d.RestartRequired = append(d.RestartRequired, p.field)
		}
	}
	if !slices.EqualFunc(old.Providers.Fallbacks.Chat, new.Providers.Fallbacks.Chat, sameEntry) {
		d.RestartRequired = append(d.RestartRequired, "providers.fallbacks.chat")
	}
	if !slices.EqualFunc(old.Providers.Fallbacks.Image, new.Providers.Fallbacks.Image, sameEntry) {
		d.RestartRequired = append(d.RestartRequired, "providers.fallbacks.image")
	}
	if old.Voice.Input != new.Voice.Input {
		d.RestartRequired = append(d.RestartRequired, "voice.input")
	}
	if old.Voice.Output != new.Voice.Output {
		d.RestartRequired = append(d.RestartRequired, "voice.output")
	}

	return d
}

// sameEntry compares provider entries. Options are compared by their string
// form since YAML values are plain scalars.
func sameEntry(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, av := range a.Options {
		bv, ok := b.Options[k]
		if !ok || !sameScalar(av, bv) {
			return false
		}
	}
	return true
}

func sameScalar(a, b any) bool {
	switch a.(type) {
	case map[string]any, []any:
		// Nested values are treated as changed.
		return false
	}
	return a == b
}
