package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	KindLive:  {"gemini-live", "openai-realtime"},
	KindChat:  {"gemini", "openai"},
	KindImage: {"gemini", "openai"},
	KindVideo: {"gemini"},
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
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

	if !cfg.Providers.Live.Configured() {
		errs = append(errs, errors.New("providers.live.name is required"))
	}
	entries := []struct {
		kind  string
		entry ProviderEntry
	}{
		{KindLive, cfg.Providers.Live},
		{KindChat, cfg.Providers.Chat},
		{KindImage, cfg.Providers.Image},
		{KindVideo, cfg.Providers.Video},
	}
	for _, e := range entries {
		if !e.entry.Configured() {
			continue
		}
		validateProviderName(e.kind, e.entry.Name)
		if e.entry.APIKey == "" {
			errs = append(errs, fmt.Errorf("providers.%s.api_key is required for %q", e.kind, e.entry.Name))
		}
	}

	for _, fb := range []struct {
		kind    string
		primary ProviderEntry
		entries []ProviderEntry
	}{
		{KindChat, cfg.Providers.Chat, cfg.Providers.Fallbacks.Chat},
		{KindImage, cfg.Providers.Image, cfg.Providers.Fallbacks.Image},
	} {
		if len(fb.entries) > 0 && !fb.primary.Configured() {
			errs = append(errs, fmt.Errorf("providers.fallbacks.%s requires providers.%s", fb.kind, fb.kind))
		}
		for i, e := range fb.entries {
			if !e.Configured() {
				errs = append(errs, fmt.Errorf("providers.fallbacks.%s[%d].name is required", fb.kind, i))
				continue
			}
			validateProviderName(fb.kind, e.Name)
			if e.APIKey == "" {
				errs = append(errs, fmt.Errorf("providers.fallbacks.%s[%d].api_key is required for %q", fb.kind, i, e.Name))
			}
		}
	}

	if _, err := cfg.Providers.Chat.IntOption("thinking_budget", 0); err != nil {
		errs = append(errs, fmt.Errorf("providers.chat.options: %w", err))
	}
	if _, err := cfg.Providers.Video.DurationOption("poll_interval", 0); err != nil {
		errs = append(errs, fmt.Errorf("providers.video.options: %w", err))
	}

	in := cfg.Voice.Input
	if in.FrameSize < 0 {
		errs = append(errs, fmt.Errorf("voice.input.frame_size %d must not be negative", in.FrameSize))
	}
	if in.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("voice.input.sample_rate %d must not be negative", in.SampleRate))
	}
	out := cfg.Voice.Output
	if out.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("voice.output.sample_rate %d must not be negative", out.SampleRate))
	}
	if out.Buffer < 0 {
		errs = append(errs, fmt.Errorf("voice.output.buffer %s must not be negative", out.Buffer))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is not found in the
// [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
