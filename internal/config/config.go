// Package config provides the configuration schema, loader, and provider registry
// for the Vertex voice and studio server.
package config

import (
	"fmt"
	"time"
)

// LogLevel controls log verbosity for the Vertex server.
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

// DefaultListenAddr is used when server.listen_addr is empty.
const DefaultListenAddr = ":8080"

// Config is the root configuration structure for Vertex.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Voice     VoiceConfig     `yaml:"voice"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the HTTP API (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Changes are applied without a restart.
	LogLevel LogLevel `yaml:"log_level"`
}

// Addr returns ListenAddr or [DefaultListenAddr].
func (s ServerConfig) Addr() string {
	if s.ListenAddr == "" {
		return DefaultListenAddr
	}
	return s.ListenAddr
}

// ProvidersConfig selects the provider behind each capability. Each field
// names a provider registered in the [Registry] for that kind. Studio kinds
// left empty disable the corresponding API.
type ProvidersConfig struct {
	Live  ProviderEntry `yaml:"live"`
	Chat  ProviderEntry `yaml:"chat"`
	Image ProviderEntry `yaml:"image"`
	Video ProviderEntry `yaml:"video"`

	// Fallbacks lists providers tried in order when the primary chat or
	// image provider fails.
	Fallbacks FallbacksConfig `yaml:"fallbacks"`
}

// FallbacksConfig holds the ordered fallback providers per studio kind.
type FallbacksConfig struct {
	Chat  []ProviderEntry `yaml:"chat"`
	Image []ProviderEntry `yaml:"image"`
}

// ProviderEntry is the common configuration block shared by all provider kinds.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "gemini-live").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values such as thinking_budget or
	// poll_interval.
	Options map[string]any `yaml:"options"`
}

// Configured reports whether the entry names a provider.
func (e ProviderEntry) Configured() bool { return e.Name != "" }

// IntOption returns the integer option key, or def when it is absent.
func (e ProviderEntry) IntOption(key string, def int) (int, error) {
	v, ok := e.Options[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("option %s: %v is not an integer", key, n)
		}
		return int(n), nil
	}
	return 0, fmt.Errorf("option %s: expected integer, got %T", key, v)
}

// BoolOption returns the boolean option key, or def when it is absent.
func (e ProviderEntry) BoolOption(key string, def bool) (bool, error) {
	v, ok := e.Options[key]
	if !ok {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("option %s: expected boolean, got %T", key, v)
	}
	return b, nil
}

// StringOption returns the string option key, or def when it is absent.
func (e ProviderEntry) StringOption(key, def string) (string, error) {
	v, ok := e.Options[key]
	if !ok {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("option %s: expected string, got %T", key, v)
	}
	return s, nil
}

// DurationOption returns the duration option key ("10s", "1m"), or def when
// it is absent.
func (e ProviderEntry) DurationOption(key string, def time.Duration) (time.Duration, error) {
	s, err := e.StringOption(key, "")
	if err != nil {
		return 0, err
	}
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("option %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("option %s: must be positive, got %s", key, d)
	}
	return d, nil
}

// VoiceConfig describes the live voice session.
type VoiceConfig struct {
	// Name is the provider's prebuilt voice, e.g. "Zephyr". Hot-reloadable;
	// applies to the next session.
	Name string `yaml:"name"`

	// Instructions is the system prompt of the live session. Hot-reloadable;
	// applies to the next session.
	Instructions string `yaml:"instructions"`

	Input  InputConfig  `yaml:"input"`
	Output OutputConfig `yaml:"output"`
}

// InputConfig selects and shapes the microphone.
type InputConfig struct {
	// Device is the capture device name passed to ffmpeg (e.g., "default").
	Device string `yaml:"device"`

	// Format is the ffmpeg input format ("pulse", "alsa", "avfoundation",
	// "dshow"). Empty selects the platform default.
	Format string `yaml:"format"`

	// FrameSize is the number of samples per captured frame.
	FrameSize int `yaml:"frame_size"`

	// SampleRate of capture in Hz.
	SampleRate int `yaml:"sample_rate"`
}

// OutputConfig shapes the speaker.
type OutputConfig struct {
	// SampleRate of playback in Hz.
	SampleRate int `yaml:"sample_rate"`

	// Buffer is the speaker buffer length (e.g., "100ms").
	Buffer time.Duration `yaml:"buffer"`
}
