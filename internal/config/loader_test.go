package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/vertex/internal/config"
)

const minimalYAML = `
providers:
  live:
    name: gemini-live
    api_key: g-test
`

func TestLoadFromReader_Minimal(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.Chat.Configured() || cfg.Providers.Image.Configured() || cfg.Providers.Video.Configured() {
		t.Error("studio providers should be unconfigured")
	}
	if cfg.Server.Addr() != config.DefaultListenAddr {
		t.Errorf("addr = %q", cfg.Server.Addr())
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want []string
	}{
		{
			name: "empty document",
			yaml: ``,
			want: []string{"providers.live.name is required"},
		},
		{
			name: "missing live provider",
			yaml: `
server:
  log_level: info
`,
			want: []string{"providers.live.name is required"},
		},
		{
			name: "bad log level",
			yaml: minimalYAML + `
server:
  log_level: bananas
`,
			want: []string{"server.log_level"},
		},
		{
			name: "missing api keys",
			yaml: `
providers:
  live:
    name: openai-realtime
  video:
    name: gemini
`,
			want: []string{"providers.live.api_key", "providers.video.api_key"},
		},
		{
			name: "bad thinking budget",
			yaml: minimalYAML + `
  chat:
    name: gemini
    api_key: k
    options:
      thinking_budget: lots
`,
			want: []string{"thinking_budget"},
		},
		{
			name: "bad poll interval",
			yaml: minimalYAML + `
  video:
    name: gemini
    api_key: k
    options:
      poll_interval: often
`,
			want: []string{"poll_interval"},
		},
		{
			name: "fallback without primary",
			yaml: minimalYAML + `
  fallbacks:
    image:
      - name: openai
        api_key: k
`,
			want: []string{"providers.fallbacks.image requires providers.image"},
		},
		{
			name: "incomplete fallback entries",
			yaml: minimalYAML + `
  chat:
    name: gemini
    api_key: k
  fallbacks:
    chat:
      - name: openai
      - api_key: k
`,
			want: []string{"providers.fallbacks.chat[0].api_key", "providers.fallbacks.chat[1].name"},
		},
		{
			name: "negative devices",
			yaml: minimalYAML + `
voice:
  input:
    frame_size: -1
    sample_rate: -16000
  output:
    sample_rate: -1
    buffer: -5ms
`,
			want: []string{"voice.input.frame_size", "voice.input.sample_rate", "voice.output.sample_rate", "voice.output.buffer"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			for _, w := range tt.want {
				if !strings.Contains(err.Error(), w) {
					t.Errorf("error should mention %q, got: %v", w, err)
				}
			}
		})
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(minimalYAML + `
npcs: []
`))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate_UnknownProviderNameIsOnlyAWarning(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`
providers:
  live:
    name: my-custom-live
    api_key: k
`))
	if err != nil {
		t.Fatalf("unknown provider names should not fail validation: %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "vertex.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Voice.Name != "Zephyr" {
		t.Errorf("voice name = %q", cfg.Voice.Name)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "missing.yaml") {
		t.Errorf("error should name the file, got %v", err)
	}
}
