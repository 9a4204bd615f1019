package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/vertex/internal/config"
	"github.com/MrWong99/vertex/internal/resilience"
	"github.com/MrWong99/vertex/pkg/provider/live"
	geminilive "github.com/MrWong99/vertex/pkg/provider/live/gemini"
	oailive "github.com/MrWong99/vertex/pkg/provider/live/openai"
	"github.com/MrWong99/vertex/pkg/provider/studio"
	geministudio "github.com/MrWong99/vertex/pkg/provider/studio/gemini"
	oaistudio "github.com/MrWong99/vertex/pkg/provider/studio/openai"
)

// defaultOpenAIChatModel is used when an openai chat or image entry names no
// model.
const defaultOpenAIChatModel = "gpt-4o"

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Names label metrics and logs.
type Providers struct {
	Live     live.Provider
	LiveName string

	Chat     studio.ChatProvider
	ChatName string

	Image     studio.ImageProvider
	ImageName string

	Video     studio.VideoProvider
	VideoName string
}

// RegisterBuiltinProviders wires every provider implementation that ships
// with Vertex into reg.
func RegisterBuiltinProviders(reg *config.Registry) {
	// ── Live ─────────────────────────────────────────────────────────────────

	reg.RegisterLive("gemini-live", func(entry config.ProviderEntry) (live.Provider, error) {
		var opts []geminilive.Option
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		transcribe, err := entry.BoolOption("input_transcription", false)
		if err != nil {
			return nil, err
		}
		opts = append(opts, geminilive.WithInputTranscription(transcribe))
		return geminilive.New(entry.APIKey, opts...), nil
	})

	reg.RegisterLive("openai-realtime", func(entry config.ProviderEntry) (live.Provider, error) {
		var opts []oailive.Option
		if entry.Model != "" {
			opts = append(opts, oailive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oailive.WithBaseURL(entry.BaseURL))
		}
		model, err := entry.StringOption("input_transcription_model", "")
		if err != nil {
			return nil, err
		}
		if model != "" {
			opts = append(opts, oailive.WithInputTranscription(model))
		}
		return oailive.New(entry.APIKey, opts...), nil
	})

	// ── Studio ───────────────────────────────────────────────────────────────

	reg.RegisterChat("gemini", func(entry config.ProviderEntry) (studio.ChatProvider, error) {
		opts, err := geminiOptions(entry)
		if err != nil {
			return nil, err
		}
		if entry.Model != "" {
			opts = append(opts, geministudio.WithChatModel(entry.Model))
		}
		return geministudio.New(entry.APIKey, opts...)
	})
	reg.RegisterImage("gemini", func(entry config.ProviderEntry) (studio.ImageProvider, error) {
		opts, err := geminiOptions(entry)
		if err != nil {
			return nil, err
		}
		if entry.Model != "" {
			opts = append(opts, geministudio.WithImageModel(entry.Model))
		}
		return geministudio.New(entry.APIKey, opts...)
	})
	reg.RegisterVideo("gemini", func(entry config.ProviderEntry) (studio.VideoProvider, error) {
		opts, err := geminiOptions(entry)
		if err != nil {
			return nil, err
		}
		if entry.Model != "" {
			opts = append(opts, geministudio.WithVideoModel(entry.Model))
		}
		return geministudio.New(entry.APIKey, opts...)
	})

	reg.RegisterChat("openai", func(entry config.ProviderEntry) (studio.ChatProvider, error) {
		model := entry.Model
		if model == "" {
			model = defaultOpenAIChatModel
		}
		return oaistudio.New(entry.APIKey, model, openAIOptions(entry)...)
	})
	reg.RegisterImage("openai", func(entry config.ProviderEntry) (studio.ImageProvider, error) {
		opts := openAIOptions(entry)
		if entry.Model != "" {
			opts = append(opts, oaistudio.WithImageModel(entry.Model))
		}
		return oaistudio.New(entry.APIKey, defaultOpenAIChatModel, opts...)
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

func geminiOptions(entry config.ProviderEntry) ([]geministudio.Option, error) {
	var opts []geministudio.Option
	if entry.BaseURL != "" {
		opts = append(opts, geministudio.WithBaseURL(entry.BaseURL))
	}
	timeout, err := entry.DurationOption("timeout", 0)
	if err != nil {
		return nil, err
	}
	if timeout > 0 {
		opts = append(opts, geministudio.WithTimeout(timeout))
	}
	budget, err := entry.IntOption("thinking_budget", -1)
	if err != nil {
		return nil, err
	}
	if budget >= 0 {
		opts = append(opts, geministudio.WithThinkingBudget(budget))
	}
	return opts, nil
}

func openAIOptions(entry config.ProviderEntry) []oaistudio.Option {
	var opts []oaistudio.Option
	if entry.BaseURL != "" {
		opts = append(opts, oaistudio.WithBaseURL(entry.BaseURL))
	}
	if org, _ := entry.StringOption("organization", ""); org != "" {
		opts = append(opts, oaistudio.WithOrganization(org))
	}
	return opts
}

// BuildProviders instantiates every configured provider through reg. The live
// provider is required; studio slots left empty stay nil.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	ps := &Providers{}

	p, err := reg.CreateLive(cfg.Providers.Live)
	if err != nil {
		return nil, fmt.Errorf("app: live provider: %w", err)
	}
	ps.Live, ps.LiveName = p, cfg.Providers.Live.Name
	slog.Info("provider created", "kind", config.KindLive, "name", ps.LiveName)

	if e := cfg.Providers.Chat; e.Configured() {
		if ps.Chat, err = reg.CreateChat(e); err != nil {
			return nil, fmt.Errorf("app: chat provider: %w", err)
		}
		ps.ChatName = e.Name
		slog.Info("provider created", "kind", config.KindChat, "name", e.Name)
		if fbs := cfg.Providers.Fallbacks.Chat; len(fbs) > 0 {
			group := resilience.NewChatFallback(e.Name, ps.Chat, resilience.CircuitBreakerConfig{})
			for _, fb := range fbs {
				p, err := reg.CreateChat(fb)
				if err != nil {
					return nil, fmt.Errorf("app: chat fallback: %w", err)
				}
				group.AddFallback(fb.Name, p)
			}
			ps.Chat = group
			slog.Info("chat fallbacks enabled", "order", group.Names())
		}
	}
	if e := cfg.Providers.Image; e.Configured() {
		if ps.Image, err = reg.CreateImage(e); err != nil {
			return nil, fmt.Errorf("app: image provider: %w", err)
		}
		ps.ImageName = e.Name
		slog.Info("provider created", "kind", config.KindImage, "name", e.Name)
		if fbs := cfg.Providers.Fallbacks.Image; len(fbs) > 0 {
			group := resilience.NewImageFallback(e.Name, ps.Image, resilience.CircuitBreakerConfig{})
			for _, fb := range fbs {
				p, err := reg.CreateImage(fb)
				if err != nil {
					return nil, fmt.Errorf("app: image fallback: %w", err)
				}
				group.AddFallback(fb.Name, p)
			}
			ps.Image = group
			slog.Info("image fallbacks enabled", "order", group.Names())
		}
	}
	if e := cfg.Providers.Video; e.Configured() {
		ps.Video, err = reg.CreateVideo(e)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			return nil, fmt.Errorf("app: video provider %q is not available; known: %v", e.Name, config.ValidProviderNames[config.KindVideo])
		}
		if err != nil {
			return nil, fmt.Errorf("app: video provider: %w", err)
		}
		ps.VideoName = e.Name
		slog.Info("provider created", "kind", config.KindVideo, "name", e.Name)
	}
	return ps, nil
}
