// Package app wires all Vertex subsystems into a running application.
//
// New builds the voice controller, the studio services and the HTTP API from
// the config and the instantiated providers. Run serves the API and polls
// video jobs until its context ends. Shutdown stops the voice session and
// releases the devices.
//
// For testing, inject devices and metrics through functional options. When
// an option is not provided, New uses the ffmpeg microphone and the beep
// speaker configured in cfg.Voice.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/vertex/internal/config"
	"github.com/MrWong99/vertex/internal/health"
	"github.com/MrWong99/vertex/internal/httpapi"
	"github.com/MrWong99/vertex/internal/observe"
	"github.com/MrWong99/vertex/internal/studio"
	"github.com/MrWong99/vertex/internal/voice"
	"github.com/MrWong99/vertex/pkg/audio"
	"github.com/MrWong99/vertex/pkg/audio/beepout"
	"github.com/MrWong99/vertex/pkg/audio/ffmpeg"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	input          audio.InputDevice
	output         audio.OutputDevice
	metrics        *observe.Metrics
	metricsHandler http.Handler
	level          *slog.LevelVar
	listener       net.Listener

	voice  *voice.Controller
	chat   *studio.ChatService
	images *studio.ImageService
	videos *studio.VideoService
	server *http.Server

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithInput injects the microphone.
func WithInput(d audio.InputDevice) Option {
	return func(a *App) { a.input = d }
}

// WithOutput injects the speaker.
func WithOutput(d audio.OutputDevice) Option {
	return func(a *App) { a.output = d }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLogLevel lets config reloads change the log level through lv.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithListener makes Run serve on l instead of listening on
// cfg.Server.ListenAddr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// New creates an App by wiring all subsystems together.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Live == nil {
		return nil, errors.New("app: a live provider is required")
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.input == nil {
		in := cfg.Voice.Input
		a.input = &ffmpeg.Device{
			InputFormat: in.Format,
			InputName:   in.Device,
			SampleRate:  in.SampleRate,
			FrameSize:   in.FrameSize,
		}
	}
	if a.output == nil {
		out := cfg.Voice.Output
		a.output = &beepout.Device{SampleRate: out.SampleRate, Buffer: out.Buffer}
	}

	vc, err := voice.New(voice.Config{
		Input:        a.input,
		Output:       a.output,
		Provider:     providers.Live,
		ProviderName: providers.LiveName,
		Voice:        cfg.Voice.Name,
		Instructions: cfg.Voice.Instructions,
		Metrics:      a.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init voice: %w", err)
	}
	a.voice = vc

	if err := a.initStudio(); err != nil {
		return nil, fmt.Errorf("app: init studio: %w", err)
	}

	a.server = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           a.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return a, nil
}

func (a *App) initStudio() error {
	ps := a.providers
	if ps.Chat != nil {
		a.chat = studio.NewChatService(ps.Chat,
			studio.WithProviderName(ps.ChatName),
			studio.WithMetrics(a.metrics),
		)
	}
	if ps.Image != nil {
		a.images = studio.NewImageService(ps.Image,
			studio.WithProviderName(ps.ImageName),
			studio.WithMetrics(a.metrics),
		)
	}
	if ps.Video != nil {
		interval, err := a.cfg.Providers.Video.DurationOption("poll_interval", studio.DefaultPollInterval)
		if err != nil {
			return err
		}
		a.videos = studio.NewVideoService(ps.Video,
			studio.WithProviderName(ps.VideoName),
			studio.WithMetrics(a.metrics),
			studio.WithPollInterval(interval),
		)
	}
	return nil
}

// Handler returns the HTTP API with health checks and, when configured,
// /metrics.
func (a *App) Handler() http.Handler {
	opts := []httpapi.Option{
		httpapi.WithVoice(a.voice),
		httpapi.WithHealth(health.New(a.readinessChecks()...)),
		httpapi.WithObserve(a.metrics),
	}
	// Unconfigured services must stay nil interfaces so the API answers 503.
	if a.chat != nil {
		opts = append(opts, httpapi.WithChat(a.chat))
	}
	if a.images != nil {
		opts = append(opts, httpapi.WithImages(a.images))
	}
	if a.videos != nil {
		opts = append(opts, httpapi.WithVideos(a.videos))
	}
	if a.metricsHandler != nil {
		opts = append(opts, httpapi.WithMetricsHandler(a.metricsHandler))
	}
	return httpapi.New(opts...).Handler()
}

func (a *App) readinessChecks() []health.Checker {
	return []health.Checker{{
		Name: "voice",
		Check: func(context.Context) error {
			st := a.voice.Status()
			if st.State == voice.StateError {
				if st.Reason != "" {
					return fmt.Errorf("%s: %s", st.Text, st.Reason)
				}
				return errors.New(st.Text)
			}
			return nil
		},
	}}
}

// Voice returns the voice controller.
func (a *App) Voice() *voice.Controller { return a.voice }

// Videos returns the video service, or nil when no video provider is
// configured.
func (a *App) Videos() *studio.VideoService { return a.videos }

// Run serves the HTTP API and polls video jobs. It blocks until ctx is
// cancelled or the server fails, then shuts the server down gracefully.
func (a *App) Run(ctx context.Context) error {
	l := a.listener
	if l == nil {
		var err error
		if l, err = net.Listen("tcp", a.server.Addr); err != nil {
			return fmt.Errorf("app: listen %s: %w", a.server.Addr, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http api listening", "addr", l.Addr().String())
		if err := a.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return a.server.Shutdown(sctx)
	})
	if a.videos != nil {
		g.Go(func() error { return a.videos.Run(gctx) })
	}

	slog.Info("app running",
		"live", a.providers.LiveName,
		"chat", a.providers.ChatName,
		"image", a.providers.ImageName,
		"video", a.providers.VideoName,
	)
	return g.Wait()
}

// Reload applies the hot-reloadable part of a config change. Voice and
// instruction changes take effect on the next session.
func (a *App) Reload(cur *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.VoiceChanged || d.InstructionsChanged {
		a.voice.SetVoice(cur.Voice.Name, cur.Voice.Instructions)
		slog.Info("voice settings changed", "voice", cur.Voice.Name)
	}
}

// Shutdown stops the voice session, releasing microphone and speaker. It is
// safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")
		if stopErr := a.voice.Stop(ctx); stopErr != nil {
			err = fmt.Errorf("app: stop voice: %w", stopErr)
		}
		slog.Info("shutdown complete")
	})
	return err
}

// SlogLevel maps a config log level to slog. Empty means info.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}
