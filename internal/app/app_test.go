package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/vertex/internal/app"
	"github.com/MrWong99/vertex/internal/config"
	"github.com/MrWong99/vertex/internal/observe"
	"github.com/MrWong99/vertex/internal/voice"
	"github.com/MrWong99/vertex/pkg/audio"
	audiomock "github.com/MrWong99/vertex/pkg/audio/mock"
	"github.com/MrWong99/vertex/pkg/provider/live"
	livemock "github.com/MrWong99/vertex/pkg/provider/live/mock"
	"github.com/MrWong99/vertex/pkg/provider/studio"
	studiomock "github.com/MrWong99/vertex/pkg/provider/studio/mock"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Providers: config.ProvidersConfig{
			Live:  config.ProviderEntry{Name: "mock", APIKey: "k"},
			Video: config.ProviderEntry{Name: "mock", APIKey: "k", Options: map[string]any{"poll_interval": "20ms"}},
		},
		Voice: config.VoiceConfig{Name: "Zephyr", Instructions: "be brief"},
	}
}

type fixture struct {
	app    *app.App
	input  *audiomock.InputDevice
	output *audiomock.OutputDevice
	live   *livemock.Provider
	video  *studiomock.VideoProvider
	level  *slog.LevelVar
}

func newFixture(t *testing.T, opts ...app.Option) *fixture {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	f := &fixture{
		input:  &audiomock.InputDevice{},
		output: &audiomock.OutputDevice{},
		live:   &livemock.Provider{},
		video:  &studiomock.VideoProvider{},
		level:  new(slog.LevelVar),
	}
	providers := &app.Providers{
		Live: f.live, LiveName: "mock",
		Chat: &studiomock.ChatProvider{}, ChatName: "mock",
		Video: f.video, VideoName: "mock",
	}
	base := []app.Option{
		app.WithInput(f.input),
		app.WithOutput(f.output),
		app.WithMetrics(metrics),
		app.WithLogLevel(f.level),
	}
	a, err := app.New(testConfig(), providers, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.app = a
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return f
}

func TestNew_RequiresLiveProvider(t *testing.T) {
	t.Parallel()
	if _, err := app.New(testConfig(), &app.Providers{}); err == nil {
		t.Fatal("expected error without a live provider")
	}
	if _, err := app.New(testConfig(), nil); err == nil {
		t.Fatal("expected error for nil providers")
	}
}

func TestNew_BadPollInterval(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Providers.Video.Options = map[string]any{"poll_interval": "never"}
	_, err := app.New(cfg, &app.Providers{Live: &livemock.Provider{}, Video: &studiomock.VideoProvider{}},
		app.WithInput(&audiomock.InputDevice{}), app.WithOutput(&audiomock.OutputDevice{}))
	if err == nil {
		t.Fatal("expected error for invalid poll interval")
	}
}

func TestHandler_RoutesAndUnconfiguredServices(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	srv := httptest.NewServer(f.app.Handler())
	defer srv.Close()

	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/readyz", http.StatusOK},
		{http.MethodGet, "/v1/voice", http.StatusOK},
		{http.MethodGet, "/v1/chat/c1", http.StatusOK},
		{http.MethodGet, "/v1/videos", http.StatusOK},
		// No image provider configured.
		{http.MethodPost, "/v1/images", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		req, _ := http.NewRequest(tt.method, srv.URL+tt.path, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", tt.method, tt.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, resp.StatusCode, tt.want)
		}
	}
}

func TestReadyz_FailsInErrorState(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.input.OpenError = audio.ErrDeviceUnavailable

	if err := f.app.Voice().Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail")
	}

	srv := httptest.NewServer(f.app.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	var body struct {
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Checks["voice"] == "ok" {
		t.Errorf("voice check = %q", body.Checks["voice"])
	}

	f.app.Voice().Acknowledge()
	resp2, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("after ack status = %d, want 200", resp2.StatusCode)
	}
}

func TestReload_AppliesVoiceAndLogLevel(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	cur := testConfig()
	cur.Server.LogLevel = config.LogDebug
	cur.Voice.Name = "Puck"
	cur.Voice.Instructions = "be verbose"
	f.app.Reload(cur, config.Diff(testConfig(), cur))

	if f.level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", f.level.Level())
	}

	ctx := context.Background()
	if err := f.app.Voice().Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.app.Voice().Stop(ctx)

	if f.live.ConnectCount() != 1 {
		t.Fatalf("ConnectCount = %d", f.live.ConnectCount())
	}
	got := f.live.ConnectCalls[0].Cfg
	if got.Voice != "Puck" || got.Instructions != "be verbose" {
		t.Errorf("connect config = %+v", got)
	}
}

func TestRun_ServesAndPollsVideos(t *testing.T) {
	t.Parallel()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, app.WithListener(l))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.app.Run(ctx) }()

	base := "http://" + l.Addr().String()
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get(base + "/healthz")
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d", resp.StatusCode)
	}

	job, err := f.app.Videos().Submit(ctx, "a lighthouse")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := f.app.Videos().Get(job.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.State != "pending" {
			if got.State != "done" {
				t.Errorf("state = %s, want done", got.State)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("video job was never polled")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestShutdown_StopsVoiceAndIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	if err := f.app.Voice().Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.app.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := f.app.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if st := f.app.Voice().State(); st != voice.StateIdle {
		t.Errorf("state = %v, want idle", st)
	}
	if !f.input.Last().Closed() {
		t.Error("microphone was not released")
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()
	tests := map[config.LogLevel]slog.Level{
		"":              slog.LevelInfo,
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
	}
	for in, want := range tests {
		if got := app.SlogLevel(in); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestBuildProviders(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	app.RegisterBuiltinProviders(reg)

	cfg := &config.Config{Providers: config.ProvidersConfig{
		Live:  config.ProviderEntry{Name: "gemini-live", APIKey: "k"},
		Chat:  config.ProviderEntry{Name: "openai", APIKey: "k"},
		Image: config.ProviderEntry{Name: "openai", APIKey: "k", Model: "gpt-image-1"},
	}}
	ps, err := app.BuildProviders(cfg, reg)
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	if ps.Live == nil || ps.Chat == nil || ps.Image == nil {
		t.Errorf("providers = %+v", ps)
	}
	if ps.Video != nil {
		t.Error("video should be nil when unconfigured")
	}
	if ps.LiveName != "gemini-live" || ps.ChatName != "openai" {
		t.Errorf("names = %q, %q", ps.LiveName, ps.ChatName)
	}
}

func TestBuildProviders_OpenAIRealtime(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	app.RegisterBuiltinProviders(reg)
	cfg := &config.Config{Providers: config.ProvidersConfig{
		Live: config.ProviderEntry{
			Name:    "openai-realtime",
			APIKey:  "k",
			Options: map[string]any{"input_transcription_model": "whisper-1"},
		},
	}}
	ps, err := app.BuildProviders(cfg, reg)
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	if ps.Live == nil {
		t.Fatal("live provider is nil")
	}
}

func TestBuildProviders_Errors(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	app.RegisterBuiltinProviders(reg)

	tests := map[string]config.ProvidersConfig{
		"unknown live": {Live: config.ProviderEntry{Name: "nope", APIKey: "k"}},
		"openai video": {
			Live:  config.ProviderEntry{Name: "gemini-live", APIKey: "k"},
			Video: config.ProviderEntry{Name: "openai", APIKey: "k"},
		},
		"bad live option": {Live: config.ProviderEntry{
			Name: "gemini-live", APIKey: "k", Options: map[string]any{"input_transcription": "yes"},
		}},
	}
	for name, pc := range tests {
		_, err := app.BuildProviders(&config.Config{Providers: pc}, reg)
		if err == nil {
			t.Errorf("%s: expected error", name)
		}
	}

	_, err := app.BuildProviders(&config.Config{Providers: tests["unknown live"]}, reg)
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("unknown live: expected ErrProviderNotRegistered, got %v", err)
	}
}

func TestBuildProviders_ChatFallback(t *testing.T) {
	t.Parallel()
	primary := &studiomock.ChatProvider{Err: errors.New("primary down")}
	backup := &studiomock.ChatProvider{Response: &studio.ChatResponse{Text: "backup"}}

	reg := config.NewRegistry()
	reg.RegisterLive("mock", func(config.ProviderEntry) (live.Provider, error) { return &livemock.Provider{}, nil })
	reg.RegisterChat("primary", func(config.ProviderEntry) (studio.ChatProvider, error) { return primary, nil })
	reg.RegisterChat("backup", func(config.ProviderEntry) (studio.ChatProvider, error) { return backup, nil })

	cfg := &config.Config{Providers: config.ProvidersConfig{
		Live: config.ProviderEntry{Name: "mock", APIKey: "k"},
		Chat: config.ProviderEntry{Name: "primary", APIKey: "k"},
		Fallbacks: config.FallbacksConfig{
			Chat: []config.ProviderEntry{{Name: "backup", APIKey: "k"}},
		},
	}}
	ps, err := app.BuildProviders(cfg, reg)
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	if ps.ChatName != "primary" {
		t.Errorf("ChatName = %q", ps.ChatName)
	}
	resp, err := ps.Chat.Chat(context.Background(), studio.ChatRequest{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Text != "backup" {
		t.Errorf("text = %q, want backup", resp.Text)
	}

	cfg.Providers.Fallbacks.Chat[0].Name = "missing"
	if _, err := app.BuildProviders(cfg, reg); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
}
