// Package studio implements the generative studio services behind the HTTP
// API: multimodal chat with per-conversation history, still image
// generation, and asynchronous video generation with a background poller.
package studio

import (
	"errors"
	"time"

	"github.com/MrWong99/vertex/internal/observe"
)

var (
	// ErrEmptyPrompt is returned when a request has no usable text.
	ErrEmptyPrompt = errors.New("studio: prompt must not be empty")

	// ErrInvalidAspectRatio is returned for aspect ratios outside
	// [AspectRatios].
	ErrInvalidAspectRatio = errors.New("studio: unsupported aspect ratio")

	// ErrJobNotFound is returned for unknown video job ids.
	ErrJobNotFound = errors.New("studio: job not found")

	// ErrJobNotReady is returned when downloading a job that has not
	// finished successfully.
	ErrJobNotReady = errors.New("studio: job not ready")
)

// options holds settings shared by all services. Each service reads the
// fields it needs.
type options struct {
	providerName string
	metrics      *observe.Metrics
	now          func() time.Time
	greeting     string
	systemPrompt string
	pollInterval time.Duration
}

// Option is a functional option for the studio services.
type Option func(*options)

// WithProviderName labels provider metrics, e.g. "gemini".
func WithProviderName(name string) Option {
	return func(o *options) { o.providerName = name }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithGreeting sets the model message that opens every chat conversation.
// An empty string disables the greeting.
func WithGreeting(text string) Option {
	return func(o *options) { o.greeting = text }
}

// WithSystemPrompt sets the chat system instruction.
func WithSystemPrompt(text string) Option {
	return func(o *options) { o.systemPrompt = text }
}

// WithPollInterval sets how often pending video jobs are refreshed.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.pollInterval = d }
}

func buildOptions(opts []Option) options {
	o := options{
		providerName: "unknown",
		now:          time.Now,
		greeting:     DefaultGreeting,
		pollInterval: DefaultPollInterval,
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	if o.pollInterval <= 0 {
		o.pollInterval = DefaultPollInterval
	}
	return o
}
