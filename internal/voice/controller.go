// Package voice runs the live voice session: it owns the microphone, the
// speaker, and the connection to the live model, and moves the session
// through its lifecycle.
//
// A session is started with [Controller.Start] from the idle state. While it
// is active, two goroutines run under one errgroup: the capture loop encodes
// microphone frames and sends them to the model, and the event loop feeds
// model audio into the gapless playback scheduler and appends transcription
// text to the transcript. The first loop to fail ends the session.
//
// All methods are safe for concurrent use.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/vertex/internal/observe"
	"github.com/MrWong99/vertex/pkg/audio"
	"github.com/MrWong99/vertex/pkg/audio/capture"
	"github.com/MrWong99/vertex/pkg/audio/playback"
	"github.com/MrWong99/vertex/pkg/provider/live"
)

// defaultDrainTimeout bounds how long teardown waits for the session loops.
const defaultDrainTimeout = 2 * time.Second

// Config configures a [Controller].
type Config struct {
	// Input is the microphone. Required.
	Input audio.InputDevice

	// Output is the speaker. Required.
	Output audio.OutputDevice

	// Provider opens live sessions. Required.
	Provider live.Provider

	// ProviderName labels metrics, e.g. "gemini".
	ProviderName string

	// Voice and Instructions are sent to the model on connect.
	Voice        string
	Instructions string

	// Metrics receives voice pipeline metrics. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Now is the transcript clock. Defaults to time.Now.
	Now func() time.Time
}

// session holds the resources of one connected session.
type session struct {
	id      string
	in      audio.InputStream
	out     audio.OutputStream
	live    live.Session
	sched   *playback.Scheduler
	cancel  context.CancelFunc
	events  chan struct{} // closed when the event loop returns
	done    chan struct{} // closed when both loops have returned
	started time.Time
	log     *slog.Logger
}

// Controller drives the voice session state machine.
type Controller struct {
	input        audio.InputDevice
	output       audio.OutputDevice
	provider     live.Provider
	providerName string
	metrics      *observe.Metrics
	now          func() time.Time

	transcript Transcript

	chunksSent     atomic.Int64
	chunksReceived atomic.Int64
	interruptions  atomic.Int64

	mu            sync.Mutex
	state         State
	text          string
	reason        string
	voiceName     string
	instructions  string
	gen           uint64
	connectCancel context.CancelFunc
	cur           *session
	closed        chan struct{} // closed when the current closing phase ends
}

// New returns an idle Controller.
func New(cfg Config) (*Controller, error) {
	if cfg.Input == nil {
		return nil, errors.New("voice: input device is required")
	}
	if cfg.Output == nil {
		return nil, errors.New("voice: output device is required")
	}
	if cfg.Provider == nil {
		return nil, errors.New("voice: live provider is required")
	}
	c := &Controller{
		input:        cfg.Input,
		output:       cfg.Output,
		provider:     cfg.Provider,
		providerName: cfg.ProviderName,
		metrics:      cfg.Metrics,
		now:          cfg.Now,
		state:        StateIdle,
		text:         StatusReady,
		voiceName:    cfg.Voice,
		instructions: cfg.Instructions,
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.providerName == "" {
		c.providerName = "live"
	}
	return c, nil
}

// SetVoice changes the voice and instructions used by the next session. The
// running session, if any, keeps its settings.
func (c *Controller) SetVoice(name, instructions string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.voiceName = name
	c.instructions = instructions
}

// Start opens the microphone, the speaker, and a live session, then begins
// streaming. It returns [ErrNotIdle] unless the controller is idle. On
// failure every acquired resource is released and the controller moves to
// [StateError]. If Stop is called while connecting, Start releases what it
// acquired, moves the controller back to idle and returns [ErrStopped].
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrNotIdle, st)
	}
	c.gen++
	gen := c.gen
	connectCtx, cancel := context.WithCancel(ctx)
	c.connectCancel = cancel
	c.setState(StateConnecting, StatusConnecting, "")
	cfg := live.Config{Voice: c.voiceName, Instructions: c.instructions}
	c.mu.Unlock()
	defer cancel()

	ctx, span := observe.StartSpan(ctx, "voice.connect")
	var startErr error
	defer func() { observe.EndSpan(span, startErr) }()
	connectCtx = trace.ContextWithSpan(connectCtx, span)

	t0 := time.Now()

	in, err := c.input.Open(connectCtx)
	if err != nil {
		startErr = c.failConnect(ctx, gen, StatusNoMic, fmt.Errorf("voice: open input: %w", err))
		return startErr
	}

	out, err := c.output.Open(connectCtx)
	if err != nil {
		_ = in.Close()
		startErr = c.failConnect(ctx, gen, StatusInterrupted, fmt.Errorf("voice: open output: %w", err))
		return startErr
	}

	ls, err := c.provider.Connect(connectCtx, cfg)
	if err != nil {
		_ = in.Close()
		_ = out.Close()
		c.metrics.RecordProviderError(ctx, c.providerName, "live")
		startErr = c.failConnect(ctx, gen, StatusInterrupted, fmt.Errorf("voice: connect: %w", err))
		return startErr
	}
	c.metrics.RecordProviderRequest(ctx, c.providerName, "live", "ok")

	c.mu.Lock()
	if c.gen != gen || c.state != StateConnecting {
		c.mu.Unlock()
		_ = in.Close()
		_ = ls.Close()
		_ = out.Close()
		c.mu.Lock()
		defer c.mu.Unlock()
		c.abandonConnect(ctx)
		startErr = ErrStopped
		return startErr
	}

	// The session outlives the caller's request context but keeps its trace
	// and log attributes.
	id := uuid.NewString()
	sessCtx, sessCancel := context.WithCancel(observe.WithAttrs(context.WithoutCancel(ctx), slog.String("session_id", id)))
	s := &session{
		id:      id,
		in:      in,
		out:     out,
		live:    ls,
		cancel:  sessCancel,
		events:  make(chan struct{}),
		done:    make(chan struct{}),
		started: c.now(),
		log:     observe.Logger(sessCtx),
	}
	s.sched = playback.New(out, playback.WithMalformedHook(func(error) {
		c.metrics.ChunksMalformed.Add(sessCtx, 1)
	}))
	c.cur = s
	c.connectCancel = nil
	c.chunksSent.Store(0)
	c.chunksReceived.Store(0)
	c.interruptions.Store(0)
	c.setState(StateActive, StatusEstablished, "")
	c.mu.Unlock()

	c.metrics.ConnectDuration.Record(ctx, time.Since(t0).Seconds())
	c.metrics.ActiveSessions.Add(ctx, 1)
	span.SetAttributes(attribute.String("vertex.session_id", s.id))
	s.log.Info("voice: session established",
		"voice", cfg.Voice,
		"connect_ms", time.Since(t0).Milliseconds(),
	)

	c.run(sessCtx, gen, s)
	return nil
}

// failConnect records a connect-phase failure and moves to the error state
// unless Stop already took over. The caller has released every resource.
func (c *Controller) failConnect(ctx context.Context, gen uint64, text string, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.state != StateConnecting {
		c.abandonConnect(ctx)
		return ErrStopped
	}
	c.connectCancel = nil
	c.setState(StateError, text, err.Error())
	c.metrics.RecordSessionError(ctx, "connect")
	observe.Logger(ctx).Error("voice: session failed to start", "err", err)
	return err
}

// abandonConnect ends the closing phase Stop opened for an aborted connect,
// once the connect attempt has released its devices. Must be called with c.mu
// held.
func (c *Controller) abandonConnect(ctx context.Context) {
	if c.state == StateClosing && c.cur == nil {
		c.endClosing(StateIdle, StatusReady, "")
	}
	observe.Logger(ctx).Info("voice: connect aborted")
}

// run starts the capture and event loops.
func (c *Controller) run(ctx context.Context, gen uint64, s *session) {
	g, gctx := errgroup.WithContext(ctx)

	enc := capture.NewEncoder(capture.WithChunkHook(func(audio.WireChunk) {
		c.chunksSent.Add(1)
		c.metrics.ChunksSent.Add(gctx, 1)
	}))
	g.Go(func() error {
		err := enc.Run(gctx, s.in.Frames(), s.live.SendAudio)
		if errors.Is(err, capture.ErrInputEnded) {
			if derr := s.in.Err(); derr != nil {
				return fmt.Errorf("voice: input: %w", derr)
			}
		}
		return err
	})
	g.Go(func() error {
		defer close(s.events)
		return c.eventLoop(gctx, s)
	})

	go func() {
		err := g.Wait()
		close(s.done)
		c.sessionEnded(gen, s, err)
	}()
}

// eventLoop consumes live session events until the session ends or ctx is
// cancelled.
func (c *Controller) eventLoop(ctx context.Context, s *session) error {
	events := s.live.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errRemoteClosed
			}
			switch ev.Kind {
			case live.EventOpened:
				s.log.Debug("voice: live session opened")
			case live.EventMessage:
				c.handleMessage(ctx, s, ev.Message)
			case live.EventError:
				if ev.Err != nil {
					return fmt.Errorf("voice: live session: %w", ev.Err)
				}
				return errors.New("voice: live session error")
			case live.EventClosed:
				return errRemoteClosed
			}
		}
	}
}

// handleMessage applies one server message: transcription text first, then
// audio in arrival order, then the interruption flag.
func (c *Controller) handleMessage(ctx context.Context, s *session, m live.Message) {
	if m.InputTranscript != "" {
		c.transcript.Append(Line{Speaker: SpeakerYou, Text: m.InputTranscript, At: c.now()})
	}
	if m.Transcript != "" {
		c.transcript.Append(Line{Speaker: SpeakerAI, Text: m.Transcript, At: c.now()})
	}
	for _, chunk := range m.Audio {
		c.chunksReceived.Add(1)
		c.metrics.ChunksReceived.Add(ctx, 1)
		if err := s.sched.OnChunkReceived(chunk); err != nil && !playback.IsMalformed(err) {
			s.log.Warn("voice: failed to schedule audio", "err", err)
		}
	}
	if m.Interrupted {
		n := s.sched.OnInterrupted()
		c.interruptions.Add(1)
		c.metrics.Interruptions.Add(ctx, 1)
		s.log.Debug("voice: playback interrupted", "stopped_units", n)
	}
}

// sessionEnded runs after both loops have returned. If Stop did not already
// tear the session down, it does so and picks the resulting state.
func (c *Controller) sessionEnded(gen uint64, s *session, err error) {
	c.mu.Lock()
	if c.gen != gen || c.cur != s || c.state != StateActive {
		c.mu.Unlock()
		return
	}
	c.beginClosing()
	c.mu.Unlock()

	c.teardown(s)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = nil
	switch {
	case err == nil, errors.Is(err, errRemoteClosed):
		c.endClosing(StateIdle, StatusClosed, "")
		s.log.Info("voice: session closed by remote")
	case errors.Is(err, audio.ErrDeviceUnavailable), errors.Is(err, capture.ErrInputEnded):
		c.endClosing(StateError, StatusNoMic, err.Error())
		c.metrics.RecordSessionError(context.Background(), "active")
		s.log.Error("voice: microphone lost", "err", err)
	default:
		c.endClosing(StateError, StatusInterrupted, err.Error())
		c.metrics.RecordSessionError(context.Background(), "active")
		s.log.Error("voice: session failed", "err", err)
	}
}

// teardown releases the session's resources. Scheduled audio is stopped
// before the microphone is released.
func (c *Controller) teardown(s *session) {
	s.cancel()
	select {
	case <-s.events:
	case <-time.After(defaultDrainTimeout):
		s.log.Warn("voice: event loop did not exit in time")
	}
	s.sched.StopAll()
	if err := s.in.Close(); err != nil {
		s.log.Warn("voice: close input", "err", err)
	}
	if err := s.live.Close(); err != nil {
		s.log.Warn("voice: close live session", "err", err)
	}
	// Events still buffered when the loop gave up must not block the
	// provider's receive goroutine.
	go audio.Drain(s.live.Events())
	if err := s.out.Close(); err != nil {
		s.log.Warn("voice: close output", "err", err)
	}
	c.metrics.ActiveSessions.Add(context.Background(), -1)
}

// Stop ends the current session and returns to idle. It is idempotent and
// may be called in any state. Stopping while connecting aborts the connect
// and waits until the connect attempt has released the devices. A Stop that
// finds another teardown in progress waits for it to finish. Stopping in the
// error state acknowledges the error.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateIdle:
		c.mu.Unlock()
		return nil
	case StateError:
		c.setState(StateIdle, StatusReady, "")
		c.mu.Unlock()
		return nil
	case StateClosing:
		closed := c.closed
		c.mu.Unlock()
		return c.awaitClosing(ctx, closed)
	case StateConnecting:
		c.gen++
		if c.connectCancel != nil {
			c.connectCancel()
			c.connectCancel = nil
		}
		closed := c.beginClosing()
		c.mu.Unlock()
		return c.awaitClosing(ctx, closed)
	}

	s := c.cur
	c.gen++
	c.beginClosing()
	c.mu.Unlock()

	c.teardown(s)

	var err error
	select {
	case <-s.done:
	case <-ctx.Done():
		err = fmt.Errorf("voice: stop: %w", ctx.Err())
	}

	c.mu.Lock()
	c.cur = nil
	c.endClosing(StateIdle, StatusReady, "")
	c.mu.Unlock()
	s.log.Info("voice: session stopped")
	return err
}

// awaitClosing waits for the closing phase behind closed to end. A session
// that ended in the error state meanwhile is acknowledged, so Stop always
// leaves the controller idle.
func (c *Controller) awaitClosing(ctx context.Context, closed <-chan struct{}) error {
	select {
	case <-closed:
	case <-ctx.Done():
		return fmt.Errorf("voice: stop: %w", ctx.Err())
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateError {
		c.setState(StateIdle, StatusReady, "")
	}
	return nil
}

// beginClosing enters the closing state. Must be called with c.mu held.
func (c *Controller) beginClosing() <-chan struct{} {
	c.closed = make(chan struct{})
	c.setState(StateClosing, c.text, "")
	return c.closed
}

// endClosing leaves the closing state and wakes every waiting Stop. Must be
// called with c.mu held.
func (c *Controller) endClosing(s State, text, reason string) {
	c.setState(s, text, reason)
	if c.closed != nil {
		close(c.closed)
		c.closed = nil
	}
}

// Acknowledge clears the error state. It is a no-op in any other state.
func (c *Controller) Acknowledge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateError {
		c.setState(StateIdle, StatusReady, "")
	}
}

// SendText sends a typed message into the active session and records it in
// the transcript.
func (c *Controller) SendText(text string) error {
	c.mu.Lock()
	s := c.cur
	active := c.state == StateActive
	c.mu.Unlock()
	if !active || s == nil {
		return ErrNotActive
	}
	if err := s.live.SendText(text); err != nil {
		return fmt.Errorf("voice: send text: %w", err)
	}
	c.transcript.Append(Line{Speaker: SpeakerYou, Text: text, At: c.now()})
	return nil
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		State:          c.state,
		Text:           c.text,
		Reason:         c.reason,
		Voice:          c.voiceName,
		ChunksSent:     c.chunksSent.Load(),
		ChunksReceived: c.chunksReceived.Load(),
		Interruptions:  c.interruptions.Load(),
	}
	if c.cur != nil {
		st.SessionID = c.cur.id
		st.StartedAt = c.cur.started
		st.ActiveUnits = c.cur.sched.ActiveCount()
	}
	return st
}

// Transcript returns every transcript line in order.
func (c *Controller) Transcript() []Line {
	return c.transcript.Lines()
}

// ClearTranscript drops all transcript lines.
func (c *Controller) ClearTranscript() {
	c.transcript.Clear()
}

// setState must be called with c.mu held.
func (c *Controller) setState(s State, text, reason string) {
	if c.state != s {
		slog.Debug("voice: state change", "from", c.state, "to", s)
	}
	c.state = s
	c.text = text
	c.reason = reason
}
