// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled sessions.
// Use Session to inject server events and inspect what the caller sent.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Emit(live.Event{Kind: live.EventMessage, Message: live.Message{Interrupted: true}})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/vertex/pkg/audio"
	"github.com/MrWong99/vertex/pkg/provider/live"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Cfg is the Config passed to Connect.
	Cfg live.Config
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by Connect. If nil, Connect returns a fresh
	// [Session] from [NewSession].
	Session *Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// OnConnect, when set, runs at the start of Connect with its context.
	// Tests use it to block or observe cancellation.
	OnConnect func(ctx context.Context)

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities live.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	// Sessions holds every session handed out by Connect.
	Sessions []*Session
}

// Connect records the call and returns Session or ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.Config) (live.Session, error) {
	p.mu.Lock()
	hook := p.OnConnect
	p.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := p.Session
	if s == nil {
		s = NewSession()
	}
	p.Sessions = append(p.Sessions, s)
	return s, nil
}

// Capabilities returns ProviderCapabilities.
func (p *Provider) Capabilities() live.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderCapabilities
}

// ConnectCount returns the number of Connect calls.
func (p *Provider) ConnectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

// Session is a mock implementation of live.Session.
type Session struct {
	mu     sync.Mutex
	events chan live.Event
	closed bool
	ended  bool

	// SendAudioErr, if non-nil, is returned by SendAudio.
	SendAudioErr error

	// SendTextErr, if non-nil, is returned by SendText.
	SendTextErr error

	// CloseErr is returned by Close.
	CloseErr error

	sentAudio  []audio.WireChunk
	sentText   []string
	closeCalls int
}

// NewSession returns a Session with a 64-event buffer.
func NewSession() *Session {
	return &Session{events: make(chan live.Event, 64)}
}

// Emit queues ev on the event channel. Events emitted after Close or End are
// dropped, mirroring a real session.
func (s *Session) Emit(ev live.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.ended {
		return
	}
	s.events <- ev
}

// End emits ev as the final event and closes the channel, simulating the
// remote side terminating the session.
func (s *Session) End(ev live.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.ended {
		return
	}
	s.events <- ev
	s.ended = true
	close(s.events)
}

// SendAudio records chunk and returns SendAudioErr.
func (s *Session) SendAudio(chunk audio.WireChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return live.ErrSessionClosed
	}
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	s.sentAudio = append(s.sentAudio, chunk)
	return nil
}

// SendText records text and returns SendTextErr.
func (s *Session) SendText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return live.ErrSessionClosed
	}
	if s.SendTextErr != nil {
		return s.SendTextErr
	}
	s.sentText = append(s.sentText, text)
	return nil
}

// Events returns the event channel.
func (s *Session) Events() <-chan live.Event { return s.events }

// Close records the call and closes the event channel on first use.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	if !s.closed {
		s.closed = true
		if !s.ended {
			close(s.events)
		}
	}
	return s.CloseErr
}

// SentAudio returns a copy of every chunk passed to SendAudio.
func (s *Session) SentAudio() []audio.WireChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.WireChunk, len(s.sentAudio))
	copy(out, s.sentAudio)
	return out
}

// SentText returns a copy of every text passed to SendText.
func (s *Session) SentText() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sentText))
	copy(out, s.sentText)
	return out
}

// CloseCount returns how many times Close was called.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

// Compile-time interface assertions.
var (
	_ live.Provider = (*Provider)(nil)
	_ live.Session  = (*Session)(nil)
)
