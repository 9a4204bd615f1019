// Package live defines the Provider interface for bidirectional live voice
// sessions.
//
// A live provider wraps a real-time model endpoint that accepts streamed
// microphone audio and answers with streamed speech, text transcription, and
// control signals such as interruption, all over one long-lived connection.
// Examples are the Gemini Live API and the OpenAI Realtime API.
//
// Everything the remote end says arrives on [Session.Events] as an explicit
// [Event]. The channel is closed after the last event. A session torn down
// locally through [Session.Close] emits no further events.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/vertex/pkg/audio"
)

var (
	// ErrTransport is wrapped by every error caused by the underlying
	// connection: dial failures, write failures, abnormal closes.
	ErrTransport = errors.New("live: transport error")

	// ErrSessionClosed is returned by send methods after Close.
	ErrSessionClosed = errors.New("live: session closed")
)

// EventKind enumerates what a session can report.
type EventKind int

const (
	// EventOpened reports that the remote end accepted the session setup.
	EventOpened EventKind = iota + 1

	// EventMessage carries model output and control flags.
	EventMessage

	// EventError reports a fatal session error. Err is set.
	EventError

	// EventClosed reports that the remote end closed the session normally.
	EventClosed
)

// String returns the lowercase name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Message is the payload of an [EventMessage]. Consumers handle the fields in
// declaration order: transcripts first, then audio, then the interruption flag.
type Message struct {
	// Transcript is text the model produced for its own speech.
	Transcript string

	// InputTranscript is the model's recognition of the user's speech.
	InputTranscript string

	// Audio holds speech chunks in arrival order.
	Audio []audio.WireChunk

	// Interrupted is set when the user barged in and buffered output must be
	// discarded.
	Interrupted bool

	// TurnComplete is set when the model finished its turn.
	TurnComplete bool
}

// Event is a single notification from a live session.
type Event struct {
	Kind    EventKind
	Message Message
	Err     error
}

// Config is the initial configuration of a live session.
type Config struct {
	// Voice is the provider's prebuilt voice name, e.g. "Zephyr".
	Voice string

	// Instructions is the system prompt of the session.
	Instructions string
}

// Capabilities describes static properties of a live provider.
type Capabilities struct {
	// InputSampleRate is the rate [Session.SendAudio] expects to receive.
	// Providers whose endpoint requires another rate resample internally.
	InputSampleRate int

	// OutputSampleRate is the rate of emitted audio chunks.
	OutputSampleRate int

	// MaxSessionDuration is the provider-imposed session lifetime. Zero means
	// no documented limit.
	MaxSessionDuration time.Duration

	// Voices lists available voice names.
	Voices []string
}

// Session is an open live session. Callers must call Close when the session is
// no longer needed.
type Session interface {
	// SendAudio delivers one captured chunk. Chunks are transmitted in call
	// order. Errors wrap [ErrTransport] or [ErrSessionClosed].
	SendAudio(chunk audio.WireChunk) error

	// SendText injects a user text turn into the conversation.
	SendText(text string) error

	// Events returns the event channel. It is closed after the final event.
	Events() <-chan Event

	// Close terminates the session. Calling Close more than once is safe.
	Close() error
}

// Provider is the abstraction over any live backend.
type Provider interface {
	// Connect opens a session and returns once it can accept audio. Errors
	// that stem from the network wrap [ErrTransport].
	Connect(ctx context.Context, cfg Config) (Session, error)

	// Capabilities returns static metadata about the provider.
	Capabilities() Capabilities
}
