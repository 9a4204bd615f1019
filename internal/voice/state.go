package voice

import (
	"errors"
	"fmt"
	"time"
)

// State is the lifecycle state of a [Controller].
type State int

const (
	// StateIdle means no session exists and a new one may be started.
	StateIdle State = iota

	// StateConnecting means the microphone and the live session are being
	// opened.
	StateConnecting

	// StateActive means audio is flowing in both directions.
	StateActive

	// StateClosing means the session is being torn down.
	StateClosing

	// StateError means the last session failed. [Controller.Acknowledge]
	// returns to idle.
	StateError
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// User-facing status lines.
const (
	StatusReady       = "Ready to chat"
	StatusConnecting  = "Connecting…"
	StatusEstablished = "Voice Link Established"
	StatusInterrupted = "Connection Interrupted"
	StatusClosed      = "Link Closed"
	StatusNoMic       = "Failed to access microphone"
)

var (
	// ErrNotIdle is returned by Start when a session is connecting, active,
	// closing, or awaiting acknowledgement of an error.
	ErrNotIdle = errors.New("voice: controller is not idle")

	// ErrNotActive is returned by operations that need an active session.
	ErrNotActive = errors.New("voice: no active session")

	// ErrStopped is returned by Start when Stop was called while connecting.
	ErrStopped = errors.New("voice: stopped while connecting")

	// errRemoteClosed ends a session that the remote side closed normally.
	errRemoteClosed = errors.New("voice: remote closed the session")
)

// Status is a snapshot of the controller.
type Status struct {
	State     State     `json:"state"`
	Text      string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`

	// Voice is the voice name used for the current or next session.
	Voice string `json:"voice"`

	ChunksSent     int64 `json:"chunks_sent"`
	ChunksReceived int64 `json:"chunks_received"`
	Interruptions  int64 `json:"interruptions"`

	// ActiveUnits is the number of scheduled playback buffers not yet
	// finished.
	ActiveUnits int `json:"active_units"`
}
