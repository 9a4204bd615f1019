package voice

import (
	"sync"
	"time"
)

// Speaker attributes a transcript line.
type Speaker string

const (
	// SpeakerAI marks text produced by the model.
	SpeakerAI Speaker = "AI"

	// SpeakerYou marks the user's recognised speech or typed text.
	SpeakerYou Speaker = "You"
)

// Line is one transcript entry.
type Line struct {
	Speaker Speaker   `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// String renders the line the way the transcript panel shows it, e.g.
// "AI: Hello there".
func (l Line) String() string {
	return string(l.Speaker) + ": " + l.Text
}

// Transcript is an append-only log of session text. It is safe for
// concurrent use.
type Transcript struct {
	mu    sync.Mutex
	lines []Line
}

// Append adds a line.
func (t *Transcript) Append(l Line) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, l)
}

// Lines returns a copy of all lines in order.
func (t *Transcript) Lines() []Line {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Line, len(t.lines))
	copy(out, t.lines)
	return out
}

// Len returns the number of lines.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.lines)
}

// Clear drops every line.
func (t *Transcript) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = nil
}
