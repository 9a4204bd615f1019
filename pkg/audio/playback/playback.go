// Package playback schedules decoded model audio for gapless, ordered output.
//
// The [Scheduler] keeps a single cursor, the clock position at which the next
// buffer should begin. Each incoming chunk starts at max(now, cursor) and
// pushes the cursor forward by its own duration, so consecutive chunks abut
// exactly while the clock never schedules into the past. An interruption
// stops every scheduled unit at once and resets the cursor.
package playback

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/vertex/pkg/audio"
)

// Unit is one scheduled playback buffer.
type Unit struct {
	// ID is unique within a Scheduler.
	ID uint64

	// Start is the output clock position the unit was scheduled at.
	Start time.Duration

	// Duration is the playback length of the unit.
	Duration time.Duration

	voice audio.Voice
}

// Scheduler decodes inbound chunks and schedules them on an
// [audio.OutputStream]. All methods are safe for concurrent use.
type Scheduler struct {
	out    audio.OutputStream
	format audio.Format

	mu        sync.Mutex
	nextStart time.Duration
	active    map[uint64]*Unit
	seq       uint64

	onMalformed func(error)
}

// Option is a functional option for [New].
type Option func(*Scheduler)

// WithFormat sets the format assumed for chunks that do not declare a rate.
// Defaults to 24 kHz mono.
func WithFormat(f audio.Format) Option {
	return func(s *Scheduler) { s.format = f }
}

// WithMalformedHook registers fn to be called for every chunk rejected as
// malformed.
func WithMalformedHook(fn func(error)) Option {
	return func(s *Scheduler) { s.onMalformed = fn }
}

// New returns a Scheduler that plays on out.
func New(out audio.OutputStream, opts ...Option) *Scheduler {
	s := &Scheduler{
		out:    out,
		format: audio.Format{SampleRate: audio.PlaybackSampleRate, Channels: 1},
		active: make(map[uint64]*Unit),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// OnChunkReceived decodes c and schedules it directly after everything
// already queued. Chunks without samples are ignored. A malformed chunk
// returns an error wrapping [audio.ErrMalformedChunk] and leaves the schedule
// untouched.
func (s *Scheduler) OnChunkReceived(c audio.WireChunk) error {
	buf, err := audio.DecodeChunk(c, s.format)
	if err != nil {
		slog.Warn("playback: dropping malformed chunk", "mime_type", c.MIMEType, "err", err)
		if s.onMalformed != nil {
			s.onMalformed(err)
		}
		return fmt.Errorf("playback: %w", err)
	}
	if buf.Frames() == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := max(s.out.Now(), s.nextStart)
	s.seq++
	u := &Unit{ID: s.seq, Start: start, Duration: buf.Duration()}

	id := u.ID
	v, err := s.out.Schedule(buf, start, func() { s.complete(id) })
	if err != nil {
		return fmt.Errorf("playback: schedule: %w", err)
	}
	u.voice = v
	s.active[id] = u
	s.nextStart = start + u.Duration
	return nil
}

// complete drops a naturally finished unit from the active set.
func (s *Scheduler) complete(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
}

// OnInterrupted stops all scheduled audio immediately and resets the cursor so
// the next chunk begins at the current clock position. It returns the number
// of units that were stopped.
func (s *Scheduler) OnInterrupted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.active)
	for id, u := range s.active {
		if u.voice != nil {
			u.voice.Stop()
		}
		delete(s.active, id)
	}
	s.nextStart = 0
	return n
}

// StopAll is the teardown path used when a session closes. It stops every
// unit like [Scheduler.OnInterrupted].
func (s *Scheduler) StopAll() {
	if n := s.OnInterrupted(); n > 0 {
		slog.Debug("playback: stopped active units", "count", n)
	}
}

// NextStart returns the clock position at which the next chunk would begin
// if the clock has not passed it.
func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

// ActiveCount returns the number of units scheduled and not yet finished.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Active returns a snapshot of the scheduled units ordered by start.
func (s *Scheduler) Active() []Unit {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Unit, 0, len(s.active))
	for _, u := range s.active {
		out = append(out, Unit{ID: u.ID, Start: u.Start, Duration: u.Duration})
	}
	// IDs follow schedule order, and starts are monotonic between interruptions.
	slices.SortFunc(out, func(a, b Unit) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// IsMalformed reports whether err was caused by an undecodable chunk.
func IsMalformed(err error) bool {
	return errors.Is(err, audio.ErrMalformedChunk)
}
