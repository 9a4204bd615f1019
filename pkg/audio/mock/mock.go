// Package mock provides in-memory mock implementations of the [audio.InputDevice],
// [audio.InputStream], [audio.OutputDevice], and [audio.OutputStream]
// interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	out := &mock.OutputStream{}
//	out.SetNow(50 * time.Millisecond)
//	sched := playback.New(out)
//	_ = sched.OnChunkReceived(chunk)
//	out.Complete(0) // simulate natural end of the first voice
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/vertex/pkg/audio"
)

// ─── InputStream ──────────────────────────────────────────────────────────────

// InputStream is a mock implementation of [audio.InputStream]. Feed frames with
// [InputStream.Push]; end capture with [InputStream.Finish].
type InputStream struct {
	mu     sync.Mutex
	once   sync.Once
	frames chan audio.Frame
	closed bool

	// ErrResult is returned by [InputStream.Err].
	ErrResult error

	// CloseError is returned by [InputStream.Close].
	CloseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewInputStream returns an InputStream whose frame channel has the given
// buffer capacity.
func NewInputStream(buffer int) *InputStream {
	return &InputStream{frames: make(chan audio.Frame, buffer)}
}

// Push delivers f on the frame channel. It blocks while the buffer is full
// and silently drops the frame once the stream is closed.
func (s *InputStream) Push(f audio.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.frames <- f
}

// Finish closes the frame channel without recording a Close call, simulating
// the device ending capture on its own.
func (s *InputStream) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shut()
}

func (s *InputStream) shut() {
	s.once.Do(func() {
		s.closed = true
		close(s.frames)
	})
}

// Frames implements [audio.InputStream].
func (s *InputStream) Frames() <-chan audio.Frame { return s.frames }

// Err implements [audio.InputStream]. Returns ErrResult.
func (s *InputStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ErrResult
}

// Close implements [audio.InputStream]. Records the call and closes the frame
// channel on first use.
func (s *InputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.shut()
	return s.CloseError
}

// Closed reports whether Close has been called at least once.
func (s *InputStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose > 0
}

// ─── InputDevice ──────────────────────────────────────────────────────────────

// InputDevice is a mock implementation of [audio.InputDevice].
type InputDevice struct {
	mu sync.Mutex

	// OpenResult is returned by Open. When nil and OpenError is nil, a fresh
	// [InputStream] with a 16-frame buffer is created on each call.
	OpenResult *InputStream

	// OpenError is returned by Open.
	OpenError error

	// OnOpen, when set, is invoked at the start of Open with its context.
	OnOpen func(ctx context.Context)

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	// Opened holds every stream returned by Open, in order.
	Opened []*InputStream
}

// Open implements [audio.InputDevice].
func (d *InputDevice) Open(ctx context.Context) (audio.InputStream, error) {
	d.mu.Lock()
	hook := d.OnOpen
	d.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpen++
	if d.OpenError != nil {
		return nil, d.OpenError
	}
	s := d.OpenResult
	if s == nil {
		s = NewInputStream(16)
	}
	d.Opened = append(d.Opened, s)
	return s, nil
}

// OpenStreams returns how many streams handed out by Open are not closed.
func (d *InputDevice) OpenStreams() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, st := range d.Opened {
		if !st.Closed() {
			n++
		}
	}
	return n
}

// Last returns the most recently opened stream, or nil.
func (d *InputDevice) Last() *InputStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Opened) == 0 {
		return nil
	}
	return d.Opened[len(d.Opened)-1]
}

// ─── OutputStream ─────────────────────────────────────────────────────────────

// Voice is a mock implementation of [audio.Voice] and the record of one
// [OutputStream.Schedule] call.
type Voice struct {
	// Buffer is the buffer passed to Schedule.
	Buffer audio.Buffer

	// At is the requested start position.
	At time.Duration

	mu      sync.Mutex
	onDone  func()
	stopped bool
	done    bool
}

// Stop implements [audio.Voice].
func (v *Voice) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopped = true
}

// Stopped reports whether Stop was called.
func (v *Voice) Stopped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopped
}

// OutputStream is a mock implementation of [audio.OutputStream] driven by a
// manual clock. Schedule never invokes onDone; tests call
// [OutputStream.Complete] to simulate a voice finishing naturally.
type OutputStream struct {
	mu  sync.Mutex
	now time.Duration

	// ScheduleError is returned by Schedule when non-nil. The failed call is
	// not recorded as a voice.
	ScheduleError error

	// CloseError is returned by Close.
	CloseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int

	voices []*Voice
}

// SetNow sets the output clock.
func (o *OutputStream) SetNow(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = d
}

// Advance moves the output clock forward by d.
func (o *OutputStream) Advance(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now += d
}

// Now implements [audio.OutputStream].
func (o *OutputStream) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// Schedule implements [audio.OutputStream]. Records the voice.
func (o *OutputStream) Schedule(buf audio.Buffer, at time.Duration, onDone func()) (audio.Voice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ScheduleError != nil {
		return nil, o.ScheduleError
	}
	v := &Voice{Buffer: buf, At: at, onDone: onDone}
	o.voices = append(o.voices, v)
	return v, nil
}

// Voices returns a snapshot of every voice scheduled so far, in order.
func (o *OutputStream) Voices() []*Voice {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*Voice, len(o.voices))
	copy(out, o.voices)
	return out
}

// Complete fires the completion callback of the i-th scheduled voice, as the
// device would after natural playback. Stopped or already completed voices
// are ignored.
func (o *OutputStream) Complete(i int) error {
	o.mu.Lock()
	if i < 0 || i >= len(o.voices) {
		o.mu.Unlock()
		return fmt.Errorf("mock: voice %d not scheduled", i)
	}
	v := o.voices[i]
	o.mu.Unlock()

	v.mu.Lock()
	if v.stopped || v.done {
		v.mu.Unlock()
		return nil
	}
	v.done = true
	cb := v.onDone
	v.mu.Unlock()
	if cb != nil {
		cb()
	}
	return nil
}

// Close implements [audio.OutputStream].
func (o *OutputStream) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountClose++
	return o.CloseError
}

// ─── OutputDevice ─────────────────────────────────────────────────────────────

// OutputDevice is a mock implementation of [audio.OutputDevice].
type OutputDevice struct {
	mu sync.Mutex

	// OpenResult is returned by Open. When nil and OpenError is nil, a fresh
	// [OutputStream] is created on each call.
	OpenResult *OutputStream

	// OpenError is returned by Open.
	OpenError error

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	// Opened holds every stream returned by Open, in order.
	Opened []*OutputStream
}

// Open implements [audio.OutputDevice].
func (d *OutputDevice) Open(_ context.Context) (audio.OutputStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpen++
	if d.OpenError != nil {
		return nil, d.OpenError
	}
	s := d.OpenResult
	if s == nil {
		s = &OutputStream{}
	}
	d.Opened = append(d.Opened, s)
	return s, nil
}

// Last returns the most recently opened stream, or nil.
func (d *OutputDevice) Last() *OutputStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Opened) == 0 {
		return nil
	}
	return d.Opened[len(d.Opened)-1]
}

// Compile-time interface assertions.
var (
	_ audio.InputDevice  = (*InputDevice)(nil)
	_ audio.InputStream  = (*InputStream)(nil)
	_ audio.OutputDevice = (*OutputDevice)(nil)
	_ audio.OutputStream = (*OutputStream)(nil)
	_ audio.Voice        = (*Voice)(nil)
)
