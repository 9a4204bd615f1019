// Package audio defines the audio types, PCM wire codec, and device contracts
// of the live voice pipeline.
//
// The two device abstractions are:
//
//   - [InputDevice] opens an [InputStream] of fixed-size float frames
//     (a microphone).
//   - [OutputDevice] opens an [OutputStream] exposing a monotonic clock and
//     sample-accurate scheduled playback (a speaker).
//
// Implementations live in sub-packages (audio/ffmpeg, audio/beepout) and in
// audio/mock for tests.
package audio

import (
	"context"
	"time"
)

// InputDevice is an audio capture source.
type InputDevice interface {
	// Open acquires the device and starts capture. It blocks until the
	// device is confirmed usable or fails. A missing device or denied
	// permission is reported as an error wrapping [ErrDeviceUnavailable].
	Open(ctx context.Context) (InputStream, error)
}

// InputStream is an open capture session. The owner must call Close on every
// exit path.
type InputStream interface {
	// Frames returns the channel of captured frames. It is closed when
	// capture ends, either through Close or a device failure.
	Frames() <-chan Frame

	// Err returns the error that ended capture early, or nil.
	Err() error

	// Close releases the device. Calling Close more than once is safe.
	Close() error
}

// OutputDevice is an audio playback sink.
type OutputDevice interface {
	// Open acquires the output device and starts its clock at zero.
	Open(ctx context.Context) (OutputStream, error)
}

// OutputStream is an open playback session with its own clock.
//
// Implementations must not invoke a Schedule callback synchronously from
// within Schedule; completion is always reported from the device's own
// goroutine.
type OutputStream interface {
	// Now returns the current position of the monotonic output clock.
	Now() time.Duration

	// Schedule queues buf to begin at the clock position at. If at is in the
	// past, playback begins immediately. onDone is called once when the
	// buffer finished playing naturally; it is never called after Stop.
	Schedule(buf Buffer, at time.Duration, onDone func()) (Voice, error)

	// Close stops all playback and releases the device. Idempotent.
	Close() error
}

// Voice is a handle to one scheduled playback.
type Voice interface {
	// Stop silences the playback immediately. Stopping a finished voice is
	// a no-op.
	Stop()
}
