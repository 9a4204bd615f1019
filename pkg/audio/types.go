package audio

import (
	"errors"
	"time"
)

// Wire format constants for the live voice pipeline. Capture is always sent
// upstream at [CaptureSampleRate]; the remote model answers at
// [PlaybackSampleRate] unless a chunk declares otherwise.
const (
	CaptureSampleRate  = 16000
	PlaybackSampleRate = 24000

	// DefaultFrameSize is the number of samples per captured frame.
	DefaultFrameSize = 4096

	// PCMMediaType is the bare media type for 16-bit little-endian PCM.
	PCMMediaType = "audio/pcm"
)

var (
	// ErrDeviceUnavailable is returned when an input device is missing or
	// access to it was denied. It is fatal to session start and must not be
	// retried silently.
	ErrDeviceUnavailable = errors.New("audio: input device unavailable")

	// ErrMalformedChunk is returned when an inbound chunk cannot be decoded.
	ErrMalformedChunk = errors.New("audio: malformed chunk")
)

// Frame is a fixed-length buffer of linear float samples captured from an
// input device. Samples are interleaved when Channels > 1 and lie in [-1, 1].
type Frame struct {
	Samples []float32

	// SampleRate in Hz (16000 for the capture path).
	SampleRate int

	// Channels: 1 for mono.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// WireChunk is one base64 transported PCM payload together with its declared
// media type, e.g. "audio/pcm;rate=16000".
type WireChunk struct {
	MIMEType string
	Data     string
}

// Buffer is a decoded, device-ready block of float samples.
type Buffer struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Frames returns the number of sample frames (samples per channel).
func (b Buffer) Frames() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Duration returns the playback length of the buffer at its sample rate.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}
