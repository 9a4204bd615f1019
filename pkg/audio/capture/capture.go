// Package capture turns microphone frames into outbound wire chunks.
//
// Each [audio.Frame] is converted to 16-bit little-endian PCM, brought to the
// 16 kHz mono wire format when the device delivers something else, base64
// encoded and tagged "audio/pcm;rate=16000". Frames are encoded and sent one
// at a time in capture order; nothing is batched or reordered.
package capture

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/vertex/pkg/audio"
)

// ErrInputEnded is returned by [Encoder.Run] when the frame channel closes
// before the context is cancelled.
var ErrInputEnded = errors.New("capture: input ended")

// SendFunc delivers one encoded chunk to the transport. An error aborts the
// capture loop.
type SendFunc func(audio.WireChunk) error

// Encoder converts captured frames to wire chunks.
type Encoder struct {
	conv    audio.FormatConverter
	onChunk func(audio.WireChunk)
}

// Option is a functional option for [NewEncoder].
type Option func(*Encoder)

// WithChunkHook registers fn to be called after each chunk is sent
// successfully. Used for metrics.
func WithChunkHook(fn func(audio.WireChunk)) Option {
	return func(e *Encoder) { e.onChunk = fn }
}

// NewEncoder returns an Encoder targeting the 16 kHz mono wire format.
func NewEncoder(opts ...Option) *Encoder {
	e := &Encoder{
		conv: audio.FormatConverter{Target: audio.Format{SampleRate: audio.CaptureSampleRate, Channels: 1}},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// EncodeFrame converts a single frame into a wire chunk. Frames with a zero
// sample rate or channel count are assumed to be 16 kHz mono.
func (e *Encoder) EncodeFrame(f audio.Frame) (audio.WireChunk, error) {
	from := audio.Format{SampleRate: f.SampleRate, Channels: f.Channels}
	if from.SampleRate <= 0 {
		from.SampleRate = audio.CaptureSampleRate
	}
	if from.Channels <= 0 {
		from.Channels = 1
	}
	if from.Channels > 2 {
		return audio.WireChunk{}, fmt.Errorf("capture: unsupported channel count %d", from.Channels)
	}
	if from.Channels == 2 && len(f.Samples)%2 != 0 {
		return audio.WireChunk{}, fmt.Errorf("capture: stereo frame has odd sample count %d", len(f.Samples))
	}

	pcm := e.conv.Convert(audio.FloatToPCM16(f.Samples), from)
	return audio.EncodeChunk(pcm, audio.CaptureSampleRate), nil
}

// Run encodes frames as they arrive and hands each chunk to send. It returns
// nil when ctx is cancelled, [ErrInputEnded] when frames is closed, and the
// wrapped error of the first failing send. Empty frames are skipped.
func (e *Encoder) Run(ctx context.Context, frames <-chan audio.Frame, send SendFunc) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-frames:
			if !ok {
				return ErrInputEnded
			}
			if len(f.Samples) == 0 {
				continue
			}
			chunk, err := e.EncodeFrame(f)
			if err != nil {
				return err
			}
			if err := send(chunk); err != nil {
				return fmt.Errorf("capture: send: %w", err)
			}
			if e.onChunk != nil {
				e.onChunk(chunk)
			}
		}
	}
}

// EncodeFrame converts f using a default [Encoder].
func EncodeFrame(f audio.Frame) (audio.WireChunk, error) {
	return NewEncoder().EncodeFrame(f)
}
