// Package beepout implements [audio.OutputDevice] on the system speaker using
// gopxl/beep.
//
// A [Mixer] is a beep.Streamer that renders every scheduled buffer at its
// absolute sample position. Its clock is the number of samples the speaker
// has pulled so far, which makes it monotonic and sample accurate with respect
// to what was actually handed to the audio driver.
package beepout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/speaker"

	"github.com/MrWong99/vertex/pkg/audio"
)

// resampleQuality is passed to beep.Resample when a buffer's rate differs
// from the speaker rate.
const resampleQuality = 4

// Device opens the default speaker.
type Device struct {
	// SampleRate of the speaker. Defaults to 24000.
	SampleRate int

	// Buffer is the speaker buffer length. Defaults to 100ms.
	Buffer time.Duration
}

var _ audio.OutputDevice = (*Device)(nil)

// Open initialises the speaker and starts playing a fresh [Mixer].
func (d *Device) Open(_ context.Context) (audio.OutputStream, error) {
	rate := d.SampleRate
	if rate <= 0 {
		rate = audio.PlaybackSampleRate
	}
	bufLen := d.Buffer
	if bufLen <= 0 {
		bufLen = 100 * time.Millisecond
	}

	sr := beep.SampleRate(rate)
	if err := speaker.Init(sr, sr.N(bufLen)); err != nil {
		return nil, fmt.Errorf("beepout: init speaker: %w", err)
	}
	m := NewMixer(rate)
	speaker.Play(m)
	return &speakerStream{Mixer: m}, nil
}

// speakerStream detaches the mixer from the speaker on Close.
type speakerStream struct {
	*Mixer
	once sync.Once
}

func (s *speakerStream) Close() error {
	s.once.Do(func() {
		_ = s.Mixer.Close()
		speaker.Clear()
	})
	return nil
}

// ─── Mixer ────────────────────────────────────────────────────────────────────

// Mixer is an [audio.OutputStream] and a beep.Streamer. Whatever pulls samples
// from it (the speaker, or a test) drives its clock.
type Mixer struct {
	rate beep.SampleRate

	mu     sync.Mutex
	pos    int
	voices []*voice
	closed bool
}

var (
	_ audio.OutputStream = (*Mixer)(nil)
	_ beep.Streamer      = (*Mixer)(nil)
)

// NewMixer returns a Mixer running at rate Hz.
func NewMixer(rate int) *Mixer {
	return &Mixer{rate: beep.SampleRate(rate)}
}

// Now returns the duration of audio rendered so far.
func (m *Mixer) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rate.D(m.pos)
}

// Schedule renders buf at the mixer rate and queues it at clock position at.
func (m *Mixer) Schedule(buf audio.Buffer, at time.Duration, onDone func()) (audio.Voice, error) {
	if buf.SampleRate <= 0 {
		return nil, fmt.Errorf("beepout: schedule: invalid sample rate %d", buf.SampleRate)
	}
	var src beep.Streamer = &pcmStreamer{samples: buf.Samples, channels: max(buf.Channels, 1)}
	if r := beep.SampleRate(buf.SampleRate); r != m.rate {
		src = beep.Resample(resampleQuality, r, m.rate, src)
	}
	frames := render(src, buf.Frames()*int(m.rate)/buf.SampleRate+resampleQuality*2)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("beepout: schedule: mixer closed")
	}
	v := &voice{m: m, frames: frames, start: max(m.rate.N(at), m.pos), onDone: onDone}
	m.voices = append(m.voices, v)
	return v, nil
}

// Stream implements beep.Streamer. It mixes every voice overlapping the
// requested window and fires completion callbacks after releasing the lock.
func (m *Mixer) Stream(samples [][2]float64) (int, bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, false
	}
	clear(samples)
	from, to := m.pos, m.pos+len(samples)

	var finished []func()
	kept := m.voices[:0]
	for _, v := range m.voices {
		end := v.start + len(v.frames)
		lo, hi := max(v.start, from), min(end, to)
		for p := lo; p < hi; p++ {
			f := v.frames[p-v.start]
			samples[p-from][0] += f[0]
			samples[p-from][1] += f[1]
		}
		if end <= to {
			v.done = true
			if v.onDone != nil {
				finished = append(finished, v.onDone)
			}
			continue
		}
		kept = append(kept, v)
	}
	clear(m.voices[len(kept):])
	m.voices = kept
	m.pos = to
	m.mu.Unlock()

	for _, fn := range finished {
		fn()
	}
	return len(samples), true
}

// Err implements beep.Streamer.
func (m *Mixer) Err() error { return nil }

// Pending returns the number of voices still queued or playing.
func (m *Mixer) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.voices)
}

// Close drops all voices without firing their callbacks. Subsequent Stream
// calls report the end of the stream.
func (m *Mixer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.voices = nil
	return nil
}

type voice struct {
	m      *Mixer
	frames [][2]float64
	start  int
	onDone func()
	done   bool
}

// Stop removes the voice from the mixer. Its callback will not fire.
func (v *voice) Stop() {
	m := v.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.done {
		return
	}
	v.done = true
	for i, o := range m.voices {
		if o == v {
			m.voices = append(m.voices[:i], m.voices[i+1:]...)
			break
		}
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

// pcmStreamer streams interleaved float32 samples as stereo frames.
type pcmStreamer struct {
	samples  []float32
	channels int
	pos      int
}

func (p *pcmStreamer) Stream(out [][2]float64) (int, bool) {
	n := 0
	for n < len(out) && p.pos+p.channels <= len(p.samples) {
		l := float64(p.samples[p.pos])
		r := l
		if p.channels > 1 {
			r = float64(p.samples[p.pos+1])
		}
		out[n] = [2]float64{l, r}
		p.pos += p.channels
		n++
	}
	if n == 0 {
		return 0, false
	}
	return n, true
}

func (p *pcmStreamer) Err() error { return nil }

// render drains s into a frame slice.
func render(s beep.Streamer, hint int) [][2]float64 {
	out := make([][2]float64, 0, max(hint, 0))
	chunk := make([][2]float64, 512)
	for {
		n, ok := s.Stream(chunk)
		out = append(out, chunk[:n]...)
		if !ok {
			return out
		}
	}
}
