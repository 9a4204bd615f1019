// Package ffmpeg implements [audio.InputDevice] by running an ffmpeg
// subprocess that captures the system microphone and writes raw 32-bit float
// mono PCM to stdout.
package ffmpeg

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/vertex/pkg/audio"
)

const (
	defaultCommand      = "ffmpeg"
	defaultInputName    = "default"
	defaultStartTimeout = 5 * time.Second
	stderrLimit         = 4096
)

// Device captures audio through ffmpeg. The zero value captures the default
// microphone of the platform at 16 kHz mono in frames of
// [audio.DefaultFrameSize] samples.
type Device struct {
	// Command is the executable to run. Defaults to "ffmpeg".
	Command string

	// Args, when non-empty, replaces the generated ffmpeg arguments. The
	// process must write little-endian float32 mono samples to stdout.
	Args []string

	// InputFormat is the ffmpeg input device format ("pulse", "alsa",
	// "avfoundation", "dshow"). Defaults to the platform's native one.
	InputFormat string

	// InputName is the device name passed to -i. Defaults to "default".
	InputName string

	// SampleRate of the produced frames. Defaults to 16000.
	SampleRate int

	// FrameSize is the number of samples per frame. Defaults to 4096.
	FrameSize int

	// StartTimeout bounds how long Open waits for the first frame.
	StartTimeout time.Duration
}

var _ audio.InputDevice = (*Device)(nil)

func (d *Device) command() string {
	if d.Command != "" {
		return d.Command
	}
	return defaultCommand
}

func (d *Device) sampleRate() int {
	if d.SampleRate > 0 {
		return d.SampleRate
	}
	return audio.CaptureSampleRate
}

func (d *Device) frameSize() int {
	if d.FrameSize > 0 {
		return d.FrameSize
	}
	return audio.DefaultFrameSize
}

func (d *Device) inputFormat() string {
	if d.InputFormat != "" {
		return d.InputFormat
	}
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation"
	case "windows":
		return "dshow"
	default:
		return "pulse"
	}
}

func (d *Device) inputName() string {
	name := d.InputName
	if name == "" {
		name = defaultInputName
	}
	switch d.inputFormat() {
	case "avfoundation":
		// Audio-only selector; avoids opening a camera.
		if !strings.Contains(name, ":") {
			name = ":" + name
		}
	case "dshow":
		if !strings.HasPrefix(name, "audio=") {
			name = "audio=" + name
		}
	}
	return name
}

// args returns the ffmpeg command line for the configured device.
func (d *Device) args() []string {
	if len(d.Args) > 0 {
		return d.Args
	}
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", d.inputFormat(),
		"-i", d.inputName(),
		"-ac", "1",
		"-ar", strconv.Itoa(d.sampleRate()),
		"-f", "f32le",
		"-",
	}
}

// Open starts ffmpeg and waits until the first frame arrives. A missing
// binary, a process that exits before producing audio, or a start timeout is
// reported as [audio.ErrDeviceUnavailable].
func (d *Device) Open(ctx context.Context) (audio.InputStream, error) {
	bin, err := exec.LookPath(d.command())
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: %w: %v", audio.ErrDeviceUnavailable, err)
	}

	cmd := exec.Command(bin, d.args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: stdout pipe: %w", err)
	}
	stderr := &tailBuffer{limit: stderrLimit}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w: start: %v", audio.ErrDeviceUnavailable, err)
	}

	s := &stream{
		cmd:        cmd,
		stdout:     stdout,
		stderr:     stderr,
		frames:     make(chan audio.Frame, 8),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
		exited:     make(chan struct{}),
		frameSize:  d.frameSize(),
		sampleRate: d.sampleRate(),
	}
	go s.readLoop()

	wait := d.StartTimeout
	if wait <= 0 {
		wait = defaultStartTimeout
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-s.ready:
		slog.Debug("ffmpeg: capture started", "command", bin, "sample_rate", s.sampleRate, "frame_size", s.frameSize)
		return s, nil
	case <-s.exited:
		select {
		case <-s.ready:
			// Short-lived source that produced frames before exiting.
			return s, nil
		default:
		}
		return nil, fmt.Errorf("ffmpeg: %w: %s", audio.ErrDeviceUnavailable, s.exitReason())
	case <-timer.C:
		_ = s.Close()
		return nil, fmt.Errorf("ffmpeg: %w: no audio within %s", audio.ErrDeviceUnavailable, wait)
	case <-ctx.Done():
		_ = s.Close()
		return nil, fmt.Errorf("ffmpeg: open: %w", ctx.Err())
	}
}

// stream is an [audio.InputStream] backed by a running ffmpeg process.
type stream struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr *tailBuffer

	frames chan audio.Frame
	ready  chan struct{}
	done   chan struct{}
	exited chan struct{}

	frameSize  int
	sampleRate int

	readyOnce sync.Once
	closeOnce sync.Once

	mu      sync.Mutex
	err     error
	closing bool
}

func (s *stream) Frames() <-chan audio.Frame { return s.frames }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close kills ffmpeg and waits for the reader to finish. Safe to call more
// than once.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()
		close(s.done)
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
	})
	<-s.exited
	return nil
}

// readLoop owns the process: it reads frames until EOF or Close, reaps the
// process, and closes the frame channel.
func (s *stream) readLoop() {
	defer close(s.exited)
	defer close(s.frames)

	raw := make([]byte, s.frameSize*4)
	var index int64
	var readErr error
	for {
		if _, err := io.ReadFull(s.stdout, raw); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				readErr = err
			}
			break
		}
		samples := make([]float32, s.frameSize)
		for i := range samples {
			samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		f := audio.Frame{
			Samples:    samples,
			SampleRate: s.sampleRate,
			Channels:   1,
			Timestamp:  time.Duration(index) * time.Duration(s.frameSize) * time.Second / time.Duration(s.sampleRate),
		}
		index++
		s.readyOnce.Do(func() { close(s.ready) })

		select {
		case s.frames <- f:
		case <-s.done:
			_, _ = io.Copy(io.Discard, s.stdout)
			_ = s.cmd.Wait()
			return
		}
	}

	waitErr := s.cmd.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return
	}
	switch {
	case readErr != nil:
		s.err = fmt.Errorf("ffmpeg: read: %w", readErr)
	case waitErr != nil:
		s.err = fmt.Errorf("ffmpeg: %w: %s", audio.ErrDeviceUnavailable, describe(waitErr, s.stderr.String()))
	}
	if s.err != nil {
		slog.Warn("ffmpeg: capture ended", "err", s.err)
	}
}

// exitReason describes why the process ended before becoming ready.
func (s *stream) exitReason() string {
	if err := s.Err(); err != nil {
		return err.Error()
	}
	if msg := s.stderr.String(); msg != "" {
		return msg
	}
	return "process exited before producing audio"
}

func describe(err error, stderr string) string {
	if stderr == "" {
		return err.Error()
	}
	return fmt.Sprintf("%v: %s", err, stderr)
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.limit; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(t.buf.String())
}
