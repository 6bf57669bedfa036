package audio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// ErrNoCaptureDevice is returned when no capture device is configured and the
// platform has no usable default.
var ErrNoCaptureDevice = errors.New("no capture device configured")

// captureCommand describes how to run the platform capture tool so that it
// writes mono 24 kHz s16le to stdout.
type captureCommand struct {
	command       string
	defaultDevice string
	usesFFmpeg    bool
	buildArgs     func(device string) []string
}

// ExecInput captures audio by running arecord or ffmpeg and reading raw
// PCM16LE from its stdout.
type ExecInput struct {
	device     string
	ffmpegPath string

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdout io.ReadCloser
	reader *bufio.Reader
	stderr *syncBuffer
}

// NewExecInput returns an ExecInput for device. An empty device selects the
// platform default; ffmpegPath overrides the ffmpeg binary where it is used.
func NewExecInput(device, ffmpegPath string) *ExecInput {
	return &ExecInput{device: device, ffmpegPath: ffmpegPath}
}

// Command returns the capture command line that Open would run.
func (e *ExecInput) Command() (string, []string, error) {
	cfg := platformCapture()
	device := e.device
	if device == "" {
		device = cfg.defaultDevice
	}
	if device == "" {
		return "", nil, ErrNoCaptureDevice
	}
	command := cfg.command
	if cfg.usesFFmpeg && e.ffmpegPath != "" {
		command = e.ffmpegPath
	}
	return command, cfg.buildArgs(device), nil
}

func (e *ExecInput) Open(context.Context) error {
	name, args, err := e.Command()
	if err != nil {
		return err
	}
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("capture tool %s not found: %w", name, err)
	}

	// The process outlives Open, so it is not bound to the caller's context.
	cmd := exec.Command(name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("capture stdout pipe: %w", err)
	}
	stderr := &syncBuffer{}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.cmd = cmd
	e.stdout = stdout
	e.reader = bufio.NewReaderSize(stdout, 8192)
	e.stderr = stderr
	return nil
}

func (e *ExecInput) Read(buf []int16) (int, error) {
	e.mu.Lock()
	r := e.reader
	stderr := e.stderr
	e.mu.Unlock()
	if r == nil {
		return 0, ErrDeviceClosed
	}
	if len(buf) == 0 {
		return 0, nil
	}
	raw := make([]byte, len(buf)*BytesPerSample)
	if _, err := io.ReadFull(r, raw); err != nil {
		if msg := stderr.lastLine(); msg != "" {
			return 0, fmt.Errorf("capture process: %w: %s", err, msg)
		}
		return 0, fmt.Errorf("capture process: %w", err)
	}
	for i := range buf {
		buf[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return len(buf), nil
}

func (e *ExecInput) Close() error {
	e.mu.Lock()
	cmd := e.cmd
	stdout := e.stdout
	e.cmd, e.stdout, e.reader = nil, nil, nil
	e.mu.Unlock()
	if cmd == nil {
		return nil
	}
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	_ = stdout.Close()
	_ = cmd.Wait()
	return nil
}

// syncBuffer collects process stderr. exec copies into it from its own
// goroutine while Read may inspect it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// lastLine returns the last non-empty line written so far.
func (b *syncBuffer) lastLine() string {
	b.mu.Lock()
	out := b.buf.String()
	b.mu.Unlock()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
