//go:build portaudio

// Package portaudio provides microphone and speaker backends on top of the
// PortAudio default devices. Build with -tags portaudio.
package portaudio

import (
	"context"
	"fmt"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/ent0n29/voicelink/internal/audio"
)

// Available reports whether this binary was built with PortAudio support.
const Available = true

var (
	initMu   sync.Mutex
	initRefs int
)

func acquire() error {
	initMu.Lock()
	defer initMu.Unlock()
	if initRefs == 0 {
		if err := pa.Initialize(); err != nil {
			return fmt.Errorf("initialize portaudio: %w", err)
		}
	}
	initRefs++
	return nil
}

func release() {
	initMu.Lock()
	defer initMu.Unlock()
	if initRefs == 0 {
		return
	}
	initRefs--
	if initRefs == 0 {
		_ = pa.Terminate()
	}
}

// Input reads mono PCM16 from the default input device.
type Input struct {
	frames int

	mu     sync.Mutex
	stream *pa.Stream
	buf    []int16
	// pending holds samples from the last stream read not yet returned.
	pending []int16
}

// NewInput returns an Input that reads frames samples per device buffer.
func NewInput(frames int) *Input {
	return &Input{frames: max(frames, 1)}
}

func (in *Input) Open(context.Context) error {
	if err := acquire(); err != nil {
		return err
	}
	buf := make([]int16, in.frames)
	stream, err := pa.OpenDefaultStream(audio.Channels, 0, float64(audio.SampleRate), in.frames, buf)
	if err != nil {
		release()
		return fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		release()
		return fmt.Errorf("start input stream: %w", err)
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	in.stream = stream
	in.buf = buf
	in.pending = nil
	return nil
}

func (in *Input) Read(buf []int16) (int, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.stream == nil {
		return 0, audio.ErrDeviceClosed
	}
	if len(in.pending) == 0 {
		if err := in.stream.Read(); err != nil {
			return 0, fmt.Errorf("read input stream: %w", err)
		}
		in.pending = in.buf
	}
	n := copy(buf, in.pending)
	in.pending = in.pending[n:]
	return n, nil
}

func (in *Input) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.stream == nil {
		return nil
	}
	_ = in.stream.Stop()
	err := in.stream.Close()
	in.stream = nil
	release()
	if err != nil {
		return fmt.Errorf("close input stream: %w", err)
	}
	return nil
}

// Output writes mono PCM16 to the default output device. Partial frames are
// padded with silence.
type Output struct {
	frames int

	mu     sync.Mutex
	stream *pa.Stream
	buf    []int16
}

// NewOutput returns an Output that writes frames samples per device buffer.
func NewOutput(frames int) *Output {
	return &Output{frames: max(frames, 1)}
}

func (o *Output) Open(context.Context) error {
	if err := acquire(); err != nil {
		return err
	}
	buf := make([]int16, o.frames)
	stream, err := pa.OpenDefaultStream(0, audio.Channels, float64(audio.SampleRate), o.frames, buf)
	if err != nil {
		release()
		return fmt.Errorf("open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		release()
		return fmt.Errorf("start output stream: %w", err)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stream = stream
	o.buf = buf
	return nil
}

func (o *Output) Write(samples []int16) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stream == nil {
		return audio.ErrDeviceClosed
	}
	for len(samples) > 0 {
		n := copy(o.buf, samples)
		clear(o.buf[n:])
		samples = samples[n:]
		if err := o.stream.Write(); err != nil {
			return fmt.Errorf("write output stream: %w", err)
		}
	}
	return nil
}

func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stream == nil {
		return nil
	}
	_ = o.stream.Stop()
	err := o.stream.Close()
	o.stream = nil
	release()
	if err != nil {
		return fmt.Errorf("close output stream: %w", err)
	}
	return nil
}
