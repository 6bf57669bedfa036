package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// ErrDeviceClosed is returned by reads and writes on a closed device.
var ErrDeviceClosed = errors.New("audio device closed")

// pacer sleeps so that a stream of samples advances at SampleRate.
type pacer struct {
	mu      sync.Mutex
	start   time.Time
	samples int64
	closed  chan struct{}
	once    sync.Once
}

func newPacer() *pacer {
	return &pacer{start: time.Now(), closed: make(chan struct{})}
}

func (p *pacer) wait(n int) error {
	p.mu.Lock()
	p.samples += int64(n)
	d := time.Until(p.start.Add(time.Duration(p.samples) * time.Second / SampleRate))
	p.mu.Unlock()
	if d <= 0 {
		select {
		case <-p.closed:
			return ErrDeviceClosed
		default:
			return nil
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-p.closed:
		return ErrDeviceClosed
	}
}

func (p *pacer) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.start = time.Now()
	p.samples = 0
}

func (p *pacer) close() {
	p.once.Do(func() { close(p.closed) })
}

// SilenceInput produces realtime-paced digital silence.
type SilenceInput struct {
	mu    sync.Mutex
	pacer *pacer
}

func NewSilenceInput() *SilenceInput { return &SilenceInput{} }

func (s *SilenceInput) Open(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pacer = newPacer()
	return nil
}

func (s *SilenceInput) Read(buf []int16) (int, error) {
	s.mu.Lock()
	p := s.pacer
	s.mu.Unlock()
	if p == nil {
		return 0, ErrDeviceClosed
	}
	clear(buf)
	if err := p.wait(len(buf)); err != nil {
		return 0, err
	}
	return len(buf), nil
}

func (s *SilenceInput) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pacer != nil {
		s.pacer.close()
		s.pacer = nil
	}
	return nil
}

// FileInput replays a 24 kHz PCM16 WAV file at realtime pace, then keeps
// producing silence so the session stays open for the reply.
type FileInput struct {
	path string

	mu    sync.Mutex
	data  Block
	pos   int
	pacer *pacer
}

func NewFileInput(path string) *FileInput { return &FileInput{path: path} }

func (f *FileInput) Open(context.Context) error {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("read capture file: %w", err)
	}
	samples, rate, err := DecodeWAV(raw)
	if err != nil {
		return fmt.Errorf("decode capture file: %w", err)
	}
	if rate != SampleRate {
		return fmt.Errorf("capture file sample rate %d Hz, want %d Hz", rate, SampleRate)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = samples
	f.pos = 0
	f.pacer = newPacer()
	return nil
}

func (f *FileInput) Read(buf []int16) (int, error) {
	f.mu.Lock()
	p := f.pacer
	if p == nil {
		f.mu.Unlock()
		return 0, ErrDeviceClosed
	}
	n := copy(buf, f.data[f.pos:])
	f.pos += n
	clear(buf[n:])
	f.mu.Unlock()

	if err := p.wait(len(buf)); err != nil {
		return 0, err
	}
	return len(buf), nil
}

func (f *FileInput) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pacer != nil {
		f.pacer.close()
		f.pacer = nil
	}
	return nil
}

// DiscardOutput drops audio while keeping realtime pacing.
type DiscardOutput struct {
	mu    sync.Mutex
	pacer *pacer
}

func NewDiscardOutput() *DiscardOutput { return &DiscardOutput{} }

func (d *DiscardOutput) Open(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pacer = newPacer()
	return nil
}

func (d *DiscardOutput) Write(samples []int16) error {
	d.mu.Lock()
	p := d.pacer
	d.mu.Unlock()
	if p == nil {
		return ErrDeviceClosed
	}
	return p.wait(len(samples))
}

// Flush restarts the sample clock so playback after an interrupt is not
// delayed by audio that was discarded.
func (d *DiscardOutput) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pacer != nil {
		d.pacer.reset()
	}
	return nil
}

func (d *DiscardOutput) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pacer != nil {
		d.pacer.close()
		d.pacer = nil
	}
	return nil
}

// WAVOutput keeps realtime pacing and writes everything that was played to a
// WAV file when closed.
type WAVOutput struct {
	path string

	mu     sync.Mutex
	pacer  *pacer
	played Block
}

func NewWAVOutput(path string) *WAVOutput { return &WAVOutput{path: path} }

func (w *WAVOutput) Open(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pacer = newPacer()
	w.played = nil
	return nil
}

func (w *WAVOutput) Write(samples []int16) error {
	w.mu.Lock()
	p := w.pacer
	w.mu.Unlock()
	if p == nil {
		return ErrDeviceClosed
	}
	if err := p.wait(len(samples)); err != nil {
		return err
	}
	w.mu.Lock()
	w.played = append(w.played, samples...)
	w.mu.Unlock()
	return nil
}

func (w *WAVOutput) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pacer == nil {
		return nil
	}
	w.pacer.close()
	w.pacer = nil
	return WriteWAVFile(w.path, w.played)
}
