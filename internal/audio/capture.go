package audio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// DefaultBlockDuration is the capture block size when none is configured.
const DefaultBlockDuration = 40 * time.Millisecond

// maxEmptyReads is how many consecutive (0, nil) reads a device gets before
// it is treated as stuck.
const maxEmptyReads = 100

// CaptureOptions tunes a Capture.
type CaptureOptions struct {
	// BlockDuration is the length of each emitted block.
	BlockDuration time.Duration
	// OnError is called once from the capture goroutine when the device
	// fails while recording. It is not called for failures caused by End.
	OnError func(error)
	Logger  *slog.Logger
}

// Capture drives an InputDevice and emits fixed-size blocks to a callback.
// It implements Source.
type Capture struct {
	dev          InputDevice
	blockSamples int
	onError      func(error)
	log          *slog.Logger

	mu        sync.Mutex
	begun     bool
	recording bool
	stop      chan struct{}
	done      chan struct{}
}

func NewCapture(dev InputDevice, opts CaptureOptions) *Capture {
	if opts.BlockDuration <= 0 {
		opts.BlockDuration = DefaultBlockDuration
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Capture{
		dev:          dev,
		blockSamples: max(SamplesFor(opts.BlockDuration), 1),
		onError:      opts.OnError,
		log:          opts.Logger,
	}
}

// BlockSamples returns the number of samples in every emitted block.
func (c *Capture) BlockSamples() int { return c.blockSamples }

// Begin acquires the input device. Calling Begin on a begun capture is a no-op.
func (c *Capture) Begin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.begun {
		return nil
	}
	if err := c.dev.Open(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	c.begun = true
	return nil
}

// Record starts emitting blocks to onBlock until End is called. onBlock runs
// on the capture goroutine and must not block.
func (c *Capture) Record(onBlock func(Block)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.begun {
		return fmt.Errorf("%w: capture not begun", ErrDeviceUnavailable)
	}
	if c.recording {
		return ErrAlreadyRecording
	}
	c.recording = true
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.loop(onBlock, c.stop, c.done)
	return nil
}

// End stops recording and releases the device. It is safe to call when not
// recording or more than once. No block is delivered after End returns.
func (c *Capture) End() error {
	c.mu.Lock()
	if !c.begun {
		c.mu.Unlock()
		return nil
	}
	c.begun = false
	c.recording = false
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	if stop != nil {
		close(stop)
	}
	c.mu.Unlock()

	err := c.dev.Close()
	if done != nil {
		<-done
	}
	if err != nil {
		return fmt.Errorf("close capture device: %w", err)
	}
	return nil
}

func (c *Capture) loop(onBlock func(Block), stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		block := make(Block, c.blockSamples)
		if err := c.fill(block); err != nil {
			select {
			case <-stop:
				return
			default:
			}
			c.log.Error("capture device read failed", "error", err)
			if c.onError != nil {
				c.onError(fmt.Errorf("%w: %w", ErrDeviceUnavailable, err))
			}
			return
		}
		select {
		case <-stop:
			return
		default:
		}
		onBlock(block)
	}
}

func (c *Capture) fill(block Block) error {
	empty := 0
	for off := 0; off < len(block); {
		n, err := c.dev.Read(block[off:])
		if err != nil {
			return err
		}
		if n == 0 {
			empty++
			if empty >= maxEmptyReads {
				return io.ErrNoProgress
			}
			time.Sleep(time.Millisecond)
			continue
		}
		empty = 0
		off += n
	}
	return nil
}
