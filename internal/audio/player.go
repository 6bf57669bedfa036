package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultFrameDuration is how much audio the player hands to the output
// device per write. Smaller frames make interrupts land sooner.
const DefaultFrameDuration = 20 * time.Millisecond

// PlayerOptions tunes a Player.
type PlayerOptions struct {
	FrameDuration time.Duration
	// FrameSamples overrides FrameDuration when positive.
	FrameSamples int
	// OnError is called once per Connect when the output device fails a
	// write. It runs on the play loop, which End waits for.
	OnError func(error)
	Logger  *slog.Logger
}

type chunk struct {
	itemID  string
	samples Block
	off     int
}

type inflight struct {
	itemID string
	n      int
}

// Player buffers synthesized audio tagged by item id and plays it through an
// OutputDevice in arrival order. It implements Sink.
//
// All chunks share one arrival-ordered queue, so chunks of one item are never
// reordered and items play in the order their audio arrived.
type Player struct {
	out       OutputDevice
	frameSize int
	onError   func(error)
	log       *slog.Logger

	mu        sync.Mutex
	wake      *sync.Cond
	connected bool
	queue     []chunk
	current   inflight
	gen       uint64
	played    map[string]int
	lastItem  string
	failed    bool
	loopDone  chan struct{}
}

func NewPlayer(out OutputDevice, opts PlayerOptions) *Player {
	frame := opts.FrameSamples
	if frame <= 0 {
		if opts.FrameDuration <= 0 {
			opts.FrameDuration = DefaultFrameDuration
		}
		frame = max(SamplesFor(opts.FrameDuration), 1)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	p := &Player{
		out:       out,
		frameSize: frame,
		onError:   opts.OnError,
		log:       opts.Logger,
		played:    make(map[string]int),
	}
	p.wake = sync.NewCond(&p.mu)
	return p
}

// Connect opens the output device and starts the play loop.
func (p *Player) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connected {
		return nil
	}
	if err := p.out.Open(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	p.connected = true
	p.queue = nil
	p.current = inflight{}
	p.played = make(map[string]int)
	p.lastItem = ""
	p.failed = false
	p.loopDone = make(chan struct{})
	go p.loop(p.loopDone)
	return nil
}

// Enqueue appends b to the tail of itemID's audio. Empty blocks are ignored.
func (p *Player) Enqueue(itemID string, b Block) error {
	if len(b) == 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return ErrNotConnected
	}
	p.queue = append(p.queue, chunk{itemID: itemID, samples: b})
	p.wake.Signal()
	return nil
}

// Interrupt discards every buffered sample of every item, including the frame
// currently being written, and reports how far the interrupted item played.
// Enqueue calls that return after Interrupt are never affected by it.
func (p *Player) Interrupt() TrackOffset {
	p.mu.Lock()
	offset := TrackOffset{ItemID: p.lastItem, Samples: p.played[p.lastItem]}
	hadAudio := len(p.queue) > 0 || p.current.n > 0
	p.queue = nil
	p.current = inflight{}
	p.gen++
	connected := p.connected
	p.mu.Unlock()

	if !hadAudio {
		return offset
	}
	if f, ok := p.out.(Flusher); ok && connected {
		if err := f.Flush(); err != nil {
			p.log.Warn("flush output device failed", "error", err)
		}
	}
	return offset
}

// End stops playback, drops anything still queued and releases the device.
func (p *Player) End() error {
	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return nil
	}
	p.connected = false
	p.queue = nil
	p.current = inflight{}
	p.gen++
	done := p.loopDone
	p.wake.Broadcast()
	p.mu.Unlock()

	<-done
	if err := p.out.Close(); err != nil {
		return fmt.Errorf("close playback device: %w", err)
	}
	return nil
}

// Buffered returns the number of unplayed samples queued for itemID.
func (p *Player) Buffered(itemID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	if p.current.itemID == itemID {
		n += p.current.n
	}
	for _, c := range p.queue {
		if c.itemID == itemID {
			n += len(c.samples) - c.off
		}
	}
	return n
}

// BufferedTotal returns the number of unplayed samples across all items.
func (p *Player) BufferedTotal() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.current.n
	for _, c := range p.queue {
		n += len(c.samples) - c.off
	}
	return n
}

// Played returns how many samples of itemID reached the output device.
func (p *Player) Played(itemID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.played[itemID]
}

func (p *Player) loop(done chan<- struct{}) {
	defer close(done)
	for {
		p.mu.Lock()
		for p.connected && len(p.queue) == 0 {
			p.wake.Wait()
		}
		if !p.connected {
			p.mu.Unlock()
			return
		}
		itemID, frame := p.nextFrameLocked()
		gen := p.gen
		p.current = inflight{itemID: itemID, n: len(frame)}
		p.lastItem = itemID
		p.mu.Unlock()

		err := p.out.Write(frame)

		p.mu.Lock()
		if p.gen == gen {
			p.current = inflight{}
			if err == nil {
				p.played[itemID] += len(frame)
			}
		}
		report := err != nil && p.connected && !p.failed
		if report {
			p.failed = true
		}
		p.mu.Unlock()
		if err != nil {
			p.log.Warn("playback write failed", "item_id", itemID, "error", err)
		}
		if report && p.onError != nil {
			p.onError(fmt.Errorf("playback write: %w", err))
		}
	}
}

// nextFrameLocked pops up to frameSize samples of the head chunk. Frames never
// span chunks, so a frame always belongs to exactly one item.
func (p *Player) nextFrameLocked() (string, Block) {
	head := &p.queue[0]
	end := min(head.off+p.frameSize, len(head.samples))
	frame := head.samples[head.off:end]
	itemID := head.itemID
	head.off = end
	if head.off >= len(head.samples) {
		p.queue[0] = chunk{}
		p.queue = p.queue[1:]
	}
	return itemID, frame
}
