// Package audio holds the PCM16 block model, microphone capture and the
// interruptible playback queue used by voice sessions.
package audio

import (
	"context"
	"errors"
)

var (
	// ErrDeviceUnavailable is returned when an input or output device cannot
	// be acquired (missing hardware, permission denied, bad configuration).
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	// ErrNotConnected is returned when a sink is used before Connect or after End.
	ErrNotConnected = errors.New("audio sink not connected")
	// ErrAlreadyRecording is returned when Record is called twice without End.
	ErrAlreadyRecording = errors.New("capture already recording")
)

// Source produces microphone blocks. It maps the begin/record/end lifecycle
// of a capture device.
type Source interface {
	Begin(ctx context.Context) error
	Record(onBlock func(Block)) error
	End() error
}

// Sink plays synthesized audio grouped by item id and supports barge-in.
type Sink interface {
	Connect(ctx context.Context) error
	Enqueue(itemID string, b Block) error
	Interrupt() TrackOffset
	End() error
}

// TrackOffset reports how far the interrupted item had played.
type TrackOffset struct {
	ItemID  string
	Samples int
}

// InputDevice is a raw capture backend. Read fills buf with samples and
// blocks until at least one sample is available.
type InputDevice interface {
	Open(ctx context.Context) error
	Read(buf []int16) (int, error)
	Close() error
}

// OutputDevice is a raw playback backend. Write blocks roughly for the
// playback duration of the samples it is given.
type OutputDevice interface {
	Open(ctx context.Context) error
	Write(samples []int16) error
	Close() error
}

// Flusher is implemented by output devices that can drop audio already
// handed to the hardware.
type Flusher interface {
	Flush() error
}
