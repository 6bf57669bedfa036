package audio

import (
	"encoding/binary"
	"errors"
	"time"
)

const (
	// SampleRate is the fixed capture and playback rate for voice sessions.
	SampleRate = 24000
	// Channels is the channel count on the wire (mono).
	Channels = 1
	// BytesPerSample is the width of one PCM16 sample.
	BytesPerSample = 2
)

// ErrOddPCMLength is returned when a PCM16 payload has a trailing half sample.
var ErrOddPCMLength = errors.New("pcm16 payload has odd byte length")

// Block is a contiguous run of mono PCM16 samples at SampleRate.
// A Block is immutable once produced: producers hand it off and nobody
// writes to the backing array afterwards.
type Block []int16

// Len returns the number of samples in the block.
func (b Block) Len() int { return len(b) }

// Duration returns the playback length of the block at SampleRate.
func (b Block) Duration() time.Duration {
	return SamplesDuration(len(b))
}

// Bytes encodes the block as little-endian PCM16.
func (b Block) Bytes() []byte {
	return EncodePCM16LE(b)
}

// SamplesDuration converts a sample count to wall time at SampleRate.
func SamplesDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / SampleRate
}

// SamplesFor returns how many samples cover d at SampleRate.
func SamplesFor(d time.Duration) int {
	return int(d * SampleRate / time.Second)
}

// EncodePCM16LE writes samples as little-endian 16-bit PCM.
func EncodePCM16LE(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// DecodePCM16LE reinterprets little-endian 16-bit PCM bytes as samples.
func DecodePCM16LE(pcm []byte) (Block, error) {
	if len(pcm)%BytesPerSample != 0 {
		return nil, ErrOddPCMLength
	}
	out := make(Block, len(pcm)/BytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out, nil
}
