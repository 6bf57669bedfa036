package stubserver

import (
	"time"

	"github.com/ent0n29/voicelink/internal/audio"
)

type vadEvent int

const (
	vadNone vadEvent = iota
	vadSpeechStart
	vadSpeechEnd
)

// vad is an RMS gate with a silence hold. It accumulates the utterance
// between speech start and speech end.
type vad struct {
	thresholdDB float64
	hold        time.Duration
	maxSamples  int

	speaking  bool
	silentFor time.Duration
	utterance audio.Block
}

func newVAD(thresholdDB float64, hold, maxUtterance time.Duration) *vad {
	return &vad{
		thresholdDB: thresholdDB,
		hold:        hold,
		maxSamples:  audio.SamplesFor(maxUtterance),
	}
}

func (v *vad) step(b audio.Block) vadEvent {
	loud := audio.MeasureLevel(b).RMS >= v.thresholdDB
	if !v.speaking {
		if !loud {
			return vadNone
		}
		v.speaking = true
		v.silentFor = 0
		v.utterance = append(v.utterance[:0], b...)
		return vadSpeechStart
	}

	if len(v.utterance)+len(b) <= v.maxSamples {
		v.utterance = append(v.utterance, b...)
	}
	if loud {
		v.silentFor = 0
		return vadNone
	}
	v.silentFor += b.Duration()
	if v.silentFor < v.hold {
		return vadNone
	}
	v.speaking = false
	return vadSpeechEnd
}

// take returns the finished utterance and resets the buffer.
func (v *vad) take() audio.Block {
	out := v.utterance
	v.utterance = nil
	return out
}
