// Package protocol defines the realtime voice wire format: JSON control
// frames from the server and raw PCM16 audio frames from the client.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ent0n29/voicelink/internal/audio"
)

// MessageType identifies server payload variants.
type MessageType string

const (
	TypeConnected       MessageType = "connected"
	TypeAudioDelta      MessageType = "response.audio.delta"
	TypeSpeakingStarted MessageType = "speaking_started"
	TypeNewMessage      MessageType = "new_message"
	TypeFailure         MessageType = "failure"
)

var (
	// ErrMalformedFrame is returned for frames that are not valid JSON or
	// carry an undecodable audio payload.
	ErrMalformedFrame = errors.New("malformed realtime frame")
	// ErrUnsupportedType is returned by EncodeServerEvent for Unknown events.
	ErrUnsupportedType = errors.New("unsupported message type")
)

// ServerEvent is one decoded inbound control frame. The set of variants is
// closed; anything unrecognised decodes to Unknown.
type ServerEvent interface {
	serverEvent()
}

// Connected acknowledges the realtime handshake.
type Connected struct{}

// AudioDelta is a chunk of synthesized audio for playback item ItemID.
type AudioDelta struct {
	ItemID string
	PCM    audio.Block
}

// Speaking is the server's voice activity signal. IsSpeaking true means the
// user started talking and playback must be cut.
type Speaking struct {
	IsSpeaking bool
}

// NewMessage signals that conversation state changed elsewhere.
type NewMessage struct{}

// Failure is a terminal server error.
type Failure struct {
	Reason string
}

// Unknown is any frame whose type this client does not understand.
type Unknown struct {
	Type MessageType
}

func (Connected) serverEvent()  {}
func (AudioDelta) serverEvent() {}
func (Speaking) serverEvent()   {}
func (NewMessage) serverEvent() {}
func (Failure) serverEvent()    {}
func (Unknown) serverEvent()    {}

// Envelope carries the fields needed to pick a variant.
type Envelope struct {
	Type       MessageType `json:"type"`
	IsSpeaking *bool       `json:"is_speaking,omitempty"`
}

type ConnectedMessage struct {
	Type MessageType `json:"type"`
}

type AudioDeltaMessage struct {
	Type   MessageType `json:"type"`
	ItemID string      `json:"item_id"`
	Delta  string      `json:"delta"`
}

type SpeakingMessage struct {
	Type       MessageType `json:"type,omitempty"`
	IsSpeaking bool        `json:"is_speaking"`
}

type NewMessageMessage struct {
	Type MessageType `json:"type"`
}

type FailureMessage struct {
	Type   MessageType `json:"type"`
	Reason string      `json:"reason"`
}

// ParseServerEvent decodes one inbound text frame. is_speaking=true always
// wins; is_speaking=false only counts on an untyped or speaking frame, so a
// typed frame that merely carries the flag keeps its own meaning.
func ParseServerEvent(raw []byte) (ServerEvent, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: invalid envelope: %w", ErrMalformedFrame, err)
	}
	if env.IsSpeaking != nil && (*env.IsSpeaking || env.Type == "" || env.Type == TypeSpeakingStarted) {
		return Speaking{IsSpeaking: *env.IsSpeaking}, nil
	}

	switch env.Type {
	case TypeConnected:
		return Connected{}, nil
	case TypeAudioDelta:
		var msg AudioDeltaMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
		}
		pcm, err := DecodeDelta(msg.Delta)
		if err != nil {
			return nil, err
		}
		return AudioDelta{ItemID: msg.ItemID, PCM: pcm}, nil
	case TypeNewMessage:
		return NewMessage{}, nil
	case TypeFailure:
		var msg FailureMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
		}
		return Failure{Reason: msg.Reason}, nil
	default:
		return Unknown{Type: env.Type}, nil
	}
}

// DecodeDelta turns a base64 audio delta into samples.
func DecodeDelta(delta string) (audio.Block, error) {
	raw, err := base64.StdEncoding.DecodeString(delta)
	if err != nil {
		return nil, fmt.Errorf("%w: audio delta: %w", ErrMalformedFrame, err)
	}
	pcm, err := audio.DecodePCM16LE(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: audio delta: %w", ErrMalformedFrame, err)
	}
	return pcm, nil
}

// EncodeDelta base64-encodes samples as little-endian PCM16.
func EncodeDelta(pcm audio.Block) string {
	return base64.StdEncoding.EncodeToString(pcm.Bytes())
}

// EncodeServerEvent renders ev in the wire shape a realtime server sends.
func EncodeServerEvent(ev ServerEvent) ([]byte, error) {
	switch ev := ev.(type) {
	case Connected:
		return json.Marshal(ConnectedMessage{Type: TypeConnected})
	case AudioDelta:
		return json.Marshal(AudioDeltaMessage{Type: TypeAudioDelta, ItemID: ev.ItemID, Delta: EncodeDelta(ev.PCM)})
	case Speaking:
		msg := SpeakingMessage{IsSpeaking: ev.IsSpeaking}
		if ev.IsSpeaking {
			msg.Type = TypeSpeakingStarted
		}
		return json.Marshal(msg)
	case NewMessage:
		return json.Marshal(NewMessageMessage{Type: TypeNewMessage})
	case Failure:
		return json.Marshal(FailureMessage{Type: TypeFailure, Reason: ev.Reason})
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, ev)
	}
}

// EncodeAudioFrame is the outbound binary frame for one capture block.
func EncodeAudioFrame(b audio.Block) []byte {
	return b.Bytes()
}

// DecodeAudioFrame parses an outbound binary frame on the server side.
func DecodeAudioFrame(frame []byte) (audio.Block, error) {
	b, err := audio.DecodePCM16LE(frame)
	if err != nil {
		return nil, fmt.Errorf("%w: audio frame: %w", ErrMalformedFrame, err)
	}
	return b, nil
}
