//go:build !portaudio

package portaudio

import (
	"context"
	"errors"
	"fmt"

	"github.com/ent0n29/voicelink/internal/audio"
)

// Available reports whether this binary was built with PortAudio support.
const Available = false

var errNotBuilt = errors.New("built without portaudio support (rebuild with -tags portaudio)")

// Input is a placeholder that always fails to open.
type Input struct{}

func NewInput(int) *Input { return &Input{} }

func (*Input) Open(context.Context) error {
	return fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, errNotBuilt)
}
func (*Input) Read([]int16) (int, error) { return 0, audio.ErrDeviceClosed }
func (*Input) Close() error              { return nil }

// Output is a placeholder that always fails to open.
type Output struct{}

func NewOutput(int) *Output { return &Output{} }

func (*Output) Open(context.Context) error {
	return fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, errNotBuilt)
}
func (*Output) Write([]int16) error { return audio.ErrDeviceClosed }
func (*Output) Close() error        { return nil }
