//go:build windows

package audio

import "strings"

// DirectShow has no safe default device, so one must be configured.
func platformCapture() captureCommand {
	return captureCommand{
		command:    "ffmpeg",
		usesFFmpeg: true,
		buildArgs: func(device string) []string {
			if !strings.HasPrefix(device, "audio=") {
				device = "audio=" + device
			}
			return ffmpegCaptureArgs("dshow", device)
		},
	}
}
