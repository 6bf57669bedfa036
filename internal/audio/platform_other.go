//go:build !linux && !darwin && !windows

package audio

func platformCapture() captureCommand {
	return captureCommand{
		command:    "ffmpeg",
		usesFFmpeg: true,
		buildArgs: func(device string) []string {
			return ffmpegCaptureArgs("pulse", device)
		},
	}
}
