//go:build darwin

package audio

func platformCapture() captureCommand {
	return captureCommand{
		command:       "ffmpeg",
		defaultDevice: ":0",
		usesFFmpeg:    true,
		buildArgs: func(device string) []string {
			return ffmpegCaptureArgs("avfoundation", device)
		},
	}
}
