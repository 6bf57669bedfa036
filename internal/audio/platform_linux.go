//go:build linux

package audio

import "strconv"

func platformCapture() captureCommand {
	return captureCommand{
		command:       "arecord",
		defaultDevice: "default",
		buildArgs:     buildLinuxArgs,
	}
}

func buildLinuxArgs(device string) []string {
	return []string{
		"-D", device,
		"-f", "S16_LE",
		"-r", strconv.Itoa(SampleRate),
		"-c", strconv.Itoa(Channels),
		"-t", "raw",
		"-q",
		"-",
	}
}
