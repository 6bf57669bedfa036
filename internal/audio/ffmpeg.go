package audio

import "strconv"

// ffmpegCaptureArgs builds an ffmpeg command line that captures from an input
// format and writes mono PCM16LE at SampleRate to stdout.
func ffmpegCaptureArgs(inputFormat, device string) []string {
	return []string{
		"-f", inputFormat,
		"-i", device,
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-vn",
		"-f", "s16le",
		"-ac", strconv.Itoa(Channels),
		"-ar", strconv.Itoa(SampleRate),
		"pipe:1",
	}
}
