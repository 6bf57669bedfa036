package audio

import "math"

const (
	// MinDB is the floor reported for digital silence.
	MinDB = -60.0
	// maxSampleValue is full scale for signed 16-bit audio.
	maxSampleValue = 32768.0
)

// Level is the loudness of one block of mono audio.
type Level struct {
	RMS  float64 // dBFS
	Peak float64 // dBFS
}

// MeasureLevel computes RMS and peak levels of a mono block in dBFS.
func MeasureLevel(b Block) Level {
	if len(b) == 0 {
		return Level{RMS: MinDB, Peak: MinDB}
	}
	var sumSquares, peak float64
	for _, s := range b {
		v := float64(s)
		sumSquares += v * v
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	rms := math.Sqrt(sumSquares / float64(len(b)))
	return Level{RMS: toDB(rms), Peak: toDB(peak)}
}

func toDB(v float64) float64 {
	if v <= 0 {
		return MinDB
	}
	db := 20 * math.Log10(v/maxSampleValue)
	return max(db, MinDB)
}
