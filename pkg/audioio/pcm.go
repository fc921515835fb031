package audioio

import (
	"encoding/binary"
	"math"

	"gonum.org/v1/gonum/floats"
)

// MaxLevel is the top of the loudness scale. It matches the byte output of
// a browser AnalyserNode, which dashboards compare against.
const MaxLevel = 255

// Level maps the RMS of samples onto 0..MaxLevel, where a full-scale
// square wave reads MaxLevel.
func Level(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	x := make([]float64, len(samples))
	for i, s := range samples {
		x[i] = float64(s) / 32768
	}
	rms := floats.Norm(x, 2) / math.Sqrt(float64(len(x)))
	return math.Min(MaxLevel, MaxLevel*rms)
}

// BytesToSamples decodes little-endian PCM16. A trailing odd byte is
// ignored.
func BytesToSamples(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return out
}

// SamplesToBytes encodes little-endian PCM16.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, 0, 2*len(samples))
	for _, s := range samples {
		out = binary.LittleEndian.AppendUint16(out, uint16(s))
	}
	return out
}

// StereoToMono averages each interleaved left/right pair.
func StereoToMono(samples []int16) []int16 {
	out := make([]int16, len(samples)/2)
	for i := range out {
		l, r := int32(samples[2*i]), int32(samples[2*i+1])
		out[i] = int16((l + r) / 2)
	}
	return out
}

// Resample converts mono samples between rates by linear interpolation,
// which is adequate for speech.
func Resample(samples []int16, from, to int) []int16 {
	if from == to || from <= 0 || to <= 0 || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(to) / int64(from))
	out := make([]int16, n)
	last := len(samples) - 1
	step := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = samples[last]
			continue
		}
		a, b := float64(samples[j]), float64(samples[j+1])
		out[i] = int16(math.Round(a + (pos-float64(j))*(b-a)))
	}
	return out
}
