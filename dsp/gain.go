package dsp

import "math"

// rmsEpsilon keeps the normalization gain finite on silent input.
const rmsEpsilon = 1e-9

// RMS returns the root-mean-square level over all samples.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// DbToGain converts a decibel level to a linear amplitude factor.
func DbToGain(db float64) float64 {
	return math.Pow(10, db/20)
}

// Normalize scales a copy of the buffer so its RMS level lands on
// targetDb: gain = 10^(targetDb/20) / (rms + eps). Applying it twice
// with the same target changes nothing beyond float rounding.
func Normalize(buf Buffer, targetDb float64) Buffer {
	gain := DbToGain(targetDb) / (RMS(buf.Samples) + rmsEpsilon)

	out := buf.Clone()
	for i := range out.Samples {
		out.Samples[i] *= gain
	}
	return out
}
