package dsp

import (
	"fmt"
	"math"
)

// Shift nudges a buffer in time by a beat-quantized offset without
// resampling. offsetFrames = round(offsetBeats * (60/bpm) * sampleRate).
// The output has the same length as the input: a positive offset delays
// (zero-fill at the front, trailing content dropped), a negative offset
// advances (leading content dropped, zero-fill at the tail), and zero
// returns an unmodified copy. Content pushed past either end is lost,
// never wrapped. bpm must be positive and finite; a NaN or infinite
// offset is an error.
func Shift(buf Buffer, offsetBeats, bpm float64) (Buffer, error) {
	if math.IsNaN(bpm) || math.IsInf(bpm, 0) || bpm <= 0 {
		return Buffer{}, fmt.Errorf("bpm must be positive and finite, got %v", bpm)
	}
	if math.IsNaN(offsetBeats) || math.IsInf(offsetBeats, 0) {
		return Buffer{}, fmt.Errorf("offset beats must be finite, got %v", offsetBeats)
	}
	if buf.Channels <= 0 {
		return Buffer{}, fmt.Errorf("buffer has no channels")
	}

	out := Buffer{
		SampleRate: buf.SampleRate,
		Channels:   buf.Channels,
		Samples:    make([]float64, len(buf.Samples)),
	}

	if offsetBeats == 0 {
		copy(out.Samples, buf.Samples)
		return out, nil
	}

	beatDuration := 60.0 / bpm
	rounded := math.Round(offsetBeats * beatDuration * float64(buf.SampleRate))

	// bounds-check in float space; converting a huge offset to int first
	// would overflow
	frames := buf.Frames()
	if math.Abs(rounded) >= float64(frames) {
		// everything pushed past the end; all zeros
		return out, nil
	}

	offsetFrames := int(rounded)
	if offsetFrames == 0 {
		copy(out.Samples, buf.Samples)
		return out, nil
	}

	shift := offsetFrames
	if shift < 0 {
		shift = -shift
	}

	n := shift * buf.Channels
	if offsetFrames > 0 {
		copy(out.Samples[n:], buf.Samples[:len(buf.Samples)-n])
	} else {
		copy(out.Samples[:len(buf.Samples)-n], buf.Samples[n:])
	}
	return out, nil
}
