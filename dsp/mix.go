package dsp

import "fmt"

// SampleRateMismatchError reports an attempt to sum buffers recorded
// at different sample rates.
type SampleRateMismatchError struct {
	RateA int
	RateB int
}

func (e *SampleRateMismatchError) Error() string {
	return fmt.Sprintf("sample rate mismatch: %d vs %d", e.RateA, e.RateB)
}

// Mix sums two stems sample-for-sample after truncating both to the
// shorter frame count. No clipping or limiting is applied; level
// management is the caller's job.
func Mix(a, b Buffer) (Buffer, error) {
	if a.SampleRate != b.SampleRate {
		return Buffer{}, &SampleRateMismatchError{RateA: a.SampleRate, RateB: b.SampleRate}
	}
	if a.Channels != b.Channels {
		return Buffer{}, fmt.Errorf("channel count mismatch: %d vs %d", a.Channels, b.Channels)
	}

	frames := a.Frames()
	if f := b.Frames(); f < frames {
		frames = f
	}

	n := frames * a.Channels
	out := Buffer{
		SampleRate: a.SampleRate,
		Channels:   a.Channels,
		Samples:    make([]float64, n),
	}
	for i := 0; i < n; i++ {
		out.Samples[i] = a.Samples[i] + b.Samples[i]
	}
	return out, nil
}
