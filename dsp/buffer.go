// Package dsp holds the sample-domain primitives the session pipeline
// is built from: buffers, RMS gain normalization, beat-quantized
// offset shifting, and stem summation.
package dsp

// Buffer is interleaved multi-channel sample data at a fixed rate.
type Buffer struct {
	SampleRate int
	Channels   int
	Samples    []float64
}

// Frames returns the number of sample frames (samples per channel).
func (b Buffer) Frames() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Duration returns the buffer length in seconds.
func (b Buffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// Clone returns a deep copy of the buffer.
func (b Buffer) Clone() Buffer {
	samples := make([]float64, len(b.Samples))
	copy(samples, b.Samples)
	return Buffer{SampleRate: b.SampleRate, Channels: b.Channels, Samples: samples}
}
