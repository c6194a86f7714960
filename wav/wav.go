package wav

import (
	"fmt"
	"os"

	"github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"
)

// WavInfo describes a decoded WAV file.
type WavInfo struct {
	SampleRate int
	Channels   int
	Duration   float64
	Samples    []float64 // interleaved, scaled to [-1, 1]
}

// ReadWavInfo decodes a PCM WAV file into float64 samples.
func ReadWavInfo(filePath string) (*WavInfo, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open wav file: %v", err)
	}
	defer f.Close()

	decoder := gowav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("invalid wav file: %s", filePath)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to decode wav data: %v", err)
	}
	if buf == nil || buf.Format == nil || buf.Format.NumChannels < 1 {
		return nil, fmt.Errorf("wav file has no audio data: %s", filePath)
	}

	bitDepth := int(decoder.BitDepth)
	if bitDepth == 0 {
		bitDepth = 16
	}
	scale := float64(int(1) << (bitDepth - 1))

	samples := make([]float64, len(buf.Data))
	for i, s := range buf.Data {
		samples[i] = float64(s) / scale
	}

	info := &WavInfo{
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
		Samples:    samples,
	}
	if info.SampleRate > 0 {
		info.Duration = float64(len(samples)/info.Channels) / float64(info.SampleRate)
	}
	return info, nil
}

// WriteWavFile encodes interleaved float64 samples as 16-bit PCM.
// Samples outside [-1, 1] are clamped.
func WriteWavFile(filePath string, samples []float64, sampleRate, channels int) error {
	if sampleRate <= 0 || channels < 1 {
		return fmt.Errorf("invalid wav format: rate=%d channels=%d", sampleRate, channels)
	}

	f, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create wav file: %v", err)
	}
	defer f.Close()

	encoder := gowav.NewEncoder(f, sampleRate, 16, channels, 1)

	data := make([]int, len(samples))
	for i, s := range samples {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		v := int(s * 32767)
		data[i] = v
	}

	buf := &audio.IntBuffer{
		Format: &audio.Format{
			SampleRate:  sampleRate,
			NumChannels: channels,
		},
		Data:           data,
		SourceBitDepth: 16,
	}

	if err := encoder.Write(buf); err != nil {
		encoder.Close()
		return fmt.Errorf("failed to write wav data: %v", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("failed to finalize wav file: %v", err)
	}
	return nil
}
