package session

import "stem-sync/wav"

// Transcoder conforms input audio to the pipeline's canonical WAV
// format. Convert decodes any container ffmpeg understands into a WAV
// at outputPath; Conform rewrites an existing file next to itself and
// returns the new path.
type Transcoder interface {
	Convert(inputPath, outputPath string, sampleRate, channels int) error
	Conform(inputPath string, sampleRate, channels int) (string, error)
}

// WavTranscoder is the ffmpeg-backed Transcoder used outside tests.
type WavTranscoder struct{}

func (WavTranscoder) Convert(inputPath, outputPath string, sampleRate, channels int) error {
	return wav.ConvertToWAV(inputPath, outputPath, sampleRate, channels)
}

func (WavTranscoder) Conform(inputPath string, sampleRate, channels int) (string, error) {
	return wav.ReformatWAV(inputPath, sampleRate, channels)
}
