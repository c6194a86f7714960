package stems

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"stem-sync/dsp"
	"stem-sync/wav"
	"strings"
	"time"
)

// FFmpegPitchShifter transposes through ffmpeg's resample trick:
// asetrate scales pitch and tempo together, aresample restores the
// original rate, and a compensating atempo undoes the tempo change.
type FFmpegPitchShifter struct {
	TempDir string // empty means os.TempDir()
}

func (p *FFmpegPitchShifter) PitchShift(ctx context.Context, buf dsp.Buffer, semitones int) (dsp.Buffer, error) {
	if semitones == 0 {
		return buf.Clone(), nil
	}

	factor := math.Pow(2, float64(semitones)/12.0)
	filter := fmt.Sprintf(
		"asetrate=%d,aresample=%d,atempo=%.8f",
		int(math.Round(float64(buf.SampleRate)*factor)),
		buf.SampleRate,
		1.0/factor,
	)
	return runFilter(ctx, buf, filter, "pitch_shift", p.TempDir)
}

// FFmpegTimeStretcher changes tempo with chained atempo filters.
type FFmpegTimeStretcher struct {
	TempDir string
}

func (t *FFmpegTimeStretcher) TimeStretch(ctx context.Context, buf dsp.Buffer, rate float64) (dsp.Buffer, error) {
	if rate <= 0 {
		return dsp.Buffer{}, &TransformError{Op: "time_stretch", Detail: fmt.Sprintf("rate must be positive, got %v", rate)}
	}
	if rate == 1.0 {
		return buf.Clone(), nil
	}

	filter := strings.Join(atempoChain(rate), ",")
	return runFilter(ctx, buf, filter, "time_stretch", t.TempDir)
}

// atempoChain splits a tempo rate into atempo factors, each inside
// ffmpeg's accepted [0.5, 2.0] window.
func atempoChain(rate float64) []string {
	var parts []string
	for rate > 2.0 {
		parts = append(parts, "atempo=2.0")
		rate /= 2.0
	}
	for rate < 0.5 {
		parts = append(parts, "atempo=0.5")
		rate /= 0.5
	}
	return append(parts, fmt.Sprintf("atempo=%.8f", rate))
}

// runFilter round-trips a buffer through temp WAV files and one
// ffmpeg audio-filter invocation.
func runFilter(ctx context.Context, buf dsp.Buffer, filter, op, tempDir string) (dsp.Buffer, error) {
	if tempDir == "" {
		tempDir = os.TempDir()
	}

	stamp := time.Now().UnixNano()
	inPath := filepath.Join(tempDir, fmt.Sprintf("%s_in_%d.wav", op, stamp))
	outPath := filepath.Join(tempDir, fmt.Sprintf("%s_out_%d.wav", op, stamp))
	defer os.Remove(inPath)
	defer os.Remove(outPath)

	if err := wav.WriteWavFile(inPath, buf.Samples, buf.SampleRate, buf.Channels); err != nil {
		return dsp.Buffer{}, &TransformError{Op: op, Detail: "writing temp input", Cause: err}
	}

	cmd := exec.CommandContext(
		ctx, "ffmpeg",
		"-y",
		"-i", inPath,
		"-filter:a", filter,
		"-c:a", "pcm_s16le",
		"-ar", fmt.Sprint(buf.SampleRate),
		"-ac", fmt.Sprint(buf.Channels),
		outPath,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return dsp.Buffer{}, &TransformError{Op: op, Detail: tail(string(output), 400), Cause: err}
	}

	info, err := wav.ReadWavInfo(outPath)
	if err != nil {
		return dsp.Buffer{}, &TransformError{Op: op, Detail: "reading filter output", Cause: err}
	}

	return dsp.Buffer{
		SampleRate: info.SampleRate,
		Channels:   info.Channels,
		Samples:    info.Samples,
	}, nil
}
