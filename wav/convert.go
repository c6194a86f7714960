package wav

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"stem-sync/utils"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// ConvertToWAV transcodes any audio file ffmpeg can read into a 16-bit
// PCM WAV at the given rate and channel count.
func ConvertToWAV(inputPath, outputPath string, sampleRate, channels int) error {
	if _, err := os.Stat(inputPath); err != nil {
		return fmt.Errorf("input file does not exist: %v", err)
	}

	// ffmpeg can't edit files in place; write to a temporary name in
	// the destination directory and rename over the target.
	tmpFile := filepath.Join(filepath.Dir(outputPath), "tmp_"+filepath.Base(outputPath))
	defer os.Remove(tmpFile)

	cmd := exec.Command(
		"ffmpeg",
		"-y",
		"-i", inputPath,
		"-c", "pcm_s16le",
		"-ar", fmt.Sprint(sampleRate),
		"-ac", fmt.Sprint(channels),
		tmpFile,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to convert to WAV: %v, output %v", err, string(output))
	}

	if err := utils.MoveFile(tmpFile, outputPath); err != nil {
		return fmt.Errorf("failed to rename temporary file to output file: %v", err)
	}
	return nil
}

// ReformatWAV converts a WAV file in place to the given sample rate and
// channel count, returning the path of the reformatted copy.
func ReformatWAV(inputPath string, sampleRate, channels int) (string, error) {
	if channels < 1 || channels > 2 {
		channels = 1
	}

	fileExt := filepath.Ext(inputPath)
	outputFile := strings.TrimSuffix(inputPath, fileExt) + "rfm.wav"

	cmd := exec.Command(
		"ffmpeg",
		"-y",
		"-i", inputPath,
		"-c", "pcm_s16le",
		"-ar", fmt.Sprint(sampleRate),
		"-ac", fmt.Sprint(channels),
		outputFile,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("failed to convert to WAV: %v, output %v", err, string(output))
	}

	return outputFile, nil
}

// GetAudioDuration returns the duration in seconds of any audio file
// by calling ffprobe.
func GetAudioDuration(inputPath string) (float64, error) {
	cmd := exec.Command(
		"ffprobe",
		"-v", "quiet",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		inputPath,
	)

	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration query failed: %v", err)
	}

	return strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
}

// Metadata is the subset of ffprobe output the pipeline cares about.
type Metadata struct {
	Duration   float64
	SampleRate int
	Channels   int
	Tags       map[string]string
}

// GetMetadata probes an audio file with ffprobe's JSON output.
func GetMetadata(inputPath string) (*Metadata, error) {
	cmd := exec.Command(
		"ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		inputPath,
	)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed for %s: %v", inputPath, err)
	}

	meta := &Metadata{
		Duration:   gjson.GetBytes(out, "format.duration").Float(),
		SampleRate: int(gjson.GetBytes(out, "streams.0.sample_rate").Int()),
		Channels:   int(gjson.GetBytes(out, "streams.0.channels").Int()),
		Tags:       map[string]string{},
	}

	gjson.GetBytes(out, "format.tags").ForEach(func(key, value gjson.Result) bool {
		meta.Tags[strings.ToLower(key.String())] = value.String()
		return true
	})

	return meta, nil
}
