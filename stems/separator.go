package stems

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"stem-sync/utils"
	"strings"
)

// Stem names produced by separation.
const (
	StemVocals       = "vocals"
	StemInstrumental = "instrumental"
)

// StemFilePaths maps stem names to the files holding them.
type StemFilePaths = map[string]string

// SeparationError reports a stem-separation collaborator failure.
// The pipeline propagates it without retrying.
type SeparationError struct {
	InputPath string
	Detail    string
	Cause     error
}

func (e *SeparationError) Error() string {
	msg := fmt.Sprintf("stem separation failed for %s", e.InputPath)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *SeparationError) Unwrap() error {
	return e.Cause
}

// Separator splits a mixed recording into named stems on disk.
type Separator interface {
	Separate(ctx context.Context, audioPath, outputDir string) (StemFilePaths, error)
}

// DemucsSeparator shells out to demucs in two-stem mode.
type DemucsSeparator struct {
	Binary string
	Model  string
}

// NewDemucsSeparator builds a separator from the environment
// (DEMUCS_BIN, DEMUCS_MODEL).
func NewDemucsSeparator() *DemucsSeparator {
	return &DemucsSeparator{
		Binary: utils.GetEnv("DEMUCS_BIN", "demucs"),
		Model:  utils.GetEnv("DEMUCS_MODEL", "htdemucs"),
	}
}

// Separate runs demucs --two-stems=vocals and returns the vocals and
// instrumental (no_vocals) WAV paths under outputDir.
func (d *DemucsSeparator) Separate(ctx context.Context, audioPath, outputDir string) (StemFilePaths, error) {
	cmd := exec.CommandContext(
		ctx, d.Binary,
		"--two-stems=vocals",
		"-n", d.Model,
		"--out", outputDir,
		audioPath,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, &SeparationError{
			InputPath: audioPath,
			Detail:    tail(string(output), 400),
			Cause:     err,
		}
	}

	base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))

	vocals, err := locateStem(outputDir, d.Model, base, "vocals.wav")
	if err != nil {
		return nil, &SeparationError{InputPath: audioPath, Detail: err.Error()}
	}
	instrumental, err := locateStem(outputDir, d.Model, base, "no_vocals.wav")
	if err != nil {
		return nil, &SeparationError{InputPath: audioPath, Detail: err.Error()}
	}

	return StemFilePaths{
		StemVocals:       vocals,
		StemInstrumental: instrumental,
	}, nil
}

// locateStem checks the usual demucs layout <out>/<model>/<base>/<stem>
// first and falls back to walking the tree, since some versions insert
// extra directories.
func locateStem(outputDir, model, base, stemFile string) (string, error) {
	direct := filepath.Join(outputDir, model, base, stemFile)
	if _, err := os.Stat(direct); err == nil {
		return direct, nil
	}

	var found string
	filepath.WalkDir(outputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if filepath.Base(path) == stemFile {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if found == "" {
		return "", fmt.Errorf("separation output %s not found under %s", stemFile, outputDir)
	}
	return found, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
