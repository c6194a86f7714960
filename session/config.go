package session

import (
	"math"
	"stem-sync/utils"
	"strconv"
)

// Config controls the processing pipeline shared by every session.
type Config struct {
	SampleRate        int     // canonical rate all audio is resampled to
	Channels          int     // canonical channel count (1 = mono)
	TargetLevelDb     float64 // RMS level stems are normalized to, in dBFS
	SeparationWorkers int     // max concurrent stem separation runs per prepare
	SessionsDir       string  // per-session working artifacts live here
	MixesDir          string  // finalized mixes live here, outliving sessions
}

// DefaultConfig returns the standard pipeline parameters: mono 44.1 kHz
// audio normalized to -24 dBFS, with both separation runs in parallel.
func DefaultConfig() Config {
	return Config{
		SampleRate:        44100,
		Channels:          1,
		TargetLevelDb:     -24,
		SeparationWorkers: 2,
		SessionsDir:       "sessions",
		MixesDir:          "mixes",
	}
}

// ConfigFromEnv starts from DefaultConfig and applies any overrides
// present in the environment.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.SessionsDir = utils.GetEnv("SESSIONS_DIR", cfg.SessionsDir)
	cfg.MixesDir = utils.GetEnv("MIXES_DIR", cfg.MixesDir)
	if v, err := strconv.Atoi(utils.GetEnv("SAMPLE_RATE", "")); err == nil && v > 0 {
		cfg.SampleRate = v
	}
	if v, err := strconv.Atoi(utils.GetEnv("SEPARATION_WORKERS", "")); err == nil && v > 0 {
		cfg.SeparationWorkers = v
	}
	if v, err := strconv.ParseFloat(utils.GetEnv("TARGET_LEVEL_DB", ""), 64); err == nil && v < 0 && !math.IsInf(v, -1) {
		cfg.TargetLevelDb = v
	}
	return cfg
}
