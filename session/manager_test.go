package session

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"stem-sync/dsp"
	"stem-sync/match"
	"stem-sync/models"
	"stem-sync/stems"
	"stem-sync/store"
	"stem-sync/wav"
	"testing"
)

const testRate = 8000

// fakeSeparator copies the input into both stem files, or fails.
type fakeSeparator struct {
	fail bool
}

func (f *fakeSeparator) Separate(ctx context.Context, audioPath, outputDir string) (stems.StemFilePaths, error) {
	if f.fail {
		return nil, &stems.SeparationError{InputPath: audioPath, Detail: "model exploded"}
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}
	info, err := wav.ReadWavInfo(audioPath)
	if err != nil {
		return nil, err
	}
	vocals := filepath.Join(outputDir, "vocals.wav")
	inst := filepath.Join(outputDir, "no_vocals.wav")
	if err := wav.WriteWavFile(vocals, info.Samples, info.SampleRate, info.Channels); err != nil {
		return nil, err
	}
	if err := wav.WriteWavFile(inst, info.Samples, info.SampleRate, info.Channels); err != nil {
		return nil, err
	}
	return stems.StemFilePaths{
		stems.StemVocals:       vocals,
		stems.StemInstrumental: inst,
	}, nil
}

type passShifter struct{}

func (passShifter) PitchShift(ctx context.Context, buf dsp.Buffer, semitones int) (dsp.Buffer, error) {
	return buf.Clone(), nil
}

type failShifter struct{}

func (failShifter) PitchShift(ctx context.Context, buf dsp.Buffer, semitones int) (dsp.Buffer, error) {
	return dsp.Buffer{}, &stems.TransformError{Op: "pitch_shift", Detail: "boom"}
}

type passStretcher struct{}

func (passStretcher) TimeStretch(ctx context.Context, buf dsp.Buffer, rate float64) (dsp.Buffer, error) {
	return buf.Clone(), nil
}

// fakeTranscoder assumes inputs are already canonical WAV files.
type fakeTranscoder struct{}

func (fakeTranscoder) Convert(inputPath, outputPath string, sampleRate, channels int) error {
	info, err := wav.ReadWavInfo(inputPath)
	if err != nil {
		return err
	}
	return wav.WriteWavFile(outputPath, info.Samples, info.SampleRate, info.Channels)
}

func (fakeTranscoder) Conform(inputPath string, sampleRate, channels int) (string, error) {
	return inputPath, nil
}

func newTestManager(t *testing.T, shifter stems.PitchShifter, separator stems.Separator) (*Manager, *store.Artifacts) {
	t.Helper()
	base := t.TempDir()
	files, err := store.NewArtifacts(filepath.Join(base, "sessions"), filepath.Join(base, "mixes"))
	if err != nil {
		t.Fatal(err)
	}
	if shifter == nil {
		shifter = passShifter{}
	}
	if separator == nil {
		separator = &fakeSeparator{}
	}
	cfg := DefaultConfig()
	cfg.SampleRate = testRate
	mgr := NewManager(cfg, store.NewMemoryStore(), files, separator,
		stems.NewTransformer(shifter, passStretcher{}), fakeTranscoder{})
	t.Cleanup(func() { mgr.Close() })
	return mgr, files
}

// two seconds of sine at the test rate, long enough that a 2-beat
// shift at 120 BPM moves content instead of zeroing everything
func writeInputWav(t *testing.T) string {
	t.Helper()
	samples := make([]float64, 2*testRate)
	for i := range samples {
		samples[i] = 0.5 * math.Sin(2*math.Pi*float64(i)/64)
	}
	path := filepath.Join(t.TempDir(), "input.wav")
	if err := wav.WriteWavFile(path, samples, testRate, 1); err != nil {
		t.Fatal(err)
	}
	return path
}

func testRequest(input string) PrepareRequest {
	return PrepareRequest{
		VocalPath: input,
		BeatPath:  input,
		VocalKey:  "C",
		VocalBpm:  120,
		BeatKey:   "G",
		BeatBpm:   100,
	}
}

func TestPrepareBuildsSession(t *testing.T) {
	mgr, files := newTestManager(t, nil, nil)
	res, err := mgr.Prepare(context.Background(), testRequest(writeInputWav(t)))
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}

	if res.Meta.State != models.StatePrepared {
		t.Errorf("state = %s, want %s", res.Meta.State, models.StatePrepared)
	}
	if res.Meta.FinalKey != "C" || res.Meta.FinalBpm != 120 {
		t.Errorf("final key/bpm = %s/%.0f, want C/120", res.Meta.FinalKey, res.Meta.FinalBpm)
	}
	// G at 100 onto C at 120: up five semitones, sped up by 1.2
	if res.Meta.Transform != "transposed +5 st, stretched x1.20" {
		t.Errorf("transform = %q", res.Meta.Transform)
	}
	if !res.Outcome.FullyApplied() {
		t.Errorf("outcome should be fully applied: %+v", res.Outcome)
	}

	for _, path := range []string{files.VocalStem(res.SessionID), files.InstrumentalStem(res.SessionID), res.PreviewPath} {
		info, err := wav.ReadWavInfo(path)
		if err != nil {
			t.Fatalf("artifact %s: %v", path, err)
		}
		if len(info.Samples) != 2*testRate {
			t.Errorf("%s has %d samples, want %d", path, len(info.Samples), 2*testRate)
		}
	}

	// scratch files must not survive a successful prepare
	entries, err := os.ReadDir(files.SessionDir(res.SessionID))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Errorf("session dir has %d entries, want 3 (stems + preview)", len(entries))
	}
}

func TestPrepareRejectsBadInputs(t *testing.T) {
	mgr, _ := newTestManager(t, nil, nil)
	input := writeInputWav(t)

	req := testRequest(input)
	req.VocalKey = "H"
	_, err := mgr.Prepare(context.Background(), req)
	var keyErr *match.InvalidKeyError
	if !errors.As(err, &keyErr) {
		t.Errorf("bad key: got %v, want InvalidKeyError", err)
	}

	req = testRequest(input)
	req.BeatBpm = 0
	if _, err := mgr.Prepare(context.Background(), req); err == nil {
		t.Error("zero bpm should be rejected")
	}

	// ParseFloat upstream lets "NaN" and "Inf" through with a nil
	// error, and NaN <= 0 is false, so the gate must check for them
	req = testRequest(input)
	req.VocalBpm = math.NaN()
	if _, err := mgr.Prepare(context.Background(), req); err == nil {
		t.Error("NaN bpm should be rejected")
	}

	req = testRequest(input)
	req.BeatBpm = math.Inf(1)
	if _, err := mgr.Prepare(context.Background(), req); err == nil {
		t.Error("infinite bpm should be rejected")
	}
}

func TestPrepareFailureLeavesNothing(t *testing.T) {
	mgr, files := newTestManager(t, nil, &fakeSeparator{fail: true})
	_, err := mgr.Prepare(context.Background(), testRequest(writeInputWav(t)))

	var sepErr *stems.SeparationError
	if !errors.As(err, &sepErr) {
		t.Fatalf("got %v, want SeparationError", err)
	}

	entries, readErr := os.ReadDir(files.Root)
	if readErr != nil {
		t.Fatal(readErr)
	}
	if len(entries) != 0 {
		t.Errorf("failed prepare left %d entries in the sessions dir", len(entries))
	}
	sessions, listErr := mgr.List()
	if listErr != nil {
		t.Fatal(listErr)
	}
	if len(sessions) != 0 {
		t.Errorf("failed prepare left %d session records", len(sessions))
	}
}

func TestPrepareSurvivesTranspositionFailure(t *testing.T) {
	mgr, _ := newTestManager(t, failShifter{}, nil)
	res, err := mgr.Prepare(context.Background(), testRequest(writeInputWav(t)))
	if err != nil {
		t.Fatalf("degraded prepare should still succeed: %v", err)
	}
	if res.Outcome.FullyApplied() {
		t.Error("outcome should report a skipped step")
	}
	if res.Outcome.PitchSkipped == "" || !res.Outcome.TempoApplied {
		t.Errorf("want tempo-only degradation, got %+v", res.Outcome)
	}
	if res.Meta.State != models.StatePrepared {
		t.Errorf("state = %s, want %s", res.Meta.State, models.StatePrepared)
	}
}

func TestAdjustOffsetIsIdempotent(t *testing.T) {
	mgr, _ := newTestManager(t, nil, nil)
	res, err := mgr.Prepare(context.Background(), testRequest(writeInputWav(t)))
	if err != nil {
		t.Fatal(err)
	}
	initial, err := os.ReadFile(res.PreviewPath)
	if err != nil {
		t.Fatal(err)
	}

	first, err := mgr.AdjustOffset(context.Background(), res.SessionID, 2.0)
	if err != nil {
		t.Fatal(err)
	}
	firstBytes, err := os.ReadFile(first.PreviewPath)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(firstBytes, initial) {
		t.Error("a 2-beat offset should change the preview")
	}

	second, err := mgr.AdjustOffset(context.Background(), res.SessionID, 2.0)
	if err != nil {
		t.Fatal(err)
	}
	secondBytes, err := os.ReadFile(second.PreviewPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(firstBytes, secondBytes) {
		t.Error("same offset twice must produce identical previews")
	}

	meta, err := mgr.Status(res.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if meta.State != models.StatePreviewing || meta.OffsetBeats != 2.0 {
		t.Errorf("meta = state %s offset %.1f, want PREVIEWING 2.0", meta.State, meta.OffsetBeats)
	}
}

func TestAdjustOffsetUnknownSession(t *testing.T) {
	mgr, _ := newTestManager(t, nil, nil)
	_, err := mgr.AdjustOffset(context.Background(), "missing", 1.0)
	var notFound *SessionNotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("got %v, want SessionNotFoundError", err)
	}
}

func TestFinalizeRetiresSession(t *testing.T) {
	mgr, files := newTestManager(t, nil, nil)
	res, err := mgr.Prepare(context.Background(), testRequest(writeInputWav(t)))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.AdjustOffset(context.Background(), res.SessionID, 1.0); err != nil {
		t.Fatal(err)
	}

	fin, err := mgr.Finalize(context.Background(), res.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wav.ReadWavInfo(fin.MixPath); err != nil {
		t.Fatalf("final mix unreadable: %v", err)
	}

	// working artifacts gone, record gone, mix survives
	if _, err := os.Stat(files.SessionDir(res.SessionID)); !os.IsNotExist(err) {
		t.Error("session dir should be purged after finalize")
	}
	meta, err := mgr.Status(res.SessionID)
	if err != nil {
		t.Fatalf("status after finalize: %v", err)
	}
	if meta.State != models.StateFinalized {
		t.Errorf("state = %s, want %s", meta.State, models.StateFinalized)
	}
	if _, err := mgr.MixPath(res.SessionID); err != nil {
		t.Errorf("mix path after finalize: %v", err)
	}

	// a finalized session is no longer adjustable or finalizable
	var stateErr *InvalidStateError
	if _, err := mgr.Finalize(context.Background(), res.SessionID); !errors.As(err, &stateErr) {
		t.Errorf("second finalize: got %v, want InvalidStateError", err)
	}
	if _, err := mgr.AdjustOffset(context.Background(), res.SessionID, 0.5); !errors.As(err, &stateErr) {
		t.Errorf("adjust after finalize: got %v, want InvalidStateError", err)
	}
}

func TestFinalizeUnknownSession(t *testing.T) {
	mgr, _ := newTestManager(t, nil, nil)
	_, err := mgr.Finalize(context.Background(), "never-prepared")
	var notFound *SessionNotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("got %v, want SessionNotFoundError", err)
	}
}

func TestGetPreview(t *testing.T) {
	mgr, _ := newTestManager(t, nil, nil)
	res, err := mgr.Prepare(context.Background(), testRequest(writeInputWav(t)))
	if err != nil {
		t.Fatal(err)
	}

	path, err := mgr.GetPreview(res.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if path != res.PreviewPath {
		t.Errorf("preview path = %s, want %s", path, res.PreviewPath)
	}

	var notFound *SessionNotFoundError
	if _, err := mgr.GetPreview("missing"); !errors.As(err, &notFound) {
		t.Errorf("got %v, want SessionNotFoundError", err)
	}
}

func TestStatsAndErase(t *testing.T) {
	mgr, files := newTestManager(t, nil, nil)
	input := writeInputWav(t)

	first, err := mgr.Prepare(context.Background(), testRequest(input))
	if err != nil {
		t.Fatal(err)
	}
	second, err := mgr.Prepare(context.Background(), testRequest(input))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Finalize(context.Background(), second.SessionID); err != nil {
		t.Fatal(err)
	}

	stats, err := mgr.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.ActiveSessions != 1 || stats.RenderedMixes != 1 {
		t.Errorf("stats = %+v, want 1 active and 1 mix", stats)
	}
	if stats.StorageBytes == 0 {
		t.Error("storage bytes should be non-zero")
	}

	removed, err := mgr.Erase(false)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("erase removed %d records, want 1", removed)
	}
	if !files.HasFinalMix(second.SessionID) {
		t.Error("erase without all should keep rendered mixes")
	}
	var notFound *SessionNotFoundError
	if _, err := mgr.Status(first.SessionID); !errors.As(err, &notFound) {
		t.Errorf("status after erase: got %v, want SessionNotFoundError", err)
	}

	if _, err := mgr.Erase(true); err != nil {
		t.Fatal(err)
	}
	if files.HasFinalMix(second.SessionID) {
		t.Error("erase all should remove rendered mixes")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("SESSIONS_DIR", "work")
	t.Setenv("SAMPLE_RATE", "48000")
	t.Setenv("TARGET_LEVEL_DB", "-18")

	cfg := ConfigFromEnv()
	if cfg.SessionsDir != "work" || cfg.SampleRate != 48000 || cfg.TargetLevelDb != -18 {
		t.Errorf("cfg = %+v", cfg)
	}

	// junk overrides keep the default; -Inf parses as negative but
	// would silence every stem through the normalizer
	for _, bad := range []string{"loud", "24", "NaN", "-Inf"} {
		t.Setenv("TARGET_LEVEL_DB", bad)
		if got := ConfigFromEnv().TargetLevelDb; got != DefaultConfig().TargetLevelDb {
			t.Errorf("TARGET_LEVEL_DB=%q: level = %v, want default", bad, got)
		}
	}
}
