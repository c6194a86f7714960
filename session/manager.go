package session

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"stem-sync/dsp"
	"stem-sync/models"
	"stem-sync/stems"
	"stem-sync/store"
	"stem-sync/utils"
	"stem-sync/wav"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Manager owns the session lifecycle: prepare, preview, offset
// adjustment, finalize. Mutations on one session are serialized
// through a per-id lock; different sessions run fully in parallel.
type Manager struct {
	cfg         Config
	db          store.Store
	files       *store.Artifacts
	separator   stems.Separator
	transformer *stems.Transformer
	transcoder  Transcoder
	logger      *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager wires the manager with its collaborators. A nil
// transcoder falls back to the ffmpeg-backed WavTranscoder.
func NewManager(cfg Config, db store.Store, files *store.Artifacts, separator stems.Separator, transformer *stems.Transformer, transcoder Transcoder) *Manager {
	if transcoder == nil {
		transcoder = WavTranscoder{}
	}
	return &Manager{
		cfg:         cfg,
		db:          db,
		files:       files,
		separator:   separator,
		transformer: transformer,
		transcoder:  transcoder,
		logger:      utils.Logger(),
		locks:       make(map[string]*sync.Mutex),
	}
}

// Close releases the metadata store.
func (m *Manager) Close() error {
	return m.db.Close()
}

func (m *Manager) sessionLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[id] = lock
	}
	return lock
}

// PrepareRequest carries the inputs for a new session: two audio
// files plus their known keys and tempos.
type PrepareRequest struct {
	VocalPath string
	BeatPath  string
	VocalKey  string
	VocalBpm  float64
	BeatKey   string
	BeatBpm   float64
}

type PrepareResult struct {
	SessionID   string
	PreviewPath string
	Meta        *models.SessionMetadata
	Outcome     stems.Outcome
}

type OffsetResult struct {
	PreviewPath string
	OffsetBeats float64
}

type FinalizeResult struct {
	MixPath string
}

// Stats summarizes the manager's footprint for the stats endpoint.
type Stats struct {
	ActiveSessions int   `json:"activeSessions"`
	RenderedMixes  int   `json:"renderedMixes"`
	StorageBytes   int64 `json:"storageBytes"`
}

// validBpm reports whether v is usable as a tempo: positive and
// finite. ParseFloat hands back NaN and Inf without error, so a plain
// v <= 0 gate does not catch them.
func validBpm(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}

// Prepare builds a new session: both inputs are converted to the
// canonical format and separated in parallel, the instrumental is
// transposed/stretched onto the vocal's key and tempo, both stems are
// normalized and persisted, and an offset-0 preview is rendered. The
// metadata record is published last, so a failed prepare leaves
// nothing behind: the partially built session dir is purged and the
// error surfaces.
func (m *Manager) Prepare(ctx context.Context, req PrepareRequest) (*PrepareResult, error) {
	if !validBpm(req.VocalBpm) || !validBpm(req.BeatBpm) {
		return nil, fmt.Errorf("bpm values must be positive and finite (vocal %v, beat %v)", req.VocalBpm, req.BeatBpm)
	}

	// beat is the source, vocal the target: the instrumental moves
	// onto the vocal's key and tempo, never the other way around
	plan, err := stems.PlanTransform(req.BeatKey, req.BeatBpm, req.VocalKey, req.VocalBpm)
	if err != nil {
		return nil, err
	}

	id := utils.GenerateSessionID()
	if err := m.files.CreateSessionDir(id); err != nil {
		return nil, fmt.Errorf("failed to create session dir: %v", err)
	}

	published := false
	defer func() {
		if !published {
			if err := m.files.PurgeSession(id); err != nil {
				utils.LogError(ctx, m.logger, "failed to purge session "+id+" after failed prepare", err)
			}
		}
	}()

	scratch := filepath.Join(m.files.SessionDir(id), "scratch")
	if err := utils.CreateFolder(scratch); err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %v", err)
	}

	vocalInput := filepath.Join(scratch, "vocal_input.wav")
	beatInput := filepath.Join(scratch, "beat_input.wav")
	if err := m.transcoder.Convert(req.VocalPath, vocalInput, m.cfg.SampleRate, m.cfg.Channels); err != nil {
		return nil, fmt.Errorf("failed to convert vocal input: %v", err)
	}
	if err := m.transcoder.Convert(req.BeatPath, beatInput, m.cfg.SampleRate, m.cfg.Channels); err != nil {
		return nil, fmt.Errorf("failed to convert beat input: %v", err)
	}

	// the vocal stem comes out of the vocal take, the instrumental
	// out of the backing track; both separations run concurrently
	var vocalStemPath, instStemPath string
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.SeparationWorkers)
	g.Go(func() error {
		paths, err := m.separator.Separate(gctx, vocalInput, filepath.Join(scratch, "vocal_stems"))
		if err != nil {
			return err
		}
		path, ok := paths[stems.StemVocals]
		if !ok {
			return &stems.SeparationError{InputPath: vocalInput, Detail: "separator returned no vocals stem"}
		}
		vocalStemPath = path
		return nil
	})
	g.Go(func() error {
		paths, err := m.separator.Separate(gctx, beatInput, filepath.Join(scratch, "beat_stems"))
		if err != nil {
			return err
		}
		path, ok := paths[stems.StemInstrumental]
		if !ok {
			return &stems.SeparationError{InputPath: beatInput, Detail: "separator returned no instrumental stem"}
		}
		instStemPath = path
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	log.Printf("[session] %s: separation took %s", id, time.Since(start).Round(time.Millisecond))

	vocalBuf, err := m.loadConformed(vocalStemPath)
	if err != nil {
		return nil, err
	}
	instBuf, err := m.loadConformed(instStemPath)
	if err != nil {
		return nil, err
	}

	transformed, outcome := m.transformer.Apply(ctx, instBuf, plan)

	vocalNorm := dsp.Normalize(vocalBuf, m.cfg.TargetLevelDb)
	instNorm := dsp.Normalize(transformed, m.cfg.TargetLevelDb)

	if err := writeStem(m.files.VocalStem(id), vocalNorm); err != nil {
		return nil, err
	}
	if err := writeStem(m.files.InstrumentalStem(id), instNorm); err != nil {
		return nil, err
	}

	mixed, err := dsp.Mix(vocalNorm, instNorm)
	if err != nil {
		return nil, err
	}
	if err := m.writePreview(id, mixed); err != nil {
		return nil, err
	}

	if err := os.RemoveAll(scratch); err != nil {
		utils.LogError(ctx, m.logger, "failed to remove scratch dir for "+id, err)
	}

	now := time.Now()
	meta := &models.SessionMetadata{
		SessionID:   id,
		VocalKey:    req.VocalKey,
		VocalBpm:    req.VocalBpm,
		BeatKey:     req.BeatKey,
		BeatBpm:     req.BeatBpm,
		FinalKey:    req.VocalKey,
		FinalBpm:    req.VocalBpm,
		SampleRate:  m.cfg.SampleRate,
		Channels:    m.cfg.Channels,
		OffsetBeats: 0,
		State:       models.StatePrepared,
		Transform:   outcome.Summary(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.db.SaveSession(meta); err != nil {
		return nil, fmt.Errorf("failed to save session metadata: %v", err)
	}
	published = true

	log.Printf("[session] prepared %s (%s)", id, outcome.Summary())
	return &PrepareResult{
		SessionID:   id,
		PreviewPath: m.files.Preview(id),
		Meta:        meta,
		Outcome:     outcome,
	}, nil
}

// GetPreview returns the current preview path for an active session.
func (m *Manager) GetPreview(id string) (string, error) {
	if _, err := m.loadActive(id, "preview"); err != nil {
		return "", err
	}
	return m.files.Preview(id), nil
}

// AdjustOffset re-renders the preview with the vocal shifted by
// offsetBeats. The offset is absolute, not cumulative: each call
// starts from the original persisted vocal stem, so repeating the
// same offset reproduces the same preview. The preview file is
// replaced by rename and the metadata rewritten in one upsert.
func (m *Manager) AdjustOffset(ctx context.Context, id string, offsetBeats float64) (*OffsetResult, error) {
	lock := m.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	meta, err := m.loadActive(id, "adjust offset")
	if err != nil {
		return nil, err
	}

	vocal, err := readStem(m.files.VocalStem(id))
	if err != nil {
		return nil, err
	}
	shifted, err := dsp.Shift(vocal, offsetBeats, meta.VocalBpm)
	if err != nil {
		return nil, err
	}
	shifted = dsp.Normalize(shifted, m.cfg.TargetLevelDb)

	inst, err := readStem(m.files.InstrumentalStem(id))
	if err != nil {
		return nil, err
	}
	mixed, err := dsp.Mix(shifted, inst)
	if err != nil {
		return nil, err
	}
	if err := m.writePreview(id, mixed); err != nil {
		return nil, err
	}

	meta.OffsetBeats = offsetBeats
	meta.State = models.StatePreviewing
	meta.UpdatedAt = time.Now()
	if err := m.db.SaveSession(meta); err != nil {
		return nil, fmt.Errorf("failed to save session metadata: %v", err)
	}

	log.Printf("[session] %s: offset set to %.2f beats", id, offsetBeats)
	return &OffsetResult{
		PreviewPath: m.files.Preview(id),
		OffsetBeats: offsetBeats,
	}, nil
}

// Finalize renders the committed mix from the session's current
// offset and retires the session: the mix outlives it in the mixes
// dir while the record and working artifacts are removed.
func (m *Manager) Finalize(ctx context.Context, id string) (*FinalizeResult, error) {
	lock := m.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	meta, err := m.loadActive(id, "finalize")
	if err != nil {
		return nil, err
	}

	vocal, err := readStem(m.files.VocalStem(id))
	if err != nil {
		return nil, err
	}
	if meta.OffsetBeats != 0 {
		vocal, err = dsp.Shift(vocal, meta.OffsetBeats, meta.VocalBpm)
		if err != nil {
			return nil, err
		}
	}

	inst, err := readStem(m.files.InstrumentalStem(id))
	if err != nil {
		return nil, err
	}
	mixed, err := dsp.Mix(vocal, inst)
	if err != nil {
		return nil, err
	}

	mixPath := m.files.FinalMix(id)
	tmpPath := filepath.Join(m.files.MixDir, "tmp_mix_"+id+".wav")
	if err := wav.WriteWavFile(tmpPath, mixed.Samples, mixed.SampleRate, mixed.Channels); err != nil {
		return nil, fmt.Errorf("failed to write final mix: %v", err)
	}
	if err := utils.MoveFile(tmpPath, mixPath); err != nil {
		return nil, fmt.Errorf("failed to publish final mix: %v", err)
	}

	if err := m.db.DeleteSession(id); err != nil {
		return nil, fmt.Errorf("failed to delete session record: %v", err)
	}
	if err := m.files.PurgeSession(id); err != nil {
		utils.LogError(ctx, m.logger, "failed to purge working dir after finalize of "+id, err)
	}

	log.Printf("[session] finalized %s -> %s", id, mixPath)
	return &FinalizeResult{MixPath: mixPath}, nil
}

// Status reports a session's metadata. After finalize the record is
// gone but the rendered mix survives, so a finalized session reports
// a synthetic FINALIZED state as long as its mix exists.
func (m *Manager) Status(id string) (*models.SessionMetadata, error) {
	meta, exists, err := m.db.GetSession(id)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %v", id, err)
	}
	if exists {
		return meta, nil
	}
	if fi, err := os.Stat(m.files.FinalMix(id)); err == nil {
		return &models.SessionMetadata{
			SessionID: id,
			State:     models.StateFinalized,
			CreatedAt: fi.ModTime(),
			UpdatedAt: fi.ModTime(),
		}, nil
	}
	return nil, &SessionNotFoundError{SessionID: id}
}

// MixPath returns the final mix location for a finalized session.
func (m *Manager) MixPath(id string) (string, error) {
	path := m.files.FinalMix(id)
	if _, err := os.Stat(path); err != nil {
		return "", &SessionNotFoundError{SessionID: id}
	}
	return path, nil
}

// List returns all active sessions, newest first.
func (m *Manager) List() ([]models.SessionMetadata, error) {
	return m.db.ListSessions()
}

// Stats reports active session and rendered mix totals plus artifact
// storage usage.
func (m *Manager) Stats() (*Stats, error) {
	sessions, err := m.db.TotalSessions()
	if err != nil {
		return nil, err
	}
	mixes, err := m.files.TotalMixes()
	if err != nil {
		return nil, err
	}
	bytes, err := m.files.StorageBytes()
	if err != nil {
		return nil, err
	}
	return &Stats{
		ActiveSessions: sessions,
		RenderedMixes:  mixes,
		StorageBytes:   bytes,
	}, nil
}

// Erase deletes every active session record and working dir. With all
// set, rendered mixes go too. Returns the number of records removed.
func (m *Manager) Erase(all bool) (int, error) {
	sessions, err := m.db.ListSessions()
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %v", err)
	}
	for _, meta := range sessions {
		if err := m.db.DeleteSession(meta.SessionID); err != nil {
			return 0, fmt.Errorf("failed to delete session %s: %v", meta.SessionID, err)
		}
	}
	if err := m.files.PurgeAll(all); err != nil {
		return 0, err
	}
	return len(sessions), nil
}

// loadActive fetches the metadata for an operation that requires a
// live session. A missing record with a surviving final mix means the
// session was finalized; a missing record without one means it never
// existed or was purged after a failure.
func (m *Manager) loadActive(id, op string) (*models.SessionMetadata, error) {
	meta, exists, err := m.db.GetSession(id)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %v", id, err)
	}
	if !exists {
		if m.files.HasFinalMix(id) {
			return nil, &InvalidStateError{SessionID: id, State: models.StateFinalized, Operation: op}
		}
		return nil, &SessionNotFoundError{SessionID: id}
	}
	if !meta.CanAdjust() {
		return nil, &InvalidStateError{SessionID: id, State: meta.State, Operation: op}
	}
	return meta, nil
}

// loadConformed reformats a freshly separated stem to the canonical
// rate and channel count, then decodes it.
func (m *Manager) loadConformed(path string) (dsp.Buffer, error) {
	conformed, err := m.transcoder.Conform(path, m.cfg.SampleRate, m.cfg.Channels)
	if err != nil {
		return dsp.Buffer{}, fmt.Errorf("failed to conform stem %s: %v", path, err)
	}
	return readStem(conformed)
}

func (m *Manager) writePreview(id string, mixed dsp.Buffer) error {
	tmpPath := filepath.Join(m.files.SessionDir(id), "tmp_preview.wav")
	if err := wav.WriteWavFile(tmpPath, mixed.Samples, mixed.SampleRate, mixed.Channels); err != nil {
		return fmt.Errorf("failed to write preview: %v", err)
	}
	if err := utils.MoveFile(tmpPath, m.files.Preview(id)); err != nil {
		return fmt.Errorf("failed to publish preview: %v", err)
	}
	return nil
}

func readStem(path string) (dsp.Buffer, error) {
	info, err := wav.ReadWavInfo(path)
	if err != nil {
		return dsp.Buffer{}, fmt.Errorf("failed to read stem %s: %v", path, err)
	}
	return dsp.Buffer{
		SampleRate: info.SampleRate,
		Channels:   info.Channels,
		Samples:    info.Samples,
	}, nil
}

func writeStem(path string, buf dsp.Buffer) error {
	if err := wav.WriteWavFile(path, buf.Samples, buf.SampleRate, buf.Channels); err != nil {
		return fmt.Errorf("failed to write stem %s: %v", path, err)
	}
	return nil
}
