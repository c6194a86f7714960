package store

import (
	"database/sql"
	"fmt"
	"stem-sync/models"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps session metadata in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("error opening sqlite database: %v", err)
	}

	// serialized writers keep the whole-record upserts atomic
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.createTable(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) createTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			session_id   TEXT PRIMARY KEY,
			vocal_key    TEXT NOT NULL,
			vocal_bpm    REAL NOT NULL,
			beat_key     TEXT NOT NULL,
			beat_bpm     REAL NOT NULL,
			final_key    TEXT NOT NULL,
			final_bpm    REAL NOT NULL,
			sample_rate  INTEGER NOT NULL,
			channels     INTEGER NOT NULL,
			offset_beats REAL NOT NULL,
			state        TEXT NOT NULL,
			transform    TEXT NOT NULL DEFAULT '',
			created_at   INTEGER NOT NULL,
			updated_at   INTEGER NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("error creating sessions table: %v", err)
	}
	return nil
}

func (s *SQLiteStore) SaveSession(meta *models.SessionMetadata) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sessions
			(session_id, vocal_key, vocal_bpm, beat_key, beat_bpm,
			 final_key, final_bpm, sample_rate, channels, offset_beats,
			 state, transform, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		meta.SessionID, meta.VocalKey, meta.VocalBpm, meta.BeatKey, meta.BeatBpm,
		meta.FinalKey, meta.FinalBpm, meta.SampleRate, meta.Channels, meta.OffsetBeats,
		string(meta.State), meta.Transform, meta.CreatedAt.UnixMilli(), meta.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("error saving session %s: %v", meta.SessionID, err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(sessionID string) (*models.SessionMetadata, bool, error) {
	row := s.db.QueryRow(`
		SELECT session_id, vocal_key, vocal_bpm, beat_key, beat_bpm,
		       final_key, final_bpm, sample_rate, channels, offset_beats,
		       state, transform, created_at, updated_at
		FROM sessions WHERE session_id = ?`, sessionID)

	meta, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("error loading session %s: %v", sessionID, err)
	}
	return meta, true, nil
}

func (s *SQLiteStore) DeleteSession(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("error deleting session %s: %v", sessionID, err)
	}
	return nil
}

func (s *SQLiteStore) ListSessions() ([]models.SessionMetadata, error) {
	rows, err := s.db.Query(`
		SELECT session_id, vocal_key, vocal_bpm, beat_key, beat_bpm,
		       final_key, final_bpm, sample_rate, channels, offset_beats,
		       state, transform, created_at, updated_at
		FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("error listing sessions: %v", err)
	}
	defer rows.Close()

	var sessions []models.SessionMetadata
	for rows.Next() {
		meta, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning session row: %v", err)
		}
		sessions = append(sessions, *meta)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) TotalSessions() (int, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&count); err != nil {
		return 0, fmt.Errorf("error counting sessions: %v", err)
	}
	return count, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.SessionMetadata, error) {
	var meta models.SessionMetadata
	var state string
	var createdAt, updatedAt int64

	err := row.Scan(
		&meta.SessionID, &meta.VocalKey, &meta.VocalBpm, &meta.BeatKey, &meta.BeatBpm,
		&meta.FinalKey, &meta.FinalBpm, &meta.SampleRate, &meta.Channels, &meta.OffsetBeats,
		&state, &meta.Transform, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	meta.State = models.SessionState(state)
	meta.CreatedAt = time.UnixMilli(createdAt)
	meta.UpdatedAt = time.UnixMilli(updatedAt)
	return &meta, nil
}
