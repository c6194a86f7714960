package models

import "time"

// SessionState tracks where a mix session is in its lifecycle.
type SessionState string

const (
	StateCreated    SessionState = "CREATED"
	StatePrepared   SessionState = "PREPARED"
	StatePreviewing SessionState = "PREVIEWING"
	StateFinalized  SessionState = "FINALIZED"
	StateFailed     SessionState = "FAILED"
)

// SessionMetadata is the persisted record for one mix session. It is
// the single source of truth read by every operation after prepare,
// and must be rewritten as a whole (one upsert) on each change.
type SessionMetadata struct {
	SessionID   string       `json:"processing_id" bson:"processing_id"`
	VocalKey    string       `json:"vocal_key" bson:"vocal_key"`
	VocalBpm    float64      `json:"vocal_bpm" bson:"vocal_bpm"`
	BeatKey     string       `json:"beat_key" bson:"beat_key"`
	BeatBpm     float64      `json:"beat_bpm" bson:"beat_bpm"`
	FinalKey    string       `json:"final_key" bson:"final_key"`
	FinalBpm    float64      `json:"final_bpm" bson:"final_bpm"`
	SampleRate  int          `json:"sample_rate" bson:"sample_rate"`
	Channels    int          `json:"channels" bson:"channels"`
	OffsetBeats float64      `json:"offset_beats" bson:"offset_beats"`
	State       SessionState `json:"state" bson:"state"`
	Transform   string       `json:"transform" bson:"transform"`
	CreatedAt   time.Time    `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" bson:"updated_at"`
}

// CanAdjust reports whether the session accepts offset adjustments
// and preview requests.
func (m *SessionMetadata) CanAdjust() bool {
	return m.State == StatePrepared || m.State == StatePreviewing
}
