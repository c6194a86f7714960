// Package store persists session metadata and lays out session
// artifacts on disk. The metadata backend is selected with the
// STORE_TYPE environment variable: sqlite (default), mongo, or memory.
package store

import (
	"fmt"
	"stem-sync/models"
	"stem-sync/utils"
	"strings"
)

// Store is the session metadata store. SaveSession is a whole-record
// upsert so every rewrite is atomic; GetSession reports absence via
// the second return value instead of an error.
type Store interface {
	SaveSession(meta *models.SessionMetadata) error
	GetSession(sessionID string) (*models.SessionMetadata, bool, error)
	DeleteSession(sessionID string) error
	ListSessions() ([]models.SessionMetadata, error)
	TotalSessions() (int, error)
	Close() error
}

// NewStore builds the store configured by the environment.
func NewStore() (Store, error) {
	storeType := strings.ToLower(utils.GetEnv("STORE_TYPE", "sqlite"))

	switch storeType {
	case "sqlite":
		return NewSQLiteStore(utils.GetEnv("SQLITE_DB_PATH", "stem-sync.db"))
	case "mongo":
		return NewMongoStore(utils.GetEnv("MONGO_URI", "mongodb://localhost:27017"))
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown STORE_TYPE %q (want sqlite, mongo, or memory)", storeType)
	}
}
