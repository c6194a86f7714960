package session

import (
	"fmt"
	"stem-sync/models"
)

// SessionNotFoundError reports an operation against a session id that has
// no record and no artifacts. Failed sessions are purged completely, so
// they surface through this error too.
type SessionNotFoundError struct {
	SessionID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session not found: %s", e.SessionID)
}

// InvalidStateError reports an operation the session's current state does
// not allow, e.g. adjusting the offset of a finalized session.
type InvalidStateError struct {
	SessionID string
	State     models.SessionState
	Operation string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("session %s is %s, cannot %s", e.SessionID, e.State, e.Operation)
}
