// internal/types/models.go
package types

import (
	"encoding/json"
	"time"
)

// Event types written to the journal.
const (
	EventConnected      = "connected"
	EventDisconnected   = "disconnected"
	EventPhotoAdded     = "photo_added"
	EventPhotoDeleted   = "photo_deleted"
	EventCommentAdded   = "comment_added"
	EventCommentDeleted = "comment_deleted"
	EventCommentCount   = "comment_count"
	EventImageFailed    = "image_failed"
)

// Event is one journal line: something the stream reported during a
// session.
type Event struct {
	ID        EventID         `json:"id"`
	SessionID SessionID       `json:"session_id"`
	Seq       int64           `json:"seq"`
	Type      string          `json:"type"`
	At        time.Time       `json:"at"`
	PhotoID   int             `json:"photo_id,omitempty"`
	CommentID int             `json:"comment_id,omitempty"`
	Error     string          `json:"error,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// SessionInfo summarizes one journaled session.
type SessionInfo struct {
	SessionID SessionID `json:"session_id"`
	Events    int64     `json:"events"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}
