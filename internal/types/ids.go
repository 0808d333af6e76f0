// internal/types/ids.go
package types

import (
	"github.com/google/uuid"
)

// SessionID names one connection of the realtime channel. A new one is
// issued on every connect.
type SessionID string
type EventID string

func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

func NewEventID() EventID {
	return EventID(uuid.New().String())
}

// Short returns the first eight characters, enough to tell sessions apart
// in terminal output.
func (id SessionID) Short() string {
	if len(id) <= 8 {
		return string(id)
	}
	return string(id[:8])
}
