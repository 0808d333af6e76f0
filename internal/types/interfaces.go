// internal/types/interfaces.go
package types

import (
	"context"
)

// Journal is an append-only per-session log of stream events.
type Journal interface {
	Append(ctx context.Context, event *Event) error
	Tail(ctx context.Context, sessionID SessionID, limit int) ([]*Event, error)
	Count(ctx context.Context, sessionID SessionID) (int64, error)
	Sessions(ctx context.Context) ([]*SessionInfo, error)
}
