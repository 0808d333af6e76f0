// Package photostream is a realtime client for a remote photo stream.
//
// A Channel holds one Socket.IO connection to the stream server, decodes the
// server's push events into Photo and Comment values, fetches and caches the
// image of every new photo before announcing it, and delivers every callback
// to a Listener through a single Dispatcher.
package photostream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Photo is a published photo. Values are immutable once decoded.
type Photo struct {
	ID           int       `json:"photo_id"`
	Description  string    `json:"description,omitempty"`
	Uploader     string    `json:"uploader,omitempty"`
	CreatedAt    Timestamp `json:"created_at,omitzero"`
	ImageURL     string    `json:"image_url,omitempty"`
	CommentCount int       `json:"comment_count,omitempty"`
	Favorite     bool      `json:"favorite,omitempty"`
	Deleteable   bool      `json:"deleteable,omitempty"`
}

// Comment is a comment on a photo. Values are immutable once decoded.
type Comment struct {
	ID         int       `json:"comment_id"`
	PhotoID    int       `json:"photo_id"`
	Message    string    `json:"message"`
	CreatedAt  Timestamp `json:"created_at,omitzero"`
	Deleteable bool      `json:"deleteable,omitempty"`
}

// Timestamp accepts RFC 3339, "2006-01-02 15:04:05" and unix seconds.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] != '"' {
		secs, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("parse timestamp %s: %w", data, err)
		}
		t.Time = time.Unix(secs, 0).UTC()
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("parse timestamp %q: unsupported layout", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}

// State is the connection state of a Channel.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}
