package photostream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/user/photostream/pkg/socketio"
)

// Server event names.
const (
	EventConnect         = socketio.EventConnect
	EventDisconnect      = socketio.EventDisconnect
	EventConnectError    = socketio.EventConnectError
	EventNewPhoto        = "new_photo"
	EventNewComment      = "new_comment"
	EventCommentDeleted  = "comment_deleted"
	EventPhotoDeleted    = "photo_deleted"
	EventNewCommentCount = "new_comment_count"
)

var errNoPayload = errors.New("event has no payload")

// payload returns the first event argument. A JSON string that itself holds
// an object is unwrapped, since some servers emit pre-serialised JSON.
func payload(args []json.RawMessage) (json.RawMessage, error) {
	if len(args) == 0 || len(bytes.TrimSpace(args[0])) == 0 {
		return nil, errNoPayload
	}
	raw := bytes.TrimSpace(args[0])
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			inner := strings.TrimSpace(s)
			if strings.HasPrefix(inner, "{") {
				return json.RawMessage(inner), nil
			}
		}
	}
	return raw, nil
}

// DecodePhoto decodes a new_photo payload.
func DecodePhoto(args ...json.RawMessage) (Photo, error) {
	var p Photo
	raw, err := payload(args)
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decode photo: %w", err)
	}
	return p, nil
}

// DecodeComment decodes a new_comment payload.
func DecodeComment(args ...json.RawMessage) (Comment, error) {
	var c Comment
	raw, err := payload(args)
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("decode comment: %w", err)
	}
	return c, nil
}

// DecodeID decodes an integer id sent either as a JSON number or as a
// string holding a base-10 integer.
func DecodeID(args ...json.RawMessage) (int, error) {
	if len(args) == 0 {
		return 0, errNoPayload
	}
	raw := bytes.TrimSpace(args[0])
	text := string(raw)
	if len(raw) > 0 && raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, fmt.Errorf("decode id: %w", err)
		}
		text = strings.TrimSpace(text)
	}
	id, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("decode id %s: %w", raw, err)
	}
	return id, nil
}

// CommentCount is the payload of new_comment_count.
type CommentCount struct {
	PhotoID int
	Count   int
}

// DecodeCommentCount decodes a new_comment_count payload. Both photo_id and
// comment_count are required.
func DecodeCommentCount(args ...json.RawMessage) (CommentCount, error) {
	var out CommentCount
	raw, err := payload(args)
	if err != nil {
		return out, err
	}
	var body struct {
		PhotoID      *int `json:"photo_id"`
		CommentCount *int `json:"comment_count"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return out, fmt.Errorf("decode comment count: %w", err)
	}
	if body.PhotoID == nil {
		return out, errors.New("decode comment count: missing photo_id")
	}
	if body.CommentCount == nil {
		return out, errors.New("decode comment count: missing comment_count")
	}
	out.PhotoID, out.Count = *body.PhotoID, *body.CommentCount
	return out, nil
}

// disconnectError maps the disconnect argument to the error reported to
// listeners. A client-initiated disconnect is not an error.
func disconnectError(args []json.RawMessage) error {
	var reason string
	if len(args) > 0 {
		if err := json.Unmarshal(args[0], &reason); err != nil {
			reason = string(args[0])
		}
	}
	if reason == socketio.ReasonClientDisconnect {
		return nil
	}
	if reason == "" {
		reason = "connection lost"
	}
	return &DisconnectError{Reason: reason}
}

// connectError maps a connect_error payload to an error.
func connectError(args []json.RawMessage) error {
	msg := "connect failed"
	if len(args) > 0 {
		var body struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(args[0], &body); err == nil && body.Message != "" {
			msg = body.Message
		} else if err := json.Unmarshal(args[0], &msg); err != nil {
			msg = string(args[0])
		}
	}
	return &ConnectError{Message: msg}
}

// DisconnectError reports why an established connection ended.
type DisconnectError struct {
	Reason string
}

func (e *DisconnectError) Error() string { return "disconnected: " + e.Reason }

// ConnectError reports a failed connection attempt.
type ConnectError struct {
	Message string
}

func (e *ConnectError) Error() string { return "connect error: " + e.Message }
