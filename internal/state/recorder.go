// internal/state/recorder.go
package state

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/user/photostream/internal/types"
	"github.com/user/photostream/pkg/photostream"
)

// Recorder is a photostream listener that writes every notification to a
// Journal under the channel's current session.
type Recorder struct {
	journal types.Journal
	session func() types.SessionID
	logger  *slog.Logger
}

var (
	_ photostream.Listener             = (*Recorder)(nil)
	_ photostream.ImageFailureListener = (*Recorder)(nil)
)

// NewRecorder creates a Recorder. session is called for every event, so a
// reconnect starts a new journal file.
func NewRecorder(journal types.Journal, session func() types.SessionID, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{journal: journal, session: session, logger: logger}
}

func (r *Recorder) record(event *types.Event, payload any) {
	event.SessionID = r.session()
	if event.SessionID == "" {
		return
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			r.logger.Warn("marshal journal payload", "type", event.Type, "error", err)
		} else {
			event.Payload = data
		}
	}
	if err := r.journal.Append(context.Background(), event); err != nil {
		r.logger.Warn("append journal event", "type", event.Type, "session_id", event.SessionID, "error", err)
	}
}

func (r *Recorder) OnConnect() {
	r.record(&types.Event{Type: types.EventConnected}, nil)
}

func (r *Recorder) OnDisconnect(err error) {
	e := &types.Event{Type: types.EventDisconnected}
	if err != nil {
		e.Error = err.Error()
	}
	r.record(e, nil)
}

func (r *Recorder) OnNewPhoto(photo photostream.Photo) {
	r.record(&types.Event{Type: types.EventPhotoAdded, PhotoID: photo.ID}, photo)
}

func (r *Recorder) OnNewComment(comment photostream.Comment) {
	r.record(&types.Event{Type: types.EventCommentAdded, PhotoID: comment.PhotoID, CommentID: comment.ID}, comment)
}

func (r *Recorder) OnCommentDeleted(commentID int) {
	r.record(&types.Event{Type: types.EventCommentDeleted, CommentID: commentID}, nil)
}

func (r *Recorder) OnPhotoDeleted(photoID int) {
	r.record(&types.Event{Type: types.EventPhotoDeleted, PhotoID: photoID}, nil)
}

func (r *Recorder) OnCommentCountChanged(photoID, count int) {
	r.record(&types.Event{Type: types.EventCommentCount, PhotoID: photoID}, map[string]int{"comment_count": count})
}

func (r *Recorder) OnImageFailed(photo photostream.Photo, err error) {
	r.record(&types.Event{Type: types.EventImageFailed, PhotoID: photo.ID, Error: err.Error()}, photo)
}
