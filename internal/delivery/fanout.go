// internal/delivery/fanout.go
package delivery

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/user/photostream/pkg/photostream"
)

// Fanout is a photostream listener that forwards every notification to a
// set of named listeners, in name order. A panicking listener is logged and
// skipped; the others still receive the notification.
type Fanout struct {
	mu        sync.RWMutex
	listeners map[string]photostream.Listener
	logger    *slog.Logger
}

var (
	_ photostream.Listener             = (*Fanout)(nil)
	_ photostream.ImageFailureListener = (*Fanout)(nil)
)

// NewFanout creates an empty Fanout.
func NewFanout(logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{
		listeners: make(map[string]photostream.Listener),
		logger:    logger,
	}
}

// Add registers l under name, replacing any listener with the same name.
func (f *Fanout) Add(name string, l photostream.Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners[name] = l
}

func (f *Fanout) Remove(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.listeners, name)
}

// Names returns the registered names in delivery order.
func (f *Fanout) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.listeners))
	for name := range f.listeners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (f *Fanout) each(event string, fn func(l photostream.Listener)) {
	for _, name := range f.Names() {
		f.mu.RLock()
		l, ok := f.listeners[name]
		f.mu.RUnlock()
		if !ok {
			continue
		}
		f.call(name, event, l, fn)
	}
}

func (f *Fanout) call(name, event string, l photostream.Listener, fn func(l photostream.Listener)) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("listener panicked", "listener", name, "event", event, "panic", r)
		}
	}()
	fn(l)
}

func (f *Fanout) OnConnect() {
	f.each(photostream.EventConnect, func(l photostream.Listener) { l.OnConnect() })
}

func (f *Fanout) OnDisconnect(err error) {
	f.each(photostream.EventDisconnect, func(l photostream.Listener) { l.OnDisconnect(err) })
}

func (f *Fanout) OnNewPhoto(photo photostream.Photo) {
	f.each(photostream.EventNewPhoto, func(l photostream.Listener) { l.OnNewPhoto(photo) })
}

func (f *Fanout) OnNewComment(comment photostream.Comment) {
	f.each(photostream.EventNewComment, func(l photostream.Listener) { l.OnNewComment(comment) })
}

func (f *Fanout) OnCommentDeleted(commentID int) {
	f.each(photostream.EventCommentDeleted, func(l photostream.Listener) { l.OnCommentDeleted(commentID) })
}

func (f *Fanout) OnPhotoDeleted(photoID int) {
	f.each(photostream.EventPhotoDeleted, func(l photostream.Listener) { l.OnPhotoDeleted(photoID) })
}

func (f *Fanout) OnCommentCountChanged(photoID, count int) {
	f.each(photostream.EventNewCommentCount, func(l photostream.Listener) { l.OnCommentCountChanged(photoID, count) })
}

// OnImageFailed reaches only the listeners that implement
// photostream.ImageFailureListener.
func (f *Fanout) OnImageFailed(photo photostream.Photo, err error) {
	f.each("image_failed", func(l photostream.Listener) {
		if fl, ok := l.(photostream.ImageFailureListener); ok {
			fl.OnImageFailed(photo, err)
		}
	})
}
