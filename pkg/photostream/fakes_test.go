package photostream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

type fakeSocket struct {
	mu          sync.Mutex
	handlers    map[string][]func(args ...json.RawMessage)
	connected   bool
	connects    int
	disconnects int
	offs        int
	closes      int
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{handlers: make(map[string][]func(args ...json.RawMessage))}
}

func (s *fakeSocket) On(event string, fn func(args ...json.RawMessage)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = append(s.handlers[event], fn)
}

func (s *fakeSocket) Off(events ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offs++
	if len(events) == 0 {
		s.handlers = make(map[string][]func(args ...json.RawMessage))
		return
	}
	for _, e := range events {
		delete(s.handlers, e)
	}
}

func (s *fakeSocket) Connect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
}

func (s *fakeSocket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeSocket) Disconnect() {
	s.mu.Lock()
	was := s.connected
	s.connected = false
	s.disconnects++
	s.mu.Unlock()
	if was {
		s.fire(EventDisconnect, json.RawMessage(`"io client disconnect"`))
	}
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeSocket) events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for name := range s.handlers {
		names = append(names, name)
	}
	return names
}

// fire runs the handlers for event on the calling goroutine, the way the
// transport's read loop does.
func (s *fakeSocket) fire(event string, args ...json.RawMessage) {
	s.mu.Lock()
	if event == EventConnect {
		s.connected = true
	}
	if event == EventDisconnect {
		s.connected = false
	}
	fns := append([]func(args ...json.RawMessage){}, s.handlers[event]...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(args...)
	}
}

type fakeDialer struct {
	mu        sync.Mutex
	sockets   []*fakeSocket
	endpoints []string
	opts      []DialOptions
	err       error
}

func (d *fakeDialer) Dial(endpoint string, opts DialOptions) (Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	s := newFakeSocket()
	d.sockets = append(d.sockets, s)
	d.endpoints = append(d.endpoints, endpoint)
	d.opts = append(d.opts, opts)
	return s, nil
}

func (d *fakeDialer) last() *fakeSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sockets[len(d.sockets)-1]
}

// recorder is a Listener that records every callback as a string.
type recorder struct {
	mu     sync.Mutex
	calls  []string
	onCall func(call string)
	errs   []error
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	fn := r.onCall
	r.mu.Unlock()
	if fn != nil {
		fn(call)
	}
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *recorder) OnConnect() { r.add("connect") }

func (r *recorder) OnDisconnect(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	r.add(fmt.Sprintf("disconnect:%v", err != nil))
}

func (r *recorder) OnNewPhoto(p Photo) { r.add(fmt.Sprintf("photo:%d", p.ID)) }

func (r *recorder) OnNewComment(c Comment) {
	r.add(fmt.Sprintf("comment:%d:%d:%s", c.ID, c.PhotoID, c.Message))
}

func (r *recorder) OnCommentDeleted(id int) { r.add(fmt.Sprintf("comment_deleted:%d", id)) }

func (r *recorder) OnPhotoDeleted(id int) { r.add(fmt.Sprintf("photo_deleted:%d", id)) }

func (r *recorder) OnCommentCountChanged(photoID, count int) {
	r.add(fmt.Sprintf("count:%d:%d", photoID, count))
}

// failureRecorder also implements ImageFailureListener.
type failureRecorder struct {
	recorder
}

func (r *failureRecorder) OnImageFailed(p Photo, err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	r.add(fmt.Sprintf("image_failed:%d", p.ID))
}

// manualDispatcher queues tasks until the test runs them.
type manualDispatcher struct {
	mu    sync.Mutex
	tasks []func()
}

func (d *manualDispatcher) Post(task func()) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks = append(d.tasks, task)
	return true
}

func (d *manualDispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tasks)
}

func (d *manualDispatcher) RunAll() {
	d.mu.Lock()
	tasks := d.tasks
	d.tasks = nil
	d.mu.Unlock()
	for _, t := range tasks {
		t()
	}
}

// stubLoader returns a fixed result for every Take, like a canned loader
// with a single slot.
type stubLoader struct {
	mu       sync.Mutex
	result   func(Photo) *HTTPImage
	queued   []Photo
	executed [][]Photo
	panics   bool
}

func (l *stubLoader) Execute(_ context.Context, photos []Photo) {
	if l.panics {
		panic("loader exploded")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.executed = append(l.executed, photos)
	l.queued = append(l.queued, photos...)
}

func (l *stubLoader) Take(context.Context) *HTTPImage {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queued) == 0 {
		return nil
	}
	p := l.queued[0]
	l.queued = l.queued[1:]
	if l.result == nil {
		return &HTTPImage{Photo: p, Data: []byte{0xff, 0xd8, 0xff, 0xe0}}
	}
	return l.result(p)
}

func (l *stubLoader) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queued) > 0
}

// memCache is an in-memory ImageCache.
type memCache struct {
	mu     sync.Mutex
	images map[int][]byte
	err    error
}

func newMemCache() *memCache {
	return &memCache{images: make(map[int][]byte)}
}

func (c *memCache) CacheImage(_ context.Context, p Photo, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.images[p.ID] = append([]byte(nil), data...)
	return nil
}

func (c *memCache) get(id int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.images[id]
}

func (c *memCache) has(id int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.images[id]
	return ok
}
