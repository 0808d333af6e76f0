// internal/state/journal.go
package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/user/photostream/internal/types"
)

const maxJournalLine = 1 << 20

// Journal is a JSONL-backed append-only event log.
// Events are stored per-session in journal/<sessionID>.jsonl.
type Journal struct {
	root  string
	mu    sync.Mutex
	locks map[types.SessionID]*sync.Mutex
	seqs  map[types.SessionID]int64
}

// NewJournal creates a new file-backed Journal rooted at the given directory.
func NewJournal(root string) *Journal {
	return &Journal{
		root:  root,
		locks: make(map[types.SessionID]*sync.Mutex),
		seqs:  make(map[types.SessionID]int64),
	}
}

// getLock returns the per-session mutex, creating one if it doesn't exist.
func (j *Journal) getLock(sessionID types.SessionID) *sync.Mutex {
	j.mu.Lock()
	defer j.mu.Unlock()

	if lock, ok := j.locks[sessionID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	j.locks[sessionID] = lock
	return lock
}

func (j *Journal) dir() string {
	return filepath.Join(j.root, "journal")
}

func (j *Journal) path(sessionID types.SessionID) string {
	return filepath.Join(j.dir(), string(sessionID)+".jsonl")
}

func validSession(sessionID types.SessionID) error {
	s := string(sessionID)
	if s == "" || strings.ContainsAny(s, `/\`) || s == "." || s == ".." {
		return fmt.Errorf("invalid session id %q", s)
	}
	return nil
}

func newScanner(f *os.File) *bufio.Scanner {
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxJournalLine)
	return scanner
}

// count reads the journal file and counts lines. Caller must hold the session lock.
func (j *Journal) count(sessionID types.SessionID) (int64, error) {
	f, err := os.Open(j.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var count int64
	scanner := newScanner(f)
	for scanner.Scan() {
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan journal: %w", err)
	}
	return count, nil
}

// Append adds an event to the session's journal with an auto-incremented
// sequence number. ID and At are filled in when empty.
func (j *Journal) Append(_ context.Context, event *types.Event) error {
	if err := validSession(event.SessionID); err != nil {
		return err
	}
	lock := j.getLock(event.SessionID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(j.dir(), 0o755); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}

	j.mu.Lock()
	seq, known := j.seqs[event.SessionID]
	j.mu.Unlock()
	if !known {
		existing, err := j.count(event.SessionID)
		if err != nil {
			return err
		}
		seq = existing
	}
	event.Seq = seq + 1
	if event.ID == "" {
		event.ID = types.NewEventID()
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	f, err := os.OpenFile(j.path(event.SessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	j.mu.Lock()
	j.seqs[event.SessionID] = event.Seq
	j.mu.Unlock()
	return nil
}

// Tail returns the last N events for the given session. A limit of zero or
// less returns every event.
func (j *Journal) Tail(_ context.Context, sessionID types.SessionID, limit int) ([]*types.Event, error) {
	if err := validSession(sessionID); err != nil {
		return nil, err
	}
	lock := j.getLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.Open(j.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var events []*types.Event
	scanner := newScanner(f)
	for scanner.Scan() {
		var event types.Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		events = append(events, &event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}

	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

// Count returns the number of events for the given session.
func (j *Journal) Count(_ context.Context, sessionID types.SessionID) (int64, error) {
	if err := validSession(sessionID); err != nil {
		return 0, err
	}
	lock := j.getLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	return j.count(sessionID)
}

// Sessions lists journaled sessions, most recently updated first.
func (j *Journal) Sessions(ctx context.Context) ([]*types.SessionInfo, error) {
	entries, err := os.ReadDir(j.dir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read journal dir: %w", err)
	}

	var sessions []*types.SessionInfo
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat journal: %w", err)
		}
		id := types.SessionID(strings.TrimSuffix(name, ".jsonl"))
		n, err := j.Count(ctx, id)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, &types.SessionInfo{
			SessionID: id,
			Events:    n,
			Size:      info.Size(),
			UpdatedAt: info.ModTime(),
		})
	}
	sort.Slice(sessions, func(a, b int) bool {
		return sessions[a].UpdatedAt.After(sessions[b].UpdatedAt)
	})
	return sessions, nil
}
