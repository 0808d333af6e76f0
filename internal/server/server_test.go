package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/user/photostream/internal/scheduler"
	"github.com/user/photostream/internal/state"
	"github.com/user/photostream/internal/types"
	"github.com/user/photostream/pkg/photostream"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func setupServer(t *testing.T) (*Server, *photostream.FileCache, *state.Journal) {
	t.Helper()
	dir := t.TempDir()
	cache := photostream.NewFileCache(dir + "/images")
	journal := state.NewJournal(dir)
	status := func() Status {
		return Status{Connected: true, State: "connected", SessionID: "abc", Listeners: []string{"printer"}}
	}
	jobs := func() []scheduler.Entry {
		return []scheduler.Entry{{Name: "cache-prune", Schedule: "@hourly", Next: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}}
	}
	return New(cache, journal, status, jobs), cache, journal
}

func get(t *testing.T, srv http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := setupServer(t)
	w := get(t, srv, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %s", resp["status"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := setupServer(t)
	get(t, srv, "/health")

	w := get(t, srv, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "photostream_http_requests_total") {
		t.Error("expected request counter in metrics output")
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, _, _ := setupServer(t)
	w := get(t, srv, "/api/status")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var st Status
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if !st.Connected || st.State != "connected" || st.SessionID != "abc" {
		t.Errorf("unexpected status: %+v", st)
	}
}

func TestImagesEndpoints(t *testing.T) {
	srv, cache, _ := setupServer(t)

	w := get(t, srv, "/api/images")
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("expected empty list, got %s", w.Body.String())
	}

	data := pngBytes(t)
	if err := cache.CacheImage(context.Background(), photostream.Photo{ID: 7}, data); err != nil {
		t.Fatal(err)
	}

	w = get(t, srv, "/api/images")
	var entries []*photostream.CacheEntry
	if err := json.NewDecoder(w.Body).Decode(&entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].PhotoID != 7 || entries[0].Format != "png" {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	w = get(t, srv, "/api/images/7")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("expected image/png, got %s", ct)
	}
	if !bytes.Equal(w.Body.Bytes(), data) {
		t.Error("served bytes differ from cached bytes")
	}

	if w := get(t, srv, "/api/images/8"); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for uncached image, got %d", w.Code)
	}
	if w := get(t, srv, "/api/images/abc"); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad id, got %d", w.Code)
	}
}

func TestJournalEndpoints(t *testing.T) {
	srv, _, journal := setupServer(t)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		ev := &types.Event{SessionID: "s1", Type: types.EventPhotoAdded, PhotoID: i}
		if err := journal.Append(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	w := get(t, srv, "/api/journal")
	var sessions []*types.SessionInfo
	if err := json.NewDecoder(w.Body).Decode(&sessions); err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != "s1" || sessions[0].Events != 5 {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}

	w = get(t, srv, "/api/journal/s1?limit=2")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var events []*types.Event
	if err := json.NewDecoder(w.Body).Decode(&events); err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[0].PhotoID != 4 || events[1].PhotoID != 5 {
		t.Fatalf("unexpected tail: %+v", events)
	}

	w = get(t, srv, "/api/journal/unknown")
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("expected empty list for unknown session, got %s", w.Body.String())
	}
}

func TestJobsEndpoint(t *testing.T) {
	srv, _, _ := setupServer(t)
	w := get(t, srv, "/api/jobs")
	var jobs []jobResponse
	if err := json.NewDecoder(w.Body).Decode(&jobs); err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].Name != "cache-prune" || jobs[0].Next == nil || jobs[0].Prev != nil {
		t.Fatalf("unexpected jobs: %+v", jobs)
	}
}

func TestUnconfiguredRoutes(t *testing.T) {
	srv := New(nil, nil, nil, nil)
	for _, path := range []string{"/api/status", "/api/images", "/api/images/1", "/api/journal", "/api/journal/s1"} {
		if w := get(t, srv, path); w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: expected 503, got %d", path, w.Code)
		}
	}
	if w := get(t, srv, "/api/jobs"); w.Code != http.StatusOK {
		t.Errorf("expected 200 for jobs, got %d", w.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	srv, _, _ := setupServer(t)
	if w := get(t, srv, "/nope"); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
