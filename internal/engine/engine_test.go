package engine

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fetchkit/fetchd/internal/domain"
	"github.com/fetchkit/fetchd/internal/store"
	"go.uber.org/zap"
)

func testPayload(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i % 251)
	}
	return buf
}

// rangeServer serves a payload with full range support and records the
// Range headers it saw.
type rangeServer struct {
	payload []byte

	mu           sync.Mutex
	rangeHeaders []string
}

func (s *rangeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if rh := r.Header.Get("Range"); rh != "" {
		s.mu.Lock()
		s.rangeHeaders = append(s.rangeHeaders, rh)
		s.mu.Unlock()
	}
	http.ServeContent(w, r, "payload.bin", time.Unix(0, 0), bytes.NewReader(s.payload))
}

func (s *rangeServer) sawRanges() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.rangeHeaders...)
}

func newTestEngine(t *testing.T, cfg *Config, tasks *store.TaskStore) *Engine {
	t.Helper()
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.ProgressInterval = 20 * time.Millisecond
	return New(cfg, tasks, zap.NewNop())
}

func submitTask(tasks *store.TaskStore, id, url string) {
	tasks.Insert(domain.NewTask(id, url, "out.bin"))
}

func TestEngine_MultiStreamDownload(t *testing.T) {
	payload := testPayload(100003)
	srv := &rangeServer{payload: payload}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	tasks := store.New()
	submitTask(tasks, "t1", ts.URL)
	e := newTestEngine(t, nil, tasks)

	dir := t.TempDir()
	if err := e.Run(context.Background(), "t1", ts.URL, dir); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "out.bin"))
	if err != nil {
		t.Fatalf("read destination: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("destination bytes differ: got %d bytes, want %d", len(got), len(payload))
	}

	task, _ := tasks.Get("t1")
	if task.Status != domain.StatusCompleted {
		t.Errorf("status = %q, want %q", task.Status, domain.StatusCompleted)
	}
	if task.DownloadedBytes != int64(len(payload)) {
		t.Errorf("downloaded = %d, want %d", task.DownloadedBytes, len(payload))
	}
	if task.TotalSize != int64(len(payload)) {
		t.Errorf("total = %d, want %d", task.TotalSize, len(payload))
	}

	if ranges := srv.sawRanges(); len(ranges) != 8 {
		t.Errorf("server saw %d range requests, want 8: %v", len(ranges), ranges)
	}
}

func TestEngine_SingleStreamWhenNoRangeSupport(t *testing.T) {
	payload := testPayload(50000)
	var sawRange atomic.Bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "" {
			sawRange.Store(true)
		}
		// Content-Length is declared but Accept-Ranges is not.
		w.Header().Set("Content-Length", "50000")
		if r.Method == http.MethodHead {
			return
		}
		w.Write(payload)
	}))
	defer ts.Close()

	tasks := store.New()
	submitTask(tasks, "t1", ts.URL)
	e := newTestEngine(t, nil, tasks)

	dir := t.TempDir()
	if err := e.Run(context.Background(), "t1", ts.URL, dir); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if sawRange.Load() {
		t.Error("single-stream path issued a Range header")
	}

	got, err := os.ReadFile(filepath.Join(dir, "out.bin"))
	if err != nil {
		t.Fatalf("read destination: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("destination bytes differ from payload")
	}

	task, _ := tasks.Get("t1")
	if task.Status != domain.StatusCompleted {
		t.Errorf("status = %q, want %q", task.Status, domain.StatusCompleted)
	}
}

func TestEngine_SingleStreamUnknownLength(t *testing.T) {
	payload := testPayload(4096)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			// No Content-Length, no Accept-Ranges.
			return
		}
		w.Write(payload)
	}))
	defer ts.Close()

	tasks := store.New()
	submitTask(tasks, "t1", ts.URL)
	e := newTestEngine(t, nil, tasks)

	dir := t.TempDir()
	if err := e.Run(context.Background(), "t1", ts.URL, dir); err != nil {
		t.Fatalf("Run: %v", err)
	}

	task, _ := tasks.Get("t1")
	if task.Status != domain.StatusCompleted {
		t.Errorf("status = %q, want %q", task.Status, domain.StatusCompleted)
	}
	if task.TotalSize != int64(len(payload)) {
		t.Errorf("total = %d, want %d (written bytes)", task.TotalSize, len(payload))
	}
	if task.DownloadedBytes != task.TotalSize {
		t.Errorf("downloaded = %d, want %d", task.DownloadedBytes, task.TotalSize)
	}
}

func TestEngine_WorkerFailureSetsError(t *testing.T) {
	payload := testPayload(100003)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Fail the first planned range; serve everything else.
		if strings.HasPrefix(r.Header.Get("Range"), "bytes=0-") {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		http.ServeContent(w, r, "payload.bin", time.Unix(0, 0), bytes.NewReader(payload))
	}))
	defer ts.Close()

	tasks := store.New()
	submitTask(tasks, "t1", ts.URL)
	cfg := DefaultConfig()
	cfg.MaxRetries = 0
	e := newTestEngine(t, cfg, tasks)

	dir := t.TempDir()
	err := e.Run(context.Background(), "t1", ts.URL, dir)
	if err == nil {
		t.Fatal("Run succeeded, want chunk failure")
	}
	if !domain.IsChunkError(err) {
		t.Errorf("err = %v, want ChunkError", err)
	}

	task, _ := tasks.Get("t1")
	if task.Status != domain.StatusError {
		t.Errorf("status = %q, want %q", task.Status, domain.StatusError)
	}
	if task.ErrorReason == "" {
		t.Error("error reason is empty")
	}

	// Sibling ranges must still have landed on disk.
	got, err := os.ReadFile(filepath.Join(dir, "out.bin"))
	if err != nil {
		t.Fatalf("read destination: %v", err)
	}
	plan := Plan(int64(len(payload)), 8)
	last := plan[len(plan)-1]
	if !bytes.Equal(got[last.Start:last.End+1], payload[last.Start:last.End+1]) {
		t.Error("bytes of an unaffected range were not written")
	}
}

func TestEngine_ChunkRetryRecovers(t *testing.T) {
	payload := testPayload(100003)
	var failures atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.Header.Get("Range"), "bytes=0-") && failures.Add(1) == 1 {
			http.Error(w, "transient", http.StatusInternalServerError)
			return
		}
		http.ServeContent(w, r, "payload.bin", time.Unix(0, 0), bytes.NewReader(payload))
	}))
	defer ts.Close()

	tasks := store.New()
	submitTask(tasks, "t1", ts.URL)
	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	cfg.RetryBackoff = 5 * time.Millisecond
	e := newTestEngine(t, cfg, tasks)

	dir := t.TempDir()
	if err := e.Run(context.Background(), "t1", ts.URL, dir); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, _ := os.ReadFile(filepath.Join(dir, "out.bin"))
	if !bytes.Equal(got, payload) {
		t.Fatal("destination bytes differ after retry")
	}
	task, _ := tasks.Get("t1")
	if task.Status != domain.StatusCompleted {
		t.Errorf("status = %q, want %q", task.Status, domain.StatusCompleted)
	}
}

func TestEngine_CancellationLeavesStatusToCaller(t *testing.T) {
	payload := testPayload(1 << 20)
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "1048576")
			w.Header().Set("Accept-Ranges", "bytes")
			return
		}
		// Trickle a little data, then stall until cancelled.
		w.WriteHeader(http.StatusPartialContent)
		w.Write(payload[:1024])
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer ts.Close()
	defer close(release)

	tasks := store.New()
	submitTask(tasks, "t1", ts.URL)
	e := newTestEngine(t, nil, tasks)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- e.Run(ctx, "t1", ts.URL, t.TempDir())
	}()

	// Wait until the run is streaming, then cancel like a pause would.
	deadline := time.After(5 * time.Second)
	for {
		task, _ := tasks.Get("t1")
		if task.Status == domain.StatusDownloading {
			break
		}
		select {
		case <-deadline:
			t.Fatal("run never reached downloading status")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	// The engine must not decide the externally visible status itself.
	task, _ := tasks.Get("t1")
	if task.Status != domain.StatusDownloading {
		t.Errorf("status = %q after cancel, want %q left for the caller",
			task.Status, domain.StatusDownloading)
	}
}

func TestEngine_ProbeFailureSetsError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer ts.Close()

	tasks := store.New()
	submitTask(tasks, "t1", ts.URL)
	e := newTestEngine(t, nil, tasks)

	err := e.Run(context.Background(), "t1", ts.URL, t.TempDir())
	var pe *domain.ProbeError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want ProbeError", err)
	}

	task, _ := tasks.Get("t1")
	if task.Status != domain.StatusError {
		t.Errorf("status = %q, want %q", task.Status, domain.StatusError)
	}
}

func TestReporter_StopsWhenStatusChanges(t *testing.T) {
	tasks := store.New()
	task := domain.NewTask("t1", "http://example.com", "f")
	task.MarkDownloading(1000, "/tmp/f")
	tasks.Insert(task)

	e := newTestEngine(t, nil, tasks)

	var progress atomic.Int64
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reporterDone := make(chan struct{})
	go func() {
		e.report(ctx, "t1", &progress)
		close(reporterDone)
	}()

	progress.Store(400)
	waitFor(t, func() bool {
		got, _ := tasks.Get("t1")
		return got.DownloadedBytes == 400
	})

	// Progress must be observed as non-decreasing.
	progress.Store(700)
	waitFor(t, func() bool {
		got, _ := tasks.Get("t1")
		return got.DownloadedBytes == 700
	})

	// Once paused, the reporter stops instead of overwriting the status.
	tasks.Mutate("t1", func(task *domain.Task) { task.MarkPaused() })
	progress.Store(999)

	select {
	case <-reporterDone:
	case <-time.After(2 * time.Second):
		t.Fatal("reporter did not stop after status change")
	}

	got, _ := tasks.Get("t1")
	if got.Status != domain.StatusPaused {
		t.Errorf("status = %q, want %q", got.Status, domain.StatusPaused)
	}
	if got.DownloadedBytes == 999 {
		t.Error("reporter wrote progress after the task left downloading")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition not met in time")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
