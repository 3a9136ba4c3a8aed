package manager

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"sync"

	"github.com/fetchkit/fetchd/internal/domain"
	"github.com/fetchkit/fetchd/internal/engine"
	"github.com/fetchkit/fetchd/internal/fs"
	"github.com/fetchkit/fetchd/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const fallbackFilename = "download.bin"

// Manager is the control plane over download tasks. It owns the mapping
// from task ids to in-flight cancellation handles, launches engine runs,
// and enforces which lifecycle transitions each operation may perform.
// All methods are safe for concurrent use.
type Manager struct {
	tasks    *store.TaskStore
	engine   *engine.Engine
	registry *engine.Registry
	logger   *zap.Logger

	downloadDir string

	wg sync.WaitGroup
}

// New creates a new Manager writing downloads into downloadDir.
func New(tasks *store.TaskStore, eng *engine.Engine, logger *zap.Logger, downloadDir string) *Manager {
	return &Manager{
		tasks:       tasks,
		engine:      eng,
		registry:    engine.NewRegistry(),
		logger:      logger,
		downloadDir: downloadDir,
	}
}

// Submit registers a new download for the given URL and starts it in the
// background. The returned task is the initial pending record.
func (m *Manager) Submit(rawURL string) (domain.Task, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return domain.Task{}, fmt.Errorf("invalid download url %q", rawURL)
	}

	task := domain.NewTask(uuid.NewString(), rawURL, FilenameFromURL(u))
	m.tasks.Insert(task)

	m.logger.Info("task submitted",
		zap.String("task_id", task.ID),
		zap.String("url", rawURL),
		zap.String("filename", task.Filename))

	m.launch(task.ID, rawURL)
	return task, nil
}

// launch starts one engine run for the task and registers its
// cancellation handle. A run that finishes on its own drops its own
// registry entry; pause and delete cancel through the registry.
func (m *Manager) launch(id, rawURL string) {
	ctx, cancel := context.WithCancel(context.Background())
	gen := m.registry.Register(id, cancel)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		m.engine.Run(ctx, id, rawURL, m.downloadDir)
		m.registry.Remove(id, gen)
	}()
}

// Pause interrupts an active task. The run's context is cancelled via
// the registry and the task is marked paused; the engine itself never
// writes a status on cancellation, so the transition here is the only
// externally visible outcome.
func (m *Manager) Pause(id string) error {
	task, ok := m.tasks.Get(id)
	if !ok {
		return domain.ErrTaskNotFound
	}
	if task.Status != domain.StatusPending && task.Status != domain.StatusDownloading {
		return domain.ErrNotPausable
	}

	if cancel, ok := m.registry.Take(id); ok {
		cancel()
	}
	m.tasks.Mutate(id, func(t *domain.Task) {
		t.MarkPaused()
	})

	m.logger.Info("task paused", zap.String("task_id", id))
	return nil
}

// Resume restarts a paused or errored task from scratch with a fresh
// run and a fresh cancellation handle.
func (m *Manager) Resume(id string) error {
	task, ok := m.tasks.Get(id)
	if !ok {
		return domain.ErrTaskNotFound
	}
	if !task.CanResume() {
		return domain.ErrNotResumable
	}

	m.tasks.Mutate(id, func(t *domain.Task) {
		t.MarkPending()
	})
	m.launch(id, task.URL)

	m.logger.Info("task resumed", zap.String("task_id", id))
	return nil
}

// Delete cancels the task if it is running and removes its record.
// Bytes already on disk are left in place.
func (m *Manager) Delete(id string) error {
	if cancel, ok := m.registry.Take(id); ok {
		cancel()
	}
	if removed := m.tasks.RemoveWhere(func(t domain.Task) bool {
		return t.ID == id
	}); removed == 0 {
		return domain.ErrTaskNotFound
	}

	m.logger.Info("task deleted", zap.String("task_id", id))
	return nil
}

// DeleteCompleted removes all completed task records and reports how
// many were removed.
func (m *Manager) DeleteCompleted() int {
	removed := m.tasks.RemoveWhere(func(t domain.Task) bool {
		return t.Status == domain.StatusCompleted
	})
	if removed > 0 {
		m.logger.Info("completed tasks cleared", zap.Int("count", removed))
	}
	return removed
}

// DeleteAll cancels every active run and removes every record.
// Cancellation happens before the records go away so no run keeps
// writing for a task that no longer exists.
func (m *Manager) DeleteAll() int {
	m.registry.CancelAll()
	removed := m.tasks.RemoveWhere(func(t domain.Task) bool {
		return true
	})
	if removed > 0 {
		m.logger.Info("all tasks cleared", zap.Int("count", removed))
	}
	return removed
}

// List returns a snapshot of all task records.
func (m *Manager) List() []domain.Task {
	return m.tasks.List()
}

// Get returns a snapshot of one task record.
func (m *Manager) Get(id string) (domain.Task, error) {
	task, ok := m.tasks.Get(id)
	if !ok {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	return task, nil
}

// OpenLocation reveals the task's file in the platform file manager.
func (m *Manager) OpenLocation(id string) error {
	task, ok := m.tasks.Get(id)
	if !ok {
		return domain.ErrTaskNotFound
	}
	if task.SavePath == "" {
		return domain.ErrNoLocalFile
	}
	return fs.Reveal(task.SavePath)
}

// Shutdown cancels all active runs and waits for their goroutines.
func (m *Manager) Shutdown() {
	m.registry.CancelAll()
	m.wg.Wait()
}

// FilenameFromURL derives the destination filename from the last path
// segment of the URL, ignoring query and fragment. URLs without a
// usable segment get a generic fallback name.
func FilenameFromURL(u *url.URL) string {
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return fallbackFilename
	}
	return name
}
