package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fetchkit/fetchd/internal/store"
	"go.uber.org/zap"
)

// Config contains history flusher configuration
type Config struct {
	// SaveInterval is how often the task snapshot is written out.
	SaveInterval time.Duration
}

// DefaultConfig returns default flusher configuration
func DefaultConfig() *Config {
	return &Config{
		SaveInterval: 5 * time.Second,
	}
}

// Flusher periodically snapshots the in-memory task store into the
// history database, and once more on shutdown.
type Flusher struct {
	config  *Config
	history *Store
	tasks   *store.TaskStore
	logger  *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewFlusher creates a new Flusher
func NewFlusher(cfg *Config, history *Store, tasks *store.TaskStore, logger *zap.Logger) *Flusher {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.SaveInterval == 0 {
		cfg.SaveInterval = 5 * time.Second
	}

	return &Flusher{
		config:  cfg,
		history: history,
		tasks:   tasks,
		logger:  logger,
	}
}

// Start starts the flusher and blocks until the context is cancelled
// or Stop is called. The final snapshot is written before returning.
func (f *Flusher) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return fmt.Errorf("history flusher already running")
	}
	f.running = true
	ctx, f.cancel = context.WithCancel(ctx)
	f.mu.Unlock()

	f.logger.Info("history flusher started",
		zap.Duration("save_interval", f.config.SaveInterval))

	f.wg.Add(1)
	go f.flushLoop(ctx)

	<-ctx.Done()
	f.wg.Wait()
	f.logger.Info("history flusher stopped")
	return nil
}

// Stop stops the flusher
func (f *Flusher) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		f.cancel()
	}
	f.running = false
}

// flushLoop writes snapshots on a fixed interval
func (f *Flusher) flushLoop(ctx context.Context) {
	defer f.wg.Done()

	ticker := time.NewTicker(f.config.SaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.flush()
			return
		case <-ticker.C:
			f.flush()
		}
	}
}

func (f *Flusher) flush() {
	if err := f.history.Save(f.tasks.List()); err != nil {
		f.logger.Error("failed to save history snapshot", zap.Error(err))
	}
}
