package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fetchkit/fetchd/internal/domain"
	"github.com/fetchkit/fetchd/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const copyBufferSize = 64 * 1024

// Config contains download engine configuration
type Config struct {
	// ChunkCount is the number of ranges (and workers) per multi-stream run.
	ChunkCount int

	// ProgressInterval is how often the reporter flushes the byte counter
	// into the task store.
	ProgressInterval time.Duration

	// MaxRetries is the per-chunk retry budget after the first attempt.
	MaxRetries int

	// RetryBackoff is the base delay between chunk retries, scaled linearly
	// by attempt number.
	RetryBackoff time.Duration

	// RequestTimeout bounds each HTTP request including its body read.
	// Zero disables the bound.
	RequestTimeout time.Duration

	// RateLimit caps aggregate download throughput in bytes per second
	// across all workers of a run. Zero means unlimited.
	RateLimit int64
}

// DefaultConfig returns default engine configuration
func DefaultConfig() *Config {
	return &Config{
		ChunkCount:       8,
		ProgressInterval: 500 * time.Millisecond,
		MaxRetries:       3,
		RetryBackoff:     500 * time.Millisecond,
	}
}

// Engine executes download runs: it probes server capabilities, plans byte
// ranges, streams them through a bounded worker pool with positional writes,
// and resolves the task's final status. One Engine serves all tasks; each
// call to Run is one engine run.
type Engine struct {
	config  *Config
	client  *http.Client
	tasks   *store.TaskStore
	logger  *zap.Logger
	limiter *rate.Limiter
}

// New creates a new Engine
func New(cfg *Config, tasks *store.TaskStore, logger *zap.Logger) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.ChunkCount <= 0 {
		cfg.ChunkCount = 8
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 500 * time.Millisecond
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < copyBufferSize {
			burst = copyBufferSize
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Engine{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		tasks:   tasks,
		logger:  logger,
		limiter: limiter,
	}
}

// Run executes one engine run for the task with the given id, writing into
// destDir. On cancellation it returns the context error without touching
// the task's status: the cancelling operation owns the externally visible
// outcome. Any other failure transitions the task to the error status.
func (e *Engine) Run(ctx context.Context, id, url, destDir string) error {
	err := e.run(ctx, id, url, destDir)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	e.logger.Error("download failed",
		zap.String("task_id", id),
		zap.Error(err))
	e.tasks.Mutate(id, func(t *domain.Task) {
		t.MarkError(err.Error())
	})
	return err
}

func (e *Engine) run(ctx context.Context, id, url, destDir string) error {
	task, ok := e.tasks.Get(id)
	if !ok {
		return domain.ErrTaskNotFound
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return &domain.FilesystemError{Op: "create dir", Path: destDir, Err: err}
	}
	savePath := filepath.Join(destDir, task.Filename)

	totalSize, acceptRanges, err := e.probe(ctx, url)
	if err != nil {
		return &domain.ProbeError{URL: url, Err: err}
	}

	if err := preallocate(savePath, totalSize); err != nil {
		return err
	}

	e.tasks.Mutate(id, func(t *domain.Task) {
		t.MarkDownloading(totalSize, savePath)
	})

	// Shared byte counter: relaxed increments from workers, read by the
	// reporter. Addition is commutative, no lock needed.
	var progress atomic.Int64

	reporterCtx, stopReporter := context.WithCancel(ctx)
	defer stopReporter()
	go e.report(reporterCtx, id, &progress)

	plan := Plan(totalSize, e.config.ChunkCount)
	if acceptRanges && len(plan) > 0 {
		e.logger.Info("starting multi-stream download",
			zap.String("task_id", id),
			zap.String("filename", task.Filename),
			zap.Int64("total_size", totalSize),
			zap.Int("chunks", len(plan)))
		err = e.streamRanges(ctx, url, savePath, plan, &progress)
	} else {
		e.logger.Info("falling back to single stream",
			zap.String("task_id", id),
			zap.String("filename", task.Filename),
			zap.Int64("total_size", totalSize))
		var written int64
		written, err = e.streamSingle(ctx, url, savePath, &progress)
		if err == nil && totalSize == 0 {
			totalSize = written
		}
	}
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	stopReporter()
	final := totalSize
	e.tasks.Mutate(id, func(t *domain.Task) {
		t.TotalSize = final
		t.MarkCompleted()
	})

	e.logger.Info("download completed",
		zap.String("task_id", id),
		zap.String("path", savePath),
		zap.Int64("size", final))
	return nil
}

// probe issues the metadata-only request. It reports the declared content
// length (0 when absent) and whether byte ranges are advertised. Only a
// transport-level failure is an error here.
func (e *Engine) probe(ctx context.Context, url string) (int64, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, false, err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, false, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	totalSize := resp.ContentLength
	if totalSize < 0 {
		totalSize = 0
	}
	acceptRanges := resp.Header.Get("Accept-Ranges") == "bytes"
	return totalSize, acceptRanges, nil
}

// preallocate sizes the destination file up front so workers can write at
// arbitrary offsets independently.
func preallocate(path string, size int64) error {
	f, err := os.Create(path)
	if err != nil {
		return &domain.FilesystemError{Op: "create", Path: path, Err: err}
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return &domain.FilesystemError{Op: "preallocate", Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return &domain.FilesystemError{Op: "close", Path: path, Err: err}
	}
	return nil
}

// streamRanges fetches the planned ranges concurrently, bounded by a
// counting semaphore sized to the chunk count. Workers are joined before
// returning; one worker's failure does not abort its siblings, and the
// first failure decides the run's outcome.
func (e *Engine) streamRanges(ctx context.Context, url, savePath string, plan []Range, progress *atomic.Int64) error {
	sem := semaphore.NewWeighted(int64(e.config.ChunkCount))
	var g errgroup.Group

	for i, r := range plan {
		index, rng := i, r
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			return e.fetchRange(ctx, url, savePath, index, rng, progress)
		})
	}
	return g.Wait()
}

// fetchRange downloads one byte range with a bounded retry budget. Retries
// resume from the last byte written so the shared counter stays monotonic.
func (e *Engine) fetchRange(ctx context.Context, url, savePath string, index int, rng Range, progress *atomic.Int64) error {
	var written int64
	var lastErr error

	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			e.logger.Warn("retrying chunk",
				zap.Int("chunk", index),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * e.config.RetryBackoff):
			}
		}

		n, err := e.fetchRangeOnce(ctx, url, savePath, rng.Start+written, rng.End, progress)
		written += n
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
	}

	return &domain.ChunkError{Index: index, Err: lastErr}
}

// fetchRangeOnce streams bytes [start, end] to their file offset, advancing
// the shared counter as fragments arrive. It returns how many bytes were
// written, so a retry can pick up where this attempt stopped.
func (e *Engine) fetchRangeOnce(ctx context.Context, url, savePath string, start, end int64, progress *atomic.Int64) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		return 0, fmt.Errorf("unexpected status %d for range request", resp.StatusCode)
	}

	f, err := os.OpenFile(savePath, os.O_WRONLY, 0)
	if err != nil {
		return 0, &domain.FilesystemError{Op: "open", Path: savePath, Err: err}
	}
	defer f.Close()

	var written int64
	buf := make([]byte, copyBufferSize)
	offset := start
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if err := e.throttle(ctx, n); err != nil {
				return written, err
			}
			if _, err := f.WriteAt(buf[:n], offset); err != nil {
				return written, &domain.FilesystemError{Op: "write", Path: savePath, Err: err}
			}
			offset += int64(n)
			written += int64(n)
			progress.Add(int64(n))
		}
		if readErr != nil {
			if readErr == io.EOF {
				return written, nil
			}
			return written, readErr
		}
		// Cooperative cancellation point between writes.
		if err := ctx.Err(); err != nil {
			return written, err
		}
	}
}

// streamSingle downloads the whole payload sequentially, used when the
// server declares no usable length or no range support. Never sends a
// Range header.
func (e *Engine) streamSingle(ctx context.Context, url, savePath string, progress *atomic.Int64) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	f, err := os.OpenFile(savePath, os.O_WRONLY, 0)
	if err != nil {
		return 0, &domain.FilesystemError{Op: "open", Path: savePath, Err: err}
	}
	defer f.Close()

	var written int64
	buf := make([]byte, copyBufferSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if err := e.throttle(ctx, n); err != nil {
				return written, err
			}
			if _, err := f.WriteAt(buf[:n], written); err != nil {
				return written, &domain.FilesystemError{Op: "write", Path: savePath, Err: err}
			}
			written += int64(n)
			progress.Add(int64(n))
		}
		if readErr != nil {
			if readErr == io.EOF {
				return written, nil
			}
			return written, readErr
		}
		if err := ctx.Err(); err != nil {
			return written, err
		}
	}
}

// throttle blocks until the shared rate limiter admits n bytes.
func (e *Engine) throttle(ctx context.Context, n int) error {
	if e.limiter == nil {
		return nil
	}
	return e.limiter.WaitN(ctx, n)
}
