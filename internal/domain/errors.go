package domain

import (
	"errors"
	"fmt"
)

// Common domain errors
var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrNotResumable      = errors.New("task is not paused or errored")
	ErrNotPausable       = errors.New("task is not pending or downloading")
	ErrNoLocalFile       = errors.New("task has no file on disk yet")
	ErrRangeNotSupported = errors.New("server does not support range requests")
)

// ProbeError reports a failed capability probe. A probe that fails at the
// transport level is fatal to the submission; a probe that merely lacks
// range support falls back to single-stream instead.
type ProbeError struct {
	URL string
	Err error
}

// Error returns the error message
func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %v", e.URL, e.Err)
}

// Unwrap returns the underlying error
func (e *ProbeError) Unwrap() error {
	return e.Err
}

// ChunkError reports the final failure of one range worker after its
// retry budget is exhausted. Sibling workers are unaffected.
type ChunkError struct {
	Index int
	Err   error
}

// Error returns the error message
func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d: %v", e.Index, e.Err)
}

// Unwrap returns the underlying error
func (e *ChunkError) Unwrap() error {
	return e.Err
}

// FilesystemError reports a create/resize/open/seek/write failure on the
// destination file.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

// Error returns the error message
func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error
func (e *FilesystemError) Unwrap() error {
	return e.Err
}

// IsChunkError returns true if err is a ChunkError
func IsChunkError(err error) bool {
	var ce *ChunkError
	return errors.As(err, &ce)
}
