package domain

import "time"

// Status values a task moves through over its lifetime.
const (
	StatusPending     = "pending"
	StatusDownloading = "downloading"
	StatusPaused      = "paused"
	StatusCompleted   = "completed"
	StatusError       = "error"
)

// Task represents one requested download and its lifecycle record.
// The task store owns all Task values; other components read and
// mutate them only through the store's accessors.
type Task struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Filename string `json:"filename"`

	// TotalSize is 0 until the capability probe reports the content length.
	TotalSize       int64 `json:"total_size"`
	DownloadedBytes int64 `json:"downloaded_bytes"`

	Status string `json:"status"`

	// ErrorReason is set only while Status is StatusError.
	ErrorReason string `json:"error_reason,omitempty"`

	// SavePath is the absolute destination path, empty until a run begins.
	SavePath string `json:"save_path"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTask creates a pending task for the given URL.
func NewTask(id, url, filename string) Task {
	now := time.Now()
	return Task{
		ID:        id,
		URL:       url,
		Filename:  filename,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CanResume reports whether a resume operation may reanimate the task.
func (t *Task) CanResume() bool {
	return t.Status == StatusPaused || t.Status == StatusError
}

// MarkDownloading records the start of an engine run. Progress restarts
// from zero on every run, including resume.
func (t *Task) MarkDownloading(totalSize int64, savePath string) {
	t.Status = StatusDownloading
	t.TotalSize = totalSize
	t.SavePath = savePath
	t.DownloadedBytes = 0
	t.ErrorReason = ""
	t.UpdatedAt = time.Now()
}

// MarkCompleted finalizes a successful run.
func (t *Task) MarkCompleted() {
	t.Status = StatusCompleted
	t.DownloadedBytes = t.TotalSize
	t.ErrorReason = ""
	t.UpdatedAt = time.Now()
}

// MarkError records a failed run with its reason.
func (t *Task) MarkError(reason string) {
	t.Status = StatusError
	t.ErrorReason = reason
	t.UpdatedAt = time.Now()
}

// MarkPaused records an externally forced interruption.
func (t *Task) MarkPaused() {
	t.Status = StatusPaused
	t.UpdatedAt = time.Now()
}

// MarkPending resets the task ahead of a fresh engine run.
func (t *Task) MarkPending() {
	t.Status = StatusPending
	t.ErrorReason = ""
	t.UpdatedAt = time.Now()
}
