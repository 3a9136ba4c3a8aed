package domain

import (
	"testing"
	"time"
)

func TestNewTask(t *testing.T) {
	task := NewTask("t1", "http://host/f.bin", "f.bin")

	if task.Status != StatusPending {
		t.Errorf("status = %q, want %q", task.Status, StatusPending)
	}
	if task.TotalSize != 0 || task.DownloadedBytes != 0 {
		t.Errorf("sizes = %d/%d, want 0/0 before the probe", task.TotalSize, task.DownloadedBytes)
	}
	if task.CreatedAt.IsZero() || task.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}
}

func TestTask_LifecycleTransitions(t *testing.T) {
	task := NewTask("t1", "http://host/f.bin", "f.bin")

	task.MarkDownloading(1000, "/dl/f.bin")
	if task.Status != StatusDownloading {
		t.Fatalf("status = %q, want downloading", task.Status)
	}
	if task.TotalSize != 1000 || task.SavePath != "/dl/f.bin" {
		t.Errorf("run metadata = %d/%q", task.TotalSize, task.SavePath)
	}

	task.MarkCompleted()
	if task.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed", task.Status)
	}
	if task.DownloadedBytes != task.TotalSize {
		t.Errorf("completed task downloaded %d of %d", task.DownloadedBytes, task.TotalSize)
	}
}

func TestTask_MarkDownloadingResetsProgress(t *testing.T) {
	task := NewTask("t1", "http://host/f.bin", "f.bin")
	task.MarkDownloading(1000, "/dl/f.bin")
	task.DownloadedBytes = 400
	task.MarkPaused()

	// A resumed run starts over from byte zero.
	task.MarkPending()
	task.MarkDownloading(1000, "/dl/f.bin")
	if task.DownloadedBytes != 0 {
		t.Errorf("downloaded = %d after restart, want 0", task.DownloadedBytes)
	}
}

func TestTask_ErrorReasonClearedOnRecovery(t *testing.T) {
	task := NewTask("t1", "http://host/f.bin", "f.bin")
	task.MarkError("connection refused")

	if task.Status != StatusError || task.ErrorReason == "" {
		t.Fatalf("errored task = %q/%q", task.Status, task.ErrorReason)
	}

	task.MarkPending()
	if task.ErrorReason != "" {
		t.Errorf("reason %q survived MarkPending", task.ErrorReason)
	}

	task.MarkError("timeout")
	task.MarkDownloading(1000, "/dl/f.bin")
	if task.ErrorReason != "" {
		t.Errorf("reason %q survived MarkDownloading", task.ErrorReason)
	}
}

func TestTask_CanResume(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{StatusPending, false},
		{StatusDownloading, false},
		{StatusPaused, true},
		{StatusError, true},
		{StatusCompleted, false},
	}

	for _, tt := range tests {
		task := Task{Status: tt.status}
		if got := task.CanResume(); got != tt.want {
			t.Errorf("CanResume() with status %q = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestTask_TransitionsTouchUpdatedAt(t *testing.T) {
	task := NewTask("t1", "http://host/f.bin", "f.bin")
	before := task.UpdatedAt

	time.Sleep(time.Millisecond)
	task.MarkPaused()
	if !task.UpdatedAt.After(before) {
		t.Error("MarkPaused did not advance UpdatedAt")
	}
}
