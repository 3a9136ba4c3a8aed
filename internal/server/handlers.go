package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/fetchkit/fetchd/internal/domain"
	"github.com/fetchkit/fetchd/internal/fs"
	"github.com/fetchkit/fetchd/internal/logger"
)

type submitRequest struct {
	URL string `json:"url"`
}

type removedResponse struct {
	Removed int `json:"removed"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleDownloads serves the collection endpoints: list, submit, and
// clear everything.
func (s *Server) handleDownloads(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		tasks := s.manager.List()
		if tasks == nil {
			tasks = []domain.Task{}
		}
		writeJSON(w, http.StatusOK, tasks)

	case http.MethodPost:
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
			writeError(w, http.StatusBadRequest, "request body must be JSON with a url field")
			return
		}
		task, err := s.manager.Submit(req.URL)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, task)

	case http.MethodDelete:
		writeJSON(w, http.StatusOK, removedResponse{Removed: s.manager.DeleteAll()})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleDownloadByID serves the per-task endpoints and the completed
// bulk delete: /api/downloads/{id}, /api/downloads/{id}/{action} and
// /api/downloads/completed.
func (s *Server) handleDownloadByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/downloads/")
	if rest == "" {
		writeError(w, http.StatusNotFound, "task id required")
		return
	}

	if rest == "completed" {
		if r.Method != http.MethodDelete {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, removedResponse{Removed: s.manager.DeleteCompleted()})
		return
	}

	id := rest
	action := ""
	if idx := strings.Index(rest, "/"); idx >= 0 {
		id, action = rest[:idx], rest[idx+1:]
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			task, err := s.manager.Get(id)
			if err != nil {
				writeManagerError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, task)
		case http.MethodDelete:
			if err := s.manager.Delete(id); err != nil {
				writeManagerError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}

	case "pause":
		s.handleTaskAction(w, r, id, s.manager.Pause)

	case "resume":
		s.handleTaskAction(w, r, id, s.manager.Resume)

	case "open":
		s.handleTaskAction(w, r, id, s.manager.OpenLocation)

	default:
		writeError(w, http.StatusNotFound, "unknown action")
	}
}

func (s *Server) handleTaskAction(w http.ResponseWriter, r *http.Request, id string, action func(string) error) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := action(id); err != nil {
		writeManagerError(w, err)
		return
	}
	task, err := s.manager.Get(id)
	if err != nil {
		// Deleted between the action and the read.
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if s.history != nil {
		if err := s.history.Ping(); err != nil {
			logger.Log.Errorw("Health check failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "history database unavailable")
			return
		}
	}

	resp := map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	}
	if usage, err := fs.GetDiskUsage(s.downloadDir); err == nil {
		resp["disk_free_bytes"] = usage.Free
		resp["disk_used_pct"] = usage.UsedPct
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeManagerError maps control plane errors onto HTTP status codes.
func writeManagerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrNotResumable),
		errors.Is(err, domain.ErrNotPausable),
		errors.Is(err, domain.ErrNoLocalFile):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
