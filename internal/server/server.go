// Package server is the thin HTTP edge over the core: it translates JSON
// requests into store, dispatcher, and artifact calls and nothing more.
// Authentication, host allowlisting, and TLS live outside this service.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"mediascribe/internal/artifacts"
	"mediascribe/internal/domain"
	"mediascribe/internal/events"
	"mediascribe/internal/pipeline"
	"mediascribe/internal/store"
)

// maxUploadBytes bounds accepted upload bodies.
const maxUploadBytes = 2 << 30

// Server carries the handler dependencies.
type Server struct {
	tasks      *store.Store
	artifacts  *artifacts.Store
	dispatcher *pipeline.Dispatcher
	bus        *events.Bus
	report     domain.DiagnosticReport
	logger     *slog.Logger
}

// New builds the HTTP adapter.
func New(
	tasks *store.Store,
	artifactStore *artifacts.Store,
	dispatcher *pipeline.Dispatcher,
	bus *events.Bus,
	report domain.DiagnosticReport,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		tasks:      tasks,
		artifacts:  artifactStore,
		dispatcher: dispatcher,
		bus:        bus,
		report:     report,
		logger:     logger,
	}
}

// Routes mounts all API endpoints on a new chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/tasks", s.createTask)
		r.Get("/tasks", s.listTasks)
		r.Post("/uploads", s.createUploadTask)
		r.Get("/tasks/{id}", s.getTask)
		r.Post("/tasks/{id}/cancel", s.cancelTask)
		r.Delete("/tasks/{id}", s.deleteTask)
		r.Post("/tasks/{id}/translate", s.translateTask)
		r.Get("/events", s.listEvents)
		r.Get("/diagnostics", s.getDiagnostics)
	})
	return r
}

// createTaskRequest is the JSON body for URL-sourced task creation.
type createTaskRequest struct {
	URL string `json:"url"`
}

// createTask registers a URL task and dispatches its worker.
func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	task, created := s.tasks.CreateTask(strings.TrimSpace(req.URL))
	if created {
		s.dispatcher.Dispatch(task.ID)
	}
	writeJSON(w, http.StatusAccepted, task)
}

// createUploadTask accepts a multipart media upload, stores the file into
// the task's working directory, and dispatches the worker.
func (s *Server) createUploadTask(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	kind := domain.MediaKind(r.FormValue("kind"))
	if kind != domain.MediaKindVideo && kind != domain.MediaKindAudio {
		writeError(w, http.StatusBadRequest, "kind must be video or audio")
		return
	}

	task, created := s.tasks.CreateUploadTask(filepath.Base(header.Filename), kind)
	if !created {
		// Idempotent hit on an active upload task: the file is already saved.
		writeJSON(w, http.StatusAccepted, task)
		return
	}

	workDir, err := s.artifacts.TaskWorkingDir(task.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cannot allocate working directory")
		return
	}
	savedPath := filepath.Join(workDir, "upload"+filepath.Ext(header.Filename))
	out, err := os.Create(savedPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cannot store upload")
		return
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		writeError(w, http.StatusInternalServerError, "upload write failed")
		return
	}
	if err := out.Close(); err != nil {
		writeError(w, http.StatusInternalServerError, "upload write failed")
		return
	}

	if err := s.tasks.Update(task.ID, func(t *domain.Task) {
		t.AudioFilePath = savedPath
	}); err != nil {
		writeError(w, http.StatusInternalServerError, "task update failed")
		return
	}
	s.artifacts.Register(task.ID, []string{savedPath}, true)

	s.dispatcher.Dispatch(task.ID)
	task, _ = s.tasks.Get(task.ID)
	writeJSON(w, http.StatusAccepted, task)
}

// listTasks returns all known tasks, newest first.
func (s *Server) listTasks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.tasks.List())
}

// getTask returns one task by id.
func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// cancelTask flags the task for cooperative cancellation.
func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.tasks.RequestCancel(id); err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancellation requested"})
}

// deleteTask removes the task record and every artifact it owns.
func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.tasks.Delete(id); err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	s.artifacts.DeleteTask(id)
	w.WriteHeader(http.StatusNoContent)
}

// translateTask starts the bilingual sub-pipeline for a completed task.
func (s *Server) translateTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, err := s.tasks.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if task.Status != domain.TaskStatusCompleted || task.Transcript == "" {
		writeError(w, http.StatusConflict, "task has no completed transcript")
		return
	}

	s.dispatcher.DispatchTranslation(id)
	writeJSON(w, http.StatusAccepted, map[string]string{"translationStatus": string(domain.TranslationStatusProcessing)})
}

// listEvents returns buffered events after the given sequence number.
func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	since := int64(0)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an integer")
			return
		}
		since = parsed
	}
	writeJSON(w, http.StatusOK, s.bus.Since(since))
}

// getDiagnostics returns the startup check report.
func (s *Server) getDiagnostics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.report)
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && !errors.Is(err, http.ErrBodyNotAllowed) {
		slog.Error("encode response", "err", err)
	}
}

// writeError writes a JSON error payload.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
