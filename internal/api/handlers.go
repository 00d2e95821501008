package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"oculith/internal/index"
	"oculith/internal/records"
	"oculith/internal/services"
	"oculith/internal/tasks"
)

// uploadMemoryLimit bounds how much of a multipart body is held in
// memory before spilling to temp files.
const uploadMemoryLimit = 8 << 20

type fileView struct {
	ID             string   `json:"id"`
	OriginalName   string   `json:"original_name"`
	SourceType     string   `json:"source_type"`
	SourceURL      string   `json:"source_url,omitempty"`
	Extension      string   `json:"extension"`
	ContentType    string   `json:"content_type"`
	SizeBytes      int64    `json:"size_bytes"`
	Status         string   `json:"status"`
	LastStage      string   `json:"last_stage,omitempty"`
	RequestedSteps []string `json:"requested_steps,omitempty"`
	LastError      string   `json:"last_error,omitempty"`
	ChunkCount     int      `json:"chunk_count"`
	CreatedAt      string   `json:"created_at"`
	UpdatedAt      string   `json:"updated_at"`
}

type taskView struct {
	ID         string   `json:"id"`
	FileID     string   `json:"file_id"`
	Steps      []string `json:"steps"`
	Priority   int      `json:"priority"`
	State      string   `json:"state"`
	Error      string   `json:"error,omitempty"`
	EnqueuedAt string   `json:"enqueued_at"`
	StartedAt  string   `json:"started_at,omitempty"`
	FinishedAt string   `json:"finished_at,omitempty"`
}

func viewOfRecord(record *records.FileRecord) fileView {
	steps := make([]string, len(record.RequestedSteps))
	for i, step := range record.RequestedSteps {
		steps[i] = string(step)
	}
	return fileView{
		ID:             record.ID,
		OriginalName:   record.OriginalName,
		SourceType:     string(record.SourceType),
		SourceURL:      record.SourceURL,
		Extension:      record.Extension,
		ContentType:    record.ContentType,
		SizeBytes:      record.SizeBytes,
		Status:         string(record.Status),
		LastStage:      string(record.LastStage),
		RequestedSteps: steps,
		LastError:      record.LastError,
		ChunkCount:     record.ChunkCount,
		CreatedAt:      record.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      record.UpdatedAt.Format(time.RFC3339),
	}
}

func viewOfTask(task *tasks.Task) taskView {
	view := taskView{
		ID:         task.ID,
		FileID:     task.FileID,
		Steps:      task.StepNames(),
		Priority:   task.Priority,
		State:      string(task.State),
		Error:      task.Error,
		EnqueuedAt: task.EnqueuedAt.Format(time.RFC3339),
	}
	if !task.StartedAt.IsZero() {
		view.StartedAt = task.StartedAt.Format(time.RFC3339)
	}
	if !task.FinishedAt.IsZero() {
		view.FinishedAt = task.FinishedAt.Format(time.RFC3339)
	}
	return view
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(uploadMemoryLimit); err != nil {
		s.respondError(w, services.Wrap(services.ErrValidation, "api", "upload", "parse multipart form", err))
		return
	}
	payload, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, services.Wrap(services.ErrValidation, "api", "upload", "missing file field", err))
		return
	}
	defer payload.Close()

	record, err := s.files.RegisterUpload(r.Context(), header.Filename, payload)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, viewOfRecord(record))
}

func (s *Server) handleRemote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, services.Wrap(services.ErrValidation, "api", "register remote", "decode request body", err))
		return
	}
	record, err := s.files.RegisterRemote(r.Context(), req.URL)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, viewOfRecord(record))
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	var statuses []records.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status, ok := records.ParseStatus(part)
			if !ok {
				s.respondError(w, services.Wrap(services.ErrValidation, "api", "list files", "unknown status "+part, nil))
				return
			}
			statuses = append(statuses, status)
		}
	}

	list, err := s.store.List(r.Context(), statuses...)
	if err != nil {
		s.respondError(w, err)
		return
	}
	views := make([]fileView, len(list))
	for i, record := range list {
		views[i] = viewOfRecord(record)
	}
	s.respondJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	record, err := s.store.Get(r.Context(), chi.URLParam(r, "fileID"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, viewOfRecord(record))
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")
	if err := s.files.Delete(r.Context(), fileID); err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.vectors.DeleteFile(r.Context(), fileID); err != nil {
		s.respondError(w, err)
		return
	}
	s.publisher.Forget(fileID)
	s.respondJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleMarkdown(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")
	if _, err := s.store.Get(r.Context(), fileID); err != nil {
		s.respondError(w, err)
		return
	}
	markdown, err := s.files.Markdown(fileID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Write([]byte(markdown))
}

func (s *Server) handleChunks(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")
	if _, err := s.store.Get(r.Context(), fileID); err != nil {
		s.respondError(w, err)
		return
	}
	chunks, err := s.files.Chunks(fileID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"chunks": chunks, "count": len(chunks)})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Steps    []string `json:"steps"`
		Priority int      `json:"priority"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, services.Wrap(services.ErrValidation, "api", "process", "decode request body", err))
			return
		}
	}

	steps := make([]records.Step, 0, len(req.Steps))
	for _, raw := range req.Steps {
		step, ok := records.ParseStep(raw)
		if !ok {
			s.respondError(w, services.Wrap(services.ErrValidation, "api", "process", "unknown step "+raw, nil))
			return
		}
		steps = append(steps, step)
	}

	task, err := s.pipeline.Submit(r.Context(), chi.URLParam(r, "fileID"), steps, req.Priority)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, viewOfTask(task))
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.registry.Get(chi.URLParam(r, "taskID"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, viewOfTask(task))
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.pipeline.Cancel(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, viewOfTask(task))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query  string `json:"query"`
		FileID string `json:"file_id"`
		Limit  int    `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, services.Wrap(services.ErrValidation, "api", "search", "decode request body", err))
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		s.respondError(w, services.Wrap(services.ErrValidation, "api", "search", "query is required", nil))
		return
	}

	vector, err := s.embedder.EmbedText(r.Context(), req.Query)
	if err != nil {
		s.respondError(w, services.Wrap(services.ErrCollaborator, "api", "search", "embed query", err))
		return
	}
	results, err := s.vectors.Search(r.Context(), vector, req.FileID, req.Limit)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if results == nil {
		results = []index.SearchResult{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"results": results})
}

type statusView struct {
	UptimeSeconds int64            `json:"uptime_seconds"`
	QueueDepth    int              `json:"queue_depth"`
	Files         map[string]int   `json:"files"`
	Stages        []stageHealthDTO `json:"stages"`
}

type stageHealthDTO struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	counts := make(map[string]int, len(stats))
	for status, count := range stats {
		counts[string(status)] = count
	}

	health := s.pipeline.Health(r.Context())
	stages := make([]stageHealthDTO, len(health))
	for i, h := range health {
		stages[i] = stageHealthDTO{Name: h.Name, Ready: h.Ready, Detail: h.Detail}
	}

	s.respondJSON(w, http.StatusOK, statusView{
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		QueueDepth:    s.registry.Depth(),
		Files:         counts,
		Stages:        stages,
	})
}
