package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"plateCover/api/dto"
	"plateCover/api/middleware"
	"plateCover/api/repository"
	"plateCover/api/service"
	"plateCover/api/validation"
)

// multipart parts beyond this are spooled to disk
const formMemory = 32 << 20

type TaskManager interface {
	Ready(ctx context.Context) error
	CreateTask(ctx context.Context, clientID string, files []dto.UploadedFile) (string, error)
	GetStatus(ctx context.Context, taskID string) (*dto.TaskStatusResponse, error)
	ResultPath(taskID, filename string) (string, error)
}

type TaskHandler struct {
	service TaskManager
	limits  validation.Limits
	logger  *zap.Logger
}

func NewTaskHandler(service TaskManager, limits validation.Limits, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		service: service,
		limits:  limits,
		logger:  logger,
	}
}

func (h *TaskHandler) Upload(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	if err := r.ParseMultipartForm(formMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.handleError(w, "Request body too large", err, traceID, http.StatusRequestEntityTooLarge)
			return
		}
		h.handleError(w, "Failed to parse form", err, traceID, http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if err := h.limits.ValidateFiles(headers); err != nil {
		h.handleError(w, err.Error(), err, traceID, http.StatusBadRequest)
		return
	}

	files, err := readFiles(headers)
	if err != nil {
		h.handleError(w, "Failed to read files", err, traceID, http.StatusBadRequest)
		return
	}

	taskID, err := h.service.CreateTask(r.Context(), r.RemoteAddr, files)
	if err != nil {
		if errors.Is(err, service.ErrServiceUnavailable) {
			h.handleError(w, "Service unavailable", err, traceID, http.StatusServiceUnavailable)
			return
		}
		h.handleError(w, "Failed to create task", err, traceID, http.StatusInternalServerError)
		return
	}

	h.logger.Info("Task accepted",
		zap.String("trace_id", traceID),
		zap.String("task_id", taskID),
		zap.String("client", r.RemoteAddr),
		zap.Int("files", len(files)),
	)

	h.respondJSON(w, http.StatusAccepted, dto.TaskCreatedResponse{TaskID: taskID})
}

func readFiles(headers []*multipart.FileHeader) ([]dto.UploadedFile, error) {
	files := make([]dto.UploadedFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
		}
		files = append(files, dto.UploadedFile{Name: fh.Filename, Data: data})
	}
	return files, nil
}

func (h *TaskHandler) Status(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	taskID := chi.URLParam(r, "task_id")
	if taskID == "" {
		h.handleError(w, "Task ID is required", nil, traceID, http.StatusBadRequest)
		return
	}

	resp, err := h.service.GetStatus(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			h.handleError(w, "Task not found", err, traceID, http.StatusNotFound)
			return
		}
		h.handleError(w, "Failed to get task status", err, traceID, http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// Result serves one file from a task's output area.
func (h *TaskHandler) Result(w http.ResponseWriter, r *http.Request) {
	path, err := h.service.ResultPath(chi.URLParam(r, "task_id"), chi.URLParam(r, "filename"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, path)
}

func (h *TaskHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ready(r.Context()); err != nil {
		h.logger.Warn("Health check failed", zap.Error(err))
		h.respondJSON(w, http.StatusServiceUnavailable, dto.HealthResponse{Status: "unavailable"})
		return
	}
	h.respondJSON(w, http.StatusOK, dto.HealthResponse{Status: "ok"})
}

func (h *TaskHandler) handleError(w http.ResponseWriter, message string, err error, traceID string, status int) {
	log := h.logger.Warn
	if status >= http.StatusInternalServerError {
		log = h.logger.Error
	}
	log(message,
		zap.String("trace_id", traceID),
		zap.Int("status", status),
		zap.Error(err),
	)

	h.respondJSON(w, status, dto.ErrorResponse{
		Error:   message,
		TraceID: traceID,
	})
}

func (h *TaskHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
