package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"plateCover/api/dto"
	"plateCover/api/models"
	"plateCover/api/repository"
	"plateCover/worker/pool"
	"plateCover/worker/workspace"
)

var (
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrResultNotFound     = errors.New("result not found")
)

type Submitter interface {
	Submit(ctx context.Context, taskID string, handler pool.Handler)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type TaskService struct {
	store      repository.TaskStore
	workspaces *workspace.Manager
	pool       Submitter
	handler    pool.Handler
	detector   Pinger
	ttl        time.Duration
	logger     *zap.Logger
}

// NewTaskService wires intake to the worker pool. detector may be nil when
// there is nothing to probe before accepting work.
func NewTaskService(
	store repository.TaskStore,
	workspaces *workspace.Manager,
	submitter Submitter,
	handler pool.Handler,
	detector Pinger,
	ttl time.Duration,
	logger *zap.Logger,
) *TaskService {
	return &TaskService{
		store:      store,
		workspaces: workspaces,
		pool:       submitter,
		handler:    handler,
		detector:   detector,
		ttl:        ttl,
		logger:     logger,
	}
}

// Ready reports whether the store and the detector are reachable.
func (s *TaskService) Ready(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: task store: %v", ErrServiceUnavailable, err)
	}
	if s.detector != nil {
		if err := s.detector.Ping(ctx); err != nil {
			return fmt.Errorf("%w: detector: %v", ErrServiceUnavailable, err)
		}
	}
	return nil
}

// CreateTask persists the files, registers a pending task and schedules it.
// It returns as soon as the task is queued.
func (s *TaskService) CreateTask(ctx context.Context, clientID string, files []dto.UploadedFile) (string, error) {
	if err := s.Ready(ctx); err != nil {
		s.logger.Warn("Rejecting task", zap.String("client", clientID), zap.Error(err))
		return "", err
	}

	taskID := uuid.New().String()
	log := s.logger.With(zap.String("task_id", taskID), zap.String("client", clientID))

	ws, err := s.workspaces.Create(taskID)
	if err != nil {
		return "", fmt.Errorf("failed to create workspace: %w", err)
	}

	if err := s.register(ctx, ws, files); err != nil {
		if rmErr := s.workspaces.Remove(taskID); rmErr != nil {
			log.Warn("Failed to remove workspace after error", zap.Error(rmErr))
		}
		return "", err
	}

	// the run outlives the request
	s.pool.Submit(context.WithoutCancel(ctx), taskID, s.handler)

	log.Info("Task created", zap.Int("files", len(files)))
	return taskID, nil
}

func (s *TaskService) register(ctx context.Context, ws *workspace.Workspace, files []dto.UploadedFile) error {
	used := make(map[string]bool, len(files))
	for _, f := range files {
		name, err := workspace.SanitizeFilename(f.Name)
		if err != nil {
			return fmt.Errorf("file %q: %w", f.Name, err)
		}
		name = workspace.UniqueName(name, used)
		if err := ws.SaveInput(name, f.Data); err != nil {
			return fmt.Errorf("failed to save %s: %w", name, err)
		}
	}

	if err := s.store.Create(ctx, ws.ID, s.ttl); err != nil {
		return fmt.Errorf("%w: failed to register task: %v", ErrServiceUnavailable, err)
	}
	return nil
}

func (s *TaskService) GetStatus(ctx context.Context, taskID string) (*dto.TaskStatusResponse, error) {
	task, err := s.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}

	results := task.Results
	if results == nil {
		results = []models.ResultFile{}
	}
	return &dto.TaskStatusResponse{
		TaskID:  task.ID,
		Status:  string(task.Status),
		Results: results,
	}, nil
}

// ResultPath resolves a file in a task's output area.
func (s *TaskService) ResultPath(taskID, filename string) (string, error) {
	ws, err := s.workspaces.Open(taskID)
	if err != nil {
		return "", ErrResultNotFound
	}
	clean, err := workspace.SanitizeFilename(filename)
	if err != nil || clean != filename {
		return "", ErrResultNotFound
	}

	path := filepath.Join(ws.OutputDir, clean)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", ErrResultNotFound
	}
	return path, nil
}
