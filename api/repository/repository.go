package repository

import (
	"context"
	"errors"
	"time"

	"plateCover/api/models"
)

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrTaskAlreadyExists = errors.New("task already exists")
	ErrInvalidTransition = errors.New("invalid task status transition")
)

// TaskStore is the single source of truth for task status. Every write for one
// task id is atomic with respect to reads of that id.
type TaskStore interface {
	// Create registers a pending task that expires after ttl.
	Create(ctx context.Context, id string, ttl time.Duration) error
	// Set replaces status and results in one write. Moving to an earlier or
	// equal lifecycle rank returns ErrInvalidTransition.
	Set(ctx context.Context, id string, status models.TaskStatus, results []models.ResultFile) error
	Get(ctx context.Context, id string) (*models.Task, error)
	SetExpiry(ctx context.Context, id string, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// Purger is implemented by stores without native key expiry.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

func copyResults(results []models.ResultFile) []models.ResultFile {
	out := make([]models.ResultFile, len(results))
	copy(out, results)
	return out
}
