// Package notify delivers best-effort task completion events to external
// sinks. Delivery failures never change a task's status.
package notify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"plateCover/api/models"
)

type Event struct {
	TaskID    string              `json:"task_id"`
	Status    models.TaskStatus   `json:"status"`
	Results   []models.ResultFile `json:"results"`
	OutputDir string              `json:"-"`
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

// Multi fans an event out to every sink, logging individual failures.
type Multi struct {
	sinks  []Notifier
	logger *zap.Logger
}

func NewMulti(logger *zap.Logger, sinks ...Notifier) *Multi {
	return &Multi{sinks: sinks, logger: logger}
}

func (m *Multi) Len() int {
	return len(m.sinks)
}

func (m *Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Notify(ctx, ev); err != nil {
			m.logger.Error("Notification failed",
				zap.String("task_id", ev.TaskID),
				zap.String("sink", fmt.Sprintf("%T", s)),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
