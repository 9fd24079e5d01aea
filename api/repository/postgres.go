package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"plateCover/api/models"
)

const schema = `
	CREATE TABLE IF NOT EXISTS tasks (
		id         TEXT PRIMARY KEY,
		status     TEXT NOT NULL,
		rank       SMALLINT NOT NULL,
		results    JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS tasks_expires_at_idx ON tasks (expires_at);
`

// DBTX is the subset of *pgxpool.Pool the repository needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

type PostgresRepo struct {
	db DBTX
}

func NewPostgresRepo(db DBTX) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, schema)
	return err
}

func (r *PostgresRepo) Create(ctx context.Context, id string, ttl time.Duration) error {
	query := `
		INSERT INTO tasks (id, status, rank, results, expires_at)
		VALUES ($1, $2, $3, '[]', NOW() + make_interval(secs => $4))
		ON CONFLICT (id) DO NOTHING
	`

	result, err := r.db.Exec(ctx, query, id, string(models.StatusPending), models.StatusPending.Rank(), ttl.Seconds())
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrTaskAlreadyExists
	}

	return nil
}

func (r *PostgresRepo) Set(ctx context.Context, id string, status models.TaskStatus, results []models.ResultFile) error {
	if !status.Valid() {
		return ErrInvalidTransition
	}
	if results == nil {
		results = []models.ResultFile{}
	}

	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}

	query := `
		UPDATE tasks
		SET status = $2, rank = $3, results = $4, updated_at = NOW()
		WHERE id = $1 AND expires_at > NOW() AND rank < $3
	`

	result, err := r.db.Exec(ctx, query, id, string(status), status.Rank(), data)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		if _, err := r.currentRank(ctx, id); err != nil {
			return err
		}
		return ErrInvalidTransition
	}

	return nil
}

func (r *PostgresRepo) currentRank(ctx context.Context, id string) (int, error) {
	var rank int
	err := r.db.QueryRow(ctx, `SELECT rank FROM tasks WHERE id = $1 AND expires_at > NOW()`, id).Scan(&rank)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrTaskNotFound
		}
		return 0, err
	}
	return rank, nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*models.Task, error) {
	query := `
		SELECT status, results
		FROM tasks
		WHERE id = $1 AND expires_at > NOW()
	`

	var (
		status string
		data   []byte
	)
	err := r.db.QueryRow(ctx, query, id).Scan(&status, &data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}

	task := &models.Task{ID: id, Status: models.TaskStatus(status), Results: []models.ResultFile{}}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &task.Results); err != nil {
			return nil, fmt.Errorf("unmarshal results: %w", err)
		}
	}

	return task, nil
}

func (r *PostgresRepo) SetExpiry(ctx context.Context, id string, ttl time.Duration) error {
	query := `
		UPDATE tasks
		SET expires_at = NOW() + make_interval(secs => $2), updated_at = NOW()
		WHERE id = $1 AND expires_at > NOW()
	`

	result, err := r.db.Exec(ctx, query, id, ttl.Seconds())
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrTaskNotFound
	}

	return nil
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	return err
}

func (r *PostgresRepo) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func (r *PostgresRepo) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM tasks WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
