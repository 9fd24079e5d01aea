package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"plateCover/api/models"
	"plateCover/api/repository"
)

const taskKeyPrefix = "task:"

// createScript registers a pending task only if the key is absent.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'rank', ARGV[2], 'results', '[]')
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// setScript replaces status and results in one step when the new rank is higher.
// HSET keeps the key's TTL.
var setScript = redis.NewScript(`
local rank = redis.call('HGET', KEYS[1], 'rank')
if not rank then
	return -1
end
if tonumber(rank) >= tonumber(ARGV[2]) then
	return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'rank', ARGV[2], 'results', ARGV[3])
return 1
`)

// StatusCache is a repository.TaskStore backed by one redis hash per task.
type StatusCache struct {
	client *redis.Client
}

func NewStatusCache(client *redis.Client) *StatusCache {
	return &StatusCache{client: client}
}

func taskKey(id string) string {
	return fmt.Sprintf("%s%s", taskKeyPrefix, id)
}

func (sc *StatusCache) Create(ctx context.Context, id string, ttl time.Duration) error {
	res, err := createScript.Run(ctx, sc.client, []string{taskKey(id)},
		string(models.StatusPending), models.StatusPending.Rank(), ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if res == 0 {
		return repository.ErrTaskAlreadyExists
	}
	return nil
}

func (sc *StatusCache) Set(ctx context.Context, id string, status models.TaskStatus, results []models.ResultFile) error {
	if !status.Valid() {
		return repository.ErrInvalidTransition
	}
	if results == nil {
		results = []models.ResultFile{}
	}

	data, err := json.Marshal(results)
	if err != nil {
		return err
	}

	res, err := setScript.Run(ctx, sc.client, []string{taskKey(id)},
		string(status), status.Rank(), string(data)).Int()
	if err != nil {
		return err
	}

	switch res {
	case -1:
		return repository.ErrTaskNotFound
	case 0:
		return repository.ErrInvalidTransition
	}
	return nil
}

func (sc *StatusCache) Get(ctx context.Context, id string) (*models.Task, error) {
	fields, err := sc.client.HGetAll(ctx, taskKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, repository.ErrTaskNotFound
	}

	task := &models.Task{
		ID:      id,
		Status:  models.TaskStatus(fields["status"]),
		Results: []models.ResultFile{},
	}
	if raw := fields["results"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &task.Results); err != nil {
			return nil, fmt.Errorf("decode results for task %s: %w", id, err)
		}
	}

	return task, nil
}

func (sc *StatusCache) SetExpiry(ctx context.Context, id string, ttl time.Duration) error {
	ok, err := sc.client.PExpire(ctx, taskKey(id), ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return repository.ErrTaskNotFound
	}
	return nil
}

func (sc *StatusCache) Delete(ctx context.Context, id string) error {
	return sc.client.Del(ctx, taskKey(id)).Err()
}

func (sc *StatusCache) Ping(ctx context.Context) error {
	return sc.client.Ping(ctx).Err()
}

