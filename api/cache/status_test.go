package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plateCover/api/models"
	"plateCover/api/repository"
)

func newTestCache(t *testing.T) (*StatusCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStatusCache(client), mr
}

func TestStatusCache_Lifecycle(t *testing.T) {
	ctx := context.Background()
	sc, mr := newTestCache(t)

	require.NoError(t, sc.Create(ctx, "t1", time.Hour))
	assert.True(t, mr.Exists("task:t1"))
	assert.Equal(t, time.Hour, mr.TTL("task:t1"))

	task, err := sc.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, task.Status)
	assert.Empty(t, task.Results)

	require.NoError(t, sc.Set(ctx, "t1", models.StatusProcessing, nil))

	results := []models.ResultFile{
		{Filename: "covered_a.jpg", URL: "/tasks_storage/t1/output/covered_a.jpg"},
		{Filename: "covered_b.jpg", URL: "/tasks_storage/t1/output/covered_b.jpg"},
	}
	require.NoError(t, sc.Set(ctx, "t1", models.StatusCompleted, results))

	task, err = sc.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, task.Status)
	assert.Equal(t, results, task.Results)
	assert.Equal(t, time.Hour, mr.TTL("task:t1"), "status writes must not reset the expiry")
}

func TestStatusCache_RejectsRegression(t *testing.T) {
	ctx := context.Background()
	sc, _ := newTestCache(t)

	require.NoError(t, sc.Create(ctx, "t1", time.Hour))
	require.NoError(t, sc.Set(ctx, "t1", models.StatusProcessing, nil))

	assert.ErrorIs(t, sc.Set(ctx, "t1", models.StatusPending, nil), repository.ErrInvalidTransition)

	require.NoError(t, sc.Set(ctx, "t1", models.StatusFailed, nil))
	assert.ErrorIs(t, sc.Set(ctx, "t1", models.StatusCompleted, []models.ResultFile{{Filename: "x"}}), repository.ErrInvalidTransition)

	task, err := sc.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, task.Status)
	assert.Empty(t, task.Results)
}

func TestStatusCache_NotFound(t *testing.T) {
	ctx := context.Background()
	sc, _ := newTestCache(t)

	_, err := sc.Get(ctx, "ghost")
	assert.ErrorIs(t, err, repository.ErrTaskNotFound)
	assert.ErrorIs(t, sc.Set(ctx, "ghost", models.StatusProcessing, nil), repository.ErrTaskNotFound)
	assert.ErrorIs(t, sc.SetExpiry(ctx, "ghost", time.Minute), repository.ErrTaskNotFound)
}

func TestStatusCache_Expiry(t *testing.T) {
	ctx := context.Background()
	sc, mr := newTestCache(t)

	require.NoError(t, sc.Create(ctx, "t1", time.Second))
	mr.FastForward(2 * time.Second)

	_, err := sc.Get(ctx, "t1")
	assert.ErrorIs(t, err, repository.ErrTaskNotFound)
}

func TestStatusCache_SetExpiryAndDelete(t *testing.T) {
	ctx := context.Background()
	sc, mr := newTestCache(t)

	require.NoError(t, sc.Create(ctx, "t1", time.Second))
	require.NoError(t, sc.SetExpiry(ctx, "t1", time.Minute))
	assert.Equal(t, time.Minute, mr.TTL("task:t1"))

	require.NoError(t, sc.Delete(ctx, "t1"))
	_, err := sc.Get(ctx, "t1")
	assert.ErrorIs(t, err, repository.ErrTaskNotFound)
}

func TestStatusCache_CreateDuplicate(t *testing.T) {
	ctx := context.Background()
	sc, _ := newTestCache(t)

	require.NoError(t, sc.Create(ctx, "t1", time.Hour))
	assert.ErrorIs(t, sc.Create(ctx, "t1", time.Hour), repository.ErrTaskAlreadyExists)
}

func TestStatusCache_Ping(t *testing.T) {
	sc, mr := newTestCache(t)
	assert.NoError(t, sc.Ping(context.Background()))

	mr.Close()
	assert.Error(t, sc.Ping(context.Background()))
}
