package service

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"plateCover/api/dto"
	"plateCover/api/models"
	"plateCover/api/repository"
	"plateCover/worker/compositor"
	"plateCover/worker/inference"
	"plateCover/worker/notify"
	"plateCover/worker/pool"
	"plateCover/worker/reaper"
	workersvc "plateCover/worker/service"
	"plateCover/worker/workspace"
)

type stubDetector struct {
	pingErr error
}

func (d *stubDetector) Detect(ctx context.Context, images []image.Image) ([][]models.Region, error) {
	out := make([][]models.Region, len(images))
	for i, img := range images {
		b := img.Bounds()
		w, h := float64(b.Dx()), float64(b.Dy())
		out[i] = []models.Region{{Points: [4]models.Point{
			{X: w / 4, Y: h / 4}, {X: 3 * w / 4, Y: h / 4}, {X: 3 * w / 4, Y: 3 * h / 4}, {X: w / 4, Y: 3 * h / 4},
		}}}
	}
	return out, nil
}

func (d *stubDetector) Ping(ctx context.Context) error {
	return d.pingErr
}

type env struct {
	svc        *TaskService
	store      *repository.MemoryStore
	workspaces *workspace.Manager
	pool       *pool.WorkerPool
	detector   *stubDetector
}

func newEnv(t *testing.T, ttl time.Duration) *env {
	t.Helper()
	logger := zaptest.NewLogger(t)

	workspaces, err := workspace.NewManager(t.TempDir(), "tasks_storage")
	require.NoError(t, err)

	overlay := image.NewRGBA(image.Rect(0, 0, 20, 10))
	for i := range overlay.Pix {
		overlay.Pix[i] = 255
	}
	painter, err := compositor.NewCompositor(overlay, logger)
	require.NoError(t, err)

	store := repository.NewMemoryStore()
	detector := &stubDetector{}
	coordinator := inference.NewCoordinator(detector, 1, logger)
	processor := workersvc.NewProcessor(store, workspaces, coordinator, painter, notify.Nop{},
		workersvc.Options{BatchSize: 2, JPEGQuality: 90}, logger)
	workers := pool.NewWorkerPool(2, logger)

	return &env{
		svc:        NewTaskService(store, workspaces, workers, processor.Handle, coordinator, ttl, logger),
		store:      store,
		workspaces: workspaces,
		pool:       workers,
		detector:   detector,
	}
}

func jpeg(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 40, A: 255})
		}
	}
	data, err := compositor.EncodeJPEG(img, 90)
	require.NoError(t, err)
	return data
}

func TestTaskService_EndToEnd(t *testing.T) {
	e := newEnv(t, time.Hour)
	ctx := context.Background()

	id, err := e.svc.CreateTask(ctx, "127.0.0.1", []dto.UploadedFile{
		{Name: "front.jpg", Data: jpeg(t, 64, 48)},
		{Name: "../rear.jpg", Data: jpeg(t, 48, 64)},
		{Name: "x.jpg", Data: []byte("garbage")},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	e.pool.Wait()

	status, err := e.svc.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, status.TaskID)
	assert.Equal(t, string(models.StatusCompleted), status.Status)
	require.Len(t, status.Results, 2)
	assert.Equal(t, "covered_front.jpg", status.Results[0].Filename)
	assert.Equal(t, "covered_rear.jpg", status.Results[1].Filename)
	assert.Equal(t, "/tasks_storage/"+id+"/output/covered_front.jpg", status.Results[0].URL)

	ws, err := e.workspaces.Open(id)
	require.NoError(t, err)
	assert.NoDirExists(t, ws.InputDir)

	path, err := e.svc.ResultPath(id, "covered_rear.jpg")
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestTaskService_DuplicateNamesKept(t *testing.T) {
	e := newEnv(t, time.Hour)

	id, err := e.svc.CreateTask(context.Background(), "client", []dto.UploadedFile{
		{Name: "a.jpg", Data: jpeg(t, 16, 16)},
		{Name: "a.jpg", Data: jpeg(t, 16, 16)},
	})
	require.NoError(t, err)
	e.pool.Wait()

	status, err := e.svc.GetStatus(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, status.Results, 2)
	assert.Equal(t, "covered_a.jpg", status.Results[0].Filename)
	assert.Equal(t, "covered_a_1.jpg", status.Results[1].Filename)
}

func TestTaskService_NoFilesCompletesEmpty(t *testing.T) {
	e := newEnv(t, time.Hour)

	id, err := e.svc.CreateTask(context.Background(), "client", nil)
	require.NoError(t, err)
	e.pool.Wait()

	status, err := e.svc.GetStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, string(models.StatusCompleted), status.Status)
	assert.NotNil(t, status.Results)
	assert.Empty(t, status.Results)
}

func TestTaskService_UnknownTask(t *testing.T) {
	e := newEnv(t, time.Hour)

	_, err := e.svc.GetStatus(context.Background(), "never-created")
	assert.ErrorIs(t, err, repository.ErrTaskNotFound)
}

func TestTaskService_DetectorUnavailable(t *testing.T) {
	e := newEnv(t, time.Hour)
	e.detector.pingErr = errors.New("model server down")

	_, err := e.svc.CreateTask(context.Background(), "client", []dto.UploadedFile{{Name: "a.jpg", Data: jpeg(t, 8, 8)}})
	assert.ErrorIs(t, err, ErrServiceUnavailable)

	entries, err := e.workspaces.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTaskService_InvalidFilenameCleansUp(t *testing.T) {
	e := newEnv(t, time.Hour)

	_, err := e.svc.CreateTask(context.Background(), "client", []dto.UploadedFile{
		{Name: "a.jpg", Data: jpeg(t, 8, 8)},
		{Name: "..", Data: []byte("x")},
	})
	assert.ErrorIs(t, err, workspace.ErrInvalidFilename)

	entries, err := e.workspaces.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTaskService_GoneAfterTTLAndSweep(t *testing.T) {
	e := newEnv(t, 50*time.Millisecond)
	ctx := context.Background()

	id, err := e.svc.CreateTask(ctx, "client", []dto.UploadedFile{{Name: "a.jpg", Data: jpeg(t, 16, 16)}})
	require.NoError(t, err)
	e.pool.Wait()

	ws, err := e.workspaces.Open(id)
	require.NoError(t, err)
	past := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(ws.Dir, past, past))

	time.Sleep(60 * time.Millisecond)
	reaper.New(e.workspaces, e.store, 50*time.Millisecond, time.Hour, zaptest.NewLogger(t)).RunOnce(ctx)

	_, err = e.svc.GetStatus(ctx, id)
	assert.ErrorIs(t, err, repository.ErrTaskNotFound)
	assert.NoDirExists(t, ws.OutputDir)
}

func TestTaskService_ResultPathRejectsTraversal(t *testing.T) {
	e := newEnv(t, time.Hour)
	ws, err := e.workspaces.Create("task-1")
	require.NoError(t, err)
	require.NoError(t, ws.WriteOutput("covered_a.jpg", []byte("jpeg")))
	require.NoError(t, os.WriteFile(filepath.Join(ws.InputDir, "secret.jpg"), []byte("s"), 0o644))

	_, err = e.svc.ResultPath("task-1", "covered_a.jpg")
	assert.NoError(t, err)

	for _, name := range []string{"../input/secret.jpg", "missing.jpg", ""} {
		_, err := e.svc.ResultPath("task-1", name)
		assert.ErrorIs(t, err, ErrResultNotFound, name)
	}
	_, err = e.svc.ResultPath("../etc", "passwd")
	assert.ErrorIs(t, err, ErrResultNotFound)
}
