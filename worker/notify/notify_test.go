package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"plateCover/api/models"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recordingSink) Notify(ctx context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func completedEvent(t *testing.T, names ...string) Event {
	dir := t.TempDir()
	ev := Event{TaskID: "task-1", Status: models.StatusCompleted, OutputDir: dir}
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("jpeg:"+n), 0o644))
		ev.Results = append(ev.Results, models.ResultFile{Filename: n, URL: "/tasks_storage/task-1/output/" + n})
	}
	return ev
}

func TestMulti_FansOutAndJoinsErrors(t *testing.T) {
	ok := &recordingSink{}
	broken := &recordingSink{err: errors.New("down")}
	m := NewMulti(zaptest.NewLogger(t), broken, ok)

	err := m.Notify(context.Background(), Event{TaskID: "t"})
	assert.Error(t, err)
	assert.Len(t, ok.events, 1)
	assert.Len(t, broken.events, 1)
	assert.Equal(t, 2, m.Len())

	assert.NoError(t, NewMulti(zaptest.NewLogger(t)).Notify(context.Background(), Event{}))
	assert.NoError(t, Nop{}.Notify(context.Background(), Event{}))
}

func TestWebhook_PostsJSON(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ev := completedEvent(t, "covered_a.jpg")
	require.NoError(t, NewWebhook(srv.URL, zaptest.NewLogger(t)).Notify(context.Background(), ev))

	assert.Equal(t, "task-1", got["task_id"])
	assert.Equal(t, "completed", got["status"])
	assert.NotContains(t, got, "OutputDir")
	results := got["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, "covered_a.jpg", results[0].(map[string]any)["filename"])
}

func TestWebhook_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, zaptest.NewLogger(t)).Notify(context.Background(), Event{TaskID: "t"})
	assert.Error(t, err)
}

func TestUploader_SendsResultFiles(t *testing.T) {
	var taskID string
	files := map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		taskID = r.FormValue("task_id")
		for _, fh := range r.MultipartForm.File["images"] {
			f, err := fh.Open()
			if !assert.NoError(t, err) {
				return
			}
			data, _ := io.ReadAll(f)
			f.Close()
			files[fh.Filename] = string(data)
		}
	}))
	defer srv.Close()

	ev := completedEvent(t, "covered_a.jpg", "covered_b.jpg")
	ev.Results = append(ev.Results, models.ResultFile{Filename: "gone.jpg"})

	require.NoError(t, NewUploader(srv.URL, zaptest.NewLogger(t)).Notify(context.Background(), ev))

	assert.Equal(t, "task-1", taskID)
	assert.Equal(t, map[string]string{
		"covered_a.jpg": "jpeg:covered_a.jpg",
		"covered_b.jpg": "jpeg:covered_b.jpg",
	}, files)
}

func TestUploader_SkipsFailedAndEmpty(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	u := NewUploader(srv.URL, zaptest.NewLogger(t))
	require.NoError(t, u.Notify(context.Background(), Event{TaskID: "t", Status: models.StatusFailed}))
	require.NoError(t, u.Notify(context.Background(), Event{TaskID: "t", Status: models.StatusCompleted}))

	missing := Event{TaskID: "t", Status: models.StatusCompleted, OutputDir: t.TempDir(),
		Results: []models.ResultFile{{Filename: "nope.jpg"}}}
	require.NoError(t, u.Notify(context.Background(), missing))

	assert.Equal(t, 0, calls)
}
