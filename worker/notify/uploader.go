package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"plateCover/api/models"
)

// Uploader sends the result files of completed tasks as multipart/form-data:
// field task_id plus one images part per file.
type Uploader struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

func NewUploader(url string, logger *zap.Logger) *Uploader {
	return &Uploader{
		url:    url,
		client: &http.Client{Timeout: UploadTimeout},
		logger: logger,
	}
}

func (u *Uploader) Notify(ctx context.Context, ev Event) error {
	if ev.Status != models.StatusCompleted || len(ev.Results) == 0 {
		return nil
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("task_id", ev.TaskID); err != nil {
		return err
	}

	attached := 0
	for _, r := range ev.Results {
		path := filepath.Join(ev.OutputDir, r.Filename)
		if err := attach(w, path, r.Filename); err != nil {
			u.logger.Warn("Skipping result file",
				zap.String("task_id", ev.TaskID),
				zap.String("path", path),
				zap.Error(err),
			)
			continue
		}
		attached++
	}
	if err := w.Close(); err != nil {
		return err
	}

	if attached == 0 {
		u.logger.Warn("No result files to upload", zap.String("task_id", ev.TaskID))
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	if err := send(u.client, req); err != nil {
		return fmt.Errorf("upload for task %s: %w", ev.TaskID, err)
	}

	u.logger.Info("Results uploaded",
		zap.String("task_id", ev.TaskID),
		zap.Int("files", attached),
	)
	return nil
}

func attach(w *multipart.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	part, err := w.CreateFormFile("images", name)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}
