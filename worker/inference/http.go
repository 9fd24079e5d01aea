package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"plateCover/api/models"
)

var ErrDetectorUnavailable = errors.New("detector unavailable")

// HTTPDetector talks to an external model server exposing POST /detect and
// GET /health.
type HTTPDetector struct {
	baseURL   string
	imageSize int
	client    *http.Client
	logger    *zap.Logger
}

func NewHTTPDetector(baseURL string, imageSize int, timeout time.Duration, logger *zap.Logger) *HTTPDetector {
	return &HTTPDetector{
		baseURL:   strings.TrimRight(baseURL, "/"),
		imageSize: imageSize,
		client:    &http.Client{Timeout: timeout},
		logger:    logger,
	}
}

type detectResponse struct {
	Results [][]struct {
		Points [][]float64 `json:"points"`
	} `json:"results"`
}

func (d *HTTPDetector) Detect(ctx context.Context, images []image.Image) ([][]models.Region, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	if err := w.WriteField("imgsz", strconv.Itoa(d.imageSize)); err != nil {
		return nil, err
	}
	for i, img := range images {
		part, err := w.CreateFormFile("images", fmt.Sprintf("%d.jpg", i))
		if err != nil {
			return nil, err
		}
		if err := imaging.Encode(part, img, imaging.JPEG, imaging.JPEGQuality(95)); err != nil {
			return nil, fmt.Errorf("failed to encode image %d: %w", i, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/detect", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detect request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("detector returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var payload detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode detector response: %w", err)
	}

	out := make([][]models.Region, len(payload.Results))
	for i, boxes := range payload.Results {
		out[i] = make([]models.Region, 0, len(boxes))
		for j, box := range boxes {
			if len(box.Points) != 4 {
				return nil, fmt.Errorf("image %d box %d: expected 4 points, got %d", i, j, len(box.Points))
			}
			var r models.Region
			for k, p := range box.Points {
				if len(p) != 2 {
					return nil, fmt.Errorf("image %d box %d: malformed point", i, j)
				}
				r.Points[k] = models.Point{X: p[0], Y: p[1]}
			}
			out[i] = append(out[i], r)
		}
	}
	return out, nil
}

func (d *HTTPDetector) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDetectorUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health returned %d", ErrDetectorUnavailable, resp.StatusCode)
	}
	return nil
}

// WaitReady polls the health endpoint with exponential backoff until it
// answers or maxRetries is exhausted.
func (d *HTTPDetector) WaitReady(ctx context.Context, maxRetries uint64) error {
	operation := func() error {
		err := d.Ping(ctx)
		if err != nil {
			d.logger.Warn("Detector not ready", zap.String("url", d.baseURL), zap.Error(err))
		}
		return err
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries)
	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}
