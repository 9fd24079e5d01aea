// Package inference feeds decoded images to a region detector in bounded
// batches.
package inference

import (
	"context"
	"errors"
	"fmt"
	"image"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"plateCover/api/models"
)

var ErrInference = errors.New("inference failed")

const DefaultBatchSize = 4

// Detector returns, for each input image, the regions found in it. The
// result must have exactly one entry per image, in input order.
type Detector interface {
	Detect(ctx context.Context, images []image.Image) ([][]models.Region, error)
}

// Releaser is implemented by detectors holding per-batch resources.
type Releaser interface {
	Release()
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Coordinator struct {
	detector Detector
	sem      *semaphore.Weighted
	logger   *zap.Logger
}

// NewCoordinator gates detector calls so that at most concurrency batches
// are in flight across all tasks.
func NewCoordinator(detector Detector, concurrency int, logger *zap.Logger) *Coordinator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Coordinator{
		detector: detector,
		sem:      semaphore.NewWeighted(int64(concurrency)),
		logger:   logger,
	}
}

// Infer runs the detector over images in chunks of at most batchSize. Any
// failure fails the whole call.
func (c *Coordinator) Infer(ctx context.Context, images []image.Image, batchSize int) ([][]models.Region, error) {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}

	out := make([][]models.Region, 0, len(images))
	for start := 0; start < len(images); start += batchSize {
		end := start + batchSize
		if end > len(images) {
			end = len(images)
		}

		regions, err := c.detectChunk(ctx, images[start:end])
		if err != nil {
			return nil, fmt.Errorf("%w: batch %d-%d: %v", ErrInference, start, end, err)
		}
		out = append(out, regions...)
	}
	return out, nil
}

func (c *Coordinator) detectChunk(ctx context.Context, chunk []image.Image) ([][]models.Region, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	if r, ok := c.detector.(Releaser); ok {
		defer r.Release()
	}

	regions, err := c.detector.Detect(ctx, chunk)
	if err != nil {
		return nil, err
	}
	if len(regions) != len(chunk) {
		return nil, fmt.Errorf("detector returned %d results for %d images", len(regions), len(chunk))
	}

	for i := range regions {
		if regions[i] == nil {
			regions[i] = []models.Region{}
		}
	}

	c.logger.Debug("Batch inferred", zap.Int("images", len(chunk)))
	return regions, nil
}

// Ping reports detector readiness. Detectors without a health probe are
// always ready.
func (c *Coordinator) Ping(ctx context.Context) error {
	if p, ok := c.detector.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
