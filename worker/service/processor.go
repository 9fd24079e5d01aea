package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"plateCover/api/models"
	"plateCover/api/repository"
	"plateCover/worker/compositor"
	"plateCover/worker/notify"
	"plateCover/worker/workspace"
)

type Inferer interface {
	Infer(ctx context.Context, images []image.Image, batchSize int) ([][]models.Region, error)
}

type Painter interface {
	Apply(img image.Image, regions []models.Region) (*image.NRGBA, error)
}

type Options struct {
	BatchSize     int
	JPEGQuality   int
	OutputPrefix  string
	DecodeWorkers int
}

type Processor struct {
	store      repository.TaskStore
	workspaces *workspace.Manager
	inferer    Inferer
	painter    Painter
	notifier   notify.Notifier
	opts       Options
	logger     *zap.Logger
	decode     func(data []byte) (image.Image, error)

	notifying sync.WaitGroup
}

func NewProcessor(
	store repository.TaskStore,
	workspaces *workspace.Manager,
	inferer Inferer,
	painter Painter,
	notifier notify.Notifier,
	opts Options,
	logger *zap.Logger,
) *Processor {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if opts.DecodeWorkers < 1 {
		opts.DecodeWorkers = runtime.NumCPU()
	}
	if opts.OutputPrefix == "" {
		opts.OutputPrefix = "covered_"
	}
	return &Processor{
		store:      store,
		workspaces: workspaces,
		inferer:    inferer,
		painter:    painter,
		notifier:   notifier,
		opts:       opts,
		logger:     logger,
		decode:     compositor.Decode,
	}
}

// Handle adapts Process to the worker pool. Failures are already recorded
// and logged by Process.
func (p *Processor) Handle(ctx context.Context, taskID string) {
	_ = p.Process(ctx, taskID)
}

// Process runs one task from processing to a terminal status. The input area
// is removed on every exit path, including panics.
func (p *Processor) Process(ctx context.Context, taskID string) (err error) {
	log := p.logger.With(zap.String("task_id", taskID))
	// in-flight tasks are not cancellable
	ctx = context.WithoutCancel(ctx)

	ws, err := p.workspaces.Open(taskID)
	if err != nil {
		log.Error("Invalid task workspace", zap.Error(err))
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("Task panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("task %s panicked: %v", taskID, r)
			p.finish(ctx, log, ws, models.StatusFailed, nil)
		}
		if rmErr := ws.RemoveInput(); rmErr != nil {
			log.Warn("Failed to remove input area", zap.String("path", ws.InputDir), zap.Error(rmErr))
		}
	}()

	if err := p.store.Set(ctx, taskID, models.StatusProcessing, nil); err != nil {
		log.Error("Failed to mark task processing", zap.Error(err))
		if !errors.Is(err, repository.ErrInvalidTransition) && !errors.Is(err, repository.ErrTaskNotFound) {
			// the inputs are about to go, so the task cannot stay pending
			p.finish(ctx, log, ws, models.StatusFailed, nil)
		}
		return err
	}
	log.Info("Processing task")

	results, err := p.run(ctx, log, ws)
	if err != nil {
		log.Error("Task failed", zap.Error(err))
		p.finish(ctx, log, ws, models.StatusFailed, nil)
		return err
	}

	p.finish(ctx, log, ws, models.StatusCompleted, results)
	return nil
}

type decoded struct {
	name string
	img  image.Image
}

func (p *Processor) run(ctx context.Context, log *zap.Logger, ws *workspace.Workspace) ([]models.ResultFile, error) {
	files, err := ws.InputFiles()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate inputs: %w", err)
	}

	images, err := p.decodeAll(ctx, log, files)
	if err != nil {
		return nil, err
	}
	log.Info("Inputs decoded", zap.Int("files", len(files)), zap.Int("images", len(images)))

	if len(images) == 0 {
		return []models.ResultFile{}, nil
	}

	batch := make([]image.Image, len(images))
	for i, d := range images {
		batch[i] = d.img
	}
	detections, err := p.inferer.Infer(ctx, batch, p.opts.BatchSize)
	if err != nil {
		return nil, err
	}
	if len(detections) != len(images) {
		return nil, fmt.Errorf("got %d detection lists for %d images", len(detections), len(images))
	}

	used := make(map[string]bool, len(images))
	results := make([]models.ResultFile, 0, len(images))
	for i, d := range images {
		out, err := p.painter.Apply(d.img, detections[i])
		if err != nil {
			return nil, fmt.Errorf("failed to composite %s: %w", d.name, err)
		}
		data, err := compositor.EncodeJPEG(out, p.opts.JPEGQuality)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", d.name, err)
		}

		name := workspace.UniqueName(p.outputName(d.name), used)
		if err := ws.WriteOutput(name, data); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", name, err)
		}

		results = append(results, models.ResultFile{
			Filename: name,
			URL:      p.workspaces.OutputURL(ws.ID, name),
		})
		log.Debug("Image covered",
			zap.String("input", d.name),
			zap.String("output", name),
			zap.Int("regions", len(detections[i])),
		)
	}
	return results, nil
}

// decodeAll decodes files in parallel. Files that fail to decode are logged
// and dropped; the rest keep enumeration order.
func (p *Processor) decodeAll(ctx context.Context, log *zap.Logger, files []string) ([]decoded, error) {
	slots := make([]image.Image, len(files))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.DecodeWorkers)
	for i, path := range files {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("Skipping file that crashed the decoder",
						zap.String("file", filepath.Base(path)),
						zap.Any("panic", r),
					)
					slots[i] = nil
					err = nil
				}
			}()

			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
			}
			img, err := p.decode(data)
			if err != nil {
				log.Warn("Skipping undecodable file",
					zap.String("file", filepath.Base(path)),
					zap.Error(err),
				)
				return nil
			}
			slots[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]decoded, 0, len(files))
	for i, img := range slots {
		if img != nil {
			out = append(out, decoded{name: filepath.Base(files[i]), img: img})
		}
	}
	return out, nil
}

func (p *Processor) outputName(input string) string {
	stem := strings.TrimSuffix(input, filepath.Ext(input))
	return p.opts.OutputPrefix + stem + ".jpg"
}

// finish records the terminal status in one write, then notifies without
// holding the caller's worker slot.
func (p *Processor) finish(ctx context.Context, log *zap.Logger, ws *workspace.Workspace, status models.TaskStatus, results []models.ResultFile) {
	if err := p.store.Set(ctx, ws.ID, status, results); err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			log.Warn("Task already terminal", zap.String("status", string(status)))
		} else {
			log.Error("Failed to record terminal status", zap.String("status", string(status)), zap.Error(err))
		}
		return
	}
	log.Info("Task finished", zap.String("status", string(status)), zap.Int("results", len(results)))

	ev := notify.Event{TaskID: ws.ID, Status: status, Results: results, OutputDir: ws.OutputDir}
	p.notifying.Add(1)
	go func() {
		defer p.notifying.Done()
		if err := p.notifier.Notify(ctx, ev); err != nil {
			log.Warn("Notification delivery failed", zap.Error(err))
		}
	}()
}

// Wait blocks until every pending notification has been delivered or has
// failed.
func (p *Processor) Wait() {
	p.notifying.Wait()
}
