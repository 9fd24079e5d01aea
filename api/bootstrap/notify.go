package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"plateCover/api/config"
	"plateCover/worker/kafka"
	"plateCover/worker/notify"
)

// Sinks holds the configured completion notifiers.
type Sinks struct {
	Notifier *notify.Multi
	// Mirror is nil unless S3_BUCKET is set.
	Mirror  *notify.S3Mirror
	closers []func() error
}

// OpenSinks builds every notifier whose configuration is present. With
// nothing configured the returned Multi has no sinks and does nothing.
func OpenSinks(ctx context.Context, cfg config.NotifyConfig, logger *zap.Logger) (*Sinks, error) {
	s := &Sinks{}
	var sinks []notify.Notifier

	if cfg.CallbackURL != "" {
		sinks = append(sinks, notify.NewWebhook(cfg.CallbackURL, logger))
	}
	if cfg.UploadURL != "" {
		sinks = append(sinks, notify.NewUploader(cfg.UploadURL, logger))
	}

	if brokers := cfg.Brokers(); len(brokers) > 0 {
		producer, err := kafka.NewProducer(brokers, cfg.KafkaTopic, logger)
		if err != nil {
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		sinks = append(sinks, producer)
		s.closers = append(s.closers, producer.Close)
	}

	mirror, err := OpenMirror(ctx, cfg, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	if mirror != nil {
		s.Mirror = mirror
		sinks = append(sinks, mirror)
	}

	s.Notifier = notify.NewMulti(logger, sinks...)
	logger.Info("Notifications configured", zap.Int("sinks", s.Notifier.Len()))
	return s, nil
}

// OpenMirror returns nil, nil when no bucket is configured.
func OpenMirror(ctx context.Context, cfg config.NotifyConfig, logger *zap.Logger) (*notify.S3Mirror, error) {
	if cfg.S3Bucket == "" {
		return nil, nil
	}
	client, err := notify.NewS3Client(ctx, notify.S3Config{
		Endpoint:        cfg.S3Endpoint,
		Region:          cfg.S3Region,
		Bucket:          cfg.S3Bucket,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	return notify.NewS3Mirror(client, cfg.S3Bucket, logger), nil
}

func (s *Sinks) Close() {
	for _, c := range s.closers {
		c()
	}
}
