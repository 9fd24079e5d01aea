package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Limits   LimitsConfig
	Storage  StorageConfig
	Store    StoreConfig
	Worker   WorkerConfig
	Detector DetectorConfig
	Notify   NotifyConfig
}

type ServerConfig struct {
	Port            string        `validate:"required,numeric"`
	Env             string        `validate:"required"`
	LogLevel        string        `validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
}

type LimitsConfig struct {
	MaxFiles       int   `validate:"gte=1"`
	MaxFileSize    int64 `validate:"gt=0"`
	MaxRequestSize int64 `validate:"gtefield=MaxFileSize"`
}

type StorageConfig struct {
	TasksPath       string        `validate:"required"`
	OverlayPath     string        `validate:"required"`
	TaskTTL         time.Duration `validate:"gt=0"`
	CleanupInterval time.Duration `validate:"gt=0"`
}

type StoreConfig struct {
	Backend       string `validate:"oneof=memory redis postgres"`
	RedisAddr     string `validate:"required_if=Backend redis"`
	RedisPassword string
	RedisDB       int    `validate:"gte=0"`
	DatabaseURL   string `validate:"required_if=Backend postgres"`
}

type WorkerConfig struct {
	Count         int    `validate:"gte=1"`
	BatchSize     int    `validate:"gte=1"`
	DecodeWorkers int    `validate:"gte=0"`
	JPEGQuality   int    `validate:"gte=1,lte=100"`
	OutputPrefix  string `validate:"required"`
}

type DetectorConfig struct {
	URL          string        `validate:"required,url"`
	ImageSize    int           `validate:"gt=0"`
	Timeout      time.Duration `validate:"gt=0"`
	Concurrency  int           `validate:"gte=1"`
	ReadyRetries uint64
}

type NotifyConfig struct {
	CallbackURL       string `validate:"omitempty,url"`
	UploadURL         string `validate:"omitempty,url"`
	KafkaBrokers      string
	KafkaTopic        string `validate:"required_with=KafkaBrokers"`
	S3Bucket          string
	S3Endpoint        string `validate:"omitempty,url"`
	S3Region          string `validate:"required_with=S3Bucket"`
	S3AccessKeyID     string
	S3SecretAccessKey string
}

// Brokers splits the comma-separated KAFKA_BROKERS value.
func (n NotifyConfig) Brokers() []string {
	var out []string
	for _, b := range strings.Split(n.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Load reads configuration from the environment over built-in defaults and
// validates it.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("SERVICE_PORT", "8081")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SHUTDOWN_TIMEOUT", "30s")

	v.SetDefault("MAX_FILES", 50)
	v.SetDefault("MAX_FILE_SIZE", 20*1024*1024)
	v.SetDefault("MAX_REQUEST_SIZE", 200*1024*1024)

	v.SetDefault("TASKS_STORAGE_PATH", "tasks_storage")
	v.SetDefault("COVER_IMAGE_PATH", "static/cover.png")
	v.SetDefault("TASK_TTL", "24h")
	v.SetDefault("CLEANUP_INTERVAL", "6h")

	v.SetDefault("STORE_BACKEND", "memory")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("DATABASE_URL", "")

	v.SetDefault("WORKER_COUNT", 5)
	v.SetDefault("BATCH_SIZE", 4)
	v.SetDefault("DECODE_WORKERS", 0)
	v.SetDefault("JPEG_QUALITY", 95)
	v.SetDefault("OUTPUT_PREFIX", "covered_")

	v.SetDefault("DETECTOR_URL", "http://localhost:8000")
	v.SetDefault("DETECTOR_IMAGE_SIZE", 640)
	v.SetDefault("DETECTOR_TIMEOUT", "2m")
	v.SetDefault("DETECTOR_CONCURRENCY", 1)
	v.SetDefault("DETECTOR_READY_RETRIES", 5)

	v.SetDefault("BACKEND_CALLBACK_URL", "")
	v.SetDefault("BACKEND_UPLOAD_URL", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", "task_events")
	v.SetDefault("S3_BUCKET", "")
	v.SetDefault("S3_ENDPOINT", "")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_ACCESS_KEY_ID", "")
	v.SetDefault("S3_SECRET_ACCESS_KEY", "")

	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Port:            v.GetString("SERVICE_PORT"),
			Env:             v.GetString("ENV"),
			LogLevel:        strings.ToLower(v.GetString("LOG_LEVEL")),
			ShutdownTimeout: v.GetDuration("SHUTDOWN_TIMEOUT"),
		},
		Limits: LimitsConfig{
			MaxFiles:       v.GetInt("MAX_FILES"),
			MaxFileSize:    v.GetInt64("MAX_FILE_SIZE"),
			MaxRequestSize: v.GetInt64("MAX_REQUEST_SIZE"),
		},
		Storage: StorageConfig{
			TasksPath:       v.GetString("TASKS_STORAGE_PATH"),
			OverlayPath:     v.GetString("COVER_IMAGE_PATH"),
			TaskTTL:         v.GetDuration("TASK_TTL"),
			CleanupInterval: v.GetDuration("CLEANUP_INTERVAL"),
		},
		Store: StoreConfig{
			Backend:       strings.ToLower(v.GetString("STORE_BACKEND")),
			RedisAddr:     v.GetString("REDIS_ADDR"),
			RedisPassword: v.GetString("REDIS_PASSWORD"),
			RedisDB:       v.GetInt("REDIS_DB"),
			DatabaseURL:   v.GetString("DATABASE_URL"),
		},
		Worker: WorkerConfig{
			Count:         v.GetInt("WORKER_COUNT"),
			BatchSize:     v.GetInt("BATCH_SIZE"),
			DecodeWorkers: v.GetInt("DECODE_WORKERS"),
			JPEGQuality:   v.GetInt("JPEG_QUALITY"),
			OutputPrefix:  v.GetString("OUTPUT_PREFIX"),
		},
		Detector: DetectorConfig{
			URL:          v.GetString("DETECTOR_URL"),
			ImageSize:    v.GetInt("DETECTOR_IMAGE_SIZE"),
			Timeout:      v.GetDuration("DETECTOR_TIMEOUT"),
			Concurrency:  v.GetInt("DETECTOR_CONCURRENCY"),
			ReadyRetries: v.GetUint64("DETECTOR_READY_RETRIES"),
		},
		Notify: NotifyConfig{
			CallbackURL:       v.GetString("BACKEND_CALLBACK_URL"),
			UploadURL:         v.GetString("BACKEND_UPLOAD_URL"),
			KafkaBrokers:      v.GetString("KAFKA_BROKERS"),
			KafkaTopic:        v.GetString("KAFKA_TOPIC"),
			S3Bucket:          v.GetString("S3_BUCKET"),
			S3Endpoint:        v.GetString("S3_ENDPOINT"),
			S3Region:          v.GetString("S3_REGION"),
			S3AccessKeyID:     v.GetString("S3_ACCESS_KEY_ID"),
			S3SecretAccessKey: v.GetString("S3_SECRET_ACCESS_KEY"),
		},
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// URLPrefix is the public path under which output areas are served.
func (s StorageConfig) URLPrefix() string {
	return "/" + strings.Trim(s.TasksPath, "/")
}
