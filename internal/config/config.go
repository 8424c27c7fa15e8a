package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server    ServerConfig
	Worker    WorkerConfig
	Database  DatabaseConfig
	Storage   StorageConfig
	Redis     RedisConfig
	Cache     CacheConfig
	Upload    UploadConfig
	Video     VideoConfig
	Signature SignatureConfig
	Auth      AuthConfig
}

type ServerConfig struct {
	Port            int           `envconfig:"API_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"API_READ_TIMEOUT" default:"30s"`
	WriteTimeout    time.Duration `envconfig:"API_WRITE_TIMEOUT" default:"120s"`
	ShutdownTimeout time.Duration `envconfig:"API_SHUTDOWN_TIMEOUT" default:"10s"`
}

type WorkerConfig struct {
	// Concurrency 0 selects an automatic bound from available memory.
	Concurrency     int           `envconfig:"WORKER_CONCURRENCY" default:"0"`
	PollInterval    time.Duration `envconfig:"WORKER_POLL_INTERVAL" default:"1s"`
	MaxRetries      int           `envconfig:"WORKER_MAX_RETRIES" default:"3"`
	TempDir         string        `envconfig:"WORKER_TEMP_DIR" default:"./temp"`
	RetentionHours  int           `envconfig:"WORKER_RETENTION_HOURS" default:"24"`
	ShutdownTimeout time.Duration `envconfig:"WORKER_SHUTDOWN_TIMEOUT" default:"30s"`
}

type DatabaseConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" default:"openinary"`
	Password string `envconfig:"POSTGRES_PASSWORD" default:"openinary"`
	DBName   string `envconfig:"POSTGRES_DB" default:"openinary"`
	SSLMode  string `envconfig:"POSTGRES_SSLMODE" default:"disable"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

type StorageConfig struct {
	Endpoint       string        `envconfig:"STORAGE_ENDPOINT" default:"localhost:9000"`
	AccessKey      string        `envconfig:"STORAGE_ACCESS_KEY" default:"minioadmin"`
	SecretKey      string        `envconfig:"STORAGE_SECRET_KEY" default:"minioadmin"`
	Bucket         string        `envconfig:"STORAGE_BUCKET" default:"media"`
	UseSSL         bool          `envconfig:"STORAGE_USE_SSL" default:"false"`
	RequestTimeout time.Duration `envconfig:"STORAGE_REQUEST_TIMEOUT" default:"30s"`
	MaxIdleConns   int           `envconfig:"STORAGE_MAX_IDLE_CONNS" default:"64"`
}

type RedisConfig struct {
	// Addr empty disables the Redis job-status cache.
	Addr     string `envconfig:"REDIS_ADDR" default:""`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

type CacheConfig struct {
	LocalDir     string `envconfig:"CACHE_LOCAL_DIR" default:"./cache"`
	PublicDir    string `envconfig:"CACHE_PUBLIC_DIR" default:"./public"`
	MaxLocalSize int64  `envconfig:"CACHE_MAX_LOCAL_SIZE" default:"1073741824"`
}

type UploadConfig struct {
	MaxFileSize int64 `envconfig:"UPLOAD_MAX_FILE_SIZE" default:"52428800"`
}

type VideoConfig struct {
	FFmpegPath    string        `envconfig:"FFMPEG_PATH" default:"ffmpeg"`
	FFprobePath   string        `envconfig:"FFPROBE_PATH" default:"ffprobe"`
	MaxSourceSize int64         `envconfig:"VIDEO_MAX_SOURCE_SIZE" default:"209715200"`
	Timeout       time.Duration `envconfig:"VIDEO_TIMEOUT" default:"5m"`
}

type SignatureConfig struct {
	// Secret empty disables the signed transform route.
	Secret string `envconfig:"SIGNATURE_SECRET" default:""`
}

type AuthConfig struct {
	// APIKey empty disables key-guarded routes.
	APIKey string `envconfig:"API_KEY" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
