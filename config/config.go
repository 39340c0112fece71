// Package config loads the proxy and CLI settings from the environment.
package config

import (
	"fmt"
	"net"
	"time"

	"github.com/docker/go-units"
	"github.com/kelseyhightower/envconfig"
	"github.com/mediakit-io/go-mediaproxy/ingest"
	"github.com/mediakit-io/go-mediaproxy/mediaapi"
	"github.com/mediakit-io/go-mediaproxy/mediaapi/chunkuploader"
)

// Production is the MEDIAPROXY_ENV value that disables development helpers.
const Production = "production"

type Config struct {
	API    APIConfig
	Server ServerConfig
	Upload UploadConfig
	Ingest IngestConfig
	AWS    AWSConfig
}

type APIConfig struct {
	Key             Secret        `envconfig:"ITTYBIT_API_KEY"`
	URL             string        `envconfig:"ITTYBIT_API_URL" default:"https://api.ittybit.com"`
	RetryMax        int           `envconfig:"ITTYBIT_RETRY_MAX" default:"3"`
	RetryWaitMin    time.Duration `envconfig:"ITTYBIT_RETRY_WAIT_MIN" default:"500ms"`
	RetryWaitMax    time.Duration `envconfig:"ITTYBIT_RETRY_WAIT_MAX" default:"5s"`
	UploadExpiry    time.Duration `envconfig:"ITTYBIT_UPLOAD_EXPIRY" default:"1h"`
	PutExpiry       time.Duration `envconfig:"ITTYBIT_PUT_EXPIRY" default:"10m"`
	ResumableExpiry time.Duration `envconfig:"ITTYBIT_RESUMABLE_EXPIRY" default:"10m"`
	DownloadExpiry  time.Duration `envconfig:"ITTYBIT_DOWNLOAD_EXPIRY" default:"5m"`
}

type ServerConfig struct {
	Env             string        `envconfig:"MEDIAPROXY_ENV" default:"development"`
	Host            string        `envconfig:"MEDIAPROXY_HOST" default:"localhost"`
	Port            string        `envconfig:"MEDIAPROXY_PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"MEDIAPROXY_SHUTDOWN_TIMEOUT" default:"10s"`
	AllowedOrigins  []string      `envconfig:"MEDIAPROXY_ALLOWED_ORIGINS" default:"*"`
}

type UploadConfig struct {
	ChunkSize    ByteSize      `envconfig:"UPLOAD_CHUNK_SIZE" default:"16MiB"`
	ChunkTimeout time.Duration `envconfig:"UPLOAD_CHUNK_TIMEOUT" default:"0"`
	Concurrency  int           `envconfig:"UPLOAD_CONCURRENCY" default:"2"`
}

type IngestConfig struct {
	PollInterval    time.Duration `envconfig:"INGEST_POLL_INTERVAL" default:"750ms"`
	PollMaxAttempts int           `envconfig:"INGEST_POLL_MAX_ATTEMPTS" default:"8"`
	PollBudget      time.Duration `envconfig:"INGEST_POLL_BUDGET" default:"5s"`
}

// AWSConfig is used for s3:// upload sources. Empty keys fall back to the
// default credential chain.
type AWSConfig struct {
	Region          string `envconfig:"AWS_REGION" default:"us-east-1"`
	AccessKeyID     string `envconfig:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey Secret `envconfig:"AWS_SECRET_ACCESS_KEY"`
	Endpoint        string `envconfig:"AWS_ENDPOINT_URL_S3"`
}

func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c Config) validate() error {
	if c.Upload.ChunkSize <= 0 {
		return fmt.Errorf("UPLOAD_CHUNK_SIZE must be positive, got %d", c.Upload.ChunkSize)
	}
	if c.Upload.ChunkTimeout < 0 {
		return fmt.Errorf("UPLOAD_CHUNK_TIMEOUT must not be negative, got %s", c.Upload.ChunkTimeout)
	}
	if c.Upload.Concurrency <= 0 {
		return fmt.Errorf("UPLOAD_CONCURRENCY must be positive, got %d", c.Upload.Concurrency)
	}
	if c.Ingest.PollInterval <= 0 {
		return fmt.Errorf("INGEST_POLL_INTERVAL must be positive, got %s", c.Ingest.PollInterval)
	}
	return nil
}

// IsProduction reports whether the server runs in production mode.
func (c Config) IsProduction() bool {
	return c.Server.Env == Production
}

// Addr is the listen address of the proxy.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, c.Server.Port)
}

// MediaAPI returns the media API client configuration.
func (c Config) MediaAPI() mediaapi.Config {
	return mediaapi.Config{
		BaseURL:         c.API.URL,
		APIKey:          string(c.API.Key),
		RetryMax:        c.API.RetryMax,
		RetryWaitMin:    c.API.RetryWaitMin,
		RetryWaitMax:    c.API.RetryWaitMax,
		UploadExpiry:    c.API.UploadExpiry,
		PutExpiry:       c.API.PutExpiry,
		ResumableExpiry: c.API.ResumableExpiry,
		DownloadExpiry:  c.API.DownloadExpiry,
	}
}

// ChunkUploader returns the chunk driver configuration.
func (c Config) ChunkUploader() chunkuploader.Config {
	config := chunkuploader.DefaultConfig()
	config.ChunkSize = int64(c.Upload.ChunkSize)
	config.ChunkTimeout = c.Upload.ChunkTimeout
	return config
}

// Poll returns the ingest polling bounds.
func (c Config) Poll() ingest.PollConfig {
	return ingest.PollConfig{
		Interval:    c.Ingest.PollInterval,
		MaxAttempts: c.Ingest.PollMaxAttempts,
		Budget:      c.Ingest.PollBudget,
	}
}

// Secret is a string that never prints its value.
type Secret string

const redacted = "*****"

// String ...
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// GoString ...
func (s Secret) GoString() string {
	return s.String()
}

// ByteSize is a size that accepts human readable values like 16MiB or 8m.
type ByteSize int64

// Decode implements envconfig.Decoder.
func (b *ByteSize) Decode(value string) error {
	size, err := units.RAMInBytes(value)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", value, err)
	}
	*b = ByteSize(size)
	return nil
}

// String ...
func (b ByteSize) String() string {
	return units.BytesSize(float64(b))
}
