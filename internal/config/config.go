package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/italolelis/censo_downloader/internal/fetch"
	"github.com/italolelis/censo_downloader/internal/microdata"
	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	BaseURL        string        `envconfig:"BASE_URL" default:"https://download.inep.gov.br"`
	InputDir       string        `envconfig:"INPUT_DIR" default:"input"`
	Years          []int         `envconfig:"YEARS"`
	MaxParallel    int           `envconfig:"MAX_PARALLEL" default:"4"`
	ExtractWorkers int           `envconfig:"EXTRACT_WORKERS" default:"0"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"10m"`

	InsecureHosts    []string `envconfig:"INSECURE_HOSTS" default:"download.inep.gov.br"`
	PinnedCertSHA256 []string `envconfig:"PINNED_CERT_SHA256"`

	DigestManifest string        `envconfig:"DIGEST_MANIFEST"`
	LedgerPath     string        `envconfig:"LEDGER_PATH"`
	TempFileMaxAge time.Duration `envconfig:"TEMP_FILE_MAX_AGE" default:"1h"`

	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	TelemetryEnabled bool          `envconfig:"TELEMETRY_ENABLED" default:"false"`
	MetricsAddr      string        `envconfig:"METRICS_ADDR"`
	OTLPEndpoint     string        `envconfig:"OTLP_ENDPOINT"`
	ServiceName      string        `envconfig:"SERVICE_NAME" default:"censo_downloader"`
	ShutdownTimeout  time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the pipelines cannot run with.
func (c *Config) Validate() error {
	var errs []error

	for _, y := range c.Years {
		if y < microdata.MinYear {
			errs = append(errs, fmt.Errorf("YEARS: %d is before %d", y, microdata.MinYear))
		}
	}

	if c.MaxParallel <= 0 {
		errs = append(errs, fmt.Errorf("MAX_PARALLEL must be positive, got %d", c.MaxParallel))
	}

	if c.ExtractWorkers < 0 {
		errs = append(errs, fmt.Errorf("EXTRACT_WORKERS must not be negative, got %d", c.ExtractWorkers))
	}

	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout))
	}

	if c.BaseURL == "" {
		errs = append(errs, errors.New("BASE_URL must not be empty"))
	}

	return errors.Join(errs...)
}

// FetchOptions maps the configuration onto the fetcher's options.
func (c *Config) FetchOptions() fetch.Options {
	opts := fetch.DefaultOptions()
	opts.BaseURL = c.BaseURL
	opts.Timeout = c.RequestTimeout
	opts.TLS.InsecureHosts = c.InsecureHosts
	opts.TLS.PinnedSHA256 = c.PinnedCertSHA256

	return opts
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
