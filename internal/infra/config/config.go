package config

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel string `yaml:"log_level"`

	APS       APS       `yaml:"aps"`
	Auth      Auth      `yaml:"auth"`
	Poll      Poll      `yaml:"poll"`
	Output    Output    `yaml:"output"`
	HTTP      HTTP      `yaml:"http"`
	GRPC      GRPC      `yaml:"grpc"`
	Retention Retention `yaml:"retention"`

	Redis Redis `yaml:"redis"`
	MinIO MinIO `yaml:"minio"`
	NATS  NATS  `yaml:"nats"`
}

type APS struct {
	BaseURL      string `yaml:"base_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`

	BucketPrefix       string   `yaml:"bucket_prefix"`
	ViewerBucketPrefix string   `yaml:"viewer_bucket_prefix"`
	BucketPolicy       string   `yaml:"bucket_policy"`
	Scopes             []string `yaml:"scopes"`
	ActivityID         string   `yaml:"activity_id"`

	Timeouts Timeouts `yaml:"timeouts"`
}

type Timeouts struct {
	Auth     time.Duration `yaml:"auth"`
	Control  time.Duration `yaml:"control"`
	Transfer time.Duration `yaml:"transfer"`
}

type Auth struct {
	RefreshOnExpiry bool          `yaml:"refresh_on_expiry"`
	RefreshSkew     time.Duration `yaml:"refresh_skew"`
}

type Poll struct {
	Interval    time.Duration `yaml:"interval"`
	MaxAttempts int           `yaml:"max_attempts"`
	MaxWait     time.Duration `yaml:"max_wait"`
}

type Output struct {
	Dir         string `yaml:"dir"`
	ValidatePDF bool   `yaml:"validate_pdf"`
}

type HTTP struct {
	Addr            string        `yaml:"addr"`
	MaxUploadMb     int64         `yaml:"max_upload_mb"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type GRPC struct {
	Addr string `yaml:"addr"`
}

type Retention struct {
	RunTTL time.Duration `yaml:"run_ttl"`
	// Schedule is a cron spec for the sweep. Empty disables it.
	Schedule string `yaml:"schedule"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MinIO struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`

	QueueCapacity int `yaml:"queue_capacity"`
	PoolSize      int `yaml:"pool_size"`
	MaxRetries    int `yaml:"max_retries"`
}

type NATS struct {
	URL           string `yaml:"url"`
	Name          string `yaml:"name"`
	Stream        string `yaml:"stream"`
	SubjectPrefix string `yaml:"subject_prefix"`
	MaxReconnects int    `yaml:"max_reconnects"`
}

// Default returns the configuration used when no file is given. Values
// present in a file override these.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		APS: APS{
			BaseURL:            "https://developer.api.autodesk.com",
			BucketPrefix:       "dwg-multi-process-demo",
			ViewerBucketPrefix: "viktor-bucket",
			BucketPolicy:       "transient",
			ActivityID:         "AutoCAD.PlotToPDF+prod",
			Timeouts: Timeouts{
				Auth:     15 * time.Second,
				Control:  30 * time.Second,
				Transfer: 120 * time.Second,
			},
		},
		Auth: Auth{
			RefreshOnExpiry: true,
			RefreshSkew:     time.Minute,
		},
		Poll: Poll{
			Interval: 10 * time.Second,
		},
		Output: Output{
			Dir:         ".",
			ValidatePDF: true,
		},
		HTTP: HTTP{
			Addr:            ":8080",
			MaxUploadMb:     50,
			ShutdownTimeout: 10 * time.Second,
		},
		Retention: Retention{
			RunTTL:   24 * time.Hour,
			Schedule: "@every 10m",
		},
		MinIO: MinIO{
			QueueCapacity: 16,
			PoolSize:      2,
			MaxRetries:    3,
		},
		NATS: NATS{
			Name:          "apsplot",
			Stream:        "APSPLOT_RUNS",
			SubjectPrefix: "apsplot",
			MaxReconnects: 10,
		},
	}
}

// Load reads an optional .env file, then the yaml file at path (skipped when
// path is empty), then applies environment overrides.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: cannot read file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: cannot unmarshal yaml: %w", err)
		}
	}

	cfg.applyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("%v", err)
	}
	return cfg
}

func (c *Config) applyEnv(getenv func(string) string) {
	first := func(keys ...string) string {
		for _, k := range keys {
			if v := strings.TrimSpace(getenv(k)); v != "" {
				return v
			}
		}
		return ""
	}

	if v := first("APS_CLIENT_ID", "CLIENT_ID"); v != "" {
		c.APS.ClientID = v
	}
	if v := first("APS_CLIENT_SECRET", "CLIENT_SECRET"); v != "" {
		c.APS.ClientSecret = v
	}
	if v := first("APS_BASE_URL"); v != "" {
		c.APS.BaseURL = v
	}
	if v := first("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate checks the values that have no sensible fallback. Credentials are
// not checked here: commands that never talk to APS run without them.
func (c *Config) Validate() error {
	if c.Poll.Interval < 0 {
		return fmt.Errorf("config: poll.interval must not be negative, got %s", c.Poll.Interval)
	}
	if c.Poll.MaxAttempts < 0 {
		return fmt.Errorf("config: poll.max_attempts must not be negative, got %d", c.Poll.MaxAttempts)
	}
	if c.APS.BucketPrefix == "" {
		return errors.New("config: aps.bucket_prefix is empty")
	}
	if c.Output.Dir == "" {
		return errors.New("config: output.dir is empty")
	}
	if c.Retention.RunTTL <= 0 {
		return fmt.Errorf("config: retention.run_ttl must be positive, got %s", c.Retention.RunTTL)
	}
	if c.Retention.Schedule != "" {
		if _, err := cron.ParseStandard(c.Retention.Schedule); err != nil {
			return fmt.Errorf("config: retention.schedule %q: %w", c.Retention.Schedule, err)
		}
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		c.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if c.HTTP.MaxUploadMb <= 0 {
		c.HTTP.MaxUploadMb = 50
	}
	if c.MinIO.Endpoint != "" && c.MinIO.Bucket == "" {
		return errors.New("config: minio.bucket is empty")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func (c *Config) SlogLevel() slog.Level {
	lvl, _ := parseLevel(c.LogLevel)
	return lvl
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("config: log_level %q: %w", s, err)
	}
	return lvl, nil
}
