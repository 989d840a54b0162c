// Package config provides configuration loading for pdf2tables.
// Supports YAML files with ${VAR} expansion and environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/spherical/pdf2tables/internal/toolexec"
)

// Execution modes for the pipeline runner.
const (
	ModeDeferred = "deferred"
	ModeSync     = "sync"
)

// Config holds all configuration for the service.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Upload        UploadConfig        `yaml:"upload"`
	Jobs          JobsConfig          `yaml:"jobs"`
	Workspace     WorkspaceConfig     `yaml:"workspace"`
	Classifier    ClassifierConfig    `yaml:"classifier"`
	OCR           OCRConfig           `yaml:"ocr"`
	Extraction    ExtractionConfig    `yaml:"extraction"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	AllowedOrigin    string        `yaml:"allowed_origin"`
}

// UploadConfig holds submission limits.
type UploadConfig struct {
	MaxFileBytes int64 `yaml:"max_file_bytes"`
	MaxFiles     int   `yaml:"max_files"`
}

// JobsConfig holds registry and runner settings.
type JobsConfig struct {
	MaxJobs       int           `yaml:"max_jobs"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	ExecutionMode string        `yaml:"execution_mode"`
	StageTimeout  time.Duration `yaml:"stage_timeout"`
}

// WorkspaceConfig holds temporary storage settings.
type WorkspaceConfig struct {
	BaseDir       string        `yaml:"base_dir"`
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// ClassifierConfig holds the born-digital heuristic thresholds.
type ClassifierConfig struct {
	TextRatioThreshold float64 `yaml:"text_ratio_threshold"`
	CharsPerPage       int     `yaml:"chars_per_page"`
}

// OCRConfig holds OCR tool settings.
type OCRConfig struct {
	Engines       []string `yaml:"engines"`
	OCRmyPDFPath  string   `yaml:"ocrmypdf_path"`
	TesseractPath string   `yaml:"tesseract_path"`
	PaddleCommand string   `yaml:"paddle_command"`
	Language      string   `yaml:"language"`
	Jobs          int      `yaml:"jobs"`
}

// ExtractionConfig holds table extraction settings.
type ExtractionConfig struct {
	CamelotPath string     `yaml:"camelot_path"`
	OCRRecovery bool       `yaml:"ocr_recovery"`
	Deep        DeepConfig `yaml:"deep"`
}

// DeepConfig configures the optional third extraction strategy.
type DeepConfig struct {
	Enabled bool   `yaml:"enabled"`
	Command string `yaml:"command"`
}

// RateLimitConfig holds submission rate limiting settings.
type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
	Driver   string        `yaml:"driver"` // memory or redis
	Redis    RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             7860,
			ReadTimeout:      60 * time.Second,
			WriteTimeout:     60 * time.Second,
			IdleTimeout:      120 * time.Second,
			RequestTimeout:   60 * time.Second,
			GracefulShutdown: 30 * time.Second,
		},
		Upload: UploadConfig{
			MaxFileBytes: 25 * 1024 * 1024,
			MaxFiles:     20,
		},
		Jobs: JobsConfig{
			MaxJobs:       256,
			MaxConcurrent: 2,
			ExecutionMode: ModeDeferred,
			StageTimeout:  5 * time.Minute,
		},
		Workspace: WorkspaceConfig{
			BaseDir:       filepath.Join(os.TempDir(), "pdf2tables"),
			TTL:           60 * time.Minute,
			SweepInterval: time.Minute,
		},
		Classifier: ClassifierConfig{
			TextRatioThreshold: 0.1,
			CharsPerPage:       1000,
		},
		OCR: OCRConfig{
			Engines:       []string{"ocrmypdf", "tesseract"},
			OCRmyPDFPath:  "ocrmypdf",
			TesseractPath: "tesseract",
			Language:      "eng",
			Jobs:          1,
		},
		Extraction: ExtractionConfig{
			CamelotPath: "camelot",
			OCRRecovery: true,
		},
		RateLimit: RateLimitConfig{
			Enabled:  true,
			Requests: 30,
			Window:   time.Minute,
			Driver:   "memory",
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			ServiceName: "pdf2tables",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Upload.MaxFileBytes <= 0 {
		return fmt.Errorf("max_file_bytes must be positive")
	}

	if c.Upload.MaxFiles < 1 {
		return fmt.Errorf("max_files must be at least 1")
	}

	if c.Jobs.MaxJobs < 1 {
		return fmt.Errorf("max_jobs must be at least 1")
	}

	if c.Jobs.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1")
	}

	if c.Jobs.ExecutionMode != ModeDeferred && c.Jobs.ExecutionMode != ModeSync {
		return fmt.Errorf("invalid execution mode: %s", c.Jobs.ExecutionMode)
	}

	if c.Workspace.BaseDir == "" {
		return fmt.Errorf("workspace base_dir is required")
	}

	if c.Workspace.TTL <= 0 {
		return fmt.Errorf("workspace ttl must be positive")
	}

	if c.Workspace.SweepInterval <= 0 {
		return fmt.Errorf("workspace sweep_interval must be positive")
	}

	if c.Classifier.TextRatioThreshold < 0 || c.Classifier.CharsPerPage < 1 {
		return fmt.Errorf("invalid classifier thresholds")
	}

	if len(c.OCR.Engines) == 0 {
		return fmt.Errorf("at least one OCR engine is required")
	}
	for _, e := range c.OCR.Engines {
		switch e {
		case "ocrmypdf", "tesseract":
		case "paddleocr":
			if _, _, err := toolexec.SplitCommand(c.OCR.PaddleCommand); err != nil {
				return fmt.Errorf("paddleocr engine needs paddle_command: %w", err)
			}
		default:
			return fmt.Errorf("invalid OCR engine: %s", e)
		}
	}

	if c.Extraction.Deep.Enabled {
		if c.Extraction.Deep.Command == "" {
			return fmt.Errorf("deep extraction enabled without a command")
		}
		if _, _, err := toolexec.SplitCommand(c.Extraction.Deep.Command); err != nil {
			return fmt.Errorf("invalid deep command: %w", err)
		}
	}

	if c.RateLimit.Driver != "memory" && c.RateLimit.Driver != "redis" {
		return fmt.Errorf("invalid rate limit driver: %s", c.RateLimit.Driver)
	}

	if c.RateLimit.Enabled && (c.RateLimit.Requests < 1 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("rate limit requires positive requests and window")
	}

	return nil
}

// Synchronous reports whether the runner blocks submitters until jobs finish.
func (c *Config) Synchronous() bool {
	return c.Jobs.ExecutionMode == ModeSync
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("APP_ORIGIN"); v != "" {
		cfg.Server.AllowedOrigin = v
	}

	if v := os.Getenv("MAX_CONTENT_LENGTH"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Upload.MaxFileBytes = n
		}
	}

	if v := os.Getenv("MAX_JOBS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Jobs.MaxJobs = n
		}
	}

	if v := os.Getenv("MAX_CONCURRENT_JOBS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Jobs.MaxConcurrent = n
		}
	}

	if v := os.Getenv("SYNC_PIPELINE"); v != "" {
		if isTrue(v) {
			cfg.Jobs.ExecutionMode = ModeSync
		} else {
			cfg.Jobs.ExecutionMode = ModeDeferred
		}
	}

	if v := os.Getenv("USE_DEEP_TABLES"); v != "" {
		cfg.Extraction.Deep.Enabled = isTrue(v)
	}

	if v := os.Getenv("DEEP_TABLES_COMMAND"); v != "" {
		cfg.Extraction.Deep.Command = v
	}

	if v := os.Getenv("CAMELOT_PATH"); v != "" {
		cfg.Extraction.CamelotPath = v
	}

	if v := os.Getenv("WORKSPACE_DIR"); v != "" {
		cfg.Workspace.BaseDir = v
	}

	if v := os.Getenv("WORKSPACE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Workspace.TTL = d
		}
	}

	if v := os.Getenv("OCR_ENGINES"); v != "" {
		var engines []string
		for _, e := range strings.Split(v, ",") {
			if e = strings.TrimSpace(e); e != "" {
				engines = append(engines, e)
			}
		}
		cfg.OCR.Engines = engines
	}

	if v := os.Getenv("PADDLE_OCR_COMMAND"); v != "" {
		cfg.OCR.PaddleCommand = v
	}

	if v := os.Getenv("OCR_LANG"); v != "" {
		cfg.OCR.Language = v
	}

	if v := os.Getenv("RATE_LIMIT_REQUESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.Requests = n
		}
	}

	if v := os.Getenv("RATE_LIMIT_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RateLimit.Window = d
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		opts, err := redis.ParseURL(v)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		cfg.RateLimit.Driver = "redis"
		cfg.RateLimit.Redis.Addr = opts.Addr
		cfg.RateLimit.Redis.Password = opts.Password
		cfg.RateLimit.Redis.DB = opts.DB
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}

	return nil
}

func isTrue(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
