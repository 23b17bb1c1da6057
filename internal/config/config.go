package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultBatchStart     = 1
	DefaultBatchEnd       = 100
	DefaultMaxScrapers    = 5
	DefaultLaunchDelay    = 2 * time.Second
	DefaultPollInterval   = 5 * time.Second
	DefaultShutdownGrace  = 10 * time.Second
	DefaultInputDir       = "to_process"
	DefaultInputPrefix    = "lawyers"
	DefaultRunsDir        = "runs"
	DefaultS3InputPrefix  = "to_process"
	DefaultS3OutputPrefix = "processed"
)

// Config is the launcher's static configuration, sourced from the
// environment (with optional .env file) once at startup.
type Config struct {
	BatchStart     int
	BatchEnd       int
	MaxConcurrency int
	LaunchDelay    time.Duration
	PollInterval   time.Duration
	ShutdownGrace  time.Duration

	InputDir    string
	InputPrefix string
	RunsDir     string

	WorkerPath string
	VenvPath   string

	Bucket         string
	S3InputPrefix  string
	S3OutputPrefix string

	RepoURL string
	RepoDir string

	// values that were set but failed to parse; validation reports them
	parseErrs []string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
func Load() Config {
	_ = godotenv.Load()

	var bad []string
	return Config{
		BatchStart:     getEnvInt("BATCH_START", DefaultBatchStart, &bad),
		BatchEnd:       getEnvInt("BATCH_END", DefaultBatchEnd, &bad),
		MaxConcurrency: getEnvInt("MAX_SCRAPERS", DefaultMaxScrapers, &bad),
		LaunchDelay:    getEnvDuration("LAUNCH_DELAY", DefaultLaunchDelay, &bad),
		PollInterval:   getEnvDuration("POLL_INTERVAL", DefaultPollInterval, &bad),
		ShutdownGrace:  getEnvDuration("SHUTDOWN_GRACE", DefaultShutdownGrace, &bad),
		InputDir:       getEnv("INPUT_DIR", DefaultInputDir),
		InputPrefix:    getEnv("INPUT_PREFIX", DefaultInputPrefix),
		RunsDir:        getEnv("RUNS_DIR", DefaultRunsDir),
		WorkerPath:     getEnv("SCRAPER_PATH", ""),
		VenvPath:       getEnv("VENV_PATH", ""),
		Bucket:         getEnv("AWS_BUCKET", ""),
		S3InputPrefix:  getEnv("S3_INPUT_PREFIX", DefaultS3InputPrefix),
		S3OutputPrefix: getEnv("S3_OUTPUT_PREFIX", DefaultS3OutputPrefix),
		RepoURL:        getEnv("REPO_URL", ""),
		RepoDir:        getEnv("REPO_DIR", ""),
		parseErrs:      bad,
	}
}

// InputPath maps a job index to its batch input artifact.
func (c Config) InputPath(index int) string {
	return filepath.Join(c.InputDir, fmt.Sprintf("%s_%03d.json", c.InputPrefix, index))
}

// ValidateRun checks everything the run subcommand needs before any job is
// considered. Errors here are fatal.
func (c Config) ValidateRun() error {
	if err := c.parseError(); err != nil {
		return err
	}
	if c.BatchStart > c.BatchEnd {
		return fmt.Errorf("invalid batch range: BATCH_START=%d > BATCH_END=%d", c.BatchStart, c.BatchEnd)
	}
	if c.BatchStart < 0 {
		return fmt.Errorf("invalid batch range: BATCH_START=%d is negative", c.BatchStart)
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("invalid MAX_SCRAPERS=%d: must be at least 1", c.MaxConcurrency)
	}
	if c.LaunchDelay < 0 {
		return fmt.Errorf("invalid LAUNCH_DELAY: must not be negative")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("invalid POLL_INTERVAL: must be positive")
	}
	if c.ShutdownGrace <= 0 {
		return fmt.Errorf("invalid SHUTDOWN_GRACE: must be positive")
	}
	if c.WorkerPath == "" {
		return fmt.Errorf("SCRAPER_PATH is required")
	}
	if c.InputDir == "" {
		return fmt.Errorf("INPUT_DIR is required")
	}
	if _, err := os.Stat(c.InputDir); err != nil {
		return fmt.Errorf("input directory %s: %w", c.InputDir, err)
	}
	return nil
}

// ValidateSync checks the S3 sync settings.
func (c Config) ValidateSync() error {
	if err := c.parseError(); err != nil {
		return err
	}
	if c.Bucket == "" {
		return fmt.Errorf("AWS_BUCKET is required")
	}
	return nil
}

func (c Config) parseError() error {
	if len(c.parseErrs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(c.parseErrs, ", "))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int, bad *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		*bad = append(*bad, fmt.Sprintf("%s=%q is not an integer", key, v))
		return fallback
	}
	return i
}

func getEnvDuration(key string, fallback time.Duration, bad *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	// bare numbers mean seconds, matching the old shell configuration
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	*bad = append(*bad, fmt.Sprintf("%s=%q is not a duration", key, v))
	return fallback
}
