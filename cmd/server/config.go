package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ijg0341/vibe-review-sub000/internal/storage"
)

// Config is the server configuration read from the environment.
type Config struct {
	Port           int
	DatabaseURL    string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	S3Config       storage.S3Config
	AllowedOrigins []string
	RulesFile      string

	UploadRateLimitRPS     float64
	UploadRateLimitBurst   int
	ClassifyRateLimitRPS   float64
	ClassifyRateLimitBurst int
}

// WorkerConfig holds configuration for the stats worker.
type WorkerConfig struct {
	PollInterval time.Duration
	MaxFiles     int  // Maximum files to recompute per cycle
	DryRun       bool // If true, log what would be done without writing stats
}

// missingVarError names a required environment variable that is unset.
type missingVarError struct{ name string }

func (e missingVarError) Error() string {
	return fmt.Sprintf("missing required env var %s", e.name)
}

func required(getenv func(string) string, name string) (string, error) {
	v := getenv(name)
	if v == "" {
		return "", missingVarError{name}
	}
	return v, nil
}

func durationVar(getenv func(string) string, name string, def time.Duration) (time.Duration, error) {
	v := getenv(name)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive duration", name, v)
	}
	return d, nil
}

func intVar(getenv func(string) string, name string, def int) (int, error) {
	v := getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive integer", name, v)
	}
	return n, nil
}

func floatVar(getenv func(string) string, name string, def float64) (float64, error) {
	v := getenv(name)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive number", name, v)
	}
	return f, nil
}

func boolVar(getenv func(string) string, name string) bool {
	v := strings.ToLower(getenv(name))
	return v == "true" || v == "1"
}

// splitOrigins parses a comma-separated origin list, dropping blanks.
func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func loadDatabaseURL(getenv func(string) string) (string, error) {
	return required(getenv, "DATABASE_URL")
}

// loadS3Config loads S3 configuration from environment variables.
func loadS3Config(getenv func(string) string) (storage.S3Config, error) {
	var cfg storage.S3Config
	var err error
	if cfg.Endpoint, err = required(getenv, "S3_ENDPOINT"); err != nil {
		return cfg, err
	}
	if cfg.AccessKeyID, err = required(getenv, "AWS_ACCESS_KEY_ID"); err != nil {
		return cfg, err
	}
	if cfg.SecretAccessKey, err = required(getenv, "AWS_SECRET_ACCESS_KEY"); err != nil {
		return cfg, err
	}
	if cfg.BucketName, err = required(getenv, "BUCKET_NAME"); err != nil {
		return cfg, err
	}
	cfg.UseSSL = getenv("S3_USE_SSL") != "false" // Default true
	cfg.CreateBucket = boolVar(getenv, "S3_CREATE_BUCKET")
	return cfg, nil
}

func loadConfig(getenv func(string) string) (Config, error) {
	cfg := Config{
		AllowedOrigins: splitOrigins(getenv("ALLOWED_ORIGINS")),
		RulesFile:      getenv("SUBAGENT_RULES_FILE"),
	}
	var err error

	if cfg.Port, err = intVar(getenv, "PORT", 8080); err != nil {
		return cfg, err
	}
	if cfg.ReadTimeout, err = durationVar(getenv, "HTTP_READ_TIMEOUT", 30*time.Second); err != nil {
		return cfg, err
	}
	// Uploads of long transcripts take a while to classify and store.
	if cfg.WriteTimeout, err = durationVar(getenv, "HTTP_WRITE_TIMEOUT", 60*time.Second); err != nil {
		return cfg, err
	}
	if cfg.DatabaseURL, err = loadDatabaseURL(getenv); err != nil {
		return cfg, err
	}
	if cfg.S3Config, err = loadS3Config(getenv); err != nil {
		return cfg, err
	}

	if cfg.UploadRateLimitRPS, err = floatVar(getenv, "UPLOAD_RATE_LIMIT_RPS", 2); err != nil {
		return cfg, err
	}
	if cfg.UploadRateLimitBurst, err = intVar(getenv, "UPLOAD_RATE_LIMIT_BURST", 20); err != nil {
		return cfg, err
	}
	if cfg.ClassifyRateLimitRPS, err = floatVar(getenv, "CLASSIFY_RATE_LIMIT_RPS", 1); err != nil {
		return cfg, err
	}
	if cfg.ClassifyRateLimitBurst, err = intVar(getenv, "CLASSIFY_RATE_LIMIT_BURST", 10); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadWorkerConfig(getenv func(string) string) (WorkerConfig, error) {
	cfg := WorkerConfig{DryRun: boolVar(getenv, "WORKER_DRY_RUN")}
	var err error
	if cfg.PollInterval, err = durationVar(getenv, "WORKER_POLL_INTERVAL", 5*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.MaxFiles, err = intVar(getenv, "WORKER_MAX_FILES", 100); err != nil {
		return cfg, err
	}
	return cfg, nil
}
