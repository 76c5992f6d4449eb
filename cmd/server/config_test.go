package main

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func baseEnv() map[string]string {
	return map[string]string{
		"DATABASE_URL":          "postgres://localhost/vibe",
		"S3_ENDPOINT":           "localhost:9000",
		"AWS_ACCESS_KEY_ID":     "id",
		"AWS_SECRET_ACCESS_KEY": "secret",
		"BUCKET_NAME":           "transcripts",
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(env(baseEnv()))
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.ReadTimeout != 30*time.Second || cfg.WriteTimeout != 60*time.Second {
		t.Errorf("timeouts = %v/%v", cfg.ReadTimeout, cfg.WriteTimeout)
	}
	if !cfg.S3Config.UseSSL {
		t.Error("S3 should default to SSL")
	}
	if cfg.S3Config.CreateBucket {
		t.Error("bucket creation should be off by default")
	}
	if cfg.AllowedOrigins != nil {
		t.Errorf("AllowedOrigins = %v, want none", cfg.AllowedOrigins)
	}
	if cfg.UploadRateLimitRPS != 2 || cfg.UploadRateLimitBurst != 20 {
		t.Errorf("upload limit = %v/%d", cfg.UploadRateLimitRPS, cfg.UploadRateLimitBurst)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	vars := baseEnv()
	vars["PORT"] = "9090"
	vars["HTTP_WRITE_TIMEOUT"] = "2m"
	vars["S3_USE_SSL"] = "false"
	vars["S3_CREATE_BUCKET"] = "true"
	vars["ALLOWED_ORIGINS"] = "https://a.example, ,https://b.example"
	vars["UPLOAD_RATE_LIMIT_RPS"] = "0.5"
	vars["SUBAGENT_RULES_FILE"] = "/etc/vibe-review/rules.toml"

	cfg, err := loadConfig(env(vars))
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Port != 9090 || cfg.WriteTimeout != 2*time.Minute {
		t.Errorf("Port/WriteTimeout = %d/%v", cfg.Port, cfg.WriteTimeout)
	}
	if cfg.S3Config.UseSSL || !cfg.S3Config.CreateBucket {
		t.Errorf("S3Config = %+v", cfg.S3Config)
	}
	if want := []string{"https://a.example", "https://b.example"}; !reflect.DeepEqual(cfg.AllowedOrigins, want) {
		t.Errorf("AllowedOrigins = %v, want %v", cfg.AllowedOrigins, want)
	}
	if cfg.UploadRateLimitRPS != 0.5 {
		t.Errorf("UploadRateLimitRPS = %v", cfg.UploadRateLimitRPS)
	}
	if cfg.RulesFile != "/etc/vibe-review/rules.toml" {
		t.Errorf("RulesFile = %q", cfg.RulesFile)
	}
}

func TestLoadConfig_MissingRequired(t *testing.T) {
	for _, name := range []string{"DATABASE_URL", "S3_ENDPOINT", "AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", "BUCKET_NAME"} {
		t.Run(name, func(t *testing.T) {
			vars := baseEnv()
			delete(vars, name)
			_, err := loadConfig(env(vars))
			var missing missingVarError
			if !errors.As(err, &missing) || missing.name != name {
				t.Errorf("error = %v, want missing %s", err, name)
			}
		})
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := map[string]string{
		"PORT":                    "eighty",
		"HTTP_READ_TIMEOUT":       "soon",
		"HTTP_WRITE_TIMEOUT":      "-5s",
		"UPLOAD_RATE_LIMIT_RPS":   "0",
		"UPLOAD_RATE_LIMIT_BURST": "-1",
		"CLASSIFY_RATE_LIMIT_RPS": "fast",
	}
	for name, value := range tests {
		t.Run(name, func(t *testing.T) {
			vars := baseEnv()
			vars[name] = value
			if _, err := loadConfig(env(vars)); err == nil {
				t.Errorf("%s=%q: expected error", name, value)
			}
		})
	}
}

func TestLoadWorkerConfig(t *testing.T) {
	cfg, err := loadWorkerConfig(env(nil))
	if err != nil {
		t.Fatalf("loadWorkerConfig failed: %v", err)
	}
	if cfg.PollInterval != 5*time.Minute || cfg.MaxFiles != 100 || cfg.DryRun {
		t.Errorf("defaults = %+v", cfg)
	}

	cfg, err = loadWorkerConfig(env(map[string]string{
		"WORKER_POLL_INTERVAL": "30s",
		"WORKER_MAX_FILES":     "5",
		"WORKER_DRY_RUN":       "1",
	}))
	if err != nil {
		t.Fatalf("loadWorkerConfig failed: %v", err)
	}
	if cfg.PollInterval != 30*time.Second || cfg.MaxFiles != 5 || !cfg.DryRun {
		t.Errorf("overrides = %+v", cfg)
	}

	if _, err := loadWorkerConfig(env(map[string]string{"WORKER_MAX_FILES": "0"})); err == nil {
		t.Error("expected error for WORKER_MAX_FILES=0")
	}
}
