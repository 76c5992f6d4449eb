package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// DefaultServerURL is used when neither the config file nor the environment
// names a server.
const DefaultServerURL = "http://localhost:8080"

// CLI is the vibe-review CLI configuration.
type CLI struct {
	ServerURL string `toml:"server_url"`
	APIKey    string `toml:"api_key"`
	StatePath string `toml:"state_path"`
	RulesPath string `toml:"rules_path"`
}

// DefaultCLIPath returns ~/.config/vibe-review/config.toml.
func DefaultCLIPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "vibe-review", "config.toml"), nil
}

// LoadCLI reads the CLI config at path (the default path when empty) over
// the defaults. A missing file is not an error. VIBE_REVIEW_SERVER and
// VIBE_REVIEW_API_KEY override the file.
func LoadCLI(path string) (*CLI, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return loadCLI(home, path, os.Getenv)
}

func loadCLI(home, path string, getenv func(string) string) (*CLI, error) {
	cfg := &CLI{
		ServerURL: DefaultServerURL,
		StatePath: filepath.Join(home, ".config", "vibe-review", "state.db"),
	}

	if path == "" {
		path = filepath.Join(home, ".config", "vibe-review", "config.toml")
	}
	path = expandHome(path, home)
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if v := getenv("VIBE_REVIEW_SERVER"); v != "" {
		cfg.ServerURL = v
	}
	if v := getenv("VIBE_REVIEW_API_KEY"); v != "" {
		cfg.APIKey = v
	}

	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")
	cfg.StatePath = expandHome(cfg.StatePath, home)
	cfg.RulesPath = expandHome(cfg.RulesPath, home)
	return cfg, nil
}

func expandHome(path, home string) string {
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
