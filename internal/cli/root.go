// Package cli implements the vibe-review command line tool.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ijg0341/vibe-review-sub000/internal/client"
	"github.com/ijg0341/vibe-review-sub000/internal/config"
	"github.com/ijg0341/vibe-review-sub000/internal/localstate"
	"github.com/ijg0341/vibe-review-sub000/internal/logger"
	"github.com/ijg0341/vibe-review-sub000/internal/transcript"
)

// app is the state shared by the commands of one invocation.
type app struct {
	configPath string
	verbose    bool
	cfg        *config.CLI
}

// NewRootCmd builds the vibe-review command tree.
func NewRootCmd(version string) *cobra.Command {
	a := &app{}
	client.Version = version

	root := &cobra.Command{
		Use:   "vibe-review",
		Short: "Review Claude Code transcripts",
		Long: `vibe-review classifies Claude Code JSONL transcripts into categories,
tags subagent sidechains, and uploads them incrementally to a vibe-review server.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelWarn
			if a.verbose {
				level = slog.LevelDebug
			}
			logger.UseText(cmd.ErrOrStderr(), level)

			cfg, err := config.LoadCLI(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			logger.Debug("loaded config", "server_url", cfg.ServerURL, "state_path", cfg.StatePath)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default ~/.config/vibe-review/config.toml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log debug output to stderr")

	root.AddCommand(
		newClassifyCmd(a),
		newUploadCmd(a),
		newStatusCmd(a),
		newSubagentsCmd(a),
	)
	return root
}

// Execute runs the CLI and exits non-zero on error.
func Execute(version string) {
	root := NewRootCmd(version)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (a *app) processor() (*transcript.Processor, error) {
	detector, err := config.DetectorFromFile(a.cfg.RulesPath)
	if err != nil {
		return nil, err
	}
	return transcript.NewProcessor(detector), nil
}

func (a *app) client() *client.Client {
	return client.New(a.cfg.ServerURL, a.cfg.APIKey, 2*time.Minute)
}

func (a *app) openState() (*localstate.Store, error) {
	return localstate.Open(a.cfg.StatePath)
}

// readLines reads a transcript file into lines.
func readLines(path string) ([]string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, 0, err
	}
	lines, err := transcript.SplitLines(f)
	if err != nil {
		return nil, 0, fmt.Errorf("read %s: %w", path, err)
	}
	return lines, info.Size(), nil
}

func printf(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, format, args...)
}
