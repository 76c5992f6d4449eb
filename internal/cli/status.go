package cli

import (
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ijg0341/vibe-review-sub000/internal/localstate"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and uploaded files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := a.openState()
			if err != nil {
				return err
			}
			defer state.Close()

			checkpoints, err := state.List(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printf(out, "%s %s\n", styleHeader.Render("Server:"), a.cfg.ServerURL)
			if a.cfg.APIKey != "" {
				printf(out, "%s %s\n", styleHeader.Render("API key:"), maskKey(a.cfg.APIKey))
			} else {
				printf(out, "%s %s\n", styleHeader.Render("API key:"), styleWarn.Render("not configured"))
			}
			printf(out, "%s %s\n\n", styleHeader.Render("State:"), state.Path())
			renderCheckpoints(out, checkpoints, time.Now())
			return nil
		},
	}
}

func renderCheckpoints(w io.Writer, checkpoints []localstate.Checkpoint, now time.Time) {
	if len(checkpoints) == 0 {
		printf(w, "%s\n", styleDim.Render("No files uploaded yet. Run 'vibe-review upload FILE'."))
		return
	}
	for _, cp := range checkpoints {
		printf(w, "%s\n", cp.Path)
		printf(w, "  %s lines, %s, uploaded %s\n",
			humanize.Comma(int64(cp.LineCount)),
			humanize.Bytes(uint64(cp.SizeBytes)),
			humanize.RelTime(cp.UploadedAt, now, "ago", "from now"))
		if cp.FileID != "" {
			printf(w, "  %s\n", styleDim.Render("session "+cp.ExternalID+", file "+cp.FileID))
		}
	}
}

// maskKey shows the first 7 and last 4 characters of an API key.
func maskKey(key string) string {
	if len(key) <= 12 {
		return "****"
	}
	return key[:7] + "..." + key[len(key)-4:]
}
