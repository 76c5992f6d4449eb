package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ijg0341/vibe-review-sub000/internal/client"
	"github.com/ijg0341/vibe-review-sub000/internal/localstate"
	"github.com/ijg0341/vibe-review-sub000/internal/logger"
	"github.com/ijg0341/vibe-review-sub000/internal/transcript"
)

// Uploader sends a file to the server.
type Uploader interface {
	Upload(ctx context.Context, req client.UploadRequest) (*client.UploadResponse, error)
}

// CheckpointStore remembers what was uploaded per local path.
type CheckpointStore interface {
	Get(ctx context.Context, path string) (*localstate.Checkpoint, error)
	Put(ctx context.Context, cp localstate.Checkpoint) error
}

// uploadOutcome is what one upload did. Response is nil when skipped.
type uploadOutcome struct {
	Path     string
	Lines    int
	Skipped  bool
	Response *client.UploadResponse
}

func newUploadCmd(a *app) *cobra.Command {
	var externalID string
	var force bool
	cmd := &cobra.Command{
		Use:   "upload FILE...",
		Short: "Upload transcripts incrementally",
		Long: `Uploads transcripts to the server. Files that have not grown since their last
upload are skipped; otherwise the server classifies and stores only the
appended lines.

The external ID defaults to the file name without its extension, which is the
Claude Code session ID for main transcripts.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if externalID != "" && len(args) > 1 {
				return errors.New("--external-id can only be used with a single file")
			}
			if a.cfg.APIKey == "" {
				return errors.New("no API key configured: set api_key in the config file or VIBE_REVIEW_API_KEY")
			}

			state, err := a.openState()
			if err != nil {
				return err
			}
			defer state.Close()

			up := a.client()
			out := cmd.OutOrStdout()
			var failed int
			for _, path := range args {
				o, err := uploadFile(cmd.Context(), up, state, path, externalID, force)
				if err != nil {
					failed++
					logger.Error("upload failed", "path", path, "error", err)
					printf(out, "%s %s: %v\n", styleWarn.Render("✗"), path, err)
					if errors.Is(err, client.ErrUnauthorized) {
						return err
					}
					continue
				}
				renderUploadOutcome(out, o)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d uploads failed", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&externalID, "external-id", "", "session ID to file the transcript under")
	cmd.Flags().BoolVar(&force, "force", false, "upload even if the file has not grown")
	return cmd
}

// uploadFile uploads path unless its local checkpoint shows nothing was
// appended since the last upload.
func uploadFile(ctx context.Context, up Uploader, state CheckpointStore, path, externalID string, force bool) (*uploadOutcome, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	lines, size, err := readLines(abs)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, errors.New("file has no lines")
	}

	prev, err := state.Get(ctx, abs)
	if err != nil && !errors.Is(err, localstate.ErrNotFound) {
		return nil, err
	}
	if prev != nil && !force && len(lines) <= prev.LineCount {
		logger.Debug("skipping unchanged file", "path", abs, "lines", len(lines), "checkpoint", prev.LineCount)
		return &uploadOutcome{Path: abs, Lines: len(lines), Skipped: true}, nil
	}

	fileName := filepath.Base(abs)
	if externalID == "" {
		if prev != nil {
			externalID = prev.ExternalID
		} else {
			externalID = strings.TrimSuffix(fileName, filepath.Ext(fileName))
		}
	}

	resp, err := up.Upload(ctx, client.UploadRequest{
		ExternalID: externalID,
		FileName:   fileName,
		Lines:      lines,
	})
	if err != nil {
		return nil, err
	}

	if err := state.Put(ctx, localstate.Checkpoint{
		Path:       abs,
		ExternalID: externalID,
		FileName:   fileName,
		FileID:     resp.FileID,
		LineCount:  resp.ExistingLineCount,
		SizeBytes:  size,
		UploadedAt: time.Now(),
	}); err != nil {
		// The server has the lines; the next run just re-sends them.
		logger.Warn("failed to save local checkpoint", "path", abs, "error", err)
	}
	return &uploadOutcome{Path: abs, Lines: len(lines), Response: resp}, nil
}

func renderUploadOutcome(w io.Writer, o *uploadOutcome) {
	if o.Skipped {
		printf(w, "%s %s %s\n", styleDim.Render("="), o.Path, styleDim.Render("(up to date, "+humanize.Comma(int64(o.Lines))+" lines)"))
		return
	}
	r := o.Response
	printf(w, "%s %s: %s new of %s lines\n", styleOK.Render("✓"), o.Path,
		humanize.Comma(int64(r.NewCount)), humanize.Comma(int64(r.TotalProcessed)))
	var parts []string
	for _, c := range transcript.AllCategories() {
		if n := r.Categories[c]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", c, n))
		}
	}
	if len(parts) > 0 {
		printf(w, "  %s\n", styleDim.Render(strings.Join(parts, ", ")))
	}
}
