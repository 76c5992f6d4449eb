package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/ijg0341/vibe-review-sub000/internal/transcript"
)

func newSubagentsCmd(a *app) *cobra.Command {
	var remote bool
	cmd := &cobra.Command{
		Use:   "subagents",
		Short: "List known subagent labels",
		Long: `Lists the subagent labels sidechain records can be tagged with, using the
local rules file, or the server's vocabulary with --remote.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var subs []transcript.SubagentMeta
			if remote {
				var err error
				if subs, err = a.client().Subagents(cmd.Context()); err != nil {
					return err
				}
			} else {
				p, err := a.processor()
				if err != nil {
					return err
				}
				subs = p.Detector().KnownSubagents()
			}
			renderSubagents(cmd.OutOrStdout(), subs)
			return nil
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "ask the server instead of using local rules")
	return cmd
}

func renderSubagents(w io.Writer, subs []transcript.SubagentMeta) {
	for _, s := range subs {
		printf(w, "%s %-22s %s\n", s.Icon, s.Label, subagentStyle(s).Render(s.DisplayName))
	}
}
