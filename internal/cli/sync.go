package cli

import (
	"io"

	"github.com/spf13/cobra"
)

// SyncResult reports a one-shot pending-sync pass.
type SyncResult struct {
	Resolved     int `json:"resolved"`
	StillPending int `json:"stillPending"`
	DeadLettered int `json:"deadLettered"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Resubmit locally persisted fallbacks once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openPipeline(cmd.Context(), rootOpts.Config, logWriter(cmd.ErrOrStderr(), rootOpts.Verbose), true)
			if err != nil {
				return err
			}
			defer p.Close()

			resolved, err := p.facade.SyncPending(cmd.Context())
			if err != nil {
				return err
			}
			stats := p.facade.GetAutoSaveStats()
			result := SyncResult{Resolved: resolved, StillPending: stats.PendingSync, DeadLettered: stats.DeadLettered}

			return writeResult(cmd.OutOrStdout(), rootOpts.Format, result, func(out io.Writer) {
				printf(out, "resolved %d, pending %d, dead-lettered %d\n", result.Resolved, result.StillPending, result.DeadLettered)
			})
		},
	}
}
