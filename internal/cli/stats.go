package cli

import (
	"io"

	"github.com/spf13/cobra"

	"example.com/autosave/internal/autosave"
	"example.com/autosave/internal/domain"
)

// StatsReport is the stats command output.
type StatsReport struct {
	autosave.Stats
	Pending     []domain.PendingSyncEntry `json:"pending,omitempty"`
	DeadLetters []domain.DeadLetterRecord `json:"deadLetters,omitempty"`
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	var details bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print pipeline health from the local store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openPipeline(cmd.Context(), rootOpts.Config, logWriter(cmd.ErrOrStderr(), rootOpts.Verbose), false)
			if err != nil {
				return err
			}
			defer p.Close()

			report := StatsReport{Stats: p.facade.GetAutoSaveStats()}
			if details {
				if report.Pending, err = p.ledger.PendingSync(); err != nil {
					return err
				}
				if report.DeadLetters, err = p.ledger.DeadLetters(); err != nil {
					return err
				}
			}

			return writeResult(cmd.OutOrStdout(), rootOpts.Format, report, func(out io.Writer) {
				printf(out, "saved: %d\npending sync: %d\ndead-lettered: %d\nenabled: %t\n",
					report.TotalSaved, report.PendingSync, report.DeadLettered, report.IsEnabled)
				for _, entry := range report.Pending {
					printf(out, "  pending %s %q since %s\n", entry.ActivityID, entry.Title, entry.SavedAt.Format("2006-01-02T15:04:05Z07:00"))
				}
				for _, letter := range report.DeadLetters {
					printf(out, "  dead %s %q: %s\n", letter.Fallback.Activity.ID, letter.Fallback.Activity.Title, letter.Reason)
				}
			})
		},
	}

	cmd.Flags().BoolVar(&details, "details", false, "list pending and dead-lettered activities")
	return cmd
}
