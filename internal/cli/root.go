// Package cli implements the autosaved command line.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"example.com/autosave/internal/config"
)

// RootOptions holds global flags and the resolved configuration.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	StorePath  string
	RemoteMode string
	RemoteURL  string

	Config config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for autosaved.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "autosaved",
		Short: "Activity autosave agent",
		Long:  "Debounces activity saves to the persistence service, falls back to a local store and reconciles the backlog.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return opts.resolveConfig()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log pipeline events to stderr")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.StorePath, "store", "", "local store path (overrides LOCAL_STORE_PATH)")
	cmd.PersistentFlags().StringVar(&opts.RemoteMode, "remote-mode", "", "http or postgres (overrides REMOTE_MODE)")
	cmd.PersistentFlags().StringVar(&opts.RemoteURL, "remote-url", "", "persistence service URL (overrides REMOTE_URL)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))

	return cmd
}

func (o *RootOptions) resolveConfig() error {
	cfg := config.Load()
	if o.StorePath != "" {
		cfg.LocalStorePath = o.StorePath
	}
	if o.RemoteMode != "" {
		cfg.RemoteMode = o.RemoteMode
	}
	if o.RemoteURL != "" {
		cfg.RemoteURL = o.RemoteURL
	}
	switch cfg.RemoteMode {
	case config.RemoteModeHTTP, config.RemoteModePostgres:
	default:
		return fmt.Errorf("invalid remote mode %q: must be %q or %q", cfg.RemoteMode, config.RemoteModeHTTP, config.RemoteModePostgres)
	}
	o.Config = cfg
	return nil
}
