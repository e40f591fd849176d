package cli

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"example.com/autosave/internal/agentapi"
	httptransport "example.com/autosave/internal/transport/http"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	SyncOnStart bool
	NoMonitor   bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the autosave agent",
		Long: `Start the autosave pipeline: the save scheduler, the reconciliation
sweep, the local producer API and the /metrics endpoint.

Example:
  autosaved run --store ./autosave.db --remote-url http://localhost:8080
  autosaved run --remote-mode postgres --no-monitor`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.SyncOnStart, "sync-on-start", true, "run one pending-sync pass at startup")
	cmd.Flags().BoolVar(&opts.NoMonitor, "no-monitor", false, "disable the reconciliation sweep")

	return cmd
}

func runAgent(cmd *cobra.Command, opts *RunOptions) error {
	cfg := opts.Config
	logger := log.New(cmd.ErrOrStderr(), "[autosaved] ", log.LstdFlags)

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := openPipeline(ctx, cfg, cmd.ErrOrStderr(), true)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := p.Close(); closeErr != nil {
			logger.Printf("error closing pipeline: %v", closeErr)
		}
	}()

	var sweeper agentapi.Sweeper
	if !opts.NoMonitor {
		p.monitor.StartMonitoring(ctx)
		sweeper = p.monitor
	}

	mux := http.NewServeMux()
	agentapi.NewHandler(p.facade, sweeper).RegisterRoutes(mux)

	servers := []*httptransport.Server{
		httptransport.NewServer(httptransport.ServerConfig{
			Address:      cfg.AgentAddress,
			WriteTimeout: cfg.SaveTimeout + 5*time.Second,
		}, mux),
		httptransport.NewServer(httptransport.ServerConfig{Address: cfg.MetricsAddress}, promhttp.Handler()),
	}

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *httptransport.Server) {
			logger.Printf("listening on %s", srv.Addr)
			if err := srv.Run(serveCtx); err != nil {
				errCh <- fmt.Errorf("server %s: %w", srv.Addr, err)
				return
			}
			errCh <- nil
		}(srv)
	}

	if opts.SyncOnStart {
		if resolved, err := p.facade.SyncPending(ctx); err != nil {
			logger.Printf("startup sync: %v", err)
		} else if resolved > 0 {
			logger.Printf("startup sync resolved %d activities", resolved)
		}
	}

	remaining := len(servers)
	var runErr error
	select {
	case <-ctx.Done():
		logger.Printf("shutting down")
	case runErr = <-errCh:
		remaining--
	}
	cancel()
	for ; remaining > 0; remaining-- {
		if err := <-errCh; err != nil && runErr == nil {
			runErr = err
		}
	}
	return runErr
}
