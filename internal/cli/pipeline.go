package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/autosave/internal/autosave"
	"example.com/autosave/internal/config"
	"example.com/autosave/internal/domain"
	"example.com/autosave/internal/localstore"
	"example.com/autosave/internal/monitor"
	"example.com/autosave/internal/notify"
	persistence "example.com/autosave/internal/persistence/postgres"
	"example.com/autosave/internal/remote"
)

// errOffline is returned by the client used when a command never talks to
// the remote store.
var errOffline = errors.New("remote store not configured for this command")

type offlineClient struct{}

func (offlineClient) Save(context.Context, domain.SaveRequest) (domain.SavedRecord, error) {
	return domain.SavedRecord{}, errOffline
}

// pipeline bundles the wired components a command needs.
type pipeline struct {
	store     *localstore.SQLiteStore
	ledger    *localstore.Ledger
	scheduler *autosave.Scheduler
	facade    *autosave.Facade
	monitor   *monitor.Monitor
	closers   []func() error
}

// openPipeline opens the local store and wires the scheduler, facade and
// sweep. Without withRemote the scheduler is given a client that always fails.
func openPipeline(ctx context.Context, cfg config.Config, logOut io.Writer, withRemote bool) (*pipeline, error) {
	store, err := localstore.OpenSQLite(cfg.LocalStorePath)
	if err != nil {
		return nil, err
	}
	p := &pipeline{store: store, ledger: localstore.NewLedger(store)}
	p.closers = append(p.closers, store.Close)

	var client domain.PersistenceClient = offlineClient{}
	if withRemote {
		client, err = p.remoteClient(ctx, cfg)
		if err != nil {
			_ = p.Close()
			return nil, err
		}
	}

	sinks := notify.Multi{notify.LogSink{Logger: log.New(logOut, "[notify] ", log.LstdFlags)}}
	if withRemote && len(cfg.KafkaBrokers) > 0 {
		kafkaSink := notify.NewKafkaSink(cfg.KafkaBrokers, cfg.NotificationTopic)
		sinks = append(sinks, kafkaSink)
		p.closers = append(p.closers, kafkaSink.Close)
	}

	p.scheduler = autosave.NewScheduler(client, p.ledger, autosave.Config{
		Enabled:         cfg.AutoSaveEnabled,
		Delay:           cfg.AutoSaveDelay,
		RetryAttempts:   cfg.RetryAttempts,
		SaveTimeout:     cfg.SaveTimeout,
		CodePrefix:      cfg.CodePrefix,
		UserID:          cfg.UserID,
		DeadLetterAfter: cfg.DeadLetterAfter,
	},
		autosave.WithLogger(log.New(logOut, "[autosave] ", log.LstdFlags)),
		autosave.WithNotifier(sinks),
	)
	p.facade = autosave.NewFacade(p.scheduler, autosave.FacadeOptions{Enabled: autosave.Toggle(cfg.AutoSaveEnabled)})
	p.monitor = monitor.New(p.ledger, p.ledger, p.scheduler, monitor.Config{
		Interval:   cfg.MonitorInterval,
		MaxRetries: cfg.MonitorMaxRetries,
	}, monitor.WithLogger(log.New(logOut, "[monitor] ", log.LstdFlags)))
	return p, nil
}

func (p *pipeline) remoteClient(ctx context.Context, cfg config.Config) (domain.PersistenceClient, error) {
	switch cfg.RemoteMode {
	case config.RemoteModePostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		p.closers = append(p.closers, func() error {
			pool.Close()
			return nil
		})
		return persistence.NewRepository(pool), nil
	default:
		return remote.NewClient(cfg.RemoteURL, cfg.RemoteToken), nil
	}
}

// Close stops the sweep and scheduler, then releases resources in reverse
// order of acquisition.
func (p *pipeline) Close() error {
	if p.monitor != nil {
		p.monitor.StopMonitoring()
	}
	if p.scheduler != nil {
		p.scheduler.Close()
	}
	var errs error
	for i := len(p.closers) - 1; i >= 0; i-- {
		errs = errors.Join(errs, p.closers[i]())
	}
	p.closers = nil
	return errs
}

func logWriter(cmdErr io.Writer, verbose bool) io.Writer {
	if verbose {
		return cmdErr
	}
	return io.Discard
}
