// Package monitor periodically resubmits built activities that never reached
// the confirmed-save index.
package monitor

import (
	"context"
	"log"
	"sync"
	"time"

	"example.com/autosave/internal/autosave"
	"example.com/autosave/internal/clock"
	"example.com/autosave/internal/domain"
	"example.com/autosave/internal/observability"
)

// BuiltSource lists activities the producer has marked as built.
type BuiltSource interface {
	BuiltActivities(ctx context.Context) ([]domain.ActivityRecord, error)
}

// ConfirmedIndex reports which activities have a confirmed save.
type ConfirmedIndex interface {
	ConfirmedIDs() (map[string]struct{}, error)
}

// Submitter performs a single save attempt.
type Submitter interface {
	Submit(ctx context.Context, activity domain.ActivityRecord, opts autosave.SubmitOptions) autosave.SaveResult
}

// Config controls sweep cadence and the per-activity retry budget.
type Config struct {
	Interval   time.Duration
	MaxRetries int
}

// DefaultConfig returns a 5s sweep with three attempts per activity.
func DefaultConfig() Config {
	return Config{Interval: 5 * time.Second, MaxRetries: 3}
}

// TickResult summarizes one sweep.
type TickResult struct {
	Checked     int    `json:"checked"`
	Unconfirmed int    `json:"unconfirmed"`
	Saved       int    `json:"saved"`
	Failed      int    `json:"failed"`
	Exhausted   int    `json:"exhausted"`
	Error       string `json:"error,omitempty"`
}

// Stats is a point-in-time view of the monitor.
type Stats struct {
	Running     bool           `json:"running"`
	Ticks       int            `json:"ticks"`
	LastTickAt  *time.Time     `json:"lastTickAt,omitempty"`
	LastChecked int            `json:"lastChecked"`
	Saved       int            `json:"saved"`
	Failed      int            `json:"failed"`
	Exhausted   int            `json:"exhausted"`
	Retries     map[string]int `json:"retries"`
}

// Option configures optional behaviour for the Monitor.
type Option func(*Monitor)

// WithLogger overrides the monitor logger.
func WithLogger(logger *log.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// WithClock overrides the clock used to stamp sweeps.
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) {
		m.clock = c
	}
}

// Monitor runs the reconciliation sweep.
type Monitor struct {
	built     BuiltSource
	confirmed ConfirmedIndex
	submitter Submitter
	cfg       Config
	logger    *log.Logger
	clock     clock.Clock

	tickMu sync.Mutex

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	retries   map[string]int
	ticks     int
	lastTick  time.Time
	lastCheck int
	saved     int
	failed    int
	exhausted int
}

// New constructs a Monitor.
func New(built BuiltSource, confirmed ConfirmedIndex, submitter Submitter, cfg Config, opts ...Option) *Monitor {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	m := &Monitor{
		built:     built,
		confirmed: confirmed,
		submitter: submitter,
		cfg:       cfg,
		logger:    log.New(log.Writer(), "[monitor] ", log.LstdFlags|log.Lshortfile),
		clock:     clock.Real{},
		retries:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start runs the sweep loop until ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	m.StartMonitoring(ctx)
	m.Wait()
}

// Stop halts the sweep loop and waits for it to exit.
func (m *Monitor) Stop() { m.StopMonitoring() }

// Wait blocks until the current loop exits.
func (m *Monitor) Wait() {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}

// StartMonitoring launches the loop in the background. Restarting clears the
// retry counters. It reports false when the loop is already running.
func (m *Monitor) StartMonitoring(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return false
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.retries = make(map[string]int)

	go m.loop(runCtx, done)
	m.logger.Printf("monitoring started (interval=%s, maxRetries=%d)", m.cfg.Interval, m.cfg.MaxRetries)
	return true
}

// StopMonitoring cancels the loop and waits for the running sweep to finish.
func (m *Monitor) StopMonitoring() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.logger.Printf("monitoring stopped")
}

// loop sweeps immediately, then once per interval measured on m.clock after
// the previous sweep finished.
func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	tick := make(chan struct{}, 1)
	var timer clock.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
		m.mu.Lock()
		if m.done == done {
			m.cancel = nil
		}
		m.mu.Unlock()
		close(done)
	}()

	for {
		m.sweep(ctx)

		timer = m.clock.AfterFunc(m.cfg.Interval, func() {
			select {
			case tick <- struct{}{}:
			default:
			}
		})
		select {
		case <-ctx.Done():
			return
		case <-tick:
		}
	}
}

// ForceSaveCheck runs one sweep synchronously.
func (m *Monitor) ForceSaveCheck(ctx context.Context) TickResult {
	return m.sweep(ctx)
}

// ResetRetries clears the retry counter for activityID so the next sweep
// tries it again. It reports whether a counter existed.
func (m *Monitor) ResetRetries(activityID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.retries[activityID]
	delete(m.retries, activityID)
	return ok
}

// Stats returns a snapshot of the monitor counters.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := Stats{
		Running:     m.cancel != nil,
		Ticks:       m.ticks,
		LastChecked: m.lastCheck,
		Saved:       m.saved,
		Failed:      m.failed,
		Exhausted:   m.exhausted,
		Retries:     make(map[string]int, len(m.retries)),
	}
	if !m.lastTick.IsZero() {
		at := m.lastTick
		stats.LastTickAt = &at
	}
	for id, n := range m.retries {
		stats.Retries[id] = n
	}
	return stats
}

func (m *Monitor) sweep(ctx context.Context) TickResult {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	var result TickResult
	defer m.record(&result)

	built, err := m.built.BuiltActivities(ctx)
	if err != nil {
		m.logger.Printf("list built activities: %v", err)
		result.Error = err.Error()
		return result
	}
	confirmed, err := m.confirmed.ConfirmedIDs()
	if err != nil {
		m.logger.Printf("read confirmed index: %v", err)
		result.Error = err.Error()
		return result
	}

	result.Checked = len(built)
	for _, activity := range built {
		if ctx.Err() != nil {
			break
		}
		if _, ok := confirmed[activity.ID]; ok {
			m.ResetRetries(activity.ID)
			continue
		}
		result.Unconfirmed++

		m.mu.Lock()
		count := m.retries[activity.ID]
		m.mu.Unlock()
		if count >= m.cfg.MaxRetries {
			result.Exhausted++
			m.logger.Printf("warning: %q still unconfirmed after %d reconciliation attempts", activity.Title, count)
			continue
		}

		res := m.submitter.Submit(ctx, activity, autosave.SubmitOptions{Source: domain.SourceReconciliation, Attempt: count + 1})
		m.mu.Lock()
		if res.Success {
			delete(m.retries, activity.ID)
		} else {
			m.retries[activity.ID] = count + 1
		}
		m.mu.Unlock()

		if res.Success {
			result.Saved++
			m.logger.Printf("reconciled %q as %s", activity.Title, res.ActivityCode)
		} else {
			result.Failed++
		}
	}
	return result
}

func (m *Monitor) record(result *TickResult) {
	m.mu.Lock()
	m.ticks++
	m.lastTick = m.clock.Now()
	m.lastCheck = result.Checked
	m.saved += result.Saved
	m.failed += result.Failed
	m.exhausted = result.Exhausted
	m.mu.Unlock()

	observability.RecordMonitorTick(result.Unconfirmed, result.Exhausted)
}
