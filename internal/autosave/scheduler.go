// Package autosave debounces, submits and retries activity saves, demoting
// activities that exhaust their retries to local fallback storage.
package autosave

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"example.com/autosave/internal/clock"
	"example.com/autosave/internal/domain"
	"example.com/autosave/internal/localstore"
	"example.com/autosave/internal/notify"
	"example.com/autosave/internal/observability"
)

// Config holds the scheduler tunables.
type Config struct {
	Enabled         bool
	Delay           time.Duration
	RetryAttempts   int
	SaveTimeout     time.Duration // Zero disables the per-call deadline.
	CodePrefix      string
	UserID          string // Overrides the identity resolved from the local store.
	DeadLetterAfter int    // Failed sync passes before a fallback is parked. Zero never parks.
	OnSaveSuccess   func(activityCode string)
	OnSaveError     func(message string)
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		Delay:           time.Second,
		RetryAttempts:   5,
		SaveTimeout:     15 * time.Second,
		CodePrefix:      domain.DefaultCodePrefix,
		DeadLetterAfter: 10,
	}
}

// State is the per-activity position in the save lifecycle.
type State string

const (
	StateIdle              State = "idle"
	StateScheduled         State = "scheduled"
	StateSubmitting        State = "submitting"
	StateRetryScheduled    State = "retry_scheduled"
	StateConfirmed         State = "confirmed"
	StateFallbackPersisted State = "fallback_persisted"
)

// SaveResult is the structured outcome of a single submission.
type SaveResult struct {
	Success      bool                `json:"success"`
	ActivityCode string              `json:"activityCode,omitempty"`
	Error        string              `json:"error,omitempty"`
	Record       *domain.SavedRecord `json:"record,omitempty"`
}

// SubmitOptions tags a submission for audit.
type SubmitOptions struct {
	Source  domain.Source
	Attempt int
}

// Stats summarizes pipeline health.
type Stats struct {
	TotalSaved         int  `json:"totalSaved"`
	PendingSync        int  `json:"pendingSync"`
	QueuedSaves        int  `json:"queuedSaves"`
	RetryingActivities int  `json:"retryingActivities"`
	DeadLettered       int  `json:"deadLettered"`
	IsEnabled          bool `json:"isEnabled"`
}

// Option configures optional behaviour for the Scheduler.
type Option func(*Scheduler)

// WithLogger overrides the logger used to report pipeline events.
func WithLogger(logger *log.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithClock replaces the wall clock, typically with clock.Fake in tests.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithNotifier sets the sink receiving success and error notifications.
func WithNotifier(sink notify.Sink) Option {
	return func(s *Scheduler) {
		s.sink = sink
	}
}

type pendingTimer struct {
	timer clock.Timer
	gen   uint64
}

// Scheduler owns the debounce timers and retry counters for every activity.
// Construct one per process and share it by reference.
type Scheduler struct {
	client domain.PersistenceClient
	ledger *localstore.Ledger
	clock  clock.Clock
	sink   notify.Sink
	logger *log.Logger

	mu          sync.Mutex
	cfg         Config
	gen         uint64
	timers      map[string]pendingTimer
	retryTimers map[string]pendingTimer
	retries     map[string]int
	chains      map[string]uint64 // generation of the snapshot owning the retry chain
	states      map[string]State  // in-progress states only
	inflight    sync.WaitGroup
}

// NewScheduler constructs a Scheduler.
func NewScheduler(client domain.PersistenceClient, ledger *localstore.Ledger, cfg Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		client:      client,
		ledger:      ledger,
		clock:       clock.Real{},
		sink:        notify.Discard{},
		logger:      log.New(log.Writer(), "[autosave] ", log.LstdFlags|log.Lshortfile),
		cfg:         normalizeConfig(cfg),
		timers:      make(map[string]pendingTimer),
		retryTimers: make(map[string]pendingTimer),
		retries:     make(map[string]int),
		chains:      make(map[string]uint64),
		states:      make(map[string]State),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func normalizeConfig(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Delay < 0 {
		cfg.Delay = def.Delay
	}
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = 0
	}
	if cfg.CodePrefix == "" {
		cfg.CodePrefix = def.CodePrefix
	}
	return cfg
}

// Config returns the active configuration.
func (s *Scheduler) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Configure replaces the active configuration. Pending timers keep the delay
// they were scheduled with.
func (s *Scheduler) Configure(cfg Config) {
	s.mu.Lock()
	s.cfg = normalizeConfig(cfg)
	s.mu.Unlock()
	s.logger.Printf("configured (enabled=%t, delay=%s, retryAttempts=%d)", cfg.Enabled, cfg.Delay, cfg.RetryAttempts)
}

// ScheduleAutoSave debounces a save for activity. Ineligible activities and
// calls made while disabled are ignored. A later call for the same id replaces
// the pending snapshot and abandons any backoff retry of an older one.
func (s *Scheduler) ScheduleAutoSave(activity domain.ActivityRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Enabled {
		return
	}
	if !activity.Eligible() {
		s.logger.Printf("skip %q: not eligible (status=%s, progress=%d, built=%t)", activity.Title, activity.Status, activity.Progress, activity.IsBuilt)
		return
	}

	id := activity.ID
	if pending, ok := s.timers[id]; ok {
		pending.timer.Stop()
	}
	s.stopRetryLocked(id)

	snapshot := cloneActivity(activity)
	s.gen++
	gen := s.gen
	s.chains[id] = gen
	timer := s.clock.AfterFunc(s.cfg.Delay, func() {
		s.mu.Lock()
		current, ok := s.timers[id]
		if !ok || current.gen != gen {
			s.mu.Unlock()
			return
		}
		delete(s.timers, id)
		observability.SetQueued(len(s.timers))
		s.inflight.Add(1)
		s.mu.Unlock()

		defer s.inflight.Done()
		s.performAutoSave(context.Background(), snapshot, gen)
	})
	s.timers[id] = pendingTimer{timer: timer, gen: gen}
	s.states[id] = StateScheduled
	observability.SetQueued(len(s.timers))
}

// SaveNow submits activity immediately with a single attempt and reports the
// outcome. A pending debounce for the same activity is cancelled.
func (s *Scheduler) SaveNow(ctx context.Context, activity domain.ActivityRecord) SaveResult {
	s.mu.Lock()
	if pending, ok := s.timers[activity.ID]; ok {
		pending.timer.Stop()
		delete(s.timers, activity.ID)
		delete(s.chains, activity.ID)
		observability.SetQueued(len(s.timers))
	}
	s.mu.Unlock()

	return s.Submit(ctx, cloneActivity(activity), SubmitOptions{Source: domain.SourceSaveNow, Attempt: 1})
}

// CancelPendingSaves stops every debounce timer. Saves already submitting and
// backoff retries already scheduled run to completion.
func (s *Scheduler) CancelPendingSaves() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, pending := range s.timers {
		pending.timer.Stop()
		delete(s.timers, id)
		if _, retrying := s.retryTimers[id]; !retrying {
			delete(s.chains, id)
		}
		s.settleLocked(id)
	}
	observability.SetQueued(0)
	s.logger.Printf("pending saves cancelled")
}

// Close stops debounce and retry timers and waits for in-flight saves.
func (s *Scheduler) Close() {
	s.mu.Lock()
	for id, pending := range s.timers {
		pending.timer.Stop()
		delete(s.timers, id)
	}
	for id, pending := range s.retryTimers {
		pending.timer.Stop()
		delete(s.retryTimers, id)
	}
	clear(s.chains)
	s.mu.Unlock()
	s.inflight.Wait()
}

// State reports where activityID is in the save lifecycle. Only in-progress
// states are held in memory; terminal states are read from the ledger.
func (s *Scheduler) State(activityID string) State {
	s.mu.Lock()
	state, ok := s.states[activityID]
	s.mu.Unlock()
	if ok {
		return state
	}

	if fallback, err := s.ledger.Fallback(activityID); err == nil && fallback != nil {
		return StateFallbackPersisted
	}
	if ref, err := s.ledger.Reference(activityID); err == nil && ref != nil {
		return StateConfirmed
	}
	return StateIdle
}

// Submit performs one remote save. On success it records the confirmed
// reference, stops any backoff retry for the activity and notifies; failures
// are returned to the caller untouched.
func (s *Scheduler) Submit(ctx context.Context, activity domain.ActivityRecord, opts SubmitOptions) SaveResult {
	return s.submit(ctx, activity, opts, 0)
}

// submit runs one attempt. chain is the snapshot generation of an autosave
// retry chain, or zero for saves made outside the chain.
func (s *Scheduler) submit(ctx context.Context, activity domain.ActivityRecord, opts SubmitOptions, chain uint64) SaveResult {
	if opts.Source == "" {
		opts.Source = domain.SourceAutoSave
	}
	if opts.Attempt <= 0 {
		opts.Attempt = 1
	}

	s.setState(activity.ID, StateSubmitting)
	cfg := s.Config()
	req := s.buildRequest(activity, opts, cfg)

	if cfg.SaveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.SaveTimeout)
		defer cancel()
	}

	start := time.Now()
	record, err := s.callClient(ctx, req)
	observability.RecordSaveAttempt(string(opts.Source), err == nil, time.Since(start))
	if err != nil {
		s.logger.Printf("save failed for %q (source=%s, attempt=%d): %v", activity.Title, opts.Source, opts.Attempt, err)
		if chain == 0 {
			s.mu.Lock()
			s.settleLocked(activity.ID)
			s.mu.Unlock()
		}
		return SaveResult{Success: false, Error: err.Error()}
	}

	s.handleSaveSuccess(activity, req.GeneratedCode, opts.Source, cfg, chain)
	return SaveResult{Success: true, ActivityCode: req.GeneratedCode, Record: &record}
}

// Stats reports counts from the durable indexes and in-memory queues.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	stats := Stats{
		QueuedSaves:        len(s.timers),
		RetryingActivities: len(s.retries),
		IsEnabled:          s.cfg.Enabled,
	}
	s.mu.Unlock()

	if confirmed, err := s.ledger.Confirmed(); err == nil {
		stats.TotalSaved = len(confirmed)
	} else {
		s.localStoreFailure("read_confirmed", err)
	}
	if pending, err := s.ledger.PendingSync(); err == nil {
		stats.PendingSync = len(pending)
	} else {
		s.localStoreFailure("read_pending", err)
	}
	if letters, err := s.ledger.DeadLetters(); err == nil {
		stats.DeadLettered = len(letters)
	} else {
		s.localStoreFailure("read_deadletter", err)
	}
	return stats
}

func (s *Scheduler) performAutoSave(ctx context.Context, activity domain.ActivityRecord, chain uint64) {
	s.mu.Lock()
	attempt := s.retries[activity.ID] + 1
	s.mu.Unlock()

	result := s.submit(ctx, activity, SubmitOptions{Source: domain.SourceAutoSave, Attempt: attempt}, chain)
	if result.Success {
		return
	}
	s.handleSaveError(activity, result.Error, chain)
}

func (s *Scheduler) handleSaveSuccess(activity domain.ActivityRecord, code string, source domain.Source, cfg Config, chain uint64) {
	now := s.clock.Now()
	ref := domain.ConfirmedSaveReference{
		ActivityID:    activity.ID,
		GeneratedCode: code,
		SavedAt:       now,
		Title:         activity.Title,
		Type:          activity.Type,
		Source:        source,
	}
	if err := s.ledger.Confirm(ref); err != nil {
		s.localStoreFailure("confirm", err)
	}
	observability.RecordConfirmed(now)

	id := activity.ID
	s.mu.Lock()
	switch current, owned := s.chains[id]; {
	case chain == 0:
		s.stopRetryLocked(id)
		if _, queued := s.timers[id]; !queued {
			delete(s.chains, id)
		}
	case owned && current == chain:
		delete(s.retries, id)
		delete(s.chains, id)
	}
	s.settleLocked(id)
	s.mu.Unlock()

	s.logger.Printf("saved %q as %s (source=%s)", activity.Title, code, source)
	s.sink.NotifySuccess(activity.Title)
	if cfg.OnSaveSuccess != nil {
		cfg.OnSaveSuccess(code)
	}
}

func (s *Scheduler) handleSaveError(activity domain.ActivityRecord, message string, chain uint64) {
	id := activity.ID

	s.mu.Lock()
	if current, owned := s.chains[id]; !owned || current != chain {
		s.settleLocked(id)
		s.mu.Unlock()
		s.logger.Printf("drop failed save of superseded snapshot %q: %s", activity.Title, message)
		return
	}
	cfg := s.cfg
	count := s.retries[id]
	if count < cfg.RetryAttempts {
		s.retries[id] = count + 1
		delay := cfg.Delay * time.Duration(count+1)
		if pending, ok := s.retryTimers[id]; ok {
			pending.timer.Stop()
		}
		s.gen++
		gen := s.gen
		timer := s.clock.AfterFunc(delay, func() {
			s.mu.Lock()
			current, ok := s.retryTimers[id]
			if !ok || current.gen != gen {
				s.mu.Unlock()
				return
			}
			delete(s.retryTimers, id)
			s.inflight.Add(1)
			s.mu.Unlock()

			defer s.inflight.Done()
			s.performAutoSave(context.Background(), activity, chain)
		})
		s.retryTimers[id] = pendingTimer{timer: timer, gen: gen}
		s.states[id] = StateRetryScheduled
		s.mu.Unlock()

		observability.RecordRetryScheduled()
		s.logger.Printf("retry %d/%d for %q in %s", count+1, cfg.RetryAttempts, activity.Title, delay)
		return
	}
	delete(s.retries, id)
	delete(s.chains, id)
	s.settleLocked(id)
	s.mu.Unlock()

	s.logger.Printf("save failed permanently for %q: %s", activity.Title, message)
	fallback := domain.FallbackRecord{
		Activity:  activity,
		NeedsSync: true,
		SavedAt:   s.clock.Now(),
		LastError: message,
	}
	if err := s.ledger.WriteFallback(fallback); err != nil {
		s.localStoreFailure("write_fallback", err)
	} else {
		observability.RecordFallback()
	}

	s.sink.NotifyError(activity.Title)
	if cfg.OnSaveError != nil {
		cfg.OnSaveError(message)
	}
}

func (s *Scheduler) buildRequest(activity domain.ActivityRecord, opts SubmitOptions, cfg Config) domain.SaveRequest {
	now := s.clock.Now()

	userID := cfg.UserID
	if userID == "" {
		resolved, err := s.ledger.UserID(now)
		if err != nil {
			s.localStoreFailure("user_id", err)
		}
		userID = resolved
	}

	generated, err := s.ledger.GeneratedContent(activity.ID)
	if err != nil {
		s.logger.Printf("ignore generated content for %q: %v", activity.Title, err)
	}
	construction, err := s.ledger.ConstructionData(activity.ID)
	if err != nil {
		s.logger.Printf("ignore construction data for %q: %v", activity.Title, err)
	}

	return domain.SaveRequest{
		ActivityID:    activity.ID,
		GeneratedCode: domain.GenerateCode(cfg.CodePrefix, activity.Type, now),
		UserID:        userID,
		Type:          activity.Type,
		Title:         activity.Title,
		Payload: domain.SavePayload{
			OriginalData:     activity.OriginalData,
			GeneratedContent: generated,
			ConstructionData: construction,
			Metadata: domain.SaveMetadata{
				ActivityID:  activity.ID,
				SavedAt:     now,
				Attempt:     opts.Attempt,
				Source:      opts.Source,
				Progress:    activity.Progress,
				Status:      activity.Status,
				Description: activity.Description,
				AutoSaved:   opts.Source != domain.SourceSaveNow,
				IsBuilt:     activity.IsBuilt,
			},
		},
	}
}

// callClient converts client panics into errors so they follow the failure path.
func (s *Scheduler) callClient(ctx context.Context, req domain.SaveRequest) (rec domain.SavedRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("persistence client panic: %v", r)
		}
	}()
	rec, err = s.client.Save(ctx, req)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("save timed out: %w", err)
	}
	return rec, err
}

// stopRetryLocked abandons the backoff retry for id and resets its counter.
func (s *Scheduler) stopRetryLocked(id string) {
	if pending, ok := s.retryTimers[id]; ok {
		pending.timer.Stop()
		delete(s.retryTimers, id)
	}
	delete(s.retries, id)
}

// settleLocked drops the in-memory state of id unless a timer is still armed.
func (s *Scheduler) settleLocked(id string) {
	switch {
	case hasKey(s.timers, id):
		s.states[id] = StateScheduled
	case hasKey(s.retryTimers, id):
		s.states[id] = StateRetryScheduled
	default:
		delete(s.states, id)
	}
}

func hasKey(m map[string]pendingTimer, id string) bool {
	_, ok := m[id]
	return ok
}

func (s *Scheduler) setState(activityID string, state State) {
	s.mu.Lock()
	s.states[activityID] = state
	s.mu.Unlock()
}

func (s *Scheduler) localStoreFailure(operation string, err error) {
	observability.RecordLocalStoreError(operation)
	s.logger.Printf("local store %s failed: %v", operation, err)
}

func cloneActivity(a domain.ActivityRecord) domain.ActivityRecord {
	if a.OriginalData != nil {
		a.OriginalData = append(json.RawMessage(nil), a.OriginalData...)
	}
	if a.BuiltAt != nil {
		builtAt := *a.BuiltAt
		a.BuiltAt = &builtAt
	}
	return a
}
