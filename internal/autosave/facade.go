package autosave

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"example.com/autosave/internal/domain"
	"example.com/autosave/internal/observability"
)

// FacadeOptions is the caller-facing configuration. Nil Enabled, zero Delay
// and zero RetryAttempts keep the scheduler's current values.
type FacadeOptions struct {
	Enabled       *bool
	Delay         time.Duration
	RetryAttempts int
	OnSaveSuccess func(activityCode string)
	OnSaveError   func(message string)
}

// Toggle returns on as a FacadeOptions.Enabled value.
func Toggle(on bool) *bool { return &on }

// Facade is the surface producers use to feed activities into the pipeline.
type Facade struct {
	scheduler *Scheduler
}

// NewFacade wraps scheduler and applies opts.
func NewFacade(scheduler *Scheduler, opts FacadeOptions) *Facade {
	f := &Facade{scheduler: scheduler}
	f.Configure(opts)
	return f
}

// Scheduler exposes the underlying scheduler.
func (f *Facade) Scheduler() *Scheduler { return f.scheduler }

// Configure merges opts into the scheduler configuration.
func (f *Facade) Configure(opts FacadeOptions) {
	cfg := f.scheduler.Config()
	if opts.Enabled != nil {
		cfg.Enabled = *opts.Enabled
	}
	if opts.Delay > 0 {
		cfg.Delay = opts.Delay
	}
	if opts.RetryAttempts > 0 {
		cfg.RetryAttempts = opts.RetryAttempts
	}
	if opts.OnSaveSuccess != nil {
		cfg.OnSaveSuccess = opts.OnSaveSuccess
	}
	if opts.OnSaveError != nil {
		cfg.OnSaveError = opts.OnSaveError
	}
	f.scheduler.Configure(cfg)
}

// TriggerAutoSave debounces a save for activity.
func (f *Facade) TriggerAutoSave(activity domain.ActivityRecord) {
	f.scheduler.ScheduleAutoSave(activity)
}

// SaveNow flushes activity immediately.
func (f *Facade) SaveNow(ctx context.Context, activity domain.ActivityRecord) SaveResult {
	return f.scheduler.SaveNow(ctx, activity)
}

// CancelPending drops every pending debounce.
func (f *Facade) CancelPending() {
	f.scheduler.CancelPendingSaves()
}

// GetAutoSaveStats reports pipeline counts.
func (f *Facade) GetAutoSaveStats() Stats {
	return f.scheduler.Stats()
}

// MarkBuilt records activity as built so reconciliation sweeps can find it,
// then schedules a debounced save.
func (f *Facade) MarkBuilt(activity domain.ActivityRecord) error {
	activity.IsBuilt = true
	if activity.BuiltAt == nil {
		now := f.scheduler.clock.Now()
		activity.BuiltAt = &now
	}
	if err := f.scheduler.ledger.MarkBuilt(cloneActivity(activity)); err != nil {
		return fmt.Errorf("mark %s built: %w", activity.ID, err)
	}
	f.scheduler.ScheduleAutoSave(activity)
	return nil
}

// PutGeneratedContent stores generated content sent with later saves.
func (f *Facade) PutGeneratedContent(activityID string, content json.RawMessage) error {
	if !json.Valid(content) {
		return fmt.Errorf("generated content for %s is not valid JSON", activityID)
	}
	return f.scheduler.ledger.PutGeneratedContent(activityID, content)
}

// PutConstructionData stores construction state sent with later saves.
func (f *Facade) PutConstructionData(activityID string, data json.RawMessage) error {
	if !json.Valid(data) {
		return fmt.Errorf("construction data for %s is not valid JSON", activityID)
	}
	return f.scheduler.ledger.PutConstructionData(activityID, data)
}

// SyncPending resubmits every fallback in the pending-sync index once. It
// returns how many entries were resolved. Entries that fail again stay
// pending until they reach the dead-letter threshold; the returned error only
// reports local store failures.
func (f *Facade) SyncPending(ctx context.Context) (int, error) {
	s := f.scheduler
	ledger := s.ledger

	pending, err := ledger.PendingSync()
	if err != nil {
		s.localStoreFailure("read_pending", err)
		return 0, fmt.Errorf("read pending sync: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	cfg := s.Config()
	resolved := 0
	var errs error
	for _, entry := range pending {
		if ctx.Err() != nil {
			break
		}

		rec, err := ledger.Fallback(entry.ActivityID)
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		if rec == nil {
			// Index entry without a record: drop it.
			if err := ledger.RemovePending(entry.ActivityID); err != nil {
				errs = errors.Join(errs, err)
				continue
			}
			resolved++
			continue
		}

		ref, err := ledger.Reference(entry.ActivityID)
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		if ref != nil && !ref.SavedAt.Before(rec.SavedAt) {
			// Confirmed after the fallback was written; re-confirm to clear it.
			if err := ledger.Confirm(*ref); err != nil {
				errs = errors.Join(errs, err)
				continue
			}
			resolved++
			continue
		}

		result := s.Submit(ctx, rec.Activity, SubmitOptions{Source: domain.SourceSync, Attempt: rec.SyncAttempts + 1})
		if result.Success {
			resolved++
			continue
		}

		rec.SyncAttempts++
		rec.LastError = result.Error
		if cfg.DeadLetterAfter > 0 && rec.SyncAttempts >= cfg.DeadLetterAfter {
			letter := domain.DeadLetterRecord{
				Fallback:       *rec,
				Reason:         result.Error,
				DeadLetteredAt: s.clock.Now(),
			}
			if err := ledger.DeadLetter(letter); err != nil {
				errs = errors.Join(errs, err)
				continue
			}
			observability.RecordDeadLetter()
			s.logger.Printf("dead-lettered %q after %d sync attempts: %s", rec.Activity.Title, rec.SyncAttempts, result.Error)
			continue
		}
		if err := ledger.UpdateFallback(*rec); err != nil {
			errs = errors.Join(errs, err)
		}
	}

	if errs != nil {
		s.localStoreFailure("sync_pending", errs)
	}
	s.logger.Printf("sync pass resolved %d of %d pending activities", resolved, len(pending))
	return resolved, errs
}
