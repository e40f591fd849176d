package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"example.com/autosave/internal/domain"
)

// Namespaced keys. Index keys hold JSON arrays; per-activity keys hold one
// JSON document each.
const (
	KeyConfirmedIndex = "autosave:confirmed_index"
	KeyPendingSync    = "autosave:pending_sync"
	KeyUserID         = "autosave:user_id"
	KeyCurrentUserID  = "autosave:current_user_id"
	KeyTempUserID     = "autosave:temp_user_id"

	PrefixReference    = "autosave:ref:"
	PrefixFallback     = "autosave:fallback:"
	PrefixDeadLetter   = "autosave:deadletter:"
	PrefixBuilt        = "autosave:built:"
	PrefixContent      = "autosave:content:"
	PrefixConstruction = "autosave:construction:"
)

// Ledger maintains the pipeline's durable indexes on top of a Store. Every
// index update is a read-modify-write upsert keyed by activity id; the mutex
// serializes writers inside one process.
type Ledger struct {
	store Store
	mu    sync.Mutex
}

// NewLedger wraps store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// Store exposes the underlying key/value store.
func (l *Ledger) Store() Store { return l.store }

// Confirm records a successful remote save. It writes the per-activity
// reference, upserts the confirmed index and clears any fallback,
// pending-sync or dead-letter state for the activity.
func (l *Ledger) Confirm(ref domain.ConfirmedSaveReference) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.putJSON(PrefixReference+ref.ActivityID, ref); err != nil {
		return err
	}

	index, err := l.confirmedIndexLocked()
	if err != nil {
		return err
	}
	replaced := false
	for i := range index {
		if index[i].ActivityID == ref.ActivityID {
			index[i] = ref
			replaced = true
			break
		}
	}
	if !replaced {
		index = append(index, ref)
	}
	if err := l.putJSON(KeyConfirmedIndex, index); err != nil {
		return err
	}

	var errs error
	if err := l.store.Delete(PrefixFallback + ref.ActivityID); err != nil {
		errs = errors.Join(errs, err)
	}
	if err := l.store.Delete(PrefixDeadLetter + ref.ActivityID); err != nil {
		errs = errors.Join(errs, err)
	}
	if err := l.removePendingLocked(ref.ActivityID); err != nil {
		errs = errors.Join(errs, err)
	}
	return errs
}

// Confirmed returns the confirmed-save index.
func (l *Ledger) Confirmed() ([]domain.ConfirmedSaveReference, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.confirmedIndexLocked()
}

// ConfirmedIDs returns the set of activity ids present in the confirmed index.
func (l *Ledger) ConfirmedIDs() (map[string]struct{}, error) {
	index, err := l.Confirmed()
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(index))
	for _, ref := range index {
		ids[ref.ActivityID] = struct{}{}
	}
	return ids, nil
}

// IsConfirmed consults the confirmed index for activityID.
func (l *Ledger) IsConfirmed(activityID string) (bool, error) {
	ids, err := l.ConfirmedIDs()
	if err != nil {
		return false, err
	}
	_, ok := ids[activityID]
	return ok, nil
}

// Reference loads the per-activity confirmed reference, if any.
func (l *Ledger) Reference(activityID string) (*domain.ConfirmedSaveReference, error) {
	var ref domain.ConfirmedSaveReference
	ok, err := l.getJSON(PrefixReference+activityID, &ref)
	if err != nil || !ok {
		return nil, err
	}
	return &ref, nil
}

// WriteFallback stores rec and upserts its pending-sync entry.
func (l *Ledger) WriteFallback(rec domain.FallbackRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec.NeedsSync = true
	if err := l.putJSON(PrefixFallback+rec.Activity.ID, rec); err != nil {
		return err
	}

	pending, err := l.pendingLocked()
	if err != nil {
		return err
	}
	entry := domain.PendingSyncEntry{ActivityID: rec.Activity.ID, Title: rec.Activity.Title, SavedAt: rec.SavedAt}
	replaced := false
	for i := range pending {
		if pending[i].ActivityID == entry.ActivityID {
			pending[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		pending = append(pending, entry)
	}
	return l.putJSON(KeyPendingSync, pending)
}

// UpdateFallback rewrites a fallback record without touching the index.
func (l *Ledger) UpdateFallback(rec domain.FallbackRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.putJSON(PrefixFallback+rec.Activity.ID, rec)
}

// Fallback loads the fallback record for activityID.
func (l *Ledger) Fallback(activityID string) (*domain.FallbackRecord, error) {
	var rec domain.FallbackRecord
	ok, err := l.getJSON(PrefixFallback+activityID, &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &rec, nil
}

// Fallbacks enumerates every stored fallback record.
func (l *Ledger) Fallbacks() ([]domain.FallbackRecord, error) {
	entries, err := l.store.List(PrefixFallback)
	if err != nil {
		return nil, err
	}
	out := make([]domain.FallbackRecord, 0, len(entries))
	for _, e := range entries {
		var rec domain.FallbackRecord
		if err := json.Unmarshal(e.Value, &rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Key, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// PendingSync returns the pending-sync index.
func (l *Ledger) PendingSync() ([]domain.PendingSyncEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pendingLocked()
}

// RemovePending drops activityID from the pending-sync index.
func (l *Ledger) RemovePending(activityID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.removePendingLocked(activityID)
}

// DeadLetter parks a fallback record outside the pending-sync index.
func (l *Ledger) DeadLetter(rec domain.DeadLetterRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := rec.Fallback.Activity.ID
	if err := l.putJSON(PrefixDeadLetter+id, rec); err != nil {
		return err
	}
	if err := l.store.Delete(PrefixFallback + id); err != nil {
		return err
	}
	return l.removePendingLocked(id)
}

// DeadLetters enumerates dead-lettered records.
func (l *Ledger) DeadLetters() ([]domain.DeadLetterRecord, error) {
	entries, err := l.store.List(PrefixDeadLetter)
	if err != nil {
		return nil, err
	}
	out := make([]domain.DeadLetterRecord, 0, len(entries))
	for _, e := range entries {
		var rec domain.DeadLetterRecord
		if err := json.Unmarshal(e.Value, &rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Key, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// MarkBuilt records producer-side "built" state for activity.
func (l *Ledger) MarkBuilt(activity domain.ActivityRecord) error {
	return l.putJSON(PrefixBuilt+activity.ID, activity)
}

// UnmarkBuilt clears producer-side "built" state.
func (l *Ledger) UnmarkBuilt(activityID string) error {
	return l.store.Delete(PrefixBuilt + activityID)
}

// BuiltActivities lists activities the producer marked as built.
func (l *Ledger) BuiltActivities(context.Context) ([]domain.ActivityRecord, error) {
	entries, err := l.store.List(PrefixBuilt)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ActivityRecord, 0, len(entries))
	for _, e := range entries {
		var activity domain.ActivityRecord
		if err := json.Unmarshal(e.Value, &activity); err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Key, err)
		}
		out = append(out, activity)
	}
	return out, nil
}

// PutGeneratedContent stores producer-generated content included in saves.
func (l *Ledger) PutGeneratedContent(activityID string, content json.RawMessage) error {
	return l.store.Put(PrefixContent+activityID, content)
}

// GeneratedContent returns stored generated content, or nil.
func (l *Ledger) GeneratedContent(activityID string) (json.RawMessage, error) {
	return l.rawJSON(PrefixContent + activityID)
}

// PutConstructionData stores producer construction state included in saves.
func (l *Ledger) PutConstructionData(activityID string, data json.RawMessage) error {
	return l.store.Put(PrefixConstruction+activityID, data)
}

// ConstructionData returns stored construction data, or nil.
func (l *Ledger) ConstructionData(activityID string) (json.RawMessage, error) {
	return l.rawJSON(PrefixConstruction + activityID)
}

// UserID resolves the producer identity: an explicit user id, then the
// current user id, then a persisted temporary id generated on first use.
func (l *Ledger) UserID(now time.Time) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, key := range []string{KeyUserID, KeyCurrentUserID, KeyTempUserID} {
		value, ok, err := l.store.Get(key)
		if err != nil {
			return "", err
		}
		if ok && strings.TrimSpace(string(value)) != "" {
			return string(value), nil
		}
	}

	id := domain.TempUserID(now)
	if err := l.store.Put(KeyTempUserID, []byte(id)); err != nil {
		return id, err
	}
	return id, nil
}

func (l *Ledger) confirmedIndexLocked() ([]domain.ConfirmedSaveReference, error) {
	var index []domain.ConfirmedSaveReference
	if _, err := l.getJSON(KeyConfirmedIndex, &index); err != nil {
		return nil, err
	}
	return index, nil
}

func (l *Ledger) pendingLocked() ([]domain.PendingSyncEntry, error) {
	var pending []domain.PendingSyncEntry
	if _, err := l.getJSON(KeyPendingSync, &pending); err != nil {
		return nil, err
	}
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].SavedAt.Before(pending[j].SavedAt) })
	return pending, nil
}

func (l *Ledger) removePendingLocked(activityID string) error {
	pending, err := l.pendingLocked()
	if err != nil {
		return err
	}
	kept := pending[:0]
	for _, entry := range pending {
		if entry.ActivityID != activityID {
			kept = append(kept, entry)
		}
	}
	if len(kept) == len(pending) {
		return nil
	}
	if len(kept) == 0 {
		return l.store.Delete(KeyPendingSync)
	}
	return l.putJSON(KeyPendingSync, kept)
}

func (l *Ledger) rawJSON(key string) (json.RawMessage, error) {
	value, ok, err := l.store.Get(key)
	if err != nil || !ok {
		return nil, err
	}
	if !json.Valid(value) {
		return nil, fmt.Errorf("decode %s: invalid JSON", key)
	}
	return json.RawMessage(value), nil
}

func (l *Ledger) getJSON(key string, dst any) (bool, error) {
	value, ok, err := l.store.Get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(value, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (l *Ledger) putJSON(key string, value any) error {
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return l.store.Put(key, body)
}
