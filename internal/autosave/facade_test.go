package autosave

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/autosave/internal/domain"
	"example.com/autosave/internal/localstore"
)

func TestFacadeConfigureMergesOptions(t *testing.T) {
	h := newHarness(t, &stubClient{}, nil)
	facade := NewFacade(h.sched, FacadeOptions{Enabled: Toggle(true), Delay: 3 * time.Second})

	cfg := h.sched.Config()
	require.True(t, cfg.Enabled)
	require.Equal(t, 3*time.Second, cfg.Delay)
	require.Equal(t, 5, cfg.RetryAttempts)

	facade.Configure(FacadeOptions{Enabled: Toggle(false)})
	require.False(t, facade.GetAutoSaveStats().IsEnabled)
	require.Equal(t, 3*time.Second, h.sched.Config().Delay)
}

func TestFacadeConfigureKeepsEnabledWhenUnset(t *testing.T) {
	h := newHarness(t, &stubClient{}, nil)
	facade := NewFacade(h.sched, FacadeOptions{})
	require.True(t, h.sched.Config().Enabled)

	facade.Configure(FacadeOptions{Delay: 2 * time.Second, RetryAttempts: 1})
	cfg := h.sched.Config()
	require.True(t, cfg.Enabled)
	require.Equal(t, 2*time.Second, cfg.Delay)
	require.Equal(t, 1, cfg.RetryAttempts)

	facade.Configure(FacadeOptions{Enabled: Toggle(false)})
	facade.Configure(FacadeOptions{Delay: time.Second})
	require.False(t, h.sched.Config().Enabled)
}

func TestFacadeMarkBuiltRecordsAndSchedules(t *testing.T) {
	client := &stubClient{}
	h := newHarness(t, client, nil)
	facade := NewFacade(h.sched, FacadeOptions{Enabled: Toggle(true)})

	activity := quiz()
	activity.Status = domain.ActivityStatusDraft
	activity.Progress = 10
	require.NoError(t, facade.MarkBuilt(activity))

	built, err := h.ledger.BuiltActivities(context.Background())
	require.NoError(t, err)
	require.Len(t, built, 1)
	require.True(t, built[0].IsBuilt)
	require.NotNil(t, built[0].BuiltAt)

	h.clock.Advance(time.Second)
	require.Equal(t, 1, client.calls())
}

func TestFacadeRejectsInvalidContent(t *testing.T) {
	h := newHarness(t, &stubClient{}, nil)
	facade := NewFacade(h.sched, FacadeOptions{Enabled: Toggle(true)})

	require.Error(t, facade.PutGeneratedContent("a1", json.RawMessage(`{`)))
	require.Error(t, facade.PutConstructionData("a1", json.RawMessage(`nope`)))
	require.NoError(t, facade.PutGeneratedContent("a1", json.RawMessage(`[]`)))
}

func TestSyncPendingResolvesFallbacks(t *testing.T) {
	client := &stubClient{}
	h := newHarness(t, client, nil)
	facade := NewFacade(h.sched, FacadeOptions{Enabled: Toggle(true)})

	for _, id := range []string{"a1", "a2"} {
		activity := quiz()
		activity.ID = id
		require.NoError(t, h.ledger.WriteFallback(domain.FallbackRecord{Activity: activity, SavedAt: testStart}))
	}

	resolved, err := facade.SyncPending(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, resolved)
	require.Equal(t, domain.SourceSync, client.last().Payload.Metadata.Source)

	stats := facade.GetAutoSaveStats()
	require.Zero(t, stats.PendingSync)
	require.Equal(t, 2, stats.TotalSaved)
}

func TestSyncPendingKeepsFailuresAndDeadLetters(t *testing.T) {
	client := &failingClient{err: errors.New("offline")}
	h := newHarness(t, client, func(cfg *Config) { cfg.DeadLetterAfter = 2 })
	facade := NewFacade(h.sched, FacadeOptions{Enabled: Toggle(true)})

	require.NoError(t, h.ledger.WriteFallback(domain.FallbackRecord{Activity: quiz(), SavedAt: testStart}))

	resolved, err := facade.SyncPending(context.Background())
	require.NoError(t, err)
	require.Zero(t, resolved)

	rec, err := h.ledger.Fallback("a1")
	require.NoError(t, err)
	require.Equal(t, 1, rec.SyncAttempts)
	require.Equal(t, "offline", rec.LastError)
	require.Equal(t, 1, facade.GetAutoSaveStats().PendingSync)

	_, err = facade.SyncPending(context.Background())
	require.NoError(t, err)

	letters, err := h.ledger.DeadLetters()
	require.NoError(t, err)
	require.Len(t, letters, 1)
	require.Equal(t, "offline", letters[0].Reason)

	stats := facade.GetAutoSaveStats()
	require.Zero(t, stats.PendingSync)
	require.Equal(t, 1, stats.DeadLettered)
	require.Equal(t, 2, client.n)
}

func TestSyncPendingDropsOrphanAndAlreadyConfirmed(t *testing.T) {
	client := &stubClient{}
	h := newHarness(t, client, nil)
	facade := NewFacade(h.sched, FacadeOptions{Enabled: Toggle(true)})

	require.NoError(t, h.ledger.WriteFallback(domain.FallbackRecord{Activity: quiz(), SavedAt: testStart}))
	// Simulate a confirmation whose cleanup never ran.
	ref := domain.ConfirmedSaveReference{ActivityID: "a1", GeneratedCode: "sp-quiz-1-abcdef", SavedAt: testStart.Add(time.Second)}
	require.NoError(t, h.ledger.Store().Put(localstore.PrefixReference+"a1", mustJSON(t, ref)))

	resolved, err := facade.SyncPending(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, resolved)
	require.Zero(t, client.calls())

	confirmed, err := h.ledger.IsConfirmed("a1")
	require.NoError(t, err)
	require.True(t, confirmed)
}

func TestSyncPendingWithNothingPending(t *testing.T) {
	h := newHarness(t, &stubClient{}, nil)
	facade := NewFacade(h.sched, FacadeOptions{Enabled: Toggle(true)})

	resolved, err := facade.SyncPending(context.Background())
	require.NoError(t, err)
	require.Zero(t, resolved)
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return body
}
