package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/autosave/internal/domain"
	"example.com/autosave/internal/localstore"
)

func seedFallback(t *testing.T, path string, ids ...string) {
	t.Helper()
	store, err := localstore.OpenSQLite(path)
	require.NoError(t, err)
	defer store.Close()

	ledger := localstore.NewLedger(store)
	for _, id := range ids {
		require.NoError(t, ledger.WriteFallback(domain.FallbackRecord{
			Activity: domain.ActivityRecord{ID: id, Type: "quiz", Title: "Quiz " + id, Progress: 100, Status: domain.ActivityStatusCompleted},
			SavedAt:  time.Now().UTC(),
		}))
	}
}

func persistenceServer(t *testing.T, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req domain.SaveRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(domain.SavedRecord{ID: "row-" + req.ActivityID, ActivityID: req.ActivityID, ActivityCode: req.GeneratedCode})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestInvalidFormatRejected(t *testing.T) {
	_, err := execute(t, "stats", "--format", "yaml", "--store", filepath.Join(t.TempDir(), "a.db"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestInvalidRemoteModeRejected(t *testing.T) {
	_, err := execute(t, "stats", "--remote-mode", "carrier-pigeon", "--store", filepath.Join(t.TempDir(), "a.db"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid remote mode")
}

func TestStatsReportsPendingFromStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autosave.db")
	seedFallback(t, path, "a1", "a2")

	out, err := execute(t, "stats", "--store", path, "--format", "json", "--details")
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   StatsReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.Data.PendingSync)
	assert.Equal(t, 0, resp.Data.TotalSaved)
	assert.Len(t, resp.Data.Pending, 2)
}

func TestSyncResolvesFallbacks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autosave.db")
	seedFallback(t, path, "a1")
	srv, calls := persistenceServer(t, http.StatusCreated)
	t.Setenv("AUTOSAVE_USER_ID", "user-1")

	out, err := execute(t, "sync", "--store", path, "--remote-url", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "resolved 1, pending 0, dead-lettered 0")
	assert.Equal(t, int32(1), calls.Load())

	out, err = execute(t, "stats", "--store", path)
	require.NoError(t, err)
	assert.Contains(t, out, "saved: 1")
	assert.Contains(t, out, "pending sync: 0")
}

func TestSyncLeavesRejectedFallbacksPending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autosave.db")
	seedFallback(t, path, "a1")
	srv, _ := persistenceServer(t, http.StatusServiceUnavailable)
	t.Setenv("AUTOSAVE_DEAD_LETTER_AFTER", "2")

	out, err := execute(t, "sync", "--store", path, "--remote-url", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "resolved 0, pending 1, dead-lettered 0")

	out, err = execute(t, "sync", "--store", path, "--remote-url", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "resolved 0, pending 0, dead-lettered 1")
}

func TestRunStopsWhenContextCancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autosave.db")
	srv, _ := persistenceServer(t, http.StatusCreated)
	t.Setenv("AGENT_ADDRESS", "127.0.0.1:0")
	t.Setenv("METRICS_ADDRESS", "127.0.0.1:0")

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	cmd := NewRootCommand()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"run", "--store", path, "--remote-url", srv.URL})

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after context cancellation")
	}
}
