//go:build integration

package outbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/autosave/internal/domain"
)

func TestDispatcherPublishesMessages(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)

	require.NotZero(t, seedOutbox(t, ctx, pool, uuid.NewString(), domain.EventActivitySaved))

	producer := &stubProducer{}
	dispatcher := NewDispatcher(pool, producer, &stubRegistry{id: 42}, 10*time.Millisecond, 5)

	beforeDelivered := testutil.ToFloat64(deliveredCounter.WithLabelValues("activity_saved"))
	beforeHistogram := histogramSampleCount(t)

	require.NoError(t, dispatcher.processBatch(ctx))

	require.Len(t, producer.writes, 1)
	require.Equal(t, "activity_saved", producer.writes[0].topic)
	require.InDelta(t, beforeDelivered+1, testutil.ToFloat64(deliveredCounter.WithLabelValues("activity_saved")), 0.0001)
	require.Greater(t, histogramSampleCount(t), beforeHistogram)

	var published int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NOT NULL`).Scan(&published))
	require.Equal(t, 1, published)
}

func TestDispatcherRoutesFailuresToDLQAndReplays(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)

	eventID := seedOutbox(t, ctx, pool, uuid.NewString(), domain.EventActivitySaved)
	require.NotZero(t, eventID)

	failing := NewDispatcher(pool, &stubProducer{err: errors.New("kafka write failed")}, &stubRegistry{id: 7}, 10*time.Millisecond, 5)
	beforeDLQ := testutil.ToFloat64(dlqCounter.WithLabelValues("activity_saved"))
	require.NoError(t, failing.processBatch(ctx))
	require.InDelta(t, beforeDLQ+1, testutil.ToFloat64(dlqCounter.WithLabelValues("activity_saved")), 0.0001)

	var reason string
	require.NoError(t, pool.QueryRow(ctx, `SELECT reason FROM outbox_dlq WHERE event_id = $1`, eventID).Scan(&reason))
	require.Contains(t, reason, "kafka write failed")

	manager := NewDLQManager(pool, 3, time.Second)
	replayed, err := manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, replayed)

	producer := &stubProducer{}
	healthy := NewDispatcher(pool, producer, &stubRegistry{id: 7}, 10*time.Millisecond, 5)
	require.NoError(t, healthy.processBatch(ctx))
	require.Len(t, producer.writes, 1)

	var remaining int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq`).Scan(&remaining))
	require.Zero(t, remaining)
}

func TestDLQManagerQuarantinesExhaustedEntries(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)

	_, err := pool.Exec(ctx,
		`INSERT INTO outbox_dlq (event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, schema_subject, partition_key, retry_count, next_retry_at)
         VALUES (1, $1, 'activity_saved', '{}', 'boom', 'saved_activity', 'a1', 'activity_saved-value', 'a1', 3, NOW())`,
		domain.EventActivitySaved)
	require.NoError(t, err)

	processed, err := NewDLQManager(pool, 3, time.Second).RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, processed)

	var quarantined int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq WHERE quarantined_at IS NOT NULL`).Scan(&quarantined))
	require.Equal(t, 1, quarantined)
}

func setupPostgres(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	pg, err := postgrescontainer.Run(ctx, "postgres:16-alpine",
		postgrescontainer.WithDatabase("activities"),
		postgrescontainer.WithUsername("autosave"),
		postgrescontainer.WithPassword("autosave"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	contents, err := os.ReadFile(resolvePath(t, "../../db/postgres/migrations/0001_init.up.sql"))
	require.NoError(t, err)
	_, err = pool.Exec(ctx, string(contents))
	require.NoError(t, err)
	return pool
}

func histogramSampleCount(t *testing.T) uint64 {
	t.Helper()

	metric := &dto.Metric{}
	require.NoError(t, batchDuration.Write(metric))
	return metric.GetHistogram().GetSampleCount()
}

func seedOutbox(t *testing.T, ctx context.Context, pool *pgxpool.Pool, activityID, eventType string) int64 {
	t.Helper()

	msg := savedMessage(0, activityID)
	var eventID int64
	err := pool.QueryRow(ctx,
		`INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload)
         VALUES ($1,$2,$3,$4,$5,$6,$7)
         RETURNING event_id`,
		msg.AggregateType, activityID, eventType, msg.Topic, msg.SchemaSubject, activityID, []byte(msg.Payload),
	).Scan(&eventID)
	require.NoError(t, err)
	return eventID
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
