package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/autosave/internal/domain"
	"example.com/autosave/internal/observability"
)

// Repository provides Postgres-backed persistence for saved activities and outbox events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const savedColumns = `id, activity_id, activity_code, user_id, activity_type, title, save_count, created_at, updated_at`

// Save upserts the activity by activity_id, records the generated code and
// enqueues an activity.saved event inside a single transaction. Concurrent
// saves for the same activity converge on one row.
func (r *Repository) Save(ctx context.Context, req domain.SaveRequest) (rec domain.SavedRecord, err error) {
	content, err := json.Marshal(req.Payload)
	if err != nil {
		return domain.SavedRecord{}, fmt.Errorf("encode content: %w", err)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.SavedRecord{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const upsert = `INSERT INTO saved_activities (id, activity_id, activity_code, user_id, activity_type, title, content)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (activity_id) DO UPDATE SET
            activity_code = EXCLUDED.activity_code,
            user_id = EXCLUDED.user_id,
            activity_type = EXCLUDED.activity_type,
            title = EXCLUDED.title,
            content = EXCLUDED.content,
            save_count = saved_activities.save_count + 1,
            updated_at = NOW()
        RETURNING ` + savedColumns + `, (xmax = 0) AS inserted`

	row := tx.QueryRow(ctx, upsert, uuid.NewString(), req.ActivityID, req.GeneratedCode, req.UserID, req.Type, req.Title, content)
	if err = row.Scan(&rec.ID, &rec.ActivityID, &rec.ActivityCode, &rec.UserID, &rec.Type, &rec.Title, &rec.SaveCount, &rec.CreatedAt, &rec.UpdatedAt, &rec.Created); err != nil {
		return domain.SavedRecord{}, err
	}

	meta := req.Payload.Metadata
	if _, err = tx.Exec(ctx,
		`INSERT INTO activity_codes (activity_code, activity_id, source, attempt) VALUES ($1,$2,$3,$4)
         ON CONFLICT (activity_code) DO NOTHING`,
		req.GeneratedCode, req.ActivityID, string(meta.Source), meta.Attempt,
	); err != nil {
		return domain.SavedRecord{}, err
	}

	if err = r.insertOutbox(ctx, tx, rec, domain.EventActivitySaved, domain.ActivitySaved{
		ActivityID:   rec.ActivityID,
		ActivityCode: rec.ActivityCode,
		UserID:       rec.UserID,
		ActivityType: rec.Type,
		Title:        rec.Title,
		Source:       string(meta.Source),
		Attempt:      meta.Attempt,
		SaveCount:    rec.SaveCount,
		SavedAt:      rec.UpdatedAt,
	}); err != nil {
		return domain.SavedRecord{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return domain.SavedRecord{}, err
	}
	observability.RecordRemotePersisted(rec.Created, rec.UpdatedAt)
	return rec, nil
}

func (r *Repository) insertOutbox(ctx context.Context, tx pgx.Tx, rec domain.SavedRecord, eventType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (dedupe_key) DO NOTHING`

	_, err = tx.Exec(ctx, stmt,
		"saved_activity",
		rec.ActivityID,
		eventType,
		meta.Topic,
		meta.SchemaSubject,
		meta.PartitionKeyFn(rec),
		body,
		fmt.Sprintf("%s:%s", rec.ActivityCode, eventType),
	)
	return err
}

// Get resolves a saved activity by any generated code it was saved under, or
// by its activity id.
func (r *Repository) Get(ctx context.Context, ref string) (*domain.SavedRecord, error) {
	query := `SELECT ` + savedColumns + ` FROM saved_activities
        WHERE activity_id = $1
           OR activity_code = $1
           OR activity_id = (SELECT activity_id FROM activity_codes WHERE activity_code = $1)
        LIMIT 1`

	var rec domain.SavedRecord
	err := r.pool.QueryRow(ctx, query, ref).Scan(&rec.ID, &rec.ActivityID, &rec.ActivityCode, &rec.UserID, &rec.Type, &rec.Title, &rec.SaveCount, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// ListByUser returns saved activities for a user, most recently updated first.
func (r *Repository) ListByUser(ctx context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.SavedRecord, *domain.Cursor, error) {
	args := []interface{}{userID, limit}
	query := `SELECT ` + savedColumns + ` FROM saved_activities WHERE user_id=$1`

	if cursor != nil {
		query += ` AND (updated_at, activity_id) < ($3, $4)`
		args = append(args, cursor.UpdatedAt, cursor.ActivityID)
	}

	query += ` ORDER BY updated_at DESC, activity_id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.SavedRecord, 0, limit)
	for rows.Next() {
		var rec domain.SavedRecord
		if err := rows.Scan(&rec.ID, &rec.ActivityID, &rec.ActivityCode, &rec.UserID, &rec.Type, &rec.Title, &rec.SaveCount, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, nil, err
		}
		results = append(results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var nextCursor *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		nextCursor = &domain.Cursor{UpdatedAt: last.UpdatedAt, ActivityID: last.ActivityID}
	}

	return results, nextCursor, nil
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic          string
	SchemaSubject  string
	PartitionKeyFn func(domain.SavedRecord) string
}

var eventCatalog = map[string]EventMetadata{
	domain.EventActivitySaved: {
		Topic:         "activity_saved",
		SchemaSubject: "activity_saved-value",
		PartitionKeyFn: func(rec domain.SavedRecord) string {
			return rec.ActivityID
		},
	},
}
