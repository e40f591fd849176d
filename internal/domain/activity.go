package domain

import (
	"encoding/json"
	"time"
)

// ActivityStatus is the producer-side lifecycle of an activity under construction.
type ActivityStatus string

const (
	ActivityStatusDraft      ActivityStatus = "draft"
	ActivityStatusInProgress ActivityStatus = "in-progress"
	ActivityStatusCompleted  ActivityStatus = "completed"
)

// ActivityRecord is the unit of work handed to the pipeline by the producer.
// The pipeline never mutates it; derived records are built from copies.
type ActivityRecord struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Progress     int             `json:"progress"`
	Status       ActivityStatus  `json:"status"`
	OriginalData json.RawMessage `json:"originalData,omitempty"`
	IsBuilt      bool            `json:"isBuilt,omitempty"`
	BuiltAt      *time.Time      `json:"builtAt,omitempty"`
}

// Eligible reports whether the activity may be persisted.
func (a ActivityRecord) Eligible() bool {
	return a.Status == ActivityStatusCompleted || a.Progress >= 100 || a.IsBuilt
}

// Source tags which path submitted a save.
type Source string

const (
	SourceAutoSave       Source = "autosave"
	SourceSaveNow        Source = "save-now"
	SourceReconciliation Source = "reconciliation"
	SourceSync           Source = "sync"
)

// SaveMetadata travels with every submission for audit.
type SaveMetadata struct {
	ActivityID  string         `json:"activityId"`
	SavedAt     time.Time      `json:"savedAt"`
	Attempt     int            `json:"attempt"`
	Source      Source         `json:"source"`
	Progress    int            `json:"progress"`
	Status      ActivityStatus `json:"status"`
	Description string         `json:"description,omitempty"`
	AutoSaved   bool           `json:"autoSaved"`
	IsBuilt     bool           `json:"isBuilt"`
}

// SavePayload is the opaque content stored remotely.
type SavePayload struct {
	OriginalData     json.RawMessage `json:"originalData,omitempty"`
	GeneratedContent json.RawMessage `json:"generatedContent,omitempty"`
	ConstructionData json.RawMessage `json:"constructionData,omitempty"`
	Metadata         SaveMetadata    `json:"metadata"`
}

// SaveRequest is created when a save fires and discarded once it settles.
type SaveRequest struct {
	ActivityID    string      `json:"activity_id"`
	GeneratedCode string      `json:"activity_code"`
	UserID        string      `json:"user_id"`
	Type          string      `json:"type"`
	Title         string      `json:"title"`
	Payload       SavePayload `json:"content"`
}

// SavedRecord is the remote store's view of a persisted activity.
type SavedRecord struct {
	ID           string    `json:"id"`
	ActivityID   string    `json:"activity_id"`
	ActivityCode string    `json:"activity_code"`
	UserID       string    `json:"user_id"`
	Type         string    `json:"type"`
	Title        string    `json:"title"`
	SaveCount    int       `json:"save_count"`
	Created      bool      `json:"created"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ConfirmedSaveReference marks an activity as durably saved remotely.
type ConfirmedSaveReference struct {
	ActivityID    string    `json:"activityId"`
	GeneratedCode string    `json:"activityCode"`
	SavedAt       time.Time `json:"savedAt"`
	Title         string    `json:"title"`
	Type          string    `json:"type"`
	Source        Source    `json:"source"`
}

// FallbackRecord is the local copy of an activity the remote store did not accept.
type FallbackRecord struct {
	Activity     ActivityRecord `json:"activity"`
	NeedsSync    bool           `json:"needsSync"`
	SavedAt      time.Time      `json:"savedAt"`
	LastError    string         `json:"lastError,omitempty"`
	SyncAttempts int            `json:"syncAttempts"`
}

// PendingSyncEntry indexes a FallbackRecord awaiting reconciliation.
type PendingSyncEntry struct {
	ActivityID string    `json:"activityId"`
	Title      string    `json:"title"`
	SavedAt    time.Time `json:"savedAt"`
}

// DeadLetterRecord holds a fallback that stopped being retried automatically.
type DeadLetterRecord struct {
	Fallback       FallbackRecord `json:"fallback"`
	Reason         string         `json:"reason"`
	DeadLetteredAt time.Time      `json:"deadLetteredAt"`
}
