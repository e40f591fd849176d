package domain

import "time"

// EventActivitySaved is the outbox event type emitted for every accepted save.
const EventActivitySaved = "activity.saved"

// ActivitySaved is published after the remote store accepts a save.
type ActivitySaved struct {
	ActivityID   string    `json:"activity_id"`
	ActivityCode string    `json:"activity_code"`
	UserID       string    `json:"user_id"`
	ActivityType string    `json:"activity_type"`
	Title        string    `json:"title"`
	Source       string    `json:"source"`
	Attempt      int       `json:"attempt"`
	SaveCount    int       `json:"save_count"`
	SavedAt      time.Time `json:"saved_at"`
}
