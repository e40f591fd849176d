// Package domain defines the activity durability model shared by the pipeline
// agent and the remote persistence service.
package domain

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrActivityNotFound is returned when a saved activity cannot be located.
	ErrActivityNotFound = errors.New("activity not found")
	// ErrRemoteRejected indicates the remote store answered but refused the save.
	ErrRemoteRejected = errors.New("remote store rejected save")
	// ErrInvalidSaveRequest is returned for requests missing identity fields.
	ErrInvalidSaveRequest = errors.New("invalid save request")
)

// PersistenceClient is the network boundary to the remote store. Callers may
// invoke it repeatedly for the same activity with different generated codes.
type PersistenceClient interface {
	Save(ctx context.Context, req SaveRequest) (SavedRecord, error)
}

// ActivityRepository captures remote-side persistence operations.
type ActivityRepository interface {
	Save(ctx context.Context, req SaveRequest) (SavedRecord, error)
	Get(ctx context.Context, activityCode string) (*SavedRecord, error)
	ListByUser(ctx context.Context, userID string, cursor *Cursor, limit int) ([]SavedRecord, *Cursor, error)
}

// Cursor models the pagination token for saved activity listings.
type Cursor struct {
	UpdatedAt  time.Time
	ActivityID string
}

// Service orchestrates saved-activity workflows on the remote side.
type Service struct {
	repo ActivityRepository
}

// NewService constructs a Service.
func NewService(repo ActivityRepository) *Service {
	return &Service{repo: repo}
}

// SaveActivity validates and upserts a submission. Repeated submissions for the
// same activity converge on one stored row.
func (s *Service) SaveActivity(ctx context.Context, req SaveRequest) (SavedRecord, error) {
	if err := ValidateSaveRequest(req); err != nil {
		return SavedRecord{}, err
	}
	return s.repo.Save(ctx, req)
}

// GetActivity fetches by generated code.
func (s *Service) GetActivity(ctx context.Context, activityCode string) (*SavedRecord, error) {
	rec, err := s.repo.Get(ctx, activityCode)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrActivityNotFound
	}
	return rec, nil
}

// ListActivitiesByUser fetches saved activities with cursor pagination.
func (s *Service) ListActivitiesByUser(ctx context.Context, userID string, cursor *Cursor, limit int) ([]SavedRecord, *Cursor, error) {
	return s.repo.ListByUser(ctx, userID, cursor, limit)
}

// ValidateSaveRequest checks the identity fields every store relies on.
func ValidateSaveRequest(req SaveRequest) error {
	switch {
	case strings.TrimSpace(req.ActivityID) == "":
		return errors.Join(ErrInvalidSaveRequest, errors.New("activity_id is required"))
	case strings.TrimSpace(req.GeneratedCode) == "":
		return errors.Join(ErrInvalidSaveRequest, errors.New("activity_code is required"))
	case strings.TrimSpace(req.UserID) == "":
		return errors.Join(ErrInvalidSaveRequest, errors.New("user_id is required"))
	}
	return nil
}
