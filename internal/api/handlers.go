// Package api exposes HTTP handlers for the activity persistence service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/autosave/internal/auth"
	"example.com/autosave/internal/domain"
	"example.com/autosave/internal/persistence"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxBodyBytes    = 4 << 20
)

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/activities", h.activities)
	mux.HandleFunc("/v1/activities/", h.activityByCode)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) activities(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.saveActivity(w, r)
	case http.MethodGet:
		h.listActivities(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) activityByCode(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimPrefix(r.URL.Path, "/v1/activities/")
	if code == "" || strings.Contains(code, "/") {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing activity code")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getActivity(w, r, code)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) saveActivity(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, auth.ScopeActivitiesWrite) {
		return
	}

	var req domain.SaveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	rec, err := h.service.SaveActivity(r.Context(), req)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSaveRequest) {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	status := http.StatusOK
	if rec.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, toActivityView(rec))
}

func (h *Handler) getActivity(w http.ResponseWriter, r *http.Request, code string) {
	if !requireScope(w, r, auth.ScopeActivitiesRead, auth.ScopeActivitiesWrite) {
		return
	}

	rec, err := h.service.GetActivity(r.Context(), code)
	if err != nil {
		if errors.Is(err, domain.ErrActivityNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "activity not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toActivityView(*rec))
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, auth.ScopeActivitiesRead, auth.ScopeActivitiesWrite) {
		return
	}

	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing user_id parameter")
		return
	}

	limit := defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = min(parsed, maxPageSize)
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	records, next, err := h.service.ListActivitiesByUser(r.Context(), userID, cursor, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]ActivityView, 0, len(records))
	for _, rec := range records {
		items = append(items, toActivityView(rec))
	}
	writeJSON(w, http.StatusOK, ListActivitiesResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

// requireScope writes 401/403 unless the caller holds one of scopes.
func requireScope(w http.ResponseWriter, r *http.Request, scopes ...string) bool {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return false
	}
	for _, scope := range scopes {
		if claims.HasScope(scope) {
			return true
		}
	}
	writeError(w, http.StatusForbidden, "forbidden", "scope "+scopes[0]+" required")
	return false
}

// ActivityView exposes a saved activity.
type ActivityView struct {
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

// ListActivitiesResponse packages list results.
type ListActivitiesResponse struct {
	Items      []ActivityView `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, map[string]string{
		"type":   code,
		"detail": detail,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toActivityView(rec domain.SavedRecord) ActivityView {
	return ActivityView{
		ID:           rec.ID,
		ActivityID:   rec.ActivityID,
		ActivityCode: rec.ActivityCode,
		UserID:       rec.UserID,
		Type:         rec.Type,
		Title:        rec.Title,
		SaveCount:    rec.SaveCount,
		Created:      rec.Created,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
}
