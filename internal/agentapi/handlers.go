// Package agentapi exposes the autosave pipeline to local producers over HTTP.
package agentapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"example.com/autosave/internal/autosave"
	"example.com/autosave/internal/domain"
	"example.com/autosave/internal/monitor"
)

const maxBodyBytes = 4 << 20

// Pipeline is the subset of autosave.Facade the handlers drive.
type Pipeline interface {
	TriggerAutoSave(activity domain.ActivityRecord)
	SaveNow(ctx context.Context, activity domain.ActivityRecord) autosave.SaveResult
	SyncPending(ctx context.Context) (int, error)
	CancelPending()
	MarkBuilt(activity domain.ActivityRecord) error
	PutGeneratedContent(activityID string, content json.RawMessage) error
	PutConstructionData(activityID string, data json.RawMessage) error
	GetAutoSaveStats() autosave.Stats
}

// Sweeper is the subset of monitor.Monitor the handlers drive.
type Sweeper interface {
	Stats() monitor.Stats
	ForceSaveCheck(ctx context.Context) monitor.TickResult
}

// Handler serves the producer API.
type Handler struct {
	pipeline Pipeline
	sweeper  Sweeper
}

// NewHandler builds a Handler. sweeper may be nil when reconciliation is off.
func NewHandler(pipeline Pipeline, sweeper Sweeper) *Handler {
	return &Handler{pipeline: pipeline, sweeper: sweeper}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/autosave/trigger", h.post(h.trigger))
	mux.HandleFunc("/v1/autosave/save-now", h.post(h.saveNow))
	mux.HandleFunc("/v1/autosave/sync", h.post(h.sync))
	mux.HandleFunc("/v1/autosave/cancel", h.post(h.cancel))
	mux.HandleFunc("/v1/autosave/built", h.post(h.built))
	mux.HandleFunc("/v1/autosave/stats", h.get(h.stats))
	mux.HandleFunc("/v1/autosave/monitor", h.get(h.monitorStats))
	mux.HandleFunc("/v1/autosave/monitor/check", h.post(h.monitorCheck))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

// ActivityPayload carries an activity plus optional side content to store
// before the save is scheduled.
type ActivityPayload struct {
	Activity         domain.ActivityRecord `json:"activity"`
	GeneratedContent json.RawMessage       `json:"generatedContent,omitempty"`
	ConstructionData json.RawMessage       `json:"constructionData,omitempty"`
}

// SyncResponse reports a pending-sync pass.
type SyncResponse struct {
	Resolved int    `json:"resolved"`
	Error    string `json:"error,omitempty"`
}

func (h *Handler) post(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
			return
		}
		fn(w, r)
	}
}

func (h *Handler) get(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
			return
		}
		fn(w, r)
	}
}

func (h *Handler) trigger(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.decodeActivity(w, r)
	if !ok {
		return
	}
	h.pipeline.TriggerAutoSave(payload.Activity)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled", "activityId": payload.Activity.ID})
}

func (h *Handler) saveNow(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.decodeActivity(w, r)
	if !ok {
		return
	}
	result := h.pipeline.SaveNow(r.Context(), payload.Activity)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

func (h *Handler) built(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.decodeActivity(w, r)
	if !ok {
		return
	}
	if err := h.pipeline.MarkBuilt(payload.Activity); err != nil {
		writeError(w, http.StatusInternalServerError, "local_store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "built", "activityId": payload.Activity.ID})
}

func (h *Handler) sync(w http.ResponseWriter, r *http.Request) {
	resolved, err := h.pipeline.SyncPending(r.Context())
	resp := SyncResponse{Resolved: resolved}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	h.pipeline.CancelPending()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pipeline.GetAutoSaveStats())
}

func (h *Handler) monitorStats(w http.ResponseWriter, r *http.Request) {
	if h.sweeper == nil {
		writeError(w, http.StatusNotFound, "not_found", "reconciliation disabled")
		return
	}
	writeJSON(w, http.StatusOK, h.sweeper.Stats())
}

func (h *Handler) monitorCheck(w http.ResponseWriter, r *http.Request) {
	if h.sweeper == nil {
		writeError(w, http.StatusNotFound, "not_found", "reconciliation disabled")
		return
	}
	writeJSON(w, http.StatusOK, h.sweeper.ForceSaveCheck(r.Context()))
}

// decodeActivity parses the body and stores any side content it carries.
func (h *Handler) decodeActivity(w http.ResponseWriter, r *http.Request) (ActivityPayload, bool) {
	var payload ActivityPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return payload, false
	}
	if strings.TrimSpace(payload.Activity.ID) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "activity.id is required")
		return payload, false
	}

	if len(payload.GeneratedContent) > 0 {
		if err := h.pipeline.PutGeneratedContent(payload.Activity.ID, payload.GeneratedContent); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return payload, false
		}
	}
	if len(payload.ConstructionData) > 0 {
		if err := h.pipeline.PutConstructionData(payload.Activity.ID, payload.ConstructionData); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return payload, false
		}
	}
	return payload, true
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
