package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"example.com/autosave/internal/auth"
	"example.com/autosave/internal/domain"
	"example.com/autosave/internal/persistence"
)

func withScopes(req *http.Request, scopes ...string) *http.Request {
	claims := &auth.Claims{Subject: "daemon-1", Scopes: map[string]struct{}{}, ExpiresAt: time.Now().Add(time.Hour)}
	for _, s := range scopes {
		claims.Scopes[s] = struct{}{}
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

func newMux(repo *mockRepo) *http.ServeMux {
	mux := http.NewServeMux()
	NewHandler(domain.NewService(repo)).RegisterRoutes(mux)
	return mux
}

const saveBody = `{"activity_id":"a1","activity_code":"sp-quiz-1717336800123-abc123","user_id":"u1","type":"quiz","title":"Quiz 1","content":{"metadata":{"activityId":"a1","attempt":1,"source":"autosave"}}}`

func TestSaveActivityCreatesThenUpdates(t *testing.T) {
	repo := &mockRepo{records: map[string]domain.SavedRecord{}}
	mux := newMux(repo)

	for i, want := range []int{http.StatusCreated, http.StatusOK} {
		req := withScopes(httptest.NewRequest(http.MethodPost, "/v1/activities", strings.NewReader(saveBody)), auth.ScopeActivitiesWrite)
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
		if rr.Code != want {
			t.Fatalf("save %d: expected %d got %d: %s", i, want, rr.Code, rr.Body.String())
		}
	}

	if len(repo.records) != 1 {
		t.Fatalf("expected one stored row got %d", len(repo.records))
	}
	if repo.records["a1"].SaveCount != 2 {
		t.Fatalf("expected save_count 2 got %d", repo.records["a1"].SaveCount)
	}
}

func TestSaveActivityValidation(t *testing.T) {
	mux := newMux(&mockRepo{records: map[string]domain.SavedRecord{}})

	req := withScopes(httptest.NewRequest(http.MethodPost, "/v1/activities", strings.NewReader(`{"activity_id":"a1"}`)), auth.ScopeActivitiesWrite)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}

	req = withScopes(httptest.NewRequest(http.MethodPost, "/v1/activities", strings.NewReader(saveBody)), auth.ScopeActivitiesRead)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/activities", strings.NewReader(saveBody)))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}
}

func TestGetActivityByCode(t *testing.T) {
	repo := &mockRepo{records: map[string]domain.SavedRecord{
		"a1": {ID: "row-1", ActivityID: "a1", ActivityCode: "sp-quiz-1-abcdef", UserID: "u1"},
	}}
	mux := newMux(repo)

	req := withScopes(httptest.NewRequest(http.MethodGet, "/v1/activities/sp-quiz-1-abcdef", nil), auth.ScopeActivitiesRead)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	var view ActivityView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.ActivityID != "a1" {
		t.Fatalf("unexpected activity id %s", view.ActivityID)
	}

	req = withScopes(httptest.NewRequest(http.MethodGet, "/v1/activities/sp-missing", nil), auth.ScopeActivitiesRead)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
}

func TestListActivitiesPassesCursorAndLimit(t *testing.T) {
	next := &domain.Cursor{UpdatedAt: time.Date(2025, time.June, 2, 14, 0, 0, 0, time.UTC), ActivityID: "a2"}
	repo := &mockRepo{records: map[string]domain.SavedRecord{"a1": {ActivityID: "a1", UserID: "u1"}}, next: next}
	mux := newMux(repo)

	req := withScopes(httptest.NewRequest(http.MethodGet, "/v1/activities?user_id=u1&limit=500", nil), auth.ScopeActivitiesWrite)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	if repo.lastLimit != maxPageSize {
		t.Fatalf("expected limit clamped to %d got %d", maxPageSize, repo.lastLimit)
	}

	var resp ListActivitiesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.NextCursor != persistence.EncodeCursor(next) {
		t.Fatalf("unexpected cursor %q", resp.NextCursor)
	}

	req = withScopes(httptest.NewRequest(http.MethodGet, "/v1/activities?user_id=u1&cursor=%25%25", nil), auth.ScopeActivitiesRead)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad cursor got %d", rr.Code)
	}
}

type mockRepo struct {
	records   map[string]domain.SavedRecord
	next      *domain.Cursor
	lastLimit int
}

func (m *mockRepo) Save(ctx context.Context, req domain.SaveRequest) (domain.SavedRecord, error) {
	rec, exists := m.records[req.ActivityID]
	rec.ActivityID = req.ActivityID
	rec.ActivityCode = req.GeneratedCode
	rec.UserID = req.UserID
	rec.SaveCount++
	rec.Created = !exists
	m.records[req.ActivityID] = rec
	return rec, nil
}

func (m *mockRepo) Get(ctx context.Context, code string) (*domain.SavedRecord, error) {
	for _, rec := range m.records {
		if rec.ActivityCode == code || rec.ActivityID == code {
			rec := rec
			return &rec, nil
		}
	}
	return nil, nil
}

func (m *mockRepo) ListByUser(ctx context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.SavedRecord, *domain.Cursor, error) {
	m.lastLimit = limit
	out := make([]domain.SavedRecord, 0)
	for _, rec := range m.records {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out, m.next, nil
}
