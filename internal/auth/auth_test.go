package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testConfig = Config{Secret: "test-secret", Issuer: "autosave.identity"}

func TestSignAndParseRoundTrip(t *testing.T) {
	token, err := Sign(testConfig, "daemon-1", []string{ScopeActivitiesWrite}, time.Hour)
	require.NoError(t, err)

	claims, err := Parse(token, testConfig)
	require.NoError(t, err)
	require.Equal(t, "daemon-1", claims.Subject)
	require.True(t, claims.HasScope(ScopeActivitiesWrite))
	require.False(t, claims.HasScope(ScopeActivitiesRead))
}

func TestParseRejectsWrongIssuerAndExpired(t *testing.T) {
	token, err := Sign(Config{Secret: testConfig.Secret, Issuer: "other"}, "daemon-1", nil, time.Hour)
	require.NoError(t, err)
	_, err = Parse(token, testConfig)
	require.True(t, errors.Is(err, ErrInvalidToken))

	expired, err := Sign(testConfig, "daemon-1", nil, -time.Minute)
	require.NoError(t, err)
	_, err = Parse(expired, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = Parse("  ", testConfig)
	require.ErrorIs(t, err, ErrMissingToken)
}

func TestMiddlewareStoresClaimsAndSkipsHealth(t *testing.T) {
	var seen *Claims
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	handler := NewMiddleware(testConfig).Wrap(next)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Nil(t, seen)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/activities", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	token, err := Sign(testConfig, "daemon-1", []string{ScopeActivitiesRead}, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/v1/activities", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, "daemon-1", seen.Subject)
}
