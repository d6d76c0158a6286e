package auth_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakekeeper/lakekeeper/internal/api"
	"github.com/lakekeeper/lakekeeper/internal/auth"
	"github.com/lakekeeper/lakekeeper/internal/domain"
)

func TestNoopPassesRequestThrough(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	wrapped := auth.Noop()(handler)

	req := httptest.NewRequest(http.MethodGet, "/catalog/v1/config", http.NoBody)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestAPIKeyBlocksRequestWithoutAuthHeader(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})

	wrapped := auth.APIKey("my-secret-key")(handler)

	req := httptest.NewRequest(http.MethodGet, "/management/v1/warehouse", http.NoBody)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp api.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.ErrTypeUnauthenticated, resp.Error.Type)
	assert.Equal(t, http.StatusUnauthorized, resp.Error.Code)
	assert.Equal(t, "missing or invalid Authorization header", resp.Error.Message)
}

func TestAPIKeyAllowsCorrectKeyAndStampsActor(t *testing.T) {
	var seen *domain.RequestMetadata
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = api.MetadataFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	wrapped := auth.APIKey("my-secret-key")(handler)

	req := httptest.NewRequest(http.MethodGet, "/management/v1/warehouse", http.NoBody)
	req.Header.Set("Authorization", "Bearer my-secret-key")
	meta := &domain.RequestMetadata{RequestID: "r1"}
	req = req.WithContext(api.ContextWithMetadata(req.Context(), meta))
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.UserID("root"), seen.Actor)
	assert.True(t, seen.HasAdminPrivileges)
}

func TestAPIKeyRejectsWrongKey(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})

	wrapped := auth.APIKey("my-secret-key")(handler)

	req := httptest.NewRequest(http.MethodGet, "/management/v1/warehouse", http.NoBody)
	req.Header.Set("Authorization", "Bearer wrong-key")
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp api.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.ErrTypeUnauthenticated, resp.Error.Type)
	assert.Equal(t, "invalid API key", resp.Error.Message)
}

func TestAPIKeyEmptyKeyActsAsNoop(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	wrapped := auth.APIKey("")(handler)

	req := httptest.NewRequest(http.MethodGet, "/management/v1/warehouse", http.NoBody)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyHealthExemptOnGetOnly(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	wrapped := auth.APIKey("my-secret-key")(handler)

	req := httptest.NewRequest(http.MethodGet, "/health", http.NoBody)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/health", http.NoBody)
	rec = httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIKeyRejectsNonBearerScheme(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})

	wrapped := auth.APIKey("my-secret-key")(handler)

	req := httptest.NewRequest(http.MethodGet, "/management/v1/warehouse", http.NoBody)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
