package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codecollab/server/internal/audit"
	"codecollab/server/internal/room"
	"codecollab/server/internal/session"
)

func setupRouter(t *testing.T, trail *audit.Store) (*gin.Engine, *room.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := room.NewStore()
	var recorder session.AuditRecorder
	if trail != nil {
		recorder = trail
	}
	coord := session.New(store, recorder)

	r := gin.New()
	New(coord, store, trail).Register(r)
	return r, store
}

func getJSON(t *testing.T, r *gin.Engine, path string) (int, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestHealthHandler(t *testing.T) {
	r, _ := setupRouter(t, nil)

	code, body := getJSON(t, r, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestStatsHandler(t *testing.T) {
	r, store := setupRouter(t, nil)
	store.Create("ABCDEFGH")

	code, body := getJSON(t, r, "/api/stats")
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["active_rooms"])
	assert.EqualValues(t, 0, body["active_clients"])
	assert.EqualValues(t, 0, body["pending_requests"])
	assert.NotContains(t, body, "recorded_intrusions", "no audit trail configured")
}

func TestStatsHandlerWithAuditTrail(t *testing.T) {
	trail, err := audit.New(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer trail.Close()
	require.NoError(t, trail.Record("ABCDEFGH", "user-3", "Gori", "client-reported bypass", time.Now().UTC()))

	r, _ := setupRouter(t, trail)

	code, body := getJSON(t, r, "/api/stats")
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["recorded_intrusions"])
}

func TestIntrusionsHandler(t *testing.T) {
	trail, err := audit.New(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer trail.Close()
	require.NoError(t, trail.Record("ABCDEFGH", "user-3", "Gori", "attempted unauthorized editor change", time.Now().UTC()))

	r, _ := setupRouter(t, trail)

	code, body := getJSON(t, r, "/api/rooms/ABCDEFGH/intrusions")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ABCDEFGH", body["room_code"])

	entries, ok := body["intrusions"].([]any)
	require.True(t, ok)
	require.Len(t, entries, 1)
	entry := entries[0].(map[string]any)
	assert.Equal(t, "user-3", entry["user_id"])
	assert.Equal(t, "attempted unauthorized editor change", entry["reason"])
}

func TestIntrusionsHandlerEmptyRoom(t *testing.T) {
	trail, err := audit.New(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer trail.Close()

	r, _ := setupRouter(t, trail)

	code, body := getJSON(t, r, "/api/rooms/NOWHERE/intrusions")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{}, body["intrusions"])
}

func TestIntrusionsHandlerWithoutTrail(t *testing.T) {
	r, _ := setupRouter(t, nil)

	code, body := getJSON(t, r, "/api/rooms/ABCDEFGH/intrusions")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Audit trail is not enabled", body["error"])
}
