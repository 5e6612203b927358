package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botbuilder/internal/builder"
	"botbuilder/internal/db"
	"botbuilder/internal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func doGet(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func seededStore(t *testing.T) (*session.MemoryStore, *session.State) {
	t.Helper()
	store := session.NewMemoryStore()
	st := session.New("Echo", "echo_bot", "repeat messages")
	st.Stage = string(builder.StageDeploy)
	st.ReplaceBundle(map[string]string{"main.py": "print('hi')", "Dockerfile": "FROM python"})
	require.NoError(t, store.Save(context.Background(), st))
	return store, st
}

func TestHealth(t *testing.T) {
	srv := NewServer(session.NewMemoryStore(), nil, nil, "test")
	w := doGet(t, srv.Router(), "/health")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)
}

type failingHealth struct{}

func (failingHealth) Health() error { return assert.AnError }

func TestDeepHealthReportsDatabase(t *testing.T) {
	srv := NewServer(session.NewMemoryStore(), nil, failingHealth{}, "test")
	w := doGet(t, srv.Router(), "/health/deep")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGetSessionHidesFileContents(t *testing.T) {
	store, st := seededStore(t)
	srv := NewServer(store, nil, nil, "test")

	w := doGet(t, srv.Router(), "/sessions/"+st.ProjectID)
	require.Equal(t, http.StatusOK, w.Code)

	var view sessionView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, st.ProjectID, view.ProjectID)
	assert.Equal(t, "deploy", view.Stage)
	assert.Equal(t, []string{"Dockerfile", "main.py"}, view.Files)
	assert.NotContains(t, w.Body.String(), "print('hi')")

	w = doGet(t, srv.Router(), "/sessions/unknown")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListSessionsFromSnapshots(t *testing.T) {
	store, st := seededStore(t)
	srv := NewServer(store, nil, nil, "test")

	w := doGet(t, srv.Router(), "/sessions?limit=5")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), st.ProjectID)

	w = doGet(t, srv.Router(), "/sessions?limit=zero")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEventsFromLedger(t *testing.T) {
	ctx := context.Background()
	store, st := seededStore(t)

	database, err := db.NewDatabase(db.Config{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	ledger := db.NewLedger(database)
	require.NoError(t, ledger.Begin(ctx, st))
	require.NoError(t, ledger.Record(ctx, builder.Transition{
		ID: "tr-1", ProjectID: st.ProjectID,
		From: builder.StagePersist, To: builder.StageDeploy,
		Timestamp: time.Now(), Attempt: 1,
	}))

	srv := NewServer(store, ledger, database, "test")
	h := srv.Router()

	w := doGet(t, h, "/sessions/"+st.ProjectID+"/events")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"tr-1"`)

	w = doGet(t, h, "/sessions")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"stage":"deploy"`)

	w = doGet(t, h, "/sessions/nope/events")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doGet(t, h, "/health/deep")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := NewServer(session.NewMemoryStore(), nil, nil, "test")
	h := srv.Router()
	doGet(t, h, "/health")

	w := doGet(t, h, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "botbuilder_http_requests_total"))
}

func TestRequestIDIsEchoed(t *testing.T) {
	srv := NewServer(session.NewMemoryStore(), nil, nil, "test")
	h := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))

	w = doGet(t, h, "/health")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestSessionsAreRateLimited(t *testing.T) {
	srv := NewServer(session.NewMemoryStore(), nil, nil, "test")
	srv.limiter = NewIPRateLimiter(1, 2)
	h := srv.Router()

	assert.Equal(t, http.StatusOK, doGet(t, h, "/sessions").Code)
	assert.Equal(t, http.StatusOK, doGet(t, h, "/sessions").Code)
	assert.Equal(t, http.StatusTooManyRequests, doGet(t, h, "/sessions").Code)
	// health is not limited
	assert.Equal(t, http.StatusOK, doGet(t, h, "/health").Code)
}
