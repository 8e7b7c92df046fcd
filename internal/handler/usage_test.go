package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macromini/macromini/internal/model"
	"github.com/macromini/macromini/internal/testutil"
)

func serveUsage(h *UsageHandler, userID string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Get("/api/v1/usage/{userID}", h.Get)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/usage/"+userID, nil))
	return rec
}

func TestUsageHandler_Get(t *testing.T) {
	store := testutil.NewMemoryStore(freeProfile(t, 7))
	h := NewUsageHandler(newTestGate(store), discardLogger())

	rec := serveUsage(h, "user-1")
	require.Equal(t, http.StatusOK, rec.Code)

	var summary model.UsageSummary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&summary))
	assert.Equal(t, model.TierFree, summary.Tier)
	assert.Equal(t, 7, summary.Used)
	assert.Equal(t, 10, summary.Limit)
	assert.Equal(t, 3, summary.Remaining)
	assert.False(t, summary.Unlimited)
}

func TestUsageHandler_ExpiredPeriodReadsAsUnused(t *testing.T) {
	p := testutil.NewTestProfile(t, "user-1", testNow.Add(-31*24*time.Hour))
	p.AnalysesCount = 10
	store := testutil.NewMemoryStore(p)
	h := NewUsageHandler(newTestGate(store), discardLogger())

	rec := serveUsage(h, "user-1")
	require.Equal(t, http.StatusOK, rec.Code)

	var summary model.UsageSummary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&summary))
	assert.Equal(t, 0, summary.Used)
	assert.Equal(t, 10, store.Profile("user-1").AnalysesCount, "reads never write")
}

func TestUsageHandler_Errors(t *testing.T) {
	h := NewUsageHandler(newTestGate(testutil.NewMemoryStore()), discardLogger())
	rec := serveUsage(h, "ghost")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "PROFILE_NOT_FOUND", decodeError(t, rec).Code)

	broken := testutil.NewMemoryStore(freeProfile(t, 0))
	broken.Err = errors.New("db down")
	h = NewUsageHandler(newTestGate(broken), discardLogger())
	rec = serveUsage(h, "user-1")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
