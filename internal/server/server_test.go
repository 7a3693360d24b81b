package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/possum-survey/possumctl/pkg/reconcile"
)

func TestHealthz(t *testing.T) {
	s := New("127.0.0.1:0", "1.2.3")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "1.2.3", body["version"])
}

func TestStatusBeforeFirstPass(t *testing.T) {
	s := New("127.0.0.1:0", "dev")

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body statusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Nil(t, body.LastRun)
	assert.Nil(t, body.LastResult)
}

func TestStatusAfterPass(t *testing.T) {
	s := New("127.0.0.1:0", "dev")
	s.RecordPass(reconcile.Result{
		PassID:         "p-1",
		TruthAvailable: true,
		RunningTotal:   4,
		FailedMarked:   1,
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var body statusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.NotNil(t, body.LastResult)
	assert.Equal(t, "p-1", body.LastResult.PassID)
	assert.Equal(t, 1, body.LastResult.FailedMarked)
	assert.NotNil(t, body.LastRun)
	assert.Empty(t, body.LastError)
}

func TestStatusAfterFailedPass(t *testing.T) {
	s := New("127.0.0.1:0", "dev")
	s.RecordPass(reconcile.Result{}, errors.New("orchestrator down"))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var body statusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Nil(t, body.LastResult)
	assert.Equal(t, "orchestrator down", body.LastError)
}
