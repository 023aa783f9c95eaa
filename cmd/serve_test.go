package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexbook/lexipipe/internal/config"
	"github.com/lexbook/lexipipe/internal/pipeline"
	"github.com/lexbook/lexipipe/internal/store"
	"github.com/lexbook/lexipipe/pkg/oracle"
)

type stubOracle struct{}

func (stubOracle) Complete(_ context.Context, _ oracle.Request) (*oracle.Response, error) {
	return &oracle.Response{Text: `{"corrected":"x","translation":"y","confidence":0.9}`}, nil
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	c := &config.Config{}
	c.Executor.SubBatchSize = 2
	c.Executor.Concurrency = 3
	c.Executor.RatePerSec = 1000
	c.Executor.MaxAttempts = 1
	c.Pipeline.WindowRadius = 1
	c.Pipeline.DedupeChunk = 100

	p := pipeline.New(c, config.DefaultTuning(), st, stubOracle{})
	return newRouter(context.Background(), p)
}

func TestServeHealth(t *testing.T) {
	r := newTestRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServeProgress_Idle(t *testing.T) {
	r := newTestRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/progress", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var prog pipeline.Progress
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &prog))
	assert.Equal(t, pipeline.StateIdle, prog.Status)
}

func TestServeStart(t *testing.T) {
	r := newTestRouter(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/start", strings.NewReader(`{"limit":10}`))
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp struct {
		Accepted bool `json:"accepted"`
		Limit    int  `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Accepted)
	assert.Equal(t, 10, resp.Limit)

	// The empty ledger makes this run finish almost immediately.
	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/progress", nil))
		var prog pipeline.Progress
		if err := json.Unmarshal(rec.Body.Bytes(), &prog); err != nil {
			return false
		}
		return prog.Status == pipeline.StateCompleted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestServeStart_BadBody(t *testing.T) {
	r := newTestRouter(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/start", strings.NewReader(`{not json`))
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
