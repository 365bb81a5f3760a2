package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mad4pg/internal/config"
	"mad4pg/internal/trainer"
)

func TestHealthz(t *testing.T) {
	s := newStatusServer("run", config.Default())
	rec := httptest.NewRecorder()
	s.handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestStatsReportsLatestEpisode(t *testing.T) {
	s := newStatusServer("run-1", config.Default())
	s.record(trainer.EpisodeResult{Episode: 1, Score: 0.5})
	s.record(trainer.EpisodeResult{Episode: 2, Score: 1.25, AvgScore: 0.875})

	rec := httptest.NewRecorder()
	s.handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		RunID    string                 `json:"run_id"`
		Episodes int                    `json:"episodes"`
		Latest   *trainer.EpisodeResult `json:"latest"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "run-1", body.RunID)
	assert.Equal(t, 2, body.Episodes)
	require.NotNil(t, body.Latest)
	assert.Equal(t, 2, body.Latest.Episode)
	assert.Equal(t, 0.875, body.Latest.AvgScore)
}

func TestStatsBeforeFirstEpisode(t *testing.T) {
	s := newStatusServer("run", config.Default())
	rec := httptest.NewRecorder()
	s.handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"latest":null`)
}

func TestStatsRejectsPost(t *testing.T) {
	s := newStatusServer("run", config.Default())
	rec := httptest.NewRecorder()
	s.handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/stats", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestConfigEndpoint(t *testing.T) {
	cfg := config.Default()
	s := newStatusServer("run", cfg)
	rec := httptest.NewRecorder()
	s.handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/config", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"num_atoms":100`)
	assert.Contains(t, rec.Body.String(), `"layer_sizes":[400,300]`)
	assert.NotContains(t, rec.Body.String(), "NumAtoms")
	var got config.Config
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, cfg.NumAtoms, got.NumAtoms)
	assert.Equal(t, cfg.LayerSizes, got.LayerSizes)
}
