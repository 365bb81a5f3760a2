package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"mad4pg/internal/config"
	"mad4pg/internal/trainer"
)

// statusServer exposes the latest episode summary of a training run.
type statusServer struct {
	mu       sync.Mutex
	latest   *trainer.EpisodeResult
	runID    string
	cfg      *config.Config
	episodes int
}

func newStatusServer(runID string, cfg *config.Config) *statusServer {
	return &statusServer{runID: runID, cfg: cfg}
}

func (s *statusServer) record(res trainer.EpisodeResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest = &res
	s.episodes++
}

func (s *statusServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.mu.Lock()
		payload := map[string]any{
			"run_id":   s.runID,
			"episodes": s.episodes,
			"latest":   s.latest,
		}
		s.mu.Unlock()
		writeJSON(w, payload)
	})
	mux.HandleFunc("/config", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, s.cfg)
	})
	return mux
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
	}
}

// serveStatus runs the status endpoint until ctx is done.
func serveStatus(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("status server listening", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("status server failed", zap.Error(err))
	}
}
