// Package api exposes the investloader sync operations over HTTP: manual
// trigger endpoints, the instrument catalog, and pipeline diagnostics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"investloader/internal/engine"
)

// Server is the HTTP API server.
type Server struct {
	engine *engine.Engine
	addr   string
	log    *slog.Logger

	httpSrv *http.Server
}

// NewServer creates a Server bound to the given address.
func NewServer(eng *engine.Engine, addr string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		engine: eng,
		addr:   addr,
		log:    log.With("component", "api"),
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/sync/close-prices", s.handleSyncClosePrices)
	mux.HandleFunc("POST /api/v1/sync/evening-session/{date}", s.handleSyncEveningSession)
	mux.HandleFunc("POST /api/v1/sync/morning-session/{date}", s.handleSyncMorningSession)
	mux.HandleFunc("POST /api/v1/sync/candles", s.handleSyncCandles)
	mux.HandleFunc("POST /api/v1/sync/instruments", s.handleSyncInstruments)
	mux.HandleFunc("GET /api/v1/instruments", s.handleListInstruments)
	mux.HandleFunc("GET /api/v1/prices/{session}/{date}", s.handleListPrices)
	mux.HandleFunc("GET /api/v1/performance", s.handlePerformance)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
}

// Handler returns the server's http.Handler with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.logMiddleware(mux)
}

// ListenAndServe starts the listener and blocks until the context is
// cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", s.addr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start).String(),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
