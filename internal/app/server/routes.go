package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"proxypool/internal/auth"
	"proxypool/internal/domain"
	"proxypool/internal/jobs/scheduler"
	"proxypool/internal/store"
)

const shutdownTimeout = 10 * time.Second

// StateReporter exposes the scheduler cycle states for /health.
type StateReporter interface {
	States() map[string]scheduler.State
}

// HistoryLookup returns recent checks of one endpoint. A nil lookup disables
// the history route.
type HistoryLookup func(ctx context.Context, id domain.Identity, limit int) ([]domain.ProxyCheck, error)

type Server struct {
	store   store.Store
	rotator *store.Rotator
	states  StateReporter
	history HistoryLookup
}

func NewServer(s store.Store, rotator *store.Rotator, states StateReporter, history HistoryLookup) *Server {
	if rotator == nil {
		rotator = store.NewRotator(s)
	}
	return &Server{store: s, rotator: rotator, states: states, history: history}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) Handler() http.Handler {
	router := http.NewServeMux()
	router.HandleFunc("GET /get_proxy", s.getProxy)
	router.HandleFunc("GET /get_all_proxies", s.getAllProxies)
	router.Handle("GET /feedback/{ip}/{port}/{status}", auth.RequireAuth(http.HandlerFunc(s.feedback)))
	router.Handle("GET /history/{ip}/{port}", auth.RequireAuth(http.HandlerFunc(s.getHistory)))
	router.HandleFunc("GET /metrics", s.getMetrics)
	router.HandleFunc("GET /health", s.getHealth)

	return enableCORS(router)
}

// OpenRoutes serves the API on port until ctx is cancelled.
func (s *Server) OpenRoutes(ctx context.Context, port int) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Starting proxypool API on port :%d", port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api server shutdown: %w", err)
		}
		return nil
	}
}
