package server

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"

	"proxypool/internal/app/version"
	"proxypool/internal/domain"
	"proxypool/internal/metrics"
)

const defaultHistoryLimit = 50

func (s *Server) getMetrics(w http.ResponseWriter, r *http.Request) {
	total, err := s.store.Count(r.Context())
	if err != nil {
		log.Error("Failed to count proxies", "error", err)
		writeError(w, "failed to read proxy pool", http.StatusInternalServerError)
		return
	}
	valid, err := s.store.AllValid(r.Context())
	if err != nil {
		log.Error("Failed to list proxies", "error", err)
		writeError(w, "failed to read proxy pool", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	err = metrics.Write(&buf,
		metrics.Gauge{Name: "proxypool_pool_entries", Help: "Entries held by the store.", Value: float64(total)},
		metrics.Gauge{Name: "proxypool_pool_valid", Help: "Entries scored above the minimum.", Value: float64(len(valid))},
	)
	if err != nil {
		log.Error("Failed to encode metrics", "error", err)
		writeError(w, "failed to encode metrics", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", metrics.ContentType())
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{"status": "ok", "version": version.Get()}
	if s.states != nil {
		payload["cycles"] = s.states.States()
	}

	total, err := s.store.Count(r.Context())
	if err != nil {
		payload["status"] = "degraded"
		payload["error"] = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, payload)
		return
	}
	payload["pool_size"] = total
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, "check history is disabled", http.StatusNotFound)
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	id := domain.Identity{IP: r.PathValue("ip"), Port: r.PathValue("port")}
	checks, err := s.history(r.Context(), id, limit)
	if err != nil {
		log.Error("Failed to load check history", "proxy", id.String(), "error", err)
		writeError(w, "failed to load check history", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"proxy":  id.String(),
		"checks": checks,
		"total":  len(checks),
	})
}
