package server

import (
	"errors"
	"net/http"

	"github.com/charmbracelet/log"

	"proxypool/internal/domain"
	"proxypool/internal/metrics"
	"proxypool/internal/store"
)

type proxyResponse struct {
	domain.ProxyRecord
	Score int `json:"score"`
}

func toProxyResponse(r domain.ProxyRecord) proxyResponse {
	return proxyResponse{ProxyRecord: r, Score: r.Score}
}

func (s *Server) getProxy(w http.ResponseWriter, r *http.Request) {
	record, index, total, err := s.rotator.Next(r.Context())
	if errors.Is(err, store.ErrEmptyPool) {
		writeError(w, store.ErrEmptyPool.Error(), http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		log.Error("Failed to select proxy", "error", err)
		writeError(w, "failed to read proxy pool", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"proxy":         toProxyResponse(record),
		"total_proxies": total,
		"current_index": index,
	})
}

func (s *Server) getAllProxies(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.AllValid(r.Context())
	if err != nil {
		log.Error("Failed to list proxies", "error", err)
		writeError(w, "failed to read proxy pool", http.StatusInternalServerError)
		return
	}

	proxies := make([]proxyResponse, 0, len(records))
	for _, record := range records {
		proxies = append(proxies, toProxyResponse(record))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"proxies": proxies,
		"total":   len(proxies),
	})
}

// feedback lets clients report on a proxy they used: "valid" raises its
// score, any other status lowers it. Unknown proxies are acknowledged too.
func (s *Server) feedback(w http.ResponseWriter, r *http.Request) {
	id := domain.Identity{IP: r.PathValue("ip"), Port: r.PathValue("port")}
	status := r.PathValue("status")

	var (
		action string
		err    error
	)
	if status == string(domain.StatusValid) {
		action = "score increased"
		_, err = s.store.IncreaseScore(r.Context(), id)
		metrics.Feedback.Inc("increase")
	} else {
		action = "score decreased"
		var adj store.Adjustment
		adj, err = s.store.DecreaseScore(r.Context(), id)
		metrics.Feedback.Inc("decrease")
		if err == nil && adj.Removed {
			metrics.PoolChanges.Inc("feedback")
		}
	}

	if err != nil {
		log.Error("Feedback failed", "proxy", id.String(), "status", status, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":  err.Error(),
			"proxy":  id.String(),
			"status": status,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "feedback received",
		"action":  action,
		"proxy":   id.String(),
	})
}
