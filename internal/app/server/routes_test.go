package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"proxypool/internal/auth"
	"proxypool/internal/domain"
	"proxypool/internal/jobs/scheduler"
	"proxypool/internal/store"
)

type fixedStates map[string]scheduler.State

func (f fixedStates) States() map[string]scheduler.State { return f }

func newTestServer(t *testing.T, ips ...string) (*Server, store.Store) {
	t.Helper()
	s := store.NewMemoryStore()
	for _, ip := range ips {
		if _, err := s.Add(context.Background(), domain.ProxyRecord{IP: ip, Port: "8080", Status: domain.StatusValid}); err != nil {
			t.Fatalf("Add returned error: %v", err)
		}
	}
	return NewServer(s, nil, fixedStates{scheduler.CycleValidate: scheduler.StateSleeping}, nil), s
}

func do(t *testing.T, h http.Handler, target string, header ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if len(header) == 2 {
		req.Header.Set(header[0], header[1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode response of %s: %v", target, err)
		}
	}
	return rec, body
}

func TestGetProxyEmptyPool(t *testing.T) {
	srv, _ := newTestServer(t)
	rec, body := do(t, srv.Handler(), "/get_proxy")

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if body["error"] != "no proxy available" {
		t.Fatalf("error = %v", body["error"])
	}
}

func TestGetProxyRoundRobin(t *testing.T) {
	srv, _ := newTestServer(t, "1.1.1.1", "2.2.2.2")
	h := srv.Handler()

	var seen []string
	for i := 0; i < 3; i++ {
		rec, body := do(t, h, "/get_proxy")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if body["total_proxies"].(float64) != 2 {
			t.Fatalf("total_proxies = %v, want 2", body["total_proxies"])
		}
		if int(body["current_index"].(float64)) != i%2 {
			t.Fatalf("current_index = %v, want %d", body["current_index"], i%2)
		}
		proxy := body["proxy"].(map[string]any)
		if proxy["score"].(float64) != store.InitialScore {
			t.Fatalf("score = %v, want %d", proxy["score"], store.InitialScore)
		}
		seen = append(seen, proxy["ip"].(string))
	}
	if seen[0] == seen[1] || seen[0] != seen[2] {
		t.Fatalf("rotation order = %v", seen)
	}
}

func TestGetAllProxies(t *testing.T) {
	srv, _ := newTestServer(t, "1.1.1.1", "2.2.2.2", "3.3.3.3")
	rec, body := do(t, srv.Handler(), "/get_all_proxies")

	if rec.Code != http.StatusOK || body["total"].(float64) != 3 {
		t.Fatalf("got %d with total %v, want 200 with 3", rec.Code, body["total"])
	}
	if len(body["proxies"].([]any)) != 3 {
		t.Fatalf("proxies = %v", body["proxies"])
	}
}

func TestFeedback(t *testing.T) {
	srv, s := newTestServer(t, "1.1.1.1")
	h := srv.Handler()
	id := domain.Identity{IP: "1.1.1.1", Port: "8080"}

	rec, body := do(t, h, "/feedback/1.1.1.1/8080/valid")
	if rec.Code != http.StatusOK || body["action"] != "score increased" || body["proxy"] != "1.1.1.1:8080" {
		t.Fatalf("valid feedback = %d %v", rec.Code, body)
	}
	if score, _, _ := s.Score(context.Background(), id); score != 51 {
		t.Fatalf("score after valid feedback = %d, want 51", score)
	}

	rec, body = do(t, h, "/feedback/1.1.1.1/8080/broken")
	if rec.Code != http.StatusOK || body["action"] != "score decreased" {
		t.Fatalf("negative feedback = %d %v", rec.Code, body)
	}
	if score, _, _ := s.Score(context.Background(), id); score != 50 {
		t.Fatalf("score after negative feedback = %d, want 50", score)
	}

	rec, _ = do(t, h, "/feedback/9.9.9.9/1/valid")
	if rec.Code != http.StatusOK {
		t.Fatalf("feedback for unknown proxy = %d, want 200", rec.Code)
	}
}

func TestFeedbackRequiresTokenWhenConfigured(t *testing.T) {
	auth.SetJWTSecret("api-secret")
	t.Cleanup(func() { auth.SetJWTSecret("") })

	srv, _ := newTestServer(t, "1.1.1.1")
	h := srv.Handler()

	if rec, _ := do(t, h, "/feedback/1.1.1.1/8080/valid"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", rec.Code)
	}

	token, err := auth.GenerateJWT("client", time.Minute)
	if err != nil {
		t.Fatalf("GenerateJWT returned error: %v", err)
	}
	if rec, _ := do(t, h, "/feedback/1.1.1.1/8080/valid", "Authorization", "Bearer "+token); rec.Code != http.StatusOK {
		t.Fatalf("status with token = %d, want 200", rec.Code)
	}

	if rec, _ := do(t, h, "/get_proxy"); rec.Code != http.StatusOK {
		t.Fatalf("get_proxy should stay public, got %d", rec.Code)
	}
}

type failingStore struct {
	store.Store
}

func (failingStore) DecreaseScore(context.Context, domain.Identity) (store.Adjustment, error) {
	return store.Adjustment{}, errors.New("store unavailable")
}

func TestFeedbackStoreFailure(t *testing.T) {
	srv := NewServer(failingStore{Store: store.NewMemoryStore()}, nil, nil, nil)
	rec, body := do(t, srv.Handler(), "/feedback/1.1.1.1/8080/invalid")

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if body["error"] != "store unavailable" || body["status"] != "invalid" || body["proxy"] != "1.1.1.1:8080" {
		t.Fatalf("body = %v", body)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t, "1.1.1.1", "2.2.2.2")
	h := srv.Handler()

	rec, body := do(t, h, "/health")
	if rec.Code != http.StatusOK || body["pool_size"].(float64) != 2 {
		t.Fatalf("health = %d %v", rec.Code, body)
	}
	cycles := body["cycles"].(map[string]any)
	if cycles[scheduler.CycleValidate] != string(scheduler.StateSleeping) {
		t.Fatalf("cycles = %v", cycles)
	}

	rec, _ = do(t, h, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "proxypool_pool_valid 2") {
		t.Fatalf("metrics output missing pool gauge:\n%s", rec.Body.String())
	}
}

func TestHistoryRoute(t *testing.T) {
	srv, _ := newTestServer(t)
	if rec, _ := do(t, srv.Handler(), "/history/1.1.1.1/80"); rec.Code != http.StatusNotFound {
		t.Fatalf("disabled history status = %d, want 404", rec.Code)
	}

	lookup := func(_ context.Context, id domain.Identity, limit int) ([]domain.ProxyCheck, error) {
		if limit != 5 {
			t.Errorf("limit = %d, want 5", limit)
		}
		return []domain.ProxyCheck{{IP: id.IP, Port: id.Port, Status: "valid"}}, nil
	}
	srv = NewServer(store.NewMemoryStore(), nil, nil, lookup)

	rec, body := do(t, srv.Handler(), "/history/1.1.1.1/80?limit=5")
	if rec.Code != http.StatusOK || body["total"].(float64) != 1 {
		t.Fatalf("history = %d %v", rec.Code, body)
	}

	if rec, _ := do(t, srv.Handler(), "/history/1.1.1.1/80?limit=x"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d, want 400", rec.Code)
	}
}
