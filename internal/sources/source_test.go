package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"proxypool/internal/config"
	"proxypool/internal/domain"
)

func TestSiteSourceSkipsFailedPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "test-agent" {
			t.Errorf("user agent = %q, want test-agent", r.Header.Get("User-Agent"))
		}
		switch r.URL.Query().Get("page") {
		case "1":
			fmt.Fprint(w, "1.1.1.1:80\n2.2.2.2:8080\n")
		case "2":
			w.WriteHeader(http.StatusInternalServerError)
		case "3":
			fmt.Fprint(w, "3.3.3.3 3128\n")
		}
	}))
	defer srv.Close()

	source, err := NewSiteSource(config.SourceSite{
		Name:        "list",
		Kind:        KindText,
		URLTemplate: srv.URL + "/?page={page}",
		Pages:       3,
	}, NewHTTPFetcher(2*time.Second, "test-agent"))
	if err != nil {
		t.Fatalf("NewSiteSource returned error: %v", err)
	}

	records, err := source.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if records[2].Address() != "3.3.3.3:3128" || records[2].Source != "list" {
		t.Fatalf("last record = %+v", records[2])
	}
}

func TestSiteSourceFailsWhenNoPageLoads(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	source, err := NewSiteSource(config.SourceSite{
		Name:        "blocked",
		Kind:        KindIP3366,
		URLTemplate: srv.URL + "/{page}",
		Pages:       2,
	}, NewHTTPFetcher(time.Second, ""))
	if err != nil {
		t.Fatalf("NewSiteSource returned error: %v", err)
	}

	if _, err := source.Fetch(context.Background()); !errors.Is(err, ErrSourceFailed) {
		t.Fatalf("Fetch error = %v, want ErrSourceFailed", err)
	}
}

func TestSiteSourceStopsDuringPageInterval(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "4.4.4.4:80\n")
	}))
	defer srv.Close()

	source, _ := NewSiteSource(config.SourceSite{
		Kind:         KindText,
		URLTemplate:  srv.URL + "/{page}",
		Pages:        5,
		PageInterval: 60000,
	}, NewHTTPFetcher(time.Second, ""))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	records, err := source.Fetch(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Fetch error = %v, want deadline exceeded", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records before cancellation, want 1", len(records))
	}
}

type stubSource struct {
	name    string
	records []domain.ProxyRecord
	err     error
}

func (s stubSource) Name() string { return s.name }

func (s stubSource) Fetch(context.Context) ([]domain.ProxyRecord, error) {
	return s.records, s.err
}

func TestCollectorSkipsFailingSourcesAndDuplicates(t *testing.T) {
	a := domain.ProxyRecord{IP: "1.1.1.1", Port: "80", Source: "a"}
	b := domain.ProxyRecord{IP: "2.2.2.2", Port: "80", Source: "b"}
	dupOfA := domain.ProxyRecord{IP: "1.1.1.1", Port: "80", Source: "b"}

	collector := NewCollector(
		stubSource{name: "a", records: []domain.ProxyRecord{a}},
		stubSource{name: "broken", err: fmt.Errorf("%w: broken", ErrSourceFailed)},
		stubSource{name: "b", records: []domain.ProxyRecord{dupOfA, b}},
	)

	got := collector.Collect(context.Background())
	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2", len(got))
	}
	if got[0].Source != "a" || got[1].Address() != "2.2.2.2:80" {
		t.Fatalf("unexpected candidates: %+v", got)
	}
}
