package app

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"proxypool/internal/checker"
	"proxypool/internal/domain"
	"proxypool/internal/store"
)

func TestReadPort(t *testing.T) {
	t.Setenv("PROXYPOOL_PORT_VALID", "12345")
	if got := readPort("PROXYPOOL_PORT_VALID"); got != 12345 {
		t.Fatalf("readPort returned %d, want 12345", got)
	}

	t.Setenv("PROXYPOOL_PORT_INVALID", "not-a-number")
	if got := readPort("PROXYPOOL_PORT_INVALID"); got != 0 {
		t.Fatalf("readPort with invalid value returned %d, want 0", got)
	}

	t.Setenv("PROXYPOOL_PORT_ZERO", "0")
	if got := readPort("PROXYPOOL_PORT_ZERO"); got != 0 {
		t.Fatalf("readPort with zero value returned %d, want 0", got)
	}
}

func TestResolvePort(t *testing.T) {
	t.Run("primary env overrides fallback", func(t *testing.T) {
		t.Setenv("PRIMARY_PORT", "5050")
		if got := resolvePort("PRIMARY_PORT", "LEGACY_PORT", 8080); got != 5050 {
			t.Fatalf("resolvePort returned %d, want 5050", got)
		}
	})

	t.Run("legacy env used when primary missing", func(t *testing.T) {
		t.Setenv("LEGACY_PORT", "6060")
		if got := resolvePort("PRIMARY_MISSING", "LEGACY_PORT", 8080); got != 6060 {
			t.Fatalf("resolvePort returned %d, want 6060", got)
		}
	})

	t.Run("fallback used when env unset", func(t *testing.T) {
		if got := resolvePort("UNSET_PRIMARY", "UNSET_LEGACY", 9090); got != 9090 {
			t.Fatalf("resolvePort returned %d, want 9090", got)
		}
	})
}

func TestParseAddresses(t *testing.T) {
	records, err := ParseAddresses([]string{"1.2.3.4:080", "5.6.7.8:3128"})
	if err != nil {
		t.Fatalf("ParseAddresses: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Address() != "1.2.3.4:80" {
		t.Fatalf("first address = %s, want 1.2.3.4:80", records[0].Address())
	}

	for _, bad := range []string{"1.2.3.4", "not-an-ip:80", "1.2.3.4:99999"} {
		if _, err := ParseAddresses([]string{bad}); err == nil {
			t.Fatalf("ParseAddresses(%q) succeeded, want error", bad)
		}
	}
}

func TestCheckAddsValidProxies(t *testing.T) {
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer proxy.Close()

	u, _ := url.Parse(proxy.URL)
	host, port, _ := net.SplitHostPort(u.Host)

	engine := &Engine{
		Store: store.NewMemoryStore(),
		Validator: checker.NewValidator(checker.Options{
			CheckURLs: []string{"http://check.invalid/"},
			Timeout:   2 * time.Second,
		}),
	}

	closed, _ := net.Listen("tcp", "127.0.0.1:0")
	deadAddr := closed.Addr().(*net.TCPAddr)
	_ = closed.Close()

	records := []domain.ProxyRecord{
		{IP: host, Port: port, Status: domain.StatusUnknown},
		{IP: "127.0.0.1", Port: strconv.Itoa(deadAddr.Port), Status: domain.StatusUnknown},
	}

	var out bytes.Buffer
	stats, err := engine.Check(context.Background(), records, true, &out)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if stats.Total != 2 || stats.Valid != 1 {
		t.Fatalf("stats = %+v, want 2 total and 1 valid", stats)
	}
	if !strings.Contains(out.String(), "valid=1") {
		t.Fatalf("summary missing from output:\n%s", out.String())
	}

	count, err := engine.Store.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Fatalf("store holds %d proxies, want 1", count)
	}
}

func TestDedupOnEmptyStore(t *testing.T) {
	engine := &Engine{Store: store.NewMemoryStore()}
	removed, err := engine.Dedup(context.Background())
	if err != nil {
		t.Fatalf("Dedup: %v", err)
	}
	if removed != 0 {
		t.Fatalf("removed = %d, want 0", removed)
	}
}
