package support

import "testing"

func TestParseTextToProxies(t *testing.T) {
	input := "1.1.1.1:80\r\ninvalid\n2.2.2.2:8080 # comment\n2.2.2.2:badport\n010.001.002.003:03128\n300.1.1.1:80\n5.5.5.5 9000\n"

	parsed := ParseTextToProxies(input, "list")
	if len(parsed) != 4 {
		t.Fatalf("ParseTextToProxies returned %d proxies, want 4: %+v", len(parsed), parsed)
	}

	want := []string{"1.1.1.1:80", "2.2.2.2:8080", "10.1.2.3:3128", "5.5.5.5:9000"}
	for i, addr := range want {
		if got := parsed[i].Address(); got != addr {
			t.Fatalf("proxy %d was %s, want %s", i, got, addr)
		}
		if parsed[i].Source != "list" {
			t.Fatalf("proxy %d source = %q, want list", i, parsed[i].Source)
		}
	}
}

func TestNewCandidateRejectsBadPort(t *testing.T) {
	if _, ok := NewCandidate("1.2.3.4", "70000", "x"); ok {
		t.Fatal("expected port 70000 to be rejected")
	}
	if _, ok := NewCandidate("1.2.3.4", "", "x"); ok {
		t.Fatal("expected empty port to be rejected")
	}
}

func TestFindIP(t *testing.T) {
	input := "Client address: 203.0.113.5 connected via [2001:db8::1]"

	if got := FindIP(input); got != "203.0.113.5" {
		t.Fatalf("FindIP returned %s, want 203.0.113.5", got)
	}
}

func TestIsValidURL(t *testing.T) {
	tests := []struct {
		name  string
		url   string
		valid bool
	}{
		{"http", "http://example.com", true},
		{"https", "https://example.com/path", true},
		{"missing scheme", "example.com", false},
		{"unsupported scheme", "ftp://example.com", false},
		{"invalid", "://missing-scheme", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidURL(tt.url); got != tt.valid {
				t.Fatalf("IsValidURL(%q) = %t, want %t", tt.url, got, tt.valid)
			}
		})
	}
}
