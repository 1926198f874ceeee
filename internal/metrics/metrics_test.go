package metrics

import (
	"bytes"
	"testing"

	"github.com/prometheus/common/expfmt"
)

func TestWriteProducesParsableExposition(t *testing.T) {
	ValidationResults.Inc("valid")
	ValidationResults.Add("timeout", 2)
	before := ValidationResults.Value("valid")

	var buf bytes.Buffer
	if err := Write(&buf, Gauge{Name: "proxypool_pool_size", Help: "Stored records.", Value: 7}); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(&buf)
	if err != nil {
		t.Fatalf("exposition did not parse: %v", err)
	}

	size, ok := families["proxypool_pool_size"]
	if !ok || size.GetMetric()[0].GetGauge().GetValue() != 7 {
		t.Fatalf("pool size gauge missing or wrong: %v", size)
	}

	results, ok := families["proxypool_validation_results_total"]
	if !ok {
		t.Fatal("validation counter missing")
	}
	found := false
	for _, m := range results.GetMetric() {
		if m.GetLabel()[0].GetValue() == "valid" {
			found = true
			if m.GetCounter().GetValue() != before {
				t.Fatalf("valid counter = %v, want %v", m.GetCounter().GetValue(), before)
			}
		}
	}
	if !found {
		t.Fatal("valid label missing from validation counter")
	}
}

func TestCounterIgnoresNegativeDelta(t *testing.T) {
	c := newCounterVec("test_total", "test", "kind")
	c.Add("a", 3)
	c.Add("a", -1)
	if got := c.Value("a"); got != 3 {
		t.Fatalf("counter = %v, want 3", got)
	}
}

func TestWriteSkipsCountersWithoutSamples(t *testing.T) {
	original := counters
	t.Cleanup(func() { counters = original })

	used := newCounterVec("test_used_total", "Used.", "kind")
	used.Inc("a")
	idle := newCounterVec("test_idle_total", "Never incremented.", "kind")
	counters = []*CounterVec{used, idle}

	var buf bytes.Buffer
	if err := Write(&buf); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(&buf)
	if err != nil {
		t.Fatalf("exposition did not parse: %v", err)
	}
	if _, ok := families["test_idle_total"]; ok {
		t.Fatal("empty counter family was written")
	}
	if got := families["test_used_total"].GetMetric()[0].GetCounter().GetValue(); got != 1 {
		t.Fatalf("used counter = %v, want 1", got)
	}
}
