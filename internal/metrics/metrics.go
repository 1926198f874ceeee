// Package metrics keeps the engine counters and renders them in the
// Prometheus text exposition format.
package metrics

import (
	"fmt"
	"io"
	"sort"
	"sync"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

// CounterVec is a monotonically increasing counter partitioned by one label.
type CounterVec struct {
	name  string
	help  string
	label string

	mu     sync.Mutex
	values map[string]float64
}

func newCounterVec(name, help, label string) *CounterVec {
	return &CounterVec{name: name, help: help, label: label, values: make(map[string]float64)}
}

func (c *CounterVec) Inc(value string) {
	c.Add(value, 1)
}

func (c *CounterVec) Add(value string, delta float64) {
	if delta < 0 {
		return
	}
	c.mu.Lock()
	c.values[value] += delta
	c.mu.Unlock()
}

func (c *CounterVec) Value(value string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[value]
}

func (c *CounterVec) family() *dto.MetricFamily {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	mf := &dto.MetricFamily{
		Name: proto.String(c.name),
		Help: proto.String(c.help),
		Type: dto.MetricType_COUNTER.Enum(),
	}
	for _, k := range keys {
		mf.Metric = append(mf.Metric, &dto.Metric{
			Label:   []*dto.LabelPair{{Name: proto.String(c.label), Value: proto.String(k)}},
			Counter: &dto.Counter{Value: proto.Float64(c.values[k])},
		})
	}
	return mf
}

var (
	ValidationResults = newCounterVec("proxypool_validation_results_total",
		"Proxy check outcomes by status.", "status")
	CycleRuns = newCounterVec("proxypool_cycle_runs_total",
		"Completed scheduler cycle iterations.", "cycle")
	CycleErrors = newCounterVec("proxypool_cycle_errors_total",
		"Scheduler cycle steps that failed.", "cycle")
	Feedback = newCounterVec("proxypool_feedback_total",
		"Client feedback calls by resulting action.", "action")
	PoolChanges = newCounterVec("proxypool_pool_changes_total",
		"Records added to or removed from the pool.", "reason")

	counters = []*CounterVec{ValidationResults, CycleRuns, CycleErrors, Feedback, PoolChanges}
)

// Gauge is a point-in-time value sampled when metrics are written.
type Gauge struct {
	Name  string
	Help  string
	Value float64
}

// Gather returns all counters plus the given gauges, sorted by name.
// Counters without any sample are left out; the text format has no way to
// express an empty family.
func Gather(gauges ...Gauge) []*dto.MetricFamily {
	families := make([]*dto.MetricFamily, 0, len(counters)+len(gauges))
	for _, c := range counters {
		mf := c.family()
		if len(mf.Metric) == 0 {
			continue
		}
		families = append(families, mf)
	}
	for _, g := range gauges {
		families = append(families, &dto.MetricFamily{
			Name:   proto.String(g.Name),
			Help:   proto.String(g.Help),
			Type:   dto.MetricType_GAUGE.Enum(),
			Metric: []*dto.Metric{{Gauge: &dto.Gauge{Value: proto.Float64(g.Value)}}},
		})
	}
	sort.Slice(families, func(i, j int) bool {
		return families[i].GetName() < families[j].GetName()
	})
	return families
}

// ContentType is the media type written by Write.
func ContentType() string {
	return string(expfmt.NewFormat(expfmt.TypeTextPlain))
}

func Write(w io.Writer, gauges ...Gauge) error {
	encoder := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range Gather(gauges...) {
		if err := encoder.Encode(mf); err != nil {
			return fmt.Errorf("encode metric %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
