// Package metrics collects and exposes RPC server observability data.
//
// # Design rationale
//
// Two metric stores coexist in this package:
//
//  1. The in-process Metrics struct (global + per-action counters) backing
//     the caller-supplied GetMetrics() snapshot rendered at GET /metrics in
//     the exposition-text subset the action handler protocol requires.
//  2. A Prometheus registry (prometheus.go) for scraping by external
//     monitoring systems (Grafana, Alertmanager, etc.) at GET /metrics/prom.
//
// The bespoke snapshot endpoint lets callers add arbitrary named gauges at
// runtime with no registration ceremony; the Prometheus registry mirrors
// whatever names show up in a snapshot into dynamically created Gauges,
// so both stores expose the same numbers under the same grammar.
//
// # Concurrency — hot path
//
// RecordExec is called on every RPC exec call and must be as fast as
// possible. It uses atomic increments for global counters and takes the
// per-action map's mutex only to look up or create the action's counter
// struct, never while updating a counter's value.
//
// # Invariants
//
//   - TotalExecs == SuccessExecs + ErrorExecs (maintained by RecordExec).
package metrics

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects RPC server exec-call counters, both globally and
// per-action.
type Metrics struct {
	TotalExecs     atomic.Int64
	SuccessExecs   atomic.Int64
	ErrorExecs     atomic.Int64
	TotalLatencyMs atomic.Int64

	mu       sync.Mutex
	byAction map[string]*actionCounters

	startTime time.Time
}

type actionCounters struct {
	total   atomic.Int64
	errors  atomic.Int64
	latency atomic.Int64
}

// New creates an empty Metrics collector.
func New() *Metrics {
	return &Metrics{byAction: make(map[string]*actionCounters), startTime: time.Now()}
}

// RecordExec records the outcome of a single exec call against action.
func (m *Metrics) RecordExec(action string, durationMs int64, success bool) {
	m.TotalExecs.Add(1)
	m.TotalLatencyMs.Add(durationMs)
	if success {
		m.SuccessExecs.Add(1)
	} else {
		m.ErrorExecs.Add(1)
	}

	ac := m.getActionCounters(action)
	ac.total.Add(1)
	ac.latency.Add(durationMs)
	if !success {
		ac.errors.Add(1)
	}
}

func (m *Metrics) getActionCounters(action string) *actionCounters {
	m.mu.Lock()
	ac, ok := m.byAction[action]
	if !ok {
		ac = &actionCounters{}
		m.byAction[action] = ac
	}
	m.mu.Unlock()
	return ac
}

// Snapshot produces the flat metric-name -> value map GET /metrics renders
// as exposition text. Names are free-form; NormalizeName applies the
// app_<lowercase>_<underscored> grammar at render time.
func (m *Metrics) Snapshot() map[string]float64 {
	snap := map[string]float64{
		"uptime_seconds":       time.Since(m.startTime).Seconds(),
		"execs_total":          float64(m.TotalExecs.Load()),
		"execs_success_total":  float64(m.SuccessExecs.Load()),
		"execs_error_total":    float64(m.ErrorExecs.Load()),
	}
	if total := m.TotalExecs.Load(); total > 0 {
		snap["exec_latency_ms_avg"] = float64(m.TotalLatencyMs.Load()) / float64(total)
	}

	m.mu.Lock()
	actions := make(map[string]*actionCounters, len(m.byAction))
	for k, v := range m.byAction {
		actions[k] = v
	}
	m.mu.Unlock()

	for action, ac := range actions {
		prefix := "action_" + action
		total := ac.total.Load()
		snap[prefix+"_total"] = float64(total)
		snap[prefix+"_errors_total"] = float64(ac.errors.Load())
		if total > 0 {
			snap[prefix+"_latency_ms_avg"] = float64(ac.latency.Load()) / float64(total)
		}
	}
	return snap
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeName maps an arbitrary metric name to the app_[a-z0-9_]+ form
// the exposition format requires: lowercase, non-alphanumeric runs
// collapsed to a single underscore, leading/trailing underscores trimmed.
func NormalizeName(name string) string {
	lowered := strings.ToLower(name)
	replaced := nonAlnum.ReplaceAllString(lowered, "_")
	trimmed := strings.Trim(replaced, "_")
	return "app_" + trimmed
}

// RenderExpositionText renders a metric snapshot in the minimal Prometheus
// exposition-format subset GET /metrics emits: for each entry, a
// "# TYPE <name> gauge" line followed by "<name> <value>". A non-finite
// value is rejected so the caller can answer 500, per the endpoint's
// failure mode.
func RenderExpositionText(snapshot map[string]float64) (string, error) {
	names := make([]string, 0, len(snapshot))
	for n := range snapshot {
		names = append(names, n)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, raw := range names {
		v := snapshot[raw]
		if isNonFinite(v) {
			return "", fmt.Errorf("metric %q has non-finite value %v", raw, v)
		}
		name := NormalizeName(raw)
		fmt.Fprintf(&b, "# TYPE %s gauge\n%s %s\n", name, name, strconv.FormatFloat(v, 'g', -1, 64))
	}
	return b.String(), nil
}

func isNonFinite(v float64) bool {
	return v != v || v > maxFinite || v < -maxFinite
}

// maxFinite is math.MaxFloat64, inlined to avoid importing math for a
// single comparison constant.
const maxFinite = 1.7976931348623157e+308
