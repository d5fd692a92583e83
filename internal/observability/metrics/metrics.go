package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates in-memory metrics counters and gauges for HTTP
// requests, broadcast provisioning, go-live transition attempts, and session
// lifecycle events. It coordinates concurrent writers via a RWMutex while
// exposing a thread-safe gauge for active session tracking.
type Recorder struct {
	mu                 sync.RWMutex
	requestCount       map[requestLabel]uint64
	requestDuration    map[requestLabel]time.Duration
	provisionAttempts  map[string]uint64
	provisionFailures  map[string]uint64
	transitionAttempts uint64
	transitionOutcomes map[string]uint64
	sessionEvents      map[string]uint64
	activeSessions     atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:       make(map[requestLabel]uint64),
		requestDuration:    make(map[requestLabel]time.Duration),
		provisionAttempts:  make(map[string]uint64),
		provisionFailures:  make(map[string]uint64),
		transitionOutcomes: make(map[string]uint64),
		sessionEvents:      make(map[string]uint64),
	}
}

// Default returns the singleton Recorder instance shared across helper
// functions for packages that do not require custom instrumentation pipelines.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// ObserveProvisionAttempt counts one remote provisioning operation by name
// (e.g. "insert_broadcast", "bind").
func (r *Recorder) ObserveProvisionAttempt(operation string) {
	normalized := normalizeLabel(operation)
	r.mu.Lock()
	r.provisionAttempts[normalized]++
	r.mu.Unlock()
}

// ObserveProvisionFailure counts one failed remote provisioning operation.
func (r *Recorder) ObserveProvisionFailure(operation string) {
	normalized := normalizeLabel(operation)
	r.mu.Lock()
	r.provisionFailures[normalized]++
	r.mu.Unlock()
}

// ObserveTransitionAttempt counts one go-live transition request issued to
// the remote platform.
func (r *Recorder) ObserveTransitionAttempt() {
	r.mu.Lock()
	r.transitionAttempts++
	r.mu.Unlock()
}

// ObserveTransitionOutcome counts the terminal outcome of one transition
// sequence ("live", "partially_live", or "failed").
func (r *Recorder) ObserveTransitionOutcome(outcome string) {
	normalized := normalizeLabel(outcome)
	r.mu.Lock()
	r.transitionOutcomes[normalized]++
	r.mu.Unlock()
}

// SessionStarted records a session-start lifecycle event and increments the
// active session gauge.
func (r *Recorder) SessionStarted() {
	r.incrementSessionEvent("start")
	r.activeSessions.Add(1)
}

// SessionEnded records a session-end lifecycle event and decrements the
// active session gauge, guarding against negative counts.
func (r *Recorder) SessionEnded() {
	r.incrementSessionEvent("end")
	for {
		current := r.activeSessions.Load()
		if current <= 0 {
			return
		}
		if r.activeSessions.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func (r *Recorder) incrementSessionEvent(event string) {
	normalized := normalizeLabel(event)
	r.mu.Lock()
	r.sessionEvents[normalized]++
	r.mu.Unlock()
}

// ActiveSessions exposes the current active session gauge value.
func (r *Recorder) ActiveSessions() int64 {
	return r.activeSessions.Load()
}

// TransitionCounts returns the attempt total and per-outcome counts recorded
// so far. Intended for tests and diagnostics.
func (r *Recorder) TransitionCounts() (attempts uint64, outcomes map[string]uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	outcomes = make(map[string]uint64, len(r.transitionOutcomes))
	for key, value := range r.transitionOutcomes {
		outcomes[key] = value
	}
	return r.transitionAttempts, outcomes
}

// ProvisionCounts returns per-operation attempt and failure counts.
func (r *Recorder) ProvisionCounts() (attempts map[string]uint64, failures map[string]uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	attempts = make(map[string]uint64, len(r.provisionAttempts))
	for key, value := range r.provisionAttempts {
		attempts[key] = value
	}
	failures = make(map[string]uint64, len(r.provisionFailures))
	for key, value := range r.provisionFailures {
		failures[key] = value
	}
	return attempts, failures
}

// Reset clears all recorded metrics. Intended for tests.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.provisionAttempts = make(map[string]uint64)
	r.provisionFailures = make(map[string]uint64)
	r.transitionAttempts = 0
	r.transitionOutcomes = make(map[string]uint64)
	r.sessionEvents = make(map[string]uint64)
	r.mu.Unlock()
	r.activeSessions.Store(0)
}

// Handler serves the recorded metrics in Prometheus text exposition format.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting
// label sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	provisionOps := r.sortedProvisionOperations()
	outcomes := sortedKeys(r.transitionOutcomes)
	sessionEvents := sortedKeys(r.sessionEvents)

	fmt.Fprintln(w, "# HELP openair_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE openair_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "openair_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP openair_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE openair_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "openair_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP openair_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE openair_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "openair_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP openair_provision_attempts_total Remote provisioning operations attempted by action")
	fmt.Fprintln(w, "# TYPE openair_provision_attempts_total counter")
	for _, op := range provisionOps {
		fmt.Fprintf(w, "openair_provision_attempts_total{operation=\"%s\"} %d\n", op, r.provisionAttempts[op])
	}

	fmt.Fprintln(w, "# HELP openair_provision_failures_total Remote provisioning operation failures by action")
	fmt.Fprintln(w, "# TYPE openair_provision_failures_total counter")
	for _, op := range provisionOps {
		fmt.Fprintf(w, "openair_provision_failures_total{operation=\"%s\"} %d\n", op, r.provisionFailures[op])
	}

	fmt.Fprintln(w, "# HELP openair_transition_attempts_total Go-live transition requests issued to the platform")
	fmt.Fprintln(w, "# TYPE openair_transition_attempts_total counter")
	fmt.Fprintf(w, "openair_transition_attempts_total %d\n", r.transitionAttempts)

	fmt.Fprintln(w, "# HELP openair_transition_outcomes_total Terminal outcomes of go-live transition sequences")
	fmt.Fprintln(w, "# TYPE openair_transition_outcomes_total counter")
	for _, outcome := range outcomes {
		fmt.Fprintf(w, "openair_transition_outcomes_total{outcome=\"%s\"} %d\n", outcome, r.transitionOutcomes[outcome])
	}

	fmt.Fprintln(w, "# HELP openair_session_events_total Live session lifecycle events by type")
	fmt.Fprintln(w, "# TYPE openair_session_events_total counter")
	for _, event := range sessionEvents {
		fmt.Fprintf(w, "openair_session_events_total{event=\"%s\"} %d\n", event, r.sessionEvents[event])
	}

	fmt.Fprintln(w, "# HELP openair_active_sessions Current number of live sessions")
	fmt.Fprintln(w, "# TYPE openair_active_sessions gauge")
	fmt.Fprintf(w, "openair_active_sessions %d\n", r.activeSessions.Load())
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedProvisionOperations() []string {
	ops := make(map[string]struct{}, len(r.provisionAttempts)+len(r.provisionFailures))
	for op := range r.provisionAttempts {
		ops[op] = struct{}{}
	}
	for op := range r.provisionFailures {
		ops[op] = struct{}{}
	}
	keys := make([]string, 0, len(ops))
	for op := range ops {
		keys = append(keys, op)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// normalizePath collapses path segments that look like identifiers so metric
// cardinality stays bounded.
func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) < 8 {
		return false
	}
	digits := 0
	for _, r := range segment {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '-', r == '_':
		default:
			return false
		}
	}
	return digits > 0
}
