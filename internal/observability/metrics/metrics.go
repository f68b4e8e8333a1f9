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

type sessionLabel struct {
	event string
	label string
}

// Recorder aggregates in-memory metrics counters and gauges for HTTP
// requests, broadcast session lifecycle events, quota enforcement, feeder
// health, and telemetry delivery. It coordinates concurrent writers via a
// RWMutex while exposing a thread-safe gauge for active session tracking.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	sessionEvents   map[sessionLabel]uint64
	activeSessions  atomic.Int64
	quotaStops      atomic.Uint64
	feederSkips     atomic.Uint64
	usageCommits    map[string]uint64
	telemetryEvents map[string]uint64
	uploadBytes     atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		sessionEvents:   make(map[sessionLabel]uint64),
		usageCommits:    make(map[string]uint64),
		telemetryEvents: make(map[string]uint64),
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

// SessionStarted records a start lifecycle event labelled by broadcast mode
// and increments the active session gauge atomically.
func (r *Recorder) SessionStarted(mode string) {
	r.incrementSessionEvent("start", mode)
	r.activeSessions.Add(1)
}

// SessionEnded records an end lifecycle event labelled by outcome and
// decrements the active session gauge, guarding against negative counts when
// concurrent updates race.
func (r *Recorder) SessionEnded(outcome string) {
	r.incrementSessionEvent("end", outcome)
	r.decrementGauge(&r.activeSessions)
}

func (r *Recorder) incrementSessionEvent(event, label string) {
	key := sessionLabel{event: normalizeName(event), label: normalizeName(label)}
	r.mu.Lock()
	r.sessionEvents[key]++
	r.mu.Unlock()
}

// QuotaStop records a session terminated by quota enforcement.
func (r *Recorder) QuotaStop() {
	r.quotaStops.Add(1)
}

// FeederSkip records a playlist entry skipped because the file could not be
// opened or read.
func (r *Recorder) FeederSkip() {
	r.feederSkips.Add(1)
}

// ObserveUsageCommit records a usage batch write keyed by outcome ("ok" or
// "error").
func (r *Recorder) ObserveUsageCommit(outcome string) {
	key := normalizeName(outcome)
	r.mu.Lock()
	r.usageCommits[key]++
	r.mu.Unlock()
}

// ObserveTelemetryEvent records a delivered telemetry event by kind for
// throughput monitoring.
func (r *Recorder) ObserveTelemetryEvent(kind string) {
	key := normalizeName(kind)
	r.mu.Lock()
	r.telemetryEvents[key]++
	r.mu.Unlock()
}

// AddUploadBytes tracks net media library growth; deletions pass a negative
// delta.
func (r *Recorder) AddUploadBytes(delta int64) {
	r.uploadBytes.Add(delta)
}

// ActiveSessions exposes the current gauge of concurrently live broadcasts.
func (r *Recorder) ActiveSessions() int64 {
	return r.activeSessions.Load()
}

// SessionEventCounts returns a copy of the session lifecycle counters for
// testing and reporting purposes.
func (r *Recorder) SessionEventCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]uint64, len(r.sessionEvents))
	for label, value := range r.sessionEvents {
		counts[label.event+"/"+label.label] = value
	}
	return counts
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.sessionEvents = make(map[sessionLabel]uint64)
	r.usageCommits = make(map[string]uint64)
	r.telemetryEvents = make(map[string]uint64)
	r.activeSessions.Store(0)
	r.quotaStops.Store(0)
	r.feederSkips.Store(0)
	r.uploadBytes.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
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
	sessionLabels := r.sortedSessionLabels()
	usageOutcomes := sortedKeys(r.usageCommits)
	telemetryKinds := sortedKeys(r.telemetryEvents)

	fmt.Fprintln(w, "# HELP litecast_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE litecast_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "litecast_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP litecast_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE litecast_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "litecast_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP litecast_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE litecast_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "litecast_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP litecast_session_events_total Broadcast session lifecycle events by type and label")
	fmt.Fprintln(w, "# TYPE litecast_session_events_total counter")
	for _, label := range sessionLabels {
		value := r.sessionEvents[label]
		fmt.Fprintf(w, "litecast_session_events_total{event=\"%s\",label=\"%s\"} %d\n", label.event, label.label, value)
	}

	fmt.Fprintln(w, "# HELP litecast_active_sessions Current number of live broadcast sessions")
	fmt.Fprintln(w, "# TYPE litecast_active_sessions gauge")
	fmt.Fprintf(w, "litecast_active_sessions %d\n", r.activeSessions.Load())

	fmt.Fprintln(w, "# HELP litecast_quota_stops_total Sessions terminated by daily allowance enforcement")
	fmt.Fprintln(w, "# TYPE litecast_quota_stops_total counter")
	fmt.Fprintf(w, "litecast_quota_stops_total %d\n", r.quotaStops.Load())

	fmt.Fprintln(w, "# HELP litecast_feeder_skips_total Playlist entries skipped as unreadable")
	fmt.Fprintln(w, "# TYPE litecast_feeder_skips_total counter")
	fmt.Fprintf(w, "litecast_feeder_skips_total %d\n", r.feederSkips.Load())

	fmt.Fprintln(w, "# HELP litecast_usage_commits_total Usage batch writes by outcome")
	fmt.Fprintln(w, "# TYPE litecast_usage_commits_total counter")
	for _, outcome := range usageOutcomes {
		fmt.Fprintf(w, "litecast_usage_commits_total{outcome=\"%s\"} %d\n", outcome, r.usageCommits[outcome])
	}

	fmt.Fprintln(w, "# HELP litecast_telemetry_events_total Telemetry events delivered by kind")
	fmt.Fprintln(w, "# TYPE litecast_telemetry_events_total counter")
	for _, kind := range telemetryKinds {
		fmt.Fprintf(w, "litecast_telemetry_events_total{kind=\"%s\"} %d\n", kind, r.telemetryEvents[kind])
	}

	fmt.Fprintln(w, "# HELP litecast_media_library_bytes Net bytes stored in user media libraries")
	fmt.Fprintln(w, "# TYPE litecast_media_library_bytes gauge")
	fmt.Fprintf(w, "litecast_media_library_bytes %d\n", r.uploadBytes.Load())
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

func (r *Recorder) sortedSessionLabels() []sessionLabel {
	labels := make([]sessionLabel, 0, len(r.sessionEvents))
	for label := range r.sessionEvents {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].event != labels[j].event {
			return labels[i].event < labels[j].event
		}
		return labels[i].label < labels[j].label
	})
	return labels
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

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
			continue
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 16 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 4
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// SessionStarted increments counters on the default recorder.
func SessionStarted(mode string) {
	defaultRecorder.SessionStarted(mode)
}

// SessionEnded decrements active sessions on the default recorder.
func SessionEnded(outcome string) {
	defaultRecorder.SessionEnded(outcome)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
