package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "shotread"

// PlayerMetrics instruments the player lifecycle manager.
// A nil *PlayerMetrics is valid and records nothing.
type PlayerMetrics struct {
	watchdogStarts  prometheus.Counter
	watchdogActive  prometheus.Gauge
	thresholdStops  prometheus.Counter
	stopEscalations prometheus.Counter
	initAttempts    prometheus.Counter
	initStalled     prometheus.Counter
	commandsIgnored *prometheus.CounterVec
	faults          prometheus.Counter
	widgetBuilds    *prometheus.CounterVec
}

// NewPlayerMetrics creates player collectors and registers them on reg
func NewPlayerMetrics(reg prometheus.Registerer) *PlayerMetrics {
	m := &PlayerMetrics{
		watchdogStarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "player",
			Name: "watchdog_starts_total",
			Help: "Watchdog polling loops started",
		}),
		watchdogActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "player",
			Name: "watchdog_active",
			Help: "Watchdog polling loops currently alive (0 or 1)",
		}),
		thresholdStops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "player",
			Name: "threshold_stops_total",
			Help: "Playback pauses issued because the stop threshold was crossed",
		}),
		stopEscalations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "player",
			Name: "stop_escalations_total",
			Help: "Pauses escalated to stop because the widget kept playing",
		}),
		initAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "player",
			Name: "init_attempts_total",
			Help: "Widget construction attempts",
		}),
		initStalled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "player",
			Name: "init_stalled_total",
			Help: "Widget constructions abandoned after the retry bound",
		}),
		commandsIgnored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "player",
			Name: "commands_ignored_total",
			Help: "Commands dropped because the player was not ready",
		}, []string{"command"}),
		faults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "player",
			Name: "faults_total",
			Help: "Load or playback faults reported by the widget",
		}),
		widgetBuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "player",
			Name: "item_loads_total",
			Help: "Item loads by strategy",
		}, []string{"mode"}), // "initial", "in_place", "rebuild"
	}
	if reg != nil {
		reg.MustRegister(m.watchdogStarts, m.watchdogActive, m.thresholdStops, m.stopEscalations,
			m.initAttempts, m.initStalled, m.commandsIgnored, m.faults, m.widgetBuilds)
	}
	return m
}

func (m *PlayerMetrics) WatchdogStarted() {
	if m == nil {
		return
	}
	m.watchdogStarts.Inc()
	m.watchdogActive.Set(1)
}

func (m *PlayerMetrics) WatchdogStopped() {
	if m == nil {
		return
	}
	m.watchdogActive.Set(0)
}

func (m *PlayerMetrics) ThresholdStop() {
	if m != nil {
		m.thresholdStops.Inc()
	}
}

func (m *PlayerMetrics) StopEscalated() {
	if m != nil {
		m.stopEscalations.Inc()
	}
}

func (m *PlayerMetrics) InitAttempt() {
	if m != nil {
		m.initAttempts.Inc()
	}
}

func (m *PlayerMetrics) InitStalled() {
	if m != nil {
		m.initStalled.Inc()
	}
}

func (m *PlayerMetrics) CommandIgnored(command string) {
	if m != nil {
		m.commandsIgnored.WithLabelValues(command).Inc()
	}
}

func (m *PlayerMetrics) Fault() {
	if m != nil {
		m.faults.Inc()
	}
}

func (m *PlayerMetrics) ItemLoaded(mode string) {
	if m != nil {
		m.widgetBuilds.WithLabelValues(mode).Inc()
	}
}

// SessionMetrics instruments the session orchestrator.
// A nil *SessionMetrics is valid and records nothing.
type SessionMetrics struct {
	sessions         prometheus.Counter
	answers          *prometheus.CounterVec
	completions      prometheus.Counter
	blackouts        prometheus.Counter
	blackoutTimeouts prometheus.Counter
	reshuffles       prometheus.Counter
	skipped          prometheus.Counter
	score            prometheus.Gauge
	attempts         prometheus.Gauge
}

// NewSessionMetrics creates session collectors and registers them on reg
func NewSessionMetrics(reg prometheus.Registerer) *SessionMetrics {
	m := &SessionMetrics{
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session",
			Name: "started_total",
			Help: "Sessions started or restarted",
		}),
		answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session",
			Name: "answers_total",
			Help: "Answers by outcome and whether they counted toward the score",
		}, []string{"outcome", "counted"}),
		completions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session",
			Name: "completions_total",
			Help: "Sessions that reached the complete phase",
		}),
		blackouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session",
			Name: "blackouts_total",
			Help: "Blackout countdowns started",
		}),
		blackoutTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session",
			Name: "blackout_timeouts_total",
			Help: "Blackout countdowns that expired unanswered",
		}),
		reshuffles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session",
			Name: "reshuffles_total",
			Help: "Queue reshuffles after the queue was exhausted",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session",
			Name: "items_skipped_total",
			Help: "Items skipped after a playback fault",
		}),
		score: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "session",
			Name: "correct_count",
			Help: "Correct first attempts in the current session",
		}),
		attempts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "session",
			Name: "attempts_counted",
			Help: "Counted first attempts in the current session",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.sessions, m.answers, m.completions, m.blackouts, m.blackoutTimeouts,
			m.reshuffles, m.skipped, m.score, m.attempts)
	}
	return m
}

func (m *SessionMetrics) SessionStarted() {
	if m != nil {
		m.sessions.Inc()
	}
}

func (m *SessionMetrics) Answer(correct, counted bool) {
	if m == nil {
		return
	}
	outcome := "incorrect"
	if correct {
		outcome = "correct"
	}
	m.answers.WithLabelValues(outcome, strconv.FormatBool(counted)).Inc()
}

func (m *SessionMetrics) Completed() {
	if m != nil {
		m.completions.Inc()
	}
}

func (m *SessionMetrics) BlackoutStarted() {
	if m != nil {
		m.blackouts.Inc()
	}
}

func (m *SessionMetrics) BlackoutExpired() {
	if m != nil {
		m.blackoutTimeouts.Inc()
	}
}

func (m *SessionMetrics) Reshuffled() {
	if m != nil {
		m.reshuffles.Inc()
	}
}

func (m *SessionMetrics) ItemSkipped() {
	if m != nil {
		m.skipped.Inc()
	}
}

func (m *SessionMetrics) Score(correct, attempts int) {
	if m == nil {
		return
	}
	m.score.Set(float64(correct))
	m.attempts.Set(float64(attempts))
}

// HTTPMetrics tracks control API traffic
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewHTTPMetrics creates HTTP collectors and registers them on reg
func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "api",
			Name: "requests_total",
			Help: "Control API requests",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "api",
			Name:    "request_duration_seconds",
			Help:    "Control API request latency",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"method", "route"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.duration)
	}
	return m
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request counts and latency.
// route maps a request to a bounded label value.
func (m *HTTPMetrics) Middleware(route func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			label := route(r)
			m.requests.WithLabelValues(r.Method, label, strconv.Itoa(rec.status)).Inc()
			m.duration.WithLabelValues(r.Method, label).Observe(time.Since(start).Seconds())
		})
	}
}
