package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the last readiness probe succeeded.",
	})

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Identity and audit metrics.
var (
	loginAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	accountLockoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_account_lockouts_total",
		Help: "Accounts that crossed the failed-attempt threshold.",
	})

	sessionsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_sessions_created_total",
		Help: "Sessions issued after a successful login.",
	})

	sessionsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_sessions_rejected_total",
			Help: "Session validations that did not yield a principal.",
		},
		[]string{"reason"},
	)

	mutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entity_mutations_total",
			Help: "Generic entity mutations by entity type and outcome.",
		},
		[]string{"entity", "outcome"},
	)

	auditWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_writes_total",
			Help: "Audit log appends by outcome.",
		},
		[]string{"outcome"},
	)

	auditDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_dropped_total",
		Help: "Audit entries dropped because the async queue was full.",
	})
)

var initOnce sync.Once

// Init registers every collector in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration, readyGauge,
			loginAttemptsTotal, accountLockoutsTotal, sessionsCreatedTotal, sessionsRejectedTotal,
			mutationsTotal, auditWritesTotal, auditDroppedTotal,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady records the outcome of the latest readiness probe.
func SetReady(ok bool) {
	if ok {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// ObserveLogin counts a login attempt by outcome (success, invalid, locked, unavailable).
func ObserveLogin(outcome string) { loginAttemptsTotal.WithLabelValues(outcome).Inc() }

// ObserveLockout counts an account transitioning into the locked state.
func ObserveLockout() { accountLockoutsTotal.Inc() }

// ObserveSessionCreated counts an issued session.
func ObserveSessionCreated() { sessionsCreatedTotal.Inc() }

// ObserveSessionRejected counts a failed validation by reason (invalid, expired, inactive).
func ObserveSessionRejected(reason string) { sessionsRejectedTotal.WithLabelValues(reason).Inc() }

// ObserveMutation counts a mutation attempt for entity by outcome.
func ObserveMutation(entity, outcome string) { mutationsTotal.WithLabelValues(entity, outcome).Inc() }

// ObserveAuditWrite counts an audit append by outcome (ok, error).
func ObserveAuditWrite(outcome string) { auditWritesTotal.WithLabelValues(outcome).Inc() }

// ObserveAuditDropped counts an audit entry discarded by a full queue.
func ObserveAuditDropped() { auditDroppedTotal.Inc() }

// idCollections are the /v1 collections whose second path segment is a record id.
var idCollections = map[string]bool{
	"games":       true,
	"officials":   true,
	"assignments": true,
	"leagues":     true,
	"locations":   true,
	"principals":  true,
}

// CanonicalPath collapses record ids so the path label stays low-cardinality.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	parts := strings.Split(strings.TrimPrefix(raw, "/"), "/")
	if len(parts) == 3 && parts[0] == "v1" && idCollections[parts[1]] && parts[2] != "" {
		return "/v1/" + parts[1] + "/:id"
	}
	return raw
}

// Instrument records RPS, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
