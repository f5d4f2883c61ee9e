// Package obsmetrics exposes process-level Prometheus metrics for the
// bridge and orchestrator binaries. These are ambient operational counters,
// distinct from the append-only JSONL domain metrics the orchestrator's
// state actor writes for each speech job.
package obsmetrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mikqnpi/miqbot/internal/applog"
)

var (
	SessionsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_sessions_accepted_total",
		Help: "Total sessions that completed the handshake successfully.",
	})
	SessionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_sessions_rejected_total",
		Help: "Total sessions rejected during handshake, by reason.",
	}, []string{"reason"})
	ActiveSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bridge_active_sessions",
		Help: "Current number of connected sessions by role.",
	}, []string{"role"})
	OrchestratorSlots = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_orchestrator_slots_in_use",
		Help: "Current number of acquired orchestrator subscription slots.",
	})
	TelemetryPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_telemetry_published_total",
		Help: "Total telemetry frames accepted into the broadcast slot (post rate-limit).",
	})
	TelemetryDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_telemetry_rate_limited_total",
		Help: "Total telemetry frames dropped by the relay-interval rate limit.",
	})
	PendingActions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_pending_actions",
		Help: "Current number of in-flight actions awaiting a terminal frame.",
	})
	ActionOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_action_outcomes_total",
		Help: "Total action outcomes routed through the hub, by status.",
	}, []string{"status"})
	DecodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_decode_errors_total",
		Help: "Total frames rejected during decode, by stage (handshake, session).",
	}, []string{"stage"})
	SpeechPipelineRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orchestrator_speech_pipeline_runs_total",
		Help: "Total speech jobs that completed the subtitle/tts/audio pipeline.",
	})
	SpeechDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_speech_dropped_total",
		Help: "Total speech jobs dropped before running, by reason.",
	}, []string{"reason"})
	ActionTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_action_timeouts_total",
		Help: "Total action ledger timeouts observed, by kind (ack, result).",
	}, []string{"kind"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// SetReadinessFunc registers the function backing /readyz.
func SetReadinessFunc(fn func() bool) {
	readinessMu.Lock()
	readinessFn = fn
	readinessMu.Unlock()
}

// IsReady reports the current readiness state; true when no function is
// registered yet so early probes don't flap the process.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}

// StartHTTP serves /metrics, /healthz, and /readyz on addr using the
// standard library mux; used by binaries that don't otherwise need a full
// echo router (the bridge mounts the same three routes on its own echo
// instance instead, see internal/bridgeserver's registerRoutes).
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ready"}`))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"not_ready"}`))
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		applog.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			applog.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}
