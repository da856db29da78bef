// Package metrics exposes the Prometheus instrumentation this service
// carries as ambient infrastructure regardless of spec.md's feature
// Non-goals: request counts, transaction latency, and descriptor search
// latency, scraped from a dedicated /metrics endpoint. Grounded on
// etalazz-vsa/internal/ratelimiter/telemetry/churn/prom_counters.go's
// posture - global-only counters/histograms (no unbounded label
// cardinality), eager registration in init, a tiny dedicated HTTP server
// for the endpoint - generalized from write-churn KPIs to this service's
// own request/transaction/search KPIs.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	commandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vdms_commands_total",
		Help: "Total commands dispatched, labeled by command name and outcome status",
	}, []string{"command", "status"})

	activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vdms_active_sessions",
		Help: "Number of sessions currently owned by a worker",
	})

	transactionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "vdms_graph_transaction_seconds",
		Help:    "Duration of a single command handler call",
		Buckets: prometheus.DefBuckets,
	})

	descriptorSearchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vdms_descriptor_search_seconds",
		Help:    "Duration of a descriptor-set search/radius_search/classify call, labeled by engine",
		Buckets: prometheus.DefBuckets,
	}, []string{"engine"})

	autodeleteSweepsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vdms_autodelete_entities_total",
		Help: "Total entities removed by the expiration sweep",
	})

	snapshotFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vdms_autoreplicate_failures_total",
		Help: "Total failed autoreplicate snapshot runs",
	})
)

func init() {
	prometheus.MustRegister(
		commandsTotal,
		activeSessions,
		transactionDuration,
		descriptorSearchDuration,
		autodeleteSweepsTotal,
		snapshotFailuresTotal,
	)
}

// ObserveCommand records one dispatched command's outcome, keyed by its
// wire status code (spec.md §6: Success/Empty/Exists/Error/NotUnique).
func ObserveCommand(command string, status int) {
	commandsTotal.WithLabelValues(command, statusLabel(status)).Inc()
}

// SessionStarted / SessionEnded track the worker-owned session gauge of
// spec.md §5's bounded worker pool.
func SessionStarted() { activeSessions.Inc() }
func SessionEnded()   { activeSessions.Dec() }

// ObserveTransaction records one command handler's duration.
func ObserveTransaction(d time.Duration) {
	transactionDuration.Observe(d.Seconds())
}

// ObserveDescriptorSearch records one descriptor-set search/radius_search/
// classify call's duration against the named engine variant.
func ObserveDescriptorSearch(engine string, d time.Duration) {
	descriptorSearchDuration.WithLabelValues(engine).Observe(d.Seconds())
}

// ObserveAutodeleteSweep records how many entities one autodelete sweep
// removed.
func ObserveAutodeleteSweep(removed int64) {
	autodeleteSweepsTotal.Add(float64(removed))
}

// ObserveSnapshotFailure records one failed autoreplicate run.
func ObserveSnapshotFailure() {
	snapshotFailuresTotal.Inc()
}

func statusLabel(status int) string {
	switch status {
	case 0:
		return "success"
	case 1:
		return "empty"
	case 2:
		return "exists"
	case 3:
		return "not_unique"
	default:
		return "error"
	}
}

// Serve starts a dedicated HTTP server exposing /metrics on addr and
// blocks until ctx is canceled, then shuts the server down gracefully -
// the same "tiny dedicated server for /metrics" posture prom_counters.go
// uses, generalized to participate in this service's own graceful
// shutdown instead of running detached forever.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
