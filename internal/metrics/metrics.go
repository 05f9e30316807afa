// Package metrics exposes the marketplace Prometheus collectors.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/assetmarket/internal/domain"
)

const namespace = "assetmarket"

var (
	// Registry holds the application collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Current number of in-flight HTTP requests.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route and status.",
	}, []string{"method", "route", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	}, []string{"method", "route"})

	activities = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "market",
		Name:      "activities_total",
		Help:      "Committed activity feed entries by type.",
	}, []string{"type"})

	sales = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "market",
		Name:      "sales_total",
		Help:      "Committed sales by source.",
	}, []string{"source"})

	saleVolume = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "market",
		Name:      "sale_volume",
		Help:      "Sale volume in display units by currency.",
	}, []string{"currency"})

	platformFees = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "market",
		Name:      "platform_fees",
		Help:      "Platform fees collected in display units by currency.",
	}, []string{"currency"})

	activeListings = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "market",
		Name:      "active_listings",
		Help:      "Listings currently open.",
	})

	sweepRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sweeper",
		Name:      "runs_total",
		Help:      "Sweep passes by result.",
	}, []string{"result"})

	sweepListings = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sweeper",
		Name:      "listings_total",
		Help:      "Listings handled by the sweeper by outcome.",
	}, []string{"outcome"})

	sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "sweeper",
		Name:      "duration_seconds",
		Help:      "Duration of sweep passes.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
	})

	settlements = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "settlement",
		Name:      "outcomes_total",
		Help:      "Settlement executor outcomes.",
	}, []string{"outcome"})

	settlementDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "settlement",
		Name:      "duration_seconds",
		Help:      "Time from dequeue to settled or failed.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
	})

	relayFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "failures_total",
		Help:      "Post-commit side effects that failed, by target.",
	}, []string{"target"})
)

func init() {
	Registry.MustRegister(
		httpInFlight, httpRequests, httpDuration,
		activities, sales, saleVolume, platformFees, activeListings,
		sweepRuns, sweepListings, sweepDuration,
		settlements, settlementDuration,
		relayFailures,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler exposes the registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler records request counts and latency per matched route.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		route := routeLabel(r)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

// RecordActivity counts a committed activity.
func RecordActivity(a domain.Activity) {
	activities.WithLabelValues(string(a.Type)).Inc()
}

// RecordSale counts a committed sale and its volume.
func RecordSale(s domain.Sale) {
	sales.WithLabelValues(string(s.Source)).Inc()
	saleVolume.WithLabelValues(s.Currency).Add(s.SalePrice.Decimal().InexactFloat64())
	platformFees.WithLabelValues(s.Currency).Add(s.PlatformFee.Decimal().InexactFloat64())
}

// SetActiveListings updates the open listing gauge.
func SetActiveListings(n int64) {
	activeListings.Set(float64(n))
}

// RecordSweep records one sweep pass.
func RecordSweep(result string, settled, expired, failed, skipped int, d time.Duration) {
	sweepRuns.WithLabelValues(result).Inc()
	sweepListings.WithLabelValues("settled").Add(float64(settled))
	sweepListings.WithLabelValues("expired").Add(float64(expired))
	sweepListings.WithLabelValues("failed").Add(float64(failed))
	sweepListings.WithLabelValues("skipped").Add(float64(skipped))
	sweepDuration.Observe(d.Seconds())
}

// RecordRelayFailure counts a failed post-commit side effect.
func RecordRelayFailure(target string) {
	relayFailures.WithLabelValues(target).Inc()
}

// SettlementObserver feeds executor outcomes into the settlement metrics.
type SettlementObserver struct{}

// SettlementOutcome implements executor.Observer.
func (SettlementObserver) SettlementOutcome(outcome string, elapsed time.Duration) {
	settlements.WithLabelValues(outcome).Inc()
	if elapsed > 0 {
		settlementDuration.Observe(elapsed.Seconds())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush lets streaming handlers keep working behind the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack keeps websocket upgrades working behind the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func routeLabel(r *http.Request) string {
	if r.Pattern == "" {
		return "unmatched"
	}
	// "GET /api/listings/{id}" -> "/api/listings/{id}"
	if i := strings.IndexByte(r.Pattern, ' '); i >= 0 {
		return r.Pattern[i+1:]
	}
	return r.Pattern
}
