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
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "maxy",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "maxy",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "maxy",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	messagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "maxy",
			Subsystem: "messages",
			Name:      "sent_total",
			Help:      "Messages stored, by attachment type.",
		},
		[]string{"media"},
	)

	mediaBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "maxy",
			Subsystem: "messages",
			Name:      "media_upload_bytes",
			Help:      "Size of uploaded message attachments.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10), // 1KiB to ~256MiB
		},
	)

	liveSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "maxy",
			Subsystem: "live",
			Name:      "subscriptions",
			Help:      "Open conversation subscriptions.",
		},
	)

	liveDeliveries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "maxy",
			Subsystem: "live",
			Name:      "deliveries_total",
			Help:      "Conversation snapshots delivered to subscribers.",
		},
	)

	signIns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "maxy",
			Subsystem: "auth",
			Name:      "signins_total",
			Help:      "Sign-in attempts by identifier kind and result.",
		},
		[]string{"method", "result"},
	)

	accountDeletions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "maxy",
			Subsystem: "auth",
			Name:      "account_deletions_total",
			Help:      "Account deletions by outcome; failures are labelled with the failed step.",
		},
		[]string{"outcome"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		messagesSent,
		mediaBytes,
		liveSubscriptions,
		liveDeliveries,
		signIns,
		accountDeletions,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
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

		path := CanonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordMessageSent counts a stored message. media is "" for text only.
func RecordMessageSent(media string) {
	if media == "" {
		media = "none"
	}
	messagesSent.WithLabelValues(media).Inc()
}

// RecordMediaUpload observes the size of an uploaded attachment.
func RecordMediaUpload(size int) {
	mediaBytes.Observe(float64(size))
}

// LiveSubscriptionOpened and LiveSubscriptionClosed track open subscriptions.
func LiveSubscriptionOpened() { liveSubscriptions.Inc() }

func LiveSubscriptionClosed() { liveSubscriptions.Dec() }

// RecordLiveDelivery counts a snapshot pushed to a subscriber.
func RecordLiveDelivery() { liveDeliveries.Inc() }

// RecordSignIn counts a sign-in attempt. method is "email" or "display_name".
func RecordSignIn(method string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	signIns.WithLabelValues(method, result).Inc()
}

// RecordAccountDeletion counts a deletion. failedStep is "" on success.
func RecordAccountDeletion(failedStep string) {
	outcome := "ok"
	if failedStep != "" {
		outcome = "failed_" + failedStep
	}
	accountDeletions.WithLabelValues(outcome).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Hijack lets websocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// CanonicalPath collapses ids out of a request path so label cardinality
// stays bounded.
func CanonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch {
	case parts[0] == "media":
		return "/media"
	case parts[0] != "api" || len(parts) < 3:
		return "/" + strings.Join(parts, "/")
	}

	switch parts[1] {
	case "users", "messages":
		parts[2] = ":id"
	case "conversations":
		parts[2] = ":peer"
	}
	return "/" + strings.Join(parts, "/")
}
