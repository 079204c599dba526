package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	TasksEnqueuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "assessment_tasks_enqueued_total",
			Help: "Total number of assessment tasks enqueued",
		},
	)
	TasksClaimedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "assessment_tasks_claimed_total",
			Help: "Total number of task claims (including re-claims after lease expiry)",
		},
	)
	TasksCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assessment_tasks_completed_total",
			Help: "Total number of tasks consumed, by outcome",
		},
		[]string{"outcome"},
	)
	TasksDeferredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assessment_tasks_deferred_total",
			Help: "Total number of tasks deferred for retry, by reason",
		},
		[]string{"reason"},
	)
	TasksDeadLetteredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "assessment_tasks_dead_lettered_total",
			Help: "Total number of tasks sidelined to the dead-letter store",
		},
	)
	TasksInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "assessment_tasks_in_flight",
			Help: "Number of tasks currently being processed by this worker",
		},
	)

	DetectionRequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "detection_request_duration_seconds",
			Help:    "AI-detection request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)
	DetectionRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detection_requests_total",
			Help: "Total number of AI-detection requests, by status",
		},
		[]string{"status"},
	)
	DetectionScoreHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "detection_document_score",
			Help:    "Distribution of document scores (0 human, 1 AI)",
			Buckets: []float64{0, 0.25, 0.5, 0.75, 1.0},
		},
	)

	QuotaDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_denials_total",
			Help: "Total number of admission denials, by limit kind",
		},
		[]string{"limit"},
	)

	BatchRollupsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "batch_rollups_total",
			Help: "Total number of batch rollup updates persisted",
		},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(TasksEnqueuedTotal)
	prometheus.MustRegister(TasksClaimedTotal)
	prometheus.MustRegister(TasksCompletedTotal)
	prometheus.MustRegister(TasksDeferredTotal)
	prometheus.MustRegister(TasksDeadLetteredTotal)
	prometheus.MustRegister(TasksInFlight)
	prometheus.MustRegister(DetectionRequestDuration)
	prometheus.MustRegister(DetectionRequestsTotal)
	prometheus.MustRegister(DetectionScoreHistogram)
	prometheus.MustRegister(QuotaDenialsTotal)
	prometheus.MustRegister(BatchRollupsTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

func EnqueueTask() { TasksEnqueuedTotal.Inc() }

func ClaimTask() {
	TasksClaimedTotal.Inc()
	TasksInFlight.Inc()
}

func FinishTask(outcome string) {
	TasksInFlight.Dec()
	TasksCompletedTotal.WithLabelValues(outcome).Inc()
}

func DeferTask(reason string) {
	TasksInFlight.Dec()
	TasksDeferredTotal.WithLabelValues(reason).Inc()
}

func DeadLetterTask() { TasksDeadLetteredTotal.Inc() }

// ObserveDetection records the duration and status of one detection call.
func ObserveDetection(status string, dur time.Duration) {
	DetectionRequestsTotal.WithLabelValues(status).Inc()
	DetectionRequestDuration.Observe(dur.Seconds())
}

// ObserveScore records a completed document's score distribution.
func ObserveScore(score float64) {
	if score >= 0 && score <= 1 {
		DetectionScoreHistogram.Observe(score)
	}
}

func QuotaDenied(limit string) { QuotaDenialsTotal.WithLabelValues(limit).Inc() }
