package httptransport

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/TimTinkers/Item-Ascension-Server/internal/pkg/logging"
)

const headerRequestID = "X-Request-ID"

// Metrics are the HTTP-level counters and histograms, labeled with the route
// template rather than the raw path to keep cardinality bounded.
type Metrics struct {
	Requests *prometheus.CounterVec   // http_requests_total{method,route,status}
	Duration *prometheus.HistogramVec // http_request_duration_seconds{method,route}
}

// observe wraps one route with request-id generation, request-scoped logger
// injection, and HTTP metrics.
func observe(base *zap.Logger, metrics *Metrics, route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(headerRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(headerRequestID, requestID)

		logger := base.With(
			zap.String("request_id", requestID),
			zap.String("route", route),
		)
		ctx := logging.ContextWithLogger(r.Context(), logger)

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r.WithContext(ctx))

		status := strconv.Itoa(recorder.status)
		if metrics != nil && metrics.Requests != nil {
			metrics.Requests.WithLabelValues(r.Method, route, status).Inc()
		}
		if metrics != nil && metrics.Duration != nil {
			metrics.Duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
