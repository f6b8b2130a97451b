// Package metrics содержит счётчики Prometheus движка продаж.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics объединяет метрики HTTP-слоя и исходов продаж.
type Metrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec

	SalesCommitted prometheus.Counter
	SalesRejected  *prometheus.CounterVec
}

// New создаёт и регистрирует метрики в реестре по умолчанию.
func New(service string) *Metrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pos",
		Subsystem: service,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})

	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pos",
		Subsystem: service,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})

	committed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pos",
		Subsystem: service,
		Name:      "sales_committed_total",
		Help:      "Total number of committed sales.",
	})

	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pos",
		Subsystem: service,
		Name:      "sales_rejected_total",
		Help:      "Total number of rejected sale attempts by error code.",
	}, []string{"code"})

	prometheus.MustRegister(requests, latency, committed, rejected)

	return &Metrics{
		Requests:       requests,
		LatencyMS:      latency,
		SalesCommitted: committed,
		SalesRejected:  rejected,
	}
}

// Handler возвращает HTTP-обработчик экспорта метрик.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware учитывает количество и длительность запросов по шаблону
// маршрута, чтобы кардинальность метрик оставалась ограниченной.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		var pattern string
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			pattern = rctx.RoutePattern()
		}
		if pattern == "" {
			pattern = "unmatched"
		}

		m.Requests.WithLabelValues(pattern, strconv.Itoa(ww.Status())).Inc()
		m.LatencyMS.WithLabelValues(pattern).Observe(float64(time.Since(start).Milliseconds()))
	})
}
