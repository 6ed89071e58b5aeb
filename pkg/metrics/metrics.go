package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const namespace = "review_scraper"

var (
	CompaniesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "companies_total", Help: "Company crawls by terminal status and reason."},
		[]string{"status", "reason"},
	)
	ReviewsExtracted = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "reviews_extracted_total", Help: "Review records extracted."},
	)
	ReviewFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "review_failures_total", Help: "Review cards that could not be extracted."},
		[]string{"reason"},
	)
	PagesCrawled = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "pages_crawled_total", Help: "Review pages accepted by pagination."},
	)
	FetchRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "fetch_requests_total", Help: "Outbound page fetch attempts."},
		[]string{"backend", "status"},
	)
	FetchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace, Name: "fetch_duration_seconds",
			Help:    "Outbound page fetch attempt duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)
	CompanyLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace, Name: "company_crawl_duration_seconds",
			Help:    "Wall time of one company crawl.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)
)

// InitRegistry registers every collector on a fresh registry.
func InitRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(CompaniesTotal, ReviewsExtracted, ReviewFailures, PagesCrawled,
		FetchRequests, FetchLatency, CompanyLatency)
	return reg
}

func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Serve exposes reg on addr under /metrics until ctx is cancelled. An empty addr disables it.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry, log *logrus.Entry) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler(reg))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.WithField("addr", addr).Info("Metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Metrics server failed: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

// ObserveFetch records one fetch attempt. status is the HTTP status code, or 0 when
// no response arrived.
func ObserveFetch(backend string, status int, dur time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	FetchRequests.WithLabelValues(backend, label).Inc()
	FetchLatency.WithLabelValues(backend).Observe(dur.Seconds())
}

// ObserveCompany records a finished company crawl.
func ObserveCompany(status, reason string, reviews, pages int, dur time.Duration) {
	if reason == "" {
		reason = "none"
	}
	CompaniesTotal.WithLabelValues(status, reason).Inc()
	ReviewsExtracted.Add(float64(reviews))
	PagesCrawled.Add(float64(pages))
	CompanyLatency.Observe(dur.Seconds())
}

func ObserveReviewFailure(reason string) {
	ReviewFailures.WithLabelValues(reason).Inc()
}
