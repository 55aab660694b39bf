package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/justsurfingit/career-tracker/internal/models"
	"github.com/justsurfingit/career-tracker/internal/stats"
)

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// GinMiddleware records request counts and latency. Unmatched routes are
// grouped under "unmatched" to keep label cardinality bounded.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// JobLister is the read side of the persistence gateway.
type JobLister interface {
	List(ctx context.Context) ([]models.Job, error)
}

// JobsCollector reports the number of jobs per status, read from the store
// at scrape time.
type JobsCollector struct {
	store   JobLister
	log     *zap.Logger
	timeout time.Duration
	desc    *prometheus.Desc
}

func NewJobsCollector(store JobLister, log *zap.Logger) *JobsCollector {
	return &JobsCollector{
		store:   store,
		log:     log,
		timeout: 5 * time.Second,
		desc: prometheus.NewDesc(
			"career_jobs",
			"Number of tracked job applications by status",
			[]string{"status"}, nil,
		),
	}
}

func (c *JobsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *JobsCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	jobs, err := c.store.List(ctx)
	if err != nil {
		c.log.Warn("jobs collector: list failed", zap.Error(err))
		return
	}

	summary := stats.Summarize(jobs)
	for _, s := range models.Statuses() {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(summary.ByStatus[s]), string(s))
	}
}

// Register adds the HTTP metrics and the jobs collector to reg.
func Register(reg prometheus.Registerer, store JobLister, log *zap.Logger) error {
	for _, c := range []prometheus.Collector{HTTPRequests, HTTPRequestDuration, NewJobsCollector(store, log)} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
