package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pool gauges are labelled per worker since every worker owns a pool.
	DBConnectionsOpen = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Open database connections in a worker's pool",
		},
		[]string{"worker"},
	)

	DBConnectionsInUse = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_in_use",
			Help:      "Acquired database connections in a worker's pool",
		},
		[]string{"worker"},
	)

	DBQueryDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBErrors = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_errors_total",
			Help:      "Total number of database errors",
		},
		[]string{"operation", "error_type"},
	)
)

// DBCollector samples one pool's statistics on an interval under the
// worker label it was created with.
type DBCollector struct {
	pool     *pgxpool.Pool
	worker   string
	stopChan chan struct{}
	stopOnce sync.Once
}

func NewDBCollector(pool *pgxpool.Pool, worker string) *DBCollector {
	return &DBCollector{
		pool:     pool,
		worker:   worker,
		stopChan: make(chan struct{}),
	}
}

func (c *DBCollector) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.collect()
	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends sampling and drops the worker's series so a replaced worker
// does not leave stale gauges behind. It is safe to call more than once.
func (c *DBCollector) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
		DBConnectionsOpen.DeleteLabelValues(c.worker)
		DBConnectionsInUse.DeleteLabelValues(c.worker)
	})
}

func (c *DBCollector) collect() {
	if c.pool == nil {
		return
	}
	stat := c.pool.Stat()
	DBConnectionsOpen.WithLabelValues(c.worker).Set(float64(stat.TotalConns()))
	DBConnectionsInUse.WithLabelValues(c.worker).Set(float64(stat.AcquiredConns()))
}

// RecordQuery records the duration of a query and classifies its error.
//
//	start := time.Now()
//	defer func() { metrics.RecordQuery("update_event", start, err) }()
func RecordQuery(operation string, start time.Time, err error) {
	DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err == nil {
		return
	}
	errorType := "query_error"
	switch {
	case errors.Is(err, context.Canceled):
		errorType = "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		errorType = "timeout"
	}
	DBErrors.WithLabelValues(operation, errorType).Inc()
}
