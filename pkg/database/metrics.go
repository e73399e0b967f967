package database

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

var (
	poolOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "db_pool_open_connections",
		Help: "Number of open connections in the pool",
	})
	poolInUse = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "db_pool_in_use_connections",
		Help: "Number of connections currently in use",
	})
	poolIdle = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "db_pool_idle_connections",
		Help: "Number of idle connections in the pool",
	})
	poolWaitCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "db_pool_wait_total",
		Help: "Total number of connection waits",
	})
)

func init() {
	prometheus.MustRegister(poolOpenConnections, poolInUse, poolIdle, poolWaitCount)
}

// StartPoolMetrics samples connection pool statistics on an interval until
// the stop channel closes.
func StartPoolMetrics(db *gorm.DB, interval time.Duration, stop <-chan struct{}) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		var lastWait int64
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				stats := sqlDB.Stats()
				poolOpenConnections.Set(float64(stats.OpenConnections))
				poolInUse.Set(float64(stats.InUse))
				poolIdle.Set(float64(stats.Idle))
				if delta := stats.WaitCount - lastWait; delta > 0 {
					poolWaitCount.Add(float64(delta))
					lastWait = stats.WaitCount
				}
			}
		}
	}()
}
