package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

type poolStat struct {
	desc      *prometheus.Desc
	valueType prometheus.ValueType
	read      func(*pgxpool.Stat) float64
}

// poolCollector reads pgxpool statistics at scrape time, so the values are
// never older than the scrape itself.
type poolCollector struct {
	pool  *pgxpool.Pool
	stats []poolStat
}

// RegisterPoolMetrics registers collectors that report live pgxpool
// connection statistics on every scrape.
func RegisterPoolMetrics(reg prometheus.Registerer, pool *pgxpool.Pool) {
	gauge := func(name, help string, read func(*pgxpool.Stat) float64) poolStat {
		return poolStat{
			desc:      prometheus.NewDesc(name, help, nil, nil),
			valueType: prometheus.GaugeValue,
			read:      read,
		}
	}

	reg.MustRegister(&poolCollector{
		pool: pool,
		stats: []poolStat{
			gauge("semflagz_db_pool_acquired", "Number of currently acquired database connections.",
				func(s *pgxpool.Stat) float64 { return float64(s.AcquiredConns()) }),
			gauge("semflagz_db_pool_idle", "Number of idle database connections in the pool.",
				func(s *pgxpool.Stat) float64 { return float64(s.IdleConns()) }),
			gauge("semflagz_db_pool_total", "Total number of database connections in the pool.",
				func(s *pgxpool.Stat) float64 { return float64(s.TotalConns()) }),
			gauge("semflagz_db_pool_max", "Maximum number of database connections allowed in the pool.",
				func(s *pgxpool.Stat) float64 { return float64(s.MaxConns()) }),
			{
				desc: prometheus.NewDesc("semflagz_db_pool_empty_acquire_total",
					"Acquires that had to wait for a connection because the pool was empty.", nil, nil),
				valueType: prometheus.CounterValue,
				read:      func(s *pgxpool.Stat) float64 { return float64(s.EmptyAcquireCount()) },
			},
		},
	})
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, stat := range c.stats {
		ch <- stat.desc
	}
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	snapshot := c.pool.Stat()
	for _, stat := range c.stats {
		ch <- prometheus.MustNewConstMetric(stat.desc, stat.valueType, stat.read(snapshot))
	}
}
