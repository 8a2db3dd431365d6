// Package metrics exports edge-runtime counters, gauges, and histograms
// to Prometheus, following the adapter shape of shardcache's metrics/prom
// package: one struct holding every collector, constructed once with an
// injectable prometheus.Registerer so tests can use a private registry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every collector one edge registers.
type Metrics struct {
	CacheHits       *prometheus.CounterVec
	CacheMisses     prometheus.Counter
	Evictions       *prometheus.CounterVec
	DirectoryBusy   prometheus.Counter
	WritelockBusy   prometheus.Counter
	TransportTimeouts prometheus.Counter
	UnknownMessages prometheus.Counter

	DirectoryEntries prometheus.Gauge
	VictimSetSize    prometheus.Gauge

	KeyLockWait prometheus.Histogram
}

// New builds and registers a full Metrics set against reg. Pass nil to
// use prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer, constLabels prometheus.Labels) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "covered",
			Name:        "cache_hits_total",
			Help:        "GET requests by outcome kind: local and cooperative hits, and cooperative_invalid when the directory-named owner no longer held the key and the value came from the cloud.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "covered",
			Name:        "cache_misses_total",
			Help:        "Requests that fell through to the cloud backing store.",
			ConstLabels: constLabels,
		}),
		Evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "covered",
			Name:        "evictions_total",
			Help:        "Local cache evictions by reason.",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		DirectoryBusy: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "covered",
			Name:        "directory_busy_total",
			Help:        "Directory requests that found the key mid-write.",
			ConstLabels: constLabels,
		}),
		WritelockBusy: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "covered",
			Name:        "writelock_busy_total",
			Help:        "Write-lock acquisitions that lost to a concurrent holder.",
			ConstLabels: constLabels,
		}),
		TransportTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "covered",
			Name:        "transport_timeouts_total",
			Help:        "Peer requests that timed out waiting for a reply.",
			ConstLabels: constLabels,
		}),
		UnknownMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "covered",
			Name:        "unknown_message_total",
			Help:        "Frames rejected for carrying an unrecognized message type.",
			ConstLabels: constLabels,
		}),
		DirectoryEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "covered",
			Name:        "directory_entries",
			Help:        "Keys presently tracked by this edge's beacon directory table.",
			ConstLabels: constLabels,
		}),
		VictimSetSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "covered",
			Name:        "victim_set_size",
			Help:        "Keys presently tracked live by this edge's victim tracker.",
			ConstLabels: constLabels,
		}),
		KeyLockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "covered",
			Name:        "key_lock_wait_seconds",
			Help:        "Time spent waiting to acquire a per-key lock.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.CacheHits, m.CacheMisses, m.Evictions, m.DirectoryBusy, m.WritelockBusy,
		m.TransportTimeouts, m.UnknownMessages, m.DirectoryEntries, m.VictimSetSize, m.KeyLockWait,
	)
	return m
}
