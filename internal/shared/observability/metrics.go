package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions
var (
	GraphModules = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "packt_graph_modules_total",
		Help: "Number of modules in a variant's module graph.",
	}, []string{"variant"})

	GraphEdges = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "packt_graph_edges_total",
		Help: "Number of import edges in a variant's module graph.",
	}, []string{"variant"})

	HandlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "packt_handler_seconds",
		Help:    "Time spent transforming a module in a content handler.",
		Buckets: prometheus.DefBuckets,
	}, []string{"handler"})

	BundlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "packt_bundler_seconds",
		Help:    "Time spent emitting a bundle.",
		Buckets: prometheus.DefBuckets,
	}, []string{"bundler"})

	PlanningDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "packt_planning_seconds",
		Help:    "Time spent coloring and ordering a variant.",
		Buckets: prometheus.DefBuckets,
	}, []string{"variant"})

	BuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "packt_build_seconds",
		Help:    "Wall time of a complete build pass.",
		Buckets: prometheus.DefBuckets,
	})

	BuildFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "packt_build_failures_total",
		Help: "Build passes that ended in error, by error code.",
	}, []string{"code"})

	CacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "packt_cache_hits_total",
		Help: "Content cache hits by entry kind.",
	}, []string{"kind"})

	CacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "packt_cache_misses_total",
		Help: "Content cache misses by entry kind.",
	}, []string{"kind"})

	ScopeIDsAllocatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "packt_scope_ids_allocated_total",
		Help: "Scope ids handed out from the counter rather than the reclaim pool.",
	})

	WatcherEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "packt_watcher_events_total",
		Help: "Total number of file system events received by the watcher.",
	})
)
