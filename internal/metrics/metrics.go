package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CacheMetrics tracks the cache coordinator. Labels use the key class
// (catalog, product, stats), never the full key.
type CacheMetrics struct {
	hits          *prometheus.CounterVec
	misses        *prometheus.CounterVec
	errors        *prometheus.CounterVec
	invalidations *prometheus.CounterVec
	staleFills    prometheus.Counter
	degraded      prometheus.Gauge
}

// OrderMetrics tracks the order transaction engine.
type OrderMetrics struct {
	created    prometheus.Counter
	failed     *prometheus.CounterVec
	txDuration prometheus.Histogram
}

func NewCacheMetrics(registerer prometheus.Registerer) *CacheMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CacheMetrics{
		hits: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "catalog_cache_hits_total",
			Help: "Cache reads served from the cache backend",
		}, []string{"class"}),
		misses: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "catalog_cache_misses_total",
			Help: "Cache reads that fell through to the store",
		}, []string{"class"}),
		errors: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "catalog_cache_errors_total",
			Help: "Cache backend failures absorbed by the coordinator",
		}, []string{"op"}),
		invalidations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "catalog_cache_invalidations_total",
			Help: "Cache keys invalidated after store mutations",
		}, []string{"class"}),
		staleFills: registerCounter(registerer, prometheus.CounterOpts{
			Name: "catalog_cache_stale_fills_total",
			Help: "Read-through fills discarded because the key was invalidated during the store read",
		}),
		degraded: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "catalog_cache_degraded",
			Help: "1 while the cache backend is considered unavailable",
		}),
	}
}

func NewOrderMetrics(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		created: registerCounter(registerer, prometheus.CounterOpts{
			Name: "catalog_orders_created_total",
			Help: "Orders committed",
		}),
		failed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "catalog_orders_failed_total",
			Help: "Order creations rolled back, by reason",
		}, []string{"reason"}),
		txDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "catalog_order_tx_duration_seconds",
			Help:    "Time an order transaction holds its store connection",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

func (m *CacheMetrics) Hit(class string)  { m.hits.WithLabelValues(class).Inc() }
func (m *CacheMetrics) Miss(class string) { m.misses.WithLabelValues(class).Inc() }
func (m *CacheMetrics) Error(op string)   { m.errors.WithLabelValues(op).Inc() }

func (m *CacheMetrics) Invalidated(class string) {
	m.invalidations.WithLabelValues(class).Inc()
}

func (m *CacheMetrics) StaleFillDiscarded() {
	m.staleFills.Inc()
}

func (m *CacheMetrics) SetDegraded(degraded bool) {
	if degraded {
		m.degraded.Set(1)
		return
	}
	m.degraded.Set(0)
}

func (m *OrderMetrics) OrderCreated() {
	m.created.Inc()
}

func (m *OrderMetrics) OrderFailed(reason string) {
	m.failed.WithLabelValues(reason).Inc()
}

func (m *OrderMetrics) ObserveTx(d time.Duration) {
	m.txDuration.Observe(d.Seconds())
}
