package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	cacheHitsCounter        prometheus.Counter
	cacheRefreshesCounter   prometheus.Counter
	refreshFailuresCounter  prometheus.Counter
	staleServesCounter      prometheus.Counter
	refreshDurationSeconds  prometheus.Histogram
	cachedEpochGauge        prometheus.Gauge
	contactAcceptedCounter  prometheus.Counter
	contactRejectedCounters *prometheus.CounterVec
}

func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	m := Metrics{
		// dashboard cache
		cacheHitsCounter: factory.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_cache_hits_total", namespace),
			Help: "Dashboard requests served from the current epoch",
		}),
		cacheRefreshesCounter: factory.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_cache_refreshes_total", namespace),
			Help: "Successful dashboard refreshes",
		}),
		refreshFailuresCounter: factory.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_cache_refresh_failures_total", namespace),
			Help: "Failed dashboard refreshes",
		}),
		staleServesCounter: factory.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_cache_stale_serves_total", namespace),
			Help: "Dashboard requests served from an older epoch after a failed refresh",
		}),
		refreshDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    fmt.Sprintf("%s_cache_refresh_duration_seconds", namespace),
			Help:    "Duration of dashboard refreshes against the backing store",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		cachedEpochGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_cache_epoch", namespace),
			Help: "The epoch of the cached dashboard snapshot",
		}),
		// contact relay
		contactAcceptedCounter: factory.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_contact_sent_total", namespace),
			Help: "Contact messages relayed",
		}),
		contactRejectedCounters: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_contact_rejected_total", namespace),
			Help: "Contact messages rejected",
		}, []string{"reason"}),
	}
	return &m
}

func (metrics *Metrics) IncCacheHit() {
	metrics.cacheHitsCounter.Inc()
}

func (metrics *Metrics) ObserveRefresh(epoch int64, duration time.Duration) {
	metrics.cacheRefreshesCounter.Inc()
	metrics.refreshDurationSeconds.Observe(duration.Seconds())
	metrics.cachedEpochGauge.Set(float64(epoch))
}

func (metrics *Metrics) IncRefreshFailure() {
	metrics.refreshFailuresCounter.Inc()
}

func (metrics *Metrics) IncStaleServe() {
	metrics.staleServesCounter.Inc()
}

func (metrics *Metrics) SetCachedEpoch(epoch int64) {
	metrics.cachedEpochGauge.Set(float64(epoch))
}

func (metrics *Metrics) IncContactSent() {
	metrics.contactAcceptedCounter.Inc()
}

func (metrics *Metrics) IncContactRejected(reason string) {
	metrics.contactRejectedCounters.WithLabelValues(reason).Inc()
}
