package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports a StatsReporter as Prometheus metrics. Counters are read
// on every scrape, so the backend keeps a single source of truth.
type Collector struct {
	source StatsReporter

	hits        *prometheus.Desc
	misses      *prometheus.Desc
	sets        *prometheus.Desc
	evictions   *prometheus.Desc
	expirations *prometheus.Desc
	entries     *prometheus.Desc
	capacity    *prometheus.Desc
	up          *prometheus.Desc
}

// NewCollector creates a collector with metrics named <namespace>_cache_*.
// name is attached as a constant "cache" label.
func NewCollector(namespace, name string, source StatsReporter) *Collector {
	labels := prometheus.Labels{"cache": name}
	desc := func(metric, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "cache", metric), help, nil, labels)
	}
	return &Collector{
		source:      source,
		hits:        desc("hits_total", "Lookups that found a live entry"),
		misses:      desc("misses_total", "Lookups that found nothing or an expired entry"),
		sets:        desc("sets_total", "Entries written"),
		evictions:   desc("evictions_total", "Live entries evicted to make room"),
		expirations: desc("expirations_total", "Expired entries removed on access or eviction"),
		entries:     desc("entries", "Entries currently stored"),
		capacity:    desc("capacity", "Maximum number of entries, zero when unbounded"),
		up:          desc("up", "Whether the last stats read succeeded"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{c.hits, c.misses, c.sets, c.evictions, c.expirations, c.entries, c.capacity, c.up} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st, err := c.source.Stats()
	if err != nil {
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 1)
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(st.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(st.Misses))
	ch <- prometheus.MustNewConstMetric(c.sets, prometheus.CounterValue, float64(st.Sets))
	ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(st.Evictions))
	ch <- prometheus.MustNewConstMetric(c.expirations, prometheus.CounterValue, float64(st.Expirations))
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(st.Entries))
	ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(st.Capacity))
}
