package metrics

import (
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "jerosync"

// Collector exposes a Registry to Prometheus. Metric names and label sets are
// only known at collection time, so it registers as an unchecked collector.
type Collector struct {
	registry *Registry
}

// NewCollector wraps a registry for Prometheus scraping
func NewCollector(registry *Registry) *Collector {
	return &Collector{registry: registry}
}

// Describe sends no descriptors, which marks the collector as unchecked.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// Collect converts a registry snapshot into constant metrics.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.registry.GetAllMetrics()

	for _, m := range snap.Counters {
		names, values := splitLabels(m.Labels)
		desc := prometheus.NewDesc(promName(m.Name, "total"), help(m.Description, m.Name), names, nil)
		ch <- constMetric(desc, prometheus.CounterValue, m.Value, values)
	}

	for _, m := range snap.Gauges {
		names, values := splitLabels(m.Labels)
		desc := prometheus.NewDesc(promName(m.Name, ""), help(m.Description, m.Name), names, nil)
		ch <- constMetric(desc, prometheus.GaugeValue, m.Value, values)
	}

	for _, t := range snap.Timers {
		names, values := splitLabels(t.Labels)
		desc := prometheus.NewDesc(promName(t.Name, "seconds"), help(t.Description, t.Name), names, nil)
		quantiles := map[float64]float64{}
		if t.P95 > 0 {
			quantiles[0.95] = t.P95 / 1000
		}
		if t.P99 > 0 {
			quantiles[0.99] = t.P99 / 1000
		}
		metric, err := prometheus.NewConstSummary(desc, uint64(t.Count), t.Sum/1000, quantiles, values...)
		if err != nil {
			metric = prometheus.NewInvalidMetric(desc, err)
		}
		ch <- metric
	}
}

func constMetric(desc *prometheus.Desc, kind prometheus.ValueType, value float64, labelValues []string) prometheus.Metric {
	metric, err := prometheus.NewConstMetric(desc, kind, value, labelValues...)
	if err != nil {
		return prometheus.NewInvalidMetric(desc, err)
	}
	return metric
}

func splitLabels(labels map[string]string) ([]string, []string) {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)

	values := make([]string, len(names))
	for i, k := range names {
		values[i] = labels[k]
	}
	return names, values
}

func promName(name, suffix string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	if suffix != "" && !strings.HasSuffix(name, "_"+suffix) {
		name += "_" + suffix
	}
	return namespace + "_" + name
}

func help(description, name string) string {
	if description != "" {
		return description
	}
	return name
}
