package metrics

import "github.com/prometheus/client_golang/prometheus"

// RuleSample is one rule's counter reading.
type RuleSample struct {
	Rule    string
	Action  string
	Packets uint64
	Bytes   uint64
}

// SampleSource yields the current rule counters. ok is false when there is
// nothing to read, for example while the engine is down.
type SampleSource func() (samples []RuleSample, ok bool)

// RuleCollector exports engine rule counters on each scrape.
type RuleCollector struct {
	src     SampleSource
	packets *prometheus.Desc
	bytes   *prometheus.Desc
}

// NewRuleCollector returns a collector reading from src.
func NewRuleCollector(src SampleSource) *RuleCollector {
	return &RuleCollector{
		src: src,
		packets: prometheus.NewDesc("npfd_rule_packets_total",
			"Packets matched per rule", []string{"rule", "action"}, nil),
		bytes: prometheus.NewDesc("npfd_rule_bytes_total",
			"Bytes matched per rule", []string{"rule", "action"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *RuleCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.packets
	ch <- c.bytes
}

// Collect implements prometheus.Collector.
func (c *RuleCollector) Collect(ch chan<- prometheus.Metric) {
	samples, ok := c.src()
	if !ok {
		return
	}
	for _, s := range samples {
		ch <- prometheus.MustNewConstMetric(c.packets, prometheus.CounterValue, float64(s.Packets), s.Rule, s.Action)
		ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.CounterValue, float64(s.Bytes), s.Rule, s.Action)
	}
}
