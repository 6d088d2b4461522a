// Package prometheus exposes goIdentity engine metrics to Prometheus.
//
// [PrometheusExporter] renders every counter and the validate latency
// histogram in text exposition format through Handler, and implements
// prometheus.Collector for callers that run their own registry. Counter
// names are prefixed goidentity_ and end in _total.
//
// The exporter never registers itself in the global registry.
package prometheus
