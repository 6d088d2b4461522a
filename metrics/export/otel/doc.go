// Package otel binds goIdentity engine metrics to OpenTelemetry.
//
// [Register] creates an Int64ObservableCounter per engine counter and, per
// histogram, a bucket gauge keyed by an "le" attribute plus a count gauge.
// One callback reads the engine's MetricsSnapshot per collection. Callers
// that already run a MeterProvider pass its meter; [Start] builds a
// provider with a periodic reader for deployments without one, and
// [LogExporter] is the push target identityd uses.
package otel
