// Package prometheus provides Prometheus collectors for sessionauth metrics.
//
// [NewPrometheusExporter] accepts an [sessionauth.Engine] and exposes an [http.Handler]
// that renders all sessionauth counters and histograms in Prometheus text exposition format.
// Counter names are prefixed sessionauth_*_total; the single histogram is
// sessionauth_validate_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry — callers mount the Handler.
//   - Mutate engine state.
package prometheus
