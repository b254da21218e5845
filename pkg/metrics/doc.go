// Package metrics defines the Prometheus instrumentation for the cloud
// control plane: fleet gauges, secret distribution counters, command
// queue outcomes, telemetry ingestion and retention, and API request
// accounting. All collectors register at init; Handler serves them.
package metrics
