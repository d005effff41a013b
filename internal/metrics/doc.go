// Package metrics defines the Prometheus instrumentation for the recorder
// service. All metrics are registered on the default registry at
// construction and exposed through the /metrics endpoint.
package metrics
