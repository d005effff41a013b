// Package config provides YAML configuration loading and validation for the
// recorder service, covering the HTTP server, recording store, audio sink,
// assembly thresholds, realtime fan-out and logging.
package config
