// Package server exposes the recorder over HTTP: a JSON CRUD API for
// recordings, SSE and WebSocket transports for realtime events, and the
// health and metrics endpoints. Callers are identified by the X-User-Id
// header set by the platform's authenticating proxy.
package server
