// Package realtime implements best-effort event fan-out to connected
// clients. Events form a closed, named union; the hub scopes delivery per
// user and pushes periodic keep-alive frames so transports can hold idle
// connections open. Transports (SSE, WebSocket) live in the server package
// and consume Client frames.
package realtime
