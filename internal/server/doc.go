// Package server implements the HTTP surface using Echo framework.
//
// Routes: WebSocket endpoint (/ws), internal publish and operations API
// (API-key protected), health probes and Prometheus metrics.
// Handlers split by concern: handlers_ws.go, handlers_internal.go,
// handlers_health.go.
package server
