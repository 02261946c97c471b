// Package notify implements the real-time notification fan-out subsystem:
// WebSocket connection lifecycle with a first-message authentication
// handshake, a per-user connection registry with a sliding connection limit,
// topic subscriptions, a bounded time-expiring offline message buffer, and
// the background liveness and idle sweeps.
//
// Producers (the transcription/analysis job pipeline) call
// Dispatcher.Publish; the dispatcher delivers to every live subscribed
// connection of the target user or buffers the message for replay when the
// user reconnects.
package notify
