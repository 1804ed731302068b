// Package events provides types and interfaces for job lifecycle
// notifications.
//
// The poller, recovery orchestrator, and result sink publish events without
// knowing which consumers observe them. UI layers subscribe through the
// EventHandler interface or the channel-backed helper, which keeps the
// poller's state machine decoupled from any particular consumer.
//
// The primary components are:
// - JobEvent: a single lifecycle notification (progress, terminal state, warning)
// - EventHandler: interface for components that receive events
// - Emitter: interface for components that publish events
package events
