// Package events defines the notifications published by the session core
// (connect, disconnect, buffered audio, echo, persisted artifacts, decode
// results and per-message errors) and the sinks that consume them.
//
// Observers such as the logger, the Prometheus collector or a test harness
// subscribe by implementing Sink; the core never depends on a concrete
// observer.
package events
