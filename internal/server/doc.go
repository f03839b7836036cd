// Package server implements the WebSocket listener devices connect to and the
// HTTP API used for monitoring and for sending commands to devices.
//
// Every WebSocket connection gets one goroutine that reads messages in
// arrival order and hands them to its session. Outbound frames (echo and
// commands) are serialized per connection and bounded by a write timeout.
package server
