// Package protocol implements the device wire protocol carried over WebSocket.
// It handles the length-prefixed binary audio frame, the JSON envelope used on
// text frames, and the demultiplexer that classifies every inbound message.
package protocol
