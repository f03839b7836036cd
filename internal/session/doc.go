// Package session owns the per-connection state of the echo bridge.
//
// A Session is created when a device connects and destroyed when it
// disconnects. It holds the FrameBuffer of the current utterance, which only
// the session's own read goroutine touches. On audio_end the buffered
// packets are echoed back to the device as binary frames, optionally
// wrapped into an Ogg/Opus artifact and decoded, and then the buffer is
// cleared.
//
// The Registry is the only state shared between sessions. It assigns session
// IDs, enforces the session limit, publishes connect/disconnect events and
// sends server-initiated text commands.
package session
