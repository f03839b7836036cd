// Package storage persists utterance artifacts (Ogg/Opus containers, raw
// packet dumps and decoded WAV files).
//
// The local directory store is always the primary copy; the external decode
// tool reads from it. An S3-compatible bucket can be added as a mirror.
package storage
