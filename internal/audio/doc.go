// Package audio holds per-utterance packet buffering and the WAV writer used
// for decoded PCM artifacts.
package audio
