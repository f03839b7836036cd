// Package decode turns received Opus packets into PCM.
//
// Three capabilities exist and one of them is selected once at startup:
//
//   - inprocess: each packet is decoded as it arrives with libopus (gopus)
//     and written to a PCMSink.
//   - offline: the utterance is persisted as an Ogg/Opus file and an
//     external opusdec tool converts it to WAV under a bounded timeout.
//   - none: packets are only persisted, nothing is decoded.
//
// Failures in any mode are reported to the caller and never end a session.
package decode
