// Package ogg builds single-stream Ogg/Opus containers from already encoded
// packets. Pages are written one packet per page with checksums computed over
// the complete page, so the output can be fed straight to opusdec or any other
// Ogg demuxer.
package ogg
