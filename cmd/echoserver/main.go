// Package main is the entry point for the audio echo service.
//
// Usage:
//
//	echoserver [flags] <command> [args]
//
// Commands:
//
//	serve    - Run the WebSocket listener and HTTP API
//	wrap     - Wrap a capture of binary frames into an Ogg/Opus file
//	version  - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/skypro1111/ws-audio-echo/cmd/echoserver/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
