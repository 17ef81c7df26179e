// textreplacer expands typed triggers into longer text system-wide.
//
//	textreplacer run                      Run the daemon (keyboard hook + control socket)
//	textreplacer rules list|add|remove    Manage trigger/replacement rules
//	textreplacer enable|disable|status    Control the running daemon
//	textreplacer doctor|metrics           Component checks and counters
//	textreplacer permission check|request Input Monitoring permission on macOS
//	textreplacer config init|show|validate
package main

import (
	"os"
)

// Set at build time with -ldflags "-X main.Version=... -X main.Commit=...".
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
