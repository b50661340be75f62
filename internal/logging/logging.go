// Package logging provides the small set of print helpers the rest of the
// core uses to narrate install/launch progress on stderr. It mirrors the
// teacher's logAction/logSection/vlog split: Action and Section are always
// printed, Verbose only fires when the caller has turned verbosity on.
package logging

import (
	"fmt"
	"os"
)

var verbose = false

// SetVerbose toggles whether Verbose() calls are emitted.
func SetVerbose(v bool) { verbose = v }

// Action logs a single in-progress step (e.g. "Downloading foo.jar").
func Action(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
}

// Section logs a completed phase boundary (e.g. "Installed all libraries").
func Section(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
}

// Verbose logs diagnostic detail, gated on SetVerbose(true).
func Verbose(format string, args ...interface{}) {
	if !verbose {
		return
	}
	fmt.Fprintf(os.Stderr, "V: "+format, args...)
}
