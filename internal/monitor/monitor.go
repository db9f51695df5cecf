// Package monitor implements the qRcmd subcommands a debugger user can
// invoke with GDB's "monitor" command: help, version and reset.
package monitor

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/hollowmark/avrbridge/internal/probe"
)

// Version is the bridge's own release version, surfaced via
// "monitor version" and parsed with semver so it always stays a valid
// version string.
var Version = semver.MustParse("0.1.0")

const helpText = "avrbridge monitor commands:\n" +
	"  help, ?   show this text\n" +
	"  version   report the bridge version\n" +
	"  reset     reset the target\n"

// Dispatch runs an ASCII qRcmd command against adapter, returning its
// reply text and whether the command was recognized. An unrecognized
// command returns handled=false so the dispatcher can send an empty RSP
// reply (spec §4.5: GDB then prints "not supported").
func Dispatch(cmd string, adapter *probe.Adapter) (reply string, handled bool) {
	switch cmd {
	case "help", "?":
		return helpText, true

	case "version":
		return fmt.Sprintf("avrbridge monitor v%s\n", Version), true

	case "reset":
		if err := adapter.Reset(); err != nil {
			return fmt.Sprintf("reset failed: %v\n", err), true
		}

		return "target reset\n", true

	default:
		return "", false
	}
}
