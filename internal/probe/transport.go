// Package probe translates high-level debugger intent (read/write memory,
// step, go, breakpoints, programming mode) into commands against an
// on-chip debugging probe, and maintains the program-counter cache that
// spares a wire round trip on every PC read.
//
// The wire format to the probe itself is out of scope (spec §6): Transport
// is the seam a concrete probe family plugs into.
package probe

import (
	"errors"
	"time"
)

// ErrWrongMode is the sentinel a Transport wraps its error in when the
// probe refused a halted-only operation because the target is running.
// Adapter retries read_pc exactly once after issuing Stop when it sees
// this; every other Transport error propagates as-is.
var ErrWrongMode = errors.New("probe: target running, operation requires halt")

// Transport is the external capability this bridge talks to: a single ICE
// probe attached over USB/serial. Send issues one probe command and waits
// for its response; RecvEvent polls for an asynchronous event frame (a
// breakpoint hit, a power event) with the given timeout, returning nil if
// none arrived. ProgramMode and Reset bracket flash programming and issue
// a target reset respectively.
type Transport interface {
	Send(cmd []byte) (resp []byte, err error)
	RecvEvent(timeout time.Duration) (event []byte, err error)
	ProgramMode(enter bool) error
	Reset() error
}
