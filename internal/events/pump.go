// Package events implements the select-style wait over the debugger socket
// and the probe transport described in spec §4.4: it classifies probe
// event frames and enforces debugger-interrupt priority over a simultaneous
// breakpoint hit.
package events

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/hollowmark/avrbridge/internal/consoleio"
	"github.com/hollowmark/avrbridge/internal/probe"
)

// Result is the outcome of one event_loop call.
type Result int

const (
	Breakpoint Result = iota
	GDBInterrupt
)

func (r Result) String() string {
	if r == GDBInterrupt {
		return "gdb-interrupt"
	}

	return "breakpoint"
}

// pollInterval bounds each iteration of the select-equivalent wait so the
// loop can re-check both descriptors even on probe transports that only
// expose a polling RecvEvent rather than a true select()-able fd.
const pollInterval = 50 * time.Millisecond

// Pump waits on both the debugger socket and the probe transport,
// classifying probe events and giving debugger interrupts priority.
type Pump struct {
	sockFD    int
	transport probe.Transport
	adapter   *probe.Adapter
	log       *consoleio.Logger

	// InterruptOnSleep, when false, still logs sleep enter/leave events
	// but never raises GDBInterrupt for them (spec §4.4's "configurable
	// to interrupt" note for sleep events defaults to off).
	InterruptOnSleep bool
}

// NewPump binds a Pump to the debugger socket file descriptor and the
// probe transport/adapter pair for one session.
func NewPump(sockFD int, transport probe.Transport, adapter *probe.Adapter, log *consoleio.Logger) *Pump {
	return &Pump{sockFD: sockFD, transport: transport, adapter: adapter, log: log}
}

// Run blocks until either the debugger sends a raw interrupt byte (0x03)
// or the probe posts a breakpoint-class event, returning which. Per spec
// §4.4, a simultaneous occurrence of both resolves to GDBInterrupt.
func (p *Pump) Run() (Result, error) {
	for {
		debuggerReady, err := p.selectOnce()
		if err != nil {
			return 0, err
		}

		gdbInterrupt := false

		if debuggerReady {
			b, err := p.readDebuggerByte()
			if err != nil {
				return 0, err
			}

			if b == 0x03 {
				p.log.Debug("events: interrupted by debugger")
				gdbInterrupt = true
			} else {
				p.log.Warn("events: unexpected debugger byte %#02x while running", b)
			}
		}

		event, err := p.transport.RecvEvent(0)
		if err != nil {
			return 0, probe.WrapError(probe.Fatal, "probe transport lost", err)
		}

		breakpoint := false

		if event != nil {
			breakpoint = p.classify(event, &gdbInterrupt)
		}

		// Give priority to user interrupts (spec §4.4).
		if gdbInterrupt {
			return GDBInterrupt, nil
		}

		if breakpoint {
			return Breakpoint, nil
		}
	}
}

// selectOnce waits up to pollInterval for the debugger socket to have data
// ready, returning whether it did. The probe transport's own RecvEvent
// polls with a zero timeout immediately after, so a probe event and a
// debugger byte in the same tick are both observed within one iteration.
func (p *Pump) selectOnce() (bool, error) {
	var readfds unix.FdSet
	fdSet(&readfds, p.sockFD)

	tv := unix.NsecToTimeval(pollInterval.Nanoseconds())

	n, err := unix.Select(p.sockFD+1, &readfds, nil, nil, &tv)
	if err != nil {
		if err == unix.EINTR {
			return false, nil
		}

		return false, probe.WrapError(probe.Fatal, "select on debugger socket", err)
	}

	return n > 0 && fdIsSet(&readfds, p.sockFD), nil
}

func (p *Pump) readDebuggerByte() (byte, error) {
	buf := make([]byte, 1)

	n, err := unix.Read(p.sockFD, buf)
	if err != nil {
		return 0, probe.WrapError(probe.Fatal, "read debugger socket", err)
	}

	if n == 0 {
		return 0, probe.NewError(probe.Fatal, "debugger socket closed")
	}

	return buf[0], nil
}

// Event class tags, the Go-side analogue of the (scope, code) pairs the
// JTAGICE3 protocol packs into the first two bytes of an event frame.
const (
	classBreak byte = iota
	classBreakIgnored
	classIDRDirty
	classPowerOff
	classPowerOn
	classSleepEnter
	classSleepLeave
	classUnknown
)

// classify applies the event-class table from spec §4.4. event[0] is the
// class tag; event[1:] carries class-specific payload (a word-addressed PC
// for classBreak). It returns whether a breakpoint should be reported and
// may set *gdbInterrupt for power-off or unknown events.
func (p *Pump) classify(event []byte, gdbInterrupt *bool) bool {
	if len(event) == 0 {
		p.log.Warn("events: empty event frame")
		*gdbInterrupt = true

		return false
	}

	switch event[0] {
	case classBreak:
		if len(event) < 5 {
			p.log.Warn("events: truncated break event")
			return false
		}

		wordPC := uint32(event[1])<<24 | uint32(event[2])<<16 | uint32(event[3])<<8 | uint32(event[4])
		p.adapter.SetPCFromEvent(wordPC)

		return true

	case classBreakIgnored:
		p.log.Debug("events: ignoring reset/leave-progmode break")
		return false

	case classIDRDirty:
		p.log.Debug("events: IDR dirty")
		return false

	case classPowerOff:
		p.log.Debug("events: target power turned off")
		*gdbInterrupt = true

		return false

	case classPowerOn:
		p.log.Debug("events: target power returned")
		return false

	case classSleepEnter:
		p.log.Debug("events: target went to sleep")
		if p.InterruptOnSleep {
			*gdbInterrupt = true
		}

		return false

	case classSleepLeave:
		p.log.Debug("events: target left sleep")
		if p.InterruptOnSleep {
			*gdbInterrupt = true
		}

		return false

	default:
		p.log.Warn("events: unhandled event class %#02x", event[0])
		*gdbInterrupt = true

		return false
	}
}

func fdSet(set *unix.FdSet, fd int) {
	set.Bits[fd/64] |= 1 << (uint(fd) % 64)
}

func fdIsSet(set *unix.FdSet, fd int) bool {
	return set.Bits[fd/64]&(1<<(uint(fd)%64)) != 0
}
