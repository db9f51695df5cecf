package dispatch

import (
	"github.com/hollowmark/avrbridge/internal/events"
	"github.com/hollowmark/avrbridge/internal/probe"
)

// transientBreakpointSlot is a dedicated hardware slot reserved for
// step-over-interrupt's throwaway return-address breakpoint, kept out of
// the breakpoint table so it never competes with debugger-requested
// breakpoints for the pool (spec §4.6 treats it as bridge-internal
// bookkeeping, not a user breakpoint).
const transientBreakpointSlot = -1

// stepOverInterrupt implements spec §4.6's step-over-interrupt algorithm:
// after a single step lands inside the vector table with ignoreInterrupts
// set, run to the ISR's return address instead of reporting a stop inside
// the vector table.
func (d *Dispatcher) stepOverInterrupt() (string, error) {
	status, err := d.adapter.ReadStatusArea()
	if err != nil || len(status) < 2 {
		return d.extendedStopReply()
	}

	sp := uint32(status[0]) | uint32(status[1])<<8

	retWord, err := d.adapter.ReadMemory(probe.DataSpaceOffset+sp+1, 2)
	if err != nil || len(retWord) < 2 {
		return d.extendedStopReply()
	}

	retPC := (uint32(retWord[0])<<8 | uint32(retWord[1])) * 2

	installedTransient := false

	if !d.bpt.CodeBreakpointAt(retPC) {
		if err := d.adapter.SetBreakpoint(transientBreakpointSlotFor(retPC), retPC); err != nil {
			// Fail-open (spec §4.6 point 4): report the stop at the ISR
			// entry rather than lose control to the user.
			d.log.Warn("dispatch: step-over-interrupt: transient breakpoint at %#x failed: %v", retPC, err)
			return d.extendedStopReply()
		}

		installedTransient = true
	}

	defer func() {
		if installedTransient {
			if err := d.adapter.ClearBreakpoint(transientBreakpointSlotFor(retPC)); err != nil {
				d.log.Warn("dispatch: step-over-interrupt: clear transient breakpoint: %v", err)
			}
		}
	}()

	for {
		d.pushBreakpoints()

		if err := d.adapter.Go(); err != nil {
			return "", probe.WrapError(probe.Fatal, "step-over-interrupt: go", err)
		}

		result, err := d.pump.Run()
		if err != nil {
			return "", err
		}

		if result == events.GDBInterrupt {
			return d.stopReplyFor(result)
		}

		pc, err := d.adapter.ReadPC()
		if err != nil {
			return "", probe.WrapError(probe.Fatal, "step-over-interrupt: read PC", err)
		}

		status, err := d.adapter.ReadStatusArea()
		if err != nil || len(status) < 2 {
			return d.extendedStopReply()
		}

		curSP := uint32(status[0]) | uint32(status[1])<<8

		atUserBreakpoint := d.bpt.CodeBreakpointAt(pc)
		exitedISR := curSP > sp

		if pc == retPC || atUserBreakpoint || exitedISR {
			return d.extendedStopReply()
		}

		// Stopped in a nested ISR; the transient breakpoint at retPC is
		// still installed (Go doesn't clear hardware slots), loop back
		// and keep waiting for the original return address.
	}
}

// transientBreakpointSlotFor derives a stable pseudo-slot id for the probe
// call; real hardware-slot allocation for transient breakpoints is a probe
// concern distinct from the debugger-facing breakpoint.Table pool.
func transientBreakpointSlotFor(addr uint32) int {
	return transientBreakpointSlot
}
