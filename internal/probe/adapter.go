package probe

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/hollowmark/avrbridge/internal/consoleio"
	"github.com/hollowmark/avrbridge/internal/device"
)

// Command opcodes sent to the probe. The wire encoding beyond this first
// byte is a transport concern (spec §6: "this spec does not prescribe wire
// bytes"); Adapter only needs opcode + argument bytes agreed with Transport.
const (
	opReadPC byte = iota
	opWritePC
	opReadMem
	opWriteMem
	opSingleStep
	opGo
	opStop
	opReset
	opProgramEnable
	opProgramDisable
	opEraseFlash
	opSetBreakpoint
	opClearBreakpoint
)

// Memory space markers encoded in the high byte of an address, matching
// the "data-space offset" convention described in spec §6.
const (
	DataSpaceOffset = 0x800000
	RAMWindowLength = 0x20000
)

// EventTimeout bounds how long Stop and Reset wait in RecvEvent for the
// event the probe posts after those commands. The event pump does not use
// it: it polls RecvEvent with a zero timeout.
const EventTimeout = 200 * time.Millisecond

// pcCache mirrors the Pair(value, valid) described in spec §3: invalidated
// by any write path, validated by an explicit read or a stop event.
type pcCache struct {
	value uint32
	valid bool
}

// Adapter owns a probe Transport and exposes the typed operations the RSP
// dispatcher needs, translating them into probe commands and maintaining
// the PC cache so repeated 'p'/'P' register-34 traffic doesn't round-trip
// to the probe when nothing has changed.
type Adapter struct {
	transport Transport
	dev       device.Descriptor
	log       *consoleio.Logger

	pc pcCache
}

// NewAdapter binds an Adapter to a transport and the device it controls.
func NewAdapter(t Transport, dev device.Descriptor, log *consoleio.Logger) *Adapter {
	return &Adapter{transport: t, dev: dev, log: log}
}

// ReadMemory reads length bytes starting at addr. addr is a debugger
// address: data-space addresses carry the DataSpaceOffset bias, which is
// sent to the transport unchanged (neither Adapter nor dispatch strips it),
// so the high bits tell the probe which address space is meant.
func (a *Adapter) ReadMemory(addr uint32, length int) ([]byte, error) {
	cmd := make([]byte, 0, 9)
	cmd = append(cmd, opReadMem)
	cmd = appendU32(cmd, addr)
	cmd = appendU32(cmd, uint32(length))

	resp, err := a.transport.Send(cmd)
	if err != nil {
		return nil, WrapError(Probe, "read memory", err)
	}

	if len(resp) != length {
		return nil, NewError(Protocol, fmt.Sprintf("read memory: got %d bytes, want %d", len(resp), length))
	}

	return resp, nil
}

// WriteMemory writes data starting at addr. Page alignment for flash
// targets is the caller's responsibility (spec §4.2).
func (a *Adapter) WriteMemory(addr uint32, data []byte) error {
	cmd := make([]byte, 0, 5+len(data))
	cmd = append(cmd, opWriteMem)
	cmd = appendU32(cmd, addr)
	cmd = append(cmd, data...)

	if _, err := a.transport.Send(cmd); err != nil {
		return WrapError(Probe, "write memory", err)
	}

	return nil
}

// ReadRegisters reads the 32 CPU general-purpose registers R0..R31.
func (a *Adapter) ReadRegisters() ([]byte, error) {
	return a.ReadMemory(DataSpaceOffset, 32)
}

// ReadStatusArea reads the 3 bytes SPL, SPH, SREG from the device's
// status area base.
func (a *Adapter) ReadStatusArea() ([]byte, error) {
	return a.ReadMemory(DataSpaceOffset+a.dev.StatusAreaBase, 3)
}

// ReadPC returns the cached PC if valid, otherwise issues a probe read.
// A WRONG_MODE failure is retried exactly once after Stop.
func (a *Adapter) ReadPC() (uint32, error) {
	if a.pc.valid {
		return a.pc.value, nil
	}

	cmd := []byte{opReadPC}

	resp, err := a.transport.Send(cmd)
	if err != nil {
		if !errors.Is(err, ErrWrongMode) {
			return 0, WrapError(Probe, "read PC", err)
		}

		if stopErr := a.Stop(); stopErr != nil {
			return 0, WrapError(Probe, "read PC: stop before retry", stopErr)
		}

		resp, err = a.transport.Send(cmd)
		if err != nil {
			return 0, WrapError(Probe, "read PC (after retry)", err)
		}
	}

	if len(resp) < 4 {
		return 0, NewError(Protocol, "read PC: short response")
	}

	// The probe sees program memory as 16-bit words; GDB sees bytes.
	wordPC := binary.BigEndian.Uint32(resp[:4])
	a.pc.value = wordPC * 2
	a.pc.valid = true

	return a.pc.value, nil
}

// WritePC sets the program counter. The cache is invalidated first, per
// the write-path discipline in spec §4.2.
func (a *Adapter) WritePC(pc uint32) error {
	a.pc.valid = false

	cmd := make([]byte, 0, 5)
	cmd = append(cmd, opWritePC)
	cmd = appendU32(cmd, pc/2)

	if _, err := a.transport.Send(cmd); err != nil {
		return WrapError(Probe, "write PC", err)
	}

	return nil
}

// SetPCFromEvent sets the cache directly from a stop event's reported
// word-addressed PC, per spec §4.2's "event paths" rule.
func (a *Adapter) SetPCFromEvent(wordPC uint32) {
	a.pc.value = wordPC * 2
	a.pc.valid = true
}

// InvalidatePC forces the next ReadPC to consult the probe.
func (a *Adapter) InvalidatePC() { a.pc.valid = false }

// SingleStep invalidates the PC cache and issues a single-step command.
func (a *Adapter) SingleStep() error {
	a.pc.valid = false

	if _, err := a.transport.Send([]byte{opSingleStep}); err != nil {
		return WrapError(Probe, "single step", err)
	}

	return nil
}

// Go invalidates the PC cache and resumes the target. Unlike Stop/Reset,
// Go does not itself await the resulting event; the event pump does.
func (a *Adapter) Go() error {
	a.pc.valid = false

	if _, err := a.transport.Send([]byte{opGo}); err != nil {
		return WrapError(Probe, "go", err)
	}

	return nil
}

// Stop halts the target and awaits the BREAK event the probe posts.
func (a *Adapter) Stop() error {
	if _, err := a.transport.Send([]byte{opStop}); err != nil {
		return WrapError(Probe, "stop", err)
	}

	if _, err := a.transport.RecvEvent(EventTimeout); err != nil {
		a.log.Debug("probe: stop event wait: %v", err)
	}

	return nil
}

// Reset resets the target and awaits the resulting BREAK event. The PC
// reported by that event is the reset vector, which callers discard.
func (a *Adapter) Reset() error {
	a.pc.valid = false

	if _, err := a.transport.Send([]byte{opReset}); err != nil {
		return WrapError(Probe, "reset", err)
	}

	if _, err := a.transport.RecvEvent(EventTimeout); err != nil {
		a.log.Debug("probe: reset event wait: %v", err)
	}

	return nil
}

// EnableProgramming brackets a flash erase/write sequence.
func (a *Adapter) EnableProgramming() error {
	if err := a.transport.ProgramMode(true); err != nil {
		return WrapError(Probe, "enable programming", err)
	}

	return nil
}

// DisableProgramming closes the bracket opened by EnableProgramming.
func (a *Adapter) DisableProgramming() error {
	if err := a.transport.ProgramMode(false); err != nil {
		return WrapError(Probe, "disable programming", err)
	}

	return nil
}

// EraseProgramMemory performs a full-chip flash erase; the caller must
// have called EnableProgramming first.
func (a *Adapter) EraseProgramMemory() error {
	if _, err := a.transport.Send([]byte{opEraseFlash}); err != nil {
		return WrapError(Probe, "erase program memory", err)
	}

	return nil
}

// SetBreakpoint forwards a hardware breakpoint installation to the probe.
// Software breakpoints never reach this call; the dispatcher realizes
// those as flash patches via WriteMemory instead. Only the slot and the
// address are sent: the breakpoint kind and length are not.
func (a *Adapter) SetBreakpoint(slot int, addr uint32) error {
	cmd := make([]byte, 0, 6)
	cmd = append(cmd, opSetBreakpoint, byte(slot))
	cmd = appendU32(cmd, addr/2)

	if _, err := a.transport.Send(cmd); err != nil {
		return WrapError(Probe, "set breakpoint", err)
	}

	return nil
}

// ClearBreakpoint releases a hardware slot previously bound by SetBreakpoint.
func (a *Adapter) ClearBreakpoint(slot int) error {
	cmd := []byte{opClearBreakpoint, byte(slot)}

	if _, err := a.transport.Send(cmd); err != nil {
		return WrapError(Probe, "clear breakpoint", err)
	}

	return nil
}

// Device returns the device descriptor this adapter was bound to.
func (a *Adapter) Device() device.Descriptor { return a.dev }

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)

	return append(buf, tmp[:]...)
}
