// Package dispatch implements the RSP command dispatcher (C6): a switch
// over the decoded packet's verb that drives the probe adapter, the
// breakpoint table and the event pump, and owns the cross-request state
// the original implementation kept in process-wide statics — last verb,
// orphan-byte buffer, staged flash buffer — bundled here into a per-session
// Dispatcher instead (spec §9's statics-to-struct redesign).
package dispatch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hollowmark/avrbridge/internal/breakpoint"
	"github.com/hollowmark/avrbridge/internal/consoleio"
	"github.com/hollowmark/avrbridge/internal/device"
	"github.com/hollowmark/avrbridge/internal/events"
	"github.com/hollowmark/avrbridge/internal/monitor"
	"github.com/hollowmark/avrbridge/internal/probe"
	"github.com/hollowmark/avrbridge/internal/rsp"
)

// numCPURegisters is the width of the AVR GP register file.
const numCPURegisters = 32

// regSREG, regSP, regPC are the 'p'/'P' register numbers beyond the 32 GP
// registers, per spec §4.6's table.
const (
	regSREG = 32
	regSP   = 33
	regPC   = 34
)

// orphanState is the (pending, value) pair spec §3 describes for 'M'
// write reconciliation against AVR's word-addressed flash.
type orphanState struct {
	pending bool
	value   byte
}

// Dispatcher holds everything one debugger session needs: the probe
// adapter, the breakpoint table, the device geometry, and the verb-to-verb
// state the orphan-byte and flash-staging logic depend on.
type Dispatcher struct {
	dev     device.Descriptor
	adapter *probe.Adapter
	bpt     *breakpoint.Table
	pump    *events.Pump
	console *rsp.ConsoleWriter
	log     *consoleio.Logger

	IgnoreInterrupts bool

	lastVerb byte
	orphan   orphanState
	flash    *stagedFlash

	// softwarePatches maps a patched flash address to the two opcode bytes
	// it replaced, so the trap can be removed cleanly (spec §4.3: CODE
	// breakpoints that overflow the hardware pool are realized as a flash
	// patch with a trap instruction).
	softwarePatches map[uint32][]byte
}

// New constructs a Dispatcher for one debugger session.
func New(dev device.Descriptor, adapter *probe.Adapter, bpt *breakpoint.Table, pump *events.Pump, console *rsp.ConsoleWriter, log *consoleio.Logger) *Dispatcher {
	return &Dispatcher{
		dev:             dev,
		adapter:         adapter,
		bpt:             bpt,
		pump:            pump,
		console:         console,
		log:             log,
		softwarePatches: make(map[uint32][]byte),
	}
}

// Dispatch executes one decoded RSP payload and returns the reply to frame
// back to the debugger. It never returns a Go error for protocol-level
// failures (spec §7: those become "E01" or an empty reply); it returns an
// error only when the session must end (probe.Fatal).
func (d *Dispatcher) Dispatch(payload []byte) (reply string, err error) {
	cmd := string(payload)

	defer func() { d.lastVerb = verbOf(cmd) }()

	switch {
	case cmd == "?":
		return rsp.MinimalStop(rsp.SigTrap), nil

	case cmd == "g":
		return d.handleReadAllRegisters()

	case strings.HasPrefix(cmd, "G"):
		return rsp.Err(), nil

	case strings.HasPrefix(cmd, "p"):
		return d.handleReadRegister(cmd[1:])

	case strings.HasPrefix(cmd, "P"):
		return d.handleWriteRegister(cmd[1:])

	case strings.HasPrefix(cmd, "m"):
		return d.handleReadMemory(cmd[1:])

	case strings.HasPrefix(cmd, "M"):
		return d.handleWriteMemory(cmd[1:])

	case cmd == "c" || strings.HasPrefix(cmd, "c"):
		return d.handleContinue(cmd[1:])

	case strings.HasPrefix(cmd, "C"):
		return d.handleContinueWithSignal(cmd[1:])

	case cmd == "s" || strings.HasPrefix(cmd, "s"):
		return d.handleStep(cmd[1:])

	case cmd == "D":
		_ = d.adapter.Go()
		return rsp.OK, nil

	case cmd == "k" || strings.HasPrefix(cmd, "R"):
		_ = d.adapter.Go()
		return "", nil

	case cmd == "!":
		return rsp.OK, nil

	case strings.HasPrefix(cmd, "Z"):
		return d.handleSetBreakpoint(cmd[1:])

	case strings.HasPrefix(cmd, "z"):
		return d.handleClearBreakpoint(cmd[1:])

	case strings.HasPrefix(cmd, "q"):
		return d.handleQuery(cmd[1:])

	case strings.HasPrefix(cmd, "vFlashErase"):
		return d.handleFlashErase(cmd)

	case strings.HasPrefix(cmd, "vFlashWrite"):
		return d.handleFlashWrite(cmd)

	case strings.HasPrefix(cmd, "vFlashDone"):
		return d.handleFlashDone()

	default:
		return "", nil
	}
}

// verbOf returns the single byte the orphan-byte state machine tracks as
// "last command"; spec §4.6 only cares whether the previous verb was 'M'.
func verbOf(cmd string) byte {
	if cmd == "" {
		return 0
	}

	return cmd[0]
}

func (d *Dispatcher) handleReadAllRegisters() (string, error) {
	regs, err := d.adapter.ReadRegisters()
	if err != nil {
		d.log.Debug("dispatch: read registers: %v", err)
		return rsp.Err(), nil
	}

	status, err := d.adapter.ReadStatusArea()
	if err != nil {
		d.log.Debug("dispatch: read status area: %v", err)
		return rsp.Err(), nil
	}

	pc, err := d.adapter.ReadPC()
	if err != nil {
		d.log.Debug("dispatch: read PC: %v", err)
		return rsp.Err(), nil
	}

	out := make([]byte, 0, numCPURegisters+3+4)
	out = append(out, regs...)
	out = append(out, status...) // SPL, SPH, SREG order per the status area layout
	out = append(out, byte(pc), byte(pc>>8), byte(pc>>16), byte(pc>>24))

	return rsp.EncodeBytes(out), nil
}

func (d *Dispatcher) handleReadRegister(arg string) (string, error) {
	regno, _, ok := rsp.ParseHexInt(arg, 0)
	if !ok {
		return rsp.Err(), nil
	}

	switch {
	case regno >= 0 && regno < numCPURegisters:
		b, err := d.adapter.ReadMemory(probe.DataSpaceOffset+uint32(regno), 1)
		if err != nil {
			return rsp.Err(), nil
		}

		return rsp.EncodeBytes(b), nil

	case regno == regSREG:
		status, err := d.adapter.ReadStatusArea()
		if err != nil || len(status) < 3 {
			return rsp.Err(), nil
		}

		return rsp.EncodeBytes(status[2:3]), nil

	case regno == regSP:
		status, err := d.adapter.ReadStatusArea()
		if err != nil || len(status) < 2 {
			return rsp.Err(), nil
		}

		return rsp.EncodeBytes(status[0:2]), nil

	case regno == regPC:
		pc, err := d.adapter.ReadPC()
		if err != nil {
			return rsp.Err(), nil
		}

		return rsp.EncodeBytes([]byte{byte(pc), byte(pc >> 8), byte(pc >> 16), byte(pc >> 24)}), nil

	default:
		return rsp.Err(), nil
	}
}

func (d *Dispatcher) handleWriteRegister(arg string) (string, error) {
	parts := strings.SplitN(arg, "=", 2)
	if len(parts) != 2 {
		return rsp.Err(), nil
	}

	regno, _, ok := rsp.ParseHexInt(parts[0], 0)
	if !ok {
		return rsp.Err(), nil
	}

	blob, err := rsp.DecodeBytes(parts[1])
	if err != nil {
		return rsp.Err(), nil
	}

	switch {
	case regno >= 0 && regno < numCPURegisters:
		if len(blob) < 1 {
			return rsp.Err(), nil
		}

		if err := d.adapter.WriteMemory(probe.DataSpaceOffset+uint32(regno), blob[:1]); err != nil {
			return rsp.Err(), nil
		}

	case regno == regPC:
		if len(blob) < 4 {
			return rsp.Err(), nil
		}

		pc := uint32(blob[0]) | uint32(blob[1])<<8 | uint32(blob[2])<<16 | uint32(blob[3])<<24
		if err := d.adapter.WritePC(pc); err != nil {
			return rsp.Err(), nil
		}

	default:
		return rsp.Err(), nil
	}

	return rsp.OK, nil
}

func (d *Dispatcher) handleReadMemory(arg string) (string, error) {
	addr, length, ok := parseAddrLen(arg)
	if !ok {
		return rsp.Err(), nil
	}

	data, err := d.adapter.ReadMemory(addr, length)
	if err != nil {
		d.log.Debug("dispatch: read memory: %v", err)
		return rsp.Err(), nil
	}

	return rsp.EncodeBytes(data), nil
}

func parseAddrLen(arg string) (addr uint32, length int, ok bool) {
	comma := strings.IndexByte(arg, ',')
	if comma < 0 {
		return 0, 0, false
	}

	a, _, aok := rsp.ParseHexInt(arg[:comma], 0)
	l, _, lok := rsp.ParseHexInt(arg[comma+1:], 0)

	if !aok || !lok {
		return 0, 0, false
	}

	return uint32(a), l, true
}

func (d *Dispatcher) isFlashAddr(addr uint32) bool {
	return addr < probe.DataSpaceOffset
}

// handleWriteMemory implements the 'M' verb and the orphan-byte
// reconciliation algorithm from spec §4.6.
func (d *Dispatcher) handleWriteMemory(arg string) (string, error) {
	head, hexData, found := strings.Cut(arg, ":")
	if !found {
		return rsp.Err(), nil
	}

	addr, length, ok := parseAddrLen(head)
	if !ok {
		return rsp.Err(), nil
	}

	payload, err := rsp.DecodeBytes(hexData)
	if err != nil || len(payload) != length {
		return rsp.Err(), nil
	}

	flash := d.isFlashAddr(addr)

	if flash && addr%2 == 1 && d.lastVerb == 'M' && d.orphan.pending {
		addr--
		payload = append([]byte{d.orphan.value}, payload...)
		length++
	}

	d.orphan.pending = false

	if flash && length%2 == 1 {
		d.orphan.pending = true
		d.orphan.value = payload[length-1]
		payload = payload[:length-1]
	}

	if len(payload) == 0 {
		return rsp.OK, nil
	}

	if err := d.adapter.WriteMemory(addr, payload); err != nil {
		d.log.Debug("dispatch: write memory: %v", err)
		return rsp.Err(), nil
	}

	return rsp.OK, nil
}

func (d *Dispatcher) handleContinue(arg string) (string, error) {
	if arg != "" {
		if addr, _, ok := rsp.ParseHexInt(arg, 0); ok {
			if err := d.adapter.WritePC(uint32(addr)); err != nil {
				return rsp.Err(), nil
			}
		}
	}

	return d.resumeAndWait()
}

func (d *Dispatcher) handleContinueWithSignal(arg string) (string, error) {
	sigHex, _, _ := strings.Cut(arg, ";")

	sig, _, ok := rsp.ParseHexInt(sigHex, 0)
	if !ok {
		return rsp.Err(), nil
	}

	// Only SIGHUP is honored, mapped to a target reset (spec §4.6 and the
	// open question in spec §9: kept for compatibility, flagged as a
	// design wart; 'qRcmd,reset' is the preferred path).
	if sig != rsp.SigHup {
		return rsp.Err(), nil
	}

	if err := d.adapter.Reset(); err != nil {
		return "", probe.WrapError(probe.Fatal, "reset for SIGHUP continue", err)
	}

	return rsp.MinimalStop(rsp.SigTrap), nil
}

func (d *Dispatcher) resumeAndWait() (string, error) {
	d.pushBreakpoints()

	if err := d.adapter.Go(); err != nil {
		return "", probe.WrapError(probe.Fatal, "go", err)
	}

	result, err := d.pump.Run()
	if err != nil {
		return "", err
	}

	return d.stopReplyFor(result)
}

// trapOpcode is the AVR BREAK instruction (0x9598), little-endian, used to
// patch flash for a software breakpoint.
var trapOpcode = []byte{0x98, 0x95}

func (d *Dispatcher) pushBreakpoints() {
	delta := d.bpt.Update()

	for _, e := range delta.Remove {
		switch e.Resource {
		case breakpoint.ResourceHardware:
			if err := d.adapter.ClearBreakpoint(e.Slot); err != nil {
				d.log.Warn("dispatch: clear breakpoint slot %d: %v", e.Slot, err)
			}

		case breakpoint.ResourceSoftware:
			d.unpatchFlash(e.Addr)
		}
	}

	for _, e := range delta.Add {
		switch e.Resource {
		case breakpoint.ResourceHardware:
			if err := d.adapter.SetBreakpoint(e.Slot, e.Addr); err != nil {
				d.log.Warn("dispatch: set hardware breakpoint at %#x: %v", e.Addr, err)
			}

		case breakpoint.ResourceSoftware:
			d.patchFlash(e.Addr)
		}
	}
}

// patchFlash implements the software-breakpoint fallback from spec §4.3:
// read the two opcode bytes at addr, stash them for later removal, and
// write the trap opcode in their place.
func (d *Dispatcher) patchFlash(addr uint32) {
	if _, already := d.softwarePatches[addr]; already {
		return
	}

	original, err := d.adapter.ReadMemory(addr, len(trapOpcode))
	if err != nil {
		d.log.Warn("dispatch: read original opcode at %#x for software breakpoint: %v", addr, err)
		return
	}

	d.softwarePatches[addr] = original

	if err := d.adapter.WriteMemory(addr, trapOpcode); err != nil {
		d.log.Warn("dispatch: write trap opcode at %#x: %v", addr, err)
		delete(d.softwarePatches, addr)
	}
}

// unpatchFlash restores the opcode bytes patchFlash stashed.
func (d *Dispatcher) unpatchFlash(addr uint32) {
	original, ok := d.softwarePatches[addr]
	if !ok {
		return
	}

	if err := d.adapter.WriteMemory(addr, original); err != nil {
		d.log.Warn("dispatch: restore original opcode at %#x: %v", addr, err)
	}

	delete(d.softwarePatches, addr)
}

func (d *Dispatcher) stopReplyFor(result events.Result) (string, error) {
	if result == events.GDBInterrupt {
		if err := d.adapter.Stop(); err != nil {
			return "", probe.WrapError(probe.Fatal, "stop after interrupt", err)
		}

		return rsp.MinimalStop(rsp.SigInt), nil
	}

	return d.extendedStopReply()
}

func (d *Dispatcher) extendedStopReply() (string, error) {
	status, err := d.adapter.ReadStatusArea()
	if err != nil || len(status) < 3 {
		return rsp.MinimalStop(rsp.SigTrap), nil
	}

	pc, err := d.adapter.ReadPC()
	if err != nil {
		return rsp.MinimalStop(rsp.SigTrap), nil
	}

	return rsp.ExtendedStop(rsp.SigTrap, status[2], status[0], status[1], pc), nil
}

func (d *Dispatcher) handleStep(arg string) (string, error) {
	if arg != "" {
		if addr, _, ok := rsp.ParseHexInt(arg, 0); ok {
			if err := d.adapter.WritePC(uint32(addr)); err != nil {
				return rsp.Err(), nil
			}
		}
	}

	d.pushBreakpoints()

	if err := d.adapter.SingleStep(); err != nil {
		return "", probe.WrapError(probe.Fatal, "single step", err)
	}

	pc, err := d.adapter.ReadPC()
	if err != nil {
		return "", probe.WrapError(probe.Fatal, "read PC after step", err)
	}

	if d.IgnoreInterrupts && pc < uint32(d.dev.VectorTableBytes) {
		return d.stepOverInterrupt()
	}

	return d.extendedStopReply()
}

func (d *Dispatcher) handleSetBreakpoint(arg string) (string, error) {
	zType, addr, length, ok := parseZPacket(arg)
	if !ok {
		return rsp.Err(), nil
	}

	kind, ok := breakpoint.KindFromZType(zType)
	if !ok {
		return rsp.Err(), nil
	}

	if err := d.bpt.Add(addr, kind, length); err != nil {
		return rsp.Err(), nil
	}

	return rsp.OK, nil
}

func (d *Dispatcher) handleClearBreakpoint(arg string) (string, error) {
	zType, addr, _, ok := parseZPacket(arg)
	if !ok {
		return rsp.Err(), nil
	}

	kind, ok := breakpoint.KindFromZType(zType)
	if !ok {
		return rsp.Err(), nil
	}

	d.bpt.Delete(addr, kind)

	return rsp.OK, nil
}

// parseZPacket parses "type,addr,len" from a Z/z packet argument. The
// length is parsed and returned for every breakpoint type and recorded in
// breakpoint.Entry.Length; it is not sent to the probe.
func parseZPacket(arg string) (zType int, addr uint32, length uint32, ok bool) {
	parts := strings.SplitN(arg, ",", 3)
	if len(parts) != 3 {
		return 0, 0, 0, false
	}

	t, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, 0, false
	}

	a, _, aok := rsp.ParseHexInt(parts[1], 0)
	l, _, lok := rsp.ParseHexInt(parts[2], 0)

	if !aok || !lok {
		return 0, 0, 0, false
	}

	return t, uint32(a), uint32(l), true
}

func (d *Dispatcher) handleQuery(arg string) (string, error) {
	switch {
	case strings.HasPrefix(arg, "Supported"):
		return "qXfer:memory-map:read+", nil

	case strings.HasPrefix(arg, "Xfer:memory-map:read::"):
		return streamChunk(arg, d.memoryMapXML())

	case strings.HasPrefix(arg, "Ravr.io_reg"):
		return d.handleIORegQuery(strings.TrimPrefix(arg, "Ravr.io_reg"))

	case strings.HasPrefix(arg, "Rcmd,"):
		return d.handleMonitorCommand(strings.TrimPrefix(arg, "Rcmd,"))

	default:
		return "", nil
	}
}

func (d *Dispatcher) handleMonitorCommand(hexCmd string) (string, error) {
	raw, err := rsp.DecodeBytes(hexCmd)
	if err != nil {
		return rsp.Err(), nil
	}

	reply, handled := monitor.Dispatch(string(raw), d.adapter)
	if !handled {
		return "", nil
	}

	if reply == "" {
		return rsp.OK, nil
	}

	return rsp.EncodeBytes([]byte(reply)), nil
}

// memoryMapXML renders the XML document from spec §6: a RAM window at
// 0x800000 covering registers/SRAM/EEPROM and a flash region sized to the
// device, annotated with its page size as the flash "blocksize".
func (d *Dispatcher) memoryMapXML() []byte {
	doc := fmt.Sprintf(
		"<memory-map>\n"+
			"  <memory type=\"ram\"   start=\"0x800000\" length=\"0x20000\"/>\n"+
			"  <memory type=\"flash\" start=\"0\"        length=\"0x%x\">\n"+
			"     <property name=\"blocksize\">0x%x</property>\n"+
			"  </memory>\n"+
			"</memory-map>\n",
		d.dev.FlashSizeBytes, d.dev.FlashPageBytes(),
	)

	return []byte(doc)
}

// streamChunk implements the qXfer offset/length paging convention shared
// by every qXfer:*:read subquery: an 'l' prefix on the final chunk, 'm'
// otherwise.
func streamChunk(arg string, data []byte) (string, error) {
	lastColon := strings.LastIndex(arg, ":")
	if lastColon < 0 || lastColon+1 >= len(arg) {
		return rsp.Err(), nil
	}

	offLen := arg[lastColon+1:]

	parts := strings.SplitN(offLen, ",", 2)
	if len(parts) != 2 {
		return rsp.Err(), nil
	}

	off, err1 := strconv.ParseUint(parts[0], 16, 64)
	ln, err2 := strconv.ParseUint(parts[1], 16, 64)

	if err1 != nil || err2 != nil {
		return rsp.Err(), nil
	}

	if off >= uint64(len(data)) {
		return "l", nil
	}

	end := off + ln
	if end > uint64(len(data)) {
		end = uint64(len(data))
	}

	marker := byte('m')
	if end == uint64(len(data)) {
		marker = 'l'
	}

	return string(marker) + string(data[off:end]), nil
}
