// Package device describes the AVR part connected to the probe: flash and
// EEPROM geometry, the interrupt vector table size, and the named I/O
// register map used to answer qRavr.io_reg queries.
//
// The descriptor model is grounded on the jtag_device_def_type table in the
// original implementation's devices/*.cpp files, trimmed to the fields this
// bridge actually consults: the mkI-era shadow-register bitmaps
// (ucReadIO/ucWriteIO and friends) addressed a programming mode this bridge
// does not implement and are dropped.
package device

// IORegFlags marks side-effecting behavior of an I/O register read.
type IORegFlags uint8

// IORegReadSideEffect marks a register whose read has a side effect (for
// example clearing a UART RX-ready flag), mirroring IO_REG_RSE upstream.
// GDB's memory-inspection commands must not touch these speculatively.
const IORegReadSideEffect IORegFlags = 0x01

// IORegister names one memory-mapped I/O register for the 'qRavr.io_reg'
// monitor query.
type IORegister struct {
	Name    string     `json:"name"`
	Address uint16     `json:"address"`
	Flags   IORegFlags `json:"flags"`
}

// SideEffecting reports whether reading this register may alter device state.
func (r IORegister) SideEffecting() bool { return r.Flags&IORegReadSideEffect != 0 }

// Descriptor is the static geometry of one AVR part.
type Descriptor struct {
	// Name is the part identifier accepted by the --device flag / 'device' config key.
	Name string `json:"name"`

	// SignatureWord is the last two bytes of the device signature reported
	// by the part (the leading 0x1E manufacturer byte is omitted), packed
	// into the low 16 bits, e.g. 0x9206 for attiny45.
	SignatureWord uint32 `json:"signature_word"`

	// FlashPageWords is the size in words of one flash page, the unit the
	// probe erases and programs.
	FlashPageWords int `json:"flash_page_words"`

	// FlashSizeBytes is the total flash capacity in bytes.
	FlashSizeBytes int `json:"flash_size_bytes"`

	// EepromPageSize is the size in bytes of one EEPROM page.
	EepromPageSize int `json:"eeprom_page_size"`

	// VectorTableBytes is the length in bytes of the reset/interrupt vector
	// table at the base of flash; 'jump to 0' single-word devices still
	// report their true table length here.
	VectorTableBytes int `json:"vector_table_bytes"`

	// StatusAreaBase is the data-space address of the three contiguous
	// status registers SPL, SPH, SREG (0x5D on the built-in parts), read by
	// probe.Adapter.ReadStatusArea.
	StatusAreaBase uint32 `json:"status_area_base"`

	// IORegisters is the named I/O register map, or nil if unknown.
	IORegisters []IORegister `json:"io_registers,omitempty"`
}

// FlashPageBytes returns the page size in bytes (words are 16 bits on AVR).
func (d Descriptor) FlashPageBytes() int { return d.FlashPageWords * 2 }

// LookupIORegister returns the descriptor for the register at addr, if known.
func (d Descriptor) LookupIORegister(addr uint16) (IORegister, bool) {
	for _, r := range d.IORegisters {
		if r.Address == addr {
			return r, true
		}
	}

	return IORegister{}, false
}
