package dispatch

import (
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/hollowmark/avrbridge/internal/rsp"
)

// stagedFlash is the write-accumulation buffer from spec §3: allocated on
// vFlashErase, sized to the full flash image, initialized to 0xFF,
// accumulates vFlashWrite fragments at their offsets, and committed
// page-aligned by vFlashDone.
type stagedFlash struct {
	buf []byte

	// maxAddr is the high-water mark of bytes actually written by
	// vFlashWrite; vFlashDone commits only [0, maxAddr), not the whole
	// allocated image.
	maxAddr int
}

func newStagedFlash(size int) *stagedFlash {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = 0xFF
	}

	return &stagedFlash{buf: buf}
}

func (d *Dispatcher) handleFlashErase(cmd string) (string, error) {
	if err := d.adapter.EnableProgramming(); err != nil {
		d.log.Warn("dispatch: enable programming for flash erase: %v", err)
		return rsp.Err(), nil
	}

	if err := d.adapter.EraseProgramMemory(); err != nil {
		d.log.Warn("dispatch: erase program memory: %v", err)
		return rsp.Err(), nil
	}

	d.flash = newStagedFlash(d.dev.FlashSizeBytes)

	return rsp.OK, nil
}

// handleFlashWrite implements "vFlashWrite:<addr>:<data>", where <data> is
// raw binary bytes rather than hex. The framer has already removed the
// '}' escapes by the time the payload reaches the dispatcher.
func (d *Dispatcher) handleFlashWrite(cmd string) (string, error) {
	if d.flash == nil {
		return rsp.Err(), nil
	}

	rest := strings.TrimPrefix(cmd, "vFlashWrite:")

	colon := strings.IndexByte(rest, ':')
	if colon < 0 {
		return rsp.Err(), nil
	}

	addr, err := strconv.ParseUint(rest[:colon], 16, 32)
	if err != nil {
		return rsp.Err(), nil
	}

	data := []byte(rest[colon+1:])

	if int(addr)+len(data) > len(d.flash.buf) {
		return rsp.Err(), nil
	}

	copy(d.flash.buf[addr:], data)

	if int(addr)+len(data) > d.flash.maxAddr {
		d.flash.maxAddr = int(addr) + len(data)
	}

	return rsp.OK, nil
}

func (d *Dispatcher) handleFlashDone() (string, error) {
	if d.flash == nil {
		return rsp.Err(), nil
	}

	pageSize := d.dev.FlashPageBytes()
	if pageSize == 0 {
		pageSize = len(d.flash.buf)
	}

	maxAddr := d.flash.maxAddr

	for off := 0; off < maxAddr; off += pageSize {
		end := off + pageSize
		if end > maxAddr {
			end = maxAddr
		}

		if err := d.adapter.WriteMemory(uint32(off), d.flash.buf[off:end]); err != nil {
			d.log.Warn("dispatch: commit flash page at %#x: %v", off, err)

			if disableErr := d.adapter.DisableProgramming(); disableErr != nil {
				d.log.Warn("dispatch: disable programming after failed commit: %v", disableErr)
			}

			d.flash = nil

			return rsp.Err(), nil
		}
	}

	digest := blake2b.Sum256(d.flash.buf[:maxAddr])
	d.log.Info("dispatch: committed %d flash bytes, digest %x", maxAddr, digest[:8])

	if err := d.adapter.DisableProgramming(); err != nil {
		d.log.Warn("dispatch: disable programming after flash commit: %v", err)
	}

	d.flash = nil

	return rsp.OK, nil
}

// unescapeBinary reverses GDB's 'X'/vFlashWrite binary escaping: 0x7D
// escapes the following byte XORed with 0x20.
func unescapeBinary(data []byte) []byte {
	out := make([]byte, 0, len(data))

	for i := 0; i < len(data); i++ {
		if data[i] == 0x7D && i+1 < len(data) {
			i++
			out = append(out, data[i]^0x20)

			continue
		}

		out = append(out, data[i])
	}

	return out
}
