package dispatch

import (
	"fmt"
	"strings"

	"github.com/hollowmark/avrbridge/internal/probe"
	"github.com/hollowmark/avrbridge/internal/rsp"
)

// handleIORegQuery implements 'qRavr.io_reg' (no arg: register count) and
// 'qRavr.io_reg:first,count' (semicolon-separated "name,hex" pairs), per
// spec §4.6. Registers with IORegReadSideEffect never get a speculative
// read: they report "[-- name --],00;" instead. A run of consecutive,
// consecutively-addressed non-side-effecting registers is read in one
// adapter call to minimize probe traffic.
func (d *Dispatcher) handleIORegQuery(arg string) (string, error) {
	if arg == "" {
		return fmt.Sprintf("%02x", len(d.dev.IORegisters)), nil
	}

	arg = strings.TrimPrefix(arg, ":")

	parts := strings.SplitN(arg, ",", 2)
	if len(parts) != 2 {
		return rsp.Err(), nil
	}

	first, _, ok1 := rsp.ParseHexInt(parts[0], 0)
	count, _, ok2 := rsp.ParseHexInt(parts[1], 0)

	if !ok1 || !ok2 || first < 0 || count < 0 {
		return rsp.Err(), nil
	}

	regs := d.dev.IORegisters
	if first >= len(regs) {
		return "", nil
	}

	end := first + count
	if end > len(regs) {
		end = len(regs)
	}

	var b strings.Builder

	i := first
	for i < end {
		if regs[i].SideEffecting() {
			fmt.Fprintf(&b, "[-- %s --],00;", regs[i].Name)
			i++

			continue
		}

		j := i + 1
		for j < end && !regs[j].SideEffecting() && regs[j].Address == regs[j-1].Address+1 {
			j++
		}

		lo := regs[i].Address
		hi := regs[j-1].Address

		values, err := d.adapter.ReadMemory(probe.DataSpaceOffset+uint32(lo), int(hi-lo)+1)
		if err != nil {
			for k := i; k < j; k++ {
				fmt.Fprintf(&b, "%s,00;", regs[k].Name)
			}

			i = j

			continue
		}

		for k := i; k < j; k++ {
			fmt.Fprintf(&b, "%s,%s;", regs[k].Name, rsp.EncodeBytes(values[regs[k].Address-lo:regs[k].Address-lo+1]))
		}

		i = j
	}

	return b.String(), nil
}
