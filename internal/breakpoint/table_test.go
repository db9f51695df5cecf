package breakpoint_test

import (
	"testing"

	"github.com/hollowmark/avrbridge/internal/breakpoint"
)

func TestAddDeleteCodeRoundTrip(t *testing.T) {
	tbl := breakpoint.NewTable(2)

	if err := tbl.Add(0x100, breakpoint.Code, 2); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if !tbl.CodeBreakpointAt(0x100) {
		t.Fatalf("CodeBreakpointAt(0x100) = false, want true")
	}

	tbl.Delete(0x100, breakpoint.Code)

	if tbl.CodeBreakpointAt(0x100) {
		t.Fatalf("CodeBreakpointAt(0x100) after delete = true, want false")
	}
}

func TestCodeOverflowsToSoftware(t *testing.T) {
	tbl := breakpoint.NewTable(1)

	if err := tbl.Add(0x10, breakpoint.Code, 2); err != nil {
		t.Fatalf("Add 1: %v", err)
	}

	if err := tbl.Add(0x20, breakpoint.Code, 2); err != nil {
		t.Fatalf("Add 2 (should overflow to software, not error): %v", err)
	}

	delta := tbl.Update()

	var sawSoftware bool
	for _, e := range delta.Add {
		if e.Resource == breakpoint.ResourceSoftware {
			sawSoftware = true
		}
	}

	if !sawSoftware {
		t.Fatalf("expected one software breakpoint after hardware pool exhausted")
	}
}

func TestDataBreakpointOverflowErrors(t *testing.T) {
	tbl := breakpoint.NewTable(1)

	if err := tbl.Add(0x10, breakpoint.WriteData, 1); err != nil {
		t.Fatalf("Add 1: %v", err)
	}

	if err := tbl.Add(0x20, breakpoint.WriteData, 1); err != breakpoint.ErrNoHardwareSlot {
		t.Fatalf("Add 2 err = %v, want ErrNoHardwareSlot", err)
	}
}

func TestUpdateReturnsDeltaOnce(t *testing.T) {
	tbl := breakpoint.NewTable(4)

	if err := tbl.Add(0x10, breakpoint.Code, 2); err != nil {
		t.Fatalf("Add: %v", err)
	}

	delta := tbl.Update()
	if len(delta.Add) != 1 {
		t.Fatalf("first Update: len(Add) = %d, want 1", len(delta.Add))
	}

	delta = tbl.Update()
	if len(delta.Add) != 0 || len(delta.Remove) != 0 {
		t.Fatalf("second Update: delta = %+v, want empty", delta)
	}
}

func TestSlotPoolBound(t *testing.T) {
	tbl := breakpoint.NewTable(2)

	for _, addr := range []uint32{0x10, 0x20, 0x30} {
		_ = tbl.Add(addr, breakpoint.Code, 2)
	}

	delta := tbl.Update()

	hwCount := 0
	for _, e := range delta.Add {
		if e.Resource == breakpoint.ResourceHardware {
			hwCount++
		}
	}

	if hwCount > 2 {
		t.Fatalf("hardware breakpoints in use = %d, want <= 2", hwCount)
	}
}
