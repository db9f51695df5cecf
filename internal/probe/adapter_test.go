package probe_test

import (
	"encoding/binary"
	"testing"

	"go.uber.org/mock/gomock"

	"github.com/hollowmark/avrbridge/internal/consoleio"
	"github.com/hollowmark/avrbridge/internal/device"
	"github.com/hollowmark/avrbridge/internal/probe"
)

func testDevice() device.Descriptor {
	return device.Descriptor{
		Name:             "atmega644p",
		StatusAreaBase:   0x20,
		FlashSizeBytes:   65536,
		FlashPageWords:   128,
		VectorTableBytes: 124,
	}
}

func wordBytes(word uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, word)

	return buf
}

func TestReadPCCachesValue(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMockTransport(ctrl)

	tr.EXPECT().Send(gomock.Any()).Return(wordBytes(0x80), nil).Times(1)

	a := probe.NewAdapter(tr, testDevice(), consoleio.NewLogger(false, false))

	pc, err := a.ReadPC()
	if err != nil {
		t.Fatalf("ReadPC: %v", err)
	}

	if pc != 0x100 {
		t.Fatalf("pc = %#x, want %#x (word 0x80 doubled)", pc, 0x100)
	}

	// Second call must hit the cache, not the transport again.
	pc, err = a.ReadPC()
	if err != nil {
		t.Fatalf("ReadPC (cached): %v", err)
	}

	if pc != 0x100 {
		t.Fatalf("cached pc = %#x, want %#x", pc, 0x100)
	}
}

func TestWritePCInvalidatesCache(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMockTransport(ctrl)

	gomock.InOrder(
		tr.EXPECT().Send(gomock.Any()).Return(wordBytes(0x80), nil), // initial ReadPC
		tr.EXPECT().Send(gomock.Any()).Return(nil, nil),             // WritePC
		tr.EXPECT().Send(gomock.Any()).Return(wordBytes(0x90), nil), // ReadPC after write
	)

	a := probe.NewAdapter(tr, testDevice(), consoleio.NewLogger(false, false))

	if _, err := a.ReadPC(); err != nil {
		t.Fatalf("ReadPC: %v", err)
	}

	if err := a.WritePC(0x300); err != nil {
		t.Fatalf("WritePC: %v", err)
	}

	pc, err := a.ReadPC()
	if err != nil {
		t.Fatalf("ReadPC after write: %v", err)
	}

	if pc != 0x120 {
		t.Fatalf("pc after invalidate+read = %#x, want %#x", pc, 0x120)
	}
}

func TestReadPCRetriesOnceAfterWrongMode(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMockTransport(ctrl)

	gomock.InOrder(
		tr.EXPECT().Send(gomock.Any()).Return(nil, probe.ErrWrongMode),
		tr.EXPECT().Send(gomock.Any()).Return(nil, nil), // the Stop() call
		tr.EXPECT().RecvEvent(gomock.Any()).Return(nil, nil),
		tr.EXPECT().Send(gomock.Any()).Return(wordBytes(0x10), nil),
	)

	a := probe.NewAdapter(tr, testDevice(), consoleio.NewLogger(false, false))

	pc, err := a.ReadPC()
	if err != nil {
		t.Fatalf("ReadPC: %v", err)
	}

	if pc != 0x20 {
		t.Fatalf("pc = %#x, want %#x", pc, 0x20)
	}
}

func TestSetPCFromEventDoublesWordAddress(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMockTransport(ctrl)

	a := probe.NewAdapter(tr, testDevice(), consoleio.NewLogger(false, false))
	a.SetPCFromEvent(0x50)

	pc, err := a.ReadPC()
	if err != nil {
		t.Fatalf("ReadPC: %v", err)
	}

	if pc != 0xa0 {
		t.Fatalf("pc = %#x, want %#x", pc, 0xa0)
	}
}

func TestStopAwaitsEvent(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMockTransport(ctrl)

	tr.EXPECT().Send(gomock.Any()).Return(nil, nil)
	tr.EXPECT().RecvEvent(gomock.Any()).Return([]byte{0x01}, nil)

	a := probe.NewAdapter(tr, testDevice(), consoleio.NewLogger(false, false))
	if err := a.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestEnableDisableProgramming(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMockTransport(ctrl)

	tr.EXPECT().ProgramMode(true).Return(nil)
	tr.EXPECT().ProgramMode(false).Return(nil)

	a := probe.NewAdapter(tr, testDevice(), consoleio.NewLogger(false, false))

	if err := a.EnableProgramming(); err != nil {
		t.Fatalf("EnableProgramming: %v", err)
	}

	if err := a.DisableProgramming(); err != nil {
		t.Fatalf("DisableProgramming: %v", err)
	}
}
