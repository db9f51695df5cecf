package bridge

import (
	"net"
	"testing"
	"time"

	"github.com/hollowmark/avrbridge/internal/breakpoint"
	"github.com/hollowmark/avrbridge/internal/consoleio"
	"github.com/hollowmark/avrbridge/internal/device"
	"github.com/hollowmark/avrbridge/internal/dispatch"
	"github.com/hollowmark/avrbridge/internal/events"
	"github.com/hollowmark/avrbridge/internal/probe"
)

// nopTransport never expects Send to be called by a "?" handshake, so a
// Send fails the test loudly instead of hanging; the other methods are no-ops.
type nopTransport struct{ t *testing.T }

func (n nopTransport) Send([]byte) ([]byte, error) {
	n.t.Fatal("unexpected Send on nopTransport")
	return nil, nil
}

func (n nopTransport) RecvEvent(time.Duration) ([]byte, error) { return nil, nil }
func (n nopTransport) ProgramMode(bool) error                  { return nil }
func (n nopTransport) Reset() error                            { return nil }

func testDispatcher(t *testing.T) *dispatch.Dispatcher {
	dev := device.Descriptor{Name: "test", FlashPageWords: 32, FlashSizeBytes: 4096}
	log := consoleio.NewLogger(false, false)
	adapter := probe.NewAdapter(nopTransport{t: t}, dev, log)
	bpt := breakpoint.NewTable(3)
	pump := events.NewPump(-1, nopTransport{t: t}, adapter, log)

	return dispatch.New(dev, adapter, bpt, pump, nil, log)
}

func TestServeConnHandshake(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	d := testDispatcher(t)
	log := consoleio.NewLogger(false, false)

	done := make(chan error, 1)
	go func() { done <- serveConn(server, d, log) }()

	if _, err := client.Write([]byte("$?#3f")); err != nil {
		t.Fatalf("write: %v", err)
	}

	ack := make([]byte, 1)
	if _, err := client.Read(ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}

	if ack[0] != '+' {
		t.Fatalf("expected ack '+', got %q", ack[0])
	}

	reply := make([]byte, 32)
	n, err := client.Read(reply)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}

	got := string(reply[:n])
	if got != "$S05#b8" {
		t.Fatalf("unexpected reply %q", got)
	}

	client.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serveConn returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("serveConn did not return after client close")
	}
}
