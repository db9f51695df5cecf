package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sync/errgroup"

	quic "github.com/quic-go/quic-go"

	"github.com/hollowmark/avrbridge/internal/breakpoint"
	"github.com/hollowmark/avrbridge/internal/config"
	"github.com/hollowmark/avrbridge/internal/consoleio"
	"github.com/hollowmark/avrbridge/internal/device"
	"github.com/hollowmark/avrbridge/internal/dispatch"
	"github.com/hollowmark/avrbridge/internal/events"
	"github.com/hollowmark/avrbridge/internal/probe"
	"github.com/hollowmark/avrbridge/internal/rsp"
)

// hardwareSlots is the number of hardware breakpoint/watchpoint
// comparators AVR OCD implementations expose (spec §3's breakpoint
// table sizing).
const hardwareSlots = 3

// Supervisor owns the accept loop(s) and constructs one Dispatcher per
// debugger session, the Go-native replacement for avarice's
// one-process-per-run global state (spec §9's redesign of C6's statics
// into per-session structs).
type Supervisor struct {
	cfg       config.Session
	dev       device.Descriptor
	transport probe.Transport
	log       *consoleio.Logger

	ln     net.Listener
	quicLn *quic.Listener
}

// New constructs a Supervisor bound to a freshly opened TCP listener. If
// cfg.QUICAddr is non-empty, an additional QUIC listener is opened
// alongside it (spec §7's optional QUIC debugger transport).
func New(cfg config.Session, dev device.Descriptor, transport probe.Transport, log *consoleio.Logger) (*Supervisor, error) {
	ln, err := Listen(cfg)
	if err != nil {
		return nil, err
	}

	s := &Supervisor{cfg: cfg, dev: dev, transport: transport, log: log, ln: ln}

	if cfg.QUICAddr != "" {
		qln, err := ListenQUIC(cfg.QUICAddr)
		if err != nil {
			_ = ln.Close()
			return nil, err
		}

		s.quicLn = qln
	}

	return s, nil
}

// Run serves debugger sessions until ctx is canceled. Each accept loop
// (TCP, and QUIC when enabled) runs its session to completion before it
// calls Accept again. Each session's errors are logged rather than
// propagated, so a disconnect doesn't tear down the whole bridge; only a
// listener-level failure stops Run.
func (s *Supervisor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()

		if s.quicLn != nil {
			_ = s.quicLn.Close()
		}

		return s.ln.Close()
	})

	g.Go(func() error {
		for {
			conn, err := s.ln.Accept()
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}

				return fmt.Errorf("bridge: accept: %w", err)
			}

			s.log.Info("bridge: debugger connected from %s", conn.RemoteAddr())

			if err := s.runSession(conn); err != nil {
				s.log.Error("bridge: session ended: %v", err)
			}
		}
	})

	if s.quicLn != nil {
		g.Go(func() error {
			for {
				conn, err := AcceptQUICSession(gctx, s.quicLn)
				if err != nil {
					if gctx.Err() != nil {
						return nil
					}

					return fmt.Errorf("bridge: quic accept: %w", err)
				}

				s.log.Info("bridge: quic debugger connected from %s", conn.RemoteAddr())

				if err := s.runSession(conn); err != nil {
					s.log.Error("bridge: quic session ended: %v", err)
				}
			}
		})
	}

	err := g.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}

	return err
}

// runSession builds a fresh breakpoint table, adapter-sharing dispatcher
// and event pump for one connection, then drives it to completion.
func (s *Supervisor) runSession(conn net.Conn) error {
	adapter := probe.NewAdapter(s.transport, s.dev, s.log)
	bpt := breakpoint.NewTable(hardwareSlots)

	fd, err := connFD(conn)
	if err != nil {
		return fmt.Errorf("bridge: session fd: %w", err)
	}

	pump := events.NewPump(fd, s.transport, adapter, s.log)

	framer := rsp.NewFramer(conn, conn)
	console := rsp.NewConsoleWriter(framer)

	d := dispatch.New(s.dev, adapter, bpt, pump, console, s.log)
	d.IgnoreInterrupts = s.cfg.IgnoreInterrupts

	return serveConn(conn, d, s.log)
}

// Close releases the listener(s) without waiting for Run's context.
func (s *Supervisor) Close() error {
	err := s.ln.Close()

	if s.quicLn != nil {
		if qerr := s.quicLn.Close(); qerr != nil && err == nil {
			err = qerr
		}
	}

	return err
}

// connFD extracts the raw file descriptor backing a TCP connection so the
// event pump can select() on it directly. QUIC sessions have no kernel
// fd; connFD returns -1 for them, which unix.Select treats as an
// always-not-ready descriptor (see events.Pump.selectOnce).
func connFD(conn net.Conn) (int, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1, nil
	}

	rawConn, err := sc.SyscallConn()
	if err != nil {
		return -1, err
	}

	var fd int

	ctrlErr := rawConn.Control(func(f uintptr) { fd = int(f) })
	if ctrlErr != nil {
		return -1, ctrlErr
	}

	return fd, nil
}
