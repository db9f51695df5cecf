// Package bridge ties the RSP dispatcher to a TCP (and optionally QUIC)
// transport, accepting exactly one debugger session at a time the way
// avarice's single-client server loop does.
package bridge

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"github.com/hollowmark/avrbridge/internal/config"
)

// Listen binds a TCP listener on cfg.ListenHost:cfg.ListenPort, applying
// the socket options an embedded debug server wants: SO_REUSEADDR so a
// restart doesn't wait out TIME_WAIT, and TCP_NODELAY/SO_KEEPALIVE per
// accepted connection (applied in tuneConn, since those are per-conn, not
// per-listener, options).
//
// Single-client enforcement (spec §6: exactly one debugger attached at a
// time) is handled by Supervisor.Run's sequential accept loop rather than
// a wrapping limiter: the event pump needs the accepted connection's raw
// file descriptor for its select() wait (see connFD in supervisor.go),
// and net/http-style listener wrappers that embed net.Conn as an
// interface field don't promote SyscallConn, which would make that fd
// unreachable. See DESIGN.md for the fuller rationale.
func Listen(cfg config.Session) (net.Listener, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	addr := fmt.Sprintf("%s:%d", cfg.ListenHost, cfg.ListenPort)

	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var ctrlErr error

			err := c.Control(func(fd uintptr) {
				ctrlErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}

			return ctrlErr
		},
	}

	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bridge: listen %s: %w", addr, err)
	}

	return ln, nil
}

// tuneConn applies the teacher's per-connection socket tuning: disable
// Nagle (debugger round-trips are small and latency-sensitive) and
// enable TCP keepalive so a dead peer is noticed without an application
// timer.
func tuneConn(conn net.Conn) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}

	_ = tc.SetNoDelay(true)
	_ = tc.SetKeepAlive(true)
}
