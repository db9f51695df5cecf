package bridge

import (
	"errors"
	"io"
	"net"

	"github.com/hollowmark/avrbridge/internal/consoleio"
	"github.com/hollowmark/avrbridge/internal/dispatch"
	"github.com/hollowmark/avrbridge/internal/rsp"
)

// serveConn runs one debugger session to completion: frame packets off
// conn, hand each payload to d, and write back the reply. It returns nil
// on a clean debugger disconnect (EOF) so the caller can go back to
// accepting the next connection.
func serveConn(conn net.Conn, d *dispatch.Dispatcher, log *consoleio.Logger) error {
	defer conn.Close()

	tuneConn(conn)

	framer := rsp.NewFramer(conn, conn)

	for {
		payload, _, err := framer.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Info("bridge: debugger disconnected")
				return nil
			}

			return err
		}

		reply, err := d.Dispatch(payload)
		if err != nil {
			log.Error("bridge: dispatch error: %v", err)
			return err
		}

		if err := framer.SendString(reply); err != nil {
			if errors.Is(err, io.EOF) {
				log.Info("bridge: debugger disconnected")
				return nil
			}

			return err
		}
	}
}
