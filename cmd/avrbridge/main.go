// Command avrbridge runs a GDB Remote Serial Protocol server that bridges
// an attached GDB session to an AVR target over a USB/serial on-chip
// debugging probe.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hollowmark/avrbridge/internal/bridge"
	"github.com/hollowmark/avrbridge/internal/config"
	"github.com/hollowmark/avrbridge/internal/consoleio"
	"github.com/hollowmark/avrbridge/internal/device"
	"github.com/hollowmark/avrbridge/internal/probe"
	"github.com/hollowmark/avrbridge/internal/probe/serialtransport"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "avrbridge:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("avrbridge", flag.ExitOnError)

	configPath := fs.String("config", "", "path to a JSON session config file")
	host := fs.String("host", "", "listen host, overrides config")
	port := fs.Int("port", 0, "listen port, overrides config")
	dev := fs.String("device", "", "target part name, overrides config")
	deviceDir := fs.String("device-dir", "", "directory of extra device descriptor JSON files")
	serialPath := fs.String("serial", "", "serial device path for the probe")
	serialBaud := fs.Uint("baud", 0, "serial baud rate, overrides config")
	ignoreInterrupts := fs.Bool("ignore-interrupts", false, "step over interrupt handlers instead of stopping in them")
	verbose := fs.Bool("verbose", false, "enable verbose logging")
	debug := fs.Bool("debug", false, "enable debug logging")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.Default()

	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}

		cfg = loaded
	}

	applyOverrides(&cfg, *host, *port, *dev, *deviceDir, *serialPath, uint32(*serialBaud), *ignoreInterrupts, *verbose, *debug)

	if err := cfg.Validate(); err != nil {
		return err
	}

	log := consoleio.NewLogger(cfg.Verbose, cfg.Debug)

	registry, err := device.NewRegistry(log)
	if err != nil {
		return fmt.Errorf("device registry: %w", err)
	}
	defer registry.Close()

	if cfg.DeviceDir != "" {
		if err := registry.WatchDir(cfg.DeviceDir); err != nil {
			return fmt.Errorf("device registry: watch %s: %w", cfg.DeviceDir, err)
		}
	}

	descriptor, ok := registry.Lookup(cfg.Device)
	if !ok {
		return fmt.Errorf("unknown device %q", cfg.Device)
	}

	transport, err := openTransport(cfg)
	if err != nil {
		return err
	}
	defer transport.Close()

	sup, err := bridge.New(cfg, descriptor, transport, log)
	if err != nil {
		return err
	}
	defer sup.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("avrbridge: listening on %s:%d for device %s", cfg.ListenHost, cfg.ListenPort, cfg.Device)

	return sup.Run(ctx)
}

func applyOverrides(cfg *config.Session, host string, port int, dev, deviceDir, serialPath string, serialBaud uint32, ignoreInterrupts, verbose, debug bool) {
	if host != "" {
		cfg.ListenHost = host
	}

	if port != 0 {
		cfg.ListenPort = port
	}

	if dev != "" {
		cfg.Device = dev
	}

	if deviceDir != "" {
		cfg.DeviceDir = deviceDir
	}

	if serialPath != "" {
		cfg.SerialPath = serialPath
	}

	if serialBaud != 0 {
		cfg.SerialBaud = serialBaud
	}

	if ignoreInterrupts {
		cfg.IgnoreInterrupts = true
	}

	if verbose {
		cfg.Verbose = true
	}

	if debug {
		cfg.Debug = true
	}
}

// openTransport opens the serial connection to the probe, or fails with a
// clear error if no serial path was configured.
func openTransport(cfg config.Session) (*serialtransport.Transport, error) {
	if cfg.SerialPath == "" {
		return nil, fmt.Errorf("no serial path configured (set --serial or config.serial_path)")
	}

	return serialtransport.Open(cfg.SerialPath, cfg.SerialBaud)
}

var _ probe.Transport = (*serialtransport.Transport)(nil)
