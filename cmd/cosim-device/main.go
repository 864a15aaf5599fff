// Command cosim-device is an example device model for the co-simulation
// bus: a periodic timer with an interrupt line.
//
// Usage:
//
//	cosim-device [flags]
//
// Flags:
//
//	-addr string          Bus attach point: tcp://host:port or unix:///path
//	-name string          Device name (default "timer")
//	-discover             Find the attach point called -name over mDNS
//	-base uint            Register base address (default 0x10000000)
//	-size uint            Region size (default 0x1000)
//	-irq uint             Interrupt line (default 5)
//	-endianness string    Register value byte order: little, big, native
//	-interactive          Start an interactive console
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-protocol-log string  Write a protocol capture to this file
//
// Examples:
//
//	# Attach to a bus waiting on a unix socket
//	cosim-device -addr unix:///tmp/cosim-timer.sock
//
//	# Find an advertised bus and drive it by hand
//	cosim-device -discover -name timer -interactive
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cosim-bus/cosim-go/cmd/cosim-device/interactive"
	"github.com/cosim-bus/cosim-go/pkg/discovery"
	"github.com/cosim-bus/cosim-go/pkg/log"
	"github.com/cosim-bus/cosim-go/pkg/peer"
	"github.com/cosim-bus/cosim-go/pkg/wire"
)

// Config holds the device configuration.
type Config struct {
	Addr        string
	Name        string
	Discover    bool
	Base        uint64
	Size        uint64
	IRQ         uint
	Endianness  string
	Interactive bool
	LogLevel    string
	ProtocolLog string
}

var config Config

func init() {
	flag.StringVar(&config.Addr, "addr", "", "Bus attach point: tcp://host:port or unix:///path")
	flag.StringVar(&config.Name, "name", "timer", "Device name")
	flag.BoolVar(&config.Discover, "discover", false, "Find the attach point called -name over mDNS")
	flag.Uint64Var(&config.Base, "base", 0x1000_0000, "Register base address")
	flag.Uint64Var(&config.Size, "size", 0x1000, "Region size")
	flag.UintVar(&config.IRQ, "irq", 5, "Interrupt line")
	flag.StringVar(&config.Endianness, "endianness", "little", "Register value byte order: little, big, native")
	flag.BoolVar(&config.Interactive, "interactive", false, "Start an interactive console")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&config.ProtocolLog, "protocol-log", "", "Write a protocol capture to this file")
}

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func validateConfig(cfg Config) (wire.Endianness, error) {
	if cfg.Name == "" {
		return 0, errors.New("name is required")
	}
	if cfg.Addr == "" && !cfg.Discover {
		return 0, errors.New("either -addr or -discover is required")
	}
	if cfg.Size < RegionSize {
		return 0, fmt.Errorf("size must be at least %#x, got %#x", RegionSize, cfg.Size)
	}
	if cfg.Base+cfg.Size < cfg.Base {
		return 0, fmt.Errorf("region %#x+%#x wraps the address space", cfg.Base, cfg.Size)
	}
	return wire.ParseEndianness(cfg.Endianness)
}

func newLogger(level string, w io.Writer) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l})), nil
}

func run(ctx context.Context, cfg Config, stderr io.Writer) error {
	endianness, err := validateConfig(cfg)
	if err != nil {
		return err
	}

	var console *interactive.Console
	logOut := stderr
	if cfg.Interactive {
		// Created first so logs go through readline.
		console, err = interactive.New(interactive.Config{IRQLine: uint32(cfg.IRQ)})
		if err != nil {
			return err
		}
		logOut = console.Stdout()
	}
	logger, err := newLogger(cfg.LogLevel, logOut)
	if err != nil {
		return err
	}

	var capture log.Logger
	if cfg.ProtocolLog != "" {
		fl, err := log.NewFileLogger(cfg.ProtocolLog)
		if err != nil {
			return fmt.Errorf("protocol log: %w", err)
		}
		defer fl.Close()
		capture = fl
	}

	addr := cfg.Addr
	if cfg.Discover {
		addr, err = discover(ctx, cfg.Name)
		if err != nil {
			return err
		}
		logger.Info("discovered attach point", "name", cfg.Name, "addr", addr)
	}

	timer := NewTimer(cfg.Base, uint32(cfg.IRQ), endianness.ByteOrder(), logger)
	client, err := peer.DialRetry(ctx, addr, peer.Config{
		Name:           cfg.Name,
		Endianness:     endianness,
		IOMem:          []wire.Region{{Base: cfg.Base, Size: cfg.Size}},
		Handler:        timer,
		Lifecycle:      timer,
		Events:         timer,
		Logger:         logger,
		ProtocolLogger: capture,
	}, peer.BackoffConfig{})
	if err != nil {
		return fmt.Errorf("attach to %s: %w", addr, err)
	}
	defer client.Close()
	timer.Attach(client)

	logger.Info("registered",
		"name", client.Name(),
		"connection", client.ConnectionID(),
		"region", timer.Region().String(),
		"wire_endianness", client.WireEndianness().String())

	if console != nil {
		consoleCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		console.Bind(client, func() []interactive.Register { return timer.View() })
		go console.Run(consoleCtx, cancel)
		ctx = consoleCtx
	}

	select {
	case <-ctx.Done():
		logger.Info("detaching")
		client.Close()
		<-client.Done()
		return nil
	case <-client.Done():
		if err := client.Err(); err != nil {
			return fmt.Errorf("bus connection lost: %w", err)
		}
		logger.Info("guest exited")
		return nil
	}
}

func discover(ctx context.Context, name string) (string, error) {
	browser := discovery.NewMDNSBrowser(discovery.DefaultBrowserConfig())
	svc, err := browser.Find(ctx, name)
	if err != nil {
		return "", fmt.Errorf("discover %q: %w", name, err)
	}
	return svc.DialAddress()
}

// View lists the register file for the console.
func (t *Timer) View() []interactive.Register {
	r := t.Registers()
	return []interactive.Register{
		{Name: "CTRL", Offset: RegCtrl, Value: r.Ctrl},
		{Name: "PERIOD", Offset: RegPeriod, Value: r.Period},
		{Name: "COUNT", Offset: RegCount, Value: r.Count},
		{Name: "SCRATCH", Offset: RegScratch, Value: r.Scratch},
	}
}
