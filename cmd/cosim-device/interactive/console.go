// Package interactive provides the interactive command-line interface
// for cosim-device.
package interactive

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/cosim-bus/cosim-go/pkg/wire"
)

// Bus is the device-side bus connection the console drives.
type Bus interface {
	SetIRQ(line uint32, level wire.IRQLevel) error
	RegisterEvent(expire uint64, eventID uint32, payload uint64) error
	Shutdown() error
	DMARead(ctx context.Context, addr uint64, length uint32) ([]byte, error)
	DMAWrite(ctx context.Context, addr uint64, data []byte) error
	GetTime(ctx context.Context) (uint64, error)
}

// Register is one row of the register dump.
type Register struct {
	Name   string
	Offset uint64
	Value  uint32
}

// Config wires the console to a device.
type Config struct {
	Bus Bus

	// IRQLine is the default line for the irq command.
	IRQLine uint32

	// Registers returns the current register file (optional).
	Registers func() []Register

	// RequestTimeout bounds DMA and time requests issued from the prompt.
	RequestTimeout time.Duration
}

// Console handles interactive mode for cosim-device.
type Console struct {
	config Config
	rl     *readline.Instance
	out    io.Writer
}

// New creates a console reading from the terminal.
func New(cfg Config) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "device> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	c := newConsole(cfg, rl.Stdout())
	c.rl = rl
	return c, nil
}

func newConsole(cfg Config, out io.Writer) *Console {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	return &Console{config: cfg, out: out}
}

// Bind connects the console to a registered device. It must be called
// before Run when the console was created ahead of the connection.
func (c *Console) Bind(bus Bus, registers func() []Register) {
	c.config.Bus = bus
	c.config.Registers = registers
}

// Stdout returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (c *Console) Stdout() io.Writer {
	return c.out
}

// Run starts the interactive command loop. It calls cancel when the user
// quits.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}

		if quit := c.Execute(ctx, line); quit {
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}
	}
}

// Execute runs one command line and reports whether the user asked to quit.
func (c *Console) Execute(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()
	case "irq":
		c.cmdIRQ(args)
	case "event", "ev":
		c.cmdEvent(ctx, args)
	case "dma-read", "dr":
		c.cmdDMARead(ctx, args)
	case "dma-write", "dw":
		c.cmdDMAWrite(ctx, args)
	case "time", "t":
		c.cmdTime(ctx)
	case "regs":
		c.cmdRegs()
	case "shutdown":
		c.cmdShutdown()
	case "quit", "exit", "q":
		return true
	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
cosim-device Commands:
  Interrupts:
    irq <raise|lower|pulse> [line]   - Drive an interrupt line

  Events:
    event <delay-ns> [id] [payload]  - Schedule an event relative to now
    time                             - Show guest virtual time

  Guest memory:
    dma-read <addr> <len>            - Read guest memory
    dma-write <addr> <hex>           - Write guest memory (e.g. dma-write 0x1000 deadbeef)

  Device:
    regs                             - Show the register file
    shutdown                         - Ask the bus to stop the guest

  General:
    help                             - Show this help
    quit                             - Exit device`)
}

func (c *Console) cmdIRQ(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "Usage: irq <raise|lower|pulse> [line]")
		return
	}
	level, err := parseLevel(args[0])
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	line := c.config.IRQLine
	if len(args) > 1 {
		n, err := strconv.ParseUint(args[1], 0, 32)
		if err != nil {
			fmt.Fprintf(c.out, "Invalid line: %s\n", args[1])
			return
		}
		line = uint32(n)
	}
	if err := c.config.Bus.SetIRQ(line, level); err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "IRQ %d %s\n", line, level)
}

func parseLevel(s string) (wire.IRQLevel, error) {
	switch strings.ToLower(s) {
	case "raise", "1", "high":
		return wire.IRQRaise, nil
	case "lower", "0", "low":
		return wire.IRQLower, nil
	case "pulse":
		return wire.IRQPulse, nil
	}
	return 0, fmt.Errorf("unknown level %q", s)
}

func (c *Console) cmdEvent(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "Usage: event <delay-ns> [id] [payload]")
		return
	}
	delay, err := strconv.ParseUint(args[0], 0, 64)
	if err != nil {
		fmt.Fprintf(c.out, "Invalid delay: %s\n", args[0])
		return
	}
	var id, payload uint64
	if len(args) > 1 {
		if id, err = strconv.ParseUint(args[1], 0, 32); err != nil {
			fmt.Fprintf(c.out, "Invalid id: %s\n", args[1])
			return
		}
	}
	if len(args) > 2 {
		if payload, err = strconv.ParseUint(args[2], 0, 64); err != nil {
			fmt.Fprintf(c.out, "Invalid payload: %s\n", args[2])
			return
		}
	}

	now, err := c.now(ctx)
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	if err := c.config.Bus.RegisterEvent(now+delay, uint32(id), payload); err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Event %d scheduled at %d ns\n", id, now+delay)
}

func (c *Console) now(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()
	return c.config.Bus.GetTime(ctx)
}

func (c *Console) cmdTime(ctx context.Context) {
	now, err := c.now(ctx)
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Virtual time: %d ns (%s)\n", now, time.Duration(now))
}

func (c *Console) cmdDMARead(ctx context.Context, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.out, "Usage: dma-read <addr> <len>")
		return
	}
	addr, err := strconv.ParseUint(args[0], 0, 64)
	if err != nil {
		fmt.Fprintf(c.out, "Invalid address: %s\n", args[0])
		return
	}
	n, err := strconv.ParseUint(args[1], 0, 32)
	if err != nil {
		fmt.Fprintf(c.out, "Invalid length: %s\n", args[1])
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()
	data, err := c.config.Bus.DMARead(ctx, addr, uint32(n))
	if err != nil {
		fmt.Fprintf(c.out, "Read failed: %v\n", err)
		return
	}
	fmt.Fprint(c.out, hex.Dump(data))
}

func (c *Console) cmdDMAWrite(ctx context.Context, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.out, "Usage: dma-write <addr> <hex>")
		return
	}
	addr, err := strconv.ParseUint(args[0], 0, 64)
	if err != nil {
		fmt.Fprintf(c.out, "Invalid address: %s\n", args[0])
		return
	}
	data, err := hex.DecodeString(strings.TrimPrefix(strings.Join(args[1:], ""), "0x"))
	if err != nil {
		fmt.Fprintf(c.out, "Invalid data: %v\n", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()
	if err := c.config.Bus.DMAWrite(ctx, addr, data); err != nil {
		fmt.Fprintf(c.out, "Write failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "OK (%d bytes)\n", len(data))
}

func (c *Console) cmdRegs() {
	if c.config.Registers == nil {
		fmt.Fprintln(c.out, "No registers")
		return
	}
	for _, r := range c.config.Registers() {
		fmt.Fprintf(c.out, "  %-8s +%#04x = %#010x (%d)\n", r.Name, r.Offset, r.Value, r.Value)
	}
}

func (c *Console) cmdShutdown() {
	if err := c.config.Bus.Shutdown(); err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, "Shutdown requested")
}
