package bus

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/cosim-bus/cosim-go/pkg/log"
	"github.com/cosim-bus/cosim-go/pkg/transport"
	"github.com/cosim-bus/cosim-go/pkg/version"
	"github.com/cosim-bus/cosim-go/pkg/wire"
)

// DeviceConfig describes one attach point.
type DeviceConfig struct {
	// Name labels the attach point in logs and mDNS.
	Name string

	// Address is the listen address (see transport.ParseAddress).
	Address string

	// ConnectTimeout bounds how long Attach waits for the device to
	// register (0 = until the Attach context ends).
	ConnectTimeout time.Duration

	// Hotplug keeps the attach point accepting after Attach returns.
	// Devices registering late receive Init right after registration.
	Hotplug bool
}

// Config configures a Bus.
type Config struct {
	// BusVersion must match the bus_version of every Register request.
	BusVersion uint32

	// WireEndianness is announced to devices in the Endianness response and
	// used for every packet after it.
	WireEndianness wire.Endianness

	// IRQCount is the number of guest interrupt lines devices may drive.
	IRQCount uint32

	// RequestTimeout bounds each round trip (0 = wait for the transport).
	// A timed out device is closed.
	RequestTimeout time.Duration

	// WriteTimeout bounds a single packet write (0 = no timeout).
	WriteTimeout time.Duration

	// MaxPacketSize bounds accepted frames.
	MaxPacketSize uint32

	// Devices lists the attach points served by Attach.
	Devices []DeviceConfig

	// Logger receives operational logs. Defaults to slog.Default().
	Logger *slog.Logger

	// ProtocolLogger receives the protocol capture (optional).
	ProtocolLogger log.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BusVersion:     version.BusVersion,
		WireEndianness: wire.EndianLittle,
		IRQCount:       32,
		WriteTimeout:   5 * time.Second,
		MaxPacketSize:  wire.DefaultMaxPacketSize,
	}
}

// Validate checks the config.
func (c *Config) Validate() error {
	if !c.WireEndianness.Valid() {
		return fmt.Errorf("%w: wire endianness %d", ErrInvalidConfig, c.WireEndianness)
	}
	if c.MaxPacketSize != 0 && c.MaxPacketSize < wire.HeaderSize {
		return fmt.Errorf("%w: max packet size %d", ErrInvalidConfig, c.MaxPacketSize)
	}
	names := make(map[string]bool)
	for _, d := range c.Devices {
		if _, err := transport.ParseAddress(d.Address); err != nil {
			return fmt.Errorf("%w: device %q: %v", ErrInvalidConfig, d.Name, err)
		}
		if d.Name != "" && names[d.Name] {
			return fmt.Errorf("%w: duplicate device %q", ErrInvalidConfig, d.Name)
		}
		names[d.Name] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.BusVersion == 0 {
		c.BusVersion = version.BusVersion
	}
	if c.IRQCount == 0 {
		c.IRQCount = 32
	}
	if c.MaxPacketSize == 0 {
		c.MaxPacketSize = wire.DefaultMaxPacketSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.ProtocolLogger = log.OrNoop(c.ProtocolLogger)
	c.WireEndianness = c.WireEndianness.Resolve()
}
