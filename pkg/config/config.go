// Package config loads cosim-bus configuration files.
//
// A minimal file lists the devices to wait for:
//
//	wire_endianness: little
//	request_timeout: 2s
//	devices:
//	  - name: timer
//	    address: unix:///tmp/cosim-timer.sock
//	    connect_timeout: 30s
package config

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cosim-bus/cosim-go/pkg/bus"
	"github.com/cosim-bus/cosim-go/pkg/version"
	"github.com/cosim-bus/cosim-go/pkg/wire"
)

// File is the on-disk configuration.
type File struct {
	BusVersion     string        `yaml:"bus_version"`
	WireEndianness string        `yaml:"wire_endianness"`
	IRQCount       uint32        `yaml:"irq_count"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxPacketSize  uint32        `yaml:"max_packet_size"`

	// ProtocolLog is a capture file path written by log.FileLogger.
	ProtocolLog string `yaml:"protocol_log,omitempty"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level"`

	// Advertise announces TCP attach points over mDNS.
	Advertise bool `yaml:"advertise"`

	Devices []Device `yaml:"devices"`
	Guest   Guest    `yaml:"guest"`
	Clock   Clock    `yaml:"clock"`
}

// Device is one attach point.
type Device struct {
	Name           string        `yaml:"name"`
	Address        string        `yaml:"address"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	Hotplug        bool          `yaml:"hotplug"`
}

// Guest sizes the reference guest.
type Guest struct {
	RAMBase uint64 `yaml:"ram_base"`
	RAMSize uint64 `yaml:"ram_size"`
}

// Clock paces virtual time against the wall clock.
type Clock struct {
	// Tick is the wall-clock interval between advances.
	Tick time.Duration `yaml:"tick"`

	// Rate is virtual nanoseconds per wall nanosecond.
	Rate float64 `yaml:"rate"`
}

// Defaults for keys left out of a file.
const (
	DefaultRAMSize   = 64 << 20
	DefaultClockTick = time.Millisecond
	DefaultLogLevel  = "info"
)

// Default returns a configuration with every default applied.
func Default() *File {
	d := bus.DefaultConfig()
	return &File{
		BusVersion:     version.FromWire(d.BusVersion).String(),
		WireEndianness: d.WireEndianness.String(),
		IRQCount:       d.IRQCount,
		WriteTimeout:   d.WriteTimeout,
		MaxPacketSize:  d.MaxPacketSize,
		LogLevel:       DefaultLogLevel,
		Guest:          Guest{RAMSize: DefaultRAMSize},
		Clock:          Clock{Tick: DefaultClockTick, Rate: 1},
	}
}

// Load reads and validates the file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}
	f, err := Parse(data)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.File = path
			return nil, le
		}
		return nil, &LoadError{File: path, Message: err.Error()}
	}
	return f, nil
}

// Parse decodes YAML on top of Default and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (*File, error) {
	f := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil && !errors.Is(err, io.EOF) {
		return nil, &LoadError{Message: "failed to parse YAML", Cause: err}
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate checks values that the YAML types cannot express.
func (f *File) Validate() error {
	if _, err := version.Parse(f.BusVersion); err != nil {
		return fieldError("bus_version", "invalid version", err)
	}
	if _, err := wire.ParseEndianness(f.WireEndianness); err != nil {
		return fieldError("wire_endianness", "invalid endianness", err)
	}
	if _, err := f.Level(); err != nil {
		return fieldError("log_level", "invalid level", err)
	}
	if f.Guest.RAMSize == 0 {
		return fieldError("guest.ram_size", "must be positive", nil)
	}
	if f.Guest.RAMBase+f.Guest.RAMSize < f.Guest.RAMBase {
		return fieldError("guest", "RAM window wraps the address space", nil)
	}
	if f.Clock.Tick <= 0 {
		return fieldError("clock.tick", "must be positive", nil)
	}
	if f.Clock.Rate <= 0 {
		return fieldError("clock.rate", "must be positive", nil)
	}

	cfg, err := f.BusConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fieldError("devices", "invalid bus configuration", err)
	}
	return nil
}

// Level returns the configured slog level.
func (f *File) Level() (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(f.LogLevel))
	return l, err
}

// BusConfig converts the file into a bus configuration. Loggers are left
// for the caller to set.
func (f *File) BusConfig() (bus.Config, error) {
	v, err := version.Parse(f.BusVersion)
	if err != nil {
		return bus.Config{}, fieldError("bus_version", "invalid version", err)
	}
	e, err := wire.ParseEndianness(f.WireEndianness)
	if err != nil {
		return bus.Config{}, fieldError("wire_endianness", "invalid endianness", err)
	}

	cfg := bus.DefaultConfig()
	cfg.BusVersion = v.Wire()
	cfg.WireEndianness = e
	cfg.IRQCount = f.IRQCount
	cfg.RequestTimeout = f.RequestTimeout
	cfg.WriteTimeout = f.WriteTimeout
	cfg.MaxPacketSize = f.MaxPacketSize
	for _, d := range f.Devices {
		cfg.Devices = append(cfg.Devices, bus.DeviceConfig{
			Name:           d.Name,
			Address:        d.Address,
			ConnectTimeout: d.ConnectTimeout,
			Hotplug:        d.Hotplug,
		})
	}
	return cfg, nil
}
