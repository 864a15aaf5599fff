package peer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cosim-bus/cosim-go/pkg/log"
	"github.com/cosim-bus/cosim-go/pkg/version"
	"github.com/cosim-bus/cosim-go/pkg/wire"
)

// Handler serves bus accesses to the device's MMIO windows. addr is the
// guest physical address; data is in the device's declared endianness.
//
// Calls may run concurrently and may issue DMA through the Client.
type Handler interface {
	ReadRegister(ctx context.Context, addr uint64, data []byte) error
	WriteRegister(ctx context.Context, addr uint64, data []byte) error
}

// LifecycleHandler receives bus-wide lifecycle events in arrival order.
type LifecycleHandler interface {
	Init(ctx context.Context)
	Reset(ctx context.Context)
	Exit(ctx context.Context)
}

// Trigger is a wakeup the device registered earlier.
type Trigger struct {
	ExpireTime uint64
	EventID    uint32
	Payload    uint64
}

// EventHandler receives Trigger events in arrival order.
type EventHandler interface {
	Trigger(ctx context.Context, ev Trigger)
}

// Config describes the device presented to the bus.
type Config struct {
	// Name identifies the device in bus logs.
	Name string

	// BusVersion is the protocol version to register with.
	BusVersion uint32

	// Endianness of register values. Native resolves to the host order.
	Endianness wire.Endianness

	IOMem     []wire.Region
	SharedMem []wire.SharedRegion

	// Handler serves register accesses. A nil Handler answers every
	// access with ErrUnsupported.
	Handler   Handler
	Lifecycle LifecycleHandler
	Events    EventHandler

	// RegisterTimeout bounds the wait for the Endianness reply.
	RegisterTimeout time.Duration

	// WriteTimeout bounds each packet write. Zero disables it.
	WriteTimeout time.Duration

	MaxPacketSize uint32

	Logger         *slog.Logger
	ProtocolLogger log.Logger
}

// DefaultRegisterTimeout applies when Config.RegisterTimeout is zero.
const DefaultRegisterTimeout = 5 * time.Second

func (c *Config) applyDefaults() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if !c.Endianness.Valid() {
		return fmt.Errorf("%w: endianness %d", ErrInvalidConfig, c.Endianness)
	}
	c.Endianness = c.Endianness.Resolve()
	if c.BusVersion == 0 {
		c.BusVersion = version.BusVersion
	}
	if c.RegisterTimeout <= 0 {
		c.RegisterTimeout = DefaultRegisterTimeout
	}
	if c.MaxPacketSize == 0 {
		c.MaxPacketSize = wire.DefaultMaxPacketSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.ProtocolLogger = log.OrNoop(c.ProtocolLogger)
	return nil
}
