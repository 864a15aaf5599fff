package bus

import (
	"context"
	"errors"
	"fmt"

	"github.com/cosim-bus/cosim-go/pkg/wire"
)

var (
	errWrongDirection    = errors.New("packet not accepted from a device")
	errAlreadyRegistered = errors.New("already registered")
)

// dispatch handles one packet from dev. It is the only packet handler: the
// dispatch loop and nested round trips both call it.
func (b *Bus) dispatch(ctx context.Context, dev *Device, p wire.Packet) {
	switch m := p.(type) {
	case wire.Response:
		if !dev.resolve(m) {
			b.protocolError(dev, p, fmt.Errorf("%w: id %d", ErrUnexpectedReply, m.ResponseID()))
		}

	case *wire.SetIRQEvent:
		b.handleSetIRQ(dev, m)
	case *wire.RegisterEventEvent:
		b.scheduler.Register(PendingEvent{
			ExpireTime: m.ExpireTime,
			EventID:    m.EventID,
			Payload:    m.Payload,
			Device:     dev,
		})
	case *wire.ShutdownEvent:
		b.handleShutdown(dev)

	case *wire.ReadRequest:
		b.reply(dev, b.serveDMARead(ctx, dev, m))
	case *wire.WriteRequest:
		b.reply(dev, b.serveDMAWrite(ctx, dev, m))
	case *wire.GetTimeRequest:
		b.reply(dev, &wire.TimeResponse{ID: m.ID, TimeNS: b.host.Clock.Now()})
	case *wire.RegisterRequest:
		b.protocolError(dev, p, errAlreadyRegistered)
		b.reply(dev, &wire.ErrorResponse{ID: m.ID, Code: wire.ErrCodeState})

	default:
		b.protocolError(dev, p, errWrongDirection)
	}
}

func (b *Bus) reply(dev *Device, resp wire.Response) {
	if err := dev.send(resp); err != nil {
		b.logger.Error("reply failed", "device", dev.Name, "response", wire.Summary(resp), "error", err)
		dev.close(err)
	}
}

func (b *Bus) protocolError(dev *Device, p wire.Packet, err error) {
	perr := &ProtocolError{Device: dev.Name, Packet: wire.Summary(p), Err: err}
	b.logger.Warn("protocol error", "device", dev.Name, "error", perr)
}

func (b *Bus) handleSetIRQ(dev *Device, m *wire.SetIRQEvent) {
	if m.Line >= b.config.IRQCount {
		b.protocolError(dev, m, fmt.Errorf("irq line %d out of range (%d lines)", m.Line, b.config.IRQCount))
		return
	}
	switch m.Level {
	case wire.IRQLower:
		b.host.IRQ.SetIRQ(m.Line, false)
	case wire.IRQRaise:
		b.host.IRQ.SetIRQ(m.Line, true)
	case wire.IRQPulse:
		b.host.IRQ.SetIRQ(m.Line, true)
		b.host.IRQ.SetIRQ(m.Line, false)
	default:
		b.protocolError(dev, m, fmt.Errorf("invalid irq level %d", m.Level))
	}
}
