package bus

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cosim-bus/cosim-go/pkg/log"
	"github.com/cosim-bus/cosim-go/pkg/wire"
)

type dispatchKey struct{}

// withDispatch marks ctx as running inside dev's dispatch goroutine.
func withDispatch(ctx context.Context, dev *Device) context.Context {
	return context.WithValue(ctx, dispatchKey{}, dev)
}

// inDispatch reports whether ctx belongs to dev's dispatch goroutine.
func inDispatch(ctx context.Context, dev *Device) bool {
	d, _ := ctx.Value(dispatchKey{}).(*Device)
	return d == dev
}

// SendAndWait sends req to dev and returns the matching response.
//
// Packets dev sends meanwhile (events, DMA requests, responses to other
// round trips) are dispatched normally; the caller only sees its response
// or an error. Only one top-level round trip per device is in flight at a
// time. A transport failure or timeout closes the device.
func (b *Bus) SendAndWait(ctx context.Context, dev *Device, req wire.Request) (wire.Response, error) {
	if dev.Status() != StatusRegistered {
		return nil, ErrDeviceClosed
	}

	nested := inDispatch(ctx, dev)
	if !nested {
		if err := dev.acquire(ctx); err != nil {
			return nil, err
		}
		defer dev.release()
	}

	dev.beginRoundTrip()
	defer func() {
		if dev.endRoundTrip() {
			b.shutdownGuest(dev, "deferred")
		}
	}()

	id := b.nextRequestID()
	req.SetRequestID(id)

	start := time.Now()
	var resp wire.Response
	var err error
	if nested {
		resp, err = b.pump(ctx, dev, req, id)
	} else {
		resp, err = b.await(ctx, dev, req, id)
	}
	if err != nil {
		b.logger.Debug("round trip failed", "device", dev.Name, "id", id, "error", err)
		return nil, err
	}
	rtt := time.Since(start)
	b.logger.Debug("round trip",
		"device", dev.Name,
		"request", wire.Summary(req),
		"response", wire.Summary(resp),
		"rtt", rtt)
	b.logRoundTrip(dev, resp, rtt)
	return resp, nil
}

// logRoundTrip captures the matched response with its latency.
func (b *Bus) logRoundTrip(dev *Device, resp wire.Response, rtt time.Duration) {
	pe := log.NewPacketEvent(resp)
	pe.RoundTrip = &rtt
	b.config.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: dev.ConnectionID(),
		Direction:    log.DirectionIn,
		Layer:        log.LayerBus,
		Category:     log.CategoryMessage,
		LocalRole:    log.RoleBus,
		DeviceName:   dev.Name,
		VirtualTime:  b.host.Clock.Now(),
		Packet:       pe,
	})
}

// await waits for dev's dispatch goroutine to deliver the response.
func (b *Bus) await(ctx context.Context, dev *Device, req wire.Request, id uint32) (wire.Response, error) {
	respCh := make(chan wire.Response, 1)
	dev.beginWait(id, respCh)
	defer dev.endWait(id)

	if err := dev.send(req); err != nil {
		dev.close(err)
		return nil, fmt.Errorf("%w: %v", ErrDeviceClosed, err)
	}

	var timeout <-chan time.Time
	if b.config.RequestTimeout > 0 {
		t := time.NewTimer(b.config.RequestTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case resp := <-respCh:
		return resp, nil
	case <-dev.done:
		select {
		case resp := <-respCh:
			return resp, nil
		default:
		}
		return nil, fmt.Errorf("%w: %v", ErrDeviceClosed, dev.Err())
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		err := fmt.Errorf("%w: %s id=%d after %s", ErrRequestTimeout, dev.Name, id, b.config.RequestTimeout)
		dev.close(err)
		return nil, err
	}
}

// pump serves a round trip issued from dev's own dispatch goroutine: it
// reads the channel itself and dispatches everything but its response.
func (b *Bus) pump(ctx context.Context, dev *Device, req wire.Request, id uint32) (wire.Response, error) {
	dev.beginWait(id, nil)
	defer dev.endWait(id)

	if err := dev.send(req); err != nil {
		dev.close(err)
		return nil, fmt.Errorf("%w: %v", ErrDeviceClosed, err)
	}

	// Nested pumps restore the enclosing pump's deadline on the way out.
	outer := dev.readDeadline
	deadline := outer
	if b.config.RequestTimeout > 0 {
		if d := time.Now().Add(b.config.RequestTimeout); deadline.IsZero() || d.Before(deadline) {
			deadline = d
		}
	}
	if err := dev.ch.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	dev.readDeadline = deadline
	defer func() {
		dev.readDeadline = outer
		dev.ch.SetReadDeadline(outer)
	}()
	stop := context.AfterFunc(ctx, func() { dev.ch.SetReadDeadline(time.Unix(1, 0)) })
	defer stop()

	for {
		p, err := dev.ch.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				err := fmt.Errorf("%w: %s id=%d after %s", ErrRequestTimeout, dev.Name, id, b.config.RequestTimeout)
				dev.close(err)
				return nil, err
			}
			dev.close(err)
			return nil, fmt.Errorf("%w: %v", ErrDeviceClosed, err)
		}
		if resp, ok := p.(wire.Response); ok && resp.ResponseID() == id {
			return resp, nil
		}
		b.dispatch(ctx, dev, p)
		if dev.Status() == StatusClosed {
			return nil, fmt.Errorf("%w: %v", ErrDeviceClosed, dev.Err())
		}
	}
}
