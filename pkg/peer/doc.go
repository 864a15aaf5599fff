// Package peer is the device side of the co-simulation bus.
//
// A device dials the bus, registers its MMIO windows and then serves
// register accesses while it may raise interrupts, schedule wakeups and
// access guest memory:
//
//	client, err := peer.Dial(ctx, "unix:///tmp/timer.sock", peer.Config{
//	    Name:    "timer",
//	    IOMem:   []wire.Region{{Base: 0x10000000, Size: 0x100}},
//	    Handler: regs,
//	})
//	...
//	client.SetIRQ(5, wire.IRQRaise)
package peer
