// Package bus implements the host side of the co-simulation bus.
//
// A Bus owns the device registry, the request/response engine, the MMIO
// proxy, the event scheduler and the lifecycle broadcasts. It talks to the
// simulated machine only through the collaborator interfaces in
// interfaces.go.
//
// # Goroutines
//
// Every registered device has exactly one dispatch goroutine reading its
// channel. Events and device-initiated requests (DMA, GetTime) are handled
// there in arrival order; responses are routed to the waiting round trip.
//
//	guest CPU ──ReadMMIO──▶ SendAndWait ──Read──▶ device
//	                            ▲                   │
//	                            └──── dispatch ◀────┘
//
// A round trip started from inside a device's own dispatch (the device DMAs
// into its own MMIO window, or an IRQ callback touches its registers) cannot
// wait for that goroutine. It reads the channel itself instead, passing every
// packet that is not its response through the same dispatch function.
//
// # Time
//
// Each guest-to-device access holds a FreezeGuard so virtual time does not
// advance while the device is working. Guards nest; the clock is frozen once.
package bus
