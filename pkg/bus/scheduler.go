package bus

import (
	"log/slog"
	"sync"

	"github.com/cosim-bus/cosim-go/pkg/wire"
)

// PendingEvent is a wakeup registered by a device.
type PendingEvent struct {
	ExpireTime uint64
	EventID    uint32
	Payload    uint64
	Device     *Device
}

// Scheduler keeps registered events sorted by expiry and delivers
// TriggerEvent packets when virtual time reaches them.
//
// The clock timer only signals a worker goroutine; delivery never runs in
// the timer callback.
type Scheduler struct {
	clock  Clock
	timer  Timer
	logger *slog.Logger

	// deliver sends a fired event to its device.
	deliver func(ev PendingEvent) error

	mu     sync.Mutex
	events []PendingEvent

	kick chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup
}

// NewScheduler creates a scheduler bound to clock. deliver is called from
// the worker goroutine for every fired event.
func NewScheduler(clock Clock, deliver func(ev PendingEvent) error, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		clock:   clock,
		logger:  logger,
		deliver: deliver,
		kick:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	s.timer = clock.NewTimer(s.signal)
	return s
}

// Start launches the worker goroutine.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop disarms the timer and waits for the worker to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.timer.Disarm()
	s.mu.Unlock()

	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	s.wg.Wait()
}

// signal is the timer callback. Signals coalesce.
func (s *Scheduler) signal() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case <-s.kick:
			s.Fire()
		}
	}
}

// Register inserts ev. Equal expiry times fire in registration order.
func (s *Scheduler) Register(ev PendingEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// An earlier expiry lands at the head; ties queue behind existing
	// entries so equal times fire in registration order.
	s.insertAt(s.firstAfter(ev.ExpireTime), ev)
	s.rearm()
}

// firstAfter returns the index of the first event expiring strictly after t,
// or len(events).
func (s *Scheduler) firstAfter(t uint64) int {
	for i, e := range s.events {
		if e.ExpireTime > t {
			return i
		}
	}
	return len(s.events)
}

func (s *Scheduler) insertAt(i int, ev PendingEvent) {
	s.events = append(s.events, PendingEvent{})
	copy(s.events[i+1:], s.events[i:])
	s.events[i] = ev
}

// rearm points the timer at the head. Caller holds mu.
func (s *Scheduler) rearm() {
	if len(s.events) == 0 {
		s.timer.Disarm()
		return
	}
	s.timer.Arm(s.events[0].ExpireTime)
}

// Fire delivers every event whose expiry is at or before the current time,
// then re-arms the timer. It returns the number of events delivered.
func (s *Scheduler) Fire() int {
	now := s.clock.Now()

	s.mu.Lock()
	n := 0
	for n < len(s.events) && s.events[n].ExpireTime <= now {
		n++
	}
	due := make([]PendingEvent, n)
	copy(due, s.events[:n])
	s.events = append(s.events[:0], s.events[n:]...)
	s.rearm()
	s.mu.Unlock()

	for _, ev := range due {
		if err := s.deliver(ev); err != nil {
			s.logger.Warn("trigger event not delivered",
				"device", ev.Device.Name, "eventID", ev.EventID, "error", err)
		}
	}
	return len(due)
}

// RemoveDevice drops every event owned by dev.
func (s *Scheduler) RemoveDevice(dev *Device) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	removed := 0
	for _, e := range s.events {
		if e.Device == dev {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(s.events); i++ {
		s.events[i] = PendingEvent{}
	}
	s.events = kept
	if removed > 0 {
		s.rearm()
	}
	return removed
}

// Len returns the number of pending events.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// Next returns the earliest expiry, if any.
func (s *Scheduler) Next() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return 0, false
	}
	return s.events[0].ExpireTime, true
}

// Pending returns a snapshot of the queue in firing order.
func (s *Scheduler) Pending() []PendingEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PendingEvent, len(s.events))
	copy(out, s.events)
	return out
}

func triggerFor(ev PendingEvent) *wire.TriggerEvent {
	return &wire.TriggerEvent{
		ExpireTime: ev.ExpireTime,
		EventID:    ev.EventID,
		Payload:    ev.Payload,
	}
}
