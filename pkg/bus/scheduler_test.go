package bus

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cosim-bus/cosim-go/pkg/wire"
)

type deliveries struct {
	mu  sync.Mutex
	got []PendingEvent
}

func (d *deliveries) deliver(ev PendingEvent) error {
	d.mu.Lock()
	d.got = append(d.got, ev)
	d.mu.Unlock()
	return nil
}

func (d *deliveries) list() []PendingEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]PendingEvent(nil), d.got...)
}

func TestSchedulerInsertionOrder(t *testing.T) {
	clock := &fakeClock{}
	s := NewScheduler(clock, (&deliveries{}).deliver, nil)

	for i, exp := range []uint64{50, 10, 30, 10, 50, 5, 30} {
		s.Register(PendingEvent{ExpireTime: exp, EventID: uint32(i)})
	}

	var got []uint32
	for _, e := range s.Pending() {
		got = append(got, e.EventID)
	}
	// Ties keep registration order.
	assert.Equal(t, []uint32{5, 1, 3, 2, 6, 0, 4}, got)

	head, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, uint64(5), head)

	armed, deadline := clock.timers[0].state()
	assert.True(t, armed)
	assert.Equal(t, uint64(5), deadline)
}

func TestSchedulerDrainProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for round := 0; round < 50; round++ {
		clock := &fakeClock{}
		d := &deliveries{}
		s := NewScheduler(clock, d.deliver, nil)

		n := 1 + rng.Intn(40)
		for i := 0; i < n; i++ {
			s.Register(PendingEvent{ExpireTime: uint64(rng.Intn(20)), EventID: uint32(i)})
		}

		// Advance to the head and fire until empty.
		for {
			head, ok := s.Next()
			if !ok {
				break
			}
			clock.AdvanceTo(head)
			require.Positive(t, s.Fire())
		}

		got := d.list()
		require.Len(t, got, n)
		for i := 1; i < len(got); i++ {
			prev, cur := got[i-1], got[i]
			require.LessOrEqual(t, prev.ExpireTime, cur.ExpireTime)
			if prev.ExpireTime == cur.ExpireTime {
				require.Less(t, prev.EventID, cur.EventID, "ties fire in registration order")
			}
		}

		armed, _ := clock.timers[0].state()
		assert.False(t, armed, "timer disarmed when the queue is empty")
	}
}

func TestSchedulerFireOnlyDue(t *testing.T) {
	clock := &fakeClock{}
	d := &deliveries{}
	s := NewScheduler(clock, d.deliver, nil)

	s.Register(PendingEvent{ExpireTime: 100, EventID: 1})
	s.Register(PendingEvent{ExpireTime: 200, EventID: 2})

	clock.mu.Lock()
	clock.now = 150
	clock.mu.Unlock()
	assert.Equal(t, 1, s.Fire())
	assert.Equal(t, 1, s.Len())

	_, deadline := clock.timers[0].state()
	assert.Equal(t, uint64(200), deadline)
}

func TestSchedulerRemoveDevice(t *testing.T) {
	clock := &fakeClock{}
	s := NewScheduler(clock, (&deliveries{}).deliver, nil)
	a, b := &Device{Name: "a"}, &Device{Name: "b"}

	s.Register(PendingEvent{ExpireTime: 1, Device: a})
	s.Register(PendingEvent{ExpireTime: 2, Device: b})
	s.Register(PendingEvent{ExpireTime: 3, Device: a})

	assert.Equal(t, 2, s.RemoveDevice(a))
	assert.Equal(t, 1, s.Len())
	_, deadline := clock.timers[0].state()
	assert.Equal(t, uint64(2), deadline)

	assert.Equal(t, 1, s.RemoveDevice(b))
	armed, _ := clock.timers[0].state()
	assert.False(t, armed)
}

func TestRegisterEventDeliversTriggerOnce(t *testing.T) {
	b, h := newTestBus(t, nil)
	_, peer := attachPeer(t, b, registerRequest("timer"))

	const T = 1_000_000
	require.NoError(t, peer.Send(&wire.RegisterEventEvent{ExpireTime: T, EventID: 7, Payload: 42}))
	require.Eventually(t, func() bool { return b.Scheduler().Len() == 1 }, time.Second, time.Millisecond)

	h.clock.AdvanceTo(T - 1)
	expectSilence(t, peer, 30*time.Millisecond)

	h.clock.AdvanceTo(T)
	assert.Equal(t, &wire.TriggerEvent{ExpireTime: T, EventID: 7, Payload: 42}, next(t, peer))

	h.clock.AdvanceTo(2 * T)
	expectSilence(t, peer, 50*time.Millisecond)
	assert.Zero(t, b.Scheduler().Len())
}

func TestPendingEventsDroppedOnDisconnect(t *testing.T) {
	b, _ := newTestBus(t, nil)
	dev, peer := attachPeer(t, b, registerRequest("short-lived"))
	_, other := attachPeer(t, b, registerRequest("other"))

	require.NoError(t, peer.Send(&wire.RegisterEventEvent{ExpireTime: 10, EventID: 1}))
	require.NoError(t, other.Send(&wire.RegisterEventEvent{ExpireTime: 20, EventID: 2}))
	require.Eventually(t, func() bool { return b.Scheduler().Len() == 2 }, time.Second, time.Millisecond)

	peer.Close()
	<-dev.Done()

	pending := b.Scheduler().Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, uint32(2), pending[0].EventID)
}
