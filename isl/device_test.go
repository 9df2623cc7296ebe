package isl

import (
	"errors"
	"math"
	"testing"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/signalsfoundry/isl-simulator/antenna"
	"github.com/signalsfoundry/isl-simulator/internal/scheduler"
	"github.com/signalsfoundry/isl-simulator/linkbudget"
	"github.com/signalsfoundry/isl-simulator/mobility"
	"github.com/signalsfoundry/isl-simulator/orient"
)

var t0 = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

type movingPoint struct{ pos, vel r3.Vec }

func (m *movingPoint) Position() r3.Vec { return m.pos }
func (m *movingPoint) Velocity() r3.Vec { return m.vel }

type fakeHost struct {
	id    uint32
	mob   *movingPoint
	frame *orient.OrbitalFrame
}

func (h *fakeHost) SatID() uint32               { return h.id }
func (h *fakeHost) Mobility() mobility.Model    { return h.mob }
func (h *fakeHost) Frame() *orient.OrbitalFrame { return h.frame }

func newHost(id uint32, x float64) *fakeHost {
	return &fakeHost{
		id:    id,
		mob:   &movingPoint{pos: r3.Vec{X: x, Z: 7000e3}, vel: r3.Vec{Y: 7500}},
		frame: &orient.OrbitalFrame{},
	}
}

// rateTable answers every estimate with the rate configured for the
// terminal's name.
type rateTable map[string]linkbudget.DataRate

func (rt rateTable) Estimate(_, _ mobility.Model, _ linkbudget.PropagationLossModel, p linkbudget.Pointer) linkbudget.LinkEstimate {
	return linkbudget.LinkEstimate{Rate: rt[p.(*Terminal).Name()]}
}

type fixedDelay time.Duration

func (f fixedDelay) Delay(_, _ mobility.Model) time.Duration { return time.Duration(f) }

type countingRecorder struct {
	tx      int
	retries map[string]int
	drops   map[string]int
	rx      int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{retries: map[string]int{}, drops: map[string]int{}}
}

func (r *countingRecorder) Transmitted(Address, int, linkbudget.DataRate, time.Duration) { r.tx++ }
func (r *countingRecorder) Retried(_ Address, reason string)                             { r.retries[reason]++ }
func (r *countingRecorder) Dropped(_ Address, reason string)                             { r.drops[reason]++ }
func (r *countingRecorder) Received(Address, int)                                        { r.rx++ }
func (r *countingRecorder) QueueDepth(Address, int)                                      {}

type rig struct {
	sched *scheduler.FakeScheduler
	ch    *Channel
	rates rateTable
	alloc AddressAllocator
}

func newRig() *rig {
	s := scheduler.NewFakeScheduler(t0)
	rates := rateTable{}
	return &rig{
		sched: s,
		rates: rates,
		ch:    NewChannel(s, WithEstimator(rates), WithDelayModel(fixedDelay(10*time.Millisecond))),
	}
}

func (r *rig) device(t *testing.T, host *fakeHost, cfg Config, terminals []string, opts ...DeviceOption) *NetDevice {
	t.Helper()
	d, err := NewNetDevice(r.alloc.Next(), host, cfg, opts...)
	if err != nil {
		t.Fatalf("NewNetDevice: %v", err)
	}
	ant, err := antenna.NewModel(antenna.Constant, 0, 180)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	for _, name := range terminals {
		term, err := NewTerminal(name, orient.Transform{}, ant, host.frame, RxTx)
		if err != nil {
			t.Fatalf("NewTerminal: %v", err)
		}
		if err := d.AddTerminal(term); err != nil {
			t.Fatalf("AddTerminal: %v", err)
		}
	}
	if err := d.Attach(r.ch); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	return d
}

func TestDeviceSelectsFastestTerminal(t *testing.T) {
	r := newRig()
	r.rates["blind"] = 0
	r.rates["good"] = 5 * linkbudget.MbitPerSecond
	a := r.device(t, newHost(1, 0), DefaultConfig(), []string{"blind", "good"})
	b := r.device(t, newHost(2, 1000e3), DefaultConfig(), []string{"rx"})

	var got []*Packet
	b.SetReceive(func(_ *NetDevice, p *Packet, _ uint16, src Address) {
		if src != a.Address() {
			t.Fatalf("src = %s, want %s", src, a.Address())
		}
		got = append(got, p)
	})

	if err := a.Send(NewPacket(1500), b.Address(), 0x0800); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if a.State() != Transmitting || a.QueueLen() != 0 {
		t.Fatalf("state=%v queue=%d, want transmitting with empty queue", a.State(), a.QueueLen())
	}

	// 1500 B * 8 / 5 Mbps = 2.4 ms
	finish := t0.Add(2400 * time.Microsecond)
	times := r.sched.PendingTimes()
	if len(times) != 2 || !times[0].Equal(finish) || !times[1].Equal(finish.Add(10*time.Millisecond)) {
		t.Fatalf("pending = %v, want finish at %v and receive 10ms later", times, finish)
	}

	r.sched.AdvanceTo(finish)
	if a.State() != Idle {
		t.Fatalf("state after finish = %v, want idle", a.State())
	}
	if len(got) != 0 {
		t.Fatalf("packet arrived before propagation delay")
	}
	r.sched.AdvanceTo(finish.Add(10 * time.Millisecond))
	if len(got) != 1 || got[0].Len() != 1500 {
		t.Fatalf("received %d packets, want 1", len(got))
	}
	if st := a.Stats(); st.TxPackets != 1 || st.TxBytes != 1500 {
		t.Fatalf("sender stats = %+v", st)
	}
}

func TestDeviceFirstTerminalWinsTies(t *testing.T) {
	r := newRig()
	r.rates["first"] = linkbudget.MbitPerSecond
	r.rates["second"] = linkbudget.MbitPerSecond
	a := r.device(t, newHost(1, 0), DefaultConfig(), []string{"first", "second"})
	b := r.device(t, newHost(2, 1000e3), DefaultConfig(), nil)

	term, est, err := a.EstimateTo(b)
	if err != nil {
		t.Fatalf("EstimateTo: %v", err)
	}
	if term == nil || term.Name() != "first" || est.Rate != linkbudget.MbitPerSecond {
		t.Fatalf("selected %v at %v, want first terminal", term, est.Rate)
	}
}

func TestDeviceSkipsReceiveOnlyTerminals(t *testing.T) {
	r := newRig()
	r.rates["rxonly"] = linkbudget.GbitPerSecond
	r.rates["tx"] = linkbudget.MbitPerSecond
	host := newHost(1, 0)
	a := r.device(t, host, DefaultConfig(), []string{"tx"})
	ant, _ := antenna.NewModel(antenna.Constant, 0, 180)
	rx, _ := NewTerminal("rxonly", orient.Transform{}, ant, host.frame, RxOnly)
	if err := a.AddTerminal(rx); err != nil {
		t.Fatalf("AddTerminal: %v", err)
	}
	b := r.device(t, newHost(2, 1000e3), DefaultConfig(), nil)

	term, _, _ := a.EstimateTo(b)
	if term == nil || term.Name() != "tx" {
		t.Fatalf("selected %v, want the transmit-capable terminal", term)
	}
}

func TestDeviceLowRateRetriesWithoutDrop(t *testing.T) {
	r := newRig()
	r.rates["t"] = 5 * linkbudget.KbitPerSecond // below the 10 kbps minimum
	rec := newCountingRecorder()
	a := r.device(t, newHost(1, 0), DefaultConfig(), []string{"t"}, WithRecorder(rec))
	b := r.device(t, newHost(2, 1000e3), DefaultConfig(), nil)

	if err := a.Send(NewPacket(1500), b.Address(), 0); err != nil {
		t.Fatalf("Send: %v", err)
	}
	for i := 1; i <= 5; i++ {
		if a.QueueLen() != 1 {
			t.Fatalf("attempt %d: queue length %d, want 1", i, a.QueueLen())
		}
		if a.State() != RetryPending {
			t.Fatalf("attempt %d: state %v, want retry-pending", i, a.State())
		}
		times := r.sched.PendingTimes()
		want := t0.Add(time.Duration(i) * time.Millisecond)
		if len(times) != 1 || !times[0].Equal(want) {
			t.Fatalf("attempt %d: pending %v, want retry at %v", i, times, want)
		}
		r.sched.RunNext()
	}
	if rec.retries[ReasonLowRate] != 6 || len(rec.drops) != 0 {
		t.Fatalf("retries=%v drops=%v", rec.retries, rec.drops)
	}

	r.rates["t"] = 5 * linkbudget.MbitPerSecond
	r.sched.RunNext()
	if a.QueueLen() != 0 || a.State() != Transmitting {
		t.Fatalf("after the link recovered: queue=%d state=%v", a.QueueLen(), a.State())
	}
}

func TestDeviceNoTerminalRetries(t *testing.T) {
	r := newRig()
	a := r.device(t, newHost(1, 0), DefaultConfig(), nil)
	b := r.device(t, newHost(2, 1000e3), DefaultConfig(), nil)

	if err := a.Send(NewPacket(100), b.Address(), 0); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if a.QueueLen() != 1 || a.State() != RetryPending {
		t.Fatalf("queue=%d state=%v, want packet kept for retry", a.QueueLen(), a.State())
	}
}

func TestDeviceUnresolvedPeerRetries(t *testing.T) {
	r := newRig()
	r.rates["t"] = 0
	rec := newCountingRecorder()
	a := r.device(t, newHost(1, 0), DefaultConfig(), []string{"t"}, WithRecorder(rec))
	b := r.device(t, newHost(2, 1000e3), DefaultConfig(), nil)

	if err := a.Send(NewPacket(100), b.Address(), 0); err != nil {
		t.Fatalf("Send: %v", err)
	}
	b.Dispose()
	r.sched.RunNext() // low-rate retry at 1ms finds the peer gone

	times := r.sched.PendingTimes()
	want := t0.Add(time.Millisecond + 100*time.Millisecond)
	if len(times) != 1 || !times[0].Equal(want) {
		t.Fatalf("pending = %v, want retry at %v", times, want)
	}
	if rec.retries[ReasonUnresolvedPeer] != 1 || a.QueueLen() != 1 {
		t.Fatalf("retries=%v queue=%d", rec.retries, a.QueueLen())
	}
	if r.sched.Err() != nil {
		t.Fatalf("unresolved peer must not abort: %v", r.sched.Err())
	}
}

func TestDeviceRetryLimitDrops(t *testing.T) {
	r := newRig()
	r.rates["t"] = 1
	cfg := DefaultConfig()
	cfg.Retry.MaxAttempts = 3
	rec := newCountingRecorder()
	a := r.device(t, newHost(1, 0), cfg, []string{"t"}, WithRecorder(rec))
	b := r.device(t, newHost(2, 1000e3), DefaultConfig(), nil)

	if err := a.Send(NewPacket(100), b.Address(), 0); err != nil {
		t.Fatalf("Send: %v", err)
	}
	r.sched.RunNext()
	r.sched.RunNext()
	if a.QueueLen() != 0 {
		t.Fatalf("queue = %d after %d attempts, want dropped", a.QueueLen(), cfg.Retry.MaxAttempts)
	}
	if rec.drops[ReasonRetryLimit] != 1 || a.Stats().TxDropped != 1 {
		t.Fatalf("drops = %v, stats = %+v", rec.drops, a.Stats())
	}
	if a.State() != Idle || r.sched.Pending() != 0 {
		t.Fatalf("state=%v pending=%d, want idle with nothing scheduled", a.State(), r.sched.Pending())
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{Backoff: 2, MaxDelay: 5 * time.Millisecond}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Millisecond},
		{2, 2 * time.Millisecond},
		{3, 4 * time.Millisecond},
		{4, 5 * time.Millisecond},
		{40, 5 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := p.Delay(time.Millisecond, tc.attempt); got != tc.want {
			t.Fatalf("Delay(attempt %d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
	if got := DefaultRetryPolicy().Delay(time.Millisecond, 50); got != time.Millisecond {
		t.Fatalf("default policy Delay = %v, want fixed 1ms", got)
	}
}

func TestRetryPolicyDelaySaturatesWithoutCap(t *testing.T) {
	p := RetryPolicy{Backoff: 2}
	prev := time.Duration(0)
	for attempt := 1; attempt <= 200; attempt++ {
		got := p.Delay(time.Millisecond, attempt)
		if got < prev {
			t.Fatalf("Delay(attempt %d) = %v, shorter than attempt %d (%v)", attempt, got, attempt-1, prev)
		}
		prev = got
	}
	if prev != time.Duration(math.MaxInt64) {
		t.Fatalf("Delay(attempt 200) = %v, want saturation at the maximum duration", prev)
	}
}

func TestDeviceRejectsOversizedPacket(t *testing.T) {
	r := newRig()
	r.rates["t"] = linkbudget.GbitPerSecond
	a := r.device(t, newHost(1, 0), DefaultConfig(), []string{"t"})
	b := r.device(t, newHost(2, 1000e3), DefaultConfig(), nil)

	err := a.Send(NewPacket(DefaultMTU+1), b.Address(), 0)
	if !errors.Is(err, ErrPacketTooLarge) {
		t.Fatalf("Send err = %v, want ErrPacketTooLarge", err)
	}
	if a.QueueLen() != 0 || r.sched.Pending() != 0 {
		t.Fatalf("oversized packet left state behind: queue=%d pending=%d", a.QueueLen(), r.sched.Pending())
	}
	if err := a.Send(NewPacket(DefaultMTU), b.Address(), 0); err != nil {
		t.Fatalf("packet at MTU rejected: %v", err)
	}
}

func TestDeviceRejectsUnknownDestination(t *testing.T) {
	r := newRig()
	a := r.device(t, newHost(1, 0), DefaultConfig(), nil)
	stranger := Address{0, 0, 0, 0, 0x99, 0x99}
	if err := a.Send(NewPacket(10), stranger, 0); !errors.Is(err, ErrUnknownDestination) {
		t.Fatalf("Send err = %v, want ErrUnknownDestination", err)
	}
}

func TestDeviceConfigValidation(t *testing.T) {
	host := newHost(1, 0)
	if _, err := NewNetDevice(Address{0, 0, 0, 0, 0, 1}, host, Config{MTU: 1000}); !errors.Is(err, ErrInvalidMTU) {
		t.Fatalf("MTU 1000 err = %v, want ErrInvalidMTU", err)
	}
	if _, err := NewNetDevice(Broadcast, host, DefaultConfig()); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("broadcast device address err = %v", err)
	}
	if _, err := NewNetDevice(Address{0, 0, 0, 0, 0, 1}, nil, DefaultConfig()); !errors.Is(err, ErrNoHost) {
		t.Fatalf("nil host err = %v", err)
	}
	d, _ := NewNetDevice(Address{0, 0, 0, 0, 0, 1}, host, DefaultConfig())
	ant, _ := antenna.NewModel(antenna.Cosine, 0, 180)
	foreign, _ := NewTerminal("x", orient.Transform{}, ant, &orient.OrbitalFrame{}, RxTx)
	if err := d.AddTerminal(foreign); !errors.Is(err, ErrForeignFrame) {
		t.Fatalf("AddTerminal with another frame err = %v", err)
	}
	if err := d.Send(NewPacket(1), Broadcast, 0); !errors.Is(err, ErrNoChannel) {
		t.Fatalf("unattached Send err = %v", err)
	}
}

func TestDeviceBroadcastFansOut(t *testing.T) {
	r := newRig()
	r.rates["t"] = linkbudget.MbitPerSecond
	a := r.device(t, newHost(1, 0), DefaultConfig(), []string{"t"})
	b := r.device(t, newHost(2, 1000e3), DefaultConfig(), nil)
	c := r.device(t, newHost(3, -1000e3), DefaultConfig(), nil)

	seen := map[Address]PacketType{}
	sink := func(d *NetDevice, p *Packet, _ uint16, _, dst Address, typ PacketType) {
		if dst != Broadcast || p.Tag.SilentDst != d.Address() {
			t.Fatalf("copy for %s has tag %+v", d.Address(), p.Tag)
		}
		seen[d.Address()] = typ
	}
	b.SetPromisc(sink)
	c.SetPromisc(sink)

	if err := a.Send(NewPacket(1000), Broadcast, 7); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if a.QueueLen() != 1 {
		t.Fatalf("queue = %d, want one copy waiting behind the first", a.QueueLen())
	}
	r.sched.AdvanceTo(t0.Add(time.Second))

	if len(seen) != 2 || seen[b.Address()] != PacketBroadcast || seen[c.Address()] != PacketBroadcast {
		t.Fatalf("broadcast reached %v, want both peers", seen)
	}
	if a.Stats().TxPackets != 2 {
		t.Fatalf("TxPackets = %d, want one per peer", a.Stats().TxPackets)
	}
}

type neighbourMap map[uint32][]uint32

func (n neighbourMap) Neighbours(sat uint32) []uint32 { return n[sat] }

func TestDeviceBroadcastUsesInterconnect(t *testing.T) {
	r := newRig()
	r.rates["t"] = linkbudget.MbitPerSecond
	cfg := DefaultConfig()
	cfg.UseInterconnect = true
	a := r.device(t, newHost(1, 0), cfg, []string{"t"}, WithInterconnect(neighbourMap{1: {3}}))
	b := r.device(t, newHost(2, 1000e3), DefaultConfig(), nil)
	c := r.device(t, newHost(3, -1000e3), DefaultConfig(), nil)

	got := map[Address]int{}
	count := func(d *NetDevice, _ *Packet, _ uint16, _ Address) { got[d.Address()]++ }
	b.SetReceive(count)
	c.SetReceive(count)

	if err := a.Send(NewPacket(1000), Broadcast, 0); err != nil {
		t.Fatalf("Send: %v", err)
	}
	r.sched.AdvanceTo(t0.Add(time.Second))
	if got[b.Address()] != 0 || got[c.Address()] != 1 {
		t.Fatalf("deliveries = %v, want only the interconnected neighbour", got)
	}
}

func TestDeviceQueueFull(t *testing.T) {
	r := newRig()
	cfg := DefaultConfig()
	cfg.QueueSize = 2
	rec := newCountingRecorder()
	a := r.device(t, newHost(1, 0), cfg, nil, WithRecorder(rec))
	b := r.device(t, newHost(2, 1000e3), DefaultConfig(), nil)

	for i := 0; i < 2; i++ {
		if err := a.Send(NewPacket(10), b.Address(), 0); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}
	if err := a.Send(NewPacket(10), b.Address(), 0); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("third Send err = %v, want ErrQueueFull", err)
	}
	if rec.drops[ReasonQueueFull] != 1 {
		t.Fatalf("drops = %v", rec.drops)
	}
}

func TestDeviceDoubleTransmissionAborts(t *testing.T) {
	r := newRig()
	r.rates["t"] = linkbudget.MbitPerSecond
	a := r.device(t, newHost(1, 0), DefaultConfig(), []string{"t"})
	b := r.device(t, newHost(2, 1000e3), DefaultConfig(), nil)

	a.finishPending = true
	_ = a.Send(NewPacket(10), b.Address(), 0)
	if err := r.sched.Err(); !errors.Is(err, ErrDoubleTransmission) {
		t.Fatalf("scheduler err = %v, want ErrDoubleTransmission", err)
	}
}

func TestDeviceZeroVelocityAborts(t *testing.T) {
	r := newRig()
	r.rates["t"] = linkbudget.MbitPerSecond
	host := newHost(1, 0)
	host.mob.vel = r3.Vec{}
	a := r.device(t, host, DefaultConfig(), []string{"t"})
	b := r.device(t, newHost(2, 1000e3), DefaultConfig(), nil)

	_ = a.Send(NewPacket(10), b.Address(), 0)
	if err := r.sched.Err(); !errors.Is(err, orient.ErrZeroVelocity) {
		t.Fatalf("scheduler err = %v, want ErrZeroVelocity", err)
	}
}

func TestDeviceDisposeGuardsPendingEvents(t *testing.T) {
	r := newRig()
	r.rates["t"] = linkbudget.MbitPerSecond
	a := r.device(t, newHost(1, 0), DefaultConfig(), []string{"t"})
	b := r.device(t, newHost(2, 1000e3), DefaultConfig(), nil)

	_ = a.Send(NewPacket(100), b.Address(), 0)
	_ = a.Send(NewPacket(100), b.Address(), 0)
	a.Dispose()
	if r.ch.Device(a.Address()) != nil {
		t.Fatalf("disposed device still attached")
	}
	r.sched.AdvanceTo(t0.Add(time.Second))
	if a.Stats().TxPackets != 1 {
		t.Fatalf("TxPackets = %d, disposed device kept sending", a.Stats().TxPackets)
	}
	if err := a.Send(NewPacket(1), b.Address(), 0); !errors.Is(err, ErrDisposed) {
		t.Fatalf("Send after Dispose err = %v", err)
	}
}

type constSampler float64

func (c constSampler) Sample() float64 { return float64(c) }

func TestDeviceReceiveErrorModel(t *testing.T) {
	r := newRig()
	r.rates["t"] = linkbudget.MbitPerSecond
	em, err := NewRateErrorModel(1, PerPacket, constSampler(0.5))
	if err != nil {
		t.Fatalf("NewRateErrorModel: %v", err)
	}
	a := r.device(t, newHost(1, 0), DefaultConfig(), []string{"t"})
	b := r.device(t, newHost(2, 1000e3), DefaultConfig(), nil, WithReceiveErrorModel(em))
	called := false
	b.SetReceive(func(*NetDevice, *Packet, uint16, Address) { called = true })

	_ = a.Send(NewPacket(100), b.Address(), 0)
	r.sched.AdvanceTo(t0.Add(time.Second))
	if called || b.Stats().RxDropped != 1 {
		t.Fatalf("corrupt packet delivered: called=%v stats=%+v", called, b.Stats())
	}
}

func TestRateErrorModelUnits(t *testing.T) {
	p := NewPacket(100)
	perByte, _ := NewRateErrorModel(0.01, PerByte, constSampler(0.5))
	if !perByte.IsCorrupt(p) { // 1 - 0.99^100 ~ 0.63
		t.Fatalf("per-byte model should corrupt at p~0.63 with sample 0.5")
	}
	perPacket, _ := NewRateErrorModel(0.01, PerPacket, constSampler(0.5))
	if perPacket.IsCorrupt(p) {
		t.Fatalf("per-packet model corrupted at p=0.01 with sample 0.5")
	}
	if _, err := NewRateErrorModel(1.5, PerBit, constSampler(0)); err == nil {
		t.Fatalf("rate 1.5 accepted")
	}
}
