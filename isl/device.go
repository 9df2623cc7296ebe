package isl

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/signalsfoundry/isl-simulator/internal/logging"
	"github.com/signalsfoundry/isl-simulator/internal/scheduler"
	"github.com/signalsfoundry/isl-simulator/linkbudget"
	"github.com/signalsfoundry/isl-simulator/mobility"
	"github.com/signalsfoundry/isl-simulator/orient"
)

// Host is the platform a device is installed on.
type Host interface {
	SatID() uint32
	Mobility() mobility.Model
	// Frame is the platform's orbital frame, shared by all its terminals.
	Frame() *orient.OrbitalFrame
}

// NeighbourSource lists the satellites a satellite is allowed to talk to.
type NeighbourSource interface {
	Neighbours(sat uint32) []uint32
}

// State of the transmission state machine.
type State int

const (
	Idle State = iota
	Transmitting
	RetryPending
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Transmitting:
		return "transmitting"
	case RetryPending:
		return "retry-pending"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Reasons reported to a Recorder.
const (
	ReasonUnresolvedPeer = "unresolved_peer"
	ReasonLowRate        = "low_rate"
	ReasonRetryLimit     = "retry_limit"
	ReasonQueueFull      = "queue_full"
	ReasonCorrupt        = "corrupt"
	ReasonDisposed       = "disposed"
)

// Recorder receives device events for metrics.
type Recorder interface {
	Transmitted(dev Address, bytes int, rate linkbudget.DataRate, txTime time.Duration)
	Retried(dev Address, reason string)
	Dropped(dev Address, reason string)
	Received(dev Address, bytes int)
	QueueDepth(dev Address, n int)
}

type nopRecorder struct{}

func (nopRecorder) Transmitted(Address, int, linkbudget.DataRate, time.Duration) {}
func (nopRecorder) Retried(Address, string)                                      {}
func (nopRecorder) Dropped(Address, string)                                      {}
func (nopRecorder) Received(Address, int)                                        {}
func (nopRecorder) QueueDepth(Address, int)                                      {}

var (
	ErrPacketTooLarge     = errors.New("isl: packet exceeds MTU")
	ErrUnknownDestination = errors.New("isl: destination not attached to channel")
	ErrQueueFull          = errors.New("isl: transmit queue full")
	ErrNoChannel          = errors.New("isl: device not attached to a channel")
	ErrDisposed           = errors.New("isl: device disposed")
	ErrInvalidMTU         = errors.New("isl: MTU below minimum")
	ErrForeignFrame       = errors.New("isl: terminal frame does not belong to this platform")
	ErrNoHost             = errors.New("isl: device has no host platform")

	// ErrUnresolvedPeer is logged when a queued packet's peer is gone; the
	// packet is retried.
	ErrUnresolvedPeer = errors.New("isl: peer device not resolved")
	// ErrDoubleTransmission aborts the run: a device started a second
	// transmission while one was in flight.
	ErrDoubleTransmission = errors.New("isl: transmission already in progress")
)

const (
	DefaultMTU = 4000
	MinMTU     = 1500

	DefaultMinRate = 10 * linkbudget.KbitPerSecond

	DefaultUnresolvedPeerDelay = 100 * time.Millisecond
	DefaultLowRateDelay        = time.Millisecond
)

// RetryPolicy controls how a device waits before retrying the head packet.
// The zero Backoff and MaxAttempts keep a fixed delay and retry forever.
type RetryPolicy struct {
	UnresolvedPeerDelay time.Duration
	LowRateDelay        time.Duration
	Backoff             float64       // multiplier per consecutive failure, >= 1
	MaxDelay            time.Duration // 0 means no cap
	MaxAttempts         int           // 0 means unbounded; otherwise drop after this many failures
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		UnresolvedPeerDelay: DefaultUnresolvedPeerDelay,
		LowRateDelay:        DefaultLowRateDelay,
		Backoff:             1,
	}
}

// Delay returns the wait before retry number attempt (1-based).
func (p RetryPolicy) Delay(base time.Duration, attempt int) time.Duration {
	d := base
	if p.Backoff > 1 {
		for i := 1; i < attempt; i++ {
			next := float64(d) * p.Backoff
			if next >= math.MaxInt64 {
				d = time.Duration(math.MaxInt64)
				break
			}
			d = time.Duration(next)
			if p.MaxDelay > 0 && d >= p.MaxDelay {
				break
			}
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Config are the per-device parameters.
type Config struct {
	MTU       int
	MinRate   linkbudget.DataRate
	ATPDelay  time.Duration // acquisition, pointing and tracking time added per frame
	QueueSize int
	Retry     RetryPolicy
	// UseInterconnect restricts broadcast fan-out to known neighbours.
	UseInterconnect bool
}

func DefaultConfig() Config {
	return Config{
		MTU:       DefaultMTU,
		MinRate:   DefaultMinRate,
		QueueSize: DefaultQueueSize,
		Retry:     DefaultRetryPolicy(),
	}
}

// PacketType classifies a received packet by its destination.
type PacketType int

const (
	PacketHost PacketType = iota
	PacketBroadcast
	PacketMulticast
	PacketOtherHost
)

// ReceiveFunc is called for every packet addressed to the device.
type ReceiveFunc func(d *NetDevice, p *Packet, proto uint16, src Address)

// PromiscFunc is additionally called with the destination and type.
type PromiscFunc func(d *NetDevice, p *Packet, proto uint16, src, dst Address, typ PacketType)

// Stats counts what a device did.
type Stats struct {
	TxPackets uint64
	TxBytes   uint64
	RxPackets uint64
	RxBytes   uint64
	RxDropped uint64
	TxDropped uint64
	Retries   uint64
}

// NetDevice is one ISL interface of a satellite. It sends one packet at a
// time through the terminal offering the best rate towards the peer.
// All methods run on the scheduler's goroutine.
type NetDevice struct {
	addr  Address
	host  Host
	cfg   Config
	log   logging.Logger
	rec   Recorder
	icm   NeighbourSource
	errEM ErrorModel

	channel   *Channel
	sched     scheduler.Scheduler
	terminals []*Terminal
	queue     *DropTail

	state         State
	finishPending bool
	attempts      int
	disposed      bool
	stats         Stats

	rxFn      ReceiveFunc
	promiscFn PromiscFunc
}

// DeviceOption configures a NetDevice.
type DeviceOption func(*NetDevice)

func WithLogger(l logging.Logger) DeviceOption {
	return func(d *NetDevice) { d.log = logging.OrNoop(l) }
}

func WithRecorder(r Recorder) DeviceOption {
	return func(d *NetDevice) {
		if r != nil {
			d.rec = r
		}
	}
}

// WithInterconnect supplies the neighbour table used when
// Config.UseInterconnect is set.
func WithInterconnect(n NeighbourSource) DeviceOption {
	return func(d *NetDevice) { d.icm = n }
}

func WithReceiveErrorModel(m ErrorModel) DeviceOption {
	return func(d *NetDevice) { d.errEM = m }
}

// NewNetDevice creates a device on host. It must be attached to a channel
// before it can send.
func NewNetDevice(addr Address, host Host, cfg Config, opts ...DeviceOption) (*NetDevice, error) {
	if host == nil {
		return nil, ErrNoHost
	}
	if cfg.MTU == 0 {
		cfg.MTU = DefaultMTU
	}
	if cfg.MTU < MinMTU {
		return nil, fmt.Errorf("%w: %d < %d", ErrInvalidMTU, cfg.MTU, MinMTU)
	}
	if addr.IsGroup() || addr.IsZero() {
		return nil, fmt.Errorf("%w: device address %s", ErrInvalidAddress, addr)
	}
	d := &NetDevice{
		addr:  addr,
		host:  host,
		cfg:   cfg,
		log:   logging.Noop(),
		rec:   nopRecorder{},
		queue: NewDropTail(cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With(logging.String("device", addr.String()))
	return d, nil
}

func (d *NetDevice) Address() Address         { return d.addr }
func (d *NetDevice) Host() Host               { return d.host }
func (d *NetDevice) MTU() int                 { return d.cfg.MTU }
func (d *NetDevice) State() State             { return d.state }
func (d *NetDevice) QueueLen() int            { return d.queue.Len() }
func (d *NetDevice) Stats() Stats             { return d.stats }
func (d *NetDevice) Terminals() []*Terminal   { return append([]*Terminal(nil), d.terminals...) }
func (d *NetDevice) Channel() *Channel        { return d.channel }
func (d *NetDevice) SetReceive(f ReceiveFunc) { d.rxFn = f }
func (d *NetDevice) SetPromisc(f PromiscFunc) { d.promiscFn = f }

// AddTerminal mounts t on the device. The terminal must look through the
// host platform's frame.
func (d *NetDevice) AddTerminal(t *Terminal) error {
	if t.frame != d.host.Frame() {
		return ErrForeignFrame
	}
	d.terminals = append(d.terminals, t)
	return nil
}

// Attach connects the device to c.
func (d *NetDevice) Attach(c *Channel) error {
	if d.disposed {
		return ErrDisposed
	}
	if err := c.add(d); err != nil {
		return err
	}
	d.channel = c
	d.sched = c.sched
	return nil
}

// Send queues pkt for dst with the device's own source address.
func (d *NetDevice) Send(pkt *Packet, dst Address, proto uint16) error {
	return d.SendFrom(pkt, d.addr, dst, proto)
}

// SendFrom queues pkt and starts transmitting if the device is idle. A
// broadcast is queued as one copy per peer. Oversized packets and unknown
// unicast destinations are rejected without queueing anything.
func (d *NetDevice) SendFrom(pkt *Packet, src, dst Address, proto uint16) error {
	if d.disposed {
		return ErrDisposed
	}
	if d.channel == nil {
		return ErrNoChannel
	}
	if pkt.Len() > d.cfg.MTU {
		return fmt.Errorf("%w: %d > %d", ErrPacketTooLarge, pkt.Len(), d.cfg.MTU)
	}

	var err error
	if dst.IsBroadcast() {
		err = d.enqueueBroadcast(pkt, src, proto)
	} else {
		if d.channel.Device(dst) == nil {
			return fmt.Errorf("%w: %s", ErrUnknownDestination, dst)
		}
		pkt.Tag = Tag{Src: src, Dst: dst, Proto: proto}
		err = d.enqueue(pkt)
	}
	d.rec.QueueDepth(d.addr, d.queue.Len())

	if d.state == Idle && d.queue.Len() > 0 {
		d.startTransmission()
	}
	return err
}

func (d *NetDevice) enqueue(pkt *Packet) error {
	if !d.queue.Enqueue(pkt) {
		d.stats.TxDropped++
		d.rec.Dropped(d.addr, ReasonQueueFull)
		return ErrQueueFull
	}
	return nil
}

func (d *NetDevice) enqueueBroadcast(pkt *Packet, src Address, proto uint16) error {
	var allowed map[uint32]bool
	if d.cfg.UseInterconnect && d.icm != nil {
		allowed = make(map[uint32]bool)
		for _, n := range d.icm.Neighbours(d.host.SatID()) {
			allowed[n] = true
		}
	}

	var err error
	for _, other := range d.channel.order {
		if other == d {
			continue
		}
		if allowed != nil && !allowed[other.host.SatID()] {
			continue
		}
		cp := pkt.Copy()
		cp.Tag = Tag{Src: src, Dst: Broadcast, Proto: proto, SilentDst: other.addr}
		if qerr := d.enqueue(cp); qerr != nil {
			err = qerr
		}
	}
	return err
}

// startTransmission tries to put the head packet on the air. The packet is
// only removed from the queue once a transmission is committed.
func (d *NetDevice) startTransmission() {
	if d.disposed {
		return
	}
	if d.finishPending {
		err := fmt.Errorf("%w: device %s", ErrDoubleTransmission, d.addr)
		d.log.Error(context.Background(), "isl double transmission", logging.Err(err))
		d.sched.Abort(err)
		return
	}
	pkt := d.queue.Peek()
	if pkt == nil {
		d.state = Idle
		return
	}
	d.state = Transmitting

	peer := d.channel.Device(pkt.Tag.Peer())
	if peer == nil || peer.disposed {
		d.log.Warn(context.Background(), "isl peer unresolved, retrying",
			logging.String("peer", pkt.Tag.Peer().String()),
			logging.Err(ErrUnresolvedPeer),
		)
		d.retry(ReasonUnresolvedPeer, d.cfg.Retry.UnresolvedPeerDelay)
		return
	}

	mob := d.host.Mobility()
	if err := d.host.Frame().Update(mob.Position(), mob.Velocity()); err != nil {
		err = fmt.Errorf("isl: device %s: %w", d.addr, err)
		d.log.Error(context.Background(), "isl frame update failed", logging.Err(err))
		d.sched.Abort(err)
		return
	}

	term, est := d.bestTerminal(peer)
	if term == nil || est.Rate < d.cfg.MinRate {
		d.log.Warn(context.Background(), "isl rate below minimum, retrying",
			logging.String("peer", peer.addr.String()),
			logging.Uint64("rate_bps", uint64(est.Rate)),
			logging.Uint64("min_rate_bps", uint64(d.cfg.MinRate)),
		)
		d.retry(ReasonLowRate, d.cfg.Retry.LowRateDelay)
		return
	}

	d.queue.Dequeue()
	d.attempts = 0
	d.rec.QueueDepth(d.addr, d.queue.Len())

	txTime := est.Rate.TxTime(pkt.Len())
	d.channel.Transmit(pkt, d, peer, txTime)
	d.stats.TxPackets++
	d.stats.TxBytes += uint64(pkt.Len())
	d.rec.Transmitted(d.addr, pkt.Len(), est.Rate, txTime)
	d.log.Debug(context.Background(), "isl transmission started",
		logging.String("peer", peer.addr.String()),
		logging.String("terminal", term.name),
		logging.Uint64("rate_bps", uint64(est.Rate)),
		logging.Duration("tx_time", txTime),
	)

	d.finishPending = true
	d.sched.Schedule(txTime+d.cfg.ATPDelay, d.finishTransmission)
}

// bestTerminal picks the transmit-capable terminal with the highest positive
// rate towards peer. The first terminal wins ties.
func (d *NetDevice) bestTerminal(peer *NetDevice) (*Terminal, linkbudget.LinkEstimate) {
	var (
		best    *Terminal
		bestEst linkbudget.LinkEstimate
	)
	self, other := d.host.Mobility(), peer.host.Mobility()
	for _, t := range d.terminals {
		if !t.mode.CanTransmit() {
			continue
		}
		est := d.channel.estimator.Estimate(self, other, d.channel.loss, t)
		if est.Rate > 0 && est.Rate > bestEst.Rate {
			best, bestEst = t, est
		}
	}
	return best, bestEst
}

// EstimateTo returns the best terminal and its estimate towards peer
// without transmitting. The host frame is refreshed first.
func (d *NetDevice) EstimateTo(peer *NetDevice) (*Terminal, linkbudget.LinkEstimate, error) {
	mob := d.host.Mobility()
	if err := d.host.Frame().Update(mob.Position(), mob.Velocity()); err != nil {
		return nil, linkbudget.LinkEstimate{}, err
	}
	t, est := d.bestTerminal(peer)
	return t, est, nil
}

func (d *NetDevice) retry(reason string, base time.Duration) {
	d.attempts++
	d.stats.Retries++
	d.rec.Retried(d.addr, reason)

	if limit := d.cfg.Retry.MaxAttempts; limit > 0 && d.attempts >= limit {
		d.queue.Dequeue()
		d.attempts = 0
		d.stats.TxDropped++
		d.rec.Dropped(d.addr, ReasonRetryLimit)
		d.rec.QueueDepth(d.addr, d.queue.Len())
		d.log.Warn(context.Background(), "isl retry limit reached, dropping packet",
			logging.String("reason", reason),
			logging.Int("max_attempts", limit),
		)
		d.state = Idle
		if d.queue.Len() > 0 {
			d.state = RetryPending
			d.sched.Schedule(0, d.resume)
		}
		return
	}

	d.state = RetryPending
	d.sched.Schedule(d.cfg.Retry.Delay(base, d.attempts), d.resume)
}

func (d *NetDevice) resume() {
	if d.disposed {
		return
	}
	d.startTransmission()
}

func (d *NetDevice) finishTransmission() {
	if d.disposed {
		return
	}
	d.finishPending = false
	d.state = Idle
	d.startTransmission()
}

// Receive is invoked by the channel when a frame arrives.
func (d *NetDevice) Receive(pkt *Packet) {
	if d.disposed {
		return
	}
	if d.errEM != nil && d.errEM.IsCorrupt(pkt) {
		d.stats.RxDropped++
		d.rec.Dropped(d.addr, ReasonCorrupt)
		return
	}
	d.stats.RxPackets++
	d.stats.RxBytes += uint64(pkt.Len())
	d.rec.Received(d.addr, pkt.Len())

	tag := pkt.Tag
	var typ PacketType
	switch {
	case tag.Dst == d.addr:
		typ = PacketHost
	case tag.Dst.IsBroadcast():
		typ = PacketBroadcast
	case tag.Dst.IsGroup():
		typ = PacketMulticast
	default:
		typ = PacketOtherHost
	}
	if typ == PacketOtherHost {
		return
	}
	if d.rxFn != nil {
		d.rxFn(d, pkt, tag.Proto, tag.Src)
	}
	if d.promiscFn != nil {
		d.promiscFn(d, pkt, tag.Proto, tag.Src, tag.Dst, typ)
	}
}

// Dispose detaches the device and discards its queue. Events already
// scheduled for it still fire but do nothing.
func (d *NetDevice) Dispose() {
	if d.disposed {
		return
	}
	d.disposed = true
	if n := d.queue.Clear(); n > 0 {
		d.stats.TxDropped += uint64(n)
		for i := 0; i < n; i++ {
			d.rec.Dropped(d.addr, ReasonDisposed)
		}
	}
	if d.channel != nil {
		d.channel.remove(d.addr)
	}
	d.terminals = nil
}
