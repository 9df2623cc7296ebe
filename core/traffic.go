package core

import (
	"context"
	"errors"
	"time"

	"github.com/signalsfoundry/isl-simulator/internal/logging"
	"github.com/signalsfoundry/isl-simulator/isl"
)

// FlowStats are the counters of one traffic flow.
type FlowStats struct {
	Name       string
	Sent       uint64 // packets accepted by the sending device
	SendErrors uint64 // packets the device refused
	Received   uint64 // packets delivered, counted once per receiver
	Lost       uint64 // sequence gaps seen by receivers
	Bytes      uint64 // payload bytes received

	totalLatency time.Duration
}

// MeanLatency is the average time from generation to delivery.
func (s FlowStats) MeanLatency() time.Duration {
	if s.Received == 0 {
		return 0
	}
	return s.totalLatency / time.Duration(s.Received)
}

// Flow periodically sends fixed-size packets from one device. Receivers
// track sequence numbers and count gaps as losses.
type Flow struct {
	name     string
	src      *isl.NetDevice
	dst      isl.Address
	size     int
	interval time.Duration
	start    time.Duration
	count    int
	proto    uint16

	sim *Simulation
	log logging.Logger

	seq   uint64
	stats FlowStats
	// next expected sequence number per receiver
	expect map[isl.Address]uint64
}

func newFlow(fc FlowConfig, sim *Simulation) *Flow {
	f := &Flow{
		name:     fc.Name,
		src:      sim.bySat[fc.From],
		dst:      isl.Broadcast,
		size:     fc.Size,
		interval: fc.Interval,
		start:    fc.Start,
		count:    fc.Count,
		proto:    fc.Proto,
		sim:      sim,
		log:      sim.opts.log.With(logging.String("flow", fc.Name)),
		expect:   make(map[isl.Address]uint64),
	}
	f.stats.Name = fc.Name
	if !fc.Broadcast {
		f.dst = sim.bySat[fc.To].Address()
	}
	return f
}

func (f *Flow) Name() string { return f.name }

// Stats returns a snapshot of the flow counters.
func (f *Flow) Stats() FlowStats { return f.stats }

func (f *Flow) schedule() {
	f.sim.sched.Schedule(f.start, f.tick)
}

func (f *Flow) tick() {
	if f.count > 0 && f.seq >= uint64(f.count) {
		return
	}
	pkt := isl.NewPacket(f.size)
	pkt.Flow = f.name
	pkt.Seq = f.seq
	pkt.SentAt = f.sim.sched.Now()
	f.seq++

	if err := f.src.Send(pkt, f.dst, f.proto); err != nil {
		f.stats.SendErrors++
		lvl := f.log.Warn
		if errors.Is(err, isl.ErrQueueFull) {
			lvl = f.log.Debug
		}
		lvl(context.Background(), "flow packet refused", logging.Uint64("seq", pkt.Seq), logging.Err(err))
	} else {
		f.stats.Sent++
	}

	if f.count == 0 || f.seq < uint64(f.count) {
		f.sim.sched.Schedule(f.interval, f.tick)
	}
}

func (f *Flow) receive(d *isl.NetDevice, pkt *isl.Packet) {
	f.stats.Received++
	f.stats.Bytes += uint64(pkt.Len())
	f.stats.totalLatency += f.sim.sched.Now().Sub(pkt.SentAt)

	want := f.expect[d.Address()]
	switch {
	case pkt.Seq >= want:
		f.stats.Lost += pkt.Seq - want
		f.expect[d.Address()] = pkt.Seq + 1
	case f.stats.Lost > 0:
		// a late packet fills a gap counted earlier
		f.stats.Lost--
	}
}
