package isl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/isl-simulator/internal/logging"
	"github.com/signalsfoundry/isl-simulator/internal/scheduler"
	"github.com/signalsfoundry/isl-simulator/linkbudget"
)

var ErrDuplicateAddress = errors.New("isl: address already attached to channel")

// Channel connects the ISL devices of a constellation. It owns the
// propagation models and the rate estimator, and times remote delivery.
type Channel struct {
	sched     scheduler.Scheduler
	loss      linkbudget.PropagationLossModel
	delay     linkbudget.PropagationDelayModel
	estimator linkbudget.Estimator
	log       logging.Logger

	devices map[Address]*NetDevice
	order   []*NetDevice
}

// ChannelOption configures a Channel.
type ChannelOption func(*Channel)

func WithLossModel(m linkbudget.PropagationLossModel) ChannelOption {
	return func(c *Channel) { c.loss = m }
}

func WithDelayModel(m linkbudget.PropagationDelayModel) ChannelOption {
	return func(c *Channel) { c.delay = m }
}

func WithEstimator(e linkbudget.Estimator) ChannelOption {
	return func(c *Channel) { c.estimator = e }
}

func WithChannelLogger(l logging.Logger) ChannelOption {
	return func(c *Channel) { c.log = logging.OrNoop(l) }
}

// NewChannel returns a channel driven by sched. Without options it uses
// Earth-occluded Friis loss at the default carrier, light-speed delay and a
// Shannon estimator with default parameters.
func NewChannel(sched scheduler.Scheduler, opts ...ChannelOption) *Channel {
	c := &Channel{
		sched:   sched,
		log:     logging.Noop(),
		devices: make(map[Address]*NetDevice),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.estimator == nil {
		c.estimator = linkbudget.NewShannon(linkbudget.DefaultParams())
	}
	if c.loss == nil {
		c.loss = &linkbudget.Occluded{Inner: linkbudget.NewFriis(linkbudget.DefaultCarrierHz)}
	}
	if c.delay == nil {
		c.delay = linkbudget.ConstantSpeed{}
	}
	return c
}

func (c *Channel) Scheduler() scheduler.Scheduler               { return c.sched }
func (c *Channel) LossModel() linkbudget.PropagationLossModel   { return c.loss }
func (c *Channel) DelayModel() linkbudget.PropagationDelayModel { return c.delay }
func (c *Channel) Estimator() linkbudget.Estimator              { return c.estimator }

func (c *Channel) add(d *NetDevice) error {
	if _, ok := c.devices[d.addr]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAddress, d.addr)
	}
	c.devices[d.addr] = d
	c.order = append(c.order, d)
	return nil
}

func (c *Channel) remove(addr Address) {
	if _, ok := c.devices[addr]; !ok {
		return
	}
	delete(c.devices, addr)
	for i, d := range c.order {
		if d.addr == addr {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Device returns the device attached under addr, or nil.
func (c *Channel) Device(addr Address) *NetDevice { return c.devices[addr] }

// Devices returns the attached devices in attachment order.
func (c *Channel) Devices() []*NetDevice {
	out := make([]*NetDevice, len(c.order))
	copy(out, c.order)
	return out
}

// NumDevices returns how many devices are attached.
func (c *Channel) NumDevices() int { return len(c.order) }

// Transmit delivers pkt from one device to another. The receive event fires
// once the last bit has left the sender and crossed the propagation delay.
func (c *Channel) Transmit(pkt *Packet, from, to *NetDevice, txTime time.Duration) {
	prop := c.delay.Delay(from.host.Mobility(), to.host.Mobility())
	c.log.Debug(context.Background(), "isl frame on air",
		logging.String("src", from.addr.String()),
		logging.String("dst", to.addr.String()),
		logging.Duration("tx_time", txTime),
		logging.Duration("propagation", prop),
	)
	c.sched.Schedule(txTime+prop, func() { to.Receive(pkt) })
}
