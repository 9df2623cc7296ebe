package core

import (
	"fmt"
	"time"

	"github.com/signalsfoundry/isl-simulator/isl"
	"github.com/signalsfoundry/isl-simulator/kb"
	"github.com/signalsfoundry/isl-simulator/linkbudget"
	"github.com/signalsfoundry/isl-simulator/mobility"
)

// ConnectivityService surveys which device pairs could exchange frames at
// the current instant. Every directed pair is evaluated with the same
// terminal selection and rate estimate a device uses before transmitting.
type ConnectivityService struct {
	Channel      *isl.Channel
	Interconnect *kb.Interconnect

	// MinRate is the rate below which a link counts as not up.
	MinRate linkbudget.DataRate
	// InterconnectOnly skips pairs missing from the interconnect table.
	InterconnectOnly bool
}

func NewConnectivityService(ch *isl.Channel, ic *kb.Interconnect, minRate linkbudget.DataRate) *ConnectivityService {
	return &ConnectivityService{Channel: ch, Interconnect: ic, MinRate: minRate}
}

// ConnectivityReport is the result of one survey.
type ConnectivityReport struct {
	At     time.Time
	Links  []NetworkLink
	Counts map[LinkQuality]int
}

// Up returns the number of links that are up.
func (r *ConnectivityReport) Up() int {
	n := 0
	for _, l := range r.Links {
		if l.IsUp {
			n++
		}
	}
	return n
}

// CountsByName returns the quality counts keyed by quality name, with every
// quality present.
func (r *ConnectivityReport) CountsByName() map[string]int {
	out := make(map[string]int, len(LinkQualities))
	for _, q := range LinkQualities {
		out[string(q)] = r.Counts[q]
	}
	return out
}

// Link returns the surveyed link between two satellites.
func (r *ConnectivityReport) Link(from, to uint32) (NetworkLink, bool) {
	for _, l := range r.Links {
		if l.From == from && l.To == to {
			return l, true
		}
	}
	return NetworkLink{}, false
}

// UpdateConnectivity evaluates every directed pair of attached devices.
// It fails if a sender's orbital frame cannot be refreshed.
func (cs *ConnectivityService) UpdateConnectivity() (*ConnectivityReport, error) {
	devices := cs.Channel.Devices()
	report := &ConnectivityReport{
		At:     cs.Channel.Scheduler().Now(),
		Counts: make(map[LinkQuality]int),
	}
	for _, a := range devices {
		for _, b := range devices {
			if a == b {
				continue
			}
			inICM := cs.Interconnect != nil && cs.Interconnect.IsAvailable(a.Host().SatID(), b.Host().SatID())
			if cs.InterconnectOnly && !inICM {
				continue
			}
			link, err := cs.evaluateLink(a, b)
			if err != nil {
				return nil, err
			}
			link.InInterconnect = inICM
			report.Links = append(report.Links, link)
			report.Counts[link.Quality]++
		}
	}
	return report, nil
}

func (cs *ConnectivityService) evaluateLink(a, b *isl.NetDevice) (NetworkLink, error) {
	self, other := a.Host().Mobility(), b.Host().Mobility()
	link := NetworkLink{
		From:        a.Host().SatID(),
		To:          b.Host().SatID(),
		FromAddr:    a.Address(),
		ToAddr:      b.Address(),
		DistanceKm:  mobility.Distance(self, other) / 1000,
		Propagation: cs.Channel.DelayModel().Delay(self, other),
		Quality:     LinkQualityDown,
	}

	term, est, err := a.EstimateTo(b)
	if err != nil {
		return link, fmt.Errorf("survey %d -> %d: %w", link.From, link.To, err)
	}
	if term == nil {
		return link, nil
	}
	link.Terminal = term.Name()
	link.SNRdB = est.SNRdB()
	link.Rate = est.Rate
	link.Quality = classifyLinkBySNR(link.SNRdB)
	link.IsUp = est.Rate >= cs.MinRate
	return link, nil
}
