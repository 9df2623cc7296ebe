package core

import (
	"time"

	"github.com/signalsfoundry/isl-simulator/isl"
	"github.com/signalsfoundry/isl-simulator/linkbudget"
)

// LinkQuality is a coarse, human-readable classification of link
// quality derived from the SNR estimate.
type LinkQuality string

const (
	LinkQualityDown      LinkQuality = "down"
	LinkQualityPoor      LinkQuality = "poor"
	LinkQualityFair      LinkQuality = "fair"
	LinkQualityGood      LinkQuality = "good"
	LinkQualityExcellent LinkQuality = "excellent"
)

// LinkQualities lists every quality from worst to best.
var LinkQualities = []LinkQuality{
	LinkQualityDown, LinkQualityPoor, LinkQualityFair, LinkQualityGood, LinkQualityExcellent,
}

// NetworkLink is the surveyed state of the directed link from one device to
// another at one instant.
type NetworkLink struct {
	From, To         uint32 // satellite IDs
	FromAddr, ToAddr isl.Address

	// Terminal is the sender terminal that would carry the link, empty
	// when no terminal can.
	Terminal string

	DistanceKm  float64
	Propagation time.Duration
	SNRdB       float64
	Rate        linkbudget.DataRate
	Quality     LinkQuality

	// IsUp reports whether the sender would transmit now: a terminal sees
	// the peer at no less than the device's minimum rate.
	IsUp bool
	// InInterconnect reports whether the pair is in the interconnect table.
	InInterconnect bool
}

// classifyLinkBySNR maps an SNR to a quality bucket. Thresholds are in dB.
func classifyLinkBySNR(snr float64) LinkQuality {
	switch {
	case !(snr >= 0):
		return LinkQualityDown
	case snr < 5:
		return LinkQualityPoor
	case snr < 10:
		return LinkQualityFair
	case snr < 20:
		return LinkQualityGood
	default:
		return LinkQualityExcellent
	}
}
