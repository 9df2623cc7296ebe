// Package linkbudget turns geometry and antenna gain into an achievable
// inter-satellite data rate.
package linkbudget

import (
	"fmt"
	"math"
	"math/bits"
	"time"
)

// DataRate is a link rate in bits per second.
type DataRate uint64

const (
	BitPerSecond  DataRate = 1
	KbitPerSecond          = 1000 * BitPerSecond
	MbitPerSecond          = 1000 * KbitPerSecond
	GbitPerSecond          = 1000 * MbitPerSecond
)

// TxTime returns how long it takes to clock out size bytes, rounded up to
// the next nanosecond. A zero rate never finishes and returns the largest
// duration.
func (r DataRate) TxTime(size int) time.Duration {
	if r == 0 {
		return time.Duration(math.MaxInt64)
	}
	if size <= 0 {
		return 0
	}
	hi, lo := bits.Mul64(uint64(size)*8, uint64(time.Second))
	if hi >= uint64(r) {
		return time.Duration(math.MaxInt64)
	}
	q, rem := bits.Div64(hi, lo, uint64(r))
	if rem != 0 {
		q++
	}
	if q > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(q)
}

func (r DataRate) String() string {
	switch {
	case r >= GbitPerSecond:
		return fmt.Sprintf("%.3gGbps", float64(r)/float64(GbitPerSecond))
	case r >= MbitPerSecond:
		return fmt.Sprintf("%.3gMbps", float64(r)/float64(MbitPerSecond))
	case r >= KbitPerSecond:
		return fmt.Sprintf("%.3gkbps", float64(r)/float64(KbitPerSecond))
	default:
		return fmt.Sprintf("%dbps", uint64(r))
	}
}

// ShannonRate returns floor(bandwidth*log2(1+snr)). It is zero when the ratio
// is not positive or the result does not fit a DataRate.
func ShannonRate(bandwidthHz, snr float64) DataRate {
	if !(snr > 0) || math.IsInf(snr, 0) || !(bandwidthHz > 0) {
		return 0
	}
	c := math.Floor(bandwidthHz * math.Log2(1+snr))
	if math.IsNaN(c) || math.IsInf(c, 0) || c < 0 || c >= math.MaxUint64 {
		return 0
	}
	return DataRate(c)
}
