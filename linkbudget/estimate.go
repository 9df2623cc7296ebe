package linkbudget

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/signalsfoundry/isl-simulator/antenna"
	"github.com/signalsfoundry/isl-simulator/mobility"
)

const (
	Boltzmann = 1.380649e-23 // J/K

	DefaultCarrierHz         = 25e9
	DefaultBandwidthFraction = 0.02
	DefaultNoiseTemperatureK = 290.0
	// DefaultTxPowerDbm is the reference power fed to the loss model.
	DefaultTxPowerDbm = 30.0
)

// Params are the fixed radio parameters of the rate estimate.
type Params struct {
	CarrierHz         float64
	BandwidthFraction float64
	NoiseTemperatureK float64
	TxPowerDbm        float64
	// PointingError subtracts the antenna's pointing-error loss from the
	// received signal when the antenna has an error model.
	PointingError bool
}

// DefaultParams returns the engineering defaults: a 25 GHz carrier with a
// bandwidth of 2% of the carrier.
func DefaultParams() Params {
	return Params{
		CarrierHz:         DefaultCarrierHz,
		BandwidthFraction: DefaultBandwidthFraction,
		NoiseTemperatureK: DefaultNoiseTemperatureK,
		TxPowerDbm:        DefaultTxPowerDbm,
	}
}

// Bandwidth returns the occupied bandwidth in Hz.
func (p Params) Bandwidth() float64 { return p.BandwidthFraction * p.CarrierHz }

// NoisePowerW returns the thermal noise power kTB in watts.
func (p Params) NoisePowerW() float64 {
	return Boltzmann * p.NoiseTemperatureK * p.Bandwidth()
}

// Pointer is what the estimator needs from a terminal: where a target lies
// relative to its boresight, and the antenna that looks there.
type Pointer interface {
	RelativeAngles(target r3.Vec) (azimuth, inclination float64)
	Antenna() *antenna.Model
}

// LinkEstimate is the breakdown of one rate estimate. It is computed on
// demand and not retained.
type LinkEstimate struct {
	RxPowerDbm     float64 // loss-model output at the reference power
	PathLossDb     float64 // reference power minus RxPowerDbm
	Azimuth        float64
	Inclination    float64
	AntennaGainDb  float64
	PointingLossDb float64
	SignalPowerW   float64
	NoisePowerW    float64
	Rate           DataRate
}

// SNRdB returns the signal-to-noise ratio in dB.
func (e LinkEstimate) SNRdB() float64 {
	return 10 * math.Log10(e.SignalPowerW/e.NoisePowerW)
}

// Estimator produces a link estimate from self towards other through the
// given terminal.
type Estimator interface {
	Estimate(self, other mobility.Model, loss PropagationLossModel, term Pointer) LinkEstimate
}

// Shannon estimates the Shannon capacity of the link. It is an upper bound:
// no modulation or coding is modelled.
type Shannon struct {
	Params Params
}

// NewShannon returns an estimator with the given parameters.
func NewShannon(p Params) *Shannon { return &Shannon{Params: p} }

func (s *Shannon) Estimate(self, other mobility.Model, loss PropagationLossModel, term Pointer) LinkEstimate {
	p := s.Params
	est := LinkEstimate{NoisePowerW: p.NoisePowerW()}

	est.RxPowerDbm = loss.CalcRxPower(p.TxPowerDbm, self, other)
	est.PathLossDb = p.TxPowerDbm - est.RxPowerDbm

	est.Azimuth, est.Inclination = term.RelativeAngles(other.Position())
	ant := term.Antenna()
	est.AntennaGainDb = ant.GainDb(est.Azimuth, est.Inclination)
	if p.PointingError {
		est.PointingLossDb = ant.PointingLossDb(est.AntennaGainDb)
	}

	signalDbm := est.RxPowerDbm + est.AntennaGainDb - est.PointingLossDb
	est.SignalPowerW = math.Pow(10, 0.1*(signalDbm-30))
	est.Rate = ShannonRate(p.Bandwidth(), est.SignalPowerW/est.NoisePowerW)
	return est
}
