package core

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/isl-simulator/antenna"
	"github.com/signalsfoundry/isl-simulator/isl"
	"github.com/signalsfoundry/isl-simulator/linkbudget"
	"github.com/signalsfoundry/isl-simulator/mobility"
	"github.com/signalsfoundry/isl-simulator/model"
)

// Scheduler backends.
const (
	SchedulerBuiltin = "builtin"
	SchedulerEvtm    = "evtm"
)

// Interconnect layouts.
const (
	InterconnectNone     = "none"
	InterconnectGrid     = "grid"
	InterconnectGridWrap = "grid-wrap"
	InterconnectFull     = "full"
)

// ErrInvalidScenario wraps every validation failure.
var ErrInvalidScenario = errors.New("core: invalid scenario")

// Scenario is the YAML description of one simulation run.
type Scenario struct {
	Simulation    SimulationConfig    `yaml:"simulation"`
	Channel       ChannelConfig       `yaml:"channel"`
	Antennas      []AntennaConfig     `yaml:"antennas"`
	Profiles      []ProfileConfig     `yaml:"profiles"`
	Device        DeviceConfig        `yaml:"device"`
	Constellation ConstellationConfig `yaml:"constellation"`
	Traffic       []FlowConfig        `yaml:"traffic"`
}

type SimulationConfig struct {
	Start     time.Time     `yaml:"start"`
	Duration  time.Duration `yaml:"duration"`
	Scheduler string        `yaml:"scheduler"` // builtin | evtm
	RealTime  bool          `yaml:"realtime"`
	Speed     float64       `yaml:"speed"` // virtual seconds per wall second in realtime mode
	// SurveyInterval is the period of link surveys; 0 surveys only at
	// the start and the end of the run.
	SurveyInterval time.Duration `yaml:"survey_interval"`
}

type ChannelConfig struct {
	CarrierHz         float64  `yaml:"carrier_hz"`
	BandwidthFraction float64  `yaml:"bandwidth_fraction"`
	NoiseTemperatureK float64  `yaml:"noise_temperature_k"`
	TxPowerDbm        *float64 `yaml:"tx_power_dbm"`
	SystemLossDb      float64  `yaml:"system_loss_db"`
	PointingError     bool     `yaml:"pointing_error"`

	// Occlusion blocks links through the Earth; defaults to true.
	Occlusion        *bool   `yaml:"occlusion"`
	OcclusionMarginM float64 `yaml:"occlusion_margin_m"`
	MaxRangeM        float64 `yaml:"max_range_m"`

	PropagationSpeed float64 `yaml:"propagation_speed"` // m/s, 0 = speed of light

	RxErrorRate float64 `yaml:"rx_error_rate"`
	RxErrorUnit string  `yaml:"rx_error_unit"` // packet | byte | bit
}

type AntennaConfig struct {
	Name          string        `yaml:"name"`
	Pattern       string        `yaml:"pattern"`
	PeakGainDbi   float64       `yaml:"peak_gain_dbi"`
	OpeningDeg    float64       `yaml:"opening_deg"`
	PointingError *RandomConfig `yaml:"pointing_error"`
}

// RandomConfig selects a random variable.
type RandomConfig struct {
	Distribution string  `yaml:"distribution"` // normal | uniform | constant
	Mean         float64 `yaml:"mean"`
	StdDev       float64 `yaml:"stddev"`
	Min          float64 `yaml:"min"`
	Max          float64 `yaml:"max"`
	Value        float64 `yaml:"value"`
	Scale        float64 `yaml:"scale"`
}

// ProfileConfig is a named set of terminals mounted on every device that
// uses it.
type ProfileConfig struct {
	Name      string           `yaml:"name"`
	Terminals []TerminalConfig `yaml:"terminals"`
}

type TerminalConfig struct {
	Name     string  `yaml:"name"`
	Antenna  string  `yaml:"antenna"`
	RollDeg  float64 `yaml:"roll_deg"`
	PitchDeg float64 `yaml:"pitch_deg"`
	YawDeg   float64 `yaml:"yaw_deg"`
	Mode     string  `yaml:"mode"`
}

type DeviceConfig struct {
	Profile         string        `yaml:"profile"`
	MTU             int           `yaml:"mtu"`
	MinRateBps      uint64        `yaml:"min_rate_bps"`
	ATPDelay        time.Duration `yaml:"atp_delay"`
	QueueSize       int           `yaml:"queue_size"`
	UseInterconnect bool          `yaml:"use_interconnect"`
	Retry           RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	UnresolvedPeerDelay time.Duration `yaml:"unresolved_peer_delay"`
	LowRateDelay        time.Duration `yaml:"low_rate_delay"`
	Backoff             float64       `yaml:"backoff"`
	MaxDelay            time.Duration `yaml:"max_delay"`
	MaxAttempts         int           `yaml:"max_attempts"`
}

type ConstellationConfig struct {
	Walker       *WalkerConfig    `yaml:"walker"`
	Platforms    []PlatformConfig `yaml:"platforms"`
	Interconnect string           `yaml:"interconnect"` // none | grid | grid-wrap | full
	// Links adds directed interconnect entries, [src, dst] satellite IDs.
	Links [][2]uint32 `yaml:"links"`
}

type WalkerConfig struct {
	Name            string    `yaml:"name"`
	Planes          int       `yaml:"planes"`
	SatsPerPlane    int       `yaml:"sats_per_plane"`
	Phasing         int       `yaml:"phasing"`
	InclinationDeg  float64   `yaml:"inclination_deg"`
	AltitudeKm      float64   `yaml:"altitude_km"`
	MeanMotion      float64   `yaml:"mean_motion"`
	RAANSpreadDeg   float64   `yaml:"raan_spread_deg"`
	RAANShiftDeg    float64   `yaml:"raan_shift_deg"`
	Epoch           time.Time `yaml:"epoch"`
	FirstSatID      uint32    `yaml:"first_sat_id"`
	ConstellationID uint32    `yaml:"constellation_id"`
	Profile         string    `yaml:"profile"`
}

// PlatformConfig is one explicitly listed satellite. It moves either along
// a TLE or in a straight line from Position with Velocity.
type PlatformConfig struct {
	ID              string        `yaml:"id"`
	Name            string        `yaml:"name"`
	SatID           uint32        `yaml:"sat_id"`
	OrbitID         uint32        `yaml:"orbit_id"`
	ConstellationID uint32        `yaml:"constellation_id"`
	TLELine1        string        `yaml:"tle_line1"`
	TLELine2        string        `yaml:"tle_line2"`
	Position        *model.Motion `yaml:"position"`
	Velocity        *model.Motion `yaml:"velocity"`
	Profile         string        `yaml:"profile"`
	Address         string        `yaml:"address"`
}

// FlowConfig generates packets from one satellite to another, or to every
// peer when Broadcast is set.
type FlowConfig struct {
	Name      string        `yaml:"name"`
	From      uint32        `yaml:"from"`
	To        uint32        `yaml:"to"`
	Broadcast bool          `yaml:"broadcast"`
	Size      int           `yaml:"size"`
	Interval  time.Duration `yaml:"interval"`
	Start     time.Duration `yaml:"start"`
	Count     int           `yaml:"count"` // 0 = until the end of the run
	Proto     uint16        `yaml:"proto"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("LoadScenario: %w", err)
	}
	defer f.Close()
	sc, err := ParseScenario(f)
	if err != nil {
		return nil, fmt.Errorf("LoadScenario %q: %w", path, err)
	}
	return sc, nil
}

// ParseScenario decodes a YAML scenario from r, fills defaults and
// validates it. Unknown keys are rejected.
func ParseScenario(r io.Reader) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("decode failed: %w", err)
	}
	sc.ApplyDefaults()
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// ApplyDefaults fills every unset field.
func (sc *Scenario) ApplyDefaults() {
	s := &sc.Simulation
	if s.Start.IsZero() {
		s.Start = mobility.DefaultEpoch
	}
	if s.Duration == 0 {
		s.Duration = 10 * time.Second
	}
	if s.Scheduler == "" {
		s.Scheduler = SchedulerBuiltin
	}
	if s.Speed == 0 {
		s.Speed = 1
	}

	c := &sc.Channel
	if c.CarrierHz == 0 {
		c.CarrierHz = linkbudget.DefaultCarrierHz
	}
	if c.BandwidthFraction == 0 {
		c.BandwidthFraction = linkbudget.DefaultBandwidthFraction
	}
	if c.NoiseTemperatureK == 0 {
		c.NoiseTemperatureK = linkbudget.DefaultNoiseTemperatureK
	}
	if c.TxPowerDbm == nil {
		p := linkbudget.DefaultTxPowerDbm
		c.TxPowerDbm = &p
	}
	if c.Occlusion == nil {
		on := true
		c.Occlusion = &on
	}
	if c.RxErrorUnit == "" {
		c.RxErrorUnit = "packet"
	}

	for i := range sc.Antennas {
		a := &sc.Antennas[i]
		if a.OpeningDeg == 0 {
			a.OpeningDeg = antenna.DefaultOpeningDeg
		}
		if pe := a.PointingError; pe != nil {
			if pe.Distribution == "" {
				pe.Distribution = "normal"
			}
			if pe.Scale == 0 {
				pe.Scale = 1
			}
		}
	}
	for i := range sc.Profiles {
		for j := range sc.Profiles[i].Terminals {
			t := &sc.Profiles[i].Terminals[j]
			if t.Name == "" {
				t.Name = fmt.Sprintf("t%d", j)
			}
		}
	}

	d := &sc.Device
	if d.Profile == "" {
		d.Profile = ProfileSymmetric4x
	}
	if d.MTU == 0 {
		d.MTU = isl.DefaultMTU
	}
	if d.MinRateBps == 0 {
		d.MinRateBps = uint64(isl.DefaultMinRate)
	}
	if d.QueueSize == 0 {
		d.QueueSize = isl.DefaultQueueSize
	}
	r := &d.Retry
	if r.UnresolvedPeerDelay == 0 {
		r.UnresolvedPeerDelay = isl.DefaultUnresolvedPeerDelay
	}
	if r.LowRateDelay == 0 {
		r.LowRateDelay = isl.DefaultLowRateDelay
	}
	if r.Backoff == 0 {
		r.Backoff = 1
	}

	k := &sc.Constellation
	if k.Interconnect == "" {
		k.Interconnect = InterconnectNone
	}
	if w := k.Walker; w != nil && w.Name == "" {
		w.Name = "walker"
	}
	for i := range sc.Constellation.Platforms {
		p := &sc.Constellation.Platforms[i]
		if p.ID == "" {
			p.ID = fmt.Sprintf("sat-%d", p.SatID)
		}
		if p.Name == "" {
			p.Name = p.ID
		}
	}

	for i := range sc.Traffic {
		f := &sc.Traffic[i]
		if f.Name == "" {
			f.Name = fmt.Sprintf("flow-%d", i)
		}
		if f.Size == 0 {
			f.Size = 1024
		}
		if f.Interval == 0 {
			f.Interval = time.Second
		}
	}
}

// Validate reports every problem in the scenario at once.
func (sc *Scenario) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	s := sc.Simulation
	if s.Duration <= 0 {
		add("simulation: duration must be positive, got %s", s.Duration)
	}
	if s.Scheduler != SchedulerBuiltin && s.Scheduler != SchedulerEvtm {
		add("simulation: unknown scheduler %q", s.Scheduler)
	}
	if s.RealTime && s.Scheduler == SchedulerEvtm {
		add("simulation: realtime pacing needs the builtin scheduler")
	}
	if s.SurveyInterval < 0 {
		add("simulation: survey_interval must not be negative")
	}

	c := sc.Channel
	if !(c.CarrierHz > 0) {
		add("channel: carrier_hz must be positive")
	}
	if !(c.BandwidthFraction > 0 && c.BandwidthFraction <= 1) {
		add("channel: bandwidth_fraction %v outside (0, 1]", c.BandwidthFraction)
	}
	if !(c.NoiseTemperatureK > 0) {
		add("channel: noise_temperature_k must be positive")
	}
	if c.SystemLossDb < 0 {
		add("channel: system_loss_db must not be negative")
	}
	if c.MaxRangeM < 0 || c.OcclusionMarginM < 0 || c.PropagationSpeed < 0 {
		add("channel: ranges, margins and speeds must not be negative")
	}
	if c.MaxRangeM > 0 && c.Occlusion != nil && !*c.Occlusion {
		add("channel: max_range_m needs occlusion enabled")
	}
	if !(c.RxErrorRate >= 0 && c.RxErrorRate <= 1) {
		add("channel: rx_error_rate %v outside [0, 1]", c.RxErrorRate)
	}
	if _, err := parseErrorUnit(c.RxErrorUnit); err != nil {
		add("channel: %v", err)
	}

	antennas := make(map[string]bool)
	for i, a := range sc.Antennas {
		if a.Name == "" {
			add("antennas[%d]: name is required", i)
		} else if antennas[a.Name] {
			add("antennas[%d]: duplicate name %q", i, a.Name)
		}
		antennas[a.Name] = true
		pattern, err := antenna.ParsePattern(a.Pattern)
		if err != nil {
			add("antennas[%d]: %v", i, err)
			continue
		}
		if _, err := antenna.NewModel(pattern, a.PeakGainDbi, a.OpeningDeg); err != nil {
			add("antennas[%d] %q: %v", i, a.Name, err)
		}
		if a.PointingError != nil {
			if err := a.PointingError.validate(); err != nil {
				add("antennas[%d] %q: pointing_error: %v", i, a.Name, err)
			}
		}
	}

	profiles := make(map[string]bool)
	for name := range builtinProfiles {
		profiles[name] = true
	}
	for i, p := range sc.Profiles {
		if p.Name == "" {
			add("profiles[%d]: name is required", i)
		} else if profiles[p.Name] {
			add("profiles[%d]: profile %q already defined", i, p.Name)
		}
		profiles[p.Name] = true
		if len(p.Terminals) == 0 {
			add("profiles[%d] %q: at least one terminal is required", i, p.Name)
		}
		for j, t := range p.Terminals {
			if !antennas[t.Antenna] {
				add("profiles[%d].terminals[%d]: unknown antenna %q", i, j, t.Antenna)
			}
			if _, err := isl.ParseMode(t.Mode); err != nil {
				add("profiles[%d].terminals[%d]: %v", i, j, err)
			}
			if t.PitchDeg < -90 || t.PitchDeg > 90 {
				add("profiles[%d].terminals[%d]: pitch %v outside [-90, 90]", i, j, t.PitchDeg)
			}
		}
	}

	d := sc.Device
	if !profiles[d.Profile] {
		add("device: unknown profile %q", d.Profile)
	}
	if d.MTU < isl.MinMTU {
		add("device: mtu %d below minimum %d", d.MTU, isl.MinMTU)
	}
	if d.QueueSize < 0 || d.ATPDelay < 0 {
		add("device: queue_size and atp_delay must not be negative")
	}
	if d.Retry.Backoff < 1 {
		add("device: retry backoff %v must be >= 1", d.Retry.Backoff)
	}
	if d.Retry.MaxAttempts < 0 || d.Retry.MaxDelay < 0 {
		add("device: retry max_attempts and max_delay must not be negative")
	}

	sats := make(map[uint32]bool)
	k := sc.Constellation
	switch k.Interconnect {
	case InterconnectNone, InterconnectGrid, InterconnectGridWrap, InterconnectFull:
	default:
		add("constellation: unknown interconnect %q", k.Interconnect)
	}
	if k.Walker == nil && len(k.Platforms) == 0 {
		add("constellation: a walker block or explicit platforms are required")
	}
	if w := k.Walker; w != nil {
		if w.Planes <= 0 || w.SatsPerPlane <= 0 {
			add("constellation.walker: planes and sats_per_plane must be positive")
		} else {
			for i := 0; i < w.Planes*w.SatsPerPlane; i++ {
				sats[w.FirstSatID+uint32(i)] = true
			}
		}
		if w.Profile != "" && !profiles[w.Profile] {
			add("constellation.walker: unknown profile %q", w.Profile)
		}
		if w.AltitudeKm < 0 || w.MeanMotion < 0 {
			add("constellation.walker: altitude_km and mean_motion must not be negative")
		}
	}
	ids := make(map[string]bool)
	for i, p := range k.Platforms {
		if ids[p.ID] {
			add("constellation.platforms[%d]: duplicate id %q", i, p.ID)
		}
		ids[p.ID] = true
		if sats[p.SatID] {
			add("constellation.platforms[%d]: sat_id %d already in use", i, p.SatID)
		}
		sats[p.SatID] = true
		hasTLE := p.TLELine1 != "" || p.TLELine2 != ""
		switch {
		case hasTLE && p.Position != nil:
			add("constellation.platforms[%d] %q: give either a TLE or a position, not both", i, p.ID)
		case hasTLE:
			if p.TLELine1 == "" || p.TLELine2 == "" {
				add("constellation.platforms[%d] %q: both TLE lines are required", i, p.ID)
			}
		case p.Position == nil:
			add("constellation.platforms[%d] %q: a TLE or a position is required", i, p.ID)
		case p.Velocity == nil || (*p.Velocity == model.Motion{}):
			add("constellation.platforms[%d] %q: a non-zero velocity is required to orient the satellite", i, p.ID)
		}
		if p.Profile != "" && !profiles[p.Profile] {
			add("constellation.platforms[%d] %q: unknown profile %q", i, p.ID, p.Profile)
		}
		if p.Address != "" {
			if _, err := isl.ParseAddress(p.Address); err != nil {
				add("constellation.platforms[%d] %q: %v", i, p.ID, err)
			}
		}
	}
	for i, l := range k.Links {
		if !sats[l[0]] || !sats[l[1]] {
			add("constellation.links[%d]: unknown satellite in %v", i, l)
		}
	}

	flows := make(map[string]bool)
	for i, f := range sc.Traffic {
		if flows[f.Name] {
			add("traffic[%d]: duplicate name %q", i, f.Name)
		}
		flows[f.Name] = true
		if !sats[f.From] {
			add("traffic[%d] %q: unknown source satellite %d", i, f.Name, f.From)
		}
		if !f.Broadcast {
			if !sats[f.To] {
				add("traffic[%d] %q: unknown destination satellite %d", i, f.Name, f.To)
			} else if f.To == f.From {
				add("traffic[%d] %q: source and destination are the same satellite", i, f.Name)
			}
		}
		if f.Size <= 0 || f.Size > d.MTU {
			add("traffic[%d] %q: size %d outside [1, %d]", i, f.Name, f.Size, d.MTU)
		}
		if f.Interval <= 0 || f.Start < 0 || f.Count < 0 {
			add("traffic[%d] %q: interval must be positive, start and count not negative", i, f.Name)
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}
	return nil
}

func (rc *RandomConfig) validate() error {
	switch strings.ToLower(rc.Distribution) {
	case "normal":
		if rc.StdDev < 0 {
			return fmt.Errorf("stddev must not be negative")
		}
	case "uniform":
		if rc.Max < rc.Min {
			return fmt.Errorf("max %v below min %v", rc.Max, rc.Min)
		}
	case "constant":
	default:
		return fmt.Errorf("unknown distribution %q", rc.Distribution)
	}
	return nil
}

func parseErrorUnit(s string) (isl.ErrorUnit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "packet":
		return isl.PerPacket, nil
	case "byte":
		return isl.PerByte, nil
	case "bit":
		return isl.PerBit, nil
	}
	return 0, fmt.Errorf("unknown error unit %q", s)
}
