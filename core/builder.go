package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/signalsfoundry/isl-simulator/internal/logging"
	"github.com/signalsfoundry/isl-simulator/internal/randvar"
	"github.com/signalsfoundry/isl-simulator/internal/scheduler"
	"github.com/signalsfoundry/isl-simulator/isl"
	"github.com/signalsfoundry/isl-simulator/kb"
	"github.com/signalsfoundry/isl-simulator/linkbudget"
	"github.com/signalsfoundry/isl-simulator/model"
	"github.com/signalsfoundry/isl-simulator/orient"
	"github.com/signalsfoundry/isl-simulator/timectrl"
)

// SurveyRecorder receives the outcome of link surveys and the size of the
// scenario.
type SurveyRecorder interface {
	SetSurveyCounts(counts map[string]int)
	SetScenarioCounts(platforms, devices int)
}

// RunRecorder receives scheduler statistics after a run.
type RunRecorder interface {
	ObserveRun(executed uint64, pending int, simulated, wall time.Duration)
}

// Option configures Build.
type Option func(*options)

type options struct {
	log       logging.Logger
	recorder  isl.Recorder
	surveyRec SurveyRecorder
	runRec    RunRecorder
}

// WithLogger sets the logger shared by the engine, channel and devices.
func WithLogger(l logging.Logger) Option { return func(o *options) { o.log = logging.OrNoop(l) } }

// WithRecorder sets the device metrics recorder.
func WithRecorder(r isl.Recorder) Option { return func(o *options) { o.recorder = r } }

// WithSurveyRecorder sets the recorder for link surveys.
func WithSurveyRecorder(r SurveyRecorder) Option { return func(o *options) { o.surveyRec = r } }

// WithRunRecorder sets the recorder for scheduler statistics.
func WithRunRecorder(r RunRecorder) Option { return func(o *options) { o.runRec = r } }

// runner is a scheduler that can also drive the run loop.
type runner interface {
	scheduler.Scheduler
	Run(ctx context.Context, until time.Time) error
	Pending() int
	Executed() uint64
}

// Simulation is a built scenario, ready to run.
type Simulation struct {
	Scenario     *Scenario
	KB           *kb.KnowledgeBase
	Interconnect *kb.Interconnect
	Channel      *isl.Channel

	devices []*isl.NetDevice // ordered by satellite ID
	bySat   map[uint32]*isl.NetDevice
	flows   []*Flow

	sched runner
	clock timectrl.SimClock
	start time.Time
	opts  options
}

// Device returns the device of a satellite, or nil.
func (s *Simulation) Device(sat uint32) *isl.NetDevice { return s.bySat[sat] }

// Devices returns every device ordered by satellite ID.
func (s *Simulation) Devices() []*isl.NetDevice {
	return append([]*isl.NetDevice(nil), s.devices...)
}

// Flows returns the traffic flows in configuration order.
func (s *Simulation) Flows() []*Flow { return append([]*Flow(nil), s.flows...) }

// Scheduler returns the event scheduler driving the simulation.
func (s *Simulation) Scheduler() scheduler.Scheduler { return s.sched }

// Start returns the simulated start time.
func (s *Simulation) Start() time.Time { return s.start }

// Build creates platforms, devices, the channel, the interconnect table and
// traffic flows for a scenario. The scenario is validated first.
func Build(sc *Scenario, opts ...Option) (*Simulation, error) {
	o := options{log: logging.Noop()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}

	sim := &Simulation{
		Scenario:     sc,
		KB:           kb.NewKnowledgeBase(),
		Interconnect: kb.NewInterconnect(),
		bySat:        make(map[uint32]*isl.NetDevice),
		start:        sc.Simulation.Start,
		opts:         o,
	}
	sim.sched, sim.clock = newScheduler(sc.Simulation, o.log)
	o.log = logging.WithClock(o.log, sim.sched.Now)
	sim.opts.log = o.log

	params := linkbudget.Params{
		CarrierHz:         sc.Channel.CarrierHz,
		BandwidthFraction: sc.Channel.BandwidthFraction,
		NoiseTemperatureK: sc.Channel.NoiseTemperatureK,
		TxPowerDbm:        *sc.Channel.TxPowerDbm,
		PointingError:     sc.Channel.PointingError,
	}
	sim.Channel = isl.NewChannel(sim.sched,
		isl.WithLossModel(lossModel(sc.Channel)),
		isl.WithDelayModel(linkbudget.ConstantSpeed{Speed: sc.Channel.PropagationSpeed}),
		isl.WithEstimator(linkbudget.NewShannon(params)),
		isl.WithChannelLogger(o.log),
	)

	antennas, err := buildAntennas(sc.Antennas)
	if err != nil {
		return nil, err
	}
	profiles, err := resolveProfiles(sc.Profiles, antennas)
	if err != nil {
		return nil, err
	}

	defs, profileOf, err := platformDefinitions(sc.Constellation)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(defs, func(i, j int) bool { return defs[i].SatID < defs[j].SatID })

	addresses := make(map[string]string)
	for _, p := range sc.Constellation.Platforms {
		if p.Address != "" {
			addresses[p.ID] = p.Address
		}
	}

	var alloc isl.AddressAllocator
	used := make(map[isl.Address]bool)
	for _, def := range defs {
		mob, err := NewMotionModel(def, sim.clock)
		if err != nil {
			return nil, err
		}
		platform, err := sim.KB.AddPlatform(def, mob)
		if err != nil {
			return nil, err
		}

		addr, err := nextAddress(&alloc, used, addresses[def.ID])
		if err != nil {
			return nil, fmt.Errorf("platform %q: %w", def.ID, err)
		}
		profileName := sc.Device.Profile
		if p, ok := profileOf[def.ID]; ok {
			profileName = p
		}
		dev, err := sim.newDevice(platform, addr, profiles[profileName])
		if err != nil {
			return nil, fmt.Errorf("platform %q: %w", def.ID, err)
		}
		if err := sim.KB.AddNetworkNode(&model.NetworkNode{
			ID:         "isl-" + def.ID,
			Name:       def.Name + " ISL",
			PlatformID: def.ID,
			Profile:    profileName,
			Address:    addr.String(),
		}); err != nil {
			return nil, err
		}
		sim.devices = append(sim.devices, dev)
		sim.bySat[def.SatID] = dev
	}

	sim.buildInterconnect()

	for _, fc := range sc.Traffic {
		f := newFlow(fc, sim)
		sim.flows = append(sim.flows, f)
	}
	for _, dev := range sim.devices {
		dev.SetReceive(sim.deliver)
	}

	o.log.Info(context.Background(), "scenario built",
		logging.Int("platforms", len(defs)),
		logging.Int("devices", sim.Channel.NumDevices()),
		logging.Int("interconnect_links", sim.Interconnect.Size()),
		logging.Int("flows", len(sim.flows)),
		logging.String("scheduler", sc.Simulation.Scheduler),
	)
	if o.surveyRec != nil {
		o.surveyRec.SetScenarioCounts(len(defs), sim.Channel.NumDevices())
	}
	return sim, nil
}

func newScheduler(cfg SimulationConfig, log logging.Logger) (runner, timectrl.SimClock) {
	if cfg.Scheduler == SchedulerEvtm {
		s := scheduler.NewEvtm(cfg.Start)
		return s, s
	}
	clock := timectrl.NewVirtualClock(cfg.Start)
	opts := []scheduler.Option{scheduler.WithLogger(log)}
	if cfg.RealTime {
		opts = append(opts, scheduler.WithPacer(timectrl.NewPacer(timectrl.RealTime, cfg.Speed)))
	}
	return scheduler.New(clock, opts...), clock
}

func lossModel(c ChannelConfig) linkbudget.PropagationLossModel {
	friis := &linkbudget.Friis{FrequencyHz: c.CarrierHz, SystemLossDb: c.SystemLossDb}
	if c.Occlusion != nil && !*c.Occlusion {
		return friis
	}
	return &linkbudget.Occluded{Inner: friis, MarginM: c.OcclusionMarginM, MaxRangeM: c.MaxRangeM}
}

// nextAddress returns the configured address, or the next free allocated one.
func nextAddress(alloc *isl.AddressAllocator, used map[isl.Address]bool, configured string) (isl.Address, error) {
	if configured != "" {
		addr, err := isl.ParseAddress(configured)
		if err != nil {
			return isl.Address{}, err
		}
		if used[addr] {
			return isl.Address{}, fmt.Errorf("%w: %s", isl.ErrDuplicateAddress, addr)
		}
		used[addr] = true
		return addr, nil
	}
	for {
		addr := alloc.Next()
		if !used[addr] {
			used[addr] = true
			return addr, nil
		}
	}
}

func (s *Simulation) newDevice(platform *kb.Platform, addr isl.Address, profile InterfaceProfile) (*isl.NetDevice, error) {
	sc := s.Scenario
	cfg := isl.Config{
		MTU:       sc.Device.MTU,
		MinRate:   linkbudget.DataRate(sc.Device.MinRateBps),
		ATPDelay:  sc.Device.ATPDelay,
		QueueSize: sc.Device.QueueSize,
		Retry: isl.RetryPolicy{
			UnresolvedPeerDelay: sc.Device.Retry.UnresolvedPeerDelay,
			LowRateDelay:        sc.Device.Retry.LowRateDelay,
			Backoff:             sc.Device.Retry.Backoff,
			MaxDelay:            sc.Device.Retry.MaxDelay,
			MaxAttempts:         sc.Device.Retry.MaxAttempts,
		},
		UseInterconnect: sc.Device.UseInterconnect,
	}
	opts := []isl.DeviceOption{
		isl.WithLogger(s.opts.log.With(logging.String("platform", platform.ID()))),
		isl.WithInterconnect(s.Interconnect),
	}
	if s.opts.recorder != nil {
		opts = append(opts, isl.WithRecorder(s.opts.recorder))
	}
	if rate := sc.Channel.RxErrorRate; rate > 0 {
		unit, err := parseErrorUnit(sc.Channel.RxErrorUnit)
		if err != nil {
			return nil, err
		}
		em, err := isl.NewRateErrorModel(rate, unit, randvar.NewUniform("rx-error/"+addr.String(), 0, 1))
		if err != nil {
			return nil, err
		}
		opts = append(opts, isl.WithReceiveErrorModel(em))
	}

	dev, err := isl.NewNetDevice(addr, platform, cfg, opts...)
	if err != nil {
		return nil, err
	}
	for _, spec := range profile.Terminals {
		tr, err := orient.NewTransform(spec.RollDeg, spec.PitchDeg, spec.YawDeg)
		if err != nil {
			return nil, fmt.Errorf("terminal %q: %w", spec.Name, err)
		}
		term, err := isl.NewTerminal(spec.Name, tr, spec.Antenna, platform.Frame(), spec.Mode)
		if err != nil {
			return nil, err
		}
		if err := dev.AddTerminal(term); err != nil {
			return nil, err
		}
	}
	if err := dev.Attach(s.Channel); err != nil {
		return nil, err
	}
	return dev, nil
}

// buildInterconnect fills the interconnect table from the configured layout
// and explicit links.
func (s *Simulation) buildInterconnect() {
	k := s.Scenario.Constellation
	switch k.Interconnect {
	case InterconnectGrid, InterconnectGridWrap:
		for _, planes := range s.planes() {
			s.Interconnect.AddGrid(planes, k.Interconnect == InterconnectGridWrap)
		}
	case InterconnectFull:
		for _, a := range s.devices {
			for _, b := range s.devices {
				if a != b {
					s.Interconnect.Add(a.Host().SatID(), b.Host().SatID())
				}
			}
		}
	}
	for _, l := range k.Links {
		s.Interconnect.Add(l[0], l[1])
	}
}

// planes groups satellites by constellation, then by orbit, both ascending.
func (s *Simulation) planes() [][][]uint32 {
	orbits := make(map[uint32]map[uint32]bool)
	for _, p := range s.KB.ListPlatforms() {
		def := p.Definition()
		if orbits[def.ConstellationID] == nil {
			orbits[def.ConstellationID] = make(map[uint32]bool)
		}
		orbits[def.ConstellationID][def.OrbitID] = true
	}
	constellations := make([]uint32, 0, len(orbits))
	for c := range orbits {
		constellations = append(constellations, c)
	}
	sort.Slice(constellations, func(i, j int) bool { return constellations[i] < constellations[j] })

	var out [][][]uint32
	for _, c := range constellations {
		ids := make([]uint32, 0, len(orbits[c]))
		for o := range orbits[c] {
			ids = append(ids, o)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		planes := make([][]uint32, 0, len(ids))
		for _, o := range ids {
			planes = append(planes, s.KB.SatsInOrbit(c, o))
		}
		out = append(out, planes)
	}
	return out
}

// deliver hands packets received by any device to the flow that sent them.
func (s *Simulation) deliver(d *isl.NetDevice, pkt *isl.Packet, _ uint16, _ isl.Address) {
	for _, f := range s.flows {
		if f.name == pkt.Flow {
			f.receive(d, pkt)
			return
		}
	}
}
