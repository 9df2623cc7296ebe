package core

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/isl-simulator/internal/logging"
	"github.com/signalsfoundry/isl-simulator/internal/observability"
	"github.com/signalsfoundry/isl-simulator/kb"
	"github.com/signalsfoundry/isl-simulator/linkbudget"
)

// ErrAlreadyRun is returned when Run is called twice on one engine.
var ErrAlreadyRun = errors.New("core: simulation already run")

// SimulationEngine runs a built simulation: it starts the traffic flows,
// surveys connectivity periodically and drives the event scheduler to the
// end of the configured window.
type SimulationEngine struct {
	Sim                 *Simulation
	ConnectivityService *ConnectivityService

	log           logging.Logger
	tracer        trace.Tracer
	tickListeners []func(time.Time, *ConnectivityReport)
	last          *ConnectivityReport
	ran           bool
}

func NewSimulationEngine(sim *Simulation) *SimulationEngine {
	cs := NewConnectivityService(sim.Channel, sim.Interconnect, linkbudget.DataRate(sim.Scenario.Device.MinRateBps))
	return &SimulationEngine{
		Sim:                 sim,
		ConnectivityService: cs,
		log:                 sim.opts.log,
		tracer:              observability.Tracer(),
	}
}

// RegisterTickListener registers fn to be called after every survey.
func (se *SimulationEngine) RegisterTickListener(fn func(time.Time, *ConnectivityReport)) {
	se.tickListeners = append(se.tickListeners, fn)
}

// LastSurvey returns the most recent connectivity report, or nil.
func (se *SimulationEngine) LastSurvey() *ConnectivityReport { return se.last }

// Run executes the scenario. The summary is returned even when the run
// stops early with an error.
func (se *SimulationEngine) Run(ctx context.Context) (*Summary, error) {
	if se.ran {
		return nil, ErrAlreadyRun
	}
	se.ran = true

	sim := se.Sim
	cfg := sim.Scenario.Simulation
	end := sim.start.Add(cfg.Duration)

	ctx, span := se.tracer.Start(ctx, "simulation.run", trace.WithAttributes(
		attribute.String("scheduler", cfg.Scheduler),
		attribute.Int("devices", sim.Channel.NumDevices()),
		attribute.Int("flows", len(sim.flows)),
		attribute.String("duration", cfg.Duration.String()),
	))
	defer span.End()

	unsubscribe := sim.KB.Subscribe(func(ev kb.Event) {
		if ev.Type == kb.EventPlatformUpdated {
			se.log.Debug(ctx, "platform position",
				logging.String("platform", ev.Platform.ID),
				logging.Any("position", ev.Platform.Coordinates),
			)
		}
	})
	defer unsubscribe()

	fail := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		se.log.Error(ctx, "simulation failed", logging.Err(err))
		return err
	}

	if err := se.survey(ctx); err != nil {
		return se.summary(0, 0), fail(err)
	}
	for _, f := range sim.flows {
		f.schedule()
	}
	if cfg.SurveyInterval > 0 {
		var tick func()
		tick = func() {
			if err := se.survey(ctx); err != nil {
				sim.sched.Abort(err)
				return
			}
			sim.sched.Schedule(cfg.SurveyInterval, tick)
		}
		sim.sched.Schedule(cfg.SurveyInterval, tick)
	}

	se.log.Info(ctx, "simulation started",
		logging.String("start", sim.start.Format(time.RFC3339)),
		logging.Duration("duration", cfg.Duration),
	)
	wallStart := time.Now()
	err := sim.sched.Run(ctx, end)
	wall := time.Since(wallStart)
	simulated := sim.sched.Now().Sub(sim.start)
	if err == nil {
		// evtm leaves its clock at the last event rather than at end.
		simulated = cfg.Duration
	}

	if rec := sim.opts.runRec; rec != nil {
		rec.ObserveRun(sim.sched.Executed(), sim.sched.Pending(), simulated, wall)
	}
	if err != nil {
		return se.summary(wall, simulated), fail(err)
	}

	if se.last == nil || se.last.At.Before(end) {
		if err := se.survey(ctx); err != nil {
			return se.summary(wall, simulated), fail(err)
		}
	}
	span.SetAttributes(attribute.Int64("events", int64(sim.sched.Executed())))
	se.log.Info(ctx, "simulation complete",
		logging.Duration("simulated", simulated),
		logging.Duration("wall", wall),
		logging.Uint64("events", sim.sched.Executed()),
	)
	return se.summary(wall, simulated), nil
}

func (se *SimulationEngine) survey(ctx context.Context) error {
	_, span := se.tracer.Start(ctx, "link.survey")
	defer span.End()

	if err := se.Sim.KB.RefreshFrames(); err != nil {
		se.log.Warn(ctx, "platform frame refresh incomplete", logging.Err(err))
	}
	report, err := se.ConnectivityService.UpdateConnectivity()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	se.last = report

	span.SetAttributes(
		attribute.Int("links", len(report.Links)),
		attribute.Int("links_up", report.Up()),
	)
	if rec := se.Sim.opts.surveyRec; rec != nil {
		rec.SetSurveyCounts(report.CountsByName())
	}
	se.log.Debug(ctx, "link survey",
		logging.Int("links", len(report.Links)),
		logging.Int("up", report.Up()),
	)
	for _, fn := range se.tickListeners {
		fn(report.At, report)
	}
	return nil
}
