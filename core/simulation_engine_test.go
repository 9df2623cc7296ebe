package core

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/isl-simulator/internal/scheduler"
)

type runStats struct {
	calls     int
	executed  uint64
	pending   int
	simulated time.Duration
}

func (r *runStats) ObserveRun(executed uint64, pending int, simulated, _ time.Duration) {
	r.calls++
	r.executed, r.pending, r.simulated = executed, pending, simulated
}

func TestEngineDeliversUnicastFlow(t *testing.T) {
	for _, backend := range []string{SchedulerBuiltin, SchedulerEvtm} {
		t.Run(backend, func(t *testing.T) {
			doc := strings.Replace(pairScenario, "duration: 1s", "duration: 1s\n  scheduler: "+backend, 1)
			runRec := &runStats{}
			sim := buildScenario(t, doc, WithRunRecorder(runRec))
			engine := NewSimulationEngine(sim)

			sum, err := engine.Run(context.Background())
			if err != nil {
				t.Fatalf("Run: %v", err)
			}

			fs := sum.Flows[0]
			if fs.Sent != 5 || fs.Received != 5 || fs.Lost != 0 || fs.SendErrors != 0 {
				t.Fatalf("flow stats = %+v", fs)
			}
			if fs.Bytes != 5*1024 {
				t.Fatalf("bytes = %d, want %d", fs.Bytes, 5*1024)
			}
			// Propagation over 100 km alone is about 334us.
			if lat := fs.MeanLatency(); lat < 300*time.Microsecond || lat > 10*time.Millisecond {
				t.Fatalf("mean latency = %v", lat)
			}

			tx, rx := sum.Devices[0].Stats, sum.Devices[1].Stats
			if tx.TxPackets != 5 || rx.RxPackets != 5 {
				t.Fatalf("device stats tx=%+v rx=%+v", tx, rx)
			}
			if tot := sum.Totals(); tot.TxPackets != 5 || tot.RxBytes != 5*1024 {
				t.Fatalf("totals = %+v", tot)
			}
			if sum.Events == 0 || runRec.calls != 1 || runRec.executed != sum.Events {
				t.Fatalf("events = %d, recorder = %+v", sum.Events, runRec)
			}
			if sum.Connectivity == nil || sum.Connectivity.Up() != 2 {
				t.Fatalf("final survey = %+v", sum.Connectivity)
			}
		})
	}
}

func TestEngineBroadcastReachesEveryPeer(t *testing.T) {
	doc := `
simulation:
  duration: 2s
constellation:
  platforms:
    - sat_id: 1
      position: {x: 7000000, y: 0, z: 0}
      velocity: {x: 0, y: 7500, z: 0}
    - sat_id: 2
      position: {x: 7000000, y: 100000, z: 0}
      velocity: {x: 0, y: 7500, z: 0}
    - sat_id: 3
      position: {x: 7000000, y: 200000, z: 0}
      velocity: {x: 0, y: 7500, z: 0}
traffic:
  - name: beacon
    from: 2
    broadcast: true
    size: 200
    interval: 500ms
    count: 3
`
	sim := buildScenario(t, doc)
	sum, err := NewSimulationEngine(sim).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	fs := sum.Flows[0]
	if fs.Name != "beacon" || fs.Sent != 3 || fs.Received != 6 || fs.Lost != 0 {
		t.Fatalf("flow stats = %+v", fs)
	}
	if sim.Device(1).Stats().RxPackets != 3 || sim.Device(3).Stats().RxPackets != 3 {
		t.Fatalf("each peer should receive every beacon")
	}
}

func TestEnginePeriodicSurvey(t *testing.T) {
	doc := strings.Replace(pairScenario, "duration: 1s", "duration: 1s\n  survey_interval: 250ms", 1)
	rec := &scenarioCounts{}
	sim := buildScenario(t, doc, WithSurveyRecorder(rec))
	engine := NewSimulationEngine(sim)

	var ticks []time.Duration
	engine.RegisterTickListener(func(at time.Time, r *ConnectivityReport) {
		ticks = append(ticks, at.Sub(sim.Start()))
	})
	if _, err := engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []time.Duration{0, 250 * time.Millisecond, 500 * time.Millisecond, 750 * time.Millisecond, time.Second}
	if len(ticks) != len(want) {
		t.Fatalf("surveys at %v, want %v", ticks, want)
	}
	for i := range want {
		if ticks[i] != want[i] {
			t.Fatalf("surveys at %v, want %v", ticks, want)
		}
	}
	if len(rec.survey) != len(want) || rec.survey[0]["fair"]+rec.survey[0]["good"] != 2 {
		t.Fatalf("survey counts = %v", rec.survey)
	}
	if engine.LastSurvey() == nil {
		t.Fatalf("LastSurvey is nil after a run")
	}
}

func TestEngineRunsOnce(t *testing.T) {
	engine := NewSimulationEngine(buildScenario(t, pairScenario))
	if _, err := engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := engine.Run(context.Background()); !errors.Is(err, ErrAlreadyRun) {
		t.Fatalf("second Run err = %v, want ErrAlreadyRun", err)
	}
}

func TestEngineStopsOnCancelledContext(t *testing.T) {
	for _, backend := range []string{SchedulerBuiltin, SchedulerEvtm} {
		t.Run(backend, func(t *testing.T) {
			doc := strings.Replace(pairScenario, "duration: 1s", "duration: 1s\n  scheduler: "+backend, 1)

			engine := NewSimulationEngine(buildScenario(t, doc))
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			sum, err := engine.Run(ctx)
			if !errors.Is(err, context.Canceled) {
				t.Fatalf("err = %v, want context.Canceled", err)
			}
			if sum == nil {
				t.Fatalf("summary should be returned on error")
			}

			// Cancelled partway: flows stop with the run.
			sim := buildScenario(t, doc)
			ctx, cancel = context.WithCancel(context.Background())
			defer cancel()
			sim.Scheduler().Schedule(350*time.Millisecond, cancel)
			sum, err = NewSimulationEngine(sim).Run(ctx)
			if !errors.Is(err, context.Canceled) {
				t.Fatalf("err = %v, want context.Canceled", err)
			}
			if errors.Is(err, scheduler.ErrAborted) {
				t.Fatalf("cancellation should not be reported as an abort: %v", err)
			}
			if sum.Flows[0].Sent != 4 {
				t.Fatalf("sent = %d after cancelling at 350ms, want 4", sum.Flows[0].Sent)
			}
		})
	}
}

func TestEngineStopsWhenAborted(t *testing.T) {
	sim := buildScenario(t, pairScenario)
	engine := NewSimulationEngine(sim)
	boom := errors.New("boom")
	sim.Scheduler().Schedule(350*time.Millisecond, func() { sim.Scheduler().Abort(boom) })

	sum, err := engine.Run(context.Background())
	if !errors.Is(err, scheduler.ErrAborted) || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want aborted with boom", err)
	}
	if sum.Flows[0].Sent != 4 {
		t.Fatalf("flow should stop with the run, sent = %d", sum.Flows[0].Sent)
	}
}

func TestSummaryWrite(t *testing.T) {
	sim := buildScenario(t, pairScenario)
	sum, err := NewSimulationEngine(sim).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var buf bytes.Buffer
	if err := sum.Write(&buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"simulated", "sat-1", "sat-2", "flow-0", "links up", "total"} {
		if !strings.Contains(out, want) {
			t.Fatalf("summary missing %q:\n%s", want, out)
		}
	}
}
