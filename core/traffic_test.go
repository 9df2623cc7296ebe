package core

import (
	"context"
	"testing"

	"github.com/signalsfoundry/isl-simulator/isl"
)

func TestFlowCountsGapsAndLatePackets(t *testing.T) {
	sim := buildScenario(t, pairScenario)
	f := sim.Flows()[0]
	rx := sim.Device(2)

	for _, seq := range []uint64{0, 1, 4, 2, 5} {
		pkt := isl.NewPacket(100)
		pkt.Flow, pkt.Seq, pkt.SentAt = f.Name(), seq, sim.Start()
		f.receive(rx, pkt)
	}
	st := f.Stats()
	if st.Received != 5 || st.Bytes != 500 {
		t.Fatalf("stats = %+v", st)
	}
	// 2 and 3 were missing when 4 arrived; 2 turned up late.
	if st.Lost != 1 {
		t.Fatalf("lost = %d, want 1", st.Lost)
	}
	if st.MeanLatency() != 0 {
		t.Fatalf("latency = %v, want 0 at the start instant", st.MeanLatency())
	}
}

func TestFlowMeanLatencyWithoutPackets(t *testing.T) {
	if got := (FlowStats{}).MeanLatency(); got != 0 {
		t.Fatalf("MeanLatency = %v, want 0", got)
	}
}

func TestFlowCountsRefusedPackets(t *testing.T) {
	doc := `
simulation:
  duration: 1s
device:
  queue_size: 1
constellation:
  platforms:
    - sat_id: 1
      position: {x: 7000000, y: 0, z: 0}
      velocity: {x: 0, y: 7500, z: 0}
    - sat_id: 2
      position: {x: -7000000, y: 0, z: 0}
      velocity: {x: 0, y: -7500, z: 0}
traffic:
  - from: 1
    to: 2
    interval: 100ms
    count: 4
`
	// The peer is behind the Earth: the head packet keeps retrying and the
	// rest overflow the one-slot queue.
	sim := buildScenario(t, doc)
	sum, err := NewSimulationEngine(sim).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	fs := sum.Flows[0]
	if fs.Sent != 1 || fs.SendErrors != 3 || fs.Received != 0 {
		t.Fatalf("flow stats = %+v", fs)
	}
	if sim.Device(1).State() != isl.RetryPending {
		t.Fatalf("sender state = %s, want retry-pending", sim.Device(1).State())
	}
	if sum.Devices[0].Stats.TxDropped != 3 {
		t.Fatalf("tx dropped = %d, want 3", sum.Devices[0].Stats.TxDropped)
	}
}
