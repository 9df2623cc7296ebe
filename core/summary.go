package core

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/signalsfoundry/isl-simulator/isl"
)

// DeviceSummary is the end-of-run state of one device.
type DeviceSummary struct {
	SatID    uint32
	Platform string
	Address  isl.Address
	State    isl.State
	Queue    int
	Stats    isl.Stats
}

// Summary describes a finished run.
type Summary struct {
	Start     time.Time
	Simulated time.Duration
	Wall      time.Duration
	Events    uint64
	Pending   int

	Devices      []DeviceSummary
	Flows        []FlowStats
	Connectivity *ConnectivityReport
}

func (se *SimulationEngine) summary(wall, simulated time.Duration) *Summary {
	sim := se.Sim
	s := &Summary{
		Start:        sim.start,
		Simulated:    simulated,
		Wall:         wall,
		Events:       sim.sched.Executed(),
		Pending:      sim.sched.Pending(),
		Connectivity: se.last,
	}
	for _, d := range sim.devices {
		ds := DeviceSummary{
			SatID:   d.Host().SatID(),
			Address: d.Address(),
			State:   d.State(),
			Queue:   d.QueueLen(),
			Stats:   d.Stats(),
		}
		if p := sim.KB.PlatformBySat(ds.SatID); p != nil {
			ds.Platform = p.ID()
		}
		s.Devices = append(s.Devices, ds)
	}
	for _, f := range sim.flows {
		s.Flows = append(s.Flows, f.Stats())
	}
	return s
}

// Totals sums the counters of every device.
func (s *Summary) Totals() isl.Stats {
	var t isl.Stats
	for _, d := range s.Devices {
		t.TxPackets += d.Stats.TxPackets
		t.TxBytes += d.Stats.TxBytes
		t.RxPackets += d.Stats.RxPackets
		t.RxBytes += d.Stats.RxBytes
		t.RxDropped += d.Stats.RxDropped
		t.TxDropped += d.Stats.TxDropped
		t.Retries += d.Stats.Retries
	}
	return t
}

// Write prints the summary as aligned tables.
func (s *Summary) Write(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "start\t%s\n", s.Start.UTC().Format(time.RFC3339))
	fmt.Fprintf(tw, "simulated\t%s\n", s.Simulated)
	fmt.Fprintf(tw, "wall\t%s\n", s.Wall.Round(time.Millisecond))
	fmt.Fprintf(tw, "events\t%d (%d pending)\n", s.Events, s.Pending)
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "SAT\tPLATFORM\tADDRESS\tSTATE\tQUEUE\tTX PKTS\tTX BYTES\tRX PKTS\tRX BYTES\tTX DROP\tRX DROP\tRETRIES")
	for _, d := range s.Devices {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			d.SatID, d.Platform, d.Address, d.State, d.Queue,
			d.Stats.TxPackets, d.Stats.TxBytes, d.Stats.RxPackets, d.Stats.RxBytes,
			d.Stats.TxDropped, d.Stats.RxDropped, d.Stats.Retries)
	}
	t := s.Totals()
	fmt.Fprintf(tw, "total\t\t\t\t\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
		t.TxPackets, t.TxBytes, t.RxPackets, t.RxBytes, t.TxDropped, t.RxDropped, t.Retries)

	if len(s.Flows) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "FLOW\tSENT\tREFUSED\tRECEIVED\tLOST\tBYTES\tMEAN LATENCY")
		for _, f := range s.Flows {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
				f.Name, f.Sent, f.SendErrors, f.Received, f.Lost, f.Bytes, f.MeanLatency())
		}
	}

	if r := s.Connectivity; r != nil {
		fmt.Fprintln(tw)
		fmt.Fprintf(tw, "links up\t%d of %d\n", r.Up(), len(r.Links))
		for _, q := range LinkQualities {
			fmt.Fprintf(tw, "  %s\t%d\n", q, r.Counts[q])
		}
	}
	return tw.Flush()
}
