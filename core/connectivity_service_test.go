package core

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/isl-simulator/linkbudget"
)

func TestClassifyLinkBySNR(t *testing.T) {
	cases := []struct {
		snr  float64
		want LinkQuality
	}{
		{math.Inf(-1), LinkQualityDown},
		{math.NaN(), LinkQualityDown},
		{-0.1, LinkQualityDown},
		{0, LinkQualityPoor},
		{4.9, LinkQualityPoor},
		{5, LinkQualityFair},
		{12, LinkQualityGood},
		{20, LinkQualityExcellent},
	}
	for _, tc := range cases {
		if got := classifyLinkBySNR(tc.snr); got != tc.want {
			t.Fatalf("classifyLinkBySNR(%v) = %s, want %s", tc.snr, got, tc.want)
		}
	}
}

func TestSurveyPairSeesBothDirections(t *testing.T) {
	sim := buildScenario(t, pairScenario)
	cs := NewConnectivityService(sim.Channel, sim.Interconnect, linkbudget.DataRate(sim.Scenario.Device.MinRateBps))

	report, err := cs.UpdateConnectivity()
	if err != nil {
		t.Fatalf("UpdateConnectivity: %v", err)
	}
	if len(report.Links) != 2 || report.Up() != 2 {
		t.Fatalf("links = %d, up = %d; want 2 and 2", len(report.Links), report.Up())
	}

	ab, ok := report.Link(1, 2)
	if !ok {
		t.Fatalf("link 1 -> 2 missing")
	}
	if ab.Terminal != "fore" {
		t.Fatalf("1 -> 2 uses terminal %q, want fore", ab.Terminal)
	}
	// 100 km at 25 GHz with a 50 dBi antenna lands between 5 and 10 dB.
	if ab.Quality != LinkQualityFair {
		t.Fatalf("1 -> 2 quality = %s (snr %.2f dB), want fair", ab.Quality, ab.SNRdB)
	}
	if math.Abs(ab.DistanceKm-100) > 1e-6 {
		t.Fatalf("distance = %v km, want 100", ab.DistanceKm)
	}
	wantDelay := time.Duration(math.Round(100e3 / linkbudget.SpeedOfLight * float64(time.Second)))
	if ab.Propagation != wantDelay {
		t.Fatalf("propagation = %v, want %v", ab.Propagation, wantDelay)
	}

	ba, _ := report.Link(2, 1)
	if ba.Terminal != "aft" || !ba.IsUp {
		t.Fatalf("2 -> 1 = %+v, want up through aft", ba)
	}

	counts := report.CountsByName()
	if len(counts) != len(LinkQualities) {
		t.Fatalf("counts should list every quality: %v", counts)
	}
	if counts["down"] != 0 || counts["fair"]+counts["good"] != 2 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestSurveyEarthBlocksLink(t *testing.T) {
	doc := `
constellation:
  platforms:
    - sat_id: 1
      position: {x: 7000000, y: 0, z: 0}
      velocity: {x: 0, y: 7500, z: 0}
    - sat_id: 2
      position: {x: -7000000, y: 0, z: 0}
      velocity: {x: 0, y: -7500, z: 0}
`
	sim := buildScenario(t, doc)
	report, err := NewConnectivityService(sim.Channel, sim.Interconnect, 1).UpdateConnectivity()
	if err != nil {
		t.Fatalf("UpdateConnectivity: %v", err)
	}
	if report.Up() != 0 || report.Counts[LinkQualityDown] != 2 {
		t.Fatalf("links through the Earth should be down: %+v", report.Links)
	}
	l, _ := report.Link(1, 2)
	if l.Terminal != "" || l.Rate != 0 {
		t.Fatalf("blocked link = %+v", l)
	}
}

func TestSurveyMinRateGatesUp(t *testing.T) {
	sim := buildScenario(t, pairScenario)
	cs := NewConnectivityService(sim.Channel, sim.Interconnect, 100*linkbudget.GbitPerSecond)
	report, err := cs.UpdateConnectivity()
	if err != nil {
		t.Fatalf("UpdateConnectivity: %v", err)
	}
	l, _ := report.Link(1, 2)
	if l.IsUp || l.Quality == LinkQualityDown {
		t.Fatalf("link should be visible but below the minimum rate: %+v", l)
	}
}

func TestSurveyInterconnectOnly(t *testing.T) {
	doc := strings.Replace(pairScenario, "constellation:", "constellation:\n  links:\n    - [1, 2]", 1)
	sim := buildScenario(t, doc)
	cs := NewConnectivityService(sim.Channel, sim.Interconnect, 1)
	cs.InterconnectOnly = true

	report, err := cs.UpdateConnectivity()
	if err != nil {
		t.Fatalf("UpdateConnectivity: %v", err)
	}
	if len(report.Links) != 1 {
		t.Fatalf("links = %d, want only the configured 1 -> 2", len(report.Links))
	}
	if l := report.Links[0]; l.From != 1 || l.To != 2 || !l.InInterconnect {
		t.Fatalf("link = %+v", l)
	}
}
