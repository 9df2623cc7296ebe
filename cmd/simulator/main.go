package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/isl-simulator/core"
	"github.com/signalsfoundry/isl-simulator/internal/logging"
	"github.com/signalsfoundry/isl-simulator/internal/observability"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "simulator:", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("simulator", flag.ContinueOnError)
	scenarioPath := fs.String("scenario", "configs/pair.yaml", "path to a YAML scenario")
	duration := fs.Duration("duration", 0, "override the simulated duration")
	schedulerName := fs.String("scheduler", "", "override the scheduler backend (builtin or evtm)")
	realtime := fs.Bool("realtime", false, "pace the run against the wall clock")
	speed := fs.Float64("speed", 0, "virtual seconds per wall second in realtime mode")
	survey := fs.Duration("survey", 0, "override the link survey interval")
	metricsAddr := fs.String("metrics-addr", "", "HTTP address for Prometheus /metrics; empty disables")
	interconnectOut := fs.String("dump-interconnect", "", "write the interconnect table to this file")
	logLevel := fs.String("log-level", os.Getenv("LOG_LEVEL"), "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return err
	}

	log := logging.New(logging.Config{
		Level:  *logLevel,
		Format: os.Getenv("LOG_FORMAT"),
		Output: os.Stderr,
	})

	sc, err := core.LoadScenario(*scenarioPath)
	if err != nil {
		return err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "duration":
			sc.Simulation.Duration = *duration
		case "scheduler":
			sc.Simulation.Scheduler = *schedulerName
		case "realtime":
			sc.Simulation.RealTime = *realtime
		case "speed":
			sc.Simulation.Speed = *speed
		case "survey":
			sc.Simulation.SurveyInterval = *survey
		}
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tcfg := observability.TracingConfigFromEnv()
	tcfg.Attributes = append(tcfg.Attributes,
		attribute.String("scenario", *scenarioPath),
		attribute.String("scheduler", sc.Simulation.Scheduler),
	)
	shutdownTracing, err := observability.InitTracing(ctx, tcfg, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	links, err := observability.NewLinkCollector(reg)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	sched, err := observability.NewSchedulerCollector(reg)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	if *metricsAddr != "" {
		srv := serveMetrics(*metricsAddr, links.Handler(), log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	sim, err := core.Build(sc,
		core.WithLogger(log),
		core.WithRecorder(links),
		core.WithSurveyRecorder(links),
		core.WithRunRecorder(sched),
	)
	if err != nil {
		return err
	}
	if *interconnectOut != "" {
		if err := writeInterconnect(*interconnectOut, sim); err != nil {
			return err
		}
	}

	summary, runErr := core.NewSimulationEngine(sim).Run(ctx)
	if summary != nil {
		if err := summary.Write(stdout); err != nil {
			return err
		}
	}
	return runErr
}

func serveMetrics(addr string, handler http.Handler, log logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func writeInterconnect(path string, sim *core.Simulation) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("dump interconnect: %w", err)
	}
	if err := sim.Interconnect.Write(f); err != nil {
		f.Close()
		return fmt.Errorf("dump interconnect: %w", err)
	}
	return f.Close()
}
