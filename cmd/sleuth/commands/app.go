package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/moolen/sleuth/internal/audit"
	"github.com/moolen/sleuth/internal/config"
	"github.com/moolen/sleuth/internal/engine"
	"github.com/moolen/sleuth/internal/evaluator"
	"github.com/moolen/sleuth/internal/investigation"
	"github.com/moolen/sleuth/internal/lifecycle"
	"github.com/moolen/sleuth/internal/logging"
	"github.com/moolen/sleuth/internal/metrics"
	"github.com/moolen/sleuth/internal/report"
	"github.com/moolen/sleuth/internal/scenario"
	"github.com/moolen/sleuth/internal/store"
	"github.com/moolen/sleuth/internal/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

// app wires the configured collaborators around the engine for one CLI
// invocation.
type app struct {
	cfg       *config.Config
	manager   *lifecycle.Manager
	tracing   *tracing.Provider
	metrics   *metrics.Metrics
	sink      *audit.AsyncSink
	store     *store.Store
	evaluator *evaluator.Evaluator
	logger    *logging.Logger
}

// newApp builds the collaborators. The run archive is opened only when
// withStore is set and store.path is configured.
func newApp(cfg *config.Config, withStore bool) (*app, error) {
	a := &app{
		cfg:     cfg,
		manager: lifecycle.NewManager(),
		logger:  logging.GetLogger("sleuth"),
	}
	a.manager.SetShutdownTimeout(shutdownTimeout)

	tp, err := tracing.NewProvider(cfg.TracingProviderConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracing = tp
	if err := a.manager.Register(tp); err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.NewMetrics(reg)
	if cfg.Metrics.Enabled {
		if err := a.manager.Register(metrics.NewServer(cfg.Metrics.Address, reg)); err != nil {
			return nil, err
		}
	}

	sinks := audit.Fanout{a.metrics, audit.NewLogSink("audit")}
	if cfg.Audit.Dir != "" {
		dir, err := audit.NewDirSink(cfg.Audit.Dir)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, dir)
	}
	a.sink = audit.NewAsyncSink(sinks, cfg.Audit.BufferSize)

	ev, err := evaluator.New(cfg.EvaluatorConfig())
	if err != nil {
		_ = a.sink.Close()
		return nil, err
	}
	a.evaluator = ev

	if withStore && cfg.Store.Path != "" {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			_ = a.sink.Close()
			return nil, fmt.Errorf("failed to open run archive: %w", err)
		}
		a.store = st
	}
	return a, nil
}

func (a *app) start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// close drains the audit queue, then stops components and the archive.
func (a *app) close() error {
	var errs []error
	if err := a.sink.Close(); err != nil {
		errs = append(errs, err)
	}
	if n := a.sink.Dropped(); n > 0 {
		a.logger.Warn("%d audit events were dropped", n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.manager.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// outcome is the result of replaying one scenario.
type outcome struct {
	scenario *scenario.Scenario
	run      investigation.Run
	result   evaluator.Result
	err      error
}

// play replays s through a fresh engine, scores it and archives the run.
func (a *app) play(ctx context.Context, s *scenario.Scenario) outcome {
	out := outcome{scenario: s}

	tools, err := s.Registry(a.cfg.ToolOptions())
	if err != nil {
		out.err = err
		return out
	}
	eng, err := engine.New(engine.Dependencies{
		Agent:           s.Agent(),
		Tools:           tools,
		Sink:            a.sink,
		Tracer:          a.tracing.Tracer("sleuth/engine"),
		DefaultMaxSteps: a.cfg.Engine.DefaultMaxSteps,
	})
	if err != nil {
		out.err = err
		return out
	}
	incident, err := s.BuildIncident(time.Now().UTC())
	if err != nil {
		out.err = err
		return out
	}

	run, err := eng.RunToCompletion(ctx, eng.StartRun(ctx, incident, s.MaxSteps))
	out.run = run

	var result *evaluator.Result
	if err != nil {
		out.err = fmt.Errorf("scenario %s: %w", s.Name, err)
	} else {
		out.result = a.evaluator.Evaluate(run, s.GroundTruth, s.SuccessCriteria)
		result = &out.result
	}

	if a.store != nil && run.ID() != "" {
		if err := a.store.SaveRun(ctx, s.Name, run, result); err != nil {
			a.logger.Warn("Failed to archive run %s: %v", run.ID(), err)
		}
	}
	return out
}

func (o outcome) entry() report.Entry {
	e := report.Entry{
		Scenario: o.scenario.Name,
		RunID:    o.run.ID(),
		Status:   o.run.Status(),
		Steps:    o.run.StepCount(),
		Err:      o.err,
	}
	if o.err == nil {
		e.Evaluated = true
		e.Success = o.result.Success
		e.Score = o.result.Score
	}
	return e
}

// evalBatch replays scenarios with at most parallel running at once and
// returns one entry per scenario in input order.
func (a *app) evalBatch(ctx context.Context, scenarios []*scenario.Scenario, parallel int) []report.Entry {
	entries := make([]report.Entry, len(scenarios))

	var g errgroup.Group
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, s := range scenarios {
		g.Go(func() error {
			entries[i] = a.play(ctx, s).entry()
			return nil
		})
	}
	_ = g.Wait()
	return entries
}
