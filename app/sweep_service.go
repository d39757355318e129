package app

import (
	"context"
	"time"

	"psmatch/domain/cohort"
	"psmatch/domain/match"
	"psmatch/domain/report"
	"psmatch/internal/logging"
	"psmatch/internal/sweep"
	"psmatch/ports"
)

// SweepService runs a sensitivity sweep end to end and exports the
// resulting comparison table.
type SweepService struct {
	source ports.SubjectSource
	runner *sweep.Runner
	sink   ports.ResultSink
	log    *logging.Logger
}

// SweepRequest is the input to one sweep run
type SweepRequest struct {
	Schema *cohort.Schema
	Base   match.Config
	Widths []float64
}

// SweepOutcome bundles one sweep's artifacts
type SweepOutcome struct {
	Table     *cohort.Table
	Sweep     *report.SweepResult
	RuntimeMs int64
}

// NewSweepService wires a sweep service; sink may be nil
func NewSweepService(source ports.SubjectSource, runner *sweep.Runner, sink ports.ResultSink) *SweepService {
	return &SweepService{
		source: source,
		runner: runner,
		sink:   sink,
		log:    logging.DefaultLogger,
	}
}

// Run loads the population once and sweeps the caliper grid over it.
// The loaded table is immutable, so the single load is safe to share
// across concurrent sweep iterations.
func (s *SweepService) Run(ctx context.Context, req SweepRequest) (*SweepOutcome, error) {
	start := time.Now()

	for _, width := range req.Widths {
		probe := req.Base
		probe.CaliperWidth = width
		if err := probe.Validate(); err != nil {
			return nil, err
		}
	}

	table, err := s.source.Load(ctx, req.Schema)
	if err != nil {
		return nil, err
	}

	result, err := s.runner.Run(ctx, table, req.Base, req.Widths)
	if err != nil {
		return nil, err
	}

	if s.sink != nil {
		if err := s.sink.WriteSensitivityReport(ctx, result); err != nil {
			return nil, err
		}
	}

	outcome := &SweepOutcome{
		Table:     table,
		Sweep:     result,
		RuntimeMs: time.Since(start).Milliseconds(),
	}
	s.log.Info("sweep %s over %d widths finished in %dms", result.SweepID, len(req.Widths), outcome.RuntimeMs)
	return outcome, nil
}
