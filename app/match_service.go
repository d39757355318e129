package app

import (
	"context"
	"time"

	"psmatch/domain/cohort"
	"psmatch/domain/core"
	"psmatch/domain/match"
	"psmatch/domain/report"
	"psmatch/internal/balance"
	"psmatch/internal/logging"
	"psmatch/internal/matcher"
	"psmatch/ports"
)

// MatchService runs one matching pass end to end: load, match, balance,
// export. The service owns no state between runs.
type MatchService struct {
	source  ports.SubjectSource
	matcher *matcher.Matcher
	sink    ports.ResultSink
	log     *logging.Logger
}

// MatchRequest is the input to one service run
type MatchRequest struct {
	Schema *cohort.Schema
	Config match.Config
	// DisplayOrder fixes balance-report row order; defaults to schema
	// declaration order when empty
	DisplayOrder []core.CovariateKey
}

// MatchOutcome bundles one run's artifacts
type MatchOutcome struct {
	Table     *cohort.Table
	Result    *match.Result
	Balance   *report.BalanceReport
	RuntimeMs int64
}

// NewMatchService wires a matching service; sink may be nil for callers
// that only want the in-memory artifacts.
func NewMatchService(source ports.SubjectSource, m *matcher.Matcher, sink ports.ResultSink) *MatchService {
	return &MatchService{
		source:  source,
		matcher: m,
		sink:    sink,
		log:     logging.DefaultLogger,
	}
}

// Run executes the full pipeline for one configuration
func (s *MatchService) Run(ctx context.Context, req MatchRequest) (*MatchOutcome, error) {
	start := time.Now()

	// Configuration errors are fatal before any loading or matching work.
	if err := req.Config.Validate(); err != nil {
		return nil, err
	}

	table, err := s.source.Load(ctx, req.Schema)
	if err != nil {
		return nil, err
	}

	result, err := s.matcher.Run(ctx, table, req.Config)
	if err != nil {
		return nil, err
	}

	order := req.DisplayOrder
	if len(order) == 0 {
		order = req.Schema.Keys()
	}
	rep, err := balance.Compute(table, result, order)
	if err != nil {
		return nil, err
	}

	if s.sink != nil {
		if err := s.sink.WriteMatchedSet(ctx, result); err != nil {
			return nil, err
		}
		if err := s.sink.WriteBalanceReport(ctx, rep); err != nil {
			return nil, err
		}
	}

	outcome := &MatchOutcome{
		Table:     table,
		Result:    result,
		Balance:   rep,
		RuntimeMs: time.Since(start).Milliseconds(),
	}
	s.log.Info("match run %s finished in %dms", result.RunID, outcome.RuntimeMs)
	return outcome, nil
}
