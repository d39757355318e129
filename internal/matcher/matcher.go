package matcher

import (
	"context"
	"runtime"
	"sort"

	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"psmatch/domain/cohort"
	"psmatch/domain/core"
	"psmatch/domain/match"
	"psmatch/internal/errors"
	"psmatch/internal/logging"
	"psmatch/internal/stratify"
)

// Matcher runs one complete matching pass: pooled SD, stratification,
// per-stratum assignment, result assembly. Strata are matched
// concurrently under a weighted semaphore; the without-replacement
// control pool is scoped to a single stratum, so no locking is needed
// across strata. A Matcher holds no per-run state and is safe to reuse.
type Matcher struct {
	strategy    Strategy
	log         *logging.Logger
	parallelism int64
}

// Option configures a Matcher
type Option func(*Matcher)

// WithStrategy swaps the per-stratum assignment strategy
func WithStrategy(s Strategy) Option {
	return func(m *Matcher) { m.strategy = s }
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(m *Matcher) { m.log = l }
}

// WithParallelism bounds concurrent stratum workers
func WithParallelism(n int) Option {
	return func(m *Matcher) {
		if n > 0 {
			m.parallelism = int64(n)
		}
	}
}

// New creates a Matcher with greedy caliper matching as the default
// strategy and one worker per CPU.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		strategy:    GreedyCaliper{},
		log:         logging.DefaultLogger,
		parallelism: int64(runtime.GOMAXPROCS(0)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// PooledLogitSD computes the sample standard deviation of logit
// propensity over the entire population. It is computed once per run,
// before any stratum is processed, and scales the caliper width into an
// absolute distance threshold.
func PooledLogitSD(table *cohort.Table) (float64, error) {
	sd, err := stats.StandardDeviationSample(table.Logits())
	if err != nil {
		return 0, errors.Wrap(err, "pooled logit standard deviation")
	}
	return sd, nil
}

// Run executes one matching run. Configuration errors surface before
// any stratum work; the run is all-or-nothing, so a cancellation or
// stratum failure returns an error and no partial Result.
func (m *Matcher) Run(ctx context.Context, table *cohort.Table, cfg match.Config) (*match.Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pooledSD, err := PooledLogitSD(table)
	if err != nil {
		return nil, err
	}
	threshold := cfg.CaliperWidth * pooledSD

	part, err := stratify.New(cfg.ExactKeys).Partition(table)
	if err != nil {
		return nil, err
	}

	treated, control := table.Counts()
	m.log.Info("matching run: %d subjects (%d treated, %d control), %d strata, caliper=%.4g (tau=%.4g)",
		table.Len(), treated, control, len(part.Keys), cfg.CaliperWidth, threshold)

	outcomes := make([]StratumOutcome, len(part.Keys))
	sem := semaphore.NewWeighted(m.parallelism)
	g, gctx := errgroup.WithContext(ctx)
	for i, key := range part.Keys {
		i := i
		stratum := part.Strata[key]
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			outcomes[i] = m.strategy.MatchStratum(stratum, threshold)
			m.log.Debug("stratum %q: %d treated, %d controls, %d pairs",
				stratum.Key, len(stratum.Treated), len(stratum.Controls), len(outcomes[i].Pairs))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &match.Result{
		RunID:       core.RunID(core.NewID()),
		Config:      cfg,
		PooledSD:    pooledSD,
		Threshold:   threshold,
		StrataCount: len(part.Keys),
	}
	// Assemble in stratum-key order so the Result is byte-for-byte
	// identical regardless of worker scheduling.
	for i, key := range part.Keys {
		if part.Strata[key].OneSided() {
			result.OneSidedStrata++
		}
		result.Pairs = append(result.Pairs, outcomes[i].Pairs...)
		result.UnmatchedTreated = append(result.UnmatchedTreated, outcomes[i].UnmatchedTreated...)
		result.UnmatchedControls = append(result.UnmatchedControls, outcomes[i].UnmatchedControls...)
	}
	sortIDs(result.UnmatchedTreated)
	sortIDs(result.UnmatchedControls)

	m.log.Info("matching run %s: %d pairs, %d treated unmatched, %d controls unmatched, %d one-sided strata",
		result.RunID, len(result.Pairs), len(result.UnmatchedTreated),
		len(result.UnmatchedControls), result.OneSidedStrata)
	return result, nil
}

func sortIDs(ids []core.SubjectID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
