package sweep

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"psmatch/domain/cohort"
	"psmatch/domain/core"
	"psmatch/domain/match"
	"psmatch/domain/report"
	"psmatch/internal/errors"
	"psmatch/internal/logging"
	"psmatch/internal/matcher"
	"psmatch/ports"
)

// Runner re-executes stratification and matching across an ordered grid
// of caliper widths. Every width gets a fresh run: stratification is
// recomputed and no matched-control pool leaks from one width into
// another, so widths can run concurrently. The runner records summary
// rows; it applies no robustness threshold of its own.
type Runner struct {
	matcher   *matcher.Matcher
	estimator ports.EffectEstimator
	log       *logging.Logger
	workers   int
}

// Option configures a Runner
type Option func(*Runner)

// WithEstimator attaches the downstream effect-estimation collaborator.
// Without one, sweep entries carry sample sizes only.
func WithEstimator(e ports.EffectEstimator) Option {
	return func(r *Runner) { r.estimator = e }
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// WithWorkers bounds concurrent sweep iterations
func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// NewRunner creates a sweep runner over the given matcher
func NewRunner(m *matcher.Matcher, opts ...Option) *Runner {
	r := &Runner{
		matcher: m,
		log:     logging.DefaultLogger,
		workers: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run sweeps the caliper widths in the caller's order. All widths are
// validated before any matching work begins, so a bad grid entry fails
// the sweep without partial results. The returned entries are indexed
// by position, matching the input order.
func (r *Runner) Run(ctx context.Context, table *cohort.Table, base match.Config, widths []float64) (*report.SweepResult, error) {
	if len(widths) == 0 {
		return nil, errors.New(errors.CodeInvalidCaliper, "sensitivity sweep requires at least one caliper width")
	}
	for _, w := range widths {
		cfg := base
		cfg.CaliperWidth = w
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	r.log.Info("sensitivity sweep over %d caliper widths", len(widths))

	entries := make([]report.SweepEntry, len(widths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, width := range widths {
		i, width := i, width
		g.Go(func() error {
			cfg := base
			cfg.CaliperWidth = width
			result, err := r.matcher.Run(gctx, table, cfg)
			if err != nil {
				return errors.Wrapf(err, "sweep width %v", width)
			}
			entry := report.SweepEntry{
				CaliperWidth:     width,
				Result:           result,
				MatchedPairs:     result.SampleSize(),
				UnmatchedTreated: len(result.UnmatchedTreated),
				RealizedRatio:    result.RealizedRatio(),
			}
			if r.estimator != nil {
				est, err := r.estimator.Estimate(gctx, table, result)
				if err != nil {
					return errors.Wrapf(err, "effect estimate at width %v", width)
				}
				entry.Effect = &est
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &report.SweepResult{
		SweepID: core.RunID(core.NewID()),
		Entries: entries,
	}, nil
}
