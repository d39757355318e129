package ports

import (
	"context"

	"psmatch/domain/cohort"
	"psmatch/domain/match"
	"psmatch/domain/report"
)

// EffectEstimator is the downstream outcome-modeling collaborator. It
// consumes a matched set and returns a summary effect estimate. The
// matching engine forwards the estimate without interpreting it.
type EffectEstimator interface {
	Estimate(ctx context.Context, table *cohort.Table, result *match.Result) (report.EffectEstimate, error)
}
