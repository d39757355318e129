package effect

import (
	"context"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"psmatch/domain/cohort"
	"psmatch/domain/core"
	"psmatch/domain/match"
	"psmatch/domain/report"
	"psmatch/internal/errors"
)

// PairedBinary estimates a treatment effect on a binary outcome over
// the matched pairs, using the discordant-pair (McNemar) statistic with
// continuity correction against a chi-squared reference distribution.
// Outcomes live outside the matching engine, so the estimator is
// constructed with its own subject-to-outcome mapping.
type PairedBinary struct {
	outcomes map[core.SubjectID]bool
}

// NewPairedBinary creates the estimator from an outcome mapping
func NewPairedBinary(outcomes map[core.SubjectID]bool) *PairedBinary {
	owned := make(map[core.SubjectID]bool, len(outcomes))
	for id, v := range outcomes {
		owned[id] = v
	}
	return &PairedBinary{outcomes: owned}
}

// Estimate reports the risk difference across matched pairs and the
// McNemar p-value. A matched subject without an outcome fails the
// estimate rather than shrinking the denominator silently.
func (e *PairedBinary) Estimate(_ context.Context, _ *cohort.Table, result *match.Result) (report.EffectEstimate, error) {
	var discordantTreated, discordantControl int
	var treatedEvents, controlEvents int

	for _, pair := range result.Pairs {
		tOut, ok := e.outcomes[pair.TreatedID]
		if !ok {
			return report.EffectEstimate{}, errors.Newf(errors.CodeMissingKey,
				"no outcome recorded for matched subject %s", pair.TreatedID)
		}
		cOut, ok := e.outcomes[pair.ControlID]
		if !ok {
			return report.EffectEstimate{}, errors.Newf(errors.CodeMissingKey,
				"no outcome recorded for matched subject %s", pair.ControlID)
		}
		if tOut {
			treatedEvents++
		}
		if cOut {
			controlEvents++
		}
		if tOut && !cOut {
			discordantTreated++
		}
		if !tOut && cOut {
			discordantControl++
		}
	}

	n := len(result.Pairs)
	est := report.EffectEstimate{Method: "mcnemar_paired", N: n, PValue: 1}
	if n == 0 {
		return est, nil
	}
	est.Estimate = (float64(treatedEvents) - float64(controlEvents)) / float64(n)

	discordant := discordantTreated + discordantControl
	if discordant > 0 {
		diff := math.Abs(float64(discordantTreated) - float64(discordantControl))
		// Edwards continuity correction
		corrected := math.Max(diff-1, 0)
		statistic := corrected * corrected / float64(discordant)
		chi2 := distuv.ChiSquared{K: 1}
		est.PValue = chi2.Survival(statistic)
	}
	return est, nil
}
