package matcher

import (
	"math"

	"psmatch/domain/core"
	"psmatch/domain/match"
)

// StratumOutcome is the pairing produced for one stratum. Outcomes are
// assembled in stratum-key order, so the overall result is independent
// of which stratum finished first.
type StratumOutcome struct {
	Pairs             []match.Pair
	UnmatchedTreated  []core.SubjectID
	UnmatchedControls []core.SubjectID
}

// Strategy pairs one stratum's treated and control subjects under an
// absolute logit-distance threshold. Strategies must be deterministic
// and side-effect free; alternate assignment schemes plug in here.
type Strategy interface {
	Name() string
	MatchStratum(stratum *match.Stratum, threshold float64) StratumOutcome
}

// GreedyCaliper is nearest-neighbor matching without replacement:
// treated subjects are processed in ascending id order, each taking the
// closest still-available control by |logit difference|, ties broken by
// lowest control id. A treated subject whose nearest available control
// lies beyond the threshold stays unmatched. Greedy and order
// dependent, not a global-optimum assignment.
type GreedyCaliper struct{}

// Name returns the strategy name
func (GreedyCaliper) Name() string { return "greedy_caliper" }

// MatchStratum pairs one stratum. Both sides of the stratum arrive
// sorted by subject id, which makes the strict less-than comparison
// below resolve distance ties to the lowest control id.
func (GreedyCaliper) MatchStratum(stratum *match.Stratum, threshold float64) StratumOutcome {
	var out StratumOutcome
	used := make([]bool, len(stratum.Controls))

	for _, treated := range stratum.Treated {
		best := -1
		bestDist := math.Inf(1)
		for i, control := range stratum.Controls {
			if used[i] {
				continue
			}
			d := math.Abs(treated.LogitPropensity - control.LogitPropensity)
			if d < bestDist {
				best = i
				bestDist = d
			}
		}
		if best >= 0 && bestDist <= threshold {
			used[best] = true
			out.Pairs = append(out.Pairs, match.Pair{
				TreatedID: treated.ID,
				ControlID: stratum.Controls[best].ID,
				Distance:  bestDist,
				Stratum:   stratum.Key,
			})
		} else {
			out.UnmatchedTreated = append(out.UnmatchedTreated, treated.ID)
		}
	}

	for i, control := range stratum.Controls {
		if !used[i] {
			out.UnmatchedControls = append(out.UnmatchedControls, control.ID)
		}
	}
	return out
}
