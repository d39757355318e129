package report

import (
	"psmatch/domain/core"
	"psmatch/domain/match"
)

// BalanceRow is the before/after standardized mean difference for one
// covariate level, treated as an independent binary indicator.
type BalanceRow struct {
	Covariate core.CovariateKey `json:"covariate"`
	Level     string            `json:"level"`
	SMDBefore float64           `json:"smd_before"`
	SMDAfter  float64           `json:"smd_after"`
}

// BalanceReport is the per-level balance table for one match result.
// Row order is whatever the caller asked for, not computation order.
type BalanceReport struct {
	RunID core.RunID   `json:"run_id"`
	Rows  []BalanceRow `json:"rows"`
}

// EffectEstimate is the summary a downstream effect-estimation
// collaborator returns for one matched set. The engine records it
// verbatim; interpretation belongs to the consumer.
type EffectEstimate struct {
	Method   string  `json:"method"`
	Estimate float64 `json:"estimate"`
	PValue   float64 `json:"p_value"`
	N        int     `json:"n"`
}

// SweepEntry pairs one swept caliper width with its run's summary
type SweepEntry struct {
	CaliperWidth     float64         `json:"caliper_width"`
	Result           *match.Result   `json:"-"`
	MatchedPairs     int             `json:"matched_pairs"`
	UnmatchedTreated int             `json:"unmatched_treated"`
	RealizedRatio    float64         `json:"realized_ratio"`
	Effect           *EffectEstimate `json:"effect,omitempty"`
}

// SweepResult is the ordered sequence of sensitivity-sweep entries,
// indexed by caliper width in the caller-supplied order. The runner
// records; it never judges robustness.
type SweepResult struct {
	SweepID core.RunID   `json:"sweep_id"`
	Entries []SweepEntry `json:"entries"`
}

// Entry returns the entry for a given width, if present
func (r *SweepResult) Entry(width float64) (SweepEntry, bool) {
	for _, e := range r.Entries {
		if e.CaliperWidth == width {
			return e, true
		}
	}
	return SweepEntry{}, false
}
