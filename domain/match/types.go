package match

import (
	"math"
	"sort"
	"strings"

	"psmatch/domain/cohort"
	"psmatch/domain/core"
	"psmatch/internal/errors"
)

// StratumKey is the concatenation of a subject's exact-match covariate
// values, in configured key order. Subjects pair only within a key.
type StratumKey string

const keySeparator = "\x1f"

// NewStratumKey joins exact-key values into a stratum key. The unit
// separator keeps distinct tuples distinct even when values contain
// delimiters of their own.
func NewStratumKey(values []string) StratumKey {
	return StratumKey(strings.Join(values, keySeparator))
}

// Values splits a stratum key back into its exact-key values
func (k StratumKey) Values() []string {
	if k == "" {
		return nil
	}
	return strings.Split(string(k), keySeparator)
}

// Stratum is one exact-match cell: all subjects sharing a key, split
// into treated and control sides. Both sides are sorted by subject id.
// A one-sided stratum is retained and reported fully unmatched.
type Stratum struct {
	Key      StratumKey
	Treated  []cohort.Subject
	Controls []cohort.Subject
}

// OneSided reports whether the stratum cannot produce any pair
func (s *Stratum) OneSided() bool {
	return len(s.Treated) == 0 || len(s.Controls) == 0
}

// Pair is one treated/control assignment with its realized logit
// distance. Pairs are immutable once created and never recombined.
type Pair struct {
	TreatedID core.SubjectID `json:"treated_id"`
	ControlID core.SubjectID `json:"control_id"`
	Distance  float64        `json:"distance"`
	Stratum   StratumKey     `json:"stratum"`
}

// Result is the complete, immutable outcome of one matching run.
// Either every stratum matched or the run failed; no partial Result is
// ever produced.
type Result struct {
	RunID             core.RunID       `json:"run_id"`
	Config            Config           `json:"config"`
	PooledSD          float64          `json:"pooled_sd"`
	Threshold         float64          `json:"threshold"`
	Pairs             []Pair           `json:"pairs"`
	UnmatchedTreated  []core.SubjectID `json:"unmatched_treated"`
	UnmatchedControls []core.SubjectID `json:"unmatched_controls"`
	OneSidedStrata    int              `json:"one_sided_strata"`
	StrataCount       int              `json:"strata_count"`
}

// MatchedIDs returns every subject id that appears in a pair
func (r *Result) MatchedIDs() []core.SubjectID {
	ids := make([]core.SubjectID, 0, 2*len(r.Pairs))
	for _, p := range r.Pairs {
		ids = append(ids, p.TreatedID, p.ControlID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// RealizedRatio returns matched treated per matched control. With 1:1
// matching this is 1 whenever anything matched, 0 otherwise.
func (r *Result) RealizedRatio() float64 {
	if len(r.Pairs) == 0 {
		return 0
	}
	return 1
}

// SampleSize returns the number of matched pairs
func (r *Result) SampleSize() int {
	return len(r.Pairs)
}

// Config holds the explicit, passed configuration for one matching run.
// There is no shared mutable state between runs: each run gets its own
// Config value and builds its own Result.
type Config struct {
	// ExactKeys lists covariate keys used for strict stratification,
	// in order. An empty list yields a single stratum.
	ExactKeys []core.CovariateKey `json:"exact_keys" yaml:"exact_keys"`
	// CaliperWidth is expressed in pooled-logit-SD units
	CaliperWidth float64 `json:"caliper_width" yaml:"caliper_width"`
	// Ratio is the treated:control ratio; only 1 is supported
	Ratio int `json:"ratio" yaml:"ratio"`
	// Seed reserved for randomized extensions; the core tie-break is
	// deterministic by lowest control id and never consumes it
	Seed int64 `json:"seed" yaml:"seed"`
}

// Validate checks the configuration before any matching work begins
func (c Config) Validate() error {
	if math.IsNaN(c.CaliperWidth) || math.IsInf(c.CaliperWidth, 0) || c.CaliperWidth <= 0 {
		return errors.Newf(errors.CodeInvalidCaliper, "caliper width %v must be positive and finite", c.CaliperWidth)
	}
	if c.Ratio != 1 {
		return errors.Newf(errors.CodeInvalidCaliper, "only 1:1 matching is supported, got ratio %d", c.Ratio)
	}
	seen := make(map[core.CovariateKey]bool, len(c.ExactKeys))
	for _, key := range c.ExactKeys {
		if key == "" {
			return errors.New(errors.CodeMissingKey, "exact-match key list contains an empty key")
		}
		if seen[key] {
			return errors.Newf(errors.CodeMissingKey, "exact-match key %q listed twice", key)
		}
		seen[key] = true
	}
	return nil
}
