package stratify

import (
	"sort"

	"psmatch/domain/cohort"
	"psmatch/domain/core"
	"psmatch/domain/match"
	"psmatch/internal/errors"
)

// Stratifier partitions a subject table into exact-match strata. It is
// stateless: every Partition call walks the table fresh, which keeps
// sweep iterations independent of each other.
type Stratifier struct {
	keys []core.CovariateKey
}

// New creates a stratifier for the given exact-match keys. An empty key
// list is valid and produces a single stratum holding the whole
// population, which recovers plain (non-exact) caliper matching.
func New(keys []core.CovariateKey) *Stratifier {
	owned := make([]core.CovariateKey, len(keys))
	copy(owned, keys)
	return &Stratifier{keys: owned}
}

// Partition holds the strata of one table, with a deterministic
// iteration order over stratum keys.
type Partition struct {
	Strata map[match.StratumKey]*match.Stratum
	Keys   []match.StratumKey
}

// Partition splits the table into strata keyed by the concatenated
// exact-key values. A subject missing any configured key value aborts
// the whole partition with a MISSING_KEY error; silent drops would bias
// the matched population. One-sided strata are retained.
func (s *Stratifier) Partition(table *cohort.Table) (*Partition, error) {
	strata := make(map[match.StratumKey]*match.Stratum)

	for _, subj := range table.Subjects() {
		values := make([]string, len(s.keys))
		for i, key := range s.keys {
			v, ok := subj.Covariate(key)
			if !ok {
				return nil, errors.Newf(errors.CodeMissingKey,
					"subject %s has no value for exact-match key %q", subj.ID, key)
			}
			values[i] = v
		}
		key := match.NewStratumKey(values)

		stratum, ok := strata[key]
		if !ok {
			stratum = &match.Stratum{Key: key}
			strata[key] = stratum
		}
		// Table iteration is id-ordered, so both sides stay id-sorted.
		if subj.Treated {
			stratum.Treated = append(stratum.Treated, subj)
		} else {
			stratum.Controls = append(stratum.Controls, subj)
		}
	}

	keys := make([]match.StratumKey, 0, len(strata))
	for key := range strata {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	return &Partition{Strata: strata, Keys: keys}, nil
}
