package cohort

import (
	"sort"

	"psmatch/domain/core"
	"psmatch/internal/errors"
)

// Table is the in-memory subject population for one run. It is built
// once, validated against its schema, sorted by subject id, and then
// shared read-only across strata and sweep iterations.
type Table struct {
	schema   *Schema
	subjects []Subject
	index    map[core.SubjectID]int
}

// NewTable validates and assembles the population. The input must be
// fully dense: every subject carries a declared level for every schema
// covariate. Duplicate ids, undeclared levels, and empty populations
// fail construction; no partially validated table is ever returned.
func NewTable(schema *Schema, subjects []Subject) (*Table, error) {
	if schema == nil {
		return nil, errors.New(errors.CodeEmptyPopulation, "table requires a covariate schema")
	}
	if len(subjects) == 0 {
		return nil, errors.New(errors.CodeEmptyPopulation, "population is empty")
	}

	sorted := make([]Subject, len(subjects))
	copy(sorted, subjects)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	index := make(map[core.SubjectID]int, len(sorted))
	for i, subj := range sorted {
		if _, dup := index[subj.ID]; dup {
			return nil, errors.Newf(errors.CodeDuplicateSubject, "duplicate subject id %s", subj.ID)
		}
		index[subj.ID] = i

		for _, key := range schema.Keys() {
			value, ok := subj.Covariate(key)
			if !ok {
				return nil, errors.Newf(errors.CodeMissingKey,
					"subject %s has no value for covariate %q", subj.ID, key)
			}
			if err := schema.CheckValue(key, value); err != nil {
				return nil, errors.Wrapf(err, "subject %s", subj.ID)
			}
		}
	}

	return &Table{schema: schema, subjects: sorted, index: index}, nil
}

// Schema returns the declared covariate schema
func (t *Table) Schema() *Schema {
	return t.schema
}

// Len returns the population size
func (t *Table) Len() int {
	return len(t.subjects)
}

// Subjects returns the population sorted by subject id. The returned
// slice is shared; callers must treat it as read-only.
func (t *Table) Subjects() []Subject {
	return t.subjects
}

// ByID looks up a subject
func (t *Table) ByID(id core.SubjectID) (Subject, bool) {
	i, ok := t.index[id]
	if !ok {
		return Subject{}, false
	}
	return t.subjects[i], true
}

// Logits returns every subject's logit propensity, in id order. Used to
// compute the pooled standard deviation once per run.
func (t *Table) Logits() []float64 {
	out := make([]float64, len(t.subjects))
	for i, subj := range t.subjects {
		out[i] = subj.LogitPropensity
	}
	return out
}

// Counts returns the treated and control sizes
func (t *Table) Counts() (treated, control int) {
	for _, subj := range t.subjects {
		if subj.Treated {
			treated++
		} else {
			control++
		}
	}
	return treated, control
}
