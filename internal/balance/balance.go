package balance

import (
	"math"

	"github.com/montanaflynn/stats"

	"psmatch/domain/cohort"
	"psmatch/domain/core"
	"psmatch/domain/match"
	"psmatch/domain/report"
	"psmatch/internal/errors"
)

// Compute builds the before/after balance report for one match result.
// Every declared level of every requested covariate becomes an
// independent binary indicator with its own standardized mean
// difference. "Before" compares the full treated and control
// populations; "after" compares only matched subjects. Row order
// follows the caller-supplied covariate order; pass table.Schema().Keys()
// for declaration order. Pure function of its inputs.
func Compute(table *cohort.Table, result *match.Result, order []core.CovariateKey) (*report.BalanceReport, error) {
	schema := table.Schema()

	var beforeTreated, beforeControl []cohort.Subject
	for _, subj := range table.Subjects() {
		if subj.Treated {
			beforeTreated = append(beforeTreated, subj)
		} else {
			beforeControl = append(beforeControl, subj)
		}
	}

	var afterTreated, afterControl []cohort.Subject
	for _, pair := range result.Pairs {
		t, ok := table.ByID(pair.TreatedID)
		if !ok {
			return nil, errors.Newf(errors.CodeInternal, "matched treated id %s not in table", pair.TreatedID)
		}
		c, ok := table.ByID(pair.ControlID)
		if !ok {
			return nil, errors.Newf(errors.CodeInternal, "matched control id %s not in table", pair.ControlID)
		}
		afterTreated = append(afterTreated, t)
		afterControl = append(afterControl, c)
	}

	rep := &report.BalanceReport{RunID: result.RunID}
	for _, key := range order {
		levels := schema.LevelsOf(key)
		if levels == nil {
			return nil, errors.Newf(errors.CodeUnknownLevel, "covariate %q is not declared in the schema", key)
		}
		for _, level := range levels {
			rep.Rows = append(rep.Rows, report.BalanceRow{
				Covariate: key,
				Level:     level,
				SMDBefore: smd(indicator(beforeTreated, key, level), indicator(beforeControl, key, level)),
				SMDAfter:  smd(indicator(afterTreated, key, level), indicator(afterControl, key, level)),
			})
		}
	}
	return rep, nil
}

// indicator encodes membership in one covariate level as 0/1
func indicator(subjects []cohort.Subject, key core.CovariateKey, level string) []float64 {
	out := make([]float64, len(subjects))
	for i, subj := range subjects {
		if v, ok := subj.Covariate(key); ok && v == level {
			out[i] = 1
		}
	}
	return out
}

// smd is (meanTreated - meanControl) / sqrt((varTreated + varControl)/2),
// with the variances taken from the same population the means come
// from. A zero denominator (both groups constant) yields 0 when the
// means agree; a difference with no variance is degenerate and also
// reported as 0 rather than infinity.
func smd(treated, control []float64) float64 {
	if len(treated) == 0 || len(control) == 0 {
		return 0
	}
	meanT, _ := stats.Mean(treated)
	meanC, _ := stats.Mean(control)
	denom := math.Sqrt((sampleVariance(treated) + sampleVariance(control)) / 2)
	if denom == 0 {
		return 0
	}
	return (meanT - meanC) / denom
}

func sampleVariance(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	v, err := stats.SampleVariance(data)
	if err != nil {
		return 0
	}
	return v
}
