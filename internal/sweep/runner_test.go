package sweep

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"psmatch/domain/cohort"
	"psmatch/domain/core"
	"psmatch/domain/match"
	"psmatch/internal/effect"
	"psmatch/internal/errors"
	"psmatch/internal/matcher"
)

func sweepTable(t *testing.T) (*cohort.Table, map[core.SubjectID]bool) {
	t.Helper()
	schema, err := cohort.NewSchema(
		cohort.CovariateSpec{Key: "site", Type: cohort.Categorical, Levels: []string{"a", "b"}},
	)
	require.NoError(t, err)

	var subjects []cohort.Subject
	outcomes := make(map[core.SubjectID]bool)
	for i := 0; i < 80; i++ {
		logit := math.Cos(float64(i)*0.9) * 1.5
		propensity := 1 / (1 + math.Exp(-logit))
		id := core.SubjectID(fmt.Sprintf("s%03d", i))
		treated := i%3 == 0
		covs := map[core.CovariateKey]string{"site": []string{"a", "b"}[i%2]}
		subj, err := cohort.NewSubject(id, treated, covs, propensity)
		require.NoError(t, err)
		subjects = append(subjects, subj)
		outcomes[id] = i%5 == 0
	}
	table, err := cohort.NewTable(schema, subjects)
	require.NoError(t, err)
	return table, outcomes
}

func baseConfig() match.Config {
	return match.Config{ExactKeys: []core.CovariateKey{"site"}, CaliperWidth: 0.2, Ratio: 1}
}

func TestRun_PreservesGridOrder(t *testing.T) {
	table, _ := sweepTable(t)
	widths := []float64{0.5, 0.05, 0.2, 1.0}

	result, err := NewRunner(matcher.New()).Run(context.Background(), table, baseConfig(), widths)
	require.NoError(t, err)
	require.Len(t, result.Entries, len(widths))
	for i, entry := range result.Entries {
		assert.Equal(t, widths[i], entry.CaliperWidth, "entry %d out of order", i)
	}
}

// TestRun_IterationsIndependent: the same width appearing twice in one
// grid yields identical pairs, so no matched-control pool leaks between
// iterations.
func TestRun_IterationsIndependent(t *testing.T) {
	table, _ := sweepTable(t)
	widths := []float64{0.3, 0.9, 0.3}

	result, err := NewRunner(matcher.New(), WithWorkers(3)).Run(context.Background(), table, baseConfig(), widths)
	require.NoError(t, err)
	require.Len(t, result.Entries, 3)

	first := result.Entries[0].Result
	third := result.Entries[2].Result
	require.Equal(t, len(first.Pairs), len(third.Pairs))
	for i := range first.Pairs {
		assert.Equal(t, first.Pairs[i].TreatedID, third.Pairs[i].TreatedID)
		assert.Equal(t, first.Pairs[i].ControlID, third.Pairs[i].ControlID)
	}
}

func TestRun_MonotoneSampleSizes(t *testing.T) {
	table, _ := sweepTable(t)
	widths := []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0}

	result, err := NewRunner(matcher.New()).Run(context.Background(), table, baseConfig(), widths)
	require.NoError(t, err)
	for i := 1; i < len(result.Entries); i++ {
		assert.GreaterOrEqual(t, result.Entries[i].MatchedPairs, result.Entries[i-1].MatchedPairs,
			"widening from %v to %v shrank the matched sample",
			result.Entries[i-1].CaliperWidth, result.Entries[i].CaliperWidth)
	}
}

func TestRun_AttachesEffectEstimates(t *testing.T) {
	table, outcomes := sweepTable(t)
	runner := NewRunner(matcher.New(), WithEstimator(effect.NewPairedBinary(outcomes)))

	result, err := runner.Run(context.Background(), table, baseConfig(), []float64{0.2, 0.8})
	require.NoError(t, err)
	for _, entry := range result.Entries {
		require.NotNil(t, entry.Effect)
		assert.Equal(t, "mcnemar_paired", entry.Effect.Method)
		assert.Equal(t, entry.MatchedPairs, entry.Effect.N)
		assert.GreaterOrEqual(t, entry.Effect.PValue, 0.0)
		assert.LessOrEqual(t, entry.Effect.PValue, 1.0)
	}
}

func TestRun_EmptyGridRejected(t *testing.T) {
	table, _ := sweepTable(t)
	_, err := NewRunner(matcher.New()).Run(context.Background(), table, baseConfig(), nil)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidCaliper))
}

// TestRun_BadWidthFailsBeforeAnyWork: one invalid grid entry rejects
// the sweep up front, before any matching runs.
func TestRun_BadWidthFailsBeforeAnyWork(t *testing.T) {
	table, _ := sweepTable(t)
	_, err := NewRunner(matcher.New()).Run(context.Background(), table, baseConfig(), []float64{0.2, -1})
	assert.True(t, errors.IsCode(err, errors.CodeInvalidCaliper))
}
