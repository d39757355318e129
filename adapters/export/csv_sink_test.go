package export

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"psmatch/domain/core"
	"psmatch/domain/match"
	"psmatch/domain/report"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWriteMatchedSet(t *testing.T) {
	dir := t.TempDir()
	sink := NewCSVSink(dir)

	result := &match.Result{
		RunID: "run-1",
		Pairs: []match.Pair{
			{TreatedID: "T1", ControlID: "C1", Distance: 0.1, Stratum: "a"},
		},
		UnmatchedTreated:  []core.SubjectID{"T2"},
		UnmatchedControls: []core.SubjectID{"C2"},
	}
	require.NoError(t, sink.WriteMatchedSet(context.Background(), result))

	rows := readCSV(t, filepath.Join(dir, "matched_set.csv"))
	require.Len(t, rows, 5, "header + 2 pair rows + 2 unmatched rows")
	assert.Equal(t, []string{"subject_id", "role", "pair_id", "distance", "stratum"}, rows[0])
	assert.Equal(t, "T1", rows[1][0])
	assert.Equal(t, "treated", rows[1][1])
	assert.Equal(t, rows[1][2], rows[2][2], "pair rows share a pair id")
	assert.Equal(t, "", rows[3][2], "unmatched rows carry no pair id")
}

func TestWriteBalanceReport(t *testing.T) {
	dir := t.TempDir()
	sink := NewCSVSink(dir)

	rep := &report.BalanceReport{
		RunID: "run-1",
		Rows: []report.BalanceRow{
			{Covariate: "site", Level: "a", SMDBefore: 0.4, SMDAfter: 0},
		},
	}
	require.NoError(t, sink.WriteBalanceReport(context.Background(), rep))

	rows := readCSV(t, filepath.Join(dir, "balance_report.csv"))
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"covariate", "level", "smd_before", "smd_after"}, rows[0])
	assert.Equal(t, []string{"site", "a", "0.4", "0"}, rows[1])
}

func TestWriteSensitivityReport(t *testing.T) {
	dir := t.TempDir()
	sink := NewCSVSink(dir)

	sweep := &report.SweepResult{
		SweepID: "sweep-1",
		Entries: []report.SweepEntry{
			{CaliperWidth: 0.1, MatchedPairs: 10, UnmatchedTreated: 3, RealizedRatio: 1},
			{CaliperWidth: 0.2, MatchedPairs: 12, UnmatchedTreated: 1, RealizedRatio: 1,
				Effect: &report.EffectEstimate{Method: "mcnemar_paired", Estimate: 0.05, PValue: 0.2, N: 12}},
		},
	}
	require.NoError(t, sink.WriteSensitivityReport(context.Background(), sweep))

	rows := readCSV(t, filepath.Join(dir, "sensitivity_report.csv"))
	require.Len(t, rows, 3)
	assert.Equal(t, "0.1", rows[1][0])
	assert.Equal(t, "", rows[1][4], "no estimator, no effect columns")
	assert.Equal(t, "mcnemar_paired", rows[2][4])
}
