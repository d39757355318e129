package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"psmatch/domain/match"
	"psmatch/domain/report"
	"psmatch/internal/errors"
)

// CSVSink writes the three output tables as delimited text in a target
// directory: matched_set.csv, balance_report.csv, sensitivity_report.csv.
// Column names follow the engine's output contract so downstream
// outcome modeling and plotting can consume them directly.
type CSVSink struct {
	dir string
}

// NewCSVSink creates a sink writing into dir
func NewCSVSink(dir string) *CSVSink {
	return &CSVSink{dir: dir}
}

// WriteMatchedSet writes pair assignments plus the residual unmatched list
func (s *CSVSink) WriteMatchedSet(_ context.Context, result *match.Result) error {
	rows := [][]string{{"subject_id", "role", "pair_id", "distance", "stratum"}}
	for i, pair := range result.Pairs {
		pairID := fmt.Sprintf("pair_%06d", i+1)
		dist := strconv.FormatFloat(pair.Distance, 'g', -1, 64)
		rows = append(rows,
			[]string{pair.TreatedID.String(), "treated", pairID, dist, string(pair.Stratum)},
			[]string{pair.ControlID.String(), "control", pairID, dist, string(pair.Stratum)},
		)
	}
	for _, id := range result.UnmatchedTreated {
		rows = append(rows, []string{id.String(), "treated", "", "", ""})
	}
	for _, id := range result.UnmatchedControls {
		rows = append(rows, []string{id.String(), "control", "", "", ""})
	}
	return s.write("matched_set.csv", rows)
}

// WriteBalanceReport writes one row per covariate level
func (s *CSVSink) WriteBalanceReport(_ context.Context, rep *report.BalanceReport) error {
	rows := [][]string{{"covariate", "level", "smd_before", "smd_after"}}
	for _, row := range rep.Rows {
		rows = append(rows, []string{
			row.Covariate.String(),
			row.Level,
			strconv.FormatFloat(row.SMDBefore, 'g', -1, 64),
			strconv.FormatFloat(row.SMDAfter, 'g', -1, 64),
		})
	}
	return s.write("balance_report.csv", rows)
}

// WriteSensitivityReport writes one row per swept caliper width
func (s *CSVSink) WriteSensitivityReport(_ context.Context, sweep *report.SweepResult) error {
	rows := [][]string{{
		"caliper_width", "matched_pairs", "unmatched_treated", "realized_ratio",
		"effect_method", "effect_estimate", "effect_p_value",
	}}
	for _, entry := range sweep.Entries {
		row := []string{
			strconv.FormatFloat(entry.CaliperWidth, 'g', -1, 64),
			strconv.Itoa(entry.MatchedPairs),
			strconv.Itoa(entry.UnmatchedTreated),
			strconv.FormatFloat(entry.RealizedRatio, 'g', -1, 64),
			"", "", "",
		}
		if entry.Effect != nil {
			row[4] = entry.Effect.Method
			row[5] = strconv.FormatFloat(entry.Effect.Estimate, 'g', -1, 64)
			row[6] = strconv.FormatFloat(entry.Effect.PValue, 'g', -1, 64)
		}
		rows = append(rows, row)
	}
	return s.write("sensitivity_report.csv", rows)
}

func (s *CSVSink) write(name string, rows [][]string) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errors.Wrapf(err, "create output dir %s", s.dir)
	}
	path := filepath.Join(s.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	w.Flush()
	return w.Error()
}
