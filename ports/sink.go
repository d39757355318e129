package ports

import (
	"context"

	"psmatch/domain/match"
	"psmatch/domain/report"
)

// ResultSink persists the three output tables of a run: the matched
// set, the balance report, and (for sweeps) the sensitivity report.
type ResultSink interface {
	WriteMatchedSet(ctx context.Context, result *match.Result) error
	WriteBalanceReport(ctx context.Context, rep *report.BalanceReport) error
	WriteSensitivityReport(ctx context.Context, sweep *report.SweepResult) error
}
