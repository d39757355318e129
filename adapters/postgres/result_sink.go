package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"

	"psmatch/domain/match"
	"psmatch/domain/report"
	"psmatch/internal/errors"
)

// ResultSink persists run outputs to Postgres. Each table write happens
// inside one transaction so a failed run never leaves a partial matched
// set behind.
type ResultSink struct {
	db *sqlx.DB
}

// NewResultSink creates a sink over an existing connection
func NewResultSink(db *sqlx.DB) *ResultSink {
	return &ResultSink{db: db}
}

// EnsureSchema creates the output tables if they do not exist
func (s *ResultSink) EnsureSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS matched_pairs (
			run_id      TEXT NOT NULL,
			pair_idx    INT  NOT NULL,
			treated_id  TEXT NOT NULL,
			control_id  TEXT NOT NULL,
			distance    DOUBLE PRECISION NOT NULL,
			stratum     TEXT NOT NULL,
			PRIMARY KEY (run_id, pair_idx)
		)`,
		`CREATE TABLE IF NOT EXISTS unmatched_subjects (
			run_id     TEXT NOT NULL,
			subject_id TEXT NOT NULL,
			treated    BOOLEAN NOT NULL,
			PRIMARY KEY (run_id, subject_id)
		)`,
		`CREATE TABLE IF NOT EXISTS balance_rows (
			run_id     TEXT NOT NULL,
			covariate  TEXT NOT NULL,
			level      TEXT NOT NULL,
			smd_before DOUBLE PRECISION NOT NULL,
			smd_after  DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (run_id, covariate, level)
		)`,
		`CREATE TABLE IF NOT EXISTS sweep_entries (
			sweep_id          TEXT NOT NULL,
			caliper_width     DOUBLE PRECISION NOT NULL,
			matched_pairs     INT NOT NULL,
			unmatched_treated INT NOT NULL,
			realized_ratio    DOUBLE PRECISION NOT NULL,
			effect_method     TEXT,
			effect_estimate   DOUBLE PRECISION,
			effect_p_value    DOUBLE PRECISION,
			PRIMARY KEY (sweep_id, caliper_width)
		)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "create output tables")
		}
	}
	return nil
}

// WriteMatchedSet stores the pairs and unmatched ids of one run
func (s *ResultSink) WriteMatchedSet(ctx context.Context, result *match.Result) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin matched-set transaction")
	}
	defer tx.Rollback()

	for i, pair := range result.Pairs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO matched_pairs (run_id, pair_idx, treated_id, control_id, distance, stratum)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			result.RunID.String(), i, pair.TreatedID, pair.ControlID, pair.Distance, string(pair.Stratum))
		if err != nil {
			return errors.Wrap(err, "insert matched pair")
		}
	}
	for _, id := range result.UnmatchedTreated {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO unmatched_subjects (run_id, subject_id, treated) VALUES ($1, $2, TRUE)`,
			result.RunID.String(), id); err != nil {
			return errors.Wrap(err, "insert unmatched treated")
		}
	}
	for _, id := range result.UnmatchedControls {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO unmatched_subjects (run_id, subject_id, treated) VALUES ($1, $2, FALSE)`,
			result.RunID.String(), id); err != nil {
			return errors.Wrap(err, "insert unmatched control")
		}
	}
	return tx.Commit()
}

// WriteBalanceReport stores the before/after SMD rows of one run
func (s *ResultSink) WriteBalanceReport(ctx context.Context, rep *report.BalanceReport) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin balance transaction")
	}
	defer tx.Rollback()

	for _, row := range rep.Rows {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO balance_rows (run_id, covariate, level, smd_before, smd_after)
			 VALUES ($1, $2, $3, $4, $5)`,
			rep.RunID.String(), row.Covariate, row.Level, row.SMDBefore, row.SMDAfter)
		if err != nil {
			return errors.Wrap(err, "insert balance row")
		}
	}
	return tx.Commit()
}

// WriteSensitivityReport stores one sweep's summary rows
func (s *ResultSink) WriteSensitivityReport(ctx context.Context, sweep *report.SweepResult) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin sweep transaction")
	}
	defer tx.Rollback()

	for _, entry := range sweep.Entries {
		var method interface{}
		var estimate, pValue interface{}
		if entry.Effect != nil {
			method = entry.Effect.Method
			estimate = entry.Effect.Estimate
			pValue = entry.Effect.PValue
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO sweep_entries (sweep_id, caliper_width, matched_pairs, unmatched_treated,
			                            realized_ratio, effect_method, effect_estimate, effect_p_value)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			sweep.SweepID.String(), entry.CaliperWidth, entry.MatchedPairs, entry.UnmatchedTreated,
			entry.RealizedRatio, method, estimate, pValue)
		if err != nil {
			return errors.Wrap(err, "insert sweep entry")
		}
	}
	return tx.Commit()
}
