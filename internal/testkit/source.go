package testkit

import (
	"context"

	"psmatch/domain/cohort"
)

// TableSource serves a pre-built table through the SubjectSource port,
// for tests and the demo pipeline.
type TableSource struct {
	table *cohort.Table
}

// NewTableSource wraps an existing table
func NewTableSource(table *cohort.Table) *TableSource {
	return &TableSource{table: table}
}

// Load returns the wrapped table; the schema argument is ignored since
// the table was validated at construction.
func (s *TableSource) Load(_ context.Context, _ *cohort.Schema) (*cohort.Table, error) {
	return s.table, nil
}
