package ports

import (
	"context"

	"psmatch/domain/cohort"
)

// SubjectSource loads a fully dense, schema-checked subject table.
// Implementations fail the load on any row violating the propensity or
// level invariants; they never silently drop rows.
type SubjectSource interface {
	Load(ctx context.Context, schema *cohort.Schema) (*cohort.Table, error)
}
