package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"psmatch/domain/cohort"
	"psmatch/domain/core"
	"psmatch/internal/errors"
)

// SubjectSource reads the subject population from a Postgres table. The
// table must carry subject_id, treatment, propensity, and one JSONB-free
// text column per declared covariate; rows violating the schema fail the
// load, matching the engine's fail-fast ingestion contract.
type SubjectSource struct {
	db    *sqlx.DB
	table string
}

// Connect opens a Postgres connection for the given URL
func Connect(url string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", url)
	if err != nil {
		return nil, errors.Wrap(err, "connect to postgres")
	}
	return db, nil
}

// NewSubjectSource creates a source over an existing connection
func NewSubjectSource(db *sqlx.DB, table string) *SubjectSource {
	if table == "" {
		table = "subjects"
	}
	return &SubjectSource{db: db, table: table}
}

// Load reads every subject row, ordered by id for reproducible ingestion
func (s *SubjectSource) Load(ctx context.Context, schema *cohort.Schema) (*cohort.Table, error) {
	cols := "subject_id, treatment, propensity"
	for _, key := range schema.Keys() {
		cols += fmt.Sprintf(", %s", quoteIdent(key.String()))
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY subject_id", cols, quoteIdent(s.table))

	rows, err := s.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, errors.Wrapf(err, "query %s", s.table)
	}
	defer rows.Close()

	keys := schema.Keys()
	var subjects []cohort.Subject
	for rows.Next() {
		dest := make([]interface{}, 3+len(keys))
		var id string
		var treated bool
		var propensity float64
		dest[0], dest[1], dest[2] = &id, &treated, &propensity
		covVals := make([]string, len(keys))
		for i := range keys {
			dest[3+i] = &covVals[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, errors.Wrapf(err, "scan row from %s", s.table)
		}

		covs := make(map[core.CovariateKey]string, len(keys))
		for i, key := range keys {
			covs[key] = covVals[i]
		}
		subj, err := cohort.NewSubject(core.SubjectID(id), treated, covs, propensity)
		if err != nil {
			return nil, err
		}
		subjects = append(subjects, subj)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "iterate %s", s.table)
	}

	return cohort.NewTable(schema, subjects)
}

// quoteIdent double-quotes an identifier; embedded quotes are doubled
func quoteIdent(name string) string {
	out := `"`
	for _, r := range name {
		if r == '"' {
			out += `""`
		} else {
			out += string(r)
		}
	}
	return out + `"`
}
