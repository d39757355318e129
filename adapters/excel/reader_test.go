package excel

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"psmatch/domain/cohort"
	"psmatch/internal/errors"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "subjects.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readerSchema(t *testing.T) *cohort.Schema {
	t.Helper()
	schema, err := cohort.NewSchema(
		cohort.CovariateSpec{Key: "site", Type: cohort.Categorical, Levels: []string{"a", "b"}},
		cohort.CovariateSpec{Key: "diabetic", Type: cohort.Boolean},
	)
	require.NoError(t, err)
	return schema
}

func TestLoad_CSV(t *testing.T) {
	path := writeCSV(t, `subject_id,treatment,propensity,site,diabetic
s1,1,0.6,a,true
s2,0,0.4,a,false
s3,true,0.55,b,false
`)
	table, err := NewSubjectReader(path, "").Load(context.Background(), readerSchema(t))
	require.NoError(t, err)

	assert.Equal(t, 3, table.Len())
	s1, ok := table.ByID("s1")
	require.True(t, ok)
	assert.True(t, s1.Treated)
	assert.InDelta(t, 0.6, s1.Propensity, 1e-12)
	site, _ := s1.Covariate("site")
	assert.Equal(t, "a", site)

	treated, control := table.Counts()
	assert.Equal(t, 2, treated)
	assert.Equal(t, 1, control)
}

func TestLoad_RejectsUndeclaredLevel(t *testing.T) {
	path := writeCSV(t, `subject_id,treatment,propensity,site,diabetic
s1,1,0.6,z,true
`)
	_, err := NewSubjectReader(path, "").Load(context.Background(), readerSchema(t))
	assert.True(t, errors.IsCode(err, errors.CodeUnknownLevel), "got %v", err)
}

func TestLoad_RejectsBadPropensity(t *testing.T) {
	path := writeCSV(t, `subject_id,treatment,propensity,site,diabetic
s1,1,1.2,a,true
`)
	_, err := NewSubjectReader(path, "").Load(context.Background(), readerSchema(t))
	assert.True(t, errors.IsCode(err, errors.CodeInvalidPropensity), "got %v", err)
}

func TestLoad_RejectsMissingColumn(t *testing.T) {
	path := writeCSV(t, `subject_id,treatment,propensity,site
s1,1,0.5,a
`)
	_, err := NewSubjectReader(path, "").Load(context.Background(), readerSchema(t))
	assert.True(t, errors.IsCode(err, errors.CodeMissingKey), "got %v", err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := NewSubjectReader(filepath.Join(t.TempDir(), "nope.csv"), "").Load(context.Background(), readerSchema(t))
	assert.Error(t, err)
}
