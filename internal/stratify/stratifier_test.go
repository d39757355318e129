package stratify

import (
	"testing"

	"psmatch/domain/cohort"
	"psmatch/domain/core"
	"psmatch/domain/match"
	"psmatch/internal/errors"
)

func buildTable(t *testing.T, subjects []cohort.Subject) *cohort.Table {
	t.Helper()
	schema, err := cohort.NewSchema(
		cohort.CovariateSpec{Key: "race", Type: cohort.Categorical, Levels: []string{"x", "y"}},
		cohort.CovariateSpec{Key: "blood", Type: cohort.Categorical, Levels: []string{"O", "A"}},
	)
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	table, err := cohort.NewTable(schema, subjects)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return table
}

func subject(t *testing.T, id string, treated bool, race, blood string) cohort.Subject {
	t.Helper()
	subj, err := cohort.NewSubject(core.SubjectID(id), treated,
		map[core.CovariateKey]string{"race": race, "blood": blood}, 0.5)
	if err != nil {
		t.Fatalf("NewSubject(%s): %v", id, err)
	}
	return subj
}

func TestPartition_SplitsByKeyTuple(t *testing.T) {
	table := buildTable(t, []cohort.Subject{
		subject(t, "s1", true, "x", "O"),
		subject(t, "s2", false, "x", "O"),
		subject(t, "s3", true, "x", "A"),
		subject(t, "s4", false, "y", "O"),
	})

	part, err := New([]core.CovariateKey{"race", "blood"}).Partition(table)
	if err != nil {
		t.Fatalf("Partition: %v", err)
	}
	if len(part.Keys) != 3 {
		t.Fatalf("expected 3 strata, got %d", len(part.Keys))
	}

	xo := part.Strata[match.NewStratumKey([]string{"x", "O"})]
	if xo == nil || len(xo.Treated) != 1 || len(xo.Controls) != 1 {
		t.Fatalf("stratum (x,O) malformed: %+v", xo)
	}
	// One-sided strata retained, not dropped.
	xa := part.Strata[match.NewStratumKey([]string{"x", "A"})]
	if xa == nil || !xa.OneSided() {
		t.Errorf("stratum (x,A) should be retained one-sided: %+v", xa)
	}

	total := 0
	for _, key := range part.Keys {
		st := part.Strata[key]
		total += len(st.Treated) + len(st.Controls)
	}
	if total != table.Len() {
		t.Errorf("every subject belongs to exactly one stratum: counted %d of %d", total, table.Len())
	}
}

func TestPartition_MissingKeyFailsFast(t *testing.T) {
	table := buildTable(t, []cohort.Subject{
		subject(t, "s1", true, "x", "O"),
		subject(t, "s2", false, "y", "A"),
	})

	_, err := New([]core.CovariateKey{"subregion"}).Partition(table)
	if !errors.IsCode(err, errors.CodeMissingKey) {
		t.Fatalf("want MISSING_KEY, got %v", err)
	}
}

func TestPartition_NoKeysSingleStratum(t *testing.T) {
	table := buildTable(t, []cohort.Subject{
		subject(t, "s1", true, "x", "O"),
		subject(t, "s2", false, "y", "A"),
		subject(t, "s3", false, "x", "A"),
	})

	part, err := New(nil).Partition(table)
	if err != nil {
		t.Fatalf("Partition: %v", err)
	}
	if len(part.Keys) != 1 {
		t.Fatalf("empty key list should yield one stratum, got %d", len(part.Keys))
	}
	st := part.Strata[part.Keys[0]]
	if len(st.Treated) != 1 || len(st.Controls) != 2 {
		t.Errorf("single stratum should hold everyone: %+v", st)
	}
}

func TestPartition_SidesStayIDSorted(t *testing.T) {
	table := buildTable(t, []cohort.Subject{
		subject(t, "s9", false, "x", "O"),
		subject(t, "s1", false, "x", "O"),
		subject(t, "s5", true, "x", "O"),
		subject(t, "s2", true, "x", "O"),
	})
	part, err := New([]core.CovariateKey{"race"}).Partition(table)
	if err != nil {
		t.Fatalf("Partition: %v", err)
	}
	st := part.Strata[match.NewStratumKey([]string{"x"})]
	if st.Treated[0].ID != "s2" || st.Treated[1].ID != "s5" {
		t.Errorf("treated side not id-sorted: %v, %v", st.Treated[0].ID, st.Treated[1].ID)
	}
	if st.Controls[0].ID != "s1" || st.Controls[1].ID != "s9" {
		t.Errorf("control side not id-sorted: %v, %v", st.Controls[0].ID, st.Controls[1].ID)
	}
}
