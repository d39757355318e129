package excel

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"psmatch/domain/cohort"
	"psmatch/domain/core"
	"psmatch/internal/errors"
	"psmatch/internal/logging"
)

// Required column headers. Covariate columns follow the declared schema
// and are matched by header name.
const (
	ColSubjectID  = "subject_id"
	ColTreatment  = "treatment"
	ColPropensity = "propensity"
)

// SubjectReader loads a subject table from an .xlsx or .csv file. It is
// fail-fast: any row violating the schema or propensity invariant fails
// the whole load, so the engine never matches against a silently
// thinned population.
type SubjectReader struct {
	filePath string
	sheet    string
	fileType string
	log      *logging.Logger
}

// NewSubjectReader creates a reader; file type is inferred from the extension
func NewSubjectReader(filePath, sheet string) *SubjectReader {
	fileType := "xlsx"
	if strings.ToLower(filepath.Ext(filePath)) == ".csv" {
		fileType = "csv"
	}
	if sheet == "" {
		sheet = "Sheet1"
	}
	return &SubjectReader{
		filePath: filePath,
		sheet:    sheet,
		fileType: fileType,
		log:      logging.DefaultLogger,
	}
}

// Load reads and validates the subject table against the schema
func (r *SubjectReader) Load(_ context.Context, schema *cohort.Schema) (*cohort.Table, error) {
	if _, err := os.Stat(r.filePath); os.IsNotExist(err) {
		return nil, errors.Newf(errors.CodeEmptyPopulation, "input file not found: %s", r.filePath)
	}

	var rows [][]string
	var err error
	switch r.fileType {
	case "csv":
		rows, err = r.readCSV()
	default:
		rows, err = r.readExcel()
	}
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, errors.Newf(errors.CodeEmptyPopulation, "%s has no data rows", r.filePath)
	}

	r.log.Info("read %d rows from %s", len(rows)-1, r.filePath)
	return buildTable(schema, rows)
}

func (r *SubjectReader) readExcel() ([][]string, error) {
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", r.filePath)
	}
	defer f.Close()

	rows, err := f.GetRows(r.sheet)
	if err != nil {
		return nil, errors.Wrapf(err, "read sheet %q", r.sheet)
	}
	return rows, nil
}

func (r *SubjectReader) readCSV() ([][]string, error) {
	f, err := os.Open(r.filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", r.filePath)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", r.filePath)
	}
	return rows, nil
}

// buildTable maps header names to columns and constructs subjects.
// Missing required columns, unparseable cells, and rows shorter than
// the header all fail the load.
func buildTable(schema *cohort.Schema, rows [][]string) (*cohort.Table, error) {
	header := rows[0]
	colIdx := make(map[string]int, len(header))
	for i, name := range header {
		colIdx[strings.TrimSpace(strings.ToLower(name))] = i
	}

	for _, required := range []string{ColSubjectID, ColTreatment, ColPropensity} {
		if _, ok := colIdx[required]; !ok {
			return nil, errors.Newf(errors.CodeMissingKey, "input lacks required column %q", required)
		}
	}
	covCols := make(map[core.CovariateKey]int, len(schema.Keys()))
	for _, key := range schema.Keys() {
		idx, ok := colIdx[strings.ToLower(key.String())]
		if !ok {
			return nil, errors.Newf(errors.CodeMissingKey, "input lacks covariate column %q", key)
		}
		covCols[key] = idx
	}

	subjects := make([]cohort.Subject, 0, len(rows)-1)
	for rowNum, row := range rows[1:] {
		cell := func(idx int) string {
			if idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}

		id := cell(colIdx[ColSubjectID])
		if id == "" {
			return nil, errors.Newf(errors.CodeMissingKey, "row %d has empty subject_id", rowNum+2)
		}

		treated, err := parseTreatment(cell(colIdx[ColTreatment]))
		if err != nil {
			return nil, errors.Wrapf(err, "row %d (subject %s)", rowNum+2, id)
		}

		propensity, err := strconv.ParseFloat(cell(colIdx[ColPropensity]), 64)
		if err != nil {
			return nil, errors.Newf(errors.CodeInvalidPropensity,
				"row %d (subject %s) has unparseable propensity %q", rowNum+2, id, cell(colIdx[ColPropensity]))
		}

		covs := make(map[core.CovariateKey]string, len(covCols))
		for key, idx := range covCols {
			covs[key] = cell(idx)
		}

		subj, err := cohort.NewSubject(core.SubjectID(id), treated, covs, propensity)
		if err != nil {
			return nil, err
		}
		subjects = append(subjects, subj)
	}

	return cohort.NewTable(schema, subjects)
}

func parseTreatment(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes":
		return true, nil
	case "0", "false", "f", "no":
		return false, nil
	}
	return false, errors.Newf(errors.CodeMissingKey, "unparseable treatment indicator %q", raw)
}
