package cohort

import (
	"psmatch/domain/core"
	"psmatch/internal/errors"
)

// CovariateType declares how a covariate column is typed at ingestion.
// Types are declared up front; the engine rejects values outside the
// declared level set rather than coercing them.
type CovariateType string

const (
	// Categorical covariates carry one of a fixed set of declared levels
	Categorical CovariateType = "categorical"
	// Boolean covariates are categorical with the fixed levels "true"/"false"
	Boolean CovariateType = "boolean"
)

var booleanLevels = []string{"true", "false"}

// CovariateSpec describes one covariate column: its key, type, and (for
// categorical columns) the closed set of admissible levels.
type CovariateSpec struct {
	Key    core.CovariateKey
	Type   CovariateType
	Levels []string
}

// Schema is the declared set of covariate columns for a population.
// Column order is preserved from declaration and used as the default
// display order in balance reports.
type Schema struct {
	specs map[core.CovariateKey]CovariateSpec
	order []core.CovariateKey
}

// NewSchema builds a schema from covariate specs. Duplicate keys,
// categorical specs without levels, and boolean specs with explicit
// levels are rejected.
func NewSchema(specs ...CovariateSpec) (*Schema, error) {
	s := &Schema{specs: make(map[core.CovariateKey]CovariateSpec, len(specs))}
	for _, spec := range specs {
		if spec.Key == "" {
			return nil, errors.New(errors.CodeUnknownLevel, "covariate spec has empty key")
		}
		if _, exists := s.specs[spec.Key]; exists {
			return nil, errors.Newf(errors.CodeUnknownLevel, "duplicate covariate %q in schema", spec.Key)
		}
		switch spec.Type {
		case Categorical:
			if len(spec.Levels) == 0 {
				return nil, errors.Newf(errors.CodeUnknownLevel, "categorical covariate %q declares no levels", spec.Key)
			}
			seen := make(map[string]bool, len(spec.Levels))
			for _, lvl := range spec.Levels {
				if seen[lvl] {
					return nil, errors.Newf(errors.CodeUnknownLevel, "covariate %q declares level %q twice", spec.Key, lvl)
				}
				seen[lvl] = true
			}
		case Boolean:
			if len(spec.Levels) != 0 {
				return nil, errors.Newf(errors.CodeUnknownLevel, "boolean covariate %q must not declare levels", spec.Key)
			}
			spec.Levels = booleanLevels
		default:
			return nil, errors.Newf(errors.CodeUnknownLevel, "covariate %q has unknown type %q", spec.Key, spec.Type)
		}
		s.specs[spec.Key] = spec
		s.order = append(s.order, spec.Key)
	}
	return s, nil
}

// Keys returns covariate keys in declaration order
func (s *Schema) Keys() []core.CovariateKey {
	out := make([]core.CovariateKey, len(s.order))
	copy(out, s.order)
	return out
}

// Spec returns the spec for a covariate key
func (s *Schema) Spec(key core.CovariateKey) (CovariateSpec, bool) {
	spec, ok := s.specs[key]
	return spec, ok
}

// LevelsOf returns the declared levels for a covariate, nil if unknown
func (s *Schema) LevelsOf(key core.CovariateKey) []string {
	spec, ok := s.specs[key]
	if !ok {
		return nil
	}
	out := make([]string, len(spec.Levels))
	copy(out, spec.Levels)
	return out
}

// CheckValue validates a single observed value against the schema.
// Unknown covariates and undeclared levels are rejected, never coerced.
func (s *Schema) CheckValue(key core.CovariateKey, value string) error {
	spec, ok := s.specs[key]
	if !ok {
		return errors.Newf(errors.CodeUnknownLevel, "covariate %q is not declared in the schema", key)
	}
	for _, lvl := range spec.Levels {
		if lvl == value {
			return nil
		}
	}
	return errors.Newf(errors.CodeUnknownLevel, "covariate %q has undeclared level %q", key, value)
}
