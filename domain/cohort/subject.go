package cohort

import (
	"math"

	"psmatch/domain/core"
	"psmatch/internal/errors"
)

// Subject is one immutable population record. The propensity score is
// externally estimated; the engine only consumes it. LogitPropensity is
// derived once at construction and is the only quantity the matcher
// measures distance on.
type Subject struct {
	ID              core.SubjectID
	Treated         bool
	Covariates      map[core.CovariateKey]string
	Propensity      float64
	LogitPropensity float64
}

// NewSubject validates the propensity invariant and derives the logit.
// Propensity must be finite and strictly inside (0,1); anything else is
// an INVALID_PROPENSITY error that fails the whole run at table
// construction, keeping the pooled-SD denominator equal to the input.
func NewSubject(id core.SubjectID, treated bool, covariates map[core.CovariateKey]string, propensity float64) (Subject, error) {
	if id == "" {
		return Subject{}, errors.New(errors.CodeDuplicateSubject, "subject has empty id")
	}
	if math.IsNaN(propensity) || math.IsInf(propensity, 0) || propensity <= 0 || propensity >= 1 {
		return Subject{}, errors.Newf(errors.CodeInvalidPropensity,
			"subject %s has propensity %v outside (0,1)", id, propensity)
	}
	covs := make(map[core.CovariateKey]string, len(covariates))
	for k, v := range covariates {
		covs[k] = v
	}
	return Subject{
		ID:              id,
		Treated:         treated,
		Covariates:      covs,
		Propensity:      propensity,
		LogitPropensity: math.Log(propensity / (1 - propensity)),
	}, nil
}

// Covariate returns the observed value for a key and whether it exists
func (s Subject) Covariate(key core.CovariateKey) (string, bool) {
	v, ok := s.Covariates[key]
	return v, ok
}
