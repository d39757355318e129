package testkit

import (
	"fmt"
	"math"
	"math/rand"

	"psmatch/domain/cohort"
	"psmatch/domain/core"
)

// GeneratorConfig configures the synthetic population generator
type GeneratorConfig struct {
	SubjectCount  int     `json:"subject_count"`
	TreatedShare  float64 `json:"treated_share"`
	OutcomeBase   float64 `json:"outcome_base"`
	OutcomeEffect float64 `json:"outcome_effect"`
	Seed          int64   `json:"seed"`
}

// DefaultConfig returns sensible defaults for a demo population
func DefaultConfig() GeneratorConfig {
	return GeneratorConfig{
		SubjectCount:  2000,
		TreatedShare:  0.35,
		OutcomeBase:   0.20,
		OutcomeEffect: 0.08,
		Seed:          42,
	}
}

// Generator produces deterministic synthetic populations for tests and
// CLI demos. Treatment probability depends on the categorical
// covariates, so the synthetic propensity scores are honest: they are
// the actual assignment probabilities, not noise.
type Generator struct {
	config GeneratorConfig
	rng    *rand.Rand
}

// NewGenerator creates a generator with its own seeded source
func NewGenerator(config GeneratorConfig) *Generator {
	return &Generator{
		config: config,
		rng:    rand.New(rand.NewSource(config.Seed)),
	}
}

// Schema returns the covariate schema the generator populates
func (g *Generator) Schema() (*cohort.Schema, error) {
	return cohort.NewSchema(
		cohort.CovariateSpec{Key: "blood_type", Type: cohort.Categorical, Levels: []string{"O", "A", "B", "AB"}},
		cohort.CovariateSpec{Key: "region", Type: cohort.Categorical, Levels: []string{"north", "south", "east", "west"}},
		cohort.CovariateSpec{Key: "age_band", Type: cohort.Categorical, Levels: []string{"18-34", "35-49", "50-64", "65+"}},
		cohort.CovariateSpec{Key: "diabetic", Type: cohort.Boolean},
	)
}

// Generate produces the subject table and a binary outcome per subject
func (g *Generator) Generate() (*cohort.Table, map[core.SubjectID]bool, error) {
	schema, err := g.Schema()
	if err != nil {
		return nil, nil, err
	}

	bloodTypes := []string{"O", "A", "B", "AB"}
	regions := []string{"north", "south", "east", "west"}
	ageBands := []string{"18-34", "35-49", "50-64", "65+"}

	subjects := make([]cohort.Subject, 0, g.config.SubjectCount)
	outcomes := make(map[core.SubjectID]bool, g.config.SubjectCount)

	for i := 0; i < g.config.SubjectCount; i++ {
		id := core.SubjectID(fmt.Sprintf("subj_%06d", i+1))

		blood := bloodTypes[g.rng.Intn(len(bloodTypes))]
		region := regions[g.rng.Intn(len(regions))]
		ageIdx := g.rng.Intn(len(ageBands))
		diabetic := g.rng.Float64() < 0.15

		// Assignment probability leans on age and diabetes, centered
		// on the configured treated share.
		logit := math.Log(g.config.TreatedShare / (1 - g.config.TreatedShare))
		logit += 0.4 * float64(ageIdx-1)
		if diabetic {
			logit += 0.6
		}
		propensity := 1 / (1 + math.Exp(-logit))
		treated := g.rng.Float64() < propensity

		covs := map[core.CovariateKey]string{
			"blood_type": blood,
			"region":     region,
			"age_band":   ageBands[ageIdx],
			"diabetic":   fmt.Sprintf("%t", diabetic),
		}
		subj, err := cohort.NewSubject(id, treated, covs, propensity)
		if err != nil {
			return nil, nil, err
		}
		subjects = append(subjects, subj)

		outcomeP := g.config.OutcomeBase + 0.05*float64(ageIdx)
		if treated {
			outcomeP += g.config.OutcomeEffect
		}
		outcomes[id] = g.rng.Float64() < outcomeP
	}

	table, err := cohort.NewTable(schema, subjects)
	if err != nil {
		return nil, nil, err
	}
	return table, outcomes, nil
}
