package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"psmatch/domain/cohort"
	"psmatch/domain/core"
	"psmatch/domain/match"
	"psmatch/internal/errors"
)

// RunConfig is the complete configuration for one engine invocation.
// It is loaded from a YAML file, overridden from the environment, and
// validated before any matching work starts. Configuration errors are
// fatal and reported before partial work exists.
type RunConfig struct {
	Input      InputConfig     `yaml:"input"`
	Covariates []CovariateSpec `yaml:"covariates"`
	Matching   match.Config    `yaml:"matching"`
	Sweep      SweepConfig     `yaml:"sweep"`
	Output     OutputConfig    `yaml:"output"`
}

// InputConfig locates the subject table
type InputConfig struct {
	// File is an .xlsx or .csv subject table
	File string `yaml:"file"`
	// Sheet names the worksheet for .xlsx input (default "Sheet1")
	Sheet string `yaml:"sheet"`
	// PostgresURL, when set, loads subjects from Postgres instead
	PostgresURL string `yaml:"postgres_url"`
	// Table is the Postgres table name (default "subjects")
	Table string `yaml:"table"`
}

// CovariateSpec declares one covariate column in the YAML schema block
type CovariateSpec struct {
	Key    string   `yaml:"key"`
	Type   string   `yaml:"type"`
	Levels []string `yaml:"levels,omitempty"`
}

// SweepConfig configures the sensitivity sweep grid
type SweepConfig struct {
	CaliperWidths []float64 `yaml:"caliper_widths"`
	Workers       int       `yaml:"workers"`
}

// OutputConfig locates the exported report tables
type OutputConfig struct {
	Dir string `yaml:"dir"`
}

// Load reads, overrides, defaults, and validates a RunConfig
func Load(path string) (*RunConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	var cfg RunConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *RunConfig) applyEnv() {
	if v := os.Getenv("PSMATCH_INPUT_FILE"); v != "" {
		c.Input.File = v
	}
	if v := os.Getenv("PSMATCH_POSTGRES_URL"); v != "" {
		c.Input.PostgresURL = v
	}
	if v := os.Getenv("PSMATCH_OUTPUT_DIR"); v != "" {
		c.Output.Dir = v
	}
	if v := os.Getenv("PSMATCH_SEED"); v != "" {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Matching.Seed = seed
		}
	}
}

func (c *RunConfig) applyDefaults() {
	if c.Matching.Ratio == 0 {
		c.Matching.Ratio = 1
	}
	if c.Input.Sheet == "" {
		c.Input.Sheet = "Sheet1"
	}
	if c.Input.Table == "" {
		c.Input.Table = "subjects"
	}
	if c.Output.Dir == "" {
		c.Output.Dir = "."
	}
}

// Validate checks the full configuration up front
func (c *RunConfig) Validate() error {
	if c.Input.File == "" && c.Input.PostgresURL == "" {
		return errors.New(errors.CodeEmptyPopulation, "config names no input: set input.file or input.postgres_url")
	}
	if len(c.Covariates) == 0 {
		return errors.New(errors.CodeMissingKey, "config declares no covariates")
	}
	if err := c.Matching.Validate(); err != nil {
		return err
	}
	schema, err := c.BuildSchema()
	if err != nil {
		return err
	}
	for _, key := range c.Matching.ExactKeys {
		if _, ok := schema.Spec(key); !ok {
			return errors.Newf(errors.CodeMissingKey, "exact-match key %q is not a declared covariate", key)
		}
	}
	for _, w := range c.Sweep.CaliperWidths {
		probe := c.Matching
		probe.CaliperWidth = w
		if err := probe.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// BuildSchema constructs the declared covariate schema
func (c *RunConfig) BuildSchema() (*cohort.Schema, error) {
	specs := make([]cohort.CovariateSpec, len(c.Covariates))
	for i, spec := range c.Covariates {
		specs[i] = cohort.CovariateSpec{
			Key:    core.CovariateKey(spec.Key),
			Type:   cohort.CovariateType(spec.Type),
			Levels: spec.Levels,
		}
	}
	return cohort.NewSchema(specs...)
}
