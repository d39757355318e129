package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"psmatch/adapters/excel"
	"psmatch/adapters/export"
	"psmatch/adapters/postgres"
	"psmatch/app"
	"psmatch/domain/core"
	"psmatch/domain/match"
	"psmatch/domain/report"
	"psmatch/internal/config"
	"psmatch/internal/effect"
	"psmatch/internal/matcher"
	"psmatch/internal/sweep"
	"psmatch/internal/testkit"
	"psmatch/ports"
)

func main() {
	// .env is optional; explicit environment always wins
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "psmatch",
		Short: "Propensity-score matching engine",
		Long: `psmatch pairs treated and control subjects by caliper-bounded
nearest-neighbor matching on logit propensity, within exact-match
strata, and reports covariate balance before and after matching.`,
	}

	rootCmd.AddCommand(
		newMatchCmd(),
		newSweepCmd(),
		newDemoCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newMatchCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Run one matching pass and export matched set + balance report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			schema, err := cfg.BuildSchema()
			if err != nil {
				return err
			}
			source, sink, cleanup, err := buildPipeline(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			service := app.NewMatchService(source, matcher.New(), sink)
			outcome, err := service.Run(cmd.Context(), app.MatchRequest{
				Schema: schema,
				Config: cfg.Matching,
			})
			if err != nil {
				return err
			}

			fmt.Printf("run %s: %d pairs, %d treated unmatched, %d controls unmatched\n",
				outcome.Result.RunID, outcome.Result.SampleSize(),
				len(outcome.Result.UnmatchedTreated), len(outcome.Result.UnmatchedControls))
			fmt.Printf("reports written to %s\n", cfg.Output.Dir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "psmatch.yaml", "Run configuration file")
	return cmd
}

func newSweepCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Re-run matching across a caliper grid and export the sensitivity report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if len(cfg.Sweep.CaliperWidths) == 0 {
				return fmt.Errorf("config %s declares no sweep.caliper_widths", configPath)
			}
			schema, err := cfg.BuildSchema()
			if err != nil {
				return err
			}
			source, sink, cleanup, err := buildPipeline(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			runner := sweep.NewRunner(matcher.New(), sweep.WithWorkers(cfg.Sweep.Workers))
			service := app.NewSweepService(source, runner, sink)
			outcome, err := service.Run(cmd.Context(), app.SweepRequest{
				Schema: schema,
				Base:   cfg.Matching,
				Widths: cfg.Sweep.CaliperWidths,
			})
			if err != nil {
				return err
			}

			for _, entry := range outcome.Sweep.Entries {
				fmt.Printf("caliper %-8g pairs %-6d unmatched treated %d\n",
					entry.CaliperWidth, entry.MatchedPairs, entry.UnmatchedTreated)
			}
			fmt.Printf("sensitivity report written to %s\n", cfg.Output.Dir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "psmatch.yaml", "Run configuration file")
	return cmd
}

func newDemoCmd() *cobra.Command {
	var seed int64
	var subjects int
	var outDir string

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the full pipeline on a synthetic population",
		Long: `Generates a deterministic synthetic population, matches it within
blood-type/region strata, sweeps a small caliper grid with a paired
binary-outcome effect estimate, and writes all three reports.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			gen := testkit.NewGenerator(testkit.GeneratorConfig{
				SubjectCount:  subjects,
				TreatedShare:  0.35,
				OutcomeBase:   0.20,
				OutcomeEffect: 0.08,
				Seed:          seed,
			})
			table, outcomes, err := gen.Generate()
			if err != nil {
				return err
			}
			source := testkit.NewTableSource(table)
			sink := export.NewCSVSink(outDir)

			matchService := app.NewMatchService(source, matcher.New(), sink)
			outcome, err := matchService.Run(cmd.Context(), app.MatchRequest{
				Schema: table.Schema(),
				Config: demoConfig(),
			})
			if err != nil {
				return err
			}
			fmt.Printf("demo run %s: %d pairs from %d subjects\n",
				outcome.Result.RunID, outcome.Result.SampleSize(), table.Len())
			for _, row := range outcome.Balance.Rows {
				fmt.Printf("  %-12s %-8s before %+.4f  after %+.4f\n",
					row.Covariate, row.Level, row.SMDBefore, row.SMDAfter)
			}

			runner := sweep.NewRunner(matcher.New(),
				sweep.WithEstimator(effect.NewPairedBinary(outcomes)))
			sweepService := app.NewSweepService(source, runner, sink)
			sweepOutcome, err := sweepService.Run(cmd.Context(), app.SweepRequest{
				Schema: table.Schema(),
				Base:   demoConfig(),
				Widths: []float64{0.1, 0.2, 0.3, 0.5},
			})
			if err != nil {
				return err
			}
			for _, entry := range sweepOutcome.Sweep.Entries {
				fmt.Printf("  caliper %-5g pairs %-6d effect %+.4f (p=%.4f)\n",
					entry.CaliperWidth, entry.MatchedPairs,
					entry.Effect.Estimate, entry.Effect.PValue)
			}
			fmt.Printf("reports written to %s\n", outDir)
			return nil
		},
	}

	cmd.Flags().Int64Var(&seed, "seed", 42, "Random seed for the synthetic population")
	cmd.Flags().IntVar(&subjects, "subjects", 2000, "Synthetic population size")
	cmd.Flags().StringVar(&outDir, "out", "demo_out", "Output directory for reports")
	return cmd
}

func demoConfig() match.Config {
	return match.Config{
		ExactKeys:    []core.CovariateKey{"blood_type", "region"},
		CaliperWidth: 0.2,
		Ratio:        1,
		Seed:         42,
	}
}

// buildPipeline picks the subject source and result sink from config.
// With a Postgres URL the subjects load from the database and results
// land both in CSV files and in the database; otherwise the file reader
// and CSV sink alone are used.
func buildPipeline(ctx context.Context, cfg *config.RunConfig) (ports.SubjectSource, ports.ResultSink, func(), error) {
	csvSink := export.NewCSVSink(cfg.Output.Dir)
	if cfg.Input.PostgresURL == "" {
		return excel.NewSubjectReader(cfg.Input.File, cfg.Input.Sheet), csvSink, func() {}, nil
	}

	db, err := postgres.Connect(cfg.Input.PostgresURL)
	if err != nil {
		return nil, nil, nil, err
	}
	pgSink := postgres.NewResultSink(db)
	if err := pgSink.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	sink := fanoutSink{csvSink, pgSink}
	return postgres.NewSubjectSource(db, cfg.Input.Table), sink, func() { db.Close() }, nil
}

// fanoutSink writes every report to each wrapped sink in order
type fanoutSink []ports.ResultSink

func (f fanoutSink) WriteMatchedSet(ctx context.Context, result *match.Result) error {
	for _, sink := range f {
		if err := sink.WriteMatchedSet(ctx, result); err != nil {
			return err
		}
	}
	return nil
}

func (f fanoutSink) WriteBalanceReport(ctx context.Context, rep *report.BalanceReport) error {
	for _, sink := range f {
		if err := sink.WriteBalanceReport(ctx, rep); err != nil {
			return err
		}
	}
	return nil
}

func (f fanoutSink) WriteSensitivityReport(ctx context.Context, sw *report.SweepResult) error {
	for _, sink := range f {
		if err := sink.WriteSensitivityReport(ctx, sw); err != nil {
			return err
		}
	}
	return nil
}
