package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lshin-apl/bucky/adapters/census"
	"github.com/lshin-apl/bucky/adapters/graphio"
	"github.com/lshin-apl/bucky/adapters/ledger"
	"github.com/lshin-apl/bucky/adapters/npi"
	"github.com/lshin-apl/bucky/adapters/output"
	"github.com/lshin-apl/bucky/adapters/paramsrc"
	"github.com/lshin-apl/bucky/adapters/postgres"
	"github.com/lshin-apl/bucky/adapters/sampling"
	"github.com/lshin-apl/bucky/app"
	"github.com/lshin-apl/bucky/domain/core"
	"github.com/lshin-apl/bucky/internal"
	"github.com/lshin-apl/bucky/internal/config"
	"github.com/lshin-apl/bucky/internal/solver"
	"github.com/lshin-apl/bucky/ports"
)

func main() {
	log := internal.NewDefaultLogger()
	if err := godotenv.Load(); err != nil {
		log.Info("No .env file found, using environment variables")
	}

	rootCmd := &cobra.Command{
		Use:   "bucky",
		Short: "Stratified compartmental epidemic forecaster",
	}
	rootCmd.AddCommand(
		newRunCmd(log),
		newCheckCmd(log),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if core.IsFatalInputError(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newRunCmd(log *internal.Logger) *cobra.Command {
	var trials, days, workers int
	var seed uint64
	var noReject bool
	var graphFile, priorsFile, npiFile, censusFile, outDir string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a Monte Carlo forecast ensemble",
		Long: `Load the input graph and priors, calibrate against the observed
history, and integrate trials until the requested number of frames has been
accepted. Flags override the corresponding environment configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cmd.Flags().Changed("graph") {
				cfg.Paths.GraphFile = graphFile
			}
			if cmd.Flags().Changed("params") {
				cfg.Paths.PriorsFile = priorsFile
			}
			if cmd.Flags().Changed("npi") {
				cfg.Paths.NPIFile = npiFile
			}
			if cmd.Flags().Changed("census") {
				cfg.Paths.CensusFile = censusFile
			}
			if cmd.Flags().Changed("out") {
				cfg.Output.Dir = outDir
			}
			if cmd.Flags().Changed("trials") {
				cfg.Run.Trials = trials
			}
			if cmd.Flags().Changed("days") {
				cfg.Run.HorizonDays = days
			}
			if cmd.Flags().Changed("workers") {
				cfg.Run.Workers = workers
			}
			if cmd.Flags().Changed("seed") {
				cfg.Run.BaseSeed = seed
			}
			cfg.Run.NoReject = noReject
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runEnsemble(cmd.Context(), log, cfg)
		},
	}

	cmd.Flags().StringVar(&graphFile, "graph", "", "input graph JSON file")
	cmd.Flags().StringVar(&priorsFile, "params", "", "parameter prior JSON file")
	cmd.Flags().StringVar(&npiFile, "npi", "", "intervention schedule CSV file")
	cmd.Flags().StringVar(&censusFile, "census", "", "hospital census XLSX file")
	cmd.Flags().StringVar(&outDir, "out", "", "output directory for CSV frames")
	cmd.Flags().IntVar(&trials, "trials", 100, "accepted trials to produce")
	cmd.Flags().IntVar(&days, "days", 30, "forecast horizon in days")
	cmd.Flags().IntVar(&workers, "workers", 4, "concurrent trial workers")
	cmd.Flags().Uint64Var(&seed, "seed", 42, "base seed of the spawn sequence")
	cmd.Flags().BoolVar(&noReject, "no-reject", false, "keep every integrable trial")

	return cmd
}

func newCheckCmd(log *internal.Logger) *cobra.Command {
	var graphFile, priorsFile string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configured inputs without running trials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cmd.Flags().Changed("graph") {
				cfg.Paths.GraphFile = graphFile
			}
			if cmd.Flags().Changed("params") {
				cfg.Paths.PriorsFile = priorsFile
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			svc, cleanup, err := buildService(cmd.Context(), log, cfg, true)
			if err != nil {
				return err
			}
			defer cleanup()
			log.Info("inputs OK: %d nodes, %d age groups, %d days of history",
				svc.Nodes(), svc.Ages(), svc.HistoryDays())
			return nil
		},
	}

	cmd.Flags().StringVar(&graphFile, "graph", "", "input graph JSON file")
	cmd.Flags().StringVar(&priorsFile, "params", "", "parameter prior JSON file")

	return cmd
}

func runEnsemble(ctx context.Context, log *internal.Logger, cfg *config.Config) error {
	svc, cleanup, err := buildService(ctx, log, cfg, false)
	if err != nil {
		return err
	}
	defer cleanup()

	runID, err := svc.RunEnsemble(ctx, cfg.Run.BaseSeed, cfg.Run.Trials, nil)
	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}
	return nil
}

// buildService wires the adapters into a forecast service. dryRun swaps the
// real sinks for no-ops so `check` has no side effects.
func buildService(ctx context.Context, log *internal.Logger, cfg *config.Config, dryRun bool) (*app.ForecastService, func(), error) {
	graph, err := graphio.NewSource(cfg.Paths.GraphFile).Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	model, err := app.BuildModel(graph)
	if err != nil {
		return nil, nil, err
	}

	sampler := sampling.New()
	source, err := paramsrc.NewSource(cfg.Paths.PriorsFile, sampler)
	if err != nil {
		return nil, nil, err
	}

	schedule, err := npi.NewSource(cfg.Paths.NPIFile).Schedule(ctx, model.Start, cfg.Run.HorizonDays)
	if err != nil {
		return nil, nil, err
	}

	censusRecs, err := census.NewSource(cfg.Paths.CensusFile, cfg.Paths.CensusSheet).Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	if len(censusRecs) == 0 {
		log.Warn("no hospital census data, occupancy anchors disabled")
	}

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	var sink ports.FrameSink = nopSink{}
	var runLedger ports.RunLedger = nopLedger{}
	if !dryRun {
		inner, err := openSink(ctx, log, cfg)
		if err != nil {
			return nil, nil, err
		}
		q := output.NewQueue(inner, cfg.Output.QueueSize)
		cleanups = append(cleanups, func() {
			if err := q.Close(); err != nil {
				log.Error("closing output sink: %v", err)
			}
		})
		sink = q

		led, err := ledger.Open(cfg.Output.LedgerFile)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		cleanups = append(cleanups, func() {
			if err := led.Close(); err != nil {
				log.Error("closing ledger: %v", err)
			}
		})
		runLedger = led
	}

	svc, err := app.NewForecastService(log, model, source, sampler, schedule, censusRecs,
		solver.New(), sink, runLedger,
		app.ForecastConfig{HorizonDays: cfg.Run.HorizonDays, Workers: cfg.Run.Workers, NoReject: cfg.Run.NoReject})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return svc, cleanup, nil
}

// openSink selects postgres when DATABASE_URL is set, CSV partitions
// otherwise.
func openSink(ctx context.Context, log *internal.Logger, cfg *config.Config) (ports.FrameSink, error) {
	if cfg.Database.URL != "" {
		db, err := postgres.Connect(cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		repo := postgres.NewFrameRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		log.Info("writing frames to postgres")
		return repo, nil
	}
	log.Info("writing frames to %s", cfg.Output.Dir)
	sink, err := output.NewCSVSink(cfg.Output.Dir)
	if err != nil {
		return nil, err
	}
	return sink, nil
}

type nopSink struct{}

func (nopSink) Write(context.Context, *ports.Frame) error { return nil }
func (nopSink) Close() error                              { return nil }

type nopLedger struct{}

func (nopLedger) Begin(context.Context, core.RunID, uint64, int) error { return nil }
func (nopLedger) Record(context.Context, ports.TrialRecord) error      { return nil }
func (nopLedger) Close() error                                         { return nil }
