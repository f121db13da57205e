package main

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/signal"

	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/analysis"
	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/config"
	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/experiment"
	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/metrics"
	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/results"
	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// #region flags

var sweepFlags struct {
	configPath string
	study      string
	trials     int
	workers    int
	seed       uint64
	dbPath     string
	metrics    bool
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a study over a parameter grid and print the reduced results",
	RunE:  runSweep,
}

func init() {
	f := sweepCmd.Flags()
	f.StringVar(&sweepFlags.configPath, "config", "", "sweep configuration YAML (defaults when empty)")
	f.StringVar(&sweepFlags.study, "study", "", "study to run; overrides the config")
	f.IntVar(&sweepFlags.trials, "trials", 0, "trials per point; overrides the config")
	f.IntVar(&sweepFlags.workers, "workers", 0, "concurrent trials; overrides the config")
	f.Uint64Var(&sweepFlags.seed, "seed", 0, "base seed; overrides the config")
	f.StringVar(&sweepFlags.dbPath, "db", "", "SQLite file to store the sweep in; overrides the config")
	f.BoolVar(&sweepFlags.metrics, "metrics", false, "include a metrics snapshot in the output")
}

// #endregion flags

// #region run

type sweepOutput struct {
	SweepID        string             `json:"sweep_id,omitempty"`
	Study          string             `json:"study"`
	Seed           uint64             `json:"seed"`
	Trials         int                `json:"trials"`
	TotalTrials    int                `json:"total_trials"`
	FailedTrials   int                `json:"failed_trials"`
	FailedPoints   int                `json:"failed_points"`
	FailedFraction float64            `json:"failed_fraction"`
	Elapsed        string             `json:"elapsed"`
	Points         []pointOutput      `json:"points"`
	Metrics        map[string]float64 `json:"metrics,omitempty"`
}

type pointOutput struct {
	Index          int                  `json:"index"`
	Params         map[string]float64   `json:"params"`
	Succeeded      int                  `json:"succeeded"`
	Failed         int                  `json:"failed"`
	FailuresByKind map[string]int       `json:"failures_by_kind,omitempty"`
	Resets         int                  `json:"resets"`
	Error          string               `json:"error,omitempty"`
	Summaries      []experiment.Summary `json:"summaries,omitempty"`
	Decay          *experiment.DecayFit `json:"decay,omitempty"`
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(sweepFlags.configPath)
	if err != nil {
		return err
	}
	applySweepOverrides(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	points, err := cfg.Points()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	rec := metrics.NewRecorder(reg)

	opts := cfg.StudyOptions()
	opts.Solver = transport.NewSolver(
		transport.WithSense(transport.Maximize),
		transport.WithTimeout(cfg.GetSolverTimeout()),
		transport.WithLogger(logger),
		transport.WithObserver(rec),
	)
	study, err := analysis.ByName(cfg.Study, opts)
	if err != nil {
		return err
	}

	var failures []experiment.Failure
	runner := experiment.NewRunner(
		experiment.WithTrials(cfg.Trials),
		experiment.WithWorkers(cfg.Workers),
		experiment.WithSeed(cfg.Seed),
		experiment.WithLogger(logger),
		experiment.WithObserver(rec),
		experiment.WithFailureSink(func(f experiment.Failure) { failures = append(failures, f) }),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	res, err := runner.Sweep(ctx, points, study)
	if err != nil {
		return fmt.Errorf("sweep %s: %w", cfg.Study, err)
	}

	out := buildSweepOutput(res, cfg.Study)
	if sweepFlags.metrics {
		if out.Metrics, err = metrics.Snapshot(reg); err != nil {
			return fmt.Errorf("gather metrics: %w", err)
		}
	}

	if cfg.Output.Database != "" {
		cfgJSON, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		store, err := results.NewStore(cfg.Output.Database)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer store.Close()
		saved, err := store.SaveSweep(res, failures, string(cfgJSON))
		if err != nil {
			return fmt.Errorf("save sweep: %w", err)
		}
		out.SweepID = saved.SweepID
		logger.Info("sweep stored", zap.String("sweep_id", saved.SweepID), zap.String("db", cfg.Output.Database))
	}

	if err := printJSON(cmd.OutOrStdout(), out); err != nil {
		return err
	}
	if res.FailedFraction() > cfg.MaxFailedFraction {
		return fmt.Errorf("%.2f%% of trials failed, limit %.2f%%", 100*res.FailedFraction(), 100*cfg.MaxFailedFraction)
	}
	return nil
}

func applySweepOverrides(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("study") {
		cfg.Study = sweepFlags.study
	}
	if f.Changed("trials") {
		cfg.Trials = sweepFlags.trials
	}
	if f.Changed("workers") {
		cfg.Workers = sweepFlags.workers
	}
	if f.Changed("seed") {
		cfg.Seed = sweepFlags.seed
	}
	if f.Changed("db") {
		cfg.Output.Database = sweepFlags.dbPath
	}
}

func buildSweepOutput(res experiment.SweepResult, study string) sweepOutput {
	out := sweepOutput{
		Study:          res.Study,
		Seed:           res.Seed,
		Trials:         res.Trials,
		TotalTrials:    res.TotalTrials,
		FailedTrials:   res.FailedTrials,
		FailedPoints:   res.FailedPoints,
		FailedFraction: res.FailedFraction(),
		Elapsed:        res.Elapsed.String(),
		Points:         make([]pointOutput, len(res.Points)),
	}
	for i, pr := range res.Points {
		po := pointOutput{
			Index:          pr.Point.Index,
			Params:         map[string]float64{},
			Succeeded:      len(pr.Outcomes),
			Failed:         pr.Failed,
			FailuresByKind: pr.FailuresByKind,
			Resets:         pr.Resets,
		}
		for k, name := range pr.Point.Names {
			po.Params[name] = pr.Point.Values[k]
		}
		if pr.PrepareErr != nil {
			po.Error = pr.PrepareErr.Error()
		}
		if len(pr.Outcomes) > 0 {
			width := len(pr.Outcomes[0].Values)
			for k := 0; k < width; k++ {
				po.Summaries = append(po.Summaries, pr.Summary(k))
			}
		}
		if study == "forgetting" && len(pr.Outcomes) > 0 {
			if fit, err := analysis.ForgettingRate(pr); err == nil && !math.IsNaN(fit.RSquared) {
				po.Decay = &fit
			}
		}
		out.Points[i] = po
	}
	return out
}

// #endregion run
