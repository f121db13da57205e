package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/logging"
	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/results"
	"github.com/spf13/cobra"
)

// #region flags

var inspectFlags struct {
	dbPath  string
	last    int
	sweepID string
	jsonOut bool
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "List stored sweeps or show one sweep in detail",
	RunE:  runInspect,
}

func init() {
	f := inspectCmd.Flags()
	f.StringVar(&inspectFlags.dbPath, "db", "", "results database (required)")
	f.IntVar(&inspectFlags.last, "last", 20, "show N most recent sweeps")
	f.StringVar(&inspectFlags.sweepID, "sweep", "", "show single sweep detail")
	f.BoolVar(&inspectFlags.jsonOut, "json", false, "output as JSON instead of table")
	_ = inspectCmd.MarkFlagRequired("db")
}

func runInspect(cmd *cobra.Command, _ []string) error {
	store, err := results.NewStore(inspectFlags.dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	if inspectFlags.sweepID != "" {
		return runDetailMode(cmd.OutOrStdout(), store, inspectFlags.sweepID, inspectFlags.jsonOut)
	}
	return runListMode(cmd.OutOrStdout(), store, inspectFlags.last, inspectFlags.jsonOut)
}

// #endregion flags

// #region list-mode

func runListMode(w io.Writer, store *results.Store, last int, jsonOut bool) error {
	sweeps, err := store.ListSweeps(last)
	if err != nil {
		return err
	}
	if jsonOut {
		if sweeps == nil {
			sweeps = []results.SweepRecord{}
		}
		return printJSON(w, sweeps)
	}
	if len(sweeps) == 0 {
		fmt.Fprintln(w, "no sweeps found")
		return nil
	}

	fmt.Fprintf(w, "%-10s  %-18s  %6s  %7s  %8s  %7s  %s\n",
		"Sweep", "Study", "Points", "Trials", "Failed", "Frac", "Time")
	fmt.Fprintf(w, "%-10s+-%-18s+-%6s+-%7s+-%8s+-%7s+-%s\n",
		"----------", "------------------", "------", "-------", "--------", "-------", "--------------------")
	for _, s := range sweeps {
		fmt.Fprintf(w, "%-10s  %-18s  %6d  %7d  %8d  %7.4f  %s\n",
			shortID(s.SweepID), s.Study, s.Points, s.TotalTrials, s.FailedTrials,
			s.FailedFraction(), s.CreatedAt.Format("2006-01-02T15:04:05Z"))
	}
	return nil
}

// #endregion list-mode

// #region detail-mode

type detailOutput struct {
	Sweep    results.SweepRecord    `json:"sweep"`
	Points   []results.PointRecord  `json:"points"`
	Failures []logging.FailureEntry `json:"failures"`
}

func runDetailMode(w io.Writer, store *results.Store, sweepID string, jsonOut bool) error {
	sweep, err := store.GetSweep(sweepID)
	if err != nil {
		return err
	}
	points, err := store.Points(sweepID)
	if err != nil {
		return err
	}
	failures, err := store.Failures(sweepID)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(w, detailOutput{Sweep: sweep, Points: points, Failures: failures})
	}

	fmt.Fprintf(w, "Sweep:      %s\n", sweep.SweepID)
	fmt.Fprintf(w, "Study:      %s\n", sweep.Study)
	fmt.Fprintf(w, "Seed:       %d\n", sweep.Seed)
	fmt.Fprintf(w, "Trials:     %d per point, %d total\n", sweep.Trials, sweep.TotalTrials)
	fmt.Fprintf(w, "Failed:     %d trials, %d points (%.4f)\n", sweep.FailedTrials, sweep.FailedPoints, sweep.FailedFraction())
	fmt.Fprintf(w, "Elapsed:    %s\n", sweep.Elapsed)
	fmt.Fprintf(w, "Created:    %s\n", sweep.CreatedAt.Format("2006-01-02T15:04:05Z"))

	fmt.Fprintf(w, "\nPoints:\n")
	for _, p := range points {
		if p.PrepareError != "" {
			fmt.Fprintf(w, "  %-32s  skipped: %s\n", p.Label, p.PrepareError)
			continue
		}
		means := make([]string, 0, min(len(p.Summaries), 4))
		for k, s := range p.Summaries {
			if k == 4 {
				means = append(means, "...")
				break
			}
			means = append(means, fmt.Sprintf("%.4f±%.4f", s.Mean, s.Std))
		}
		fmt.Fprintf(w, "  %-32s  ok=%d failed=%d resets=%d  %s\n",
			p.Label, p.Succeeded, p.Failed, p.Resets, strings.Join(means, " "))
	}

	if len(failures) > 0 {
		byKind := map[string]int{}
		for _, f := range failures {
			byKind[f.Kind]++
		}
		kinds := make([]string, 0, len(byKind))
		for k := range byKind {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		fmt.Fprintf(w, "\nFailures by kind:\n")
		for _, k := range kinds {
			fmt.Fprintf(w, "  %-22s %d\n", k, byKind[k])
		}
	}
	return nil
}

// #endregion detail-mode
