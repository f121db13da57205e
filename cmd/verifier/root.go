// verifier runs the Markov reputation studies and checks.
//
// Usage:
//
//	verifier sweep     [--config sweep.yaml] [--study name] [--db results.db]
//	verifier scenarios [--fixture scenarios.yaml] [--json]
//	verifier inspect   --db results.db [--sweep id] [--last N] [--json]
//	verifier orders    [--payoff current_only|transition_dependent|strong_history|all] [--samples N]
package main

import (
	"fmt"
	"os"

	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// #region root

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	logLevel  string
	logFormat string
}

// logger is built once per invocation by the root pre-run hook.
var logger = zap.NewNop()

var rootCmd = &cobra.Command{
	Use:   "verifier",
	Short: "Numerical checks for reputation games on Markov states",
	Long: "verifier simulates Markov chains, filters beliefs, solves transport problems\n" +
		"and checks increasing differences, alone or as parameter sweeps.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		l, err := logging.New(rootFlags.logLevel, rootFlags.logFormat)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, _ []string) {
		_ = logger.Sync()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	pf.StringVar(&rootFlags.logFormat, "log-format", "console", "log format (json, console)")

	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(scenariosCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(ordersCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// #endregion root
