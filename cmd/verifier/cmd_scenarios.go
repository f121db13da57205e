package main

import (
	"fmt"

	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/scenario"
	"github.com/spf13/cobra"
)

var scenariosFlags struct {
	fixture string
	jsonOut bool
}

var scenariosCmd = &cobra.Command{
	Use:   "scenarios",
	Short: "Run the worked scenarios (or a fixture file) and report pass/fail",
	RunE:  runScenarios,
}

func init() {
	f := scenariosCmd.Flags()
	f.StringVar(&scenariosFlags.fixture, "fixture", "", "scenario fixture YAML (built-in scenarios when empty)")
	f.BoolVar(&scenariosFlags.jsonOut, "json", false, "output as JSON instead of table")
}

type scenariosOutput struct {
	Description string            `json:"description"`
	Summary     scenario.Summary  `json:"summary"`
	Results     []scenario.Result `json:"results"`
}

func runScenarios(cmd *cobra.Command, _ []string) error {
	var (
		fx  *scenario.Fixture
		err error
	)
	if scenariosFlags.fixture == "" {
		fx, err = scenario.DefaultFixture()
	} else {
		fx, err = scenario.LoadFixture(scenariosFlags.fixture)
	}
	if err != nil {
		return err
	}

	res, err := scenario.Run(cmd.Context(), fx, scenario.WithLogger(logger))
	if err != nil {
		return err
	}
	sum := scenario.Summarize(res)

	out := cmd.OutOrStdout()
	if scenariosFlags.jsonOut {
		if err := printJSON(out, scenariosOutput{Description: fx.Description, Summary: sum, Results: res}); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "%-32s  %-12s  %-6s  %s\n", "Scenario", "Kind", "Result", "Reason")
		fmt.Fprintf(out, "%-32s+-%-12s+-%-6s+-%s\n", "--------------------------------", "------------", "------", "--------------------")
		for _, r := range res {
			verdict := "PASS"
			if !r.Passed {
				verdict = "FAIL"
			}
			fmt.Fprintf(out, "%-32s  %-12s  %-6s  %s\n", r.Name, r.Kind, verdict, r.Reason)
		}
		fmt.Fprintf(out, "\n%d/%d passed\n", sum.Passed, sum.Total)
	}

	if sum.Failed > 0 {
		return fmt.Errorf("%d of %d scenarios failed", sum.Failed, sum.Total)
	}
	return nil
}
