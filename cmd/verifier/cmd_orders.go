package main

import (
	"fmt"
	"sort"

	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/analysis"
	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/chain"
	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/experiment"
	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/monotone"
	"github.com/spf13/cobra"
)

// #region flags

var ordersFlags struct {
	payoff  string
	states  int
	samples int
	seed    uint64
	jsonOut bool
}

var ordersCmd = &cobra.Command{
	Use:   "orders",
	Short: "Count total orders of the lifted state space with increasing differences",
	RunE:  runOrders,
}

func init() {
	f := ordersCmd.Flags()
	f.StringVar(&ordersFlags.payoff, "payoff", "all", "lifted payoff variant, or all")
	f.IntVar(&ordersFlags.states, "states", 3, "base states; the lifted space has states² elements")
	f.IntVar(&ordersFlags.samples, "samples", 0, "sample this many random orders instead of enumerating")
	f.Uint64Var(&ordersFlags.seed, "seed", 1, "seed for sampled mode")
	f.BoolVar(&ordersFlags.jsonOut, "json", false, "output as JSON instead of table")
}

// #endregion flags

// #region run

type ordersOutput struct {
	Variant           string          `json:"variant"`
	LiftedStates      int             `json:"lifted_states"`
	Canonical         map[string]bool `json:"canonical"`
	CurrentCoordinate bool            `json:"current_coordinate"`
	Checked           int             `json:"checked"`
	Valid             int             `json:"valid"`
	Fraction          float64         `json:"fraction"`
	Lower             float64         `json:"lower"`
	Upper             float64         `json:"upper"`
	Exhaustive        bool            `json:"exhaustive"`
}

func runOrders(cmd *cobra.Command, _ []string) error {
	variants := analysis.PayoffVariants()
	names := make([]string, 0, len(variants))
	if ordersFlags.payoff == "all" {
		for name := range variants {
			names = append(names, name)
		}
		sort.Strings(names)
	} else {
		if _, ok := variants[ordersFlags.payoff]; !ok {
			return fmt.Errorf("unknown payoff %q", ordersFlags.payoff)
		}
		names = append(names, ordersFlags.payoff)
	}

	space, err := chain.NewPairSpace(ordersFlags.states, nil)
	if err != nil {
		return err
	}
	actions := []int{analysis.ActionA, analysis.ActionF}

	outputs := make([]ordersOutput, 0, len(names))
	for _, name := range names {
		o, err := orderCensus(space, name, variants[name], actions)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		outputs = append(outputs, o)
	}

	w := cmd.OutOrStdout()
	if ordersFlags.jsonOut {
		return printJSON(w, outputs)
	}
	fmt.Fprintf(w, "%-22s  %6s  %8s  %10s  %-21s  %-6s  %-6s  %-6s  %s\n",
		"Payoff", "Valid", "Checked", "Fraction", "95% interval", "Lex", "RevLex", "Sum", "Current")
	for _, o := range outputs {
		fmt.Fprintf(w, "%-22s  %6d  %8d  %10.6f  [%8.6f, %8.6f]  %-6t  %-6t  %-6t  %t\n",
			o.Variant, o.Valid, o.Checked, o.Fraction, o.Lower, o.Upper,
			o.Canonical["lexicographic"], o.Canonical["reverse_lexicographic"], o.Canonical["sum"], o.CurrentCoordinate)
	}
	return nil
}

func orderCensus(space *chain.PairSpace, name string, u func(cur, prev, a int) float64, actions []int) (ordersOutput, error) {
	payoff := analysis.LiftedPayoff(space, len(actions), u)
	out := ordersOutput{
		Variant:      name,
		LiftedStates: space.Len(),
		Canonical: map[string]bool{
			"lexicographic":         monotone.HasIncreasingDifferences(payoff, monotone.Lexicographic(space), actions),
			"reverse_lexicographic": monotone.HasIncreasingDifferences(payoff, monotone.ReverseLexicographic(space), actions),
			"sum":                   monotone.HasIncreasingDifferences(payoff, monotone.SumOrder(space), actions),
		},
	}
	report, err := monotone.NewChecker().Check(payoff, monotone.CurrentCoordinate(space), actions)
	if err != nil {
		return ordersOutput{}, err
	}
	out.CurrentCoordinate = report.Holds()

	var census monotone.Census
	if ordersFlags.samples > 0 {
		census, err = monotone.SampleValidOrders(payoff, space.Len(), actions, ordersFlags.samples, experiment.Rand(ordersFlags.seed, 0, 0))
	} else {
		census, err = monotone.EnumerateValidOrders(payoff, space.Len(), actions)
	}
	if err != nil {
		return ordersOutput{}, err
	}
	out.Checked = census.Checked
	out.Valid = census.Valid
	out.Fraction = census.Fraction
	out.Lower = census.Lower
	out.Upper = census.Upper
	out.Exhaustive = census.Exhaustive
	return out, nil
}

// #endregion run
