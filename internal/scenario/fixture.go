package scenario

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/eval"
	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/fault"
	"gopkg.in/yaml.v3"
)

// #region fixture-types

// Scenario kinds.
const (
	KindStationary  = "stationary"
	KindRevealGap   = "reveal_gap"
	KindTransport   = "transport"
	KindMonotone    = "monotone"
	KindConvergence = "convergence"
)

// DefaultTolerance applies when a scenario leaves Expect.Tolerance unset.
const DefaultTolerance = 1e-6

// Fixture is the top-level YAML structure for a scenario file.
type Fixture struct {
	Description string            `yaml:"description"`
	Eval        FixtureEvalConfig `yaml:"eval"`
	Scenarios   []FixtureScenario `yaml:"scenarios"`
}

// FixtureEvalConfig mirrors eval.EvalConfig. Zero fields keep the defaults.
type FixtureEvalConfig struct {
	MaxResidual    float64 `yaml:"max_residual"`
	MaxMarginalGap float64 `yaml:"max_marginal_gap"`
	MinSpectralGap float64 `yaml:"min_spectral_gap"`
}

// FixtureScenario is one concrete check. Which inputs are read depends on Kind:
//
//	stationary, reveal_gap, convergence: Kernel, or Alpha and Beta
//	transport:                           Mu, Nu, Cost, Sense
//	monotone:                            Payoff, Order
type FixtureScenario struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`

	Alpha  *float64    `yaml:"alpha,omitempty"`
	Beta   *float64    `yaml:"beta,omitempty"`
	Kernel [][]float64 `yaml:"kernel,omitempty"`
	Prior  []float64   `yaml:"prior,omitempty"`
	Steps  int         `yaml:"steps,omitempty"`

	Mu    []float64   `yaml:"mu,omitempty"`
	Nu    []float64   `yaml:"nu,omitempty"`
	Cost  [][]float64 `yaml:"cost,omitempty"`
	Sense string      `yaml:"sense,omitempty"` // "max" | "min"

	Payoff [][]float64 `yaml:"payoff,omitempty"`
	Order  []int       `yaml:"order,omitempty"`

	Expect FixtureExpect `yaml:"expect"`
}

// FixtureExpect holds the expected observations. Nil fields are not checked.
type FixtureExpect struct {
	Stationary        []float64 `yaml:"stationary,omitempty"`
	Gap               *float64  `yaml:"gap,omitempty"`
	MatchesComonotone *bool     `yaml:"matches_comonotone,omitempty"`
	Value             *float64  `yaml:"value,omitempty"`
	Holds             *bool     `yaml:"holds,omitempty"`
	Rate              *float64  `yaml:"rate,omitempty"` // defaults to |λ₂|
	Tolerance         float64   `yaml:"tolerance,omitempty"`
}

func (e FixtureExpect) tolerance() float64 {
	if e.Tolerance > 0 {
		return e.Tolerance
	}
	return DefaultTolerance
}

// #endregion fixture-types

// #region fixture-loader

//go:embed fixtures/default.yaml
var defaultFixture []byte

// DefaultFixture returns the built-in worked scenarios.
func DefaultFixture() (*Fixture, error) {
	return ParseFixture(defaultFixture)
}

// LoadFixture reads and parses a YAML fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	f, err := ParseFixture(data)
	if err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return f, nil
}

// ParseFixture decodes a fixture, rejecting unknown fields and kinds.
func ParseFixture(data []byte) (*Fixture, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f Fixture
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	seen := make(map[string]bool, len(f.Scenarios))
	for i, s := range f.Scenarios {
		if s.Name == "" {
			return nil, fmt.Errorf("scenario %d has no name: %w", i, fault.ErrInvalidParameter)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("duplicate scenario %q: %w", s.Name, fault.ErrInvalidParameter)
		}
		seen[s.Name] = true
		switch s.Kind {
		case KindStationary, KindRevealGap, KindTransport, KindMonotone, KindConvergence:
		default:
			return nil, fmt.Errorf("scenario %q: unknown kind %q: %w", s.Name, s.Kind, fault.ErrInvalidParameter)
		}
	}
	return &f, nil
}

// ToEvalConfig converts the fixture thresholds, keeping defaults for zero fields.
func (fc FixtureEvalConfig) ToEvalConfig() eval.EvalConfig {
	cfg := eval.DefaultEvalConfig()
	if fc.MaxResidual > 0 {
		cfg.MaxResidual = fc.MaxResidual
	}
	if fc.MaxMarginalGap > 0 {
		cfg.MaxMarginalGap = fc.MaxMarginalGap
	}
	if fc.MinSpectralGap > 0 {
		cfg.MinSpectralGap = fc.MinSpectralGap
	}
	return cfg
}

// #endregion fixture-loader
