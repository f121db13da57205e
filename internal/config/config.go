// Package config loads sweep configuration from YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/analysis"
	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/experiment"
	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/fault"
	"gopkg.in/yaml.v3"
)

// #region types

// Config is the full sweep configuration.
type Config struct {
	Study   string       `yaml:"study"`
	Trials  int          `yaml:"trials"`
	Workers int          `yaml:"workers"` // 0 means GOMAXPROCS
	Seed    uint64       `yaml:"seed"`
	Grid    GridConfig   `yaml:"grid"`
	Model   ModelConfig  `yaml:"model"`
	Solver  SolverConfig `yaml:"solver"`
	Output  OutputConfig `yaml:"output"`
	Log     LogConfig    `yaml:"log"`

	// MaxFailedFraction fails the sweep when more trials than this fraction fail.
	MaxFailedFraction float64 `yaml:"max_failed_fraction"`
}

// GridConfig lists the sweep axes; the Cartesian product is swept.
type GridConfig struct {
	Axes []AxisConfig `yaml:"axes"`
}

// AxisConfig is one axis: explicit Values, or Steps points from From to To.
type AxisConfig struct {
	Name   string    `yaml:"name"`
	Values []float64 `yaml:"values,omitempty"`
	From   float64   `yaml:"from,omitempty"`
	To     float64   `yaml:"to,omitempty"`
	Steps  int       `yaml:"steps,omitempty"`
}

// ModelConfig holds the study knobs.
type ModelConfig struct {
	Length  int       `yaml:"length"`
	Noise   float64   `yaml:"noise"`
	Etas    []float64 `yaml:"etas"`
	Epsilon float64   `yaml:"epsilon"`
	IID     bool      `yaml:"iid"`
	GameX   float64   `yaml:"game_x"`
	GameY   float64   `yaml:"game_y"`
}

// SolverConfig configures the transport LP.
type SolverConfig struct {
	Timeout string `yaml:"timeout"`
}

// OutputConfig selects where results go. An empty Database skips persistence.
type OutputConfig struct {
	Database string `yaml:"database"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// #endregion types

// #region defaults

// DefaultConfig returns the worked-example sweep: the stationarity study on
// a 10×10 (α, β) grid.
func DefaultConfig() *Config {
	return &Config{
		Study:  "stationarity",
		Trials: 20,
		Seed:   1,
		Grid: GridConfig{Axes: []AxisConfig{
			{Name: analysis.ParamAlpha, From: 0.05, To: 0.95, Steps: 10},
			{Name: analysis.ParamBeta, From: 0.05, To: 0.95, Steps: 10},
		}},
		Model: ModelConfig{
			Length:  500,
			Noise:   0.2,
			Etas:    []float64{0.05, 0.1, 0.2},
			Epsilon: 0.05,
			GameX:   0.3,
			GameY:   0.4,
		},
		Solver:            SolverConfig{Timeout: "5s"},
		Log:               LogConfig{Level: "info", Format: "json"},
		MaxFailedFraction: 0.05,
	}
}

// #endregion defaults

// #region load

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("VERIFIER_DB"); path != "" {
		c.Output.Database = path
	}
	if level := os.Getenv("VERIFIER_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
}

// #endregion load

// #region accessors

// GetSolverTimeout returns the LP timeout, falling back to 5s when unparsable.
func (c *Config) GetSolverTimeout() time.Duration {
	d, err := time.ParseDuration(c.Solver.Timeout)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// Points expands the grid into sweep points.
func (c *Config) Points() ([]experiment.Point, error) {
	g := experiment.Grid{}
	for _, ax := range c.Grid.Axes {
		values := ax.Values
		if values == nil {
			values = experiment.Linspace(ax.From, ax.To, ax.Steps)
		}
		g.Names = append(g.Names, ax.Name)
		g.Axes = append(g.Axes, values)
	}
	return g.Points()
}

// StudyOptions maps the model section onto analysis options. The caller
// supplies the transport solver.
func (c *Config) StudyOptions() analysis.Options {
	return analysis.Options{
		Length:  c.Model.Length,
		Noise:   c.Model.Noise,
		Etas:    c.Model.Etas,
		Epsilon: c.Model.Epsilon,
		IID:     c.Model.IID,
		Game:    analysis.DeterrenceGame{X: c.Model.GameX, Y: c.Model.GameY},
	}
}

// #endregion accessors

// #region validate

// Validate checks the configuration before a sweep is started.
func (c *Config) Validate() error {
	if !slices.Contains(analysis.StudyNames(), c.Study) {
		return fmt.Errorf("invalid study: %s (valid: %v): %w", c.Study, analysis.StudyNames(), fault.ErrInvalidParameter)
	}
	if c.Trials < 1 {
		return fmt.Errorf("trials must be positive, got %d: %w", c.Trials, fault.ErrInvalidParameter)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d: %w", c.Workers, fault.ErrInvalidParameter)
	}
	if len(c.Grid.Axes) == 0 {
		return fmt.Errorf("grid has no axes: %w", fault.ErrInvalidParameter)
	}
	for _, ax := range c.Grid.Axes {
		if ax.Name == "" {
			return fmt.Errorf("grid axis without a name: %w", fault.ErrInvalidParameter)
		}
		if ax.Values == nil && ax.Steps < 1 {
			return fmt.Errorf("axis %s needs values or steps: %w", ax.Name, fault.ErrInvalidParameter)
		}
	}
	if c.Model.Length < 1 {
		return fmt.Errorf("model length must be positive, got %d: %w", c.Model.Length, fault.ErrInvalidParameter)
	}
	if c.MaxFailedFraction < 0 || c.MaxFailedFraction > 1 {
		return fmt.Errorf("max_failed_fraction %g outside [0,1]: %w", c.MaxFailedFraction, fault.ErrInvalidParameter)
	}
	if c.Solver.Timeout != "" {
		if _, err := time.ParseDuration(c.Solver.Timeout); err != nil {
			return fmt.Errorf("solver timeout %q: %w", c.Solver.Timeout, fault.ErrInvalidParameter)
		}
	}
	return nil
}

// #endregion validate
