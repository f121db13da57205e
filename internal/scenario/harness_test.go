package scenario

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/fault"
)

func loadDefault(t *testing.T) *Fixture {
	t.Helper()
	f, err := DefaultFixture()
	if err != nil {
		t.Fatalf("DefaultFixture: %v", err)
	}
	return f
}

func byName(results []Result) map[string]Result {
	out := make(map[string]Result, len(results))
	for _, r := range results {
		out[r.Name] = r
	}
	return out
}

func TestDefaultFixture_AllScenariosPass(t *testing.T) {
	f := loadDefault(t)
	if len(f.Scenarios) != 10 {
		t.Fatalf("expected 10 scenarios, got %d", len(f.Scenarios))
	}

	results, err := Run(context.Background(), f)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, r := range results {
		if !r.Passed {
			t.Errorf("%s (%s) failed: %s", r.Name, r.Kind, r.Reason)
		}
	}

	s := Summarize(results)
	if s.Total != 10 || s.Passed != 10 || s.Failed != 0 {
		t.Fatalf("summary = %+v", s)
	}
}

func TestDefaultFixture_ObservedValues(t *testing.T) {
	results, err := Run(context.Background(), loadDefault(t))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := byName(results)

	st := got["stationary_two_state"]
	if st.Eval == nil || !st.Eval.Passed {
		t.Fatal("stationary scenario should carry a passing chain eval")
	}
	if !within(st.Observed["pi_0"], 0.625, 1e-12) {
		t.Errorf("pi_0 = %g", st.Observed["pi_0"])
	}

	tr := got["transport_supermodular_max"]
	if tr.Observed["matches_comonotone"] != 1 {
		t.Error("supermodular plan should match the comonotone coupling")
	}
	if !within(tr.Observed["value"], tr.Observed["comonotone_value"], 1e-6) {
		t.Errorf("value %g != comonotone %g", tr.Observed["value"], tr.Observed["comonotone_value"])
	}

	if got["monotone_reversed_order"].Observed["violations"] == 0 {
		t.Error("reversed order should record a violation")
	}
	if r := got["convergence_two_state"].Observed["rate"]; !within(r, 0.2, 1e-6) {
		t.Errorf("two-state decay rate = %g, want 0.2", r)
	}
}

func TestLoadFixture_FailingExpectationIsReported(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "custom.yaml"))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	if cfg := f.Eval.ToEvalConfig(); cfg.MaxMarginalGap != 1e-7 || cfg.MaxResidual != 1e-9 {
		t.Fatalf("eval config = %+v", cfg)
	}

	results, err := Run(context.Background(), f)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := byName(results)
	if got["wrong_gap"].Passed {
		t.Fatal("wrong_gap should fail")
	}
	if !strings.Contains(got["wrong_gap"].Reason, "want 0.1") {
		t.Errorf("reason = %q", got["wrong_gap"].Reason)
	}
	if !got["min_cost"].Passed {
		t.Errorf("min_cost failed: %s", got["min_cost"].Reason)
	}
	if s := Summarize(results); s.ByKind[KindRevealGap] != 1 {
		t.Errorf("failures by kind = %v", s.ByKind)
	}
}

func TestLoadFixture_MissingFile(t *testing.T) {
	if _, err := LoadFixture(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParseFixture_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown kind":  "scenarios:\n  - name: a\n    kind: bogus\n",
		"no name":       "scenarios:\n  - kind: monotone\n",
		"duplicate":     "scenarios:\n  - name: a\n    kind: monotone\n  - name: a\n    kind: monotone\n",
		"unknown field": "scenarios:\n  - name: a\n    kind: monotone\n    colour: red\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseFixture([]byte(doc)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestRun_BadInputsAreFailedResults(t *testing.T) {
	doc := `
scenarios:
  - name: degenerate
    kind: stationary
    kernel:
      - [1, 0]
      - [0, 1]
  - name: missing_chain
    kind: reveal_gap
  - name: ragged_cost
    kind: transport
    mu: [0.5, 0.5]
    nu: [1]
    cost:
      - [1]
      - [1, 2]
  - name: short_convergence
    kind: convergence
    alpha: 0.3
    beta: 0.5
    steps: 3
`
	f, err := ParseFixture([]byte(doc))
	if err != nil {
		t.Fatalf("ParseFixture: %v", err)
	}
	results, err := Run(context.Background(), f)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, r := range results {
		if r.Passed {
			t.Errorf("%s should fail", r.Name)
		}
		if !strings.HasPrefix(r.Reason, "error (") {
			t.Errorf("%s reason = %q", r.Name, r.Reason)
		}
	}
	if !strings.Contains(byName(results)["degenerate"].Reason, fault.Kind(fault.ErrDegenerateChain)) {
		t.Errorf("degenerate reason = %q", byName(results)["degenerate"].Reason)
	}
}

func TestRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, loadDefault(t))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestDefaultFixture_MatchesEmbeddedFile(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("fixtures", "default.yaml"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	f, err := ParseFixture(data)
	if err != nil {
		t.Fatalf("ParseFixture: %v", err)
	}
	if f.Description != loadDefault(t).Description {
		t.Fatal("embedded fixture differs from file on disk")
	}
}
