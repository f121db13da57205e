package experiment

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/danielpatrickdp/reputation-markov/go-verifier/internal/fault"
	"gonum.org/v1/gonum/floats"
)

// Point is one parameter tuple of a sweep.
type Point struct {
	Index  int
	Names  []string
	Values []float64
}

// Get returns the value bound to name.
func (p Point) Get(name string) (float64, bool) {
	for i, n := range p.Names {
		if n == name {
			return p.Values[i], true
		}
	}
	return 0, false
}

// Require is Get that reports a missing name as an invalid parameter.
func (p Point) Require(name string) (float64, error) {
	v, ok := p.Get(name)
	if !ok {
		return 0, fmt.Errorf("point %d has no parameter %q: %w", p.Index, name, fault.ErrInvalidParameter)
	}
	return v, nil
}

func (p Point) String() string {
	parts := make([]string, len(p.Names))
	for i, n := range p.Names {
		parts[i] = n + "=" + strconv.FormatFloat(p.Values[i], 'g', 6, 64)
	}
	return strings.Join(parts, ",")
}

// Linspace returns n evenly spaced values from lo to hi inclusive.
func Linspace(lo, hi float64, n int) []float64 {
	switch {
	case n <= 0:
		return nil
	case n == 1:
		return []float64{lo}
	}
	return floats.Span(make([]float64, n), lo, hi)
}

// Grid is a Cartesian product of named axes.
type Grid struct {
	Names []string
	Axes  [][]float64
}

// Points enumerates the product with the last axis varying fastest.
func (g Grid) Points() ([]Point, error) {
	if len(g.Names) == 0 || len(g.Names) != len(g.Axes) {
		return nil, fmt.Errorf("grid has %d names and %d axes: %w", len(g.Names), len(g.Axes), fault.ErrInvalidParameter)
	}
	total := 1
	for i, axis := range g.Axes {
		if len(axis) == 0 {
			return nil, fmt.Errorf("axis %q is empty: %w", g.Names[i], fault.ErrInvalidParameter)
		}
		total *= len(axis)
	}

	points := make([]Point, total)
	idx := make([]int, len(g.Axes))
	for k := range points {
		values := make([]float64, len(g.Axes))
		for d, axis := range g.Axes {
			values[d] = axis[idx[d]]
		}
		points[k] = Point{Index: k, Names: g.Names, Values: values}
		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < len(g.Axes[d]) {
				break
			}
			idx[d] = 0
		}
	}
	return points, nil
}

// List builds points from explicit tuples.
func List(names []string, tuples [][]float64) ([]Point, error) {
	points := make([]Point, len(tuples))
	for k, tuple := range tuples {
		if len(tuple) != len(names) {
			return nil, fmt.Errorf("tuple %d has %d values for %d names: %w", k, len(tuple), len(names), fault.ErrInvalidParameter)
		}
		points[k] = Point{Index: k, Names: names, Values: append([]float64(nil), tuple...)}
	}
	return points, nil
}
