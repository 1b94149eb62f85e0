// Package optimize formulates the dispatch and investment problem of a
// network as a linear (or mixed-integer) program and solves it with a
// sparse bounded dual simplex, using branch and bound for integer variables.
// The dense gonum simplex is available for small models.
package optimize

import (
	"fmt"
	"math"
)

// Sense is the direction of a constraint.
type Sense int

const (
	LE Sense = iota
	GE
	EQ
)

func (s Sense) String() string {
	switch s {
	case LE:
		return "<="
	case GE:
		return ">="
	default:
		return "="
	}
}

// Var is a decision variable with bounds and a linear cost.
type Var struct {
	Name    string
	Lower   float64
	Upper   float64
	Cost    float64
	Integer bool
}

// Term is one coefficient of a constraint row.
type Term struct {
	Var  int
	Coef float64
}

// Constraint is a sparse linear row.
type Constraint struct {
	Name  string
	Terms []Term
	Sense Sense
	RHS   float64
}

// Model is a minimization problem.
type Model struct {
	Vars        []Var
	Constraints []Constraint
}

// AddVar appends a continuous variable and returns its index.
func (m *Model) AddVar(name string, lower, upper, cost float64) int {
	m.Vars = append(m.Vars, Var{Name: name, Lower: lower, Upper: upper, Cost: cost})
	return len(m.Vars) - 1
}

// AddIntVar appends an integer variable and returns its index.
func (m *Model) AddIntVar(name string, lower, upper, cost float64) int {
	i := m.AddVar(name, lower, upper, cost)
	m.Vars[i].Integer = true
	return i
}

// AddConstraint appends a row. Zero coefficients are dropped and repeated
// variables merged.
func (m *Model) AddConstraint(name string, terms []Term, sense Sense, rhs float64) {
	merged := make([]Term, 0, len(terms))
	pos := make(map[int]int, len(terms))
	for _, t := range terms {
		if t.Coef == 0 {
			continue
		}
		if i, ok := pos[t.Var]; ok {
			merged[i].Coef += t.Coef
			continue
		}
		pos[t.Var] = len(merged)
		merged = append(merged, t)
	}
	m.Constraints = append(m.Constraints, Constraint{Name: name, Terms: merged, Sense: sense, RHS: rhs})
}

// HasIntegers reports whether any variable is integer.
func (m *Model) HasIntegers() bool {
	for _, v := range m.Vars {
		if v.Integer {
			return true
		}
	}
	return false
}

// Relaxed returns a copy of the model with integrality dropped.
func (m *Model) Relaxed() *Model {
	c := m.withVars()
	for i := range c.Vars {
		c.Vars[i].Integer = false
	}
	return c
}

// withVars copies the variable slice so bounds can change; constraints are
// shared.
func (m *Model) withVars() *Model {
	return &Model{
		Vars:        append([]Var(nil), m.Vars...),
		Constraints: m.Constraints,
	}
}

// Validate checks indices and bounds.
func (m *Model) Validate() error {
	for i, v := range m.Vars {
		if math.IsNaN(v.Lower) || math.IsNaN(v.Upper) || math.IsNaN(v.Cost) || math.IsInf(v.Cost, 0) {
			return fmt.Errorf("variable %s has invalid bounds or cost", v.Name)
		}
		if v.Lower > v.Upper {
			return fmt.Errorf("variable %d (%s): lower bound %v exceeds upper bound %v", i, v.Name, v.Lower, v.Upper)
		}
	}
	for _, c := range m.Constraints {
		if math.IsNaN(c.RHS) || math.IsInf(c.RHS, 0) {
			return fmt.Errorf("constraint %s has invalid right-hand side %v", c.Name, c.RHS)
		}
		for _, t := range c.Terms {
			if t.Var < 0 || t.Var >= len(m.Vars) {
				return fmt.Errorf("constraint %s references unknown variable %d", c.Name, t.Var)
			}
			if math.IsNaN(t.Coef) || math.IsInf(t.Coef, 0) {
				return fmt.Errorf("constraint %s has invalid coefficient for %s", c.Name, m.Vars[t.Var].Name)
			}
		}
	}
	return nil
}

// Objective evaluates the cost of x.
func (m *Model) Objective(x []float64) float64 {
	var f float64
	for i, v := range m.Vars {
		f += v.Cost * x[i]
	}
	return f
}

// Violation returns the largest bound or row violation of x.
func (m *Model) Violation(x []float64) float64 {
	var worst float64
	for i, v := range m.Vars {
		worst = math.Max(worst, v.Lower-x[i])
		worst = math.Max(worst, x[i]-v.Upper)
	}
	for _, c := range m.Constraints {
		var lhs float64
		for _, t := range c.Terms {
			lhs += t.Coef * x[t.Var]
		}
		switch c.Sense {
		case LE:
			worst = math.Max(worst, lhs-c.RHS)
		case GE:
			worst = math.Max(worst, c.RHS-lhs)
		case EQ:
			worst = math.Max(worst, math.Abs(lhs-c.RHS))
		}
	}
	return worst
}
