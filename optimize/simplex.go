package optimize

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// errOverdetermined marks a standard form with more rows than columns,
// which the simplex rejects.
var errOverdetermined = errors.New("more equality rows than columns")

type entry struct {
	col  int
	coef float64
}

type row struct {
	entries []entry
	sense   Sense
	rhs     float64
}

// varMap expresses an original variable through standard-form columns:
// x = offset + x[pos] - x[neg]. Absent columns are -1.
type varMap struct {
	offset float64
	pos    int
	neg    int
}

type standardForm struct {
	c    []float64
	a    *mat.Dense
	b    []float64
	vars []varMap
}

// buildStandard converts m into min cᵀx, Ax = b, x >= 0. Finite lower bounds
// are shifted out, upper-only variables are mirrored, free variables split,
// and finite upper bounds become rows. Empty rows are checked and dropped;
// empty columns are fixed at zero (or reported unbounded).
func buildStandard(m *Model, splitEq, presolve bool) (*standardForm, error) {
	sf := &standardForm{vars: make([]varMap, len(m.Vars))}
	var costs []float64
	newCol := func(cost float64) int {
		costs = append(costs, cost)
		return len(costs) - 1
	}

	var rows []row
	for j, v := range m.Vars {
		vm := varMap{pos: -1, neg: -1}
		lo, hi := v.Lower, v.Upper
		switch {
		case presolve && lo == hi && !math.IsInf(lo, 0):
			vm.offset = lo
		case !math.IsInf(lo, -1):
			vm.offset = lo
			vm.pos = newCol(v.Cost)
			if !math.IsInf(hi, 1) {
				rows = append(rows, row{entries: []entry{{vm.pos, 1}}, sense: LE, rhs: hi - lo})
			}
		case !math.IsInf(hi, 1):
			vm.offset = hi
			vm.neg = newCol(-v.Cost)
		default:
			vm.pos = newCol(v.Cost)
			vm.neg = newCol(-v.Cost)
		}
		sf.vars[j] = vm
	}

	for _, c := range m.Constraints {
		r := row{sense: c.Sense, rhs: c.RHS}
		for _, t := range c.Terms {
			vm := sf.vars[t.Var]
			r.rhs -= t.Coef * vm.offset
			if vm.pos >= 0 {
				r.entries = append(r.entries, entry{vm.pos, t.Coef})
			}
			if vm.neg >= 0 {
				r.entries = append(r.entries, entry{vm.neg, -t.Coef})
			}
		}

		if len(r.entries) == 0 {
			if !emptyRowFeasible(r) {
				return nil, fmt.Errorf("constraint %s cannot hold with all variables fixed: %w", c.Name, lp.ErrInfeasible)
			}
			continue
		}
		if splitEq && r.sense == EQ {
			rows = append(rows, row{entries: r.entries, sense: LE, rhs: r.rhs}, row{entries: r.entries, sense: GE, rhs: r.rhs})
			continue
		}
		rows = append(rows, r)
	}

	// compact structural columns that appear in no row
	used := make([]bool, len(costs))
	for _, r := range rows {
		for _, e := range r.entries {
			used[e.col] = true
		}
	}
	remap := make([]int, len(costs))
	var c []float64
	for j, u := range used {
		if !u {
			if costs[j] < 0 {
				return nil, fmt.Errorf("variable without constraints has negative cost: %w", lp.ErrUnbounded)
			}
			remap[j] = -1
			continue
		}
		remap[j] = len(c)
		c = append(c, costs[j])
	}
	for j := range sf.vars {
		if p := sf.vars[j].pos; p >= 0 {
			sf.vars[j].pos = remap[p]
		}
		if n := sf.vars[j].neg; n >= 0 {
			sf.vars[j].neg = remap[n]
		}
	}

	structural := len(c)
	for _, r := range rows {
		if r.sense != EQ {
			c = append(c, 0)
		}
	}

	rowsN, colsN := len(rows), len(c)
	sf.c = c
	sf.b = make([]float64, rowsN)
	if rowsN == 0 {
		return sf, nil
	}
	if rowsN > colsN {
		return nil, errOverdetermined
	}

	sf.a = mat.NewDense(rowsN, colsN, nil)
	slack := structural
	for i, r := range rows {
		for _, e := range r.entries {
			col := remap[e.col]
			sf.a.Set(i, col, sf.a.At(i, col)+e.coef)
		}
		switch r.sense {
		case LE:
			sf.a.Set(i, slack, 1)
			slack++
		case GE:
			sf.a.Set(i, slack, -1)
			slack++
		}
		sf.b[i] = r.rhs
	}
	return sf, nil
}

func emptyRowFeasible(r row) bool {
	tol := 1e-9 * math.Max(1, math.Abs(r.rhs))
	switch r.sense {
	case LE:
		return 0 <= r.rhs+tol
	case GE:
		return 0 >= r.rhs-tol
	default:
		return math.Abs(r.rhs) <= tol
	}
}

// denseCells estimates the size of the dense standard form of m.
func denseCells(m *Model) int {
	rows, cols := len(m.Constraints), len(m.Vars)+len(m.Constraints)
	for _, v := range m.Vars {
		if !math.IsInf(v.Upper, 1) && !math.IsInf(v.Lower, -1) {
			rows++
			cols++
		}
	}
	return rows * cols
}

// solveDense solves the continuous relaxation of m with the dense gonum
// simplex. Integrality is ignored.
func solveDense(m *Model, tol float64, presolve bool) (float64, []float64, error) {
	f, x, err := solveStandard(m, false, tol, presolve)
	if retryable(err) {
		// splitting equalities gives every row its own slack column, which
		// guarantees full row rank
		f, x, err = solveStandard(m, true, tol, presolve)
	}
	return f, x, err
}

func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errOverdetermined) || errors.Is(err, lp.ErrSingular) ||
		errors.Is(err, lp.ErrLinSolve) || errors.Is(err, lp.ErrBland) {
		return true
	}
	// phase one failures are returned as plain text
	return strings.Contains(err.Error(), "finding feasible basis")
}

func solveStandard(m *Model, splitEq bool, tol float64, presolve bool) (f float64, x []float64, err error) {
	sf, err := buildStandard(m, splitEq, presolve)
	if err != nil {
		return 0, nil, err
	}

	var opt []float64
	if sf.a != nil {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("simplex failed: %v", r)
			}
		}()
		_, opt, err = lp.Simplex(sf.c, sf.a, sf.b, tol, nil)
		if err != nil {
			return 0, nil, fmt.Errorf("simplex failed: %w", err)
		}
	}

	x = make([]float64, len(m.Vars))
	for j, vm := range sf.vars {
		x[j] = vm.offset
		if vm.pos >= 0 {
			x[j] += opt[vm.pos]
		}
		if vm.neg >= 0 {
			x[j] -= opt[vm.neg]
		}
	}
	return m.Objective(x), x, nil
}
