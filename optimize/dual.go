package optimize

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/optimize/convex/lp"
)

// Tolerances of the sparse dual simplex.
const (
	primalTol = 1e-7
	pivotTol  = 1e-9
	// boxStart is the first artificial bound given to variables whose cost
	// pushes them towards an infinite bound.
	boxStart = 1e7
	boxLimit = 1e13
)

// errWiden asks for a larger artificial box.
var errWiden = errors.New("artificial bound reached")

type varStatus int8

const (
	basic varStatus = iota
	atLower
	atUpper
	atZero // nonbasic free variable
	fixed
)

// sparseLP is a model in computational form: A·x - r = 0 with bounds on the
// structural columns x and the row activities r. Column n+i is the logical
// of row i.
type sparseLP struct {
	m, n int

	colStart []int
	colRow   []int
	colVal   []float64
	rowStart []int
	rowCol   []int
	rowVal   []float64

	lower, upper, cost []float64
}

// newSparseLP converts m. Empty rows are checked and dropped; with presolve
// set, single-variable rows become bounds.
func newSparseLP(m *Model, presolve bool) (*sparseLP, error) {
	n := len(m.Vars)
	p := &sparseLP{
		n:     n,
		lower: make([]float64, n),
		upper: make([]float64, n),
		cost:  make([]float64, n),
	}
	for j, v := range m.Vars {
		p.lower[j], p.upper[j], p.cost[j] = v.Lower, v.Upper, v.Cost
	}

	var rowLo, rowHi []float64
	p.rowStart = []int{0}
	for _, c := range m.Constraints {
		lo, hi := math.Inf(-1), math.Inf(1)
		switch c.Sense {
		case LE:
			hi = c.RHS
		case GE:
			lo = c.RHS
		default:
			lo, hi = c.RHS, c.RHS
		}
		if len(c.Terms) == 0 {
			if !emptyRowFeasible(row{sense: c.Sense, rhs: c.RHS}) {
				return nil, fmt.Errorf("constraint %s cannot hold with all variables fixed: %w", c.Name, lp.ErrInfeasible)
			}
			continue
		}
		if presolve && len(c.Terms) == 1 {
			t := c.Terms[0]
			lo, hi = lo/t.Coef, hi/t.Coef
			if t.Coef < 0 {
				lo, hi = hi, lo
			}
			p.lower[t.Var] = math.Max(p.lower[t.Var], lo)
			p.upper[t.Var] = math.Min(p.upper[t.Var], hi)
			if p.lower[t.Var] > p.upper[t.Var]+primalTol*math.Max(1, math.Abs(p.upper[t.Var])) {
				return nil, fmt.Errorf("constraint %s conflicts with the bounds of %s: %w", c.Name, m.Vars[t.Var].Name, lp.ErrInfeasible)
			}
			if p.lower[t.Var] > p.upper[t.Var] {
				p.lower[t.Var] = p.upper[t.Var]
			}
			continue
		}
		for _, t := range c.Terms {
			p.rowCol = append(p.rowCol, t.Var)
			p.rowVal = append(p.rowVal, t.Coef)
		}
		p.rowStart = append(p.rowStart, len(p.rowCol))
		rowLo = append(rowLo, lo)
		rowHi = append(rowHi, hi)
	}
	p.m = len(rowLo)
	p.lower = append(p.lower, rowLo...)
	p.upper = append(p.upper, rowHi...)
	p.cost = append(p.cost, make([]float64, p.m)...)

	// column copy
	p.colStart = make([]int, n+1)
	for _, j := range p.rowCol {
		p.colStart[j+1]++
	}
	for j := 0; j < n; j++ {
		p.colStart[j+1] += p.colStart[j]
	}
	p.colRow = make([]int, len(p.rowCol))
	p.colVal = make([]float64, len(p.rowCol))
	next := append([]int(nil), p.colStart[:n]...)
	for i := 0; i < p.m; i++ {
		for e := p.rowStart[i]; e < p.rowStart[i+1]; e++ {
			j := p.rowCol[e]
			p.colRow[next[j]] = i
			p.colVal[next[j]] = p.rowVal[e]
			next[j]++
		}
	}

	for j := 0; j < n; j++ {
		if p.colStart[j] != p.colStart[j+1] {
			continue
		}
		if (p.cost[j] > 0 && math.IsInf(p.lower[j], -1)) || (p.cost[j] < 0 && math.IsInf(p.upper[j], 1)) {
			return nil, fmt.Errorf("variable %s without constraints decreases the objective without bound: %w", m.Vars[j].Name, lp.ErrUnbounded)
		}
	}
	return p, nil
}

// dualSimplex runs the bounded dual simplex method on a sparseLP, starting
// from the all-logical basis. Variables whose cost would push them to an
// infinite bound get an artificial box that is widened until it no longer
// binds.
type dualSimplex struct {
	*sparseLP
	dualTol float64
	box     float64

	lo, hi     []float64 // working bounds, artificial ones included
	artificial []bool
	c          []float64 // working costs, shifted to repair dual infeasibility

	x      []float64
	d      []float64
	status []varStatus
	basis  []int // basis position -> column
	weight []float64
	lu     *luFactor

	// scratch
	byRow, byPos, rho, alphaCol, tau []float64
	alphaRow                         []float64
	inRow                            []bool
	touched                          []int
	cands                            []candidate

	iterations int
}

type candidate struct {
	j     int
	alpha float64 // signed so that eligible moves are negative at lower
	ratio float64
}

// solveSparse solves the continuous relaxation of m with the sparse dual
// simplex. Integrality is ignored.
func solveSparse(ctx context.Context, m *Model, tol float64, presolve bool) (float64, []float64, error) {
	p, err := newSparseLP(m, presolve)
	if err != nil {
		return 0, nil, err
	}
	for box := boxStart; ; box *= 1e3 {
		s := newDualSimplex(p, tol, box)
		err := s.run(ctx)
		if errors.Is(err, errWiden) {
			if box*1e3 <= boxLimit {
				continue
			}
			if s.optimal() {
				return 0, nil, fmt.Errorf("objective decreases without bound: %w", lp.ErrUnbounded)
			}
			return 0, nil, fmt.Errorf("no feasible point: %w", lp.ErrInfeasible)
		}
		if err != nil {
			return 0, nil, err
		}
		x := append([]float64(nil), s.x[:p.n]...)
		return m.Objective(x), x, nil
	}
}

func newDualSimplex(p *sparseLP, tol float64, box float64) *dualSimplex {
	total := p.n + p.m
	s := &dualSimplex{
		sparseLP:   p,
		dualTol:    tol,
		box:        box,
		lo:         append([]float64(nil), p.lower...),
		hi:         append([]float64(nil), p.upper...),
		artificial: make([]bool, total),
		c:          append([]float64(nil), p.cost...),
		x:          make([]float64, total),
		d:          make([]float64, total),
		status:     make([]varStatus, total),
		basis:      make([]int, p.m),
		weight:     make([]float64, p.m),
		lu:         newLUFactor(p.m),
		byRow:      make([]float64, p.m),
		byPos:      make([]float64, p.m),
		rho:        make([]float64, p.m),
		alphaCol:   make([]float64, p.m),
		tau:        make([]float64, p.m),
		alphaRow:   make([]float64, total),
		inRow:      make([]bool, total),
	}
	for i := 0; i < p.m; i++ {
		s.basis[i] = p.n + i
		s.weight[i] = 1
	}
	for j := 0; j < p.n; j++ {
		s.place(j)
	}
	return s
}

// place makes structural j nonbasic at the bound its cost favours.
func (s *dualSimplex) place(j int) {
	lo, hi, c := s.lo[j], s.hi[j], s.c[j]
	switch {
	case lo == hi:
		s.status[j], s.x[j] = fixed, lo
	case c > 0 && !math.IsInf(lo, -1), c == 0 && !math.IsInf(lo, -1):
		s.status[j], s.x[j] = atLower, lo
	case c < 0 && !math.IsInf(hi, 1), c == 0 && !math.IsInf(hi, 1):
		s.status[j], s.x[j] = atUpper, hi
	case c == 0:
		s.status[j], s.x[j] = atZero, 0
	case c > 0:
		s.lo[j] = math.Min(hi, 0) - s.box
		s.artificial[j] = true
		s.status[j], s.x[j] = atLower, s.lo[j]
	default:
		s.hi[j] = math.Max(lo, 0) + s.box
		s.artificial[j] = true
		s.status[j], s.x[j] = atUpper, s.hi[j]
	}
}

func (s *dualSimplex) column(j int) ([]int, []float64) {
	if j >= s.n {
		return []int{j - s.n}, []float64{-1}
	}
	return s.colRow[s.colStart[j]:s.colStart[j+1]], s.colVal[s.colStart[j]:s.colStart[j+1]]
}

// scatter adds v·a_j to a row-indexed vector.
func (s *dualSimplex) scatter(out []float64, j int, v float64) {
	if j >= s.n {
		out[j-s.n] -= v
		return
	}
	for e := s.colStart[j]; e < s.colStart[j+1]; e++ {
		out[s.colRow[e]] += v * s.colVal[e]
	}
}

// dot returns a_jᵀ·y for a row-indexed y.
func (s *dualSimplex) dot(j int, y []float64) float64 {
	if j >= s.n {
		return -y[j-s.n]
	}
	var v float64
	for e := s.colStart[j]; e < s.colStart[j+1]; e++ {
		v += s.colVal[e] * y[s.colRow[e]]
	}
	return v
}

func (s *dualSimplex) boxed(j int) bool {
	return !s.artificial[j] && !math.IsInf(s.lo[j], -1) && !math.IsInf(s.hi[j], 1)
}

func feasTol(bound float64) float64 {
	return primalTol * math.Max(1, math.Abs(bound))
}

// infeasibility returns how far basic position k lies outside its bounds,
// negative below the lower bound.
func (s *dualSimplex) infeasibility(k int) float64 {
	j := s.basis[k]
	v := s.x[j]
	if v < s.lo[j]-feasTol(s.lo[j]) {
		return v - s.lo[j]
	}
	if v > s.hi[j]+feasTol(s.hi[j]) {
		return v - s.hi[j]
	}
	return 0
}

func (s *dualSimplex) optimal() bool {
	for k := range s.basis {
		if s.infeasibility(k) != 0 {
			return false
		}
	}
	return true
}

func (s *dualSimplex) run(ctx context.Context) error {
	if err := s.refactor(); err != nil {
		return err
	}
	limit := 50*(s.m+s.n) + 1000
	for {
		if s.iterations%100 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if s.iterations > limit {
			return fmt.Errorf("dual simplex stopped after %d iterations", s.iterations)
		}
		if s.lu.stale() {
			if err := s.refactor(); err != nil {
				return err
			}
		}

		r := s.leavingRow()
		if r < 0 {
			return s.checkBox()
		}
		if err := s.pivot(r); err != nil {
			return err
		}
		s.iterations++
	}
}

// checkBox reports errWiden when an optimal solution rests on an artificial
// bound that still pulls the objective down.
func (s *dualSimplex) checkBox() error {
	for j := 0; j < s.n; j++ {
		if !s.artificial[j] || s.status[j] == basic {
			continue
		}
		if math.Abs(s.d[j]) > s.dualTol {
			return errWiden
		}
	}
	return nil
}

// leavingRow picks the basic position with the largest infeasibility
// relative to its dual steepest-edge weight, or -1 when primal feasible.
func (s *dualSimplex) leavingRow() int {
	r, best := -1, 0.0
	for k := range s.basis {
		inf := s.infeasibility(k)
		if inf == 0 {
			continue
		}
		if score := inf * inf / s.weight[k]; score > best {
			r, best = k, score
		}
	}
	return r
}

// computeRow sets alphaRow[j] = ρᵀ·a_j for every nonbasic column touched by
// a nonzero of ρ.
func (s *dualSimplex) computeRow() {
	for _, j := range s.touched {
		s.inRow[j] = false
		s.alphaRow[j] = 0
	}
	s.touched = s.touched[:0]
	add := func(j int, v float64) {
		if s.status[j] == basic {
			return
		}
		if !s.inRow[j] {
			s.inRow[j] = true
			s.touched = append(s.touched, j)
		}
		s.alphaRow[j] += v
	}
	for i, ri := range s.rho {
		if ri == 0 {
			continue
		}
		for e := s.rowStart[i]; e < s.rowStart[i+1]; e++ {
			add(s.rowCol[e], ri*s.rowVal[e])
		}
		add(s.n+i, -ri)
	}
}

// pivot performs one dual iteration with basic position r leaving.
func (s *dualSimplex) pivot(r int) error {
	leave := s.basis[r]
	sgn, target := 1.0, s.lo[leave]
	if s.x[leave] > s.hi[leave] {
		sgn, target = -1, s.hi[leave]
	}
	slope := math.Abs(s.x[leave] - target)

	clear(s.byPos)
	s.byPos[r] = 1
	s.lu.btran(s.byPos, s.rho)
	s.computeRow()

	s.cands = s.cands[:0]
	for _, j := range s.touched {
		a := sgn * s.alphaRow[j]
		if math.Abs(a) <= pivotTol {
			continue
		}
		var room float64
		switch s.status[j] {
		case atLower:
			if a >= 0 {
				continue
			}
			room = math.Max(s.d[j], 0)
		case atUpper:
			if a <= 0 {
				continue
			}
			room = math.Max(-s.d[j], 0)
		case atZero:
			room = math.Abs(s.d[j])
		default:
			continue
		}
		s.cands = append(s.cands, candidate{j: j, alpha: a, ratio: room / math.Abs(a)})
	}
	sort.Slice(s.cands, func(a, b int) bool {
		ca, cb := s.cands[a], s.cands[b]
		if ca.ratio != cb.ratio {
			return ca.ratio < cb.ratio
		}
		return math.Abs(ca.alpha) > math.Abs(cb.alpha)
	})

	// bound flipping: pass breakpoints of boxed columns while the leaving
	// row stays infeasible
	pick := -1
	flips := 0
	for k, c := range s.cands {
		if s.boxed(c.j) {
			if drop := math.Abs(c.alpha) * (s.hi[c.j] - s.lo[c.j]); slope-drop > 0 {
				slope -= drop
				flips++
				continue
			}
		}
		pick = k
		break
	}
	if pick < 0 {
		for _, j := range s.touched {
			if s.artificial[j] && math.Abs(s.alphaRow[j]) > pivotTol {
				return errWiden
			}
		}
		return fmt.Errorf("row %d cannot be satisfied: %w", r, lp.ErrInfeasible)
	}

	// among near ties prefer the largest pivot
	limit := math.Inf(1)
	for _, c := range s.cands[pick:] {
		room := c.ratio * math.Abs(c.alpha)
		limit = math.Min(limit, (room+s.dualTol)/math.Abs(c.alpha))
	}
	q := pick
	for k := pick + 1; k < len(s.cands); k++ {
		if c := s.cands[k]; c.ratio <= limit && math.Abs(c.alpha) > math.Abs(s.cands[q].alpha) {
			q = k
		}
	}
	enter := s.cands[q].j
	step := s.cands[q].ratio

	// entering column in the current basis
	clear(s.byRow)
	s.scatter(s.byRow, enter, 1)
	s.lu.ftran(s.byRow, s.alphaCol)
	pivotVal := s.alphaCol[r]
	drifted := math.Abs(pivotVal-s.alphaRow[enter]) > 1e-6*(1+math.Abs(pivotVal))
	if (drifted || math.Abs(pivotVal) <= pivotTol) && len(s.lu.etas) > 0 {
		// start the iteration again from a fresh factorization
		return s.refactor()
	}
	if math.Abs(pivotVal) <= pivotTol {
		return fmt.Errorf("pivot %g on row %d is numerically zero", pivotVal, r)
	}

	// duals
	if step != 0 {
		for _, j := range s.touched {
			s.d[j] += sgn * step * s.alphaRow[j]
		}
	}
	s.d[enter] = 0
	s.d[leave] = sgn * step

	// bound flips of the passed breakpoints
	if flips > 0 {
		clear(s.byRow)
		for _, c := range s.cands[:pick] {
			j := c.j
			old := s.x[j]
			if s.status[j] == atLower {
				s.status[j], s.x[j] = atUpper, s.hi[j]
			} else {
				s.status[j], s.x[j] = atLower, s.lo[j]
			}
			s.scatter(s.byRow, j, s.x[j]-old)
		}
		s.lu.ftran(s.byRow, s.byPos)
		for k, v := range s.byPos {
			if v != 0 {
				s.x[s.basis[k]] -= v
			}
		}
	}

	// primal step
	theta := (s.x[leave] - target) / pivotVal
	for k, v := range s.alphaCol {
		if v != 0 {
			s.x[s.basis[k]] -= theta * v
		}
	}
	s.x[enter] += theta

	// steepest-edge weights
	s.lu.ftran(s.rho, s.tau)
	var wr float64
	for _, v := range s.rho {
		wr += v * v
	}
	for k, v := range s.alphaCol {
		if k == r || v == 0 {
			continue
		}
		kappa := v / pivotVal
		s.weight[k] = math.Max(s.weight[k]-2*kappa*s.tau[k]+kappa*kappa*wr, 1e-8)
	}
	s.weight[r] = math.Max(wr/(pivotVal*pivotVal), 1e-8)

	s.lu.update(r, s.alphaCol)
	s.basis[r] = enter
	s.status[enter] = basic
	s.x[leave] = target
	switch {
	case s.lo[leave] == s.hi[leave]:
		s.status[leave] = fixed
	case sgn > 0:
		s.status[leave] = atLower
	default:
		s.status[leave] = atUpper
	}
	return nil
}

// refactor factorizes the basis, replacing dependent columns by logicals,
// and recomputes duals and primal values from scratch.
func (s *dualSimplex) refactor() error {
	for attempt := 0; ; attempt++ {
		singular, freeRows := s.lu.factorize(func(k int) ([]int, []float64) { return s.column(s.basis[k]) })
		if len(singular) == 0 {
			break
		}
		if attempt == 3 {
			return errors.New("basis stays singular after repair")
		}
		for t, k := range singular {
			s.release(s.basis[k])
			lg := s.n + freeRows[t]
			s.basis[k] = lg
			s.status[lg] = basic
			s.weight[k] = 1
		}
	}
	s.computeDuals()
	s.computePrimal()
	return nil
}

// release makes a column that dropped out of the basis nonbasic at its
// nearest bound.
func (s *dualSimplex) release(j int) {
	lo, hi, v := s.lo[j], s.hi[j], s.x[j]
	switch {
	case lo == hi:
		s.status[j], s.x[j] = fixed, lo
	case math.IsInf(lo, -1) && math.IsInf(hi, 1):
		s.status[j] = atZero
	case math.IsInf(hi, 1) || (!math.IsInf(lo, -1) && v-lo <= hi-v):
		s.status[j], s.x[j] = atLower, lo
	default:
		s.status[j], s.x[j] = atUpper, hi
	}
}

// computeDuals sets d = c - Aᵀy with Bᵀy = c_B. Sign violations beyond the
// tolerance are repaired by flipping boxed columns or shifting costs.
func (s *dualSimplex) computeDuals() {
	for k, j := range s.basis {
		s.byPos[k] = s.c[j]
	}
	s.lu.btran(s.byPos, s.rho)
	for j := range s.status {
		if s.status[j] == basic {
			s.d[j] = 0
			continue
		}
		s.d[j] = s.c[j] - s.dot(j, s.rho)
		switch s.status[j] {
		case atLower:
			if s.d[j] < -s.dualTol {
				if s.boxed(j) {
					s.status[j], s.x[j] = atUpper, s.hi[j]
				} else {
					s.c[j] -= s.d[j]
					s.d[j] = 0
				}
			}
		case atUpper:
			if s.d[j] > s.dualTol {
				if s.boxed(j) {
					s.status[j], s.x[j] = atLower, s.lo[j]
				} else {
					s.c[j] -= s.d[j]
					s.d[j] = 0
				}
			}
		case atZero:
			if math.Abs(s.d[j]) > s.dualTol {
				s.c[j] -= s.d[j]
				s.d[j] = 0
			}
		}
	}
}

// computePrimal sets the basic values from B·x_B = -N·x_N.
func (s *dualSimplex) computePrimal() {
	clear(s.byRow)
	for j, st := range s.status {
		if st != basic && s.x[j] != 0 {
			s.scatter(s.byRow, j, s.x[j])
		}
	}
	s.lu.ftran(s.byRow, s.byPos)
	for k, j := range s.basis {
		s.x[j] = -s.byPos[k]
	}
}
