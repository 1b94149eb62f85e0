package optimize

import (
	"math"
	"sort"
)

// pivotZero is the magnitude below which a factorization pivot is treated
// as zero.
const pivotZero = 1e-11

// luFactor is a sparse LU factorization of a basis matrix followed by
// product-form updates: P·B₀·Q = L·U and B = B₀·E₁·…·Eₖ. Columns of B are
// basis positions; rows are constraint rows.
type luFactor struct {
	m int

	// L is unit lower triangular, by column, diagonal implied. Indices are
	// pivot positions.
	lStart []int
	lIdx   []int
	lVal   []float64

	// U is upper triangular, by column, diagonal kept apart.
	uStart []int
	uIdx   []int
	uVal   []float64
	uDiag  []float64

	pinv []int // row -> pivot position
	perm []int // pivot position -> row
	q    []int // pivot position -> basis position

	etas   []eta
	etaNNZ int

	w []float64 // scratch indexed by pivot position
}

// eta replaces basis position pos by a column whose representation in the
// previous basis is pivot at pos and val at idx.
type eta struct {
	pos   int
	pivot float64
	idx   []int
	val   []float64
}

func newLUFactor(m int) *luFactor {
	return &luFactor{m: m, w: make([]float64, m)}
}

// factorize computes L and U for the columns returned by column, one per
// basis position. Columns of fewest entries are eliminated first and pivots
// are chosen by threshold partial pivoting, preferring sparse rows.
// Dependent columns are reported by basis position together with the rows
// left without a pivot; the factorization is unusable in that case.
func (f *luFactor) factorize(column func(k int) ([]int, []float64)) (singular, freeRows []int) {
	m := f.m
	order := make([]int, m)
	counts := make([]int, m)
	rowCount := make([]int, m)
	for k := range order {
		order[k] = k
		idx, _ := column(k)
		counts[k] = len(idx)
		for _, i := range idx {
			rowCount[i]++
		}
	}
	sort.SliceStable(order, func(a, b int) bool { return counts[order[a]] < counts[order[b]] })

	pinv := make([]int, m)
	for i := range pinv {
		pinv[i] = -1
	}
	x := make([]float64, m)
	xi := make([]int, m)
	stack := make([]int, m)
	pstack := make([]int, m)
	mark := make([]int, m)
	stamp := 0

	lStart := make([]int, 1, m+1)
	uStart := make([]int, 1, m+1)
	var lIdx, uIdx []int
	var lVal, uVal []float64
	uDiag := make([]float64, 0, m)
	q := make([]int, 0, m)

	// dfs pushes the rows reachable from j through the columns of L built
	// so far onto xi[top:] in topological order.
	dfs := func(j, top int) int {
		head := 0
		stack[0] = j
		for head >= 0 {
			j := stack[head]
			jp := pinv[j]
			if mark[j] != stamp {
				mark[j] = stamp
				if jp >= 0 {
					pstack[head] = lStart[jp]
				}
			}
			done := true
			if jp >= 0 {
				end := lStart[jp+1]
				for p := pstack[head]; p < end; p++ {
					i := lIdx[p]
					if mark[i] == stamp {
						continue
					}
					pstack[head] = p + 1
					head++
					stack[head] = i
					done = false
					break
				}
			}
			if done {
				head--
				top--
				xi[top] = j
			}
		}
		return top
	}

	for _, col := range order {
		idx, val := column(col)
		stamp++
		top := m
		for _, i := range idx {
			if mark[i] != stamp {
				top = dfs(i, top)
			}
		}
		for p := top; p < m; p++ {
			x[xi[p]] = 0
		}
		for t, i := range idx {
			x[i] = val[t]
		}
		for p := top; p < m; p++ {
			j := xi[p]
			jp := pinv[j]
			if jp < 0 || x[j] == 0 {
				continue
			}
			xj := x[j]
			for e := lStart[jp]; e < lStart[jp+1]; e++ {
				x[lIdx[e]] -= lVal[e] * xj
			}
		}

		var largest float64
		for p := top; p < m; p++ {
			if i := xi[p]; pinv[i] < 0 {
				largest = math.Max(largest, math.Abs(x[i]))
			}
		}
		if largest <= pivotZero {
			singular = append(singular, col)
			for p := top; p < m; p++ {
				x[xi[p]] = 0
			}
			continue
		}
		ipiv := -1
		for p := top; p < m; p++ {
			i := xi[p]
			if pinv[i] >= 0 || math.Abs(x[i]) < 0.1*largest {
				continue
			}
			if ipiv < 0 || rowCount[i] < rowCount[ipiv] ||
				(rowCount[i] == rowCount[ipiv] && math.Abs(x[i]) > math.Abs(x[ipiv])) {
				ipiv = i
			}
		}

		k := len(q)
		pivot := x[ipiv]
		for p := top; p < m; p++ {
			i := xi[p]
			if jp := pinv[i]; jp >= 0 && x[i] != 0 {
				uIdx = append(uIdx, jp)
				uVal = append(uVal, x[i])
			}
		}
		uStart = append(uStart, len(uIdx))
		uDiag = append(uDiag, pivot)
		pinv[ipiv] = k
		for p := top; p < m; p++ {
			i := xi[p]
			if pinv[i] < 0 && x[i] != 0 {
				lIdx = append(lIdx, i)
				lVal = append(lVal, x[i]/pivot)
			}
			x[i] = 0
		}
		lStart = append(lStart, len(lIdx))
		q = append(q, col)
	}

	if len(singular) > 0 {
		for i, p := range pinv {
			if p < 0 {
				freeRows = append(freeRows, i)
			}
		}
		return singular, freeRows
	}

	for e, i := range lIdx {
		lIdx[e] = pinv[i]
	}
	perm := make([]int, m)
	for i, p := range pinv {
		perm[p] = i
	}
	f.lStart, f.lIdx, f.lVal = lStart, lIdx, lVal
	f.uStart, f.uIdx, f.uVal, f.uDiag = uStart, uIdx, uVal, uDiag
	f.pinv, f.perm, f.q = pinv, perm, q
	f.etas = f.etas[:0]
	f.etaNNZ = 0
	return nil, nil
}

// ftran solves B·out = rhs. rhs is indexed by row, out by basis position.
func (f *luFactor) ftran(rhs, out []float64) {
	w := f.w
	for k := range w {
		w[k] = rhs[f.perm[k]]
	}
	for k := 0; k < f.m; k++ {
		wk := w[k]
		if wk == 0 {
			continue
		}
		for e := f.lStart[k]; e < f.lStart[k+1]; e++ {
			w[f.lIdx[e]] -= f.lVal[e] * wk
		}
	}
	for k := f.m - 1; k >= 0; k-- {
		if w[k] == 0 {
			continue
		}
		w[k] /= f.uDiag[k]
		wk := w[k]
		for e := f.uStart[k]; e < f.uStart[k+1]; e++ {
			w[f.uIdx[e]] -= f.uVal[e] * wk
		}
	}
	for k, pos := range f.q {
		out[pos] = w[k]
	}
	for _, et := range f.etas {
		v := out[et.pos]
		if v == 0 {
			continue
		}
		v /= et.pivot
		out[et.pos] = v
		for t, i := range et.idx {
			out[i] -= et.val[t] * v
		}
	}
}

// btran solves Bᵀ·out = rhs. rhs is indexed by basis position and is
// overwritten; out is indexed by row.
func (f *luFactor) btran(rhs, out []float64) {
	for e := len(f.etas) - 1; e >= 0; e-- {
		et := &f.etas[e]
		s := rhs[et.pos]
		for t, i := range et.idx {
			s -= et.val[t] * rhs[i]
		}
		rhs[et.pos] = s / et.pivot
	}
	w := f.w
	for k, pos := range f.q {
		w[k] = rhs[pos]
	}
	for k := 0; k < f.m; k++ {
		s := w[k]
		for e := f.uStart[k]; e < f.uStart[k+1]; e++ {
			s -= f.uVal[e] * w[f.uIdx[e]]
		}
		w[k] = s / f.uDiag[k]
	}
	for k := f.m - 1; k >= 0; k-- {
		s := w[k]
		for e := f.lStart[k]; e < f.lStart[k+1]; e++ {
			s -= f.lVal[e] * w[f.lIdx[e]]
		}
		w[k] = s
	}
	for k, row := range f.perm {
		out[row] = w[k]
	}
}

// update replaces basis position pos by the column whose representation in
// the current basis is alpha (indexed by basis position).
func (f *luFactor) update(pos int, alpha []float64) {
	et := eta{pos: pos, pivot: alpha[pos]}
	for i, v := range alpha {
		if i != pos && v != 0 {
			et.idx = append(et.idx, i)
			et.val = append(et.val, v)
		}
	}
	f.etas = append(f.etas, et)
	f.etaNNZ += len(et.idx) + 1
}

// stale reports whether the update file has grown enough to refactorize.
func (f *luFactor) stale() bool {
	return len(f.etas) >= 100 || f.etaNNZ > 4*(f.m+len(f.lIdx)+len(f.uIdx))
}
