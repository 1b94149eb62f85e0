package optimize

import "math"

// Apply writes optimized capacities, per-snapshot series and the objective
// of res back into the formulated network. Aggregated periods are expanded
// onto all of their member snapshots.
func (f *Formulation) Apply(res *Result) {
	net := f.Network
	x := res.X
	n := len(net.Snapshots)

	expand := func(vars []int) []float64 {
		out := make([]float64, n)
		for k, per := range f.Periods {
			v := clean(x[vars[k]])
			for _, t := range per.Members {
				out[t] = v
			}
		}
		return out
	}
	capOf := func(capVar int, nom float64) float64 {
		if capVar < 0 {
			return nom
		}
		return clean(x[capVar])
	}

	for i, gv := range f.generators {
		g := &net.Generators[i]
		g.PNomOpt = capOf(gv.cap, g.PNom)
		g.P = expand(gv.p)
		if gv.u != nil {
			g.Status = expand(gv.u)
		} else {
			g.Status = nil
		}
	}
	for i, sv := range f.storageUnits {
		s := &net.StorageUnits[i]
		s.PNomOpt = capOf(sv.cap, s.PNom)
		s.PDispatch = expand(sv.dispatch)
		s.PStore = expand(sv.store)
		s.StateOfCharge = expand(sv.e)
	}
	for i, sv := range f.stores {
		s := &net.Stores[i]
		s.ENomOpt = capOf(sv.cap, s.ENom)
		s.P = expand(sv.p)
		s.E = expand(sv.e)
	}
	for i, lv := range f.links {
		l := &net.Links[i]
		l.PNomOpt = capOf(lv.cap, l.PNom)
		l.P0 = expand(lv.p0)
	}

	net.Objective = res.Objective
	net.Solved = true
}

// clean drops solver noise around zero.
func clean(v float64) float64 {
	if math.Abs(v) < 1e-9 {
		return 0
	}
	return v
}
