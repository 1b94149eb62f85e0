package optimize

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/devskill-org/capacity-planner/network"
)

// Period is one modeled time step. Without aggregation every snapshot is its
// own period; with aggregation a period stands for snapshots of one month
// that carry identical data.
type Period struct {
	Members []int // snapshot indices
	Weight  float64
	Month   time.Month
	Start   time.Time
}

type generatorVars struct {
	cap       int // -1 when capacity is fixed
	p         []int
	u, su, sd []int
}

type storageUnitVars struct {
	cap                int
	dispatch, store, e []int
}

type storeVars struct {
	cap  int
	p, e []int
}

type linkVars struct {
	cap int
	p0  []int
}

// Formulation is the model of one network with the variable layout needed
// to add constraints and read results back.
type Formulation struct {
	Model   *Model
	Network *network.Network
	Periods []Period

	generators   []generatorVars
	storageUnits []storageUnitVars
	stores       []storeVars
	links        []linkVars
}

// Formulate builds the dispatch and investment problem of net.
func Formulate(net *network.Network, opts Options) (*Formulation, error) {
	if net.Empty() {
		return nil, fmt.Errorf("network for %d has no snapshots", net.Year)
	}
	f := &Formulation{Model: &Model{}, Network: net}
	if opts.Aggregate && !coupled(net) {
		f.Periods = aggregatePeriods(net)
	} else {
		f.Periods = singlePeriods(net)
	}

	nP := len(f.Periods)
	buses := net.BusIndex()
	balance := make([][][]Term, len(net.Buses))
	for b := range balance {
		balance[b] = make([][]Term, nP)
	}
	inject := func(bus string, k, v int, coef float64) {
		if b, ok := buses[bus]; ok {
			balance[b][k] = append(balance[b][k], Term{Var: v, Coef: coef})
		}
	}

	for i := range net.Generators {
		gv := f.addGenerator(&net.Generators[i])
		for k, v := range gv.p {
			inject(net.Generators[i].Bus, k, v, 1)
		}
		f.generators = append(f.generators, gv)
	}
	for i := range net.StorageUnits {
		sv := f.addStorageUnit(&net.StorageUnits[i])
		for k := range f.Periods {
			inject(net.StorageUnits[i].Bus, k, sv.dispatch[k], 1)
			inject(net.StorageUnits[i].Bus, k, sv.store[k], -1)
		}
		f.storageUnits = append(f.storageUnits, sv)
	}
	for i := range net.Stores {
		sv := f.addStore(&net.Stores[i])
		for k, v := range sv.p {
			inject(net.Stores[i].Bus, k, v, 1)
		}
		f.stores = append(f.stores, sv)
	}
	for i := range net.Links {
		l := &net.Links[i]
		lv := f.addLink(l)
		for k, v := range lv.p0 {
			inject(l.Bus0, k, v, -1)
			inject(l.Bus1, k, v, l.Efficiency)
		}
		f.links = append(f.links, lv)
	}

	demand := make([][]float64, len(net.Buses))
	for b := range demand {
		demand[b] = make([]float64, nP)
	}
	for _, l := range net.Loads {
		b, ok := buses[l.Bus]
		if !ok {
			continue
		}
		for k, p := range f.Periods {
			demand[b][k] += valueAt(l.PSet, p.Members[0])
		}
	}

	for b, bus := range net.Buses {
		for k := range f.Periods {
			f.Model.AddConstraint(fmt.Sprintf("balance[%s,%d]", bus.Name, k), balance[b][k], EQ, demand[b][k])
		}
	}
	return f, nil
}

// coupled reports whether any constraint links consecutive snapshots.
func coupled(net *network.Network) bool {
	if len(net.StorageUnits) > 0 || len(net.Stores) > 0 {
		return true
	}
	for i := range net.Generators {
		g := &net.Generators[i]
		if g.Committable || g.HasRampLimits() {
			return true
		}
	}
	return false
}

func singlePeriods(net *network.Network) []Period {
	out := make([]Period, len(net.Snapshots))
	for t, s := range net.Snapshots {
		out[t] = Period{Members: []int{t}, Weight: net.Weightings[t], Month: s.Month(), Start: s}
	}
	return out
}

// aggregatePeriods merges snapshots of the same month whose loads and
// availability profiles are identical. Weights are summed.
func aggregatePeriods(net *network.Network) []Period {
	var out []Period
	index := make(map[string]int)
	var sig strings.Builder
	for t, s := range net.Snapshots {
		sig.Reset()
		fmt.Fprintf(&sig, "%d-%d", s.Year(), s.Month())
		for _, l := range net.Loads {
			fmt.Fprintf(&sig, "|%x", math.Float64bits(valueAt(l.PSet, t)))
		}
		for i := range net.Generators {
			g := &net.Generators[i]
			fmt.Fprintf(&sig, "|%x,%x", math.Float64bits(g.PMinPU.At(t)), math.Float64bits(g.PMaxPU.At(t)))
		}
		for i := range net.Links {
			l := &net.Links[i]
			fmt.Fprintf(&sig, "|%x,%x", math.Float64bits(l.PMinPU.At(t)), math.Float64bits(l.PMaxPU.At(t)))
		}
		key := sig.String()
		if k, ok := index[key]; ok {
			out[k].Members = append(out[k].Members, t)
			out[k].Weight += net.Weightings[t]
			continue
		}
		index[key] = len(out)
		out = append(out, Period{Members: []int{t}, Weight: net.Weightings[t], Month: s.Month(), Start: s})
	}
	return out
}

// capacity returns the capacity variable of an extendable component, or -1.
func (f *Formulation) capacity(name string, extendable bool, lo, hi, cost float64) int {
	if !extendable {
		return -1
	}
	return f.Model.AddVar(name+".cap", lo, hi, cost)
}

// bounded adds lo*cap <= x <= hi*cap for an extendable capacity, or sets
// the bounds directly for a fixed one.
func (f *Formulation) bounded(name string, x, capVar int, nom, lo, hi float64) {
	m := f.Model
	if capVar < 0 {
		m.Vars[x].Lower = math.Max(m.Vars[x].Lower, lo*nom)
		m.Vars[x].Upper = math.Min(m.Vars[x].Upper, hi*nom)
		return
	}
	m.AddConstraint(name+".max", []Term{{x, 1}, {capVar, -hi}}, LE, 0)
	if lo != 0 || m.Vars[x].Lower < 0 {
		m.AddConstraint(name+".min", []Term{{x, 1}, {capVar, -lo}}, GE, 0)
	}
}

func (f *Formulation) addGenerator(g *network.Generator) generatorVars {
	m := f.Model
	nP := len(f.Periods)
	gv := generatorVars{cap: f.capacity(g.Name, g.PNomExtendable, g.PNomMin, g.PNomMax, g.CapitalCost), p: make([]int, nP)}
	commit := g.Committable && !g.PNomExtendable

	for k, per := range f.Periods {
		t := per.Members[0]
		lo := math.Inf(-1)
		if g.PMinPU.At(t) >= 0 {
			lo = 0
		}
		gv.p[k] = m.AddVar(fmt.Sprintf("%s.p[%d]", g.Name, k), lo, math.Inf(1), per.Weight*g.MarginalCost)
		if commit {
			m.Vars[gv.p[k]].Upper = math.Max(0, g.PMaxPU.At(t)*g.PNom)
			continue
		}
		f.bounded(fmt.Sprintf("%s.p[%d]", g.Name, k), gv.p[k], gv.cap, g.PNom, g.PMinPU.At(t), g.PMaxPU.At(t))
	}

	if commit {
		f.addCommitment(g, &gv)
	}
	f.addRamps(g, &gv, commit)
	return gv
}

// addCommitment adds status, start-up and shut-down variables. Units are
// considered on before the first snapshot.
func (f *Formulation) addCommitment(g *network.Generator, gv *generatorVars) {
	m := f.Model
	nP := len(f.Periods)
	gv.u = make([]int, nP)
	gv.su = make([]int, nP)
	gv.sd = make([]int, nP)
	for k, per := range f.Periods {
		t := per.Members[0]
		gv.u[k] = m.AddIntVar(fmt.Sprintf("%s.u[%d]", g.Name, k), 0, 1, 0)
		gv.su[k] = m.AddVar(fmt.Sprintf("%s.su[%d]", g.Name, k), 0, 1, g.StartUpCost)
		gv.sd[k] = m.AddVar(fmt.Sprintf("%s.sd[%d]", g.Name, k), 0, 1, g.ShutDownCost)

		m.AddConstraint(fmt.Sprintf("%s.commit_max[%d]", g.Name, k),
			[]Term{{gv.p[k], 1}, {gv.u[k], -g.PMaxPU.At(t) * g.PNom}}, LE, 0)
		if pmin := g.PMinPU.At(t); pmin > 0 {
			m.AddConstraint(fmt.Sprintf("%s.commit_min[%d]", g.Name, k),
				[]Term{{gv.p[k], 1}, {gv.u[k], -pmin * g.PNom}}, GE, 0)
		}

		if k == 0 {
			m.AddConstraint(g.Name+".start[0]", []Term{{gv.su[0], 1}, {gv.u[0], -1}}, GE, -1)
			m.AddConstraint(g.Name+".stop[0]", []Term{{gv.sd[0], 1}, {gv.u[0], 1}}, GE, 1)
			continue
		}
		m.AddConstraint(fmt.Sprintf("%s.start[%d]", g.Name, k),
			[]Term{{gv.su[k], 1}, {gv.u[k], -1}, {gv.u[k-1], 1}}, GE, 0)
		m.AddConstraint(fmt.Sprintf("%s.stop[%d]", g.Name, k),
			[]Term{{gv.sd[k], 1}, {gv.u[k-1], -1}, {gv.u[k], 1}}, GE, 0)
	}

	for k := range f.Periods {
		if g.MinUpTime > 1 {
			terms := []Term{{gv.u[k], -1}}
			for j := max(0, k-g.MinUpTime+1); j <= k; j++ {
				terms = append(terms, Term{gv.su[j], 1})
			}
			m.AddConstraint(fmt.Sprintf("%s.min_up[%d]", g.Name, k), terms, LE, 0)
		}
		if g.MinDownTime > 1 {
			terms := []Term{{gv.u[k], 1}}
			for j := max(0, k-g.MinDownTime+1); j <= k; j++ {
				terms = append(terms, Term{gv.sd[j], 1})
			}
			m.AddConstraint(fmt.Sprintf("%s.min_down[%d]", g.Name, k), terms, LE, 1)
		}
	}
}

// addRamps limits the change of output between consecutive periods. Start-up
// and shut-down may move a committed unit by its full capacity.
func (f *Formulation) addRamps(g *network.Generator, gv *generatorVars, commit bool) {
	m := f.Model
	up := !math.IsNaN(g.RampLimitUp) && !math.IsInf(g.RampLimitUp, 1)
	down := !math.IsNaN(g.RampLimitDown) && !math.IsInf(g.RampLimitDown, 1)

	for k := 1; k < len(f.Periods); k++ {
		if up {
			terms := []Term{{gv.p[k], 1}, {gv.p[k-1], -1}}
			rhs := 0.0
			switch {
			case commit:
				terms = append(terms, Term{gv.u[k-1], -g.RampLimitUp * g.PNom}, Term{gv.su[k], -g.PNom})
			case gv.cap >= 0:
				terms = append(terms, Term{gv.cap, -g.RampLimitUp})
			default:
				rhs = g.RampLimitUp * g.PNom
			}
			m.AddConstraint(fmt.Sprintf("%s.ramp_up[%d]", g.Name, k), terms, LE, rhs)
		}
		if down {
			terms := []Term{{gv.p[k-1], 1}, {gv.p[k], -1}}
			rhs := 0.0
			switch {
			case commit:
				terms = append(terms, Term{gv.u[k], -g.RampLimitDown * g.PNom}, Term{gv.sd[k], -g.PNom})
			case gv.cap >= 0:
				terms = append(terms, Term{gv.cap, -g.RampLimitDown})
			default:
				rhs = g.RampLimitDown * g.PNom
			}
			m.AddConstraint(fmt.Sprintf("%s.ramp_down[%d]", g.Name, k), terms, LE, rhs)
		}
	}
}

func (f *Formulation) addStorageUnit(s *network.StorageUnit) storageUnitVars {
	m := f.Model
	nP := len(f.Periods)
	sv := storageUnitVars{
		cap:      f.capacity(s.Name, s.PNomExtendable, s.PNomMin, s.PNomMax, s.CapitalCost),
		dispatch: make([]int, nP),
		store:    make([]int, nP),
		e:        make([]int, nP),
	}
	for k, per := range f.Periods {
		sv.dispatch[k] = m.AddVar(fmt.Sprintf("%s.dispatch[%d]", s.Name, k), 0, math.Inf(1), per.Weight*s.MarginalCost)
		sv.store[k] = m.AddVar(fmt.Sprintf("%s.store[%d]", s.Name, k), 0, math.Inf(1), 0)
		sv.e[k] = m.AddVar(fmt.Sprintf("%s.soc[%d]", s.Name, k), 0, math.Inf(1), 0)
		f.bounded(fmt.Sprintf("%s.dispatch[%d]", s.Name, k), sv.dispatch[k], sv.cap, s.PNom, 0, 1)
		f.bounded(fmt.Sprintf("%s.store[%d]", s.Name, k), sv.store[k], sv.cap, s.PNom, 0, 1)
		f.bounded(fmt.Sprintf("%s.soc[%d]", s.Name, k), sv.e[k], sv.cap, s.PNom, 0, s.MaxHours)
	}

	for k, per := range f.Periods {
		w := per.Weight
		terms := []Term{
			{sv.e[k], 1},
			{sv.store[k], -w * s.EfficiencyStore},
			{sv.dispatch[k], w / s.EfficiencyDispatch},
		}
		keep := math.Pow(1-s.StandingLoss, w)
		rhs := 0.0
		switch {
		case k > 0:
			terms = append(terms, Term{sv.e[k-1], -keep})
		case s.CyclicStateOfCharge:
			terms = append(terms, Term{sv.e[nP-1], -keep})
		default:
			rhs = keep * s.StateOfChargeInitial
		}
		m.AddConstraint(fmt.Sprintf("%s.soc_balance[%d]", s.Name, k), terms, EQ, rhs)
	}
	return sv
}

func (f *Formulation) addStore(s *network.Store) storeVars {
	m := f.Model
	nP := len(f.Periods)
	sv := storeVars{
		cap: f.capacity(s.Name, s.ENomExtendable, s.ENomMin, s.ENomMax, s.CapitalCost),
		p:   make([]int, nP),
		e:   make([]int, nP),
	}
	for k, per := range f.Periods {
		sv.p[k] = m.AddVar(fmt.Sprintf("%s.p[%d]", s.Name, k), math.Inf(-1), math.Inf(1), per.Weight*s.MarginalCost)
		sv.e[k] = m.AddVar(fmt.Sprintf("%s.e[%d]", s.Name, k), 0, math.Inf(1), 0)
		f.bounded(fmt.Sprintf("%s.e[%d]", s.Name, k), sv.e[k], sv.cap, s.ENom, 0, 1)
	}
	for k, per := range f.Periods {
		w := per.Weight
		terms := []Term{{sv.e[k], 1}, {sv.p[k], w}}
		keep := math.Pow(1-s.StandingLoss, w)
		rhs := 0.0
		switch {
		case k > 0:
			terms = append(terms, Term{sv.e[k-1], -keep})
		case s.ECyclic:
			terms = append(terms, Term{sv.e[nP-1], -keep})
		default:
			rhs = keep * s.EInitial
		}
		m.AddConstraint(fmt.Sprintf("%s.e_balance[%d]", s.Name, k), terms, EQ, rhs)
	}
	return sv
}

func (f *Formulation) addLink(l *network.Link) linkVars {
	m := f.Model
	lv := linkVars{cap: f.capacity(l.Name, l.PNomExtendable, l.PNomMin, l.PNomMax, l.CapitalCost), p0: make([]int, len(f.Periods))}
	for k, per := range f.Periods {
		t := per.Members[0]
		lo := math.Inf(-1)
		if l.PMinPU.At(t) >= 0 {
			lo = 0
		}
		lv.p0[k] = m.AddVar(fmt.Sprintf("%s.p0[%d]", l.Name, k), lo, math.Inf(1), per.Weight*l.MarginalCost)
		f.bounded(fmt.Sprintf("%s.p0[%d]", l.Name, k), lv.p0[k], lv.cap, l.PNom, l.PMinPU.At(t), l.PMaxPU.At(t))
	}
	return lv
}

func valueAt(series []float64, t int) float64 {
	if t < len(series) {
		return series[t]
	}
	return 0
}
