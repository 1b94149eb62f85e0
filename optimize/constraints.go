package optimize

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/devskill-org/capacity-planner/inputs"
	"github.com/devskill-org/capacity-planner/tables"
)

// Cycle windows of the battery cycling cap.
const (
	WindowDaily   = "daily"
	WindowWeekly  = "weekly"
	WindowMonthly = "monthly"
	WindowAnnual  = "annual"
)

// ConstraintTables holds the optional tables of the constraint layer. An
// empty table disables its family.
type ConstraintTables struct {
	Monthly      tables.Table
	BatteryCycle tables.Table
}

// MonthlyCap limits a carrier's generation in one month to Factor times its
// capacity times the modeled hours.
type MonthlyCap struct {
	Carrier string
	Month   time.Month
	Factor  float64
}

// CycleLimit allows Cycles full discharges of a storage per window. Storage
// matches a component name, a carrier, or "all".
type CycleLimit struct {
	Storage string
	Window  string
	Cycles  int
}

// ParseMonthlyCaps reads either a wide table (carrier column plus one
// column per month) or a long one (carrier, month, factor).
func ParseMonthlyCaps(t tables.Table) []MonthlyCap {
	var out []MonthlyCap
	if t.Has("month") {
		for r := range t.Rows {
			month, ok := inputs.ParseMonth(t.Text(r, "", "month"))
			factor, okF := t.Float(r, "capacity_factor", "factor", "cf", "value")
			carrier := t.Text(r, "", "carrier", "technology")
			if ok && okF && carrier != "" {
				out = append(out, MonthlyCap{Carrier: carrier, Month: month, Factor: factor})
			}
		}
		return out
	}

	carrierCol := t.Col("carrier", "technology")
	if carrierCol < 0 {
		return nil
	}
	for c, name := range t.Columns {
		month, ok := inputs.ParseMonth(name)
		if !ok || c == carrierCol {
			continue
		}
		for r := range t.Rows {
			carrier := strings.TrimSpace(t.Cell(r, carrierCol))
			factor, ok := tables.ParseFloat(t.Cell(r, c))
			if carrier != "" && ok {
				out = append(out, MonthlyCap{Carrier: carrier, Month: month, Factor: factor})
			}
		}
	}
	return out
}

// ParseCycleLimits reads the battery cycle table.
func ParseCycleLimits(t tables.Table) []CycleLimit {
	var out []CycleLimit
	for r := range t.Rows {
		storage := t.Text(r, "all", "storage", "name", "carrier", "technology")
		window := strings.ToLower(t.Text(r, WindowDaily, "window", "cycle_window", "period"))
		cycles := t.IntOr(r, 1, "cycles", "cycles_per_window", "cycle")
		if cycles < 1 {
			continue
		}
		out = append(out, CycleLimit{Storage: storage, Window: window, Cycles: cycles})
	}
	return out
}

// ApplyConstraints adds the monthly generation caps and battery cycling caps
// configured in ct to the solved formulation and solves again. When no rows
// are added the base result is returned unchanged.
func ApplyConstraints(ctx context.Context, f *Formulation, base *Result, ct ConstraintTables, solver *Solver, logger *log.Logger) (*Result, int, error) {
	if logger == nil {
		logger = log.Default()
	}
	before := len(f.Model.Constraints)

	if ct.Monthly.Empty() {
		logger.Printf("Monthly generation caps disabled: no table")
	} else {
		n := f.addMonthlyCaps(ParseMonthlyCaps(ct.Monthly), base.X, logger)
		logger.Printf("Added %d monthly generation caps", n)
	}
	if ct.BatteryCycle.Empty() {
		logger.Printf("Battery cycling caps disabled: no table")
	} else {
		n := f.addCycleLimits(ParseCycleLimits(ct.BatteryCycle), logger)
		logger.Printf("Added %d battery cycling caps", n)
	}

	added := len(f.Model.Constraints) - before
	if added == 0 {
		return base, 0, nil
	}
	res, err := solver.Solve(ctx, f.Model)
	if err != nil {
		return nil, added, fmt.Errorf("failed to re-solve with %d custom constraints: %w", added, err)
	}
	return res, added, nil
}

func (f *Formulation) addMonthlyCaps(caps []MonthlyCap, x []float64, logger *log.Logger) int {
	added := 0
	for _, mc := range caps {
		var capacity float64
		var gens []int
		for i := range f.Network.Generators {
			g := &f.Network.Generators[i]
			if !strings.EqualFold(g.Carrier, mc.Carrier) {
				continue
			}
			gens = append(gens, i)
			if c := f.generators[i].cap; c >= 0 {
				capacity += x[c]
			} else {
				capacity += g.PNom
			}
		}
		if len(gens) == 0 {
			logger.Printf("Warning: monthly cap for carrier %q matches no generator", mc.Carrier)
			continue
		}

		// weighted snapshot hours: the calendar hours of the month when every
		// hour is modelled, the sampled hours otherwise
		var terms []Term
		var hours float64
		for k, per := range f.Periods {
			if per.Month != mc.Month {
				continue
			}
			hours += per.Weight
			for _, i := range gens {
				terms = append(terms, Term{Var: f.generators[i].p[k], Coef: per.Weight})
			}
		}
		if len(terms) == 0 {
			continue
		}
		f.Model.AddConstraint(fmt.Sprintf("monthly_cap[%s,%s]", mc.Carrier, mc.Month), terms, LE, mc.Factor*capacity*hours)
		added++
	}
	return added
}

// throughput describes one storage for the cycling cap: its positive
// dispatch expression per period and its energy capacity.
type throughput struct {
	name, carrier string
	net           func(k int) []Term // dispatch minus charge
	energy        []Term
	energyConst   float64
}

func (f *Formulation) throughputs() []throughput {
	var out []throughput
	for i, sv := range f.storageUnits {
		sv := sv
		s := &f.Network.StorageUnits[i]
		t := throughput{name: s.Name, carrier: s.Carrier}
		t.net = func(k int) []Term { return []Term{{sv.dispatch[k], 1}, {sv.store[k], -1}} }
		if sv.cap >= 0 {
			t.energy = []Term{{sv.cap, s.MaxHours}}
		} else {
			t.energyConst = s.MaxHours * s.PNom
		}
		out = append(out, t)
	}
	for i, sv := range f.stores {
		sv := sv
		s := &f.Network.Stores[i]
		t := throughput{name: s.Name, carrier: s.Carrier}
		t.net = func(k int) []Term { return []Term{{sv.p[k], 1}} }
		if sv.cap >= 0 {
			t.energy = []Term{{sv.cap, 1}}
		} else {
			t.energyConst = s.ENom
		}
		out = append(out, t)
	}
	return out
}

func (f *Formulation) addCycleLimits(limits []CycleLimit, logger *log.Logger) int {
	added := 0
	storages := f.throughputs()
	aux := make(map[string][]int)

	for _, lim := range limits {
		matched := false
		for _, st := range storages {
			if !strings.EqualFold(lim.Storage, "all") && !strings.EqualFold(lim.Storage, st.name) && !strings.EqualFold(lim.Storage, st.carrier) {
				continue
			}
			matched = true

			a, ok := aux[st.name]
			if !ok {
				a = make([]int, len(f.Periods))
				for k := range f.Periods {
					a[k] = f.Model.AddVar(fmt.Sprintf("%s.discharge_pos[%d]", st.name, k), 0, math.Inf(1), 0)
					terms := []Term{{a[k], 1}}
					for _, t := range st.net(k) {
						terms = append(terms, Term{t.Var, -t.Coef})
					}
					f.Model.AddConstraint(fmt.Sprintf("%s.discharge_pos_def[%d]", st.name, k), terms, GE, 0)
				}
				aux[st.name] = a
			}

			for w, sub := range f.subWindows(lim.Window, lim.Cycles, logger) {
				terms := make([]Term, 0, len(sub)+len(st.energy))
				for _, k := range sub {
					terms = append(terms, Term{a[k], f.Periods[k].Weight})
				}
				for _, t := range st.energy {
					terms = append(terms, Term{t.Var, -t.Coef})
				}
				f.Model.AddConstraint(fmt.Sprintf("%s.cycle_cap[%s,%d]", st.name, lim.Window, w), terms, LE, st.energyConst)
				added++
			}
		}
		if !matched {
			logger.Printf("Warning: battery cycle limit for %q matches no storage", lim.Storage)
		}
	}
	return added
}

// subWindows groups periods into cycle windows and splits each window into
// cycles contiguous parts.
func (f *Formulation) subWindows(window string, cycles int, logger *log.Logger) [][]int {
	var keyOf func(t time.Time) string
	switch window {
	case WindowDaily, "day":
		keyOf = func(t time.Time) string { return t.Format(time.DateOnly) }
	case WindowWeekly, "week":
		keyOf = func(t time.Time) string {
			y, w := t.ISOWeek()
			return fmt.Sprintf("%d-W%02d", y, w)
		}
	case WindowMonthly, "month":
		keyOf = func(t time.Time) string { return t.Format("2006-01") }
	case WindowAnnual, "year", "yearly":
		keyOf = func(time.Time) string { return "" }
	default:
		logger.Printf("Warning: unknown cycle window %q, using %s", window, WindowDaily)
		keyOf = func(t time.Time) string { return t.Format(time.DateOnly) }
	}

	var windows [][]int
	last := "\x00"
	for k, per := range f.Periods {
		key := keyOf(per.Start)
		if key != last {
			windows = append(windows, nil)
			last = key
		}
		windows[len(windows)-1] = append(windows[len(windows)-1], k)
	}

	var out [][]int
	for _, win := range windows {
		parts := min(cycles, len(win))
		for p := 0; p < parts; p++ {
			lo := p * len(win) / parts
			hi := (p + 1) * len(win) / parts
			out = append(out, win[lo:hi])
		}
	}
	return out
}
