// Package cluster merges interchangeable generators into aggregates to shrink
// the optimization problem.
package cluster

import (
	"fmt"
	"log"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/devskill-org/capacity-planner/network"
)

// Key identifies generators that may be merged.
type Key struct {
	Carrier      string
	Bus          string
	MarginalCost float64 // rounded to two decimals
	Extendable   bool
	Committable  bool
}

func keyOf(g *network.Generator) Key {
	return Key{
		Carrier:      g.Carrier,
		Bus:          g.Bus,
		MarginalCost: math.Round(g.MarginalCost*100) / 100,
		Extendable:   g.PNomExtendable,
		Committable:  g.Committable,
	}
}

// Summary reports what clustering did.
type Summary struct {
	Before   int
	After    int
	Clusters map[string][]string // aggregate name -> member names
}

// Generators replaces every group of two or more interchangeable generators
// in net with one aggregate. Groups keep the order of their first member.
func Generators(net *network.Network, logger *log.Logger) Summary {
	if logger == nil {
		logger = log.Default()
	}
	s := Summary{Before: len(net.Generators), Clusters: make(map[string][]string)}

	var order []Key
	groups := make(map[Key][]int)
	for i := range net.Generators {
		k := keyOf(&net.Generators[i])
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], i)
	}

	counters := make(map[string]int)
	out := make([]network.Generator, 0, len(order))
	for _, k := range order {
		idx := groups[k]
		if len(idx) == 1 {
			out = append(out, net.Generators[idx[0]])
			continue
		}

		members := make([]network.Generator, len(idx))
		for j, i := range idx {
			members[j] = net.Generators[i]
		}
		prefix := fmt.Sprintf("%s_%s", k.Carrier, k.Bus)
		counters[prefix]++
		agg := Merge(fmt.Sprintf("%s_cluster%d", prefix, counters[prefix]), members)
		out = append(out, agg)

		names := make([]string, len(members))
		for j, m := range members {
			names[j] = m.Name
		}
		s.Clusters[agg.Name] = names
		logger.Printf("Clustered %d generators into %s: %v", len(members), agg.Name, names)
	}

	net.Generators = out
	s.After = len(out)
	return s
}

// Merge aggregates members into one generator. Capacities, bounds and
// capital costs are summed; marginal cost is capacity-weighted; build year
// is the latest; the remaining technical parameters are averaged.
func Merge(name string, members []network.Generator) network.Generator {
	first := members[0]
	agg := network.Generator{
		Name:           name,
		Bus:            first.Bus,
		Carrier:        first.Carrier,
		PNomExtendable: first.PNomExtendable,
		Committable:    first.Committable,
		PMinPU:         first.PMinPU,
		PMaxPU:         first.PMaxPU,
	}

	n := len(members)
	pNom := make([]float64, n)
	costs := make([]float64, n)
	lifetimes := make([]float64, n)
	upTimes := make([]float64, n)
	downTimes := make([]float64, n)
	startUp := make([]float64, n)
	shutDown := make([]float64, n)
	var rampUp, rampDown []float64

	for i, m := range members {
		pNom[i] = m.PNom
		costs[i] = m.MarginalCost
		lifetimes[i] = m.Lifetime
		upTimes[i] = float64(m.MinUpTime)
		downTimes[i] = float64(m.MinDownTime)
		startUp[i] = m.StartUpCost
		shutDown[i] = m.ShutDownCost
		if !math.IsNaN(m.RampLimitUp) {
			rampUp = append(rampUp, m.RampLimitUp)
		}
		if !math.IsNaN(m.RampLimitDown) {
			rampDown = append(rampDown, m.RampLimitDown)
		}

		agg.PNom += m.PNom
		agg.PNomMin += m.PNomMin
		agg.PNomMax += m.PNomMax // +Inf if any member is unbounded
		agg.CapitalCost += m.CapitalCost
		if m.BuildYear > agg.BuildYear {
			agg.BuildYear = m.BuildYear
		}
	}

	if agg.PNom > 0 {
		agg.MarginalCost = stat.Mean(costs, pNom)
	} else {
		agg.MarginalCost = stat.Mean(costs, nil)
	}
	agg.Lifetime = stat.Mean(lifetimes, nil)
	agg.MinUpTime = int(math.Round(stat.Mean(upTimes, nil)))
	agg.MinDownTime = int(math.Round(stat.Mean(downTimes, nil)))
	agg.StartUpCost = stat.Mean(startUp, nil)
	agg.ShutDownCost = stat.Mean(shutDown, nil)
	agg.RampLimitUp = meanOrNaN(rampUp)
	agg.RampLimitDown = meanOrNaN(rampDown)

	return agg
}

func meanOrNaN(v []float64) float64 {
	if len(v) == 0 {
		return math.NaN()
	}
	return stat.Mean(v, nil)
}
