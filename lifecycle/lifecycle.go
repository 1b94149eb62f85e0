// Package lifecycle decides which generators and storage exist in a
// simulated year: the surviving fleet carried over from the previous solve
// plus the candidate units that may be built this year.
package lifecycle

import (
	"fmt"
	"log"
	"math"
	"strconv"

	"github.com/devskill-org/capacity-planner/annuity"
	"github.com/devskill-org/capacity-planner/inputs"
	"github.com/devskill-org/capacity-planner/network"
)

const (
	// CommissioningCutoff is the last build year of plants in the base case.
	CommissioningCutoff = 2025
	// DefaultLifetime applies when no lifetime is known for a technology.
	DefaultLifetime = 30
)

// Fleet is the set of components entering the network of one year.
type Fleet struct {
	Generators   []network.Generator
	StorageUnits []network.StorageUnit
	Stores       []network.Store

	Retired    []string
	Candidates int
}

// Manager resolves fleets year by year.
type Manager struct {
	in       *inputs.Inputs
	baseYear int
	logger   *log.Logger
}

// NewManager creates a lifecycle manager.
func NewManager(in *inputs.Inputs, baseYear int, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{in: in, baseYear: baseYear, logger: logger}
}

// IsActive reports whether a unit built in buildYear with the given lifetime
// operates in year. Both ends of the window are inclusive.
func IsActive(buildYear int, lifetime float64, year int) bool {
	if year < buildYear {
		return false
	}
	return float64(year) <= float64(buildYear)+lifetime
}

// Resolve returns the fleet for year. prev is the solved network of the last
// completed year, or nil.
func (m *Manager) Resolve(year int, prev *network.Network) Fleet {
	var fleet Fleet
	baseCase := year == m.baseYear || prev == nil
	if baseCase {
		fleet = m.baseFleet(year)
	} else {
		fleet = CarryForward(prev, m.logger)
	}

	if year == m.baseYear {
		fleet.Retired = RetireUncommissioned(&fleet)
	} else {
		fleet.Retired = Retire(&fleet, year)
	}
	if len(fleet.Retired) > 0 {
		m.logger.Printf("Year %d: retired %d components: %v", year, len(fleet.Retired), fleet.Retired)
	}

	m.addCandidates(&fleet, year)
	m.logger.Printf("Year %d: fleet has %d generators, %d storage units, %d stores (%d candidates)",
		year, len(fleet.Generators), len(fleet.StorageUnits), len(fleet.Stores), fleet.Candidates)
	return fleet
}

// CarryForward copies the components of a solved network into a new fleet.
// Optimized capacity becomes the fixed nominal capacity and only the Market
// carrier stays extendable. Candidates that were never built are dropped.
// prev is not modified.
func CarryForward(prev *network.Network, logger *log.Logger) Fleet {
	if logger == nil {
		logger = log.Default()
	}
	var fleet Fleet
	var unbuilt int

	for _, g := range prev.Generators {
		g.PNom = math.Max(g.PNom, g.PNomOpt)
		g.PNomExtendable = g.Carrier == network.MarketCarrier
		if !g.PNomExtendable && g.PNom == 0 {
			unbuilt++
			continue
		}
		g.PNomOpt = 0
		g.P, g.Status = nil, nil
		g.PMinPU.Series, g.PMaxPU.Series = nil, nil
		fleet.Generators = append(fleet.Generators, g)
	}
	for _, s := range prev.StorageUnits {
		s.PNom = math.Max(s.PNom, s.PNomOpt)
		s.PNomExtendable = s.Carrier == network.MarketCarrier
		if !s.PNomExtendable && s.PNom == 0 {
			unbuilt++
			continue
		}
		s.PNomOpt = 0
		s.PDispatch, s.PStore, s.StateOfCharge = nil, nil, nil
		fleet.StorageUnits = append(fleet.StorageUnits, s)
	}
	for _, s := range prev.Stores {
		s.ENom = math.Max(s.ENom, s.ENomOpt)
		s.ENomExtendable = s.Carrier == network.MarketCarrier
		if !s.ENomExtendable && s.ENom == 0 {
			unbuilt++
			continue
		}
		s.ENomOpt = 0
		s.P, s.E = nil, nil
		fleet.Stores = append(fleet.Stores, s)
	}

	if unbuilt > 0 {
		logger.Printf("Dropped %d candidates from %d that were not built", unbuilt, prev.Year)
	}
	return fleet
}

// RetireUncommissioned drops components built after the commissioning
// cutoff and returns their names.
func RetireUncommissioned(f *Fleet) []string {
	return retire(f, func(buildYear int, _ float64) bool {
		return buildYear <= CommissioningCutoff
	})
}

// Retire drops components whose operating window does not include year and
// returns their names.
func Retire(f *Fleet, year int) []string {
	return retire(f, func(buildYear int, lifetime float64) bool {
		return IsActive(buildYear, lifetime, year)
	})
}

func retire(f *Fleet, keep func(buildYear int, lifetime float64) bool) []string {
	var retired []string

	gens := f.Generators[:0]
	for _, g := range f.Generators {
		if keep(g.BuildYear, g.Lifetime) {
			gens = append(gens, g)
		} else {
			retired = append(retired, g.Name)
		}
	}
	f.Generators = gens

	units := f.StorageUnits[:0]
	for _, s := range f.StorageUnits {
		if keep(s.BuildYear, s.Lifetime) {
			units = append(units, s)
		} else {
			retired = append(retired, s.Name)
		}
	}
	f.StorageUnits = units

	stores := f.Stores[:0]
	for _, s := range f.Stores {
		if keep(s.BuildYear, s.Lifetime) {
			stores = append(stores, s)
		} else {
			retired = append(retired, s.Name)
		}
	}
	f.Stores = stores

	return retired
}

func (m *Manager) baseFleet(year int) Fleet {
	var fleet Fleet
	for _, row := range m.in.BaseGenerators {
		g := m.generatorFromRow(row, year)
		if row.HasCapitalCost {
			g.CapitalCost = row.CapitalCost
		}
		fleet.Generators = append(fleet.Generators, g)
	}
	for _, row := range m.in.BaseStorage {
		m.addStorage(&fleet, row, year, row.CapitalCost)
	}
	return fleet
}

func (m *Manager) generatorFromRow(row inputs.GeneratorRow, year int) network.Generator {
	tech := techOf(row.Carrier, row.Name)
	g := network.Generator{
		Name:           row.Name,
		Bus:            row.Bus,
		Carrier:        row.Carrier,
		PNom:           row.PNom,
		PNomExtendable: row.Extendable,
		PNomMin:        row.PNomMin,
		PNomMax:        row.PNomMax,
		BuildYear:      m.buildYear(row.Name, row.BuildYear),
		Lifetime:       m.lifetime(row.Name, tech, row.Lifetime),
		Committable:    row.Committable,
		MinUpTime:      row.MinUpTime,
		MinDownTime:    row.MinDownTime,
		RampLimitUp:    row.RampLimitUp,
		RampLimitDown:  row.RampLimitDown,
		StartUpCost:    row.StartUpCost,
		ShutDownCost:   row.ShutDownCost,
		PMinPU:         network.StaticProfile(row.PMinPU),
		PMaxPU:         network.StaticProfile(row.PMaxPU),
	}
	if v, ok := m.in.StartupCosts.Lookup(tech); ok && g.StartUpCost == 0 {
		g.StartUpCost = v
	}
	if row.HasMarginalCost {
		g.MarginalCost = row.MarginalCost
	} else {
		g.MarginalCost = m.fuelCost(row.Name, tech, year)
	}
	return g
}

func (m *Manager) addStorage(f *Fleet, row inputs.StorageRow, year int, capitalCost float64) {
	tech := techOf(row.Carrier, row.Name)
	buildYear := m.buildYear(row.Name, row.BuildYear)
	lifetime := m.lifetime(row.Name, tech, row.Lifetime)

	if row.Kind == inputs.StoreKind {
		f.Stores = append(f.Stores, network.Store{
			Name:           row.Name,
			Bus:            row.Bus,
			Carrier:        row.Carrier,
			ENom:           row.ENom,
			ENomExtendable: row.Extendable,
			ENomMin:        row.NomMin,
			ENomMax:        row.NomMax,
			ECyclic:        row.Cyclic,
			StandingLoss:   row.StandingLoss,
			MarginalCost:   row.MarginalCost,
			CapitalCost:    capitalCost,
			BuildYear:      buildYear,
			Lifetime:       lifetime,
		})
		return
	}
	f.StorageUnits = append(f.StorageUnits, network.StorageUnit{
		Name:                row.Name,
		Bus:                 row.Bus,
		Carrier:             row.Carrier,
		PNom:                row.PNom,
		PNomExtendable:      row.Extendable,
		PNomMin:             row.NomMin,
		PNomMax:             row.NomMax,
		MaxHours:            row.MaxHours,
		EfficiencyStore:     row.EfficiencyStore,
		EfficiencyDispatch:  row.EfficiencyDispatch,
		StandingLoss:        row.StandingLoss,
		CyclicStateOfCharge: row.Cyclic,
		MarginalCost:        row.MarginalCost,
		CapitalCost:         capitalCost,
		BuildYear:           buildYear,
		Lifetime:            lifetime,
	})
}

func (m *Manager) addCandidates(f *Fleet, year int) {
	suffix := "_" + strconv.Itoa(year)

	for _, row := range m.in.NewGenerators {
		tech := techOf(row.Carrier, row.Name)
		row.Name += suffix
		row.BuildYear = year
		row.MarginalCost, row.HasMarginalCost = m.fuelCost(row.Name, tech, year), true

		g := m.generatorFromRow(row, year)
		g.PNom = 0
		g.PNomExtendable = true
		g.PNomMin, g.PNomMax, _ = m.in.GeneratorPipeline.Bounds(tech, row.Bus, year)
		g.CapitalCost = m.capitalCost(g.Name, tech, year, g.Lifetime, row.CapitalCost, row.HasCapitalCost)
		f.Generators = append(f.Generators, g)
		f.Candidates++
	}

	for _, row := range m.in.NewStorage {
		tech := techOf(row.Carrier, row.Name)
		row.Name += suffix
		row.BuildYear = year
		row.PNom, row.ENom = 0, 0
		row.Extendable = true
		row.NomMin, row.NomMax, _ = m.in.StoragePipeline.Bounds(tech, row.Bus, year)
		row.Lifetime = m.lifetime(row.Name, tech, row.Lifetime)
		cost := m.capitalCost(row.Name, tech, year, row.Lifetime, row.CapitalCost, row.HasCapitalCost)
		m.addStorage(f, row, year, cost)
		f.Candidates++
	}
}

// capitalCost annualizes the overnight cost of tech in year and adds FOM.
func (m *Manager) capitalCost(name, tech string, year int, lifetime, fallback float64, hasFallback bool) float64 {
	capex, ok := m.in.CapitalCosts.Lookup(tech, year)
	if !ok {
		if hasFallback {
			capex = fallback
		} else {
			m.logger.Printf("Warning: no capital cost for %s (%s, %d), using 0", name, tech, year)
		}
	}
	fom, ok := m.in.FOM.Lookup(tech, year)
	if !ok {
		m.logger.Printf("Warning: no FOM for %s (%s, %d), using 0", name, tech, year)
	}
	rate, ok := m.in.WACC.Lookup(tech)
	if !ok {
		m.logger.Printf("Warning: no WACC for %s (%s), using 0", name, tech)
	}
	if rate > 1 {
		rate /= 100
	}
	return annuity.CapitalCost(rate, int(math.Round(lifetime)), capex, fom, m.logger)
}

func (m *Manager) fuelCost(name, tech string, year int) float64 {
	v, ok := m.in.FuelCosts.Lookup(tech, year)
	if !ok {
		m.logger.Printf("Warning: no fuel cost for %s (%s, %d), using 0", name, tech, year)
		return 0
	}
	return v
}

func (m *Manager) lifetime(name, tech string, given float64) float64 {
	if given > 0 {
		return given
	}
	if v, ok := m.in.Lifetimes.Lookup(tech); ok && v > 0 {
		return v
	}
	m.logger.Printf("Warning: no lifetime for %s (%s), using %d years", name, tech, DefaultLifetime)
	return DefaultLifetime
}

func (m *Manager) buildYear(name string, given int) int {
	if given > 0 {
		return given
	}
	m.logger.Printf("Warning: no build year for %s, assuming %d", name, CommissioningCutoff)
	return CommissioningCutoff
}

func techOf(carrier, name string) string {
	if carrier != "" {
		return carrier
	}
	return name
}

// String renders the fleet size.
func (f Fleet) String() string {
	return fmt.Sprintf("%d generators, %d storage units, %d stores", len(f.Generators), len(f.StorageUnits), len(f.Stores))
}
