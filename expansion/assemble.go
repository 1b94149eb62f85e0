package expansion

import (
	"fmt"
	"strings"

	"github.com/devskill-org/capacity-planner/inputs"
	"github.com/devskill-org/capacity-planner/lifecycle"
	"github.com/devskill-org/capacity-planner/network"
	"github.com/devskill-org/capacity-planner/settings"
	"github.com/devskill-org/capacity-planner/snapshots"
	"github.com/devskill-org/capacity-planner/sun"
	"github.com/devskill-org/capacity-planner/tables"
)

// LoadName is the aggregate demand attached to the primary bus.
const LoadName = "Load"

// invertorPrefixes mark links whose availability follows solar hours.
var invertorPrefixes = []string{"invertor", "inverter"}

// assembler turns a fleet and the scenario inputs into the network of one
// year.
type assembler struct {
	in       *inputs.Inputs
	settings settings.Settings
	baseYear int
	engine   *Engine
}

func (a *assembler) build(year int, snaps snapshots.Result, fleet lifecycle.Fleet) (*network.Network, error) {
	logger := a.engine.logger
	res := a.settings.Resolution
	align := func(hourly []float64) []float64 {
		return snapshots.Align(snaps.Calendar, hourly, snaps.Snapshots, res)
	}

	b := network.NewBuilder(year, snaps.Snapshots, snapshots.Weightings(len(snaps.Snapshots), res), logger)

	outside := make(map[string]bool, len(a.in.Buses))
	for _, bus := range a.in.Buses {
		b.AddBus(network.Bus{Name: bus.Name, Carrier: bus.Carrier, Outside: bus.Outside, X: bus.X, Y: bus.Y})
		outside[bus.Name] = bus.Outside
	}

	demand, ok := a.in.Demand[year]
	if !ok {
		demand, ok = a.in.Demand[a.baseYear]
		if !ok {
			return nil, &ConfigError{Field: "Demand", Message: fmt.Sprintf("no demand column for %d or base year %d", year, a.baseYear)}
		}
		logger.Printf("Warning: no demand column for %d, using base year %d", year, a.baseYear)
	}
	b.AddLoad(network.Load{Name: LoadName, Bus: a.in.Buses[0].Name, PSet: align(demand)})

	for _, c := range a.in.Carriers {
		b.AddCarrier(network.Carrier{Name: c.Name, CO2Emissions: c.CO2Emissions, Color: c.Color, NiceName: c.NiceName})
	}

	commit := a.commitment()
	for _, g := range fleet.Generators {
		g.PMaxPU = a.profile(a.in.PMaxPU, g.Carrier, outside[g.Bus], g.PMaxPU, align)
		g.PMinPU = a.profile(a.in.PMinPU, g.Carrier, outside[g.Bus], g.PMinPU, align)
		a.applyCommitment(&g, commit)
		b.AddGenerator(g)
	}
	for _, s := range fleet.StorageUnits {
		b.AddStorageUnit(s)
	}
	for _, s := range fleet.Stores {
		b.AddStore(s)
	}

	var mask []float64
	for _, row := range a.in.Links {
		l := network.Link{
			Name:           row.Name,
			Bus0:           row.Bus0,
			Bus1:           row.Bus1,
			Carrier:        row.Carrier,
			PNom:           row.PNom,
			PNomExtendable: row.Extendable,
			PNomMin:        row.PNomMin,
			PNomMax:        row.PNomMax,
			Efficiency:     row.Efficiency,
			PMinPU:         network.StaticProfile(row.PMinPU),
			PMaxPU:         network.StaticProfile(row.PMaxPU),
			MarginalCost:   row.MarginalCost,
			CapitalCost:    row.CapitalCost,
			BuildYear:      row.BuildYear,
			Lifetime:       row.Lifetime,
			Mode:           row.Mode,
		}
		if a.settings.ChargingMode == settings.SolarChargingMode && isInvertor(l.Name) {
			if mask == nil {
				mask = a.solarMask(snaps)
			}
			if mask != nil {
				restrictToSolarHours(&l, mask)
			}
		}
		b.AddLink(l)
	}

	net, err := b.Build()
	if err != nil {
		return nil, &ConfigError{Field: "Network", Message: err.Error()}
	}
	return net, nil
}

// profile returns the availability series of a carrier, aligned onto the
// snapshots. Solar and Wind at an outside bus use "<Carrier>_Outside".
// Carriers without a series keep def.
func (a *assembler) profile(p inputs.Profiles, carrier string, outside bool, def network.Profile, align func([]float64) []float64) network.Profile {
	if outside && (strings.EqualFold(carrier, "Solar") || strings.EqualFold(carrier, "Wind")) {
		if s, ok := p.Lookup(carrier + "_Outside"); ok {
			return network.SeriesProfile(align(s))
		}
	}
	if s, ok := p.Lookup(carrier); ok {
		return network.SeriesProfile(align(s))
	}
	return def
}

// commitment returns carrier-keyed committable flags, or nil when unit
// commitment is off.
func (a *assembler) commitment() map[string]bool {
	if !a.settings.UnitCommitment {
		return nil
	}
	out := map[string]bool{}
	t, ok := a.in.Table(CommitabilityTable)
	if !ok {
		a.engine.logger.Printf("Unit commitment on without a commitable table, using generator flags")
		return out
	}
	for r := range t.Rows {
		carrier := t.Text(r, "", "carrier", "technology", "name")
		if carrier == "" {
			continue
		}
		out[tables.NormalizeKey(carrier)] = t.BoolOr(r, true, "committable", "commitable", "value")
	}
	return out
}

func (a *assembler) applyCommitment(g *network.Generator, commit map[string]bool) {
	if commit == nil {
		g.Committable = false
		return
	}
	if v, ok := commit[tables.NormalizeKey(g.Carrier)]; ok {
		g.Committable = v
	}
	if g.Committable && g.PNomExtendable {
		a.engine.logger.Printf("Warning: %s is extendable and cannot be committable, ignoring commitment", g.Name)
		g.Committable = false
	}
}

// solarMask marks solar snapshots from the configured hours, or from the
// sun at the configured location.
func (a *assembler) solarMask(snaps snapshots.Result) []float64 {
	s := a.settings
	switch {
	case s.HasSolarHours:
		return sun.Fixed(s.SolarStart, s.SolarEnd).Mask(snaps.Snapshots)
	case s.HasLocation:
		return sun.AtLocation(s.Latitude, s.Longitude).Mask(snaps.Snapshots)
	default:
		a.engine.logger.Printf("Warning: charging mode %q needs solar hours or a location, invertor links stay unrestricted", s.ChargingMode)
		return nil
	}
}

func isInvertor(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range invertorPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// restrictToSolarHours lets charging links run only in solar hours and
// discharging links only outside them.
func restrictToSolarHours(l *network.Link, mask []float64) {
	mode := l.Mode
	if mode == "" {
		mode = network.ModeCharge
		if strings.Contains(strings.ToLower(l.Name), "discharg") {
			mode = network.ModeDischarge
		}
		l.Mode = mode
	}

	pmax := make([]float64, len(mask))
	for i, m := range mask {
		if mode == network.ModeDischarge {
			m = 1 - m
		}
		pmax[i] = m * l.PMaxPU.At(i)
	}
	l.PMaxPU = network.SeriesProfile(pmax)
}
