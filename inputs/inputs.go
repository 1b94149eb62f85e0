// Package inputs holds the parsed planning inputs: network topology rows,
// technology cost trajectories, demand and availability profiles.
//
// Every table is converted once into typed records or lookups so the year
// loop never filters raw sheets.
package inputs

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/devskill-org/capacity-planner/tables"
)

// Bus is one node of the network.
type Bus struct {
	Name    string
	Carrier string
	Outside bool // external region; Solar/Wind use the "_Outside" profiles
	X, Y    float64
}

// GeneratorRow is an existing or candidate generator as given in the inputs.
type GeneratorRow struct {
	Name    string
	Bus     string
	Carrier string

	PNom       float64
	PNomMin    float64
	PNomMax    float64
	Extendable bool

	MarginalCost    float64
	HasMarginalCost bool
	CapitalCost     float64
	HasCapitalCost  bool

	BuildYear int
	Lifetime  float64 // 0 when not given

	Committable   bool
	MinUpTime     int
	MinDownTime   int
	RampLimitUp   float64 // per unit of p_nom per hour, NaN = unlimited
	RampLimitDown float64
	StartUpCost   float64
	ShutDownCost  float64

	PMinPU float64
	PMaxPU float64
}

// StorageKind distinguishes power-coupled storage units from stores.
type StorageKind int

const (
	StorageUnitKind StorageKind = iota
	StoreKind
)

func (k StorageKind) String() string {
	if k == StoreKind {
		return "Store"
	}
	return "StorageUnit"
}

// StorageRow is an existing or candidate storage component.
type StorageRow struct {
	Kind    StorageKind
	Name    string
	Bus     string
	Carrier string

	PNom       float64 // storage units
	ENom       float64 // stores
	NomMin     float64 // applies to p_nom for units, e_nom for stores
	NomMax     float64
	Extendable bool

	MaxHours           float64
	EfficiencyStore    float64
	EfficiencyDispatch float64
	StandingLoss       float64
	Cyclic             bool

	MarginalCost   float64
	CapitalCost    float64
	HasCapitalCost bool

	BuildYear int
	Lifetime  float64
}

// LinkRow is a directed transfer edge between two buses.
type LinkRow struct {
	Name    string
	Bus0    string
	Bus1    string
	Carrier string

	PNom       float64
	PNomMin    float64
	PNomMax    float64
	Extendable bool

	Efficiency   float64
	MarginalCost float64
	CapitalCost  float64
	PMinPU       float64
	PMaxPU       float64
	Mode         string // "charge", "discharge" or ""

	BuildYear int
	Lifetime  float64
}

// CarrierRow carries emissions and display metadata.
type CarrierRow struct {
	Name         string
	CO2Emissions float64
	Color        string
	NiceName     string
}

// PipelineRow bounds the capacity that may be built for a technology at a
// bus in one year.
type PipelineRow struct {
	Tech string
	Bus  string // empty matches every bus
	Year int
	Min  float64
	Max  float64
}

// Pipeline is a set of capacity bounds.
type Pipeline []PipelineRow

// Bounds returns the first matching bound for tech at bus in year.
func (p Pipeline) Bounds(tech, bus string, year int) (float64, float64, bool) {
	techKey := tables.NormalizeKey(tech)
	busKey := tables.NormalizeKey(bus)
	for _, r := range p {
		if r.Year != year || tables.NormalizeKey(r.Tech) != techKey {
			continue
		}
		if r.Bus != "" && tables.NormalizeKey(r.Bus) != busKey {
			continue
		}
		return r.Min, r.Max, true
	}
	return 0, math.Inf(1), false
}

// CustomDay is a (month, day-of-month) pair used by the critical-days
// snapshot strategy.
type CustomDay struct {
	Month time.Month
	Day   int
}

// Profiles holds hourly per-carrier availability series.
type Profiles struct {
	series map[string][]float64
}

// NewProfiles builds profiles from carrier-keyed series.
func NewProfiles(series map[string][]float64) Profiles {
	p := Profiles{series: make(map[string][]float64, len(series))}
	for k, v := range series {
		p.series[tables.NormalizeKey(k)] = v
	}
	return p
}

// Lookup returns the hourly series for a carrier (or "<carrier>_Outside").
func (p Profiles) Lookup(name string) ([]float64, bool) {
	s, ok := p.series[tables.NormalizeKey(name)]
	return s, ok
}

// Len returns the number of series.
func (p Profiles) Len() int { return len(p.series) }

// Inputs is the complete parsed input set for one scenario.
type Inputs struct {
	SettingsTables map[string]tables.Table

	Buses          []Bus
	BaseGenerators []GeneratorRow
	NewGenerators  []GeneratorRow
	BaseStorage    []StorageRow
	NewStorage     []StorageRow
	Links          []LinkRow
	Carriers       []CarrierRow

	Lifetimes    TechTable
	WACC         TechTable
	StartupCosts TechTable
	FOM          YearTable
	FuelCosts    YearTable
	CapitalCosts YearTable

	GeneratorPipeline Pipeline
	StoragePipeline   Pipeline

	Demand     map[int][]float64 // fiscal year -> hourly demand
	PMaxPU     Profiles
	PMinPU     Profiles
	CustomDays []CustomDay
}

// Table returns a settings sub-table by name.
func (in *Inputs) Table(name string) (tables.Table, bool) {
	if in.SettingsTables == nil {
		return tables.Table{}, false
	}
	if t, ok := in.SettingsTables[name]; ok {
		return t, true
	}
	key := tables.NormalizeKey(name)
	for k, t := range in.SettingsTables {
		if tables.NormalizeKey(k) == key {
			return t, true
		}
	}
	return tables.Table{}, false
}

// DemandYears returns the fiscal years present in the demand table, ascending.
func (in *Inputs) DemandYears() []int {
	return SortedYears(in.Demand)
}

// Validate checks the minimum structure the engine needs.
func (in *Inputs) Validate() error {
	if len(in.Buses) == 0 {
		return fmt.Errorf("at least one bus is required")
	}
	if len(in.Demand) == 0 {
		return fmt.Errorf("demand table has no year columns")
	}
	seen := make(map[string]bool, len(in.Buses))
	for _, b := range in.Buses {
		if b.Name == "" {
			return fmt.Errorf("bus with empty name")
		}
		if seen[b.Name] {
			return fmt.Errorf("duplicate bus %q", b.Name)
		}
		seen[b.Name] = true
	}
	return nil
}

// ParseBuses reads the bus sheet.
func ParseBuses(t tables.Table) []Bus {
	var out []Bus
	for i := range t.Rows {
		name := t.Text(i, "", "name", "bus")
		if name == "" {
			continue
		}
		outside := t.BoolOr(i, strings.Contains(strings.ToLower(name), "outside"), "outside", "external")
		out = append(out, Bus{
			Name:    name,
			Carrier: t.Text(i, "AC", "carrier"),
			Outside: outside,
			X:       t.FloatOr(i, 0, "x"),
			Y:       t.FloatOr(i, 0, "y"),
		})
	}
	return out
}

// ParseGenerators reads a base or candidate generator sheet.
func ParseGenerators(t tables.Table) []GeneratorRow {
	var out []GeneratorRow
	for i := range t.Rows {
		name := t.Text(i, "", "name", "generator")
		carrier := t.Text(i, "", "carrier", "technology", "type")
		if name == "" && carrier == "" {
			continue
		}
		if name == "" {
			name = fmt.Sprintf("%s_%d", carrier, i+1)
		}
		g := GeneratorRow{
			Name:          name,
			Bus:           t.Text(i, "", "bus"),
			Carrier:       carrier,
			PNom:          t.FloatOr(i, 0, "p_nom", "capacity"),
			PNomMin:       t.FloatOr(i, 0, "p_nom_min"),
			PNomMax:       t.FloatOr(i, math.Inf(1), "p_nom_max"),
			Extendable:    t.BoolOr(i, false, "p_nom_extendable", "extendable"),
			BuildYear:     t.IntOr(i, 0, "build_year"),
			Lifetime:      t.FloatOr(i, 0, "lifetime"),
			Committable:   t.BoolOr(i, false, "committable"),
			MinUpTime:     t.IntOr(i, 0, "min_up_time"),
			MinDownTime:   t.IntOr(i, 0, "min_down_time"),
			RampLimitUp:   t.FloatOr(i, math.NaN(), "ramp_limit_up"),
			RampLimitDown: t.FloatOr(i, math.NaN(), "ramp_limit_down"),
			StartUpCost:   t.FloatOr(i, 0, "start_up_cost"),
			ShutDownCost:  t.FloatOr(i, 0, "shut_down_cost"),
			PMinPU:        t.FloatOr(i, 0, "p_min_pu"),
			PMaxPU:        t.FloatOr(i, 1, "p_max_pu"),
		}
		g.MarginalCost, g.HasMarginalCost = t.Float(i, "marginal_cost")
		g.CapitalCost, g.HasCapitalCost = t.Float(i, "capital_cost")
		out = append(out, g)
	}
	return out
}

// ParseStorage reads a base or candidate storage sheet. The "type" column
// selects Store vs StorageUnit; without it, rows with an e_nom and no
// max_hours are stores.
func ParseStorage(t tables.Table) []StorageRow {
	var out []StorageRow
	for i := range t.Rows {
		name := t.Text(i, "", "name", "storage")
		carrier := t.Text(i, "", "carrier", "technology")
		if name == "" && carrier == "" {
			continue
		}
		if name == "" {
			name = fmt.Sprintf("%s_%d", carrier, i+1)
		}

		kind := StorageUnitKind
		switch tables.NormalizeKey(t.Text(i, "", "type", "component", "kind")) {
		case "store", "stores":
			kind = StoreKind
		case "storageunit", "storageunits", "storage":
		default:
			if t.Has("e_nom") && !t.Has("max_hours") {
				kind = StoreKind
			}
		}

		s := StorageRow{
			Kind:               kind,
			Name:               name,
			Bus:                t.Text(i, "", "bus"),
			Carrier:            carrier,
			PNom:               t.FloatOr(i, 0, "p_nom"),
			ENom:               t.FloatOr(i, 0, "e_nom"),
			Extendable:         t.BoolOr(i, false, "extendable", "p_nom_extendable", "e_nom_extendable"),
			MaxHours:           t.FloatOr(i, 1, "max_hours"),
			EfficiencyStore:    t.FloatOr(i, 1, "efficiency_store", "charge_efficiency"),
			EfficiencyDispatch: t.FloatOr(i, 1, "efficiency_dispatch", "discharge_efficiency"),
			StandingLoss:       t.FloatOr(i, 0, "standing_loss"),
			Cyclic:             t.BoolOr(i, true, "cyclic", "cyclic_state_of_charge", "e_cyclic"),
			MarginalCost:       t.FloatOr(i, 0, "marginal_cost"),
			BuildYear:          t.IntOr(i, 0, "build_year"),
			Lifetime:           t.FloatOr(i, 0, "lifetime"),
		}
		if kind == StoreKind {
			s.NomMin = t.FloatOr(i, 0, "e_nom_min", "nom_min")
			s.NomMax = t.FloatOr(i, math.Inf(1), "e_nom_max", "nom_max")
		} else {
			s.NomMin = t.FloatOr(i, 0, "p_nom_min", "nom_min")
			s.NomMax = t.FloatOr(i, math.Inf(1), "p_nom_max", "nom_max")
		}
		s.CapitalCost, s.HasCapitalCost = t.Float(i, "capital_cost")
		out = append(out, s)
	}
	return out
}

// ParseLinks reads the link sheet.
func ParseLinks(t tables.Table) []LinkRow {
	var out []LinkRow
	for i := range t.Rows {
		name := t.Text(i, "", "name", "link")
		if name == "" {
			continue
		}
		out = append(out, LinkRow{
			Name:         name,
			Bus0:         t.Text(i, "", "bus0", "from"),
			Bus1:         t.Text(i, "", "bus1", "to"),
			Carrier:      t.Text(i, "", "carrier"),
			PNom:         t.FloatOr(i, 0, "p_nom"),
			PNomMin:      t.FloatOr(i, 0, "p_nom_min"),
			PNomMax:      t.FloatOr(i, math.Inf(1), "p_nom_max"),
			Extendable:   t.BoolOr(i, false, "p_nom_extendable", "extendable"),
			Efficiency:   t.FloatOr(i, 1, "efficiency"),
			MarginalCost: t.FloatOr(i, 0, "marginal_cost"),
			CapitalCost:  t.FloatOr(i, 0, "capital_cost"),
			PMinPU:       t.FloatOr(i, 0, "p_min_pu"),
			PMaxPU:       t.FloatOr(i, 1, "p_max_pu"),
			Mode:         strings.ToLower(t.Text(i, "", "mode", "direction")),
			BuildYear:    t.IntOr(i, 0, "build_year"),
			Lifetime:     t.FloatOr(i, 0, "lifetime"),
		})
	}
	return out
}

// ParseCarriers reads the CO2 / carrier sheet.
func ParseCarriers(t tables.Table) []CarrierRow {
	var out []CarrierRow
	for i := range t.Rows {
		name := t.Text(i, "", "carrier", "name", "technology")
		if name == "" {
			continue
		}
		out = append(out, CarrierRow{
			Name:         name,
			CO2Emissions: t.FloatOr(i, 0, "co2_emissions", "co2", "emissions"),
			Color:        t.Text(i, "", "color", "colour"),
			NiceName:     t.Text(i, name, "nice_name"),
		})
	}
	return out
}

// ParsePipeline reads a capacity pipeline sheet. Rows without a year are
// skipped.
func ParsePipeline(t tables.Table) Pipeline {
	var out Pipeline
	for i := range t.Rows {
		tech := t.Text(i, "", "technology", "carrier", "tech")
		year, ok := t.Int(i, "year", "build_year")
		if tech == "" || !ok {
			continue
		}
		out = append(out, PipelineRow{
			Tech: tech,
			Bus:  t.Text(i, "", "bus"),
			Year: year,
			Min:  t.FloatOr(i, 0, "p_nom_min", "e_nom_min", "min"),
			Max:  t.FloatOr(i, math.Inf(1), "p_nom_max", "e_nom_max", "max"),
		})
	}
	return out
}

// ParseDemand reads an hourly demand sheet with one column per fiscal year.
// Columns whose header is not a year (e.g. an hour index) are ignored.
func ParseDemand(t tables.Table) map[int][]float64 {
	out := make(map[int][]float64)
	for c, h := range t.Columns {
		if y, ok := ParseYear(h); ok {
			out[y] = t.Column(c, 0)
		}
	}
	return out
}

// ParseProfiles reads an hourly availability sheet with one column per
// carrier. Index-like columns (hour, datetime, snapshot) are ignored.
func ParseProfiles(t tables.Table) Profiles {
	series := make(map[string][]float64)
	for c, h := range t.Columns {
		switch tables.NormalizeKey(h) {
		case "", "hour", "hours", "datetime", "snapshot", "snapshots", "timestamp", "index":
			continue
		}
		series[h] = t.Column(c, 0)
	}
	return NewProfiles(series)
}

// ParseCustomDays reads (month, day) rows. Months may be numbers or names.
func ParseCustomDays(t tables.Table) []CustomDay {
	var out []CustomDay
	for i := range t.Rows {
		m, ok := ParseMonth(t.Text(i, "", "month"))
		if !ok {
			continue
		}
		d, ok := t.Int(i, "day", "date")
		if !ok {
			continue
		}
		out = append(out, CustomDay{Month: m, Day: d})
	}
	return out
}

// ParseMonth accepts "4", "Apr", "April".
func ParseMonth(s string) (time.Month, bool) {
	s = strings.TrimSpace(s)
	if v, ok := tables.ParseFloat(s); ok {
		if v >= 1 && v <= 12 {
			return time.Month(int(v)), true
		}
		return 0, false
	}
	key := strings.ToLower(s)
	for m := time.January; m <= time.December; m++ {
		name := strings.ToLower(m.String())
		if key == name || (len(key) >= 3 && strings.HasPrefix(name, key)) {
			return m, true
		}
	}
	return 0, false
}
