// Package network defines the optimization network of one simulated year
// and the builder that assembles it.
package network

import (
	"fmt"
	"math"
	"time"
)

// MarketCarrier stays extendable in every year.
const MarketCarrier = "Market"

// Link modes for invertor links.
const (
	ModeCharge    = "charge"
	ModeDischarge = "discharge"
)

// Profile is a per-unit bound that is either static or one value per snapshot.
type Profile struct {
	Static float64   `json:"static"`
	Series []float64 `json:"series,omitempty"`
}

// StaticProfile returns a constant profile.
func StaticProfile(v float64) Profile { return Profile{Static: v} }

// SeriesProfile returns a time-varying profile.
func SeriesProfile(s []float64) Profile { return Profile{Series: s} }

// At returns the value at snapshot t.
func (p Profile) At(t int) float64 {
	if p.Series == nil {
		return p.Static
	}
	if t < 0 || t >= len(p.Series) {
		return p.Static
	}
	return p.Series[t]
}

// IsSeries reports whether the profile varies over snapshots.
func (p Profile) IsSeries() bool { return p.Series != nil }

// Bus is a network node.
type Bus struct {
	Name    string  `json:"name"`
	Carrier string  `json:"carrier"`
	Outside bool    `json:"outside"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

// Carrier is a technology or fuel class.
type Carrier struct {
	Name         string  `json:"name"`
	CO2Emissions float64 `json:"co2_emissions"`
	Color        string  `json:"color,omitempty"`
	NiceName     string  `json:"nice_name,omitempty"`
}

// Load is a fixed demand at a bus.
type Load struct {
	Name string    `json:"name"`
	Bus  string    `json:"bus"`
	PSet []float64 `json:"p_set"`
}

// Generator is a dispatchable or variable generation unit.
type Generator struct {
	Name    string `json:"name"`
	Bus     string `json:"bus"`
	Carrier string `json:"carrier"`

	PNom           float64 `json:"p_nom"`
	PNomExtendable bool    `json:"p_nom_extendable"`
	PNomMin        float64 `json:"p_nom_min"`
	PNomMax        float64 `json:"p_nom_max"`
	MarginalCost   float64 `json:"marginal_cost"`
	CapitalCost    float64 `json:"capital_cost"`
	BuildYear      int     `json:"build_year"`
	Lifetime       float64 `json:"lifetime"`

	Committable   bool    `json:"committable"`
	MinUpTime     int     `json:"min_up_time"`
	MinDownTime   int     `json:"min_down_time"`
	RampLimitUp   float64 `json:"ramp_limit_up"` // NaN = unlimited
	RampLimitDown float64 `json:"ramp_limit_down"`
	StartUpCost   float64 `json:"start_up_cost"`
	ShutDownCost  float64 `json:"shut_down_cost"`

	PMinPU Profile `json:"p_min_pu"`
	PMaxPU Profile `json:"p_max_pu"`

	PNomOpt float64   `json:"p_nom_opt"`
	P       []float64 `json:"p,omitempty"`
	Status  []float64 `json:"status,omitempty"`
}

// HasRampLimits reports whether either ramp limit is set.
func (g *Generator) HasRampLimits() bool {
	return isLimit(g.RampLimitUp) || isLimit(g.RampLimitDown)
}

func isLimit(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 1)
}

// StorageUnit couples power and energy capacity through MaxHours.
type StorageUnit struct {
	Name    string `json:"name"`
	Bus     string `json:"bus"`
	Carrier string `json:"carrier"`

	PNom           float64 `json:"p_nom"`
	PNomExtendable bool    `json:"p_nom_extendable"`
	PNomMin        float64 `json:"p_nom_min"`
	PNomMax        float64 `json:"p_nom_max"`

	MaxHours             float64 `json:"max_hours"`
	EfficiencyStore      float64 `json:"efficiency_store"`
	EfficiencyDispatch   float64 `json:"efficiency_dispatch"`
	StandingLoss         float64 `json:"standing_loss"`
	CyclicStateOfCharge  bool    `json:"cyclic_state_of_charge"`
	StateOfChargeInitial float64 `json:"state_of_charge_initial"`
	MarginalCost         float64 `json:"marginal_cost"`
	CapitalCost          float64 `json:"capital_cost"`
	BuildYear            int     `json:"build_year"`
	Lifetime             float64 `json:"lifetime"`

	PNomOpt       float64   `json:"p_nom_opt"`
	PDispatch     []float64 `json:"p_dispatch,omitempty"`
	PStore        []float64 `json:"p_store,omitempty"`
	StateOfCharge []float64 `json:"state_of_charge,omitempty"`
}

// Store is an energy reservoir with free charge and discharge power.
type Store struct {
	Name    string `json:"name"`
	Bus     string `json:"bus"`
	Carrier string `json:"carrier"`

	ENom           float64 `json:"e_nom"`
	ENomExtendable bool    `json:"e_nom_extendable"`
	ENomMin        float64 `json:"e_nom_min"`
	ENomMax        float64 `json:"e_nom_max"`

	ECyclic      bool    `json:"e_cyclic"`
	EInitial     float64 `json:"e_initial"`
	StandingLoss float64 `json:"standing_loss"`
	MarginalCost float64 `json:"marginal_cost"`
	CapitalCost  float64 `json:"capital_cost"`
	BuildYear    int     `json:"build_year"`
	Lifetime     float64 `json:"lifetime"`

	ENomOpt float64   `json:"e_nom_opt"`
	P       []float64 `json:"p,omitempty"` // positive = discharge
	E       []float64 `json:"e,omitempty"`
}

// Link moves power from Bus0 to Bus1 with a loss factor.
type Link struct {
	Name    string `json:"name"`
	Bus0    string `json:"bus0"`
	Bus1    string `json:"bus1"`
	Carrier string `json:"carrier"`

	PNom           float64 `json:"p_nom"`
	PNomExtendable bool    `json:"p_nom_extendable"`
	PNomMin        float64 `json:"p_nom_min"`
	PNomMax        float64 `json:"p_nom_max"`
	Efficiency     float64 `json:"efficiency"`
	PMinPU         Profile `json:"p_min_pu"`
	PMaxPU         Profile `json:"p_max_pu"`
	MarginalCost   float64 `json:"marginal_cost"`
	CapitalCost    float64 `json:"capital_cost"`
	BuildYear      int     `json:"build_year"`
	Lifetime       float64 `json:"lifetime"`
	Mode           string  `json:"mode,omitempty"`

	PNomOpt float64   `json:"p_nom_opt"`
	P0      []float64 `json:"p0,omitempty"`
}

// Network is the model of one simulated year. It is only created through a
// Builder.
type Network struct {
	Year       int         `json:"year"`
	Snapshots  []time.Time `json:"snapshots"`
	Weightings []float64   `json:"snapshot_weightings"`

	Buses        []Bus         `json:"buses"`
	Carriers     []Carrier     `json:"carriers"`
	Loads        []Load        `json:"loads"`
	Generators   []Generator   `json:"generators"`
	StorageUnits []StorageUnit `json:"storage_units"`
	Stores       []Store       `json:"stores"`
	Links        []Link        `json:"links"`

	Objective float64 `json:"objective"`
	Solved    bool    `json:"solved"`
}

// BusIndex returns the position of every bus by name.
func (n *Network) BusIndex() map[string]int {
	idx := make(map[string]int, len(n.Buses))
	for i, b := range n.Buses {
		idx[b.Name] = i
	}
	return idx
}

// Generator returns the named generator.
func (n *Network) Generator(name string) (*Generator, bool) {
	for i := range n.Generators {
		if n.Generators[i].Name == name {
			return &n.Generators[i], true
		}
	}
	return nil, false
}

// HasCarrier reports whether a carrier is registered.
func (n *Network) HasCarrier(name string) bool {
	for _, c := range n.Carriers {
		if c.Name == name {
			return true
		}
	}
	return false
}

// Empty reports whether there is nothing to optimize.
func (n *Network) Empty() bool { return len(n.Snapshots) == 0 }

// Summary renders component counts for logging.
func (n *Network) Summary() string {
	return fmt.Sprintf("%d snapshots, %d buses, %d carriers, %d loads, %d generators, %d storage units, %d stores, %d links",
		len(n.Snapshots), len(n.Buses), len(n.Carriers), len(n.Loads), len(n.Generators), len(n.StorageUnits), len(n.Stores), len(n.Links))
}

// TotalLoad returns the weighted energy demand over all snapshots.
func (n *Network) TotalLoad() float64 {
	var total float64
	for _, l := range n.Loads {
		for t, v := range l.PSet {
			if t < len(n.Weightings) {
				total += v * n.Weightings[t]
			}
		}
	}
	return total
}
