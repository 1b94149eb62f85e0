package lifecycle

import (
	"bytes"
	"log"
	"math"
	"strings"
	"testing"

	"github.com/devskill-org/capacity-planner/annuity"
	"github.com/devskill-org/capacity-planner/inputs"
	"github.com/devskill-org/capacity-planner/network"
)

func testLogger(buf *bytes.Buffer) *log.Logger { return log.New(buf, "", 0) }

func TestIsActive_RetirementMonotonicity(t *testing.T) {
	for year := 2021; year <= 2025; year++ {
		if !IsActive(2020, 5, year) {
			t.Errorf("Expected unit built 2020 with lifetime 5 to be active in %d", year)
		}
	}
	for year := 2026; year <= 2035; year++ {
		if IsActive(2020, 5, year) {
			t.Errorf("Expected unit to be retired in %d", year)
		}
	}
	if IsActive(2030, 20, 2029) {
		t.Errorf("Expected unit not yet built to be inactive")
	}
}

func TestRetire(t *testing.T) {
	fleet := Fleet{
		Generators: []network.Generator{
			{Name: "old", BuildYear: 2020, Lifetime: 5},
			{Name: "young", BuildYear: 2024, Lifetime: 25},
		},
		Stores: []network.Store{{Name: "tank", BuildYear: 2000, Lifetime: 10}},
	}

	retired := Retire(&fleet, 2026)

	if len(fleet.Generators) != 1 || fleet.Generators[0].Name != "young" {
		t.Errorf("Expected only young to survive, got %+v", fleet.Generators)
	}
	if len(fleet.Stores) != 0 {
		t.Errorf("Expected tank to retire")
	}
	if len(retired) != 2 {
		t.Errorf("Expected 2 retired names, got %v", retired)
	}
}

func TestRetireUncommissioned(t *testing.T) {
	fleet := Fleet{Generators: []network.Generator{
		{Name: "built", BuildYear: 2025},
		{Name: "planned", BuildYear: 2027},
	}}
	RetireUncommissioned(&fleet)
	if len(fleet.Generators) != 1 || fleet.Generators[0].Name != "built" {
		t.Errorf("Expected planned plant to be excluded, got %+v", fleet.Generators)
	}
}

func TestCarryForward(t *testing.T) {
	prev := &network.Network{
		Year: 2026,
		Generators: []network.Generator{
			{Name: "coal", Carrier: "Coal", PNom: 100, PNomOpt: 150, PNomExtendable: true, P: []float64{1}},
			{Name: "market", Carrier: network.MarketCarrier, PNom: 0, PNomOpt: 40, PNomExtendable: true},
			{Name: "solar_2026", Carrier: "Solar", PNom: 0, PNomOpt: 0, PNomExtendable: true},
		},
		Stores: []network.Store{{Name: "h2", Carrier: "H2", ENom: 10, ENomOpt: 25, ENomExtendable: true}},
	}

	fleet := CarryForward(prev, testLogger(&bytes.Buffer{}))

	if len(fleet.Generators) != 2 {
		t.Fatalf("Expected unbuilt candidate to be dropped, got %d generators", len(fleet.Generators))
	}
	coal := fleet.Generators[0]
	if coal.PNom != 150 {
		t.Errorf("Expected carried p_nom 150, got %v", coal.PNom)
	}
	if coal.PNomExtendable {
		t.Errorf("Expected coal to be fixed after carry-forward")
	}
	if coal.P != nil || coal.PNomOpt != 0 {
		t.Errorf("Expected results to be cleared")
	}
	market := fleet.Generators[1]
	if market.PNom != 40 || !market.PNomExtendable {
		t.Errorf("Expected market p_nom 40 and extendable, got %v / %v", market.PNom, market.PNomExtendable)
	}
	if fleet.Stores[0].ENom != 25 || fleet.Stores[0].ENomExtendable {
		t.Errorf("Expected store e_nom 25 and fixed, got %+v", fleet.Stores[0])
	}

	if prev.Generators[0].PNom != 100 || prev.Generators[0].P == nil {
		t.Errorf("Expected previous network to be left untouched")
	}
}

func testInputs() *inputs.Inputs {
	return &inputs.Inputs{
		BaseGenerators: []inputs.GeneratorRow{
			{Name: "Coal1", Bus: "Main", Carrier: "Coal", PNom: 500, BuildYear: 2010, Lifetime: 40, MarginalCost: 30, HasMarginalCost: true, PNomMax: math.Inf(1), PMaxPU: 1},
			{Name: "Gas_new", Bus: "Main", Carrier: "Gas", PNom: 200, BuildYear: 2028, Lifetime: 30, PMaxPU: 1},
		},
		NewGenerators: []inputs.GeneratorRow{
			{Name: "Solar", Bus: "Main", Carrier: "Solar", PMaxPU: 1},
			{Name: "Wind", Bus: "Main", Carrier: "Wind", PMaxPU: 1},
		},
		NewStorage: []inputs.StorageRow{
			{Kind: inputs.StorageUnitKind, Name: "Battery", Bus: "Main", Carrier: "Battery", MaxHours: 4, EfficiencyStore: 0.95, EfficiencyDispatch: 0.95},
		},
		Lifetimes:    inputs.NewTechTable(map[string]float64{"Solar": 25, "Battery": 15}),
		WACC:         inputs.NewTechTable(map[string]float64{"All": 8}),
		StartupCosts: inputs.NewTechTable(nil),
		CapitalCosts: inputs.NewYearTable(map[string]map[int]float64{"Solar": {2026: 1000}, "Battery": {2026: 800}}),
		FOM:          inputs.NewYearTable(map[string]map[int]float64{"Solar": {2026: 10}}),
		FuelCosts:    inputs.NewYearTable(map[string]map[int]float64{"Gas": {2026: 55}}),
		GeneratorPipeline: inputs.Pipeline{
			{Tech: "Solar", Bus: "Main", Year: 2026, Min: 5, Max: 300},
		},
	}
}

func TestResolve_BaseYear(t *testing.T) {
	var buf bytes.Buffer
	m := NewManager(testInputs(), 2026, testLogger(&buf))

	fleet := m.Resolve(2026, nil)

	names := map[string]network.Generator{}
	for _, g := range fleet.Generators {
		names[g.Name] = g
	}
	if _, ok := names["Gas_new"]; ok {
		t.Errorf("Expected plant built after 2025 to be excluded in the base year")
	}
	if _, ok := names["Coal1"]; !ok {
		t.Errorf("Expected Coal1 in the base fleet")
	}

	solar, ok := names["Solar_2026"]
	if !ok {
		t.Fatalf("Expected candidate Solar_2026, got %v", fleet.Generators)
	}
	if solar.BuildYear != 2026 || !solar.PNomExtendable || solar.PNom != 0 {
		t.Errorf("Unexpected candidate: %+v", solar)
	}
	if solar.PNomMin != 5 || solar.PNomMax != 300 {
		t.Errorf("Expected pipeline bounds [5, 300], got [%v, %v]", solar.PNomMin, solar.PNomMax)
	}
	want := math.Abs(annuity.Payment(0.08, 25, 1000, nil)) + 10
	if math.Abs(solar.CapitalCost-want) > 1e-9 {
		t.Errorf("Expected capital cost %v, got %v", want, solar.CapitalCost)
	}

	wind := names["Wind_2026"]
	if wind.PNomMin != 0 || !math.IsInf(wind.PNomMax, 1) {
		t.Errorf("Expected default bounds [0, Inf) for Wind, got [%v, %v]", wind.PNomMin, wind.PNomMax)
	}
	if wind.Lifetime != DefaultLifetime {
		t.Errorf("Expected default lifetime, got %v", wind.Lifetime)
	}
	if !strings.Contains(buf.String(), "Warning: no lifetime for Wind_2026") {
		t.Errorf("Expected lifetime warning, got %q", buf.String())
	}

	if len(fleet.StorageUnits) != 1 || fleet.StorageUnits[0].Name != "Battery_2026" {
		t.Fatalf("Expected battery candidate, got %+v", fleet.StorageUnits)
	}
	if fleet.Candidates != 3 {
		t.Errorf("Expected 3 candidates, got %d", fleet.Candidates)
	}
}

func TestResolve_FollowingYearUsesPrevious(t *testing.T) {
	m := NewManager(testInputs(), 2026, testLogger(&bytes.Buffer{}))
	prev := &network.Network{
		Year: 2026,
		Generators: []network.Generator{
			{Name: "Coal1", Carrier: "Coal", PNom: 500, PNomOpt: 500, BuildYear: 2010, Lifetime: 15},
			{Name: "Solar_2026", Carrier: "Solar", PNom: 0, PNomOpt: 120, PNomExtendable: true, BuildYear: 2026, Lifetime: 25},
		},
	}

	fleet := m.Resolve(2027, prev)

	var sawSolar bool
	for _, g := range fleet.Generators {
		if g.Name == "Coal1" {
			t.Errorf("Expected Coal1 (2010+15) to be retired in 2027")
		}
		if g.Name == "Solar_2026" {
			sawSolar = true
			if g.PNom != 120 || g.PNomExtendable {
				t.Errorf("Expected carried Solar_2026 fixed at 120, got %+v", g)
			}
		}
	}
	if !sawSolar {
		t.Errorf("Expected Solar_2026 to be carried forward")
	}
	if len(fleet.Retired) != 1 {
		t.Errorf("Expected one retirement, got %v", fleet.Retired)
	}
}
