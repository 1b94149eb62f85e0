package inputs

import (
	"math"
	"testing"
	"time"

	"github.com/devskill-org/capacity-planner/tables"
)

func TestYearTable_Lookup(t *testing.T) {
	tbl := YearTableFrom(tables.FromRows("Capital_cost", [][]string{
		{"Technology", "2026", "FY2027", "2028.0"},
		{"Solar", "1000", "950", ""},
		{"Wind", "1500", "1400", "1300"},
	}))

	if v, ok := tbl.Lookup("solar", 2027); !ok || v != 950 {
		t.Errorf("Expected Solar 2027 = 950, got %v (ok=%v)", v, ok)
	}
	if _, ok := tbl.Lookup("Solar", 2028); ok {
		t.Errorf("Expected blank cell to be a miss")
	}
	if v, ok := tbl.Lookup("WIND", 2028); !ok || v != 1300 {
		t.Errorf("Expected Wind 2028 = 1300, got %v", v)
	}
	if _, ok := tbl.Lookup("Coal", 2026); ok {
		t.Errorf("Expected unknown technology to be a miss")
	}
}

func TestYearTable_FlatSheet(t *testing.T) {
	tbl := YearTableFrom(tables.FromRows("FOM", [][]string{
		{"Technology", "Value"},
		{"Solar", "12"},
		{"All", "5"},
	}))

	if v, ok := tbl.Lookup("Solar", 2031); !ok || v != 12 {
		t.Errorf("Expected flat value 12 for any year, got %v", v)
	}
	if v, ok := tbl.Lookup("Gas", 2031); !ok || v != 5 {
		t.Errorf("Expected All fallback 5, got %v", v)
	}
}

func TestTechTable_Lookup(t *testing.T) {
	tbl := TechTableFrom(tables.FromRows("Lifetime", [][]string{
		{"Technology", "Note", "Lifetime"},
		{"Battery", "li-ion", "15"},
	}))
	if v, ok := tbl.Lookup("battery"); !ok || v != 15 {
		t.Errorf("Expected 15, got %v (ok=%v)", v, ok)
	}
	if _, ok := tbl.Lookup("Coal"); ok {
		t.Errorf("Expected miss without a default row")
	}
}

func TestParseYear(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"2030", 2030, true},
		{"FY2031", 2031, true},
		{"2032.0", 2032, true},
		{"Hour", 0, false},
		{"12", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseYear(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseYear(%q): expected (%d, %v), got (%d, %v)", tt.in, tt.want, tt.ok, got, ok)
		}
	}
}

func TestParseGenerators(t *testing.T) {
	gens := ParseGenerators(tables.FromRows("Generators", [][]string{
		{"Name", "Bus", "Carrier", "p_nom", "Extendable", "marginal_cost", "build_year", "lifetime"},
		{"Coal1", "Main", "Coal", "500", "no", "30", "2010", "40"},
		{"", "Main", "Solar", "", "yes", "", "", ""},
	}))

	if len(gens) != 2 {
		t.Fatalf("Expected 2 generators, got %d", len(gens))
	}
	g := gens[0]
	if g.PNom != 500 || g.Extendable || g.MarginalCost != 30 || !g.HasMarginalCost || g.BuildYear != 2010 {
		t.Errorf("Unexpected first generator: %+v", g)
	}
	if !math.IsInf(g.PNomMax, 1) {
		t.Errorf("Expected unbounded p_nom_max, got %v", g.PNomMax)
	}
	if !math.IsNaN(g.RampLimitUp) {
		t.Errorf("Expected missing ramp limit to be NaN, got %v", g.RampLimitUp)
	}
	if gens[1].Name != "Solar_2" {
		t.Errorf("Expected generated name Solar_2, got %q", gens[1].Name)
	}
	if gens[1].HasMarginalCost {
		t.Errorf("Expected blank marginal cost to be reported as missing")
	}
}

func TestParseStorage_Kinds(t *testing.T) {
	rows := ParseStorage(tables.FromRows("Storage", [][]string{
		{"Name", "Type", "Bus", "Carrier", "p_nom", "e_nom", "max_hours"},
		{"Bat", "StorageUnit", "Main", "Battery", "50", "", "4"},
		{"Tank", "Store", "Main", "H2", "", "1000", ""},
	}))
	if len(rows) != 2 {
		t.Fatalf("Expected 2 storage rows, got %d", len(rows))
	}
	if rows[0].Kind != StorageUnitKind || rows[0].MaxHours != 4 {
		t.Errorf("Expected storage unit with max_hours 4, got %+v", rows[0])
	}
	if rows[1].Kind != StoreKind || rows[1].ENom != 1000 {
		t.Errorf("Expected store with e_nom 1000, got %+v", rows[1])
	}
	if !rows[1].Cyclic {
		t.Errorf("Expected cyclic default true")
	}
}

func TestPipeline_Bounds(t *testing.T) {
	p := ParsePipeline(tables.FromRows("Pipe_Line_Generators", [][]string{
		{"Technology", "Bus", "Year", "Min", "Max"},
		{"Solar", "Main", "2027", "10", "200"},
		{"Wind", "", "2027", "", "50"},
	}))

	lo, hi, ok := p.Bounds("solar", "main", 2027)
	if !ok || lo != 10 || hi != 200 {
		t.Errorf("Expected [10, 200], got [%v, %v] ok=%v", lo, hi, ok)
	}
	if _, hi, ok := p.Bounds("Wind", "Other", 2027); !ok || hi != 50 {
		t.Errorf("Expected bus-less row to match any bus, got %v ok=%v", hi, ok)
	}
	lo, hi, ok = p.Bounds("Solar", "Main", 2030)
	if ok || lo != 0 || !math.IsInf(hi, 1) {
		t.Errorf("Expected default [0, Inf) on miss, got [%v, %v] ok=%v", lo, hi, ok)
	}
}

func TestParseDemandAndProfiles(t *testing.T) {
	demand := ParseDemand(tables.FromRows("Demand", [][]string{
		{"Hour", "2026", "2027"},
		{"1", "10", "11"},
		{"2", "12", "13"},
	}))
	if len(demand) != 2 || demand[2027][1] != 13 {
		t.Errorf("Unexpected demand: %v", demand)
	}

	profiles := ParseProfiles(tables.FromRows("P_max_pu", [][]string{
		{"Hour", "Solar", "Solar_Outside"},
		{"1", "0", "0.1"},
	}))
	if profiles.Len() != 2 {
		t.Errorf("Expected hour column to be ignored, got %d series", profiles.Len())
	}
	if s, ok := profiles.Lookup("solar_outside"); !ok || s[0] != 0.1 {
		t.Errorf("Expected Solar_Outside series, got %v", s)
	}
}

func TestParseCustomDays(t *testing.T) {
	days := ParseCustomDays(tables.FromRows("Custom_days", [][]string{
		{"Month", "Day"},
		{"Apr", "15"},
		{"1", "2"},
		{"Smarch", "3"},
	}))
	if len(days) != 2 {
		t.Fatalf("Expected 2 custom days, got %d", len(days))
	}
	if days[0].Month != time.April || days[1].Month != time.January {
		t.Errorf("Unexpected months: %v", days)
	}
}

func TestInputs_Validate(t *testing.T) {
	in := &Inputs{}
	if err := in.Validate(); err == nil {
		t.Errorf("Expected error for empty inputs")
	}
	in.Buses = []Bus{{Name: "Main"}, {Name: "Main"}}
	in.Demand = map[int][]float64{2026: {1}}
	if err := in.Validate(); err == nil {
		t.Errorf("Expected duplicate bus error")
	}
	in.Buses = in.Buses[:1]
	if err := in.Validate(); err != nil {
		t.Errorf("Expected valid inputs, got %v", err)
	}
}
