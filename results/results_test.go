package results

import (
	"context"
	"database/sql"
	"encoding/csv"
	"log"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/devskill-org/capacity-planner/network"
)

func solvedNetwork() *network.Network {
	start := time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC)
	return &network.Network{
		Year:       2026,
		Snapshots:  []time.Time{start, start.Add(time.Hour)},
		Weightings: []float64{1, 1},
		Buses:      []network.Bus{{Name: "Main"}},
		Carriers:   []network.Carrier{{Name: "Market"}},
		Loads:      []network.Load{{Name: "load", Bus: "Main", PSet: []float64{10, 10}}},
		Generators: []network.Generator{{
			Name: "Market", Bus: "Main", Carrier: "Market",
			PNomExtendable: true, PNomMax: math.Inf(1), MarginalCost: 100,
			RampLimitUp: math.NaN(), RampLimitDown: math.NaN(),
			PMaxPU:  network.StaticProfile(1),
			PNomOpt: 10, P: []float64{10, 10},
		}},
		StorageUnits: []network.StorageUnit{{
			Name: "bat", Bus: "Main", Carrier: "Battery", PNom: 5, PNomMax: 5, MaxHours: 2,
			EfficiencyStore: 1, EfficiencyDispatch: 1, PNomOpt: 5,
			PDispatch: []float64{0, 3}, PStore: []float64{3, 0},
		}},
		Objective: 2000,
		Solved:    true,
	}
}

func TestExport(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "scenario", "2026")
	files, err := Export(solvedNetwork(), dir)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	want := map[string]bool{"generators.csv": true, "generators_p.csv": true, "snapshots.csv": true, NetworkFile: true, "storage_units_p.csv": true}
	for _, f := range files {
		if filepath.IsAbs(f) {
			t.Errorf("Expected relative file name, got %s", f)
		}
		if _, err := os.Stat(filepath.Join(dir, f)); err != nil {
			t.Errorf("Expected %s on disk: %v", f, err)
		}
		delete(want, f)
	}
	if len(want) != 0 {
		t.Errorf("Missing files: %v", want)
	}

	file, err := os.Open(filepath.Join(dir, "storage_units_p.csv"))
	if err != nil {
		t.Fatalf("Failed to open storage series: %v", err)
	}
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("Failed to read storage series: %v", err)
	}
	if len(rows) != 3 || rows[0][1] != "bat" || rows[1][1] != "-3" || rows[2][1] != "3" {
		t.Errorf("Unexpected storage series: %v", rows)
	}
	if rows[1][0] != "2025-04-01 00:00:00" {
		t.Errorf("Unexpected snapshot label %q", rows[1][0])
	}
}

func TestNetworkJSON_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), NetworkFile)
	if err := WriteNetworkJSON(solvedNetwork(), path); err != nil {
		t.Fatalf("WriteNetworkJSON failed: %v", err)
	}

	net, err := ReadNetworkJSON(path)
	if err != nil {
		t.Fatalf("ReadNetworkJSON failed: %v", err)
	}
	g := net.Generators[0]
	if g.PNomOpt != 10 || !math.IsInf(g.PNomMax, 1) || !math.IsNaN(g.RampLimitUp) {
		t.Errorf("Unexpected generator after round trip: %+v", g)
	}
	if net.Objective != 2000 || !net.Solved || len(net.Snapshots) != 2 {
		t.Errorf("Unexpected network after round trip: %s", net.Summary())
	}
}

func TestReadNetworkJSON_Missing(t *testing.T) {
	if _, err := ReadNetworkJSON(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestCapacities(t *testing.T) {
	caps := Capacities(solvedNetwork())
	if len(caps) != 2 {
		t.Fatalf("Expected 2 capacities, got %d", len(caps))
	}
	if caps[0].Component != "generator" || caps[0].Optimal != 10 {
		t.Errorf("Unexpected generator capacity: %+v", caps[0])
	}
	if caps[1].Component != "storage_unit" || caps[1].Nominal != 5 {
		t.Errorf("Unexpected storage capacity: %+v", caps[1])
	}
}

func TestPostgresStore_SaveAndLoad(t *testing.T) {
	// Skip if no database connection available
	connString := os.Getenv("TEST_POSTGRES_CONN")
	if connString == "" {
		t.Skip("Skipping test: TEST_POSTGRES_CONN not set")
	}

	ctx := context.Background()
	store, err := OpenPostgres(ctx, connString, "planner_test", log.New(os.Stdout, "TEST: ", log.LstdFlags))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	rec := YearRecord{RunID: uuid.New(), Scenario: "test", Year: 2026, Objective: 2000, Network: solvedNetwork()}
	if err := store.SaveYear(ctx, rec); err != nil {
		t.Fatalf("SaveYear failed: %v", err)
	}
	// saving again must replace, not duplicate
	if err := store.SaveYear(ctx, rec); err != nil {
		t.Fatalf("second SaveYear failed: %v", err)
	}

	caps, err := store.LoadCapacities(ctx, "test", 2026)
	if err != nil {
		t.Fatalf("LoadCapacities failed: %v", err)
	}
	if len(caps) != 2 {
		t.Errorf("Expected 2 capacities, got %d", len(caps))
	}

	db, err := sql.Open("postgres", connString)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	var objective float64
	if err := db.QueryRow(`SELECT objective FROM planner_test_years WHERE scenario = 'test' AND year = 2026`).Scan(&objective); err != nil {
		t.Fatalf("Failed to query year row: %v", err)
	}
	if objective != 2000 {
		t.Errorf("Expected objective 2000, got %v", objective)
	}
}
