package expansion

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/devskill-org/capacity-planner/inputs"
	"github.com/devskill-org/capacity-planner/network"
	"github.com/devskill-org/capacity-planner/results"
	"github.com/devskill-org/capacity-planner/tables"
)

func flat(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// marketInputs is a single bus served by an unlimited Market import.
func marketInputs() *inputs.Inputs {
	return &inputs.Inputs{
		Buses: []inputs.Bus{{Name: "Main"}},
		BaseGenerators: []inputs.GeneratorRow{{
			Name: "Market", Bus: "Main", Carrier: "Market",
			Extendable: true, PNomMax: math.Inf(1),
			MarginalCost: 100, HasMarginalCost: true,
			BuildYear: 2020, Lifetime: 100,
			RampLimitUp: math.NaN(), RampLimitDown: math.NaN(),
			PMaxPU: 1,
		}},
		Carriers: []inputs.CarrierRow{{Name: "Market"}},
		Demand: map[int][]float64{
			2026: flat(8760, 10),
			2027: flat(8760, 10),
		},
	}
}

func gathered(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name || len(mf.GetMetric()) == 0 {
			continue
		}
		m := mf.GetMetric()[0]
		if m.GetCounter() != nil {
			return m.GetCounter().GetValue()
		}
		return m.GetGauge().GetValue()
	}
	t.Fatalf("Metric %s not found", name)
	return 0
}

type recordingStore struct {
	mu    sync.Mutex
	years []int
	err   error
}

func (s *recordingStore) SaveYear(_ context.Context, rec results.YearRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.years = append(s.years, rec.Year)
	return s.err
}

func TestEngine_TwoYearMarketRun(t *testing.T) {
	var logBuf bytes.Buffer
	reg := prometheus.NewRegistry()
	engine := NewEngine(&logBuf, NewMetrics(reg))
	out := t.TempDir()
	store := &recordingStore{}

	report := engine.Run(context.Background(), Request{
		Inputs:    marketInputs(),
		OutputDir: out,
		Scenario:  "base",
		Store:     store,
	})

	if report.State != StateCompleted {
		t.Fatalf("Expected Completed, got %s: %s", report.State, report.Message)
	}
	if len(report.Years) != 2 || report.Years[0].Year != 2026 || report.Years[1].Year != 2027 {
		t.Fatalf("Expected years 2026 and 2027, got %+v", report.Years)
	}

	want := 100.0 * 10 * 8760
	for _, yr := range report.Years {
		if math.Abs(yr.Objective-want) > 1e-6*want {
			t.Errorf("Year %d: expected objective %v, got %v", yr.Year, want, yr.Objective)
		}
		if _, err := os.Stat(filepath.Join(out, "base", strconv.Itoa(yr.Year), results.NetworkFile)); err != nil {
			t.Errorf("Expected network file for %d: %v", yr.Year, err)
		}
	}

	g, ok := report.Years[1].Network.Generator("Market")
	if !ok {
		t.Fatalf("Expected Market in the second year")
	}
	if g.PNom != 10 {
		t.Errorf("Expected second year to start from the built 10 MW, got %v", g.PNom)
	}
	if !g.PNomExtendable {
		t.Errorf("Expected Market to stay extendable")
	}
	first, _ := report.Years[0].Network.Generator("Market")
	if first.PNom != 0 || first.PNomOpt != 10 {
		t.Errorf("Expected first year network untouched (p_nom 0, p_nom_opt 10), got %v / %v", first.PNom, first.PNomOpt)
	}

	var sawFile bool
	for _, f := range report.Files {
		if filepath.IsAbs(f) {
			t.Errorf("Expected relative file, got %s", f)
		}
		if f == filepath.Join("2027", "generators.csv") {
			sawFile = true
		}
	}
	if !sawFile {
		t.Errorf("Expected 2027/generators.csv in %v", report.Files)
	}

	if len(store.years) != 2 {
		t.Errorf("Expected 2 persisted years, got %v", store.years)
	}
	if got := gathered(t, reg, "planner_years_completed_total"); got != 2 {
		t.Errorf("Expected 2 completed years in metrics, got %v", got)
	}
	if got := gathered(t, reg, "planner_run_in_progress"); got != 0 {
		t.Errorf("Expected running gauge back at 0, got %v", got)
	}
	if len(report.Log) == 0 || !strings.Contains(logBuf.String(), "[PLANNER] ") {
		t.Errorf("Expected run log to be collected and mirrored")
	}
	if status := engine.Status(); status.State != StateCompleted || status.Log != nil {
		t.Errorf("Unexpected status snapshot: %+v", status)
	}
}

func TestEngine_SingleYearMode(t *testing.T) {
	engine := NewEngine(nil, nil)
	report := engine.Run(context.Background(), Request{
		Inputs:    marketInputs(),
		Overrides: map[string]string{"Multi Year Investment": "No"},
		OutputDir: t.TempDir(),
		Scenario:  "single",
	})

	if report.State != StateCompleted {
		t.Fatalf("Expected Completed, got %s: %s", report.State, report.Message)
	}
	if len(report.Years) != 1 || report.Years[0].Year != 2026 {
		t.Errorf("Expected only the base year, got %+v", report.Years)
	}
}

func TestEngine_Failures(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	noDemand := marketInputs()
	noDemand.Demand = nil

	tests := []struct {
		name    string
		ctx     context.Context
		req     Request
		message string
	}{
		{
			name:    "no inputs",
			ctx:     context.Background(),
			req:     Request{Scenario: "x"},
			message: "Missing input",
		},
		{
			name:    "invalid inputs",
			ctx:     context.Background(),
			req:     Request{Inputs: noDemand, Scenario: "x"},
			message: "Missing input",
		},
		{
			name:    "all in one",
			ctx:     context.Background(),
			req:     Request{Inputs: marketInputs(), Scenario: "x", Overrides: map[string]string{"multi_year": "All in One multi year"}},
			message: "Not implemented",
		},
		{
			name:    "bad setting",
			ctx:     context.Background(),
			req:     Request{Inputs: marketInputs(), Scenario: "x", Overrides: map[string]string{"resolution": "0"}},
			message: "Configuration error",
		},
		{
			name:    "base year without demand",
			ctx:     context.Background(),
			req:     Request{Inputs: marketInputs(), Scenario: "x", Overrides: map[string]string{"base_year": "2030"}},
			message: "Configuration error",
		},
		{
			name:    "cancelled",
			ctx:     cancelled,
			req:     Request{Inputs: marketInputs(), Scenario: "x"},
			message: "Run failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.OutputDir = t.TempDir()
			report := NewEngine(nil, nil).Run(tt.ctx, tt.req)
			if report.State != StateFailed {
				t.Fatalf("Expected Failed, got %s", report.State)
			}
			if !strings.HasPrefix(report.Message, tt.message) {
				t.Errorf("Expected message starting with %q, got %q", tt.message, report.Message)
			}
			if len(report.Years) != 0 {
				t.Errorf("Expected no completed years, got %d", len(report.Years))
			}
		})
	}
}

func TestEngine_StoreFailureOnlyWarns(t *testing.T) {
	engine := NewEngine(nil, nil)
	report := engine.Run(context.Background(), Request{
		Inputs:    marketInputs(),
		Overrides: map[string]string{"multi_year": "No"},
		OutputDir: t.TempDir(),
		Scenario:  "s",
		Store:     &recordingStore{err: errors.New("connection refused")},
	})

	if report.State != StateCompleted {
		t.Fatalf("Expected Completed despite store failure, got %s", report.State)
	}
	if !strings.Contains(strings.Join(report.Log, "\n"), "Warning: failed to persist year 2026") {
		t.Errorf("Expected persistence warning in the run log")
	}
}

// cancellingStore cancels the run once the first year is persisted.
type cancellingStore struct {
	recordingStore
	cancel context.CancelFunc
}

func (s *cancellingStore) SaveYear(ctx context.Context, rec results.YearRecord) error {
	err := s.recordingStore.SaveYear(ctx, rec)
	s.cancel()
	return err
}

func TestEngine_FailureKeepsCompletedYears(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := &cancellingStore{cancel: cancel}

	engine := NewEngine(nil, nil)
	report := engine.Run(ctx, Request{
		Inputs:    marketInputs(),
		OutputDir: t.TempDir(),
		Scenario:  "partial",
		Store:     store,
	})

	if report.State != StateFailed {
		t.Fatalf("Expected Failed, got %s", report.State)
	}
	if !strings.HasPrefix(report.Message, "Run failed") {
		t.Errorf("Expected run failure message, got %q", report.Message)
	}
	if len(report.Years) != 1 || report.Years[0].Year != 2026 {
		t.Fatalf("Expected 2026 to stay in the report, got %+v", report.Years)
	}
	if len(report.Files) == 0 {
		t.Fatalf("Expected the files of 2026 to stay in the report")
	}
	for _, f := range report.Files {
		if !strings.HasPrefix(f, "2026"+string(filepath.Separator)) {
			t.Errorf("Expected only 2026 files, got %s", f)
		}
	}
	if status := engine.Status(); status.State != StateFailed || len(status.Years) != 1 || len(status.Files) != len(report.Files) {
		t.Errorf("Expected status to keep the completed year, got %+v", status)
	}
}

func TestEngine_SkipsYearWithoutSnapshots(t *testing.T) {
	in := marketInputs()
	// February 29 only exists in leap fiscal years
	in.CustomDays = []inputs.CustomDay{{Month: time.February, Day: 29}}
	in.Demand = map[int][]float64{
		2028: flat(8784, 10),
		2029: flat(8760, 10),
		2032: flat(8784, 10),
	}

	report := NewEngine(nil, nil).Run(context.Background(), Request{
		Inputs:    in,
		Overrides: map[string]string{"strategy": "Critical days"},
		OutputDir: t.TempDir(),
		Scenario:  "leap",
	})

	if report.State != StateCompleted {
		t.Fatalf("Expected Completed, got %s: %s", report.State, report.Message)
	}
	if len(report.Skipped) != 1 || report.Skipped[0] != 2029 {
		t.Errorf("Expected 2029 to be skipped, got %v", report.Skipped)
	}
	if len(report.Years) != 2 || report.Years[0].Year != 2028 || report.Years[1].Year != 2032 {
		t.Fatalf("Expected years 2028 and 2032, got %+v", report.Years)
	}
	if n := len(report.Years[0].Network.Snapshots); n != 24 {
		t.Errorf("Expected 24 snapshots in 2028, got %d", n)
	}

	g, ok := report.Years[1].Network.Generator("Market")
	if !ok {
		t.Fatalf("Expected Market in 2032")
	}
	if g.PNom != 10 {
		t.Errorf("Expected 2032 to start from the 10 MW built in 2028, got %v", g.PNom)
	}
	if !strings.Contains(report.Message, "skipped [2029]") {
		t.Errorf("Expected skipped years in the message, got %q", report.Message)
	}
}

func TestAssembler_OutsideProfilesAndCommitment(t *testing.T) {
	in := marketInputs()
	in.Buses = append(in.Buses, inputs.Bus{Name: "Remote", Outside: true})
	in.PMaxPU = inputs.NewProfiles(map[string][]float64{
		"Solar":         flat(8760, 0.5),
		"Solar_Outside": flat(8760, 0.25),
	})
	in.SettingsTables = map[string]tables.Table{
		CommitabilityTable: tables.FromRows(CommitabilityTable, [][]string{{"carrier", "committable"}, {"Gas", "true"}}),
	}
	in.BaseGenerators = append(in.BaseGenerators,
		inputs.GeneratorRow{Name: "PV_in", Bus: "Main", Carrier: "Solar", PNom: 5, BuildYear: 2020, Lifetime: 25, PMaxPU: 1, HasMarginalCost: true, RampLimitUp: math.NaN(), RampLimitDown: math.NaN()},
		inputs.GeneratorRow{Name: "PV_out", Bus: "Remote", Carrier: "Solar", PNom: 5, BuildYear: 2020, Lifetime: 25, PMaxPU: 1, HasMarginalCost: true, RampLimitUp: math.NaN(), RampLimitDown: math.NaN()},
		inputs.GeneratorRow{Name: "Gas1", Bus: "Main", Carrier: "Gas", PNom: 5, BuildYear: 2020, Lifetime: 25, PMaxPU: 1, HasMarginalCost: true, RampLimitUp: math.NaN(), RampLimitDown: math.NaN()},
	)

	report := NewEngine(nil, nil).Run(context.Background(), Request{
		Inputs:    in,
		Overrides: map[string]string{"multi_year": "No", "unit_commitment": "false"},
		OutputDir: t.TempDir(),
		Scenario:  "profiles",
	})
	if report.State != StateCompleted {
		t.Fatalf("Expected Completed, got %s: %s", report.State, report.Message)
	}

	net := report.Years[0].Network
	pvIn, _ := net.Generator("PV_in")
	pvOut, _ := net.Generator("PV_out")
	if pvIn.PMaxPU.At(100) != 0.5 || pvOut.PMaxPU.At(100) != 0.25 {
		t.Errorf("Expected 0.5 inside and 0.25 outside, got %v and %v", pvIn.PMaxPU.At(100), pvOut.PMaxPU.At(100))
	}
	gas, _ := net.Generator("Gas1")
	if gas.Committable {
		t.Errorf("Expected no commitment with unit commitment off")
	}

	a := &assembler{in: in, engine: NewEngine(nil, nil)}
	a.settings.UnitCommitment = true
	commit := a.commitment()
	g := network.Generator{Name: "Gas1", Carrier: "Gas"}
	a.applyCommitment(&g, commit)
	if !g.Committable {
		t.Errorf("Expected Gas to be committable from the table")
	}
	ext := network.Generator{Name: "Gas_2027", Carrier: "Gas", PNomExtendable: true}
	a.applyCommitment(&ext, commit)
	if ext.Committable {
		t.Errorf("Expected extendable unit to stay non-committable")
	}
}

func TestRestrictToSolarHours(t *testing.T) {
	mask := []float64{0, 1, 1, 0}
	tests := []struct {
		name string
		link network.Link
		want []float64
	}{
		{"charge", network.Link{Name: "Invertor_charge", Mode: network.ModeCharge, PMaxPU: network.StaticProfile(1)}, []float64{0, 1, 1, 0}},
		{"discharge", network.Link{Name: "Invertor_out", Mode: network.ModeDischarge, PMaxPU: network.StaticProfile(0.8)}, []float64{0.8, 0, 0, 0.8}},
		{"inferred", network.Link{Name: "Inverter_discharging", PMaxPU: network.StaticProfile(1)}, []float64{1, 0, 0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := tt.link
			restrictToSolarHours(&l, mask)
			for i, w := range tt.want {
				if l.PMaxPU.At(i) != w {
					t.Errorf("Snapshot %d: expected %v, got %v", i, w, l.PMaxPU.At(i))
				}
			}
		})
	}

	if !isInvertor("Invertor_1") || !isInvertor("inverter") || isInvertor("Line_1") {
		t.Errorf("Unexpected invertor classification")
	}
}

func TestRunLog(t *testing.T) {
	var mirror bytes.Buffer
	l := NewRunLog(&mirror)
	ch, cancel := l.Subscribe(4)

	l.Write([]byte("first\nsec"))
	l.Write([]byte("ond\n"))

	if got := l.Lines(); len(got) != 2 || got[1] != "second" {
		t.Errorf("Expected [first second], got %v", got)
	}
	if mirror.String() != "first\nsecond\n" {
		t.Errorf("Expected mirror copy, got %q", mirror.String())
	}

	select {
	case line := <-ch:
		if line != "first" {
			t.Errorf("Expected first line, got %q", line)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected a line on the subscription")
	}

	cancel()
	cancel()
	l.Write([]byte("third\n"))
	<-ch // buffered "second"
	if _, ok := <-ch; ok {
		t.Errorf("Expected channel to be closed after cancel")
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&InputError{Resource: "Demand", Err: os.ErrNotExist}, "Missing input"},
		{&ConfigError{Field: "Settings", Message: "bad"}, "Configuration error"},
		{ErrNotImplemented, "Not implemented"},
		{errors.New("boom"), "Run failed"},
	}
	for _, tt := range tests {
		if got := describe(tt.err); !strings.HasPrefix(got, tt.want) {
			t.Errorf("Expected %q prefix, got %q", tt.want, got)
		}
	}

	var inErr *InputError
	if !errors.As(&InputError{Resource: "x", Err: os.ErrNotExist}, &inErr) || !errors.Is(inErr, os.ErrNotExist) {
		t.Errorf("Expected InputError to unwrap")
	}
}
