package optimize

import (
	"bytes"
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"testing"
	"time"

	"gonum.org/v1/gonum/optimize/convex/lp"

	"github.com/devskill-org/capacity-planner/network"
)

// sparseColumns returns a column callback over a matrix given as row maps.
func sparseColumns(cols []map[int]float64) func(k int) ([]int, []float64) {
	return func(k int) ([]int, []float64) {
		var idx []int
		var val []float64
		for i := 0; i < 8; i++ {
			if v, ok := cols[k][i]; ok {
				idx = append(idx, i)
				val = append(val, v)
			}
		}
		return idx, val
	}
}

func TestLUFactor_SolvesAndUpdates(t *testing.T) {
	cols := []map[int]float64{
		{0: 2, 2: 1},
		{1: -1},
		{0: 1, 2: 3},
		{1: 4, 3: 1},
	}
	f := newLUFactor(4)
	if singular, _ := f.factorize(sparseColumns(cols)); singular != nil {
		t.Fatalf("Expected a regular basis, got singular positions %v", singular)
	}

	check := func(step string, want, got []float64) {
		t.Helper()
		for i := range want {
			if !near(got[i], want[i]) {
				t.Errorf("%s: expected %v, got %v", step, want, got)
				return
			}
		}
	}

	out := make([]float64, 4)
	f.ftran([]float64{5, 14, 10, 4}, out)
	check("ftran", []float64{1, 2, 3, 4}, out)

	f.btran([]float64{4, 1, 7, -3.5}, out)
	check("btran", []float64{1, -1, 2, 0.5}, out)

	alpha := make([]float64, 4)
	f.ftran([]float64{0, 2, 0, 1}, alpha)
	f.update(1, alpha)
	if len(f.etas) != 1 {
		t.Fatalf("Expected 1 eta, got %d", len(f.etas))
	}

	f.ftran([]float64{5, 20, 10, 6}, out)
	check("ftran after update", []float64{1, 2, 3, 4}, out)

	f.btran([]float64{4, -1.5, 7, -3.5}, out)
	check("btran after update", []float64{1, -1, 2, 0.5}, out)
}

func TestLUFactor_ReportsDependentColumns(t *testing.T) {
	f := newLUFactor(2)
	singular, free := f.factorize(sparseColumns([]map[int]float64{{0: 1}, {0: 2}}))
	if len(singular) != 1 || singular[0] != 1 {
		t.Errorf("Expected singular position [1], got %v", singular)
	}
	if len(free) != 1 || free[0] != 1 {
		t.Errorf("Expected free row [1], got %v", free)
	}
}

func TestSolve_Unbounded(t *testing.T) {
	m := &Model{}
	x := m.AddVar("x", 0, math.Inf(1), -1)
	y := m.AddVar("y", 0, math.Inf(1), 0)
	m.AddConstraint("spread", []Term{{x, 1}, {y, -1}}, LE, 1)

	_, err := testSolver(&bytes.Buffer{}, DefaultOptions()).Solve(context.Background(), m)
	if !errors.Is(err, lp.ErrUnbounded) {
		t.Errorf("Expected lp.ErrUnbounded, got %v", err)
	}
}

func TestSolve_CancelledContext(t *testing.T) {
	m, _, _ := knapsack()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := testSolver(&bytes.Buffer{}, DefaultOptions()).Solve(ctx, m.Relaxed()); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

// randomLP builds a feasible bounded model around a random interior point.
func randomLP(rng *rand.Rand, vars, rows int) *Model {
	m := &Model{}
	x0 := make([]float64, vars)
	for j := range x0 {
		x0[j] = 10 * rng.Float64()
		lower, upper := 0.0, 10.0
		if j%3 == 0 {
			lower = -10
		}
		m.AddVar("", lower, upper, 10*rng.Float64()-5)
	}
	for i := 0; i < rows; i++ {
		var terms []Term
		var lhs float64
		for j := range x0 {
			if rng.Float64() < 0.4 {
				c := math.Round(20*rng.Float64()-10) / 2
				if c == 0 {
					continue
				}
				terms = append(terms, Term{j, c})
				lhs += c * x0[j]
			}
		}
		if len(terms) == 0 {
			continue
		}
		switch i % 3 {
		case 0:
			m.AddConstraint("", terms, LE, lhs+rng.Float64())
		case 1:
			m.AddConstraint("", terms, GE, lhs-rng.Float64())
		default:
			m.AddConstraint("", terms, EQ, lhs)
		}
	}
	return m
}

func TestSolve_BackendsAgree(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	gonum := DefaultOptions()
	gonum.Name = BackendGonum

	for n := 0; n < 20; n++ {
		m := randomLP(rng, 6+n%5, 3+n%4)
		for _, presolve := range []bool{true, false} {
			sparse := DefaultOptions()
			sparse.Presolve = presolve

			want, err := testSolver(&bytes.Buffer{}, gonum).Solve(context.Background(), m)
			if err != nil {
				t.Logf("case %d: dense backend failed: %v", n, err)
				continue
			}
			got, err := testSolver(&bytes.Buffer{}, sparse).Solve(context.Background(), m)
			if err != nil {
				t.Errorf("case %d presolve=%v: sparse backend failed: %v", n, presolve, err)
				continue
			}
			if math.Abs(got.Objective-want.Objective) > 1e-6*math.Max(1, math.Abs(want.Objective)) {
				t.Errorf("case %d presolve=%v: expected objective %v, got %v", n, presolve, want.Objective, got.Objective)
			}
			if v := m.Violation(got.X); v > 1e-6 {
				t.Errorf("case %d presolve=%v: expected a feasible point, violation %v", n, presolve, v)
			}
		}
	}
}

func TestSolve_GonumBackendTooLarge(t *testing.T) {
	m := &Model{}
	for j := 0; j < 2100; j++ {
		m.AddVar("", 0, math.Inf(1), 1)
	}
	for i := 0; i < 2000; i++ {
		m.AddConstraint("", []Term{{i, 1}}, GE, 1)
	}
	opts := DefaultOptions()
	opts.Name = BackendGonum

	var buf bytes.Buffer
	res, err := testSolver(&buf, opts).Solve(context.Background(), m)
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}
	if !near(res.Objective, 2000) {
		t.Errorf("Expected objective 2000, got %v", res.Objective)
	}
	if !strings.Contains(buf.String(), "Warning: model too large for the gonum backend") {
		t.Errorf("Expected size warning, got %q", buf.String())
	}
}

// diurnal is a clear-sky solar shape peaking at 13:00.
func diurnal(n int) []float64 {
	out := make([]float64, n)
	for t := range out {
		h := float64(t%24) + 0.5
		if h > 6 && h < 20 {
			out[t] = math.Sin(math.Pi * (h - 6) / 14)
		}
	}
	return out
}

func TestFormulate_StorageDayBackendsAgree(t *testing.T) {
	pv := diurnal(24)
	load := make([]float64, 24)
	for t := range load {
		load[t] = 20 + 8*math.Cos(2*math.Pi*float64(t-19)/24)
	}
	net := build(t, 24, load, func(b *network.Builder) {
		solar := generator("solar", "Solar", 40, 0)
		solar.PMaxPU = network.SeriesProfile(pv)
		b.AddGenerator(solar).
			AddGenerator(generator("gas", "Gas", 15, 60)).
			AddGenerator(market()).
			AddStorageUnit(network.StorageUnit{
				Name: "battery", Bus: "Main", Carrier: "Battery",
				PNom: 10, PNomMax: 10, MaxHours: 4,
				EfficiencyStore: 0.95, EfficiencyDispatch: 0.95, CyclicStateOfCharge: true,
			})
	})

	dense := DefaultOptions()
	dense.Name = BackendGonum
	_, want := solveNetwork(t, net, dense)
	f, got := solveNetwork(t, net, DefaultOptions())
	if math.Abs(got.Objective-want.Objective) > 1e-6*math.Max(1, math.Abs(want.Objective)) {
		t.Errorf("Expected objective %v, got %v", want.Objective, got.Objective)
	}
	if v := f.Model.Violation(got.X); v > 1e-6 {
		t.Errorf("Expected a feasible dispatch, violation %v", v)
	}
}

func TestFormulate_FullYearHourlySolar(t *testing.T) {
	if testing.Short() {
		t.Skip("full year solve")
	}
	const n = 8760
	pv := diurnal(n)
	load := make([]float64, n)
	for t := range load {
		day := float64(t / 24)
		load[t] = 45 + 12*math.Sin(2*math.Pi*float64(t%24-8)/24) + 8*math.Cos(2*math.Pi*day/365) + 0.01*float64(t%97)
	}
	net := build(t, n, load, func(b *network.Builder) {
		solar := generator("solar", "Solar", 20, 0)
		solar.PMaxPU = network.SeriesProfile(pv)
		m := market()
		m.CapitalCost = 1000
		b.AddGenerator(m).
			AddGenerator(generator("coal", "Coal", 30, 20)).
			AddGenerator(solar)
	})

	// merit order: solar, then coal, then the market sized to its peak
	var want, peak float64
	for t := range load {
		residual := math.Max(0, load[t]-20*pv[t])
		coal := math.Min(30, residual)
		imports := residual - coal
		want += 20*coal + 100*imports
		peak = math.Max(peak, imports)
	}
	want += 1000 * peak

	opts := DefaultOptions()
	opts.Aggregate = false
	f, err := Formulate(net, opts)
	if err != nil {
		t.Fatalf("Formulate failed: %v", err)
	}
	if len(f.Periods) != n {
		t.Fatalf("Expected %d periods, got %d", n, len(f.Periods))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	res, err := testSolver(&bytes.Buffer{}, opts).Solve(ctx, f.Model)
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}
	if math.Abs(res.Objective-want) > 1e-6*want {
		t.Errorf("Expected objective %v, got %v", want, res.Objective)
	}
	if v := f.Model.Violation(res.X); v > 1e-5 {
		t.Errorf("Expected a feasible dispatch, violation %v", v)
	}
	f.Apply(res)
	if g, _ := net.Generator("Market"); !near(g.PNomOpt, peak) {
		t.Errorf("Expected market capacity %v, got %v", peak, g.PNomOpt)
	}
}
