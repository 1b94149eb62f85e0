package snapshots

import (
	"bytes"
	"log"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/devskill-org/capacity-planner/inputs"
	"github.com/devskill-org/capacity-planner/settings"
)

func quietLogger(buf *bytes.Buffer) *log.Logger {
	return log.New(buf, "", 0)
}

func TestGenerate_AllSnapshotsCounts(t *testing.T) {
	tests := []struct {
		name       string
		year       int
		resolution int
		want       int
	}{
		{"hourly", 2027, 1, 8760},
		{"hourly leap window", 2028, 1, 8784},
		{"three hourly", 2027, 3, 2920},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Generate(Request{Year: tt.year, Strategy: settings.AllSnapshots, Resolution: tt.resolution}, quietLogger(&bytes.Buffer{}))
			if len(res.Snapshots) != tt.want {
				t.Errorf("Expected %d snapshots, got %d", tt.want, len(res.Snapshots))
			}
			if res.Snapshots[0] != FiscalYearStart(tt.year) {
				t.Errorf("Expected first snapshot at %v, got %v", FiscalYearStart(tt.year), res.Snapshots[0])
			}
		})
	}
}

func TestCalendar_Bounds(t *testing.T) {
	cal := Calendar(2027)
	first := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(2027, time.March, 31, 23, 0, 0, 0, time.UTC)
	if cal[0] != first || cal[len(cal)-1] != last {
		t.Errorf("Expected %v..%v, got %v..%v", first, last, cal[0], cal[len(cal)-1])
	}
}

func TestGenerate_TypicalDays(t *testing.T) {
	cal := Calendar(2027)
	demand := make([]float64, len(cal))
	for i := range demand {
		demand[i] = float64(i % 500)
	}

	res := Generate(Request{Year: 2027, Strategy: settings.TypicalDays, Resolution: 1, Demand: demand}, quietLogger(&bytes.Buffer{}))

	if len(res.Snapshots) == 0 {
		t.Fatalf("Expected typical weeks to be selected")
	}
	if limit := 12 * 7 * 24; len(res.Snapshots) > limit {
		t.Errorf("Expected at most %d snapshots, got %d", limit, len(res.Snapshots))
	}

	inCalendar := make(map[time.Time]bool, len(cal))
	for _, c := range cal {
		inCalendar[c] = true
	}
	for i, s := range res.Snapshots {
		if !inCalendar[s] {
			t.Fatalf("Snapshot %v is not in the fiscal calendar", s)
		}
		if i > 0 && !res.Snapshots[i-1].Before(s) {
			t.Fatalf("Expected strictly increasing snapshots at %d", i)
		}
	}
}

func TestGenerate_TypicalDaysPicksPeakWeek(t *testing.T) {
	cal := Calendar(2027)
	demand := make([]float64, len(cal))
	// April 2026: make the third week (hours 336..503) the peak.
	for i := 336; i < 504; i++ {
		demand[i] = 100
	}

	res := Generate(Request{Year: 2027, Strategy: settings.TypicalDays, Resolution: 1, Demand: demand}, quietLogger(&bytes.Buffer{}))

	found := false
	for _, s := range res.Snapshots {
		if s.Equal(cal[400]) {
			found = true
		}
		if s.Month() == time.April && s.Before(cal[336]) {
			t.Fatalf("Expected no April hours before the peak week, got %v", s)
		}
	}
	if !found {
		t.Errorf("Expected peak week hour %v to be selected", cal[400])
	}
}

func TestGenerate_TypicalDaysAlignedToBins(t *testing.T) {
	cal := Calendar(2027)
	demand := make([]float64, len(cal))
	for i := range demand {
		demand[i] = float64((i * 37) % 211)
	}

	tests := []struct {
		resolution int
		perWeek    int
	}{
		{1, 168},
		{5, 33},
		{7, 24},
		{10, 16},
		{24, 7},
		{200, 1},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.resolution), func(t *testing.T) {
			res := Generate(Request{Year: 2027, Strategy: settings.TypicalDays, Resolution: tt.resolution, Demand: demand}, quietLogger(&bytes.Buffer{}))
			if len(res.Snapshots) == 0 {
				t.Fatalf("Expected typical weeks to be selected")
			}
			if limit := 12 * tt.perWeek; len(res.Snapshots) > limit {
				t.Errorf("Expected at most %d snapshots, got %d", limit, len(res.Snapshots))
			}
			if len(res.Snapshots)%tt.perWeek != 0 {
				t.Errorf("Expected whole weeks of %d bins, got %d snapshots", tt.perWeek, len(res.Snapshots))
			}
		})
	}
}

func TestGenerate_TypicalDaysWithoutDemandFallsBack(t *testing.T) {
	var buf bytes.Buffer
	res := Generate(Request{Year: 2027, Strategy: settings.TypicalDays, Resolution: 1}, quietLogger(&buf))
	if len(res.Snapshots) != 8760 || res.Strategy != settings.AllSnapshots {
		t.Errorf("Expected fallback to all snapshots, got %d (%s)", len(res.Snapshots), res.Strategy)
	}
	if !strings.Contains(buf.String(), "Warning") {
		t.Errorf("Expected fallback warning")
	}
}

func TestGenerate_CriticalDays(t *testing.T) {
	var buf bytes.Buffer
	res := Generate(Request{
		Year:       2027,
		Strategy:   settings.CriticalDays,
		Resolution: 1,
		CustomDays: []inputs.CustomDay{
			{Month: time.January, Day: 15},
			{Month: time.May, Day: 1},
			{Month: time.May, Day: 1},
			{Month: time.February, Day: 30},
		},
	}, quietLogger(&buf))

	if len(res.Snapshots) != 48 {
		t.Fatalf("Expected 48 hourly snapshots, got %d", len(res.Snapshots))
	}
	if want := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC); res.Snapshots[0] != want {
		t.Errorf("Expected May to map to 2026, got %v", res.Snapshots[0])
	}
	if want := time.Date(2027, time.January, 15, 23, 0, 0, 0, time.UTC); res.Snapshots[47] != want {
		t.Errorf("Expected January to map to 2027, got %v", res.Snapshots[47])
	}
	if !strings.Contains(buf.String(), "invalid custom day") {
		t.Errorf("Expected invalid date warning, got %q", buf.String())
	}
}

func TestGenerate_CriticalDaysResampled(t *testing.T) {
	res := Generate(Request{
		Year:       2027,
		Strategy:   settings.CriticalDays,
		Resolution: 6,
		CustomDays: []inputs.CustomDay{{Month: time.July, Day: 4}},
	}, quietLogger(&bytes.Buffer{}))
	if len(res.Snapshots) != 4 {
		t.Errorf("Expected 4 six-hour snapshots, got %d", len(res.Snapshots))
	}
}

func TestGenerate_UnknownStrategy(t *testing.T) {
	var buf bytes.Buffer
	res := Generate(Request{Year: 2027, Strategy: "Random", Resolution: 3}, quietLogger(&buf))
	if len(res.Snapshots) != 2920 {
		t.Errorf("Expected all snapshots fallback, got %d", len(res.Snapshots))
	}
	if !strings.Contains(buf.String(), "unknown snapshot strategy") {
		t.Errorf("Expected warning, got %q", buf.String())
	}
}

func TestAlign(t *testing.T) {
	cal := Calendar(2027)
	hourly := []float64{1, 2, 3, 4, 5, 6}
	snaps := []time.Time{cal[0], cal[3], cal[9]}

	got := Align(cal, hourly, snaps, 3)
	want := []float64{2, 5, 6}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Align[%d]: expected %v, got %v", i, want[i], got[i])
		}
	}
}
