package sun

import (
	"testing"
	"time"
)

func at(hour int) time.Time {
	return time.Date(2025, time.June, 21, hour, 0, 0, 0, time.UTC)
}

func TestFixed_Contains(t *testing.T) {
	tests := []struct {
		name       string
		start, end int
		hour       int
		want       bool
	}{
		{"inside", 9, 17, 12, true},
		{"start inclusive", 9, 17, 9, true},
		{"end exclusive", 9, 17, 17, false},
		{"before", 9, 17, 3, false},
		{"wrap late", 22, 6, 23, true},
		{"wrap early", 22, 6, 2, true},
		{"wrap outside", 22, 6, 12, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Fixed(tt.start, tt.end).Contains(at(tt.hour)); got != tt.want {
				t.Errorf("Expected %v for hour %d in [%d, %d), got %v", tt.want, tt.hour, tt.start, tt.end, got)
			}
		})
	}
}

func TestAtLocation_Contains(t *testing.T) {
	w := AtLocation(0, 0)
	if !w.Contains(at(12)) {
		t.Errorf("Expected noon at the equator to be a solar hour")
	}
	if w.Contains(at(0)) {
		t.Errorf("Expected midnight at the equator to be dark")
	}

	// local mean time: noon stays noon wherever the longitude is
	east := AtLocation(0, 90)
	if !east.Contains(at(12)) || east.Contains(at(23)) {
		t.Errorf("Expected snapshots to be read as local solar time at longitude 90")
	}
}

func TestWindow_Mask(t *testing.T) {
	snaps := []time.Time{at(6), at(10), at(14), at(20)}
	mask := Fixed(8, 18).Mask(snaps)
	want := []float64{0, 1, 1, 0}
	for i := range want {
		if mask[i] != want[i] {
			t.Errorf("Snapshot %d: expected %v, got %v", i, want[i], mask[i])
		}
	}

	located := AtLocation(48.85, 2.35)
	first := located.Mask(snaps)
	second := located.Mask(snaps)
	if len(located.days) != 1 {
		t.Errorf("Expected one cached day, got %d", len(located.days))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("Expected cached result to match at %d", i)
		}
	}
}
