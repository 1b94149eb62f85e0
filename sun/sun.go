// Package sun classifies model hours as solar or non-solar, either from a
// configured hour window or from sunrise and sunset at a location.
package sun

import (
	"time"

	"github.com/sixdouglas/suncalc"
)

// Window decides whether a snapshot falls in solar hours.
//
// Snapshot timestamps carry no zone; for located windows they are read as
// local mean solar time at the given longitude.
type Window struct {
	Start, End int // hour of day, used when the window is not located
	Lat, Lon   float64
	Located    bool

	days map[time.Time]daylight
}

type daylight struct {
	sunrise, sunset time.Time
	ok              bool
}

// Fixed returns a window of [start, end) hours. start > end wraps midnight.
func Fixed(start, end int) *Window {
	return &Window{Start: start, End: end}
}

// AtLocation returns a window following the sun at lat/lon.
func AtLocation(lat, lon float64) *Window {
	return &Window{Lat: lat, Lon: lon, Located: true, days: make(map[time.Time]daylight)}
}

// Contains reports whether the hour starting at t is a solar hour.
func (w *Window) Contains(t time.Time) bool {
	if !w.Located {
		h := t.Hour()
		if w.Start <= w.End {
			return h >= w.Start && h < w.End
		}
		return h >= w.Start || h < w.End
	}

	// middle of the hour, shifted from local mean solar time to UTC
	mid := t.Add(30 * time.Minute).Add(-w.offset())
	d := w.daylight(mid)
	if !d.ok {
		return suncalc.GetPosition(mid, w.Lat, w.Lon).Altitude > 0
	}
	return !mid.Before(d.sunrise) && mid.Before(d.sunset)
}

// Mask returns 1 for solar snapshots and 0 otherwise.
func (w *Window) Mask(snaps []time.Time) []float64 {
	out := make([]float64, len(snaps))
	for i, t := range snaps {
		if w.Contains(t) {
			out[i] = 1
		}
	}
	return out
}

func (w *Window) offset() time.Duration {
	return time.Duration(w.Lon / 15 * float64(time.Hour))
}

func (w *Window) daylight(utc time.Time) daylight {
	day := time.Date(utc.Year(), utc.Month(), utc.Day(), 12, 0, 0, 0, time.UTC)
	if w.days == nil {
		w.days = make(map[time.Time]daylight)
	}
	if d, ok := w.days[day]; ok {
		return d
	}

	times := suncalc.GetTimes(day, w.Lat, w.Lon)
	d := daylight{
		sunrise: times["sunrise"].Value,
		sunset:  times["sunset"].Value,
	}
	d.ok = !d.sunrise.IsZero() && !d.sunset.IsZero() && d.sunrise.Before(d.sunset)
	w.days[day] = d
	return d
}
