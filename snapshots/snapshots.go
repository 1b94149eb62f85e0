// Package snapshots builds the modelled time steps of one fiscal year.
//
// A fiscal year Y runs from April 1 of Y-1 00:00 to March 31 of Y 23:00.
// The full hourly calendar is always produced alongside the chosen
// snapshots so that hourly series can be aligned onto any subset.
package snapshots

import (
	"log"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/devskill-org/capacity-planner/inputs"
	"github.com/devskill-org/capacity-planner/settings"
)

const hoursPerWeek = 7 * 24

// Request describes the snapshots wanted for one fiscal year.
type Request struct {
	Year       int
	Strategy   string
	Resolution int // hours per snapshot
	Demand     []float64
	CustomDays []inputs.CustomDay
}

// Result carries the model snapshots and the full hourly calendar.
type Result struct {
	Snapshots []time.Time
	Calendar  []time.Time
	Strategy  string // strategy actually applied after fallbacks
}

// FiscalYearStart returns April 1 of year-1, 00:00 UTC.
func FiscalYearStart(year int) time.Time {
	return time.Date(year-1, time.April, 1, 0, 0, 0, 0, time.UTC)
}

// Calendar returns every hour of the fiscal year.
func Calendar(year int) []time.Time {
	start := FiscalYearStart(year)
	end := FiscalYearStart(year + 1)
	n := int(end.Sub(start).Hours())
	out := make([]time.Time, n)
	for i := range out {
		out[i] = start.Add(time.Duration(i) * time.Hour)
	}
	return out
}

// Generate selects snapshots for req.Year. It never fails: unknown
// strategies and missing inputs fall back to all snapshots with a warning.
func Generate(req Request, logger *log.Logger) Result {
	if logger == nil {
		logger = log.Default()
	}
	res := req.Resolution
	if res < 1 {
		logger.Printf("Warning: resolution %d is invalid, using 1 hour", res)
		res = 1
	}

	calendar := Calendar(req.Year)
	start := FiscalYearStart(req.Year)
	out := Result{Calendar: calendar, Strategy: req.Strategy}

	var hours []time.Time
	switch req.Strategy {
	case settings.AllSnapshots:
		hours = calendar
	case settings.CriticalDays:
		if len(req.CustomDays) == 0 {
			logger.Printf("Warning: critical days selected but no custom days given for %d, using all snapshots", req.Year)
			hours, out.Strategy = calendar, settings.AllSnapshots
			break
		}
		hours = criticalHours(req.Year, req.CustomDays, logger)
	case settings.TypicalDays:
		if len(req.Demand) == 0 {
			logger.Printf("Warning: typical days selected but no demand data for %d, using all snapshots", req.Year)
			hours, out.Strategy = calendar, settings.AllSnapshots
			break
		}
		hours = typicalHours(calendar, req.Demand, res)
	default:
		logger.Printf("Warning: unknown snapshot strategy %q, using all snapshots", req.Strategy)
		hours, out.Strategy = calendar, settings.AllSnapshots
	}

	out.Snapshots = Resample(hours, start, res)
	if len(out.Snapshots) == 0 {
		logger.Printf("Warning: no snapshots selected for %d", req.Year)
	}
	return out
}

// criticalHours expands custom (month, day) pairs into hourly timestamps.
// April..December fall in Y-1, January..March in Y.
func criticalHours(year int, days []inputs.CustomDay, logger *log.Logger) []time.Time {
	seen := make(map[time.Time]bool)
	var dates []time.Time
	for _, d := range days {
		calYear := year
		if d.Month >= time.April {
			calYear = year - 1
		}
		date := time.Date(calYear, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
		if d.Day < 1 || date.Month() != d.Month {
			logger.Printf("Warning: skipping invalid custom day %s %d", d.Month, d.Day)
			continue
		}
		if seen[date] {
			continue
		}
		seen[date] = true
		dates = append(dates, date)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	hours := make([]time.Time, 0, len(dates)*24)
	for _, d := range dates {
		for h := 0; h < 24; h++ {
			hours = append(hours, d.Add(time.Duration(h)*time.Hour))
		}
	}
	return hours
}

// typicalHours picks, for every fiscal month, the week (counted from the
// fiscal-year start) with the highest demand over that month's hours and
// returns all hours of the chosen weeks. Weeks are whole resolution bins,
// shortened to the last bin that fits in seven days.
func typicalHours(calendar []time.Time, demand []float64, resolution int) []time.Time {
	week := resolution * max(1, hoursPerWeek/resolution)
	picked := make(map[int]bool)
	for offset := 0; offset < 12; offset++ {
		month := time.Month((int(time.April)-1+offset)%12 + 1)

		var weeks []int
		var sums []float64
		index := make(map[int]int)
		for i, t := range calendar {
			if t.Month() != month {
				continue
			}
			w := i / week
			k, ok := index[w]
			if !ok {
				k = len(weeks)
				index[w] = k
				weeks = append(weeks, w)
				sums = append(sums, 0)
			}
			sums[k] += valueAt(demand, i)
		}
		if len(sums) == 0 {
			continue
		}
		picked[weeks[floats.MaxIdx(sums)]] = true
	}

	var hours []time.Time
	for i, t := range calendar {
		if picked[i/week] {
			hours = append(hours, t)
		}
	}
	return hours
}

// Resample maps hourly timestamps onto resolution-hour bins counted from
// start. Each non-empty bin yields its start time; output is sorted.
func Resample(hours []time.Time, start time.Time, resolution int) []time.Time {
	if resolution <= 1 {
		out := append([]time.Time(nil), hours...)
		sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
		return dedupe(out)
	}

	step := time.Duration(resolution) * time.Hour
	seen := make(map[int64]bool)
	var out []time.Time
	for _, t := range hours {
		d := t.Sub(start)
		bin := int64(d / step)
		if d < 0 && d%step != 0 {
			bin--
		}
		if seen[bin] {
			continue
		}
		seen[bin] = true
		out = append(out, start.Add(time.Duration(bin)*step))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func dedupe(sorted []time.Time) []time.Time {
	if len(sorted) == 0 {
		return sorted
	}
	out := sorted[:1]
	for _, t := range sorted[1:] {
		if !t.Equal(out[len(out)-1]) {
			out = append(out, t)
		}
	}
	return out
}

// Align averages an hourly series, indexed like calendar, onto snapshots of
// the given resolution. Hours past the end of the series repeat its last
// value; an empty series aligns to zeros.
func Align(calendar []time.Time, hourly []float64, snaps []time.Time, resolution int) []float64 {
	out := make([]float64, len(snaps))
	if len(hourly) == 0 || len(calendar) == 0 {
		return out
	}
	if resolution < 1 {
		resolution = 1
	}
	start := calendar[0]
	for k, s := range snaps {
		first := int(s.Sub(start) / time.Hour)
		var sum float64
		for h := 0; h < resolution; h++ {
			sum += valueAt(hourly, first+h)
		}
		out[k] = sum / float64(resolution)
	}
	return out
}

// Weightings returns the objective weight of every snapshot: its duration.
func Weightings(n, resolution int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = float64(resolution)
	}
	return w
}

func valueAt(series []float64, i int) float64 {
	if len(series) == 0 {
		return 0
	}
	if i < 0 {
		return series[0]
	}
	if i >= len(series) {
		return series[len(series)-1]
	}
	return series[i]
}
