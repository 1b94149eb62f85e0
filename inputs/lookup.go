package inputs

import (
	"sort"
	"strconv"
	"strings"

	"github.com/devskill-org/capacity-planner/tables"
)

// TechTable maps a technology (or carrier) name to one scalar value, e.g.
// lifetime in years or a discount rate. Keys are matched case-insensitively.
type TechTable struct {
	values map[string]float64
}

// NewTechTable builds a lookup from explicit values.
func NewTechTable(values map[string]float64) TechTable {
	t := TechTable{values: make(map[string]float64, len(values))}
	for k, v := range values {
		t.values[tables.NormalizeKey(k)] = v
	}
	return t
}

// TechTableFrom reads the first column as the key and the first numeric
// column after it as the value.
func TechTableFrom(t tables.Table) TechTable {
	out := TechTable{values: make(map[string]float64)}
	if len(t.Columns) < 2 {
		return out
	}
	for i := range t.Rows {
		key := t.Cell(i, 0)
		if key == "" {
			continue
		}
		for c := 1; c < len(t.Columns); c++ {
			if v, ok := tables.ParseFloat(t.Cell(i, c)); ok {
				out.values[tables.NormalizeKey(key)] = v
				break
			}
		}
	}
	return out
}

// Lookup returns the value for tech, falling back to an "All"/"Default" row.
func (t TechTable) Lookup(tech string) (float64, bool) {
	if v, ok := t.values[tables.NormalizeKey(tech)]; ok {
		return v, true
	}
	for _, fallback := range []string{"all", "default"} {
		if v, ok := t.values[fallback]; ok {
			return v, true
		}
	}
	return 0, false
}

// Len returns the number of technologies in the table.
func (t TechTable) Len() int { return len(t.values) }

// YearTable maps (technology, fiscal year) to a value, e.g. capital cost or
// fuel cost trajectories with one column per year.
type YearTable struct {
	values map[string]map[int]float64
	flat   TechTable
}

// NewYearTable builds a lookup from explicit values.
func NewYearTable(values map[string]map[int]float64) YearTable {
	t := YearTable{values: make(map[string]map[int]float64, len(values))}
	for k, byYear := range values {
		m := make(map[int]float64, len(byYear))
		for y, v := range byYear {
			m[y] = v
		}
		t.values[tables.NormalizeKey(k)] = m
	}
	return t
}

// YearTableFrom reads a sheet whose first column is the technology and whose
// other column headers are years. A sheet with no year headers is treated as
// one value per technology, valid for every year.
func YearTableFrom(t tables.Table) YearTable {
	out := YearTable{values: make(map[string]map[int]float64)}

	yearCols := map[int]int{}
	for c := 1; c < len(t.Columns); c++ {
		if y, ok := ParseYear(t.Columns[c]); ok {
			yearCols[c] = y
		}
	}
	if len(yearCols) == 0 {
		out.flat = TechTableFrom(t)
		return out
	}

	for i := range t.Rows {
		key := tables.NormalizeKey(t.Cell(i, 0))
		if key == "" {
			continue
		}
		m := out.values[key]
		if m == nil {
			m = make(map[int]float64)
			out.values[key] = m
		}
		for c, y := range yearCols {
			if v, ok := tables.ParseFloat(t.Cell(i, c)); ok {
				m[y] = v
			}
		}
	}
	return out
}

// Lookup returns the value for tech in year.
func (t YearTable) Lookup(tech string, year int) (float64, bool) {
	if m, ok := t.values[tables.NormalizeKey(tech)]; ok {
		if v, ok := m[year]; ok {
			return v, true
		}
		return 0, false
	}
	return t.flat.Lookup(tech)
}

// ParseYear extracts a four digit year from headers such as "2030", "FY2030"
// or "2030.0".
func ParseYear(s string) (int, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(strings.ToUpper(s), "FY"), "Y")
	s = strings.TrimSuffix(s, ".0")
	if len(s) != 4 {
		return 0, false
	}
	y, err := strconv.Atoi(s)
	if err != nil || y < 1900 || y > 2200 {
		return 0, false
	}
	return y, true
}

// SortedYears returns the keys of m in ascending order.
func SortedYears[V any](m map[int]V) []int {
	years := make([]int, 0, len(m))
	for y := range m {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}
