// Package tables provides a small typed view over loosely structured
// spreadsheet data: header-plus-rows tables and marker-delimited sub-tables.
package tables

import (
	"strconv"
	"strings"
)

// Table is a rectangular slice of cells with named columns.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]string
}

// FromRows builds a table whose first row is the header. Trailing empty
// header cells are dropped and data rows are padded or cut to the header width.
// Fully blank rows are skipped.
func FromRows(name string, rows [][]string) Table {
	t := Table{Name: name}
	if len(rows) == 0 {
		return t
	}

	header := rows[0]
	width := len(header)
	for width > 0 && strings.TrimSpace(header[width-1]) == "" {
		width--
	}
	t.Columns = make([]string, width)
	for i := 0; i < width; i++ {
		t.Columns[i] = strings.TrimSpace(header[i])
	}

	for _, row := range rows[1:] {
		if isBlankRow(row) {
			continue
		}
		cells := make([]string, width)
		for i := 0; i < width && i < len(row); i++ {
			cells[i] = strings.TrimSpace(row[i])
		}
		t.Rows = append(t.Rows, cells)
	}

	return t
}

func isBlankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Len returns the number of data rows.
func (t Table) Len() int { return len(t.Rows) }

// Empty reports whether the table has no usable rows or columns.
func (t Table) Empty() bool { return len(t.Rows) == 0 || len(t.Columns) == 0 }

// NormalizeKey lower-cases s and strips spaces, underscores and hyphens so
// that "P_Nom Max" and "pnommax" compare equal.
func NormalizeKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch r {
		case ' ', '_', '-', '.':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Col returns the index of the first column whose normalized name matches any
// of the given names, or -1.
func (t Table) Col(names ...string) int {
	for _, name := range names {
		key := NormalizeKey(name)
		for i, c := range t.Columns {
			if NormalizeKey(c) == key {
				return i
			}
		}
	}
	return -1
}

// Has reports whether any of the named columns exists.
func (t Table) Has(names ...string) bool { return t.Col(names...) >= 0 }

// Cell returns the raw cell at (row, col), or "" when out of range.
func (t Table) Cell(row, col int) string {
	if row < 0 || row >= len(t.Rows) || col < 0 || col >= len(t.Rows[row]) {
		return ""
	}
	return t.Rows[row][col]
}

// Text returns the named cell of a row, or def when the column is missing
// or the cell is blank.
func (t Table) Text(row int, def string, names ...string) string {
	v := t.Cell(row, t.Col(names...))
	if v == "" {
		return def
	}
	return v
}

// Float returns the named cell parsed as a float. ok is false when the column
// is missing, the cell is blank or it does not parse.
func (t Table) Float(row int, names ...string) (float64, bool) {
	return ParseFloat(t.Cell(row, t.Col(names...)))
}

// FloatOr is Float with a default.
func (t Table) FloatOr(row int, def float64, names ...string) float64 {
	if v, ok := t.Float(row, names...); ok {
		return v
	}
	return def
}

// Int returns the named cell parsed as an integer (floats are truncated).
func (t Table) Int(row int, names ...string) (int, bool) {
	v, ok := t.Float(row, names...)
	if !ok {
		return 0, false
	}
	return int(v), true
}

// IntOr is Int with a default.
func (t Table) IntOr(row int, def int, names ...string) int {
	if v, ok := t.Int(row, names...); ok {
		return v
	}
	return def
}

// BoolOr returns the named cell parsed with ParseBool, or def.
func (t Table) BoolOr(row int, def bool, names ...string) bool {
	if v, ok := ParseBool(t.Cell(row, t.Col(names...))); ok {
		return v
	}
	return def
}

// Column returns every value of a numeric column; unparseable cells become
// def.
func (t Table) Column(col int, def float64) []float64 {
	out := make([]float64, len(t.Rows))
	for i := range t.Rows {
		if v, ok := ParseFloat(t.Cell(i, col)); ok {
			out[i] = v
		} else {
			out[i] = def
		}
	}
	return out
}

// ParseFloat parses a spreadsheet number. Blank cells, "nan" and text fail.
// "inf" and "infinity" are accepted.
func ParseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return 0, false
	}
	switch strings.ToLower(s) {
	case "inf", "infinity", "+inf":
		return posInf, true
	case "-inf", "-infinity":
		return -posInf, true
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v != v {
		return 0, false
	}
	return v, true
}

// ParseBool understands the yes/no spellings used in planning workbooks.
func ParseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "true", "t", "1", "on", "enabled":
		return true, true
	case "no", "n", "false", "f", "0", "off", "disabled":
		return false, true
	}
	return false, false
}
