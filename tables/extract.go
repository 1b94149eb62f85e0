package tables

import (
	"log"
	"math"
	"strings"
)

var posInf = math.Inf(1)

// DefaultMarker prefixes the name cell of every sub-table in a settings sheet.
const DefaultMarker = "~"

// ExtractMarked finds every cell in grid starting with marker and slices out
// the table it names. The row below the marker is the header, read rightwards
// until the first blank header cell; data starts two rows below the marker
// and runs down until the first blank cell in the first data column.
//
// Tables that cannot be located or have no usable rows or columns are left
// out of the result and logged. Callers treat a missing key as "table not
// present".
func ExtractMarked(grid [][]string, marker string, logger *log.Logger) map[string]Table {
	if logger == nil {
		logger = log.Default()
	}
	if marker == "" {
		marker = DefaultMarker
	}

	found := make(map[string]Table)
	for r, row := range grid {
		for c, cell := range row {
			text := strings.TrimSpace(cell)
			if !strings.HasPrefix(text, marker) {
				continue
			}
			name := strings.TrimSpace(strings.TrimPrefix(text, marker))
			if name == "" {
				logger.Printf("Marker without a table name at row %d col %d, skipping", r+1, c+1)
				continue
			}

			t, ok := sliceTable(grid, r, c)
			if !ok {
				logger.Printf("Table %q at row %d col %d has no usable rows or columns, skipping", name, r+1, c+1)
				continue
			}
			if _, dup := found[name]; dup {
				logger.Printf("Table %q appears more than once, keeping the first occurrence", name)
				continue
			}
			t.Name = name
			found[name] = t
		}
	}

	return found
}

func sliceTable(grid [][]string, r, c int) (Table, bool) {
	headerRow := r + 1
	if headerRow >= len(grid) {
		return Table{}, false
	}

	var columns []string
	for j := c; j < len(grid[headerRow]); j++ {
		h := strings.TrimSpace(grid[headerRow][j])
		if h == "" {
			break
		}
		columns = append(columns, h)
	}
	if len(columns) == 0 {
		return Table{}, false
	}

	var rows [][]string
	for i := r + 2; i < len(grid); i++ {
		first := cellAt(grid, i, c)
		if first == "" {
			break
		}
		cells := make([]string, len(columns))
		for j := range columns {
			cells[j] = cellAt(grid, i, c+j)
		}
		rows = append(rows, cells)
	}
	if len(rows) == 0 {
		return Table{}, false
	}

	return Table{Columns: columns, Rows: rows}, true
}

func cellAt(grid [][]string, r, c int) string {
	if r < 0 || r >= len(grid) || c < 0 || c >= len(grid[r]) {
		return ""
	}
	return strings.TrimSpace(grid[r][c])
}
