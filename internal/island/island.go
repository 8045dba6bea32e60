// Package island decodes configuration islands out of a spreadsheet-shaped
// grid of text cells.
//
// An island is anchored by a marker cell, lists the target units below the
// marker, then carries a header row and data rows of (page,) URL, control
// name and value. The decoder is pure: it performs no I/O and never mutates
// the input grid.
package island

import "fmt"

// Marker is the literal anchoring an island's top-left cell.
const Marker = "units IP/addr"

// Header literals. A header row must match these exactly.
const (
	HeaderPage    = "page"
	HeaderURL     = "URL"
	HeaderControl = "control name"
	HeaderValue   = "value"
)

// Row is one decoded configuration line.
type Row struct {
	// Page is only present in the four-column table shape.
	Page    string
	URL     string
	Control string
	Value   string
}

// Island is a self-contained block of configuration rows targeting a list of
// units.
type Island struct {
	// Units are the unit identifiers listed under the marker cell.
	// Duplicates and blanks are preserved as-is.
	Units []string
	// Rows holds every non-comment data row in source order.
	Rows []Row

	pageOrder []string
	byURL     map[string][]Row
}

// PageURLs returns the distinct page URLs of the island in first-occurrence
// order.
func (i *Island) PageURLs() []string {
	return i.pageOrder
}

// RowsFor returns the rows targeting the given page URL, in source order.
func (i *Island) RowsFor(url string) []Row {
	return i.byURL[url]
}

func (i *Island) addRow(r Row) {
	i.Rows = append(i.Rows, r)
	if _, ok := i.byURL[r.URL]; !ok {
		i.pageOrder = append(i.pageOrder, r.URL)
	}
	i.byURL[r.URL] = append(i.byURL[r.URL], r)
}

// StructureError reports a malformed island, typically a header row whose
// labels do not match the expected literals.
type StructureError struct {
	Row    int
	Col    int
	Reason string
}

func (e *StructureError) Error() string {
	return fmt.Sprintf("island structure error at row %d col %d: %s", e.Row, e.Col, e.Reason)
}

// cell returns the grid cell at (r, c), or "" when the coordinate falls
// outside the (possibly ragged) grid.
func cell(grid [][]string, r, c int) string {
	if r < 0 || r >= len(grid) {
		return ""
	}
	row := grid[r]
	if c < 0 || c >= len(row) {
		return ""
	}
	return row[c]
}

// Decode scans the grid for island markers and decodes every island found.
// A grid without markers yields an empty result and no error.
func Decode(grid [][]string) ([]*Island, error) {
	if len(grid) == 0 {
		return nil, nil
	}

	// A synthetic blank row terminates a trailing island without bounds
	// checks in the scan below. The input grid is left untouched.
	scan := make([][]string, len(grid), len(grid)+1)
	copy(scan, grid)
	scan = append(scan, make([]string, len(grid[len(grid)-1])))

	var islands []*Island
	for r := range scan {
		for c := range scan[r] {
			if scan[r][c] != Marker {
				continue
			}
			isl, err := decodeAt(scan, r, c)
			if err != nil {
				return nil, err
			}
			islands = append(islands, isl)
		}
	}
	return islands, nil
}

// state of the per-island scan. The stop conditions differ per state, so the
// machine is kept explicit rather than folded into one loop condition.
type state int

const (
	readUnits state = iota
	readHeader
	readData
	done
)

// shape distinguishes the two supported table layouts.
type shape int

const (
	shapeURL  shape = iota // URL | control name | value
	shapePage              // page | URL | control name | value
)

func decodeAt(grid [][]string, r, c int) (*Island, error) {
	isl := &Island{byURL: make(map[string][]Row)}

	row := r + 1
	sh := shapeURL
	st := readUnits
	var prev *Row

	for st != done {
		switch st {
		case readUnits:
			switch {
			case cell(grid, row, c) == HeaderURL && cell(grid, row, c+1) == HeaderControl:
				sh = shapeURL
				st = readHeader
			case cell(grid, row, c) == HeaderPage && cell(grid, row, c+1) == HeaderURL:
				sh = shapePage
				st = readHeader
			case row >= len(grid):
				return nil, &StructureError{Row: row, Col: c, Reason: "island has no header row"}
			default:
				isl.Units = append(isl.Units, cell(grid, row, c))
				row++
			}

		case readHeader:
			if err := validateHeader(grid, row, c, sh); err != nil {
				return nil, err
			}
			row++
			st = readData

		case readData:
			raw, data := readRow(grid, row, c, sh, prev)
			if bottom(raw, sh) {
				st = done
				continue
			}
			switch {
			case data.Control == "":
				// Only reachable in the page shape: a row with an empty
				// control but a non-empty value cannot be applied. Consume
				// it like a comment.
			case data.Control[0] == '#':
				// Comment row: excluded from the output, but it still
				// becomes the carry-forward predecessor below.
			default:
				isl.addRow(data)
			}
			prev = &data
			row++
		}
	}
	return isl, nil
}

// validateHeader checks the header row's labels against the fixed literals.
func validateHeader(grid [][]string, r, c int, sh shape) error {
	want := []string{HeaderURL, HeaderControl, HeaderValue}
	if sh == shapePage {
		want = []string{HeaderPage, HeaderURL, HeaderControl, HeaderValue}
	}
	for i, label := range want {
		if got := cell(grid, r, c+i); got != label {
			return &StructureError{
				Row:    r,
				Col:    c + i,
				Reason: fmt.Sprintf("header field %q, want %q", got, label),
			}
		}
	}
	return nil
}

// readRow reads one data row. raw holds the cells as they appear in the
// grid; the returned Row has carry-forward applied to page and URL. Control
// and value are never carried forward.
func readRow(grid [][]string, r, c int, sh shape, prev *Row) (raw, filled Row) {
	if sh == shapePage {
		raw = Row{
			Page:    cell(grid, r, c),
			URL:     cell(grid, r, c+1),
			Control: cell(grid, r, c+2),
			Value:   cell(grid, r, c+3),
		}
	} else {
		raw = Row{
			URL:     cell(grid, r, c),
			Control: cell(grid, r, c+1),
			Value:   cell(grid, r, c+2),
		}
	}
	filled = raw
	if prev != nil {
		if filled.Page == "" {
			filled.Page = prev.Page
		}
		if filled.URL == "" {
			filled.URL = prev.URL
		}
	}
	return raw, filled
}

// bottom reports whether the raw row terminates the island: an empty row, or
// the next island's header beginning with no blank separator.
func bottom(raw Row, sh shape) bool {
	if sh == shapePage {
		return (raw.Control == "" && raw.Value == "") || raw.Page == Marker
	}
	return raw.Control == "" || raw.URL == Marker
}
