package output

import (
	"io"
	"strings"
	"unicode/utf8"
)

// Align is the horizontal alignment of a column.
type Align int

// Column alignments. Amounts read best right-aligned.
const (
	AlignLeft Align = iota
	AlignRight
)

const columnGap = "  "

// Table renders aligned columns for text output. Widths count runes so
// currency symbols and non-ASCII labels do not skew the layout.
type Table struct {
	headers []string
	aligns  []Align
	rows    [][]string
}

// NewTable creates a table with the given headers, all left-aligned.
func NewTable(headers ...string) *Table {
	return &Table{
		headers: headers,
		aligns:  make([]Align, len(headers)),
	}
}

// AlignRight right-aligns the named columns. Unknown names are ignored.
func (t *Table) AlignRight(headers ...string) *Table {
	for _, h := range headers {
		for i, name := range t.headers {
			if name == h {
				t.aligns[i] = AlignRight
			}
		}
	}
	return t
}

// AddRow adds a row. Missing cells render empty; extra cells are dropped.
func (t *Table) AddRow(cells ...string) {
	row := make([]string, len(t.headers))
	copy(row, cells)
	t.rows = append(t.rows, row)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Render writes the header, a dashed rule and the rows. A table without
// headers renders nothing.
func (t *Table) Render(w io.Writer) error {
	if len(t.headers) == 0 {
		return nil
	}

	widths := make([]int, len(t.headers))
	for _, row := range append([][]string{t.headers}, t.rows...) {
		for i, cell := range row {
			widths[i] = max(widths[i], utf8.RuneCountInString(cell))
		}
	}

	rule := make([]string, len(widths))
	for i, width := range widths {
		rule[i] = strings.Repeat("-", width)
	}

	var sb strings.Builder
	t.writeRow(&sb, t.headers, widths)
	sb.WriteString(strings.Join(rule, columnGap) + "\n")
	for _, row := range t.rows {
		t.writeRow(&sb, row, widths)
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

// String returns the rendered table.
func (t *Table) String() string {
	var sb strings.Builder
	_ = t.Render(&sb)
	return sb.String()
}

func (t *Table) writeRow(sb *strings.Builder, cells []string, widths []int) {
	parts := make([]string, len(widths))
	for i, cell := range cells {
		pad := strings.Repeat(" ", widths[i]-utf8.RuneCountInString(cell))
		if t.aligns[i] == AlignRight {
			parts[i] = pad + cell
		} else {
			parts[i] = cell + pad
		}
	}
	// Trailing padding of the last column is noise in terminals and diffs.
	sb.WriteString(strings.TrimRight(strings.Join(parts, columnGap), " ") + "\n")
}
