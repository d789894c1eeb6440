// Package ui renders the terminal output of the metaobjects command: tables,
// key/value listings and error messages with suggestions.
package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// Table renders rows under bold headers, columns padded to the widest cell
type Table struct {
	writer  io.Writer
	headers []string
	rows    [][]string
	noColor bool
}

// NewTable creates a new table with the given headers
func NewTable(w io.Writer, noColor bool, headers ...string) *Table {
	return &Table{writer: w, headers: headers, noColor: noColor}
}

// AddRow adds a row. Cells beyond the header count are dropped.
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Len returns the number of rows
func (t *Table) Len() int {
	return len(t.rows)
}

// Render writes the table
func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = len(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	bold := newColor(t.noColor, color.Bold, color.FgCyan)
	gray := newColor(t.noColor, color.FgHiBlack)

	for i, h := range t.headers {
		bold.Fprint(t.writer, padRight(h, widths[i], i == len(t.headers)-1))
		if i < len(t.headers)-1 {
			fmt.Fprint(t.writer, "  ")
		}
	}
	fmt.Fprintln(t.writer)

	seps := make([]string, len(widths))
	for i, w := range widths {
		seps[i] = strings.Repeat("─", w)
	}
	gray.Fprintln(t.writer, strings.Join(seps, "  "))

	for _, row := range t.rows {
		n := len(row)
		if n > len(widths) {
			n = len(widths)
		}
		for i := 0; i < n; i++ {
			fmt.Fprint(t.writer, padRight(row[i], widths[i], i == n-1))
			if i < n-1 {
				fmt.Fprint(t.writer, "  ")
			}
		}
		fmt.Fprintln(t.writer)
	}
}

// padRight pads s to width. The last column is not padded.
func padRight(s string, width int, last bool) string {
	if last || len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

func newColor(noColor bool, attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if noColor {
		c.DisableColor()
	}
	return c
}

// KeyValueTable renders "key: value" lines with aligned values
type KeyValueTable struct {
	writer  io.Writer
	keys    []string
	values  []string
	noColor bool
}

// NewKeyValueTable creates a new key-value table
func NewKeyValueTable(w io.Writer, noColor bool) *KeyValueTable {
	return &KeyValueTable{writer: w, noColor: noColor}
}

// AddRow adds a key-value pair
func (t *KeyValueTable) AddRow(key, value string) {
	t.keys = append(t.keys, key)
	t.values = append(t.values, value)
}

// Render writes the pairs in insertion order
func (t *KeyValueTable) Render() {
	width := 0
	for _, k := range t.keys {
		if len(k) > width {
			width = len(k)
		}
	}

	cyan := newColor(t.noColor, color.FgCyan)
	for i, k := range t.keys {
		cyan.Fprint(t.writer, padRight(k+":", width+1, false))
		fmt.Fprintf(t.writer, " %s\n", t.values[i])
	}
}

// Header writes a bold title followed by a blank line
func Header(w io.Writer, title string, noColor bool) {
	newColor(noColor, color.Bold, color.FgCyan).Fprintln(w, title)
	fmt.Fprintln(w)
}
