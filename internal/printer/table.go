package printer

import (
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
)

const columnGap = "  "

type cell struct {
	text  string
	color *color.Color
}

func plain(text string) cell {
	return cell{text: text}
}

func colored(text string, c *color.Color) cell {
	return cell{text: text, color: c}
}

// table lays out rows in aligned columns. Widths are measured on the plain
// text so colour codes never skew alignment; the last column absorbs any
// overflow past maxWidth and is truncated with an ellipsis.
type table struct {
	headers []string
	rows    [][]cell
}

func newTable(headers ...string) *table {
	return &table{headers: headers}
}

func (t *table) add(cells ...cell) {
	t.rows = append(t.rows, cells)
}

func (t *table) widths(maxWidth int) []int {
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range t.rows {
		for i, c := range row {
			if i < len(widths) {
				if w := runewidth.StringWidth(c.text); w > widths[i] {
					widths[i] = w
				}
			}
		}
	}
	if maxWidth <= 0 || len(widths) == 0 {
		return widths
	}

	used := 0
	for _, w := range widths[:len(widths)-1] {
		used += w + len(columnGap)
	}
	last := len(widths) - 1
	if remaining := maxWidth - used; remaining < widths[last] {
		if remaining < minLastColumn {
			remaining = minLastColumn
		}
		widths[last] = remaining
	}
	return widths
}

const minLastColumn = 12

func (t *table) render(w io.Writer, header *color.Color, maxWidth int) error {
	widths := t.widths(maxWidth)
	var b strings.Builder

	for i, h := range t.headers {
		text := runewidth.FillRight(h, widths[i])
		if i == len(t.headers)-1 {
			text = strings.TrimRight(text, " ")
		}
		b.WriteString(header.Sprint(text))
		if i < len(t.headers)-1 {
			b.WriteString(columnGap)
		}
	}
	b.WriteString("\n")

	for _, row := range t.rows {
		for i, c := range row {
			if i >= len(widths) {
				break
			}
			text := runewidth.Truncate(c.text, widths[i], "…")
			if i < len(row)-1 {
				text = runewidth.FillRight(text, widths[i])
			}
			if c.color != nil {
				text = c.color.Sprint(text)
			}
			b.WriteString(text)
			if i < len(row)-1 {
				b.WriteString(columnGap)
			}
		}
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}
