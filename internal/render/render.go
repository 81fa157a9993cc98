// Package render turns compiled timetables into printable documents.
package render

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"confsched/internal/model"
	"confsched/internal/timetable"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var pageTmpl = template.Must(template.ParseFS(templateFS, "templates/timetable.html.tmpl"))

type pageView struct {
	Event model.Event
	Range string
	Days  []dayView
}

type dayView struct {
	Title   string
	Columns int
	Rows    []rowView
}

type rowView struct {
	Kind  timetable.RowKind
	Label string
	Cells []cellView
}

type cellView struct {
	Empty   bool
	RowSpan int
	ColSpan int
	Class   string
	Title   string
	Room    string
	Time    string
	Color   string
	Inner   *innerView
}

type innerView struct {
	Columns int
	Rows    []rowView
}

// HTML writes one table per day of tt. Session slots are rendered as
// nested tables spanning their rows.
func HTML(w io.Writer, ev model.Event, tt *timetable.TimeTable) error {
	view := pageView{
		Event: ev,
		Range: formatRange(tt.Start(), tt.End()),
	}
	for _, d := range tt.Days() {
		view.Days = append(view.Days, buildDay(d))
	}
	if err := pageTmpl.Execute(w, view); err != nil {
		return fmt.Errorf("render: html: %w", err)
	}
	return nil
}

func buildDay(d *timetable.Day) dayView {
	rows := d.Rows()
	cols := max(d.Columns(), 1)
	cells := grid(len(rows), cols, d.Entries())

	dv := dayView{Title: d.Date.Format("Monday, 2 January 2006"), Columns: cols}
	slots := d.Slots()
	for i, r := range rows {
		rv := rowView{Kind: r.Kind, Cells: cells[i]}
		if r.Kind == timetable.RowSlot {
			rv.Label = slots[r.Slot].Start.Format("15:04")
		}
		dv.Rows = append(dv.Rows, rv)
	}
	return dv
}

func buildContainer(c *timetable.Container) *innerView {
	n := c.NumRows()
	cols := max(c.Columns(), 1)
	cells := grid(n, cols, c.Children())

	e := c.Entry()
	p := c.Placement
	cells[0] = []cellView{{
		RowSpan: 1,
		ColSpan: cols,
		Class:   "title",
		Title:   e.Title,
		Room:    e.Room,
		Time:    formatSpan(p.Start, p.End),
	}}
	cells[n-1] = []cellView{{RowSpan: 1, ColSpan: cols, Class: "footer"}}

	iv := &innerView{Columns: cols}
	for _, row := range cells {
		iv.Rows = append(iv.Rows, rowView{Cells: row})
	}
	return iv
}

// grid lays placements out on an nRows x nCols matrix and returns, per
// row, the cells that must be emitted: placements at their top-left
// corner, empty cells where nothing is placed, and nothing where a
// rowspan or colspan already covers the position.
func grid(nRows, nCols int, ps []*timetable.Placement) [][]cellView {
	covered := make([][]bool, nRows)
	starts := make([][]*timetable.Placement, nRows)
	for i := range covered {
		covered[i] = make([]bool, nCols)
		starts[i] = make([]*timetable.Placement, nCols)
	}
	for _, p := range ps {
		if p.RowStart < 0 || p.RowStart >= nRows || p.Column >= nCols {
			continue
		}
		starts[p.RowStart][p.Column] = p
		for r := p.RowStart; r < min(p.RowStart+p.RowSpan, nRows); r++ {
			for c := p.Column; c < min(p.Column+p.ColSpan, nCols); c++ {
				covered[r][c] = true
			}
		}
	}

	out := make([][]cellView, nRows)
	for r := 0; r < nRows; r++ {
		for c := 0; c < nCols; c++ {
			if p := starts[r][c]; p != nil {
				out[r] = append(out[r], placementCell(p, nRows, nCols))
				continue
			}
			if !covered[r][c] {
				out[r] = append(out[r], cellView{Empty: true})
			}
		}
	}
	return out
}

func placementCell(p *timetable.Placement, nRows, nCols int) cellView {
	e := p.Entry
	cv := cellView{
		RowSpan: min(p.RowSpan, nRows-p.RowStart),
		ColSpan: min(p.ColSpan, nCols-p.Column),
		Title:   e.Title,
		Room:    e.Room,
		Color:   e.Color,
		Time:    formatSpan(p.Start, p.End),
	}
	switch e.Kind {
	case model.EntryBreak:
		cv.Class = "break"
	case model.EntrySessionSlot:
		cv.Class = "session"
		if p.Container != nil {
			cv.Inner = buildContainer(p.Container)
		}
	default:
		cv.Class = "entry"
	}
	return cv
}

func formatSpan(start, end time.Time) string {
	if start.Equal(end) {
		return start.Format("15:04")
	}
	return start.Format("15:04") + "-" + end.Format("15:04")
}

func formatRange(start, end time.Time) string {
	last := end.Add(-time.Nanosecond)
	if start.Year() == last.Year() && start.YearDay() == last.YearDay() {
		return start.Format("2 January 2006")
	}
	return start.Format("2 January 2006") + " to " + last.Format("2 January 2006")
}

// Text writes a plain listing of the compiled timetable, one line per
// placement with its grid coordinates.
func Text(w io.Writer, ev model.Event, tt *timetable.TimeTable) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)\n", ev.Title, formatRange(tt.Start(), tt.End()))
	for _, d := range tt.Days() {
		fmt.Fprintf(&b, "\n%s  %s-%s  columns=%d\n",
			d.Date.Format("Mon 2006-01-02"), d.Start.Format("15:04"), d.End.Format("15:04"), d.Columns())
		if d.IsEmpty() {
			b.WriteString("  (no entries)\n")
			continue
		}
		for _, p := range d.Entries() {
			writePlacement(&b, "  ", p)
			if p.Container != nil {
				for _, cp := range p.Container.Children() {
					writePlacement(&b, "      ", cp)
				}
			}
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func writePlacement(b *strings.Builder, indent string, p *timetable.Placement) {
	fmt.Fprintf(b, "%s%-11s  %-12s col=%d span=%d  %s", indent, formatSpan(p.Start, p.End), p.Entry.Kind, p.Column, p.ColSpan, p.Entry.Title)
	if p.Entry.Room != "" {
		fmt.Fprintf(b, " [%s]", p.Entry.Room)
	}
	b.WriteByte('\n')
}
