package timetable

import (
	"time"

	"confsched/internal/model"
)

// RowKind tells a renderer what a grid row holds.
type RowKind string

const (
	RowHeader RowKind = "header"
	RowSlot   RowKind = "slot"
	RowFooter RowKind = "footer"
)

// Row is one line of a day's rendered grid. Slot rows map to a TimeSlot;
// header and footer rows frame the containers starting or ending at Slot.
type Row struct {
	Kind       RowKind
	Slot       int
	Containers []*Container
}

// Day is the grid of one calendar day.
type Day struct {
	tt *TimeTable

	// Date is midnight of the day in the timetable's location.
	Date time.Time

	// Start / End are the grid bounds, aligned to the slot length.
	Start time.Time
	End   time.Time

	slots      []*TimeSlot
	entries    []*Placement
	containers []*Container
	rows       []Row
	columns    int
}

// TimeSlot is one fixed-length cell of a day's grid.
type TimeSlot struct {
	Index int
	Start time.Time
	End   time.Time

	// Entries are the top-level placements overlapping the slot,
	// containers included, in layout order.
	Entries []*Placement
	// Containers are the session slots overlapping the slot.
	Containers []*Container

	day *Day
}

func newDay(tt *TimeTable, date time.Time) *Day {
	return &Day{tt: tt, Date: date}
}

func (d *Day) Slots() []*TimeSlot { return d.slots }

// Entries returns the top-level placements of the day in layout order.
func (d *Day) Entries() []*Placement { return d.entries }

func (d *Day) Containers() []*Container { return d.containers }

// Columns is the width of the day's grid.
func (d *Day) Columns() int { return d.columns }

// Rows returns the render rows of the day: slot rows interleaved with
// container header and footer rows.
func (d *Day) Rows() []Row { return d.rows }

// MaxOverlap is the largest number of top-level entries sharing a slot.
func (d *Day) MaxOverlap() int {
	n := 0
	for _, s := range d.slots {
		if len(s.Entries) > n {
			n = len(s.Entries)
		}
	}
	return n
}

// HasOverlaps reports whether any two top-level entries share a slot.
func (d *Day) HasOverlaps() bool {
	return d.MaxOverlap() > 1
}

// SlotAt returns the slot containing t, or nil.
func (d *Day) SlotAt(t time.Time) *TimeSlot {
	if t.Before(d.Start) || !t.Before(d.End) {
		return nil
	}
	i := int(t.Sub(d.Start) / d.tt.slotLength)
	if i >= len(d.slots) {
		return nil
	}
	return d.slots[i]
}

// IsEmpty reports whether nothing is scheduled on the day.
func (d *Day) IsEmpty() bool { return len(d.entries) == 0 }

func (s *TimeSlot) NumEntries() int { return len(s.Entries) }

// Starting returns the placements whose first slot is s.
func (s *TimeSlot) Starting() []*Placement {
	var out []*Placement
	for _, p := range s.Entries {
		if p.FirstSlot == s.Index {
			out = append(out, p)
		}
	}
	return out
}

// ContainersStarting returns the containers opening at s.
func (s *TimeSlot) ContainersStarting() []*Container {
	var out []*Container
	for _, c := range s.Containers {
		if c.FirstSlot() == s.Index {
			out = append(out, c)
		}
	}
	return out
}

// ContainersEnding returns the containers closing at s.
func (s *TimeSlot) ContainersEnding() []*Container {
	var out []*Container
	for _, c := range s.Containers {
		if c.LastSlot() == s.Index {
			out = append(out, c)
		}
	}
	return out
}

// HasContainerOverlaps reports whether two session slots run in parallel here.
func (s *TimeSlot) HasContainerOverlaps() bool {
	return len(s.Containers) > 1
}

// compile builds the slots of the day and lays the entries out on them.
func (d *Day) compile(all []*model.Entry) {
	tt := d.tt
	next := nextMidnight(d.Date)

	var mine []*model.Entry
	for _, e := range all {
		if touchesDay(e, d.Date, next) {
			mine = append(mine, e)
		}
	}
	sortEntries(mine)

	d.Start, d.End = d.bounds(mine, next)
	for t, i := d.Start, 0; t.Before(d.End); t, i = t.Add(tt.slotLength), i+1 {
		d.slots = append(d.slots, &TimeSlot{
			Index: i,
			Start: t,
			End:   t.Add(tt.slotLength),
			day:   d,
		})
	}

	for _, e := range mine {
		p := d.place(e, next)
		if e.IsContainer() {
			c := &Container{Placement: p, day: d}
			p.Container = c
			for _, child := range e.Children {
				if !touchesDay(child, d.Date, next) {
					continue
				}
				cp := d.place(child, next)
				cp.Parent = c
				c.children = append(c.children, cp)
			}
			d.containers = append(d.containers, c)
		}
		d.entries = append(d.entries, p)
	}

	d.columns = layout(d.entries, len(d.slots))
	for _, c := range d.containers {
		c.columns = layout(c.children, len(d.slots))
	}

	for _, p := range d.entries {
		for i := p.FirstSlot; i <= p.LastSlot; i++ {
			d.slots[i].Entries = append(d.slots[i].Entries, p)
			if p.Container != nil {
				d.slots[i].Containers = append(d.slots[i].Containers, p.Container)
			}
		}
	}

	d.buildRows()
}

// bounds computes the aligned grid span of the day.
func (d *Day) bounds(entries []*model.Entry, next time.Time) (time.Time, time.Time) {
	tt := d.tt

	lo := time.Date(d.Date.Year(), d.Date.Month(), d.Date.Day(), tt.dayStartHour, 0, 0, 0, tt.loc)
	hi := time.Date(d.Date.Year(), d.Date.Month(), d.Date.Day(), tt.dayEndHour, 0, 0, 0, tt.loc)
	if d.Date.Equal(midnight(tt.start)) {
		lo = tt.start
	}
	if !tt.end.After(next) {
		hi = tt.end
	}
	if !lo.Before(hi) {
		lo, hi = later(d.Date, tt.start), earlier(next, tt.end)
	}

	if len(entries) > 0 {
		eLo, eHi := next, d.Date
		for _, e := range entries {
			s, end := clip(e, d.Date, next)
			if s.Before(eLo) {
				eLo = s
			}
			// A zero-length entry still needs the slot holding its start.
			if !end.After(s) {
				end = s.Add(time.Nanosecond)
			}
			if end.After(eHi) {
				eHi = end
			}
		}
		if tt.compact {
			lo, hi = eLo, eHi
		} else {
			if eLo.Before(lo) {
				lo = eLo
			}
			if eHi.After(hi) {
				hi = eHi
			}
		}
	} else if tt.compact {
		hi = lo
	}

	lo = d.floor(lo)
	hi = d.ceil(hi)
	if !hi.After(lo) {
		hi = lo.Add(tt.slotLength)
	}
	return lo, hi
}

func (d *Day) floor(t time.Time) time.Time {
	off := t.Sub(d.Date)
	return d.Date.Add(off - off%d.tt.slotLength)
}

func (d *Day) ceil(t time.Time) time.Time {
	off := t.Sub(d.Date)
	if rem := off % d.tt.slotLength; rem != 0 {
		off += d.tt.slotLength - rem
	}
	return d.Date.Add(off)
}

// place maps an entry onto the slot range it overlaps.
func (d *Day) place(e *model.Entry, next time.Time) *Placement {
	s, end := clip(e, d.Date, next)
	first := d.slotIndex(s)
	last := first
	if end.After(s) {
		last = d.slotIndex(end.Add(-time.Nanosecond))
	}
	return &Placement{
		Entry:     e,
		Start:     s,
		End:       end,
		FirstSlot: first,
		LastSlot:  last,
		ColSpan:   1,
	}
}

func (d *Day) slotIndex(t time.Time) int {
	i := int(t.Sub(d.Start) / d.tt.slotLength)
	if i < 0 {
		return 0
	}
	if i >= len(d.slots) {
		return len(d.slots) - 1
	}
	return i
}

// buildRows interleaves header and footer rows with the slot rows and
// assigns row coordinates to placements.
func (d *Day) buildRows() {
	slotRow := make([]int, len(d.slots))
	for i, s := range d.slots {
		if starting := s.ContainersStarting(); len(starting) > 0 {
			d.rows = append(d.rows, Row{Kind: RowHeader, Slot: i, Containers: starting})
		}
		slotRow[i] = len(d.rows)
		d.rows = append(d.rows, Row{Kind: RowSlot, Slot: i})
		if ending := s.ContainersEnding(); len(ending) > 0 {
			d.rows = append(d.rows, Row{Kind: RowFooter, Slot: i, Containers: ending})
		}
	}

	for _, p := range d.entries {
		if p.Container != nil {
			p.RowStart = slotRow[p.FirstSlot] - 1
			p.RowSpan = slotRow[p.LastSlot] + 1 - p.RowStart + 1
			for _, cp := range p.Container.children {
				cp.RowStart = cp.FirstSlot - p.FirstSlot + 1
				cp.RowSpan = cp.LastSlot - cp.FirstSlot + 1
			}
			continue
		}
		p.RowStart = slotRow[p.FirstSlot]
		p.RowSpan = slotRow[p.LastSlot] - p.RowStart + 1
	}
}

// touchesDay reports whether e overlaps [date, next). Zero-length entries
// belong to the day containing their start.
func touchesDay(e *model.Entry, date, next time.Time) bool {
	if e.End.Equal(e.Start) {
		return !e.Start.Before(date) && e.Start.Before(next)
	}
	return e.Start.Before(next) && e.End.After(date)
}

func clip(e *model.Entry, date, next time.Time) (time.Time, time.Time) {
	s, end := e.Start, e.End
	if s.Before(date) {
		s = date
	}
	if end.After(next) {
		end = next
	}
	return s, end
}

func later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earlier(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
