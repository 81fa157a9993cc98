package timetable

import (
	"sort"
	"time"

	"confsched/internal/model"
)

// Placement is an entry mapped onto a day grid.
type Placement struct {
	Entry *model.Entry

	// Start / End are the entry bounds clipped to the day.
	Start time.Time
	End   time.Time

	// FirstSlot / LastSlot are inclusive slot indices.
	FirstSlot int
	LastSlot  int

	Column  int
	ColSpan int

	// RowStart / RowSpan index Day.Rows for top-level placements and the
	// container's own rows (header at 0) for children.
	RowStart int
	RowSpan  int

	// Container is set when the entry is a session slot.
	Container *Container
	// Parent is set on children of a session slot.
	Parent *Container
}

// Slots is the number of slots the placement covers.
func (p *Placement) Slots() int { return p.LastSlot - p.FirstSlot + 1 }

// Container is a session slot rendered as a block holding its children.
type Container struct {
	Placement *Placement

	day      *Day
	children []*Placement
	columns  int
}

func (c *Container) FirstSlot() int { return c.Placement.FirstSlot }
func (c *Container) LastSlot() int { return c.Placement.LastSlot }

func (c *Container) Entry() *model.Entry { return c.Placement.Entry }

func (c *Container) Day() *Day { return c.day }

// Children returns the placements of the session slot's entries on this day.
func (c *Container) Children() []*Placement { return c.children }

// Columns is the width of the container's inner grid.
func (c *Container) Columns() int { return c.columns }

// MaxOverlap is the largest number of children sharing one of the
// container's slots.
func (c *Container) MaxOverlap() int {
	n := 0
	for i := c.FirstSlot(); i <= c.LastSlot(); i++ {
		k := 0
		for _, p := range c.children {
			if p.FirstSlot <= i && i <= p.LastSlot {
				k++
			}
		}
		if k > n {
			n = k
		}
	}
	return n
}

// NumRows is the number of inner rows: one per spanned slot plus the
// header and the footer.
func (c *Container) NumRows() int {
	return c.Placement.Slots() + 2
}

func (s *TimeSlot) Day() *Day { return s.day }

// layout assigns columns and column spans to placements sharing a grid of
// slotCount slots and returns the number of columns used. It sorts ps
// into layout order.
//
// Placements are visited by first slot, longest first, and take the
// lowest free column; visiting in start order keeps the column count equal
// to the largest number of placements sharing a slot.
func layout(ps []*Placement, slotCount int) int {
	sort.SliceStable(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		if a.FirstSlot != b.FirstSlot {
			return a.FirstSlot < b.FirstSlot
		}
		if a.Slots() != b.Slots() {
			return a.Slots() > b.Slots()
		}
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		return a.Entry.ID < b.Entry.ID
	})

	// busyUntil[c] is the last slot taken in column c.
	var busyUntil []int
	for _, p := range ps {
		col := -1
		for c, last := range busyUntil {
			if last < p.FirstSlot {
				col = c
				break
			}
		}
		if col < 0 {
			col = len(busyUntil)
			busyUntil = append(busyUntil, 0)
		}
		busyUntil[col] = p.LastSlot
		p.Column = col
		p.ColSpan = 1
	}
	columns := len(busyUntil)
	if columns == 0 || slotCount == 0 {
		return columns
	}

	taken := make([][]bool, slotCount)
	for i := range taken {
		taken[i] = make([]bool, columns)
	}
	for _, p := range ps {
		for i := p.FirstSlot; i <= p.LastSlot; i++ {
			taken[i][p.Column] = true
		}
	}

	// Widen to the right while the neighbouring columns are free on every
	// covered slot.
	for _, p := range ps {
		for c := p.Column + 1; c < columns; c++ {
			free := true
			for i := p.FirstSlot; i <= p.LastSlot; i++ {
				if taken[i][c] {
					free = false
					break
				}
			}
			if !free {
				break
			}
			for i := p.FirstSlot; i <= p.LastSlot; i++ {
				taken[i][c] = true
			}
			p.ColSpan++
		}
	}
	return columns
}
