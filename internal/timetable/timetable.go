// Package timetable lays out an event's schedule on a per-day grid of
// fixed-length time slots.
//
// A TimeTable is built from the event span, fed entries with Map and then
// compiled. Compilation produces one Day per calendar day of the event.
// Each Day decomposes into TimeSlots; every slot knows the entries and the
// containers (session slots) that overlap it. Placements carry the column
// and row coordinates a renderer needs to draw the grid.
package timetable

import (
	"errors"
	"fmt"
	"sort"
	"time"

	appLog "confsched/internal/log"
	"confsched/internal/model"
)

// DefaultSlotLength is the grid resolution used when none is configured.
const DefaultSlotLength = 20 * time.Minute

var (
	ErrInvalidRange = errors.New("timetable: end is not after start")
	ErrOutOfRange   = errors.New("timetable: entry outside event range")
	ErrSlotLength   = errors.New("timetable: slot length must be positive and divide a day")
	ErrDayBounds    = errors.New("timetable: invalid day bounds")
)

// Option configures a TimeTable.
type Option func(*TimeTable) error

// WithSlotLength sets the grid resolution.
func WithSlotLength(d time.Duration) Option {
	return func(tt *TimeTable) error {
		if d <= 0 || (24*time.Hour)%d != 0 {
			return fmt.Errorf("%w: %s", ErrSlotLength, d)
		}
		tt.slotLength = d
		return nil
	}
}

// WithLocation sets the timezone days are cut in.
func WithLocation(loc *time.Location) Option {
	return func(tt *TimeTable) error {
		if loc != nil {
			tt.loc = loc
		}
		return nil
	}
}

// WithDayBounds sets the hours the grid covers on days other than the first
// and last day of the event. Entries outside the bounds still widen the grid.
func WithDayBounds(startHour, endHour int) Option {
	return func(tt *TimeTable) error {
		if startHour < 0 || endHour > 24 || startHour >= endHour {
			return fmt.Errorf("%w: %d-%d", ErrDayBounds, startHour, endHour)
		}
		tt.dayStartHour = startHour
		tt.dayEndHour = endHour
		return nil
	}
}

// WithCompact shrinks each day's grid to the span of its entries.
func WithCompact(compact bool) Option {
	return func(tt *TimeTable) error {
		tt.compact = compact
		return nil
	}
}

// TimeTable maps schedule entries onto per-day slot grids.
type TimeTable struct {
	start time.Time
	end   time.Time
	loc   *time.Location

	slotLength   time.Duration
	dayStartHour int
	dayEndHour   int
	compact      bool

	entries []*model.Entry
	days    []*Day
	dirty   bool
}

// New creates a timetable covering [start, end).
func New(start, end time.Time, opts ...Option) (*TimeTable, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("%w: %s - %s", ErrInvalidRange, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	tt := &TimeTable{
		loc:        time.UTC,
		slotLength: DefaultSlotLength,
		dayEndHour: 24,
		dirty:      true,
	}
	for _, opt := range opts {
		if err := opt(tt); err != nil {
			return nil, err
		}
	}
	tt.start = start.In(tt.loc)
	tt.end = end.In(tt.loc)
	return tt, nil
}

// ForEvent creates a timetable spanning ev in the event's own timezone.
func ForEvent(ev model.Event, opts ...Option) (*TimeTable, error) {
	opts = append([]Option{WithLocation(ev.TimeLocation())}, opts...)
	return New(ev.Start, ev.End, opts...)
}

func (tt *TimeTable) Start() time.Time { return tt.start }
func (tt *TimeTable) End() time.Time { return tt.end }
func (tt *TimeTable) Location() *time.Location { return tt.loc }
func (tt *TimeTable) SlotLength() time.Duration { return tt.slotLength }
func (tt *TimeTable) Entries() []*model.Entry { return tt.entries }

// Map attaches top-level entries to the timetable. Session slot children
// travel with their parent. Nothing is attached if any entry is rejected.
func (tt *TimeTable) Map(entries ...*model.Entry) error {
	for _, e := range entries {
		if e == nil {
			continue
		}
		if err := e.Validate(); err != nil {
			return err
		}
		if e.Start.Before(tt.start) || e.End.After(tt.end) || !e.Start.Before(tt.end) {
			return fmt.Errorf("%w: %s [%s, %s)", ErrOutOfRange, e.ID,
				e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
		}
	}
	for _, e := range entries {
		if e != nil {
			tt.entries = append(tt.entries, e)
		}
	}
	tt.dirty = true
	return nil
}

// Compile builds the day grids. It is cheap to call repeatedly: nothing is
// recomputed unless Map was called since the last compilation.
func (tt *TimeTable) Compile() {
	if !tt.dirty {
		return
	}
	tt.days = nil

	first := midnight(tt.start)
	last := midnight(tt.end.Add(-time.Nanosecond))
	for date := first; !date.After(last); date = nextMidnight(date) {
		tt.days = append(tt.days, newDay(tt, date))
	}
	for _, d := range tt.days {
		d.compile(tt.entries)
	}
	tt.dirty = false

	appLog.Debug("timetable compiled",
		"start", tt.start.Format(time.RFC3339),
		"end", tt.end.Format(time.RFC3339),
		"days", len(tt.days),
		"entries", len(tt.entries),
		"slot_length", tt.slotLength.String(),
	)
}

// Days returns the compiled days in chronological order.
func (tt *TimeTable) Days() []*Day {
	tt.Compile()
	return tt.days
}

// Day returns the day containing t, or nil when t is outside the event.
func (tt *TimeTable) Day(t time.Time) *Day {
	date := midnight(t.In(tt.loc))
	for _, d := range tt.Days() {
		if d.Date.Equal(date) {
			return d
		}
	}
	return nil
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func nextMidnight(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day()+1, 0, 0, 0, 0, date.Location())
}

func sortEntries(entries []*model.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		return a.ID < b.ID
	})
}
