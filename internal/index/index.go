// Package index keeps events ordered by start time for date range queries.
package index

import (
	"sync"
	"time"

	"github.com/google/btree"

	"confsched/internal/model"
)

const degree = 32

type item struct {
	start time.Time
	id    string
	ev    model.Event
}

func less(a, b item) bool {
	if !a.start.Equal(b.start) {
		return a.start.Before(b.start)
	}
	return a.id < b.id
}

// DateIndex is an ordered, concurrency-safe index of events.
type DateIndex struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[item]
	byID map[string]item

	// longest is the longest event duration indexed so far; range queries
	// start that far before the window so long events are not missed.
	longest time.Duration
}

func New() *DateIndex {
	return &DateIndex{
		tree: btree.NewG[item](degree, less),
		byID: make(map[string]item),
	}
}

// Add inserts ev, replacing a previous version with the same ID.
func (x *DateIndex) Add(ev model.Event) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if old, ok := x.byID[ev.ID]; ok {
		x.tree.Delete(old)
	}
	it := item{start: ev.Start, id: ev.ID, ev: ev}
	x.tree.ReplaceOrInsert(it)
	x.byID[ev.ID] = it
	if d := ev.End.Sub(ev.Start); d > x.longest {
		x.longest = d
	}
}

// Remove deletes the event with the given ID and reports whether it existed.
func (x *DateIndex) Remove(id string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	old, ok := x.byID[id]
	if !ok {
		return false
	}
	x.tree.Delete(old)
	delete(x.byID, id)
	return true
}

func (x *DateIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.tree.Len()
}

// Get returns the indexed event with the given ID.
func (x *DateIndex) Get(id string) (model.Event, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	it, ok := x.byID[id]
	return it.ev, ok
}

// Between returns the events overlapping [from, to), ordered by start then ID.
func (x *DateIndex) Between(from, to time.Time) []model.Event {
	x.mu.RLock()
	defer x.mu.RUnlock()

	var out []model.Event
	if !to.After(from) {
		return out
	}
	pivot := item{start: from.Add(-x.longest)}
	x.tree.AscendGreaterOrEqual(pivot, func(it item) bool {
		if !it.start.Before(to) {
			return false
		}
		if overlaps(it.ev, from, to) {
			out = append(out, it.ev)
		}
		return true
	})
	return out
}

// OnDay returns the events overlapping the calendar day of t in loc.
func (x *DateIndex) OnDay(t time.Time, loc *time.Location) []model.Event {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	from := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	to := time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc)
	return x.Between(from, to)
}

// Ascend calls fn for every event in order until fn returns false.
func (x *DateIndex) Ascend(fn func(model.Event) bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	x.tree.Ascend(func(it item) bool { return fn(it.ev) })
}

// overlaps treats zero-length events as points.
func overlaps(ev model.Event, from, to time.Time) bool {
	if ev.End.Equal(ev.Start) {
		return !ev.Start.Before(from) && ev.Start.Before(to)
	}
	return ev.Overlaps(from, to)
}
