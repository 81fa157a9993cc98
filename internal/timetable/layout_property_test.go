//go:build property

package timetable

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"confsched/internal/model"
)

// entriesFromSeeds turns random ints into entries inside 08:00-18:00 with
// 10 minute granularity and durations up to two hours.
func entriesFromSeeds(seeds []int) []*model.Entry {
	base := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	out := make([]*model.Entry, 0, len(seeds))
	for i, v := range seeds {
		start := base.Add(time.Duration(v%48) * 10 * time.Minute)
		dur := time.Duration((v/48)%13) * 10 * time.Minute
		out = append(out, contribution(fmt.Sprintf("e%02d", i), start, start.Add(dur)))
	}
	return out
}

func TestLayoutProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1357)
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	compile := func(seeds []int) *Day {
		tt, err := New(
			time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC),
			time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC),
			WithSlotLength(10*time.Minute),
		)
		if err != nil {
			panic(err)
		}
		if err := tt.Map(entriesFromSeeds(seeds)...); err != nil {
			panic(err)
		}
		return tt.Days()[0]
	}

	seeds := gen.SliceOf(gen.IntRange(0, 48*13-1))

	properties.Property("column count equals max overlap", prop.ForAll(
		func(s []int) bool {
			d := compile(s)
			return d.Columns() == d.MaxOverlap()
		},
		seeds,
	))

	properties.Property("no two placements share a cell", prop.ForAll(
		func(s []int) bool {
			d := compile(s)
			seen := map[[2]int]bool{}
			for _, p := range d.Entries() {
				for i := p.FirstSlot; i <= p.LastSlot; i++ {
					for c := p.Column; c < p.Column+p.ColSpan; c++ {
						k := [2]int{i, c}
						if seen[k] || c >= d.Columns() {
							return false
						}
						seen[k] = true
					}
				}
			}
			return true
		},
		seeds,
	))

	properties.Property("every entry lands in each slot it overlaps", prop.ForAll(
		func(s []int) bool {
			d := compile(s)
			for _, slot := range d.Slots() {
				for _, p := range d.Entries() {
					e := p.Entry
					overlaps := e.Start.Before(slot.End) && e.End.After(slot.Start)
					if e.Start.Equal(e.End) {
						overlaps = !e.Start.Before(slot.Start) && e.Start.Before(slot.End)
					}
					in := p.FirstSlot <= slot.Index && slot.Index <= p.LastSlot
					if overlaps != in {
						return false
					}
				}
			}
			return true
		},
		seeds,
	))

	properties.TestingRun(t)
}
