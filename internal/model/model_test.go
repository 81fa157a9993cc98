package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(h, m int) time.Time {
	return time.Date(2025, 3, 10, h, m, 0, 0, time.UTC)
}

func TestEntryValidate(t *testing.T) {
	slot := &Entry{ID: "s", Kind: EntrySessionSlot, Start: at(9, 0), End: at(11, 0)}
	slot.Children = []*Entry{
		{ID: "c1", Kind: EntryContribution, Start: at(9, 0), End: at(9, 30)},
	}
	require.NoError(t, slot.Validate())

	slot.Children = append(slot.Children, &Entry{ID: "c2", Kind: EntryContribution, Start: at(10, 30), End: at(11, 30)})
	assert.ErrorIs(t, slot.Validate(), ErrInvalidEntry)

	backwards := &Entry{ID: "b", Kind: EntryBreak, Start: at(10, 0), End: at(9, 0)}
	assert.ErrorIs(t, backwards.Validate(), ErrInvalidEntry)

	withKids := &Entry{ID: "x", Kind: EntryContribution, Start: at(9, 0), End: at(10, 0),
		Children: []*Entry{{ID: "y", Kind: EntryContribution, Start: at(9, 0), End: at(9, 10)}}}
	assert.ErrorIs(t, withKids.Validate(), ErrInvalidEntry)

	unknown := &Entry{ID: "u", Kind: "poster", Start: at(9, 0), End: at(9, 0)}
	assert.ErrorIs(t, unknown.Validate(), ErrInvalidEntry)
}

func TestEventOverlaps(t *testing.T) {
	ev := Event{Start: at(9, 0), End: at(17, 0)}
	assert.True(t, ev.Overlaps(at(16, 0), at(18, 0)))
	assert.False(t, ev.Overlaps(at(17, 0), at(18, 0)))
	assert.False(t, ev.Overlaps(at(7, 0), at(9, 0)))
}

func TestEventTimeLocation(t *testing.T) {
	ev := Event{Location: "Room A", Timezone: "Europe/Zurich"}
	assert.Equal(t, "Europe/Zurich", ev.TimeLocation().String())
	assert.Equal(t, "Room A", ev.Location)

	assert.Equal(t, time.UTC, Event{}.TimeLocation())
	assert.Equal(t, time.UTC, Event{Timezone: "Nowhere/Special"}.TimeLocation())
}

func TestFlatten(t *testing.T) {
	slot := &Entry{ID: "s", Kind: EntrySessionSlot, Children: []*Entry{{ID: "c1"}, {ID: "c2"}}}
	flat := Flatten([]*Entry{{ID: "a"}, slot})
	ids := make([]string, 0, len(flat))
	for _, e := range flat {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"a", "s", "c1", "c2"}, ids)
}
