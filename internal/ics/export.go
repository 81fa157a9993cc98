package ics

import (
	"io"
	"time"

	ical "github.com/arran4/golang-ical"

	"confsched/internal/model"
)

const productID = "-//confsched//timetable//EN"

// Export writes the event's timetable as an iCalendar document. Every
// contribution and break becomes a VEVENT, including the children of
// session slots; session slots themselves are emitted too so that clients
// can show the block.
func Export(w io.Writer, ev model.Event, entries []*model.Entry) error {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)

	stamp := time.Now().UTC()
	for _, e := range model.Flatten(entries) {
		vev := cal.AddEvent(e.ID + "@" + ev.ID)
		vev.SetDtStampTime(stamp)
		vev.SetStartAt(e.Start.UTC())
		vev.SetEndAt(e.End.UTC())
		vev.SetSummary(e.Title)
		if e.Room != "" {
			vev.SetLocation(e.Room)
		} else if ev.Location != "" {
			vev.SetLocation(ev.Location)
		}
		vev.SetProperty(ical.ComponentPropertyCategories, categoryFor(e.Kind))
		if e.ParentID != "" {
			vev.SetProperty(ical.ComponentPropertyRelatedTo, e.ParentID+"@"+ev.ID)
		}
	}
	return cal.SerializeTo(w)
}

func categoryFor(k model.EntryKind) string {
	switch k {
	case model.EntryBreak:
		return "break"
	case model.EntrySessionSlot:
		return "session"
	}
	return "contribution"
}
