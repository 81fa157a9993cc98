package ics

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"confsched/internal/config"
	appLog "confsched/internal/log"
	"confsched/internal/model"
	"confsched/internal/timetable"
)

func TestMain(m *testing.M) {
	appLog.SetLogger(zap.NewNop())
	m.Run()
}

const seriesICS = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:series-1
SEQUENCE:2
SUMMARY:Weekly seminar
LOCATION:Room A
CATEGORIES:Talk,Physics
DTSTART;TZID=Europe/Zurich:20250303T090000
DTEND;TZID=Europe/Zurich:20250303T100000
RRULE:FREQ=WEEKLY;COUNT=4
EXDATE;TZID=Europe/Zurich:20250310T090000
END:VEVENT
BEGIN:VEVENT
UID:series-1
RECURRENCE-ID;TZID=Europe/Zurich:20250317T090000
SUMMARY:Moved
DTSTART;TZID=Europe/Zurich:20250317T140000
DTEND;TZID=Europe/Zurich:20250317T150000
END:VEVENT
BEGIN:VEVENT
UID:coffee-1
SUMMARY:Coffee
LOCATION:Foyer
CATEGORIES:Break
DTSTART:20250303T090000Z
DTEND:20250303T093000Z
END:VEVENT
BEGIN:VEVENT
UID:allday-1
SUMMARY:Arrival
DTSTART;TZID=Europe/Zurich;VALUE=DATE:20250302
END:VEVENT
BEGIN:VEVENT
SUMMARY:No UID
DTSTART:20250303T090000Z
END:VEVENT
END:VCALENDAR
`

func zurich(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Zurich")
	require.NoError(t, err)
	return loc
}

func TestParseICS(t *testing.T) {
	loc := zurich(t)
	src := Source{ID: "seminar", URL: "https://example.org/private/token.ics"}

	events, err := ParseICS(src, []byte(seriesICS))
	require.NoError(t, err)
	require.Len(t, events, 4, "VEVENT without UID is skipped")

	series := events[0]
	assert.Equal(t, "series-1", series.UID)
	assert.Equal(t, 2, series.Seq)
	assert.Equal(t, src, series.Source)
	assert.Equal(t, []string{"Talk", "Physics"}, series.Categories)
	assert.Equal(t, "Europe/Zurich", series.StartTZ)
	assert.True(t, series.Start.Equal(time.Date(2025, 3, 3, 9, 0, 0, 0, loc)))
	assert.True(t, series.End.Equal(time.Date(2025, 3, 3, 10, 0, 0, 0, loc)))
	assert.Equal(t, "FREQ=WEEKLY;COUNT=4", series.RawRRule)
	require.Len(t, series.ExDates, 1)
	assert.True(t, series.ExDates[0].Equal(time.Date(2025, 3, 10, 9, 0, 0, 0, loc)))
	assert.False(t, series.IsOverride)

	override := events[1]
	assert.True(t, override.IsOverride)
	require.NotNil(t, override.Recurrence)
	assert.True(t, override.Recurrence.Equal(time.Date(2025, 3, 17, 9, 0, 0, 0, loc)))

	allDay := events[3]
	assert.True(t, allDay.AllDay)
	assert.True(t, allDay.Start.Equal(time.Date(2025, 3, 2, 0, 0, 0, 0, loc)))
	assert.True(t, allDay.End.Equal(time.Date(2025, 3, 3, 0, 0, 0, 0, loc)))
}

func TestParseICSErrors(t *testing.T) {
	_, err := ParseICS(Source{ID: "x"}, nil)
	assert.Error(t, err)

	_, err = ParseICS(Source{ID: "x"}, []byte("not a calendar"))
	assert.Error(t, err)

	backwards := `BEGIN:VCALENDAR
BEGIN:VEVENT
UID:b
DTSTART:20250303T100000Z
DTEND:20250303T090000Z
END:VEVENT
END:VCALENDAR
`
	events, err := ParseICS(Source{ID: "x"}, []byte(backwards))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestExpandOccurrences(t *testing.T) {
	loc := zurich(t)
	events, err := ParseICS(Source{ID: "seminar"}, []byte(seriesICS))
	require.NoError(t, err)

	res, err := ExpandOccurrences(events, ExpandConfig{
		DisplayLocation: loc,
		RangeStart:      time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC),
		RangeEnd:        time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Empty(t, res.TruncatedEvents)

	type got struct {
		UID, Summary string
		Start        string
	}
	var out []got
	for _, o := range res.Occurrences {
		assert.Equal(t, loc, o.Start.Location())
		out = append(out, got{o.UID, o.Summary, o.Start.Format("01-02 15:04")})
	}
	assert.Equal(t, []got{
		{"series-1", "Weekly seminar", "03-03 09:00"},
		{"coffee-1", "Coffee", "03-03 10:00"},
		{"series-1", "Moved", "03-17 14:00"},
		{"series-1", "Weekly seminar", "03-24 09:00"},
	}, out)
}

func TestExpandOccurrencesSortedAndCapped(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	events := []ParsedEvent{
		{UID: "daily", Start: start, End: start.Add(time.Hour), RawRRule: "FREQ=DAILY"},
		{UID: "once", Start: start.Add(-time.Hour), End: start},
	}
	res, err := ExpandOccurrences(events, ExpandConfig{
		DisplayLocation:        time.UTC,
		RangeStart:             start.Add(-24 * time.Hour),
		RangeEnd:               start.AddDate(0, 1, 0),
		MaxOccurrencesPerEvent: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"daily"}, res.TruncatedEvents)
	require.Len(t, res.Occurrences, 4)
	assert.Equal(t, "once", res.Occurrences[0].UID)
	for i := 1; i < len(res.Occurrences); i++ {
		assert.False(t, res.Occurrences[i].Start.Before(res.Occurrences[i-1].Start))
	}

	_, err = ExpandOccurrences(events, ExpandConfig{RangeStart: start, RangeEnd: start.Add(-time.Hour)})
	assert.Error(t, err)
}

func TestExpandKeepsHighestSequence(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	events := []ParsedEvent{
		{UID: "a", Seq: 1, Summary: "old", Start: start, End: start.Add(time.Hour)},
		{UID: "a", Seq: 3, Summary: "new", Start: start, End: start.Add(time.Hour)},
	}
	res, err := ExpandOccurrences(events, ExpandConfig{
		DisplayLocation: time.UTC,
		RangeStart:      start.Add(-time.Hour),
		RangeEnd:        start.Add(2 * time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, res.Occurrences, 1)
	assert.Equal(t, "new", res.Occurrences[0].Summary)
}

type feedServer struct {
	*httptest.Server
	hits   atomic.Int32
	broken atomic.Bool
}

func newFeedServer(t *testing.T, body string) *feedServer {
	t.Helper()
	fs := &feedServer{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.hits.Add(1)
		if fs.broken.Load() {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(fs.Close)
	return fs
}

func TestFetchOneUsesCache(t *testing.T) {
	srv := newFeedServer(t, seriesICS)
	f := NewFetcher(t.TempDir())
	src := Source{ID: "seminar", URL: srv.URL + "/feed.ics"}
	ctx := context.Background()

	res, err := f.FetchOne(ctx, src)
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, seriesICS, string(res.Body))

	res, err = f.FetchOne(ctx, src)
	require.NoError(t, err)
	assert.True(t, res.FromCache, "304 serves the cached body")
	assert.Equal(t, seriesICS, string(res.Body))

	srv.broken.Store(true)
	res, err = f.FetchOne(ctx, src)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.EqualValues(t, 3, srv.hits.Load())

	_, err = NewFetcher(t.TempDir()).FetchOne(ctx, src)
	assert.Error(t, err, "no cache to fall back to")

	_, err = f.FetchOne(ctx, Source{ID: "empty"})
	assert.Error(t, err)
}

func TestFetchOneRejectsOversizedFeed(t *testing.T) {
	var body atomic.Value
	body.Store(seriesICS)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b := body.Load().(string)
		etag := fmt.Sprintf(`"%d"`, len(b))
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
		_, _ = w.Write([]byte(b))
	}))
	t.Cleanup(srv.Close)

	ctx := context.Background()
	src := Source{ID: "grows", URL: srv.URL + "/feed.ics"}
	f := NewFetcher(t.TempDir())
	f.maxBytes = len(seriesICS)

	res, err := f.FetchOne(ctx, src)
	require.NoError(t, err, "a feed of exactly the limit is accepted")
	assert.False(t, res.FromCache)

	body.Store(seriesICS + "X")
	for range 2 {
		// The oversized body is never cached, so no 304 can revive it.
		res, err = f.FetchOne(ctx, src)
		require.NoError(t, err)
		assert.True(t, res.FromCache)
		assert.Equal(t, seriesICS, string(res.Body))
	}

	fresh := NewFetcher(t.TempDir())
	fresh.maxBytes = 10
	_, err = fresh.FetchOne(ctx, src)
	assert.ErrorIs(t, err, ErrFeedTooLarge)
}

func TestFetchAllKeepsOrderAndCollectsErrors(t *testing.T) {
	good := newFeedServer(t, seriesICS)
	bad := newFeedServer(t, "")
	bad.broken.Store(true)

	f := NewFetcher(t.TempDir())
	sources := []Source{
		{ID: "a", URL: good.URL + "/a.ics"},
		{ID: "broken", URL: bad.URL + "/x.ics"},
		{ID: "b", URL: good.URL + "/b.ics"},
	}
	results, errs := f.FetchAll(context.Background(), sources)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Source.ID)
	assert.Equal(t, "b", results[1].Source.ID)
	require.Len(t, errs, 1)
	assert.True(t, strings.HasPrefix(errs[0].Error(), "broken: "))
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://calendar.example.org/...(redacted)", redactURL("https://calendar.example.org/private/abc123/basic.ics?key=s3cr3t"))
	assert.Equal(t, "ics://...(redacted)", redactURL("::"))
}

type memEventStore struct {
	mu      sync.Mutex
	events  map[string]model.Event
	entries map[string][]*model.Entry
}

func newMemEventStore() *memEventStore {
	return &memEventStore{events: map[string]model.Event{}, entries: map[string][]*model.Entry{}}
}

func (m *memEventStore) PutEvent(_ context.Context, ev model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[ev.ID] = ev
	return nil
}

func (m *memEventStore) ReplaceEntries(_ context.Context, eventID string, entries []*model.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[eventID] = entries
	return nil
}

func TestImporter(t *testing.T) {
	loc := zurich(t)
	srv := newFeedServer(t, seriesICS)
	st := newMemEventStore()

	im := NewImporter(NewFetcher(t.TempDir()), st, loc)
	im.now = func() time.Time { return time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC) }

	sources := []config.ICSConfig{
		{ID: "seminar", Name: "Physics seminar", URL: srv.URL + "/s.ics", EventType: "conference"},
		{ID: "down", URL: "http://127.0.0.1:1/unreachable.ics"},
	}
	results, err := im.Import(context.Background(), sources)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
	require.Len(t, results, 1)
	assert.Equal(t, "seminar", results[0].EventID)
	assert.Equal(t, 4, results[0].Entries)

	ev := st.events["seminar"]
	assert.Equal(t, "Physics seminar", ev.Title)
	assert.Equal(t, model.EventConference, ev.Type)
	assert.Equal(t, "Europe/Zurich", ev.Timezone)
	assert.Equal(t, "seminar", ev.SourceID)
	assert.Equal(t, "Room A", ev.Location)
	assert.True(t, ev.Start.Equal(time.Date(2025, 3, 2, 0, 0, 0, 0, loc)), "all-day occurrence widens the event")
	assert.True(t, ev.End.Equal(time.Date(2025, 3, 24, 10, 0, 0, 0, loc)))

	entries := st.entries["seminar"]
	require.Len(t, entries, 4)
	kinds := map[model.EntryKind]int{}
	for _, e := range entries {
		kinds[e.Kind]++
		assert.Equal(t, "seminar", e.EventID)
		assert.NoError(t, e.Validate())
	}
	assert.Equal(t, map[model.EntryKind]int{model.EntryContribution: 3, model.EntryBreak: 1}, kinds)

	again, err := im.Import(context.Background(), sources[:1])
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, entries[0].ID, st.entries["seminar"][0].ID, "entry IDs are stable across imports")
}

func TestImporterZeroLengthOccurrences(t *testing.T) {
	im := NewImporter(NewFetcher(t.TempDir()), newMemEventStore(), time.UTC)
	at := func(h, m int) time.Time { return time.Date(2025, 3, 10, h, m, 0, 0, time.UTC) }
	occ := func(uid string, start, end time.Time) model.Occurrence {
		return model.Occurrence{UID: uid, InstanceKey: start.Format(time.RFC3339), Summary: uid, Start: start, End: end}
	}

	cases := map[string][]model.Occurrence{
		"marker at the last end": {occ("talk", at(10, 0), at(11, 0)), occ("marker", at(11, 0), at(11, 0))},
		"only a marker":          {occ("marker", at(10, 0), at(10, 0))},
	}
	for name, occs := range cases {
		t.Run(name, func(t *testing.T) {
			ev, entries, ok := im.buildEvent(config.ICSConfig{ID: "feed"}, Source{ID: "feed"}, occs)
			require.True(t, ok)
			require.True(t, ev.End.After(ev.Start))

			tt, err := timetable.ForEvent(ev)
			require.NoError(t, err)
			require.NoError(t, tt.Map(entries...))

			var placed int
			for _, d := range tt.Days() {
				placed += len(d.Entries())
			}
			assert.Equal(t, len(entries), placed)
		})
	}
}

func TestImporterSkipsEmptyWindow(t *testing.T) {
	srv := newFeedServer(t, seriesICS)
	st := newMemEventStore()
	im := NewImporter(NewFetcher(t.TempDir()), st, time.UTC)
	im.now = func() time.Time { return time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC) }

	results, err := im.Import(context.Background(), []config.ICSConfig{{ID: "old", URL: srv.URL}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Skipped)
	assert.Empty(t, st.events)
}

func TestExportRoundTrip(t *testing.T) {
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	ev := model.Event{ID: "conf", Title: "Conf", Location: "Main hall"}
	slot := &model.Entry{ID: "s1", EventID: "conf", Kind: model.EntrySessionSlot, Title: "Session", Start: base, End: base.Add(2 * time.Hour)}
	slot.Children = []*model.Entry{
		{ID: "c1", EventID: "conf", ParentID: "s1", Kind: model.EntryContribution, Title: "Talk", Room: "R1", Start: base, End: base.Add(30 * time.Minute)},
	}
	brk := &model.Entry{ID: "b1", EventID: "conf", Kind: model.EntryBreak, Title: "Lunch", Start: base.Add(2 * time.Hour), End: base.Add(3 * time.Hour)}

	var buf bytes.Buffer
	require.NoError(t, Export(&buf, ev, []*model.Entry{slot, brk}))
	assert.Contains(t, buf.String(), "METHOD:PUBLISH")

	parsed, err := ParseICS(Source{ID: "conf"}, buf.Bytes())
	require.NoError(t, err)
	require.Len(t, parsed, 3)

	byUID := map[string]ParsedEvent{}
	for _, p := range parsed {
		byUID[p.UID] = p
	}
	talk := byUID["c1@conf"]
	assert.Equal(t, "Talk", talk.Summary)
	assert.Equal(t, "R1", talk.Location)
	assert.Equal(t, []string{"contribution"}, talk.Categories)
	assert.True(t, talk.Start.Equal(base))
	assert.True(t, talk.End.Equal(base.Add(30*time.Minute)))

	lunch := byUID["b1@conf"]
	assert.Equal(t, "Main hall", lunch.Location)
	assert.Equal(t, []string{"break"}, lunch.Categories)
	assert.Equal(t, []string{"session"}, byUID["s1@conf"].Categories)
}
