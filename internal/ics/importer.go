package ics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"confsched/internal/config"
	appLog "confsched/internal/log"
	"confsched/internal/model"
)

// entryNamespace seeds the name-based UUIDs of imported entries so that
// re-importing a feed yields stable entry IDs.
var entryNamespace = uuid.MustParse("6f1c7f0e-5f55-4d7a-9a41-2f0f6b1f3c11")

// defaultLookbackDays is how far into the past occurrences are imported.
const defaultLookbackDays = 30

// EventStore is the persistence the importer writes to.
type EventStore interface {
	PutEvent(ctx context.Context, ev model.Event) error
	ReplaceEntries(ctx context.Context, eventID string, entries []*model.Entry) error
}

// ImportResult summarizes the import of one source.
type ImportResult struct {
	SourceID  string
	EventID   string
	Entries   int
	FromCache bool
	Truncated []string
	Skipped   bool
}

// Importer turns ICS subscriptions into events with a flat timetable.
type Importer struct {
	fetcher      *Fetcher
	store        EventStore
	loc          *time.Location
	lookbackDays int
	now          func() time.Time
}

// NewImporter creates an importer laying events out in loc.
func NewImporter(fetcher *Fetcher, store EventStore, loc *time.Location) *Importer {
	if loc == nil {
		loc = time.UTC
	}
	return &Importer{
		fetcher:      fetcher,
		store:        store,
		loc:          loc,
		lookbackDays: defaultLookbackDays,
		now:          time.Now,
	}
}

// Import fetches every source and stores one event per source. Sources
// that fail are logged and reported in the joined error; the others are
// still imported.
func (im *Importer) Import(ctx context.Context, sources []config.ICSConfig) ([]ImportResult, error) {
	if len(sources) == 0 {
		return nil, nil
	}

	byID := make(map[string]config.ICSConfig, len(sources))
	fetchSources := make([]Source, 0, len(sources))
	for _, sc := range sources {
		src := Source{ID: sc.SourceID(), URL: sc.URL}
		byID[src.ID] = sc
		fetchSources = append(fetchSources, src)
	}

	fetched, errs := im.fetcher.FetchAll(ctx, fetchSources)

	results := make([]ImportResult, 0, len(fetched))
	for _, fr := range fetched {
		res, err := im.importOne(ctx, byID[fr.Source.ID], fr)
		if err != nil {
			appLog.Error("ics import failed", err, "id", fr.Source.ID)
			errs = append(errs, fmt.Errorf("%s: %w", fr.Source.ID, err))
			continue
		}
		results = append(results, res)
	}

	appLog.Info("ics import completed", "sources", len(sources), "imported", len(results), "errors", len(errs))
	return results, errors.Join(errs...)
}

func (im *Importer) importOne(ctx context.Context, sc config.ICSConfig, fr FetchResult) (ImportResult, error) {
	res := ImportResult{SourceID: fr.Source.ID, EventID: fr.Source.ID, FromCache: fr.FromCache}

	parsed, err := ParseICS(fr.Source, fr.Body)
	if err != nil {
		return res, err
	}

	now := im.now()
	horizon := sc.HorizonDays
	if horizon <= 0 {
		horizon = 90
	}
	expanded, err := ExpandOccurrences(parsed, ExpandConfig{
		DisplayLocation: im.loc,
		RangeStart:      now.AddDate(0, 0, -im.lookbackDays),
		RangeEnd:        now.AddDate(0, 0, horizon),
	})
	if err != nil {
		return res, err
	}
	res.Truncated = expanded.TruncatedEvents

	ev, entries, ok := im.buildEvent(sc, fr.Source, expanded.Occurrences)
	if !ok {
		appLog.Info("ics source has no occurrences in window; skipping", "id", fr.Source.ID)
		res.Skipped = true
		return res, nil
	}

	if err := im.store.PutEvent(ctx, ev); err != nil {
		return res, err
	}
	if err := im.store.ReplaceEntries(ctx, ev.ID, entries); err != nil {
		return res, err
	}
	res.Entries = len(entries)
	return res, nil
}

// buildEvent spans an event over the occurrences and turns every timed
// occurrence into a contribution or break. All-day occurrences widen the
// event but are not placed on the grid.
func (im *Importer) buildEvent(sc config.ICSConfig, src Source, occs []model.Occurrence) (model.Event, []*model.Entry, bool) {
	if len(occs) == 0 {
		return model.Event{}, nil, false
	}

	title := sc.Name
	if title == "" {
		title = src.ID
	}
	ev := model.Event{
		ID:       src.ID,
		Title:    title,
		Type:     model.EventType(sc.EventType),
		Timezone: im.loc.String(),
		SourceID: src.ID,
		Start:    occs[0].Start,
		End:      occs[0].End,
	}
	if ev.Type == "" {
		ev.Type = model.EventMeeting
	}

	entries := make([]*model.Entry, 0, len(occs))
	locations := map[string]int{}
	for _, o := range occs {
		if o.Start.Before(ev.Start) {
			ev.Start = o.Start
		}
		if o.End.After(ev.End) {
			ev.End = o.End
		}
		// The event end is exclusive; zero-length occurrences must start before it.
		if !ev.End.After(o.Start) {
			ev.End = o.Start.Add(time.Minute)
		}
		if o.AllDay {
			continue
		}
		if o.Location != "" {
			locations[o.Location]++
		}
		entries = append(entries, &model.Entry{
			ID:      uuid.NewSHA1(entryNamespace, []byte(src.ID+"\x00"+o.UID+"\x00"+o.InstanceKey)).String(),
			EventID: ev.ID,
			Kind:    entryKind(o.Categories),
			Title:   o.Summary,
			Room:    o.Location,
			Start:   o.Start,
			End:     o.End,
		})
	}
	ev.Location = mostCommon(locations)
	return ev, entries, true
}

func entryKind(categories []string) model.EntryKind {
	for _, c := range categories {
		switch strings.ToLower(c) {
		case "break", "pause", "coffee", "lunch":
			return model.EntryBreak
		}
	}
	return model.EntryContribution
}

func mostCommon(counts map[string]int) string {
	best, n := "", 0
	for k, c := range counts {
		if c > n || (c == n && k < best) {
			best, n = k, c
		}
	}
	return best
}
