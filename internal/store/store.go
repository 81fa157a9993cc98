// Package store persists events, timetables, registrations and payment
// transactions in SQLite and keeps the date index of events warm.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"confsched/internal/index"
	appLog "confsched/internal/log"
	"confsched/internal/model"
)

var ErrNotFound = errors.New("store: not found")

// Store wraps the SQLite database.
type Store struct {
	db     *sql.DB
	dbPath string
	idx    *index.DateIndex

	// mu serializes writers; SQLite allows a single writer anyway.
	mu sync.Mutex
}

// Open creates or opens the database at path and loads the date index.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("store: create directory: %w", err)
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	} else {
		dsn = "file::memory:?_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	// One connection keeps :memory: databases shared and writes ordered.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, dbPath: path, idx: index.New()}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: initialize schema: %w", err)
	}
	if err := s.warmIndex(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: load index: %w", err)
	}

	appLog.Info("store opened", "path", path, "events", s.idx.Len())
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Path() string {
	return s.dbPath
}

// Index returns the date index of all stored events.
func (s *Store) Index() *index.DateIndex {
	return s.idx
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		type TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		timezone TEXT NOT NULL DEFAULT 'UTC',
		start_at TEXT NOT NULL,
		end_at TEXT NOT NULL,
		source_id TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_events_start ON events(start_at);
	CREATE INDEX IF NOT EXISTS idx_events_source ON events(source_id);

	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
		parent_id TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		title TEXT NOT NULL,
		room TEXT NOT NULL DEFAULT '',
		color TEXT NOT NULL DEFAULT '',
		start_at TEXT NOT NULL,
		end_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entries_event ON entries(event_id);

	CREATE TABLE IF NOT EXISTS registrations (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		price TEXT NOT NULL,
		currency TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transactions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		registration_id TEXT NOT NULL REFERENCES registrations(id) ON DELETE CASCADE,
		status TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		provider TEXT NOT NULL DEFAULT '',
		data_json TEXT,
		manual INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_registration ON transactions(registration_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) warmIndex(ctx context.Context) error {
	events, err := s.ListEvents(ctx)
	if err != nil {
		return err
	}
	for _, ev := range events {
		s.idx.Add(ev)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, v)
}

// PutEvent inserts or updates an event.
func (s *Store) PutEvent(ctx context.Context, ev model.Event) error {
	if ev.ID == "" {
		return errors.New("store: event id is empty")
	}
	if ev.Timezone == "" {
		ev.Timezone = "UTC"
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, title, type, description, location, timezone, start_at, end_at, source_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			type = excluded.type,
			description = excluded.description,
			location = excluded.location,
			timezone = excluded.timezone,
			start_at = excluded.start_at,
			end_at = excluded.end_at,
			source_id = excluded.source_id`,
		ev.ID, ev.Title, string(ev.Type), ev.Description, ev.Location, ev.Timezone,
		formatTime(ev.Start), formatTime(ev.End), ev.SourceID,
	)
	if err != nil {
		return fmt.Errorf("store: put event %s: %w", ev.ID, err)
	}
	s.idx.Add(ev)
	return nil
}

const eventColumns = `id, title, type, description, location, timezone, start_at, end_at, source_id`

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (model.Event, error) {
	var (
		ev         model.Event
		typ        string
		start, end string
	)
	if err := row.Scan(&ev.ID, &ev.Title, &typ, &ev.Description, &ev.Location, &ev.Timezone, &start, &end, &ev.SourceID); err != nil {
		return ev, err
	}
	ev.Type = model.EventType(typ)
	var err error
	if ev.Start, err = parseTime(start); err != nil {
		return ev, err
	}
	if ev.End, err = parseTime(end); err != nil {
		return ev, err
	}
	return ev, nil
}

// GetEvent returns ErrNotFound for unknown IDs.
func (s *Store) GetEvent(ctx context.Context, id string) (model.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Event{}, fmt.Errorf("%w: event %s", ErrNotFound, id)
	}
	if err != nil {
		return model.Event{}, fmt.Errorf("store: get event %s: %w", id, err)
	}
	return ev, nil
}

// ListEvents returns all events ordered by start.
func (s *Store) ListEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events ORDER BY start_at, id`)
	if err != nil {
		return nil, fmt.Errorf("store: list events: %w", err)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// EventsBySource returns the events imported from an ICS source.
func (s *Store) EventsBySource(ctx context.Context, sourceID string) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events WHERE source_id = ? ORDER BY start_at, id`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("store: events by source: %w", err)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// DeleteEvent removes an event with its timetable and registrations.
func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete event %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: event %s", ErrNotFound, id)
	}
	s.idx.Remove(id)
	return nil
}

// ReplaceEntries swaps the whole timetable of an event in one transaction.
func (s *Store) ReplaceEntries(ctx context.Context, eventID string, entries []*model.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE event_id = ?`, eventID); err != nil {
		return fmt.Errorf("store: clear entries of %s: %w", eventID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entries (id, event_id, parent_id, kind, title, room, color, start_at, end_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare entry insert: %w", err)
	}
	defer stmt.Close()

	insert := func(e *model.Entry, parentID string) error {
		_, err := stmt.ExecContext(ctx, e.ID, eventID, parentID, string(e.Kind), e.Title, e.Room, e.Color,
			formatTime(e.Start), formatTime(e.End))
		if err != nil {
			return fmt.Errorf("store: insert entry %s: %w", e.ID, err)
		}
		return nil
	}
	for _, e := range entries {
		if err := insert(e, ""); err != nil {
			return err
		}
		for _, c := range e.Children {
			if err := insert(c, e.ID); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// Entries returns the timetable of an event: top-level entries ordered by
// start, with session slot children attached.
func (s *Store) Entries(ctx context.Context, eventID string) ([]*model.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parent_id, kind, title, room, color, start_at, end_at
		FROM entries WHERE event_id = ? ORDER BY start_at, id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("store: entries of %s: %w", eventID, err)
	}
	defer rows.Close()

	var (
		top      []*model.Entry
		byID     = map[string]*model.Entry{}
		children []*model.Entry
	)
	for rows.Next() {
		var (
			e          model.Entry
			kind       string
			start, end string
		)
		if err := rows.Scan(&e.ID, &e.ParentID, &kind, &e.Title, &e.Room, &e.Color, &start, &end); err != nil {
			return nil, fmt.Errorf("store: scan entry: %w", err)
		}
		e.EventID = eventID
		e.Kind = model.EntryKind(kind)
		if e.Start, err = parseTime(start); err != nil {
			return nil, err
		}
		if e.End, err = parseTime(end); err != nil {
			return nil, err
		}
		entry := &e
		byID[e.ID] = entry
		if e.ParentID == "" {
			top = append(top, entry)
		} else {
			children = append(children, entry)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, c := range children {
		parent, ok := byID[c.ParentID]
		if !ok {
			appLog.Error("orphan timetable entry", ErrNotFound, "entry", c.ID, "parent", c.ParentID)
			continue
		}
		parent.Children = append(parent.Children, c)
	}
	return top, nil
}

// PutRegistration inserts or updates a registration.
func (s *Store) PutRegistration(ctx context.Context, r model.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO registrations (id, event_id, name, email, price, currency)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			event_id = excluded.event_id,
			name = excluded.name,
			email = excluded.email,
			price = excluded.price,
			currency = excluded.currency`,
		r.ID, r.EventID, r.Name, r.Email, r.Price.String(), r.Currency,
	)
	if err != nil {
		return fmt.Errorf("store: put registration %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) GetRegistration(ctx context.Context, id string) (model.Registration, error) {
	var (
		r     model.Registration
		price string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, event_id, name, email, price, currency FROM registrations WHERE id = ?`, id,
	).Scan(&r.ID, &r.EventID, &r.Name, &r.Email, &price, &r.Currency)
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("%w: registration %s", ErrNotFound, id)
	}
	if err != nil {
		return r, fmt.Errorf("store: get registration %s: %w", id, err)
	}
	if r.Price, err = decimal.NewFromString(price); err != nil {
		return r, fmt.Errorf("store: registration %s price: %w", id, err)
	}
	return r, nil
}

// AddTransaction appends a transaction; transactions are never updated.
func (s *Store) AddTransaction(ctx context.Context, t model.Transaction) error {
	var data []byte
	if t.Data != nil {
		var err error
		if data, err = json.Marshal(t.Data); err != nil {
			return fmt.Errorf("store: encode transaction data: %w", err)
		}
	}
	manual := 0
	if t.Manual {
		manual = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, registration_id, status, amount, currency, provider, data_json, manual, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.RegistrationID, string(t.Status), t.Amount.String(), t.Currency, t.Provider,
		nullableString(data), manual, formatTime(t.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("store: add transaction %s: %w", t.ID, err)
	}
	return nil
}

const txColumns = `id, registration_id, status, amount, currency, provider, data_json, manual, created_at`

func scanTransaction(row scanner) (model.Transaction, error) {
	var (
		t       model.Transaction
		status  string
		amount  string
		data    sql.NullString
		manual  int
		created string
	)
	if err := row.Scan(&t.ID, &t.RegistrationID, &status, &amount, &t.Currency, &t.Provider, &data, &manual, &created); err != nil {
		return t, err
	}
	t.Status = model.TransactionStatus(status)
	t.Manual = manual != 0
	var err error
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return t, err
	}
	if t.Timestamp, err = parseTime(created); err != nil {
		return t, err
	}
	if data.Valid && data.String != "" {
		if err := json.Unmarshal([]byte(data.String), &t.Data); err != nil {
			return t, err
		}
	}
	return t, nil
}

// LatestTransaction returns (nil, nil) when there is none.
func (s *Store) LatestTransaction(ctx context.Context, registrationID string) (*model.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions
		WHERE registration_id = ? ORDER BY seq DESC LIMIT 1`, registrationID)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: latest transaction of %s: %w", registrationID, err)
	}
	return &t, nil
}

// Transactions returns the history of a registration, oldest first.
func (s *Store) Transactions(ctx context.Context, registrationID string) ([]model.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+txColumns+` FROM transactions
		WHERE registration_id = ? ORDER BY seq`, registrationID)
	if err != nil {
		return nil, fmt.Errorf("store: transactions of %s: %w", registrationID, err)
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullableString(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
