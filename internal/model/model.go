package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EventType is the flavour of an event. It only affects presentation.
type EventType string

const (
	EventConference EventType = "conference"
	EventMeeting    EventType = "meeting"
	EventLecture    EventType = "lecture"
)

// Event is the top-level scheduled item.
type Event struct {
	ID          string
	Title       string
	Type        EventType
	Description string
	Location    string

	// Timezone is the IANA name the timetable is laid out in.
	Timezone string

	Start time.Time
	End   time.Time

	// SourceID is the ICS source the event was imported from; empty for
	// events created locally.
	SourceID string
}

// Overlaps reports whether the event intersects the half-open range [from, to).
func (e Event) Overlaps(from, to time.Time) bool {
	return e.Start.Before(to) && e.End.After(from)
}

// TimeLocation resolves Timezone, falling back to UTC.
func (e Event) TimeLocation() *time.Location {
	if e.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(e.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// EntryKind distinguishes the kinds of timetable entries.
type EntryKind string

const (
	EntryContribution EntryKind = "contribution"
	EntryBreak        EntryKind = "break"
	EntrySessionSlot  EntryKind = "session_slot"
)

// Entry is a single item on an event's timetable. Session slots group
// child entries and are rendered as containers.
type Entry struct {
	ID       string
	EventID  string
	ParentID string

	Kind  EntryKind
	Title string
	Room  string
	Color string

	Start time.Time
	End   time.Time

	Children []*Entry
}

func (e *Entry) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// IsContainer reports whether the entry groups other entries.
func (e *Entry) IsContainer() bool {
	return e.Kind == EntrySessionSlot
}

var ErrInvalidEntry = errors.New("invalid entry")

// Validate checks the time span of the entry and of its children.
func (e *Entry) Validate() error {
	if e.End.Before(e.Start) {
		return fmt.Errorf("%w: %s ends before it starts", ErrInvalidEntry, e.ID)
	}
	switch e.Kind {
	case EntryContribution, EntryBreak, EntrySessionSlot:
	default:
		return fmt.Errorf("%w: %s has unknown kind %q", ErrInvalidEntry, e.ID, e.Kind)
	}
	if len(e.Children) > 0 && !e.IsContainer() {
		return fmt.Errorf("%w: %s is a %s and cannot have children", ErrInvalidEntry, e.ID, e.Kind)
	}
	for _, c := range e.Children {
		if c.IsContainer() {
			return fmt.Errorf("%w: session slot %s nested in %s", ErrInvalidEntry, c.ID, e.ID)
		}
		if c.Start.Before(e.Start) || c.End.After(e.End) {
			return fmt.Errorf("%w: %s lies outside its session slot %s", ErrInvalidEntry, c.ID, e.ID)
		}
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Flatten returns the entry followed by its children, depth first.
func Flatten(entries []*Entry) []*Entry {
	out := make([]*Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e)
		out = append(out, e.Children...)
	}
	return out
}

// Registration is a participant sign-up for an event.
type Registration struct {
	ID       string
	EventID  string
	Name     string
	Email    string
	Price    decimal.Decimal
	Currency string
}

// Transaction is one payment attempt of a registration and its outcome.
type Transaction struct {
	ID             string
	RegistrationID string
	Status         TransactionStatus
	Amount         decimal.Decimal
	Currency       string
	Provider       string
	Data           map[string]any
	Manual         bool
	Timestamp      time.Time
}

// TransactionStatus is the outcome recorded on a transaction.
type TransactionStatus string

const (
	StatusCancelled  TransactionStatus = "cancelled"
	StatusFailed     TransactionStatus = "failed"
	StatusPending    TransactionStatus = "pending"
	StatusRejected   TransactionStatus = "rejected"
	StatusSuccessful TransactionStatus = "successful"
)

// Occurrence represents a single concrete instance of an event
// (after recurrence expansion and timezone normalization).
type Occurrence struct {
	SourceID string // calendar source ID
	UID      string // iCalendar UID

	// InstanceKey uniquely identifies a single occurrence of a recurring
	// event, typically derived from the local start time.
	InstanceKey string

	Summary     string
	Description string
	Location    string
	Categories  []string

	AllDay bool

	// Start / End are in the configured display timezone.
	Start time.Time
	End   time.Time
}
