package web

import (
	"time"

	"github.com/shopspring/decimal"

	"confsched/internal/model"
	"confsched/internal/timetable"
)

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Events []eventDTO `json:"events"`
}

type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type eventDTO struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Timezone    string    `json:"timezone"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	SourceID    string    `json:"source_id,omitempty"`
}

func newEventDTO(ev model.Event) eventDTO {
	return eventDTO{
		ID:          ev.ID,
		Title:       ev.Title,
		Type:        string(ev.Type),
		Description: ev.Description,
		Location:    ev.Location,
		Timezone:    ev.Timezone,
		Start:       ev.Start,
		End:         ev.End,
		SourceID:    ev.SourceID,
	}
}

type eventDetailDTO struct {
	eventDTO
	Entries []entryDTO `json:"entries"`
}

type entryDTO struct {
	ID       string     `json:"id"`
	Kind     string     `json:"kind"`
	Title    string     `json:"title"`
	Room     string     `json:"room,omitempty"`
	Color    string     `json:"color,omitempty"`
	Start    time.Time  `json:"start"`
	End      time.Time  `json:"end"`
	Children []entryDTO `json:"children,omitempty"`
}

func newEntryDTO(e *model.Entry) entryDTO {
	out := entryDTO{
		ID:    e.ID,
		Kind:  string(e.Kind),
		Title: e.Title,
		Room:  e.Room,
		Color: e.Color,
		Start: e.Start,
		End:   e.End,
	}
	for _, c := range e.Children {
		out.Children = append(out.Children, newEntryDTO(c))
	}
	return out
}

// timetableDTO is the JSON view of a compiled timetable.
type timetableDTO struct {
	EventID     string    `json:"event_id"`
	Timezone    string    `json:"timezone"`
	SlotMinutes int       `json:"slot_minutes"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Days        []dayDTO  `json:"days"`
}

type dayDTO struct {
	Date       string         `json:"date"`
	Start      time.Time      `json:"start"`
	End        time.Time      `json:"end"`
	Columns    int            `json:"columns"`
	MaxOverlap int            `json:"max_overlap"`
	Slots      []time.Time    `json:"slots"`
	Rows       []rowDTO       `json:"rows"`
	Entries    []placementDTO `json:"entries"`
}

type rowDTO struct {
	Kind       string   `json:"kind"`
	Slot       int      `json:"slot"`
	Containers []string `json:"containers,omitempty"`
}

type placementDTO struct {
	ID        string        `json:"id"`
	Kind      string        `json:"kind"`
	Title     string        `json:"title"`
	Room      string        `json:"room,omitempty"`
	Color     string        `json:"color,omitempty"`
	Start     time.Time     `json:"start"`
	End       time.Time     `json:"end"`
	FirstSlot int           `json:"first_slot"`
	LastSlot  int           `json:"last_slot"`
	Column    int           `json:"column"`
	ColSpan   int           `json:"colspan"`
	RowStart  int           `json:"row"`
	RowSpan   int           `json:"rowspan"`
	Container *containerDTO `json:"container,omitempty"`
}

type containerDTO struct {
	Columns  int            `json:"columns"`
	Rows     int            `json:"rows"`
	Children []placementDTO `json:"children"`
}

func newTimetableDTO(ev model.Event, tt *timetable.TimeTable) timetableDTO {
	out := timetableDTO{
		EventID:     ev.ID,
		Timezone:    tt.Location().String(),
		SlotMinutes: int(tt.SlotLength() / time.Minute),
		Start:       tt.Start(),
		End:         tt.End(),
		Days:        []dayDTO{},
	}
	for _, d := range tt.Days() {
		dd := dayDTO{
			Date:       d.Date.Format("2006-01-02"),
			Start:      d.Start,
			End:        d.End,
			Columns:    d.Columns(),
			MaxOverlap: d.MaxOverlap(),
			Slots:      make([]time.Time, 0, len(d.Slots())),
			Rows:       make([]rowDTO, 0, len(d.Rows())),
			Entries:    make([]placementDTO, 0, len(d.Entries())),
		}
		for _, s := range d.Slots() {
			dd.Slots = append(dd.Slots, s.Start)
		}
		for _, r := range d.Rows() {
			rd := rowDTO{Kind: string(r.Kind), Slot: r.Slot}
			for _, c := range r.Containers {
				rd.Containers = append(rd.Containers, c.Entry().ID)
			}
			dd.Rows = append(dd.Rows, rd)
		}
		for _, p := range d.Entries() {
			dd.Entries = append(dd.Entries, newPlacementDTO(p))
		}
		out.Days = append(out.Days, dd)
	}
	return out
}

func newPlacementDTO(p *timetable.Placement) placementDTO {
	out := placementDTO{
		ID:        p.Entry.ID,
		Kind:      string(p.Entry.Kind),
		Title:     p.Entry.Title,
		Room:      p.Entry.Room,
		Color:     p.Entry.Color,
		Start:     p.Start,
		End:       p.End,
		FirstSlot: p.FirstSlot,
		LastSlot:  p.LastSlot,
		Column:    p.Column,
		ColSpan:   p.ColSpan,
		RowStart:  p.RowStart,
		RowSpan:   p.RowSpan,
	}
	if c := p.Container; c != nil {
		out.Container = &containerDTO{
			Columns:  c.Columns(),
			Rows:     c.NumRows(),
			Children: make([]placementDTO, 0, len(c.Children())),
		}
		for _, cp := range c.Children() {
			out.Container.Children = append(out.Container.Children, newPlacementDTO(cp))
		}
	}
	return out
}

// transactionRequest is the body of POST /api/registrations/{id}/transactions.
type transactionRequest struct {
	Action   string          `json:"action"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Provider string          `json:"provider"`
	Manual   bool            `json:"manual"`
	Data     map[string]any  `json:"data,omitempty"`
}

type transactionDTO struct {
	ID             string          `json:"id"`
	RegistrationID string          `json:"registration_id"`
	Status         string          `json:"status"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Provider       string          `json:"provider"`
	Manual         bool            `json:"manual"`
	Data           map[string]any  `json:"data,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

func newTransactionDTO(tx model.Transaction) transactionDTO {
	return transactionDTO{
		ID:             tx.ID,
		RegistrationID: tx.RegistrationID,
		Status:         string(tx.Status),
		Amount:         tx.Amount,
		Currency:       tx.Currency,
		Provider:       tx.Provider,
		Manual:         tx.Manual,
		Data:           tx.Data,
		Timestamp:      tx.Timestamp,
	}
}

type transactionsResponse struct {
	RegistrationID string           `json:"registration_id"`
	Paid           bool             `json:"paid"`
	Transactions   []transactionDTO `json:"transactions"`
}
