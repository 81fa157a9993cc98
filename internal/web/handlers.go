package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"confsched/internal/ics"
	appLog "confsched/internal/log"
	"confsched/internal/payment"
	"confsched/internal/render"
	"confsched/internal/store"
)

// handleTimetableHTML serves the printable timetable. The page is what
// capture.PrintPDF prints.
func (s *Server) handleTimetableHTML(w http.ResponseWriter, r *http.Request) {
	lc, ok := s.compiledLayout(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := render.HTML(&buf, lc.event, lc.tt); err != nil {
		appLog.Error("api timetable html failed", err, "event", lc.event.ID)
		writeError(w, http.StatusInternalServerError, "failed to render timetable")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleTimetableICS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ev, err := s.store.GetEvent(ctx, r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	entries, err := s.store.Entries(ctx, ev.ID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := ics.Export(&buf, ev, entries); err != nil {
		appLog.Error("api timetable ics failed", err, "event", ev.ID)
		writeError(w, http.StatusInternalServerError, "failed to export timetable")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+ev.ID+`.ics"`)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusNotFound, "payments are not enabled")
		return
	}
	ctx := r.Context()
	id := r.PathValue("id")

	history, err := s.ledger.History(ctx, id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	paid, err := s.ledger.IsPaid(ctx, id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	resp := transactionsResponse{
		RegistrationID: id,
		Paid:           paid,
		Transactions:   make([]transactionDTO, 0, len(history)),
	}
	for _, tx := range history {
		resp.Transactions = append(resp.Transactions, newTransactionDTO(tx))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAddTransaction applies a payment action.
//
// POST /api/registrations/{id}/transactions
//
//	{"action": "complete", "amount": "120.00", "currency": "EUR", "provider": "stripe"}
func (s *Server) handleAddTransaction(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusNotFound, "payments are not enabled")
		return
	}

	var req transactionRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	action, err := payment.ParseAction(req.Action)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tx, err := s.ledger.Register(r.Context(), payment.Request{
		RegistrationID: r.PathValue("id"),
		Action:         action,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Provider:       req.Provider,
		Data:           req.Data,
		Manual:         req.Manual,
	})
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "registration not found")
		return
	case errors.Is(err, payment.ErrDoublePayment):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, payment.ErrInvalidAction),
		errors.Is(err, payment.ErrInvalidManualAction),
		errors.Is(err, payment.ErrInvalidStatus):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	default:
		appLog.Error("api payment failed", err, "registration", r.PathValue("id"))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, newTransactionDTO(*tx))
}
