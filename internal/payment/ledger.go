package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	appLog "confsched/internal/log"
	"confsched/internal/model"
)

// Store is the persistence the ledger needs. LatestTransaction returns
// (nil, nil) when the registration has no transactions yet.
type Store interface {
	GetRegistration(ctx context.Context, id string) (model.Registration, error)
	LatestTransaction(ctx context.Context, registrationID string) (*model.Transaction, error)
	AddTransaction(ctx context.Context, tx model.Transaction) error
	Transactions(ctx context.Context, registrationID string) ([]model.Transaction, error)
}

// Request describes one action on a registration's payment.
type Request struct {
	RegistrationID string
	Action         Action
	Amount         decimal.Decimal
	Currency       string
	Provider       string
	Data           map[string]any
	Manual         bool
}

// Ledger applies payment actions and appends the resulting transactions.
type Ledger struct {
	store Store
	now   func() time.Time

	// mu serializes read-decide-append per ledger; one registration's
	// actions must not interleave.
	mu sync.Mutex
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// Register applies req and returns the transaction now current for the
// registration. Ignored actions return the unchanged current transaction.
func (l *Ledger) Register(ctx context.Context, req Request) (*model.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	reg, err := l.store.GetRegistration(ctx, req.RegistrationID)
	if err != nil {
		return nil, err
	}
	current, err := l.store.LatestTransaction(ctx, reg.ID)
	if err != nil {
		return nil, err
	}

	status, err := Next(current, req.Action, req.Manual)
	if errors.Is(err, ErrIgnoredAction) {
		appLog.Info("payment action ignored",
			"registration", reg.ID,
			"action", string(req.Action),
			"status", string(current.Status),
		)
		return current, nil
	}
	if err != nil {
		appLog.Error("payment action rejected", err,
			"registration", reg.ID,
			"action", string(req.Action),
			"manual", req.Manual,
		)
		return nil, err
	}

	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = reg.Currency
	}
	amount := req.Amount
	if amount.IsZero() && req.Manual {
		amount = reg.Price
	}
	if !amount.Equal(reg.Price) || currency != reg.Currency {
		appLog.Info("payment amount does not match registration price",
			"registration", reg.ID,
			"amount", amount.String(),
			"currency", currency,
			"expected_amount", reg.Price.String(),
			"expected_currency", reg.Currency,
		)
	}

	tx := model.Transaction{
		ID:             uuid.NewString(),
		RegistrationID: reg.ID,
		Status:         status,
		Amount:         amount,
		Currency:       currency,
		Provider:       req.Provider,
		Data:           req.Data,
		Manual:         req.Manual,
		Timestamp:      l.now().UTC(),
	}
	if tx.Provider == "" && req.Manual {
		tx.Provider = "_manual"
	}
	if err := l.store.AddTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("payment: store transaction: %w", err)
	}

	appLog.Info("payment transaction recorded",
		"registration", reg.ID,
		"transaction", tx.ID,
		"status", string(tx.Status),
		"amount", tx.Amount.String(),
		"currency", tx.Currency,
		"provider", tx.Provider,
	)
	return &tx, nil
}

// Current returns the latest transaction, or nil.
func (l *Ledger) Current(ctx context.Context, registrationID string) (*model.Transaction, error) {
	return l.store.LatestTransaction(ctx, registrationID)
}

// History returns all transactions of a registration, oldest first.
func (l *Ledger) History(ctx context.Context, registrationID string) ([]model.Transaction, error) {
	return l.store.Transactions(ctx, registrationID)
}

// IsPaid reports whether the latest transaction is successful.
func (l *Ledger) IsPaid(ctx context.Context, registrationID string) (bool, error) {
	tx, err := l.store.LatestTransaction(ctx, registrationID)
	if err != nil {
		return false, err
	}
	return tx != nil && tx.Status == model.StatusSuccessful, nil
}
