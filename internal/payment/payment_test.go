package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appLog "confsched/internal/log"
	"confsched/internal/model"
)

func TestMain(m *testing.M) {
	appLog.SetLogger(zap.NewNop())
	m.Run()
}

func TestNext(t *testing.T) {
	tx := func(s model.TransactionStatus) *model.Transaction { return &model.Transaction{Status: s} }

	tests := []struct {
		name    string
		current *model.Transaction
		action  Action
		manual  bool
		want    model.TransactionStatus
		wantErr error
	}{
		{"new complete", nil, ActionComplete, false, model.StatusSuccessful, nil},
		{"new pending", nil, ActionPending, false, model.StatusPending, nil},
		{"new manual complete", nil, ActionComplete, true, model.StatusSuccessful, nil},
		{"new manual pending", nil, ActionPending, true, "", ErrInvalidManualAction},
		{"new cancel", nil, ActionCancel, false, "", ErrInvalidAction},
		{"new manual reject", nil, ActionReject, true, "", ErrInvalidManualAction},
		{"cancelled complete", tx(model.StatusCancelled), ActionComplete, false, model.StatusSuccessful, nil},
		{"failed pending", tx(model.StatusFailed), ActionPending, false, model.StatusPending, nil},
		{"rejected complete", tx(model.StatusRejected), ActionComplete, true, model.StatusSuccessful, nil},
		{"pending complete", tx(model.StatusPending), ActionComplete, false, model.StatusSuccessful, nil},
		{"pending cancel", tx(model.StatusPending), ActionCancel, false, model.StatusCancelled, nil},
		{"pending reject", tx(model.StatusPending), ActionReject, false, model.StatusRejected, nil},
		{"pending pending", tx(model.StatusPending), ActionPending, false, "", ErrIgnoredAction},
		{"paid manual cancel", tx(model.StatusSuccessful), ActionCancel, true, model.StatusCancelled, nil},
		{"paid provider cancel", tx(model.StatusSuccessful), ActionCancel, false, "", ErrInvalidAction},
		{"paid complete", tx(model.StatusSuccessful), ActionComplete, false, "", ErrDoublePayment},
		{"paid manual complete", tx(model.StatusSuccessful), ActionComplete, true, "", ErrDoublePayment},
		{"paid manual pending", tx(model.StatusSuccessful), ActionPending, true, "", ErrInvalidManualAction},
		{"unknown status", tx("refunded"), ActionComplete, false, "", ErrInvalidStatus},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Next(tc.current, tc.action, tc.manual)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction("reject")
	require.NoError(t, err)
	assert.Equal(t, ActionReject, a)

	_, err = ParseAction("refund")
	assert.ErrorIs(t, err, ErrInvalidAction)
}

type memStore struct {
	regs map[string]model.Registration
	txs  map[string][]model.Transaction
	fail error
}

func newMemStore(regs ...model.Registration) *memStore {
	s := &memStore{regs: map[string]model.Registration{}, txs: map[string][]model.Transaction{}}
	for _, r := range regs {
		s.regs[r.ID] = r
	}
	return s
}

var errNoReg = errors.New("no such registration")

func (s *memStore) GetRegistration(_ context.Context, id string) (model.Registration, error) {
	r, ok := s.regs[id]
	if !ok {
		return model.Registration{}, errNoReg
	}
	return r, nil
}

func (s *memStore) LatestTransaction(_ context.Context, id string) (*model.Transaction, error) {
	txs := s.txs[id]
	if len(txs) == 0 {
		return nil, nil
	}
	tx := txs[len(txs)-1]
	return &tx, nil
}

func (s *memStore) AddTransaction(_ context.Context, tx model.Transaction) error {
	if s.fail != nil {
		return s.fail
	}
	s.txs[tx.RegistrationID] = append(s.txs[tx.RegistrationID], tx)
	return nil
}

func (s *memStore) Transactions(_ context.Context, id string) ([]model.Transaction, error) {
	return s.txs[id], nil
}

func TestLedgerFlow(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(model.Registration{ID: "r1", Price: decimal.RequireFromString("120.00"), Currency: "EUR"})
	l := NewLedger(store)
	l.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }

	paid, err := l.IsPaid(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, paid)

	tx, err := l.Register(ctx, Request{RegistrationID: "r1", Action: ActionPending, Amount: decimal.RequireFromString("120"), Currency: "eur", Provider: "paypal"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, tx.Status)
	assert.Equal(t, "EUR", tx.Currency)
	assert.NotEmpty(t, tx.ID)

	again, err := l.Register(ctx, Request{RegistrationID: "r1", Action: ActionPending, Provider: "paypal"})
	require.NoError(t, err, "a repeated pending notification is ignored")
	assert.Equal(t, tx.ID, again.ID)

	done, err := l.Register(ctx, Request{RegistrationID: "r1", Action: ActionComplete, Amount: decimal.RequireFromString("120"), Currency: "EUR", Provider: "paypal"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccessful, done.Status)

	paid, err = l.IsPaid(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, paid)

	_, err = l.Register(ctx, Request{RegistrationID: "r1", Action: ActionComplete, Provider: "paypal"})
	assert.ErrorIs(t, err, ErrDoublePayment)

	refund, err := l.Register(ctx, Request{RegistrationID: "r1", Action: ActionCancel, Manual: true})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, refund.Status)
	assert.Equal(t, "_manual", refund.Provider)
	assert.True(t, refund.Amount.Equal(decimal.RequireFromString("120")), "manual actions default to the registration price")

	history, err := l.History(ctx, "r1")
	require.NoError(t, err)
	statuses := make([]model.TransactionStatus, 0, len(history))
	for _, h := range history {
		statuses = append(statuses, h.Status)
	}
	assert.Equal(t, []model.TransactionStatus{model.StatusPending, model.StatusSuccessful, model.StatusCancelled}, statuses)
}

func TestLedgerErrors(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(model.Registration{ID: "r1", Price: decimal.NewFromInt(10), Currency: "CHF"})
	l := NewLedger(store)

	_, err := l.Register(ctx, Request{RegistrationID: "missing", Action: ActionComplete})
	assert.ErrorIs(t, err, errNoReg)

	store.fail = errors.New("disk full")
	_, err = l.Register(ctx, Request{RegistrationID: "r1", Action: ActionComplete})
	assert.ErrorContains(t, err, "disk full")

	cur, err := l.Current(ctx, "r1")
	require.NoError(t, err)
	assert.Nil(t, cur)
}
