// Package payment records registration payments and decides how a
// transaction status moves when a payment provider or a manager acts on it.
package payment

import (
	"errors"
	"fmt"

	"confsched/internal/model"
)

// Action is what a provider callback or a manager asks for.
type Action string

const (
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
	ActionPending  Action = "pending"
	ActionReject   Action = "reject"
)

// ParseAction validates a wire value.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionComplete, ActionCancel, ActionPending, ActionReject:
		return a, nil
	}
	return "", fmt.Errorf("%w: unknown action %q", ErrInvalidAction, s)
}

var (
	ErrInvalidStatus       = errors.New("payment: invalid transaction status")
	ErrInvalidAction       = errors.New("payment: invalid transaction action")
	ErrInvalidManualAction = errors.New("payment: invalid manual transaction action")
	ErrIgnoredAction       = errors.New("payment: transaction action ignored")
	ErrDoublePayment       = errors.New("payment: registration already paid")
)

// initialStatuses are the statuses a new payment attempt may start from.
var initialStatuses = map[model.TransactionStatus]bool{
	model.StatusCancelled: true,
	model.StatusFailed:    true,
	model.StatusRejected:  true,
}

// Next returns the status a new transaction gets when action is applied on
// top of current. current may be nil for a registration without payments.
func Next(current *model.Transaction, action Action, manual bool) (model.TransactionStatus, error) {
	if current == nil || initialStatuses[current.Status] {
		return nextFromInitial(action, manual)
	}
	switch current.Status {
	case model.StatusPending:
		return nextFromPending(action)
	case model.StatusSuccessful:
		return nextFromSuccessful(action, manual)
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, current.Status)
}

func nextFromInitial(action Action, manual bool) (model.TransactionStatus, error) {
	switch action {
	case ActionComplete:
		return model.StatusSuccessful, nil
	case ActionPending:
		if manual {
			return "", fmt.Errorf("%w: %s", ErrInvalidManualAction, action)
		}
		return model.StatusPending, nil
	}
	if manual {
		return "", fmt.Errorf("%w: %s on unpaid registration", ErrInvalidManualAction, action)
	}
	return "", fmt.Errorf("%w: %s on unpaid registration", ErrInvalidAction, action)
}

func nextFromPending(action Action) (model.TransactionStatus, error) {
	switch action {
	case ActionComplete:
		return model.StatusSuccessful, nil
	case ActionCancel:
		return model.StatusCancelled, nil
	case ActionReject:
		return model.StatusRejected, nil
	case ActionPending:
		return "", fmt.Errorf("%w: already pending", ErrIgnoredAction)
	}
	return "", fmt.Errorf("%w: %s", ErrInvalidAction, action)
}

func nextFromSuccessful(action Action, manual bool) (model.TransactionStatus, error) {
	switch {
	case action == ActionCancel && manual:
		return model.StatusCancelled, nil
	case action == ActionComplete:
		return "", ErrDoublePayment
	case manual:
		return "", fmt.Errorf("%w: %s on paid registration", ErrInvalidManualAction, action)
	}
	return "", fmt.Errorf("%w: %s on paid registration", ErrInvalidAction, action)
}
