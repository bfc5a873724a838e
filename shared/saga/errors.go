package saga

import (
	"errors"
	"fmt"
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrPersistence       = errors.New("persistence failure")
	ErrSagaNotFound      = errors.New("saga not found")
	ErrDepositRejected   = errors.New("deposit rejected")
	ErrInvalidAmount     = errors.New("invalid amount")
)

// PersistenceError tags a storage failure that rolled back a local transaction.
type PersistenceError struct {
	Op  string
	Err error
}

func Persistence(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// FailureMessage maps a withdraw failure to the message returned to callers
// and carried on account.withdraw.failed.
func FailureMessage(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient funds"
	case errors.Is(err, ErrAccountNotFound):
		return "source account not found"
	case errors.Is(err, ErrInvalidAmount):
		return "amount must be positive with at most 2 decimal places"
	case errors.Is(err, ErrPersistence):
		return "transfer could not be recorded"
	default:
		return "transfer failed"
	}
}
