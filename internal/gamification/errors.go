package gamification

import (
	"errors"
	"fmt"
)

// ValidationError is an expected, user-facing rejection. Callers should not
// retry it.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

var (
	ErrAlreadyCheckedToday = &ValidationError{Code: "already_checked_today", Message: "action already checked today"}
	ErrNoCheckToday        = &ValidationError{Code: "no_check_today", Message: "no check recorded today for this action"}
	ErrActionNotFound      = &ValidationError{Code: "action_not_found", Message: "action not found"}
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrAlreadyUnlocked  = errors.New("achievement already unlocked")
)

// StoreError wraps a backend failure with the operation that hit it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
