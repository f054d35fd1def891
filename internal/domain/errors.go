package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrSlotNotFound      = fmt.Errorf("slot %w", ErrNotFound)
	ErrSaleNotFound      = fmt.Errorf("sale %w", ErrNotFound)
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrBusinessRule      = errors.New("business rule violation")
	ErrValidation        = errors.New("validation failed")
	ErrStore             = errors.New("store failure")
	ErrLockTimeout       = fmt.Errorf("ledger lock timeout: %w", ErrStore)
	ErrNoPriceDefined    = errors.New("no price defined")
	ErrSlotConflict      = fmt.Errorf("slot number already taken: %w", ErrValidation)
)

// TransitionError is returned when a sale is asked to move to a state its
// current state does not allow.
type TransitionError struct {
	SaleID   string
	Current  State
	Target   State
	Required []State
}

func (e *TransitionError) Error() string {
	req := make([]string, 0, len(e.Required))
	for _, s := range e.Required {
		req = append(req, string(s))
	}
	return fmt.Sprintf("sale %s: cannot move to %s from %s (requires %s)",
		e.SaleID, e.Target, e.Current, strings.Join(req, "|"))
}

func (e *TransitionError) Is(target error) bool { return target == ErrBusinessRule }

// RuleError is a business rule failure that is not a plain state mismatch
// (bad TTL, wrong pickup code, immutable field).
type RuleError struct {
	Msg string
}

func NewRuleError(format string, args ...any) *RuleError {
	return &RuleError{Msg: fmt.Sprintf(format, args...)}
}

func (e *RuleError) Error() string        { return e.Msg }
func (e *RuleError) Is(target error) bool { return target == ErrBusinessRule }

type ValidationError struct {
	Msg string
}

func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string        { return "validation: " + e.Msg }
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// IsRetryable reports failures a caller may retry as-is: lock timeouts and
// stock shortages that may clear once holds are released.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout) || errors.Is(err, ErrInsufficientStock)
}
