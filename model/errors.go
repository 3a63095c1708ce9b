package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Sentinels for errors.Is. Every error returned by a Store operation matches
// exactly one of them.
var (
	ErrValidation  = errors.New("validation failed")
	ErrNotFound    = errors.New("not found")
	ErrOverpayment = errors.New("payment exceeds remaining amount")
	ErrConflict    = errors.New("concurrent modification, retry")
	ErrPersistence = errors.New("persistence failure")
)

// FieldError describes one rejected input field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError lists all rejected fields of an input.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Add appends a field error.
func (e *ValidationError) Add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

func (e *ValidationError) orNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func invalid(field, msg string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: msg}}}
}

// NotFoundError is returned when a referenced record does not exist
// (or is soft-deleted).
type NotFoundError struct {
	Entity string
	ID     uint
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %d not found", e.Entity, e.ID) }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// OverpaymentError rejects a payment that would push the ledger above the
// invoice total. Remaining is what could still be paid.
type OverpaymentError struct {
	Amount    decimal.Decimal
	Remaining decimal.Decimal
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("payment of %s exceeds remaining amount %s", FormatMoney(e.Amount), FormatMoney(e.Remaining))
}

func (e *OverpaymentError) Is(target error) bool { return target == ErrOverpayment }

// ConsistencyConflictError signals that a concurrent writer won a race (serialization
// failure, deadlock, lock timeout, stale ledger version or a duplicate
// invoice number). The operation was rolled back and may be retried.
type ConsistencyConflictError struct {
	Op  string
	Err error
}

func (e *ConsistencyConflictError) Error() string { return fmt.Sprintf("%s: conflict: %v", e.Op, e.Err) }
func (e *ConsistencyConflictError) Unwrap() error { return e.Err }
func (e *ConsistencyConflictError) Is(target error) bool {
	return target == ErrConflict
}

// PersistenceError wraps any other storage failure. The transaction was
// rolled back.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

var errStaleLedger = errors.New("ledger version changed")

// classify maps an error leaving a transaction onto the error taxonomy.
// Domain errors pass through unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		ve *ValidationError
		nf *NotFoundError
		oe *OverpaymentError
		ce *ConsistencyConflictError
		pe *PersistenceError
	)
	switch {
	case errors.As(err, &ve), errors.As(err, &nf), errors.As(err, &oe), errors.As(err, &ce), errors.As(err, &pe):
		return err
	case errors.Is(err, errStaleLedger), isConflict(err):
		return &ConsistencyConflictError{Op: op, Err: err}
	default:
		return &PersistenceError{Op: op, Err: err}
	}
}
