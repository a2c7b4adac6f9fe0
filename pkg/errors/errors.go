// Package errors provides common, reusable error values and helpers.
package errors

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrDuplicateSale       = errors.New("duplicate sale reference")
	ErrSlotConflict        = errors.New("placement slot conflict")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrAlreadyPlaced       = errors.New("node already placed")
	ErrInvalidStartNode    = errors.New("invalid placement start node")
	ErrNotFound            = errors.New("not found")

	// Not-found kinds; all of them match ErrNotFound with errors.Is.
	ErrParticipantNotFound = fmt.Errorf("participant %w", ErrNotFound)
	ErrNodeNotFound        = fmt.Errorf("network node %w", ErrNotFound)
	ErrCommissionNotFound  = fmt.Errorf("commission %w", ErrNotFound)
	ErrWalletNotFound      = fmt.Errorf("wallet %w", ErrNotFound)
	ErrSaleNotFound        = fmt.Errorf("sale %w", ErrNotFound)
)

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
