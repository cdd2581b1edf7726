package service

import (
	"errors"

	"marketplace-service/internal/ledger"
	"marketplace-service/internal/store"
)

// Business error taxonomy. The HTTP layer maps these onto status codes with
// errors.Is; everything else is a 500.
var (
	// ErrValidation marks malformed or missing request fields.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientStock aborts the enclosing transaction; no partial
	// stock change ever escapes. Alias of the inventory ledger's sentinel.
	ErrInsufficientStock = store.ErrInsufficientStock

	// ErrNotFound covers unresolvable order/product/store ids. Alias of the
	// store sentinel so store errors pass through unchanged.
	ErrNotFound = store.ErrNotFound

	// ErrForbidden marks an actor lacking permission for the resource.
	ErrForbidden = errors.New("forbidden")

	// ErrVerificationFailed covers every QR credential mismatch. Handlers
	// must render it as one generic invalid result regardless of which
	// sub-check failed.
	ErrVerificationFailed = errors.New("verification failed")
)

func isValidation(err error) bool        { return errors.Is(err, ErrValidation) }
func isInsufficientStock(err error) bool { return errors.Is(err, ErrInsufficientStock) }
func isNotFound(err error) bool          { return errors.Is(err, ErrNotFound) }

func isLedgerTimeout(err error) bool     { return errors.Is(err, ledger.ErrTimeout) }
func isLedgerUnavailable(err error) bool { return errors.Is(err, ledger.ErrUnavailable) }
