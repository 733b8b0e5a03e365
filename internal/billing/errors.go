package billing

import (
	"errors"
	"fmt"

	"github.com/docsense/docsense/internal/ledger"
)

var (
	// ErrUnknownTool is returned when a charge names a tool outside the catalog.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrInvalidSource is returned when a call source is not app or api.
	ErrInvalidSource = errors.New("invalid call source")
	// ErrLedgerUnavailable is returned when the ledger keeps failing after retries.
	ErrLedgerUnavailable = errors.New("ledger unavailable")
	// ErrUnauthorized is returned when the caller may not perform the operation.
	ErrUnauthorized = errors.New("unauthorized")
)

// InsufficientCreditError carries the shortfall for a rejected charge.
type InsufficientCreditError struct {
	Required  int64
	Remaining int64
}

func (e *InsufficientCreditError) Error() string {
	return fmt.Sprintf("insufficient credit: required %d, remaining %d", e.Required, e.Remaining)
}

// Unwrap lets errors.Is match the ledger sentinel.
func (e *InsufficientCreditError) Unwrap() error {
	return ledger.ErrInsufficientCredit
}
