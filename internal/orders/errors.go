package orders

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrValidation        = errors.New("invalid request")
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrRetryable: nothing was committed, the same request may be sent again.
	ErrRetryable = errors.New("temporarily unavailable")
)

type NotFoundError struct {
	Entity string // "product" | "order"
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	name := e.ProductName
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("insufficient stock for %s (requested %d)", name, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

func validationf(format string, args ...any) error {
	return errors.Wrapf(ErrValidation, format, args...)
}
