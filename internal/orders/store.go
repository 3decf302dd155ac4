package orders

import (
	"context"
	"time"
)

// Store persists orders. Every mutation of stock or order rows goes through InTx; fn's error
// (or a context cancellation) rolls back everything fn did.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetOrder(ctx context.Context, id string) (*Order, error)
	ListOrders(ctx context.Context, f ListFilter) ([]Order, error)
	InsertGuestOrder(ctx context.Context, g *GuestOrder) error
}

// Tx exposes the ledger only through conditional updates; there is no raw stock setter.
type Tx interface {
	FindProducts(ctx context.Context, ids []string) ([]Product, error)
	// DecrementStock subtracts qty only if stock >= qty and reports whether it did.
	DecrementStock(ctx context.Context, productID string, qty int) (bool, error)
	RestockProduct(ctx context.Context, productID string, qty int) error

	InsertOrder(ctx context.Context, o *Order) error
	// OrderForUpdate loads the order with items and delivery and holds it until the tx ends.
	OrderForUpdate(ctx context.Context, id string) (*Order, error)
	SetStatus(ctx context.Context, id string, to Status, at time.Time) error
	SaveDelivery(ctx context.Context, d *DeliveryInfo) error
}
