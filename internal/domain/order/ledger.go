package order

import (
	"context"
	"encoding/json"
)

// Ledger is the durable store of orders and their status transitions; the
// single source of truth for whether an order has been paid and delivered.
//
// Create must complete durably before payment capture is requested on the
// PayPal rail, and before a signable transaction payload is handed back to
// the caller on the crypto rail.
type Ledger interface {
	// Create persists a new order. Order ids are generated outside this
	// core; a colliding id fails with ErrDuplicate rather than overwriting.
	Create(ctx context.Context, o *Order) error

	// RecordStatus appends one status entry to the order's history.
	RecordStatus(ctx context.Context, orderID string, status Status, evidence json.RawMessage) error

	// Get returns the order with its full status history, or ErrNotFound.
	Get(ctx context.Context, orderID string) (*Order, error)
}
