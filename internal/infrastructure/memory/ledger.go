// Package memory holds in-memory implementations of the storage ports. They
// mirror the sqlite implementations closely enough to back the application
// tests without a database file.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/TimTinkers/Item-Ascension-Server/internal/domain/order"
)

type Ledger struct {
	mu     sync.RWMutex
	orders map[string]*order.Order
}

func NewLedger() *Ledger {
	return &Ledger{
		orders: make(map[string]*order.Order),
	}
}

func (l *Ledger) Create(ctx context.Context, o *order.Order) error {
	_ = ctx
	if o == nil || o.ID == "" {
		return fmt.Errorf("ledger: order id is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.orders[o.ID]; exists {
		return order.ErrDuplicate
	}
	l.orders[o.ID] = o.Clone()
	return nil
}

func (l *Ledger) RecordStatus(ctx context.Context, orderID string, status order.Status, evidence json.RawMessage) error {
	_ = ctx

	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.orders[orderID]
	if !ok {
		return order.ErrNotFound
	}
	o.StatusHistory = append(o.StatusHistory, order.StatusEntry{
		Status:    status,
		Evidence:  append(json.RawMessage(nil), evidence...),
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (l *Ledger) Get(ctx context.Context, orderID string) (*order.Order, error) {
	_ = ctx

	l.mu.RLock()
	defer l.mu.RUnlock()

	o, ok := l.orders[orderID]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o.Clone(), nil
}

var _ order.Ledger = (*Ledger)(nil)
