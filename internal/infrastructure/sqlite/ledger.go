package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/TimTinkers/Item-Ascension-Server/internal/domain/order"
)

// Ledger implements order.Ledger on SQLite. Orders are append-only: the base
// row is written once and every status transition becomes a history row.
type Ledger struct {
	db *DB
}

func NewLedger(db *DB) *Ledger {
	return &Ledger{db: db}
}

// Create persists the order and its initial status history inside one
// transaction. The primary-key constraint on order_id is what rejects
// colliding ids generated outside this core.
func (l *Ledger) Create(ctx context.Context, o *order.Order) error {
	if o == nil || o.ID == "" {
		return fmt.Errorf("ledger: order id is required")
	}

	details, err := json.Marshal(o.Details)
	if err != nil {
		return fmt.Errorf("ledger: marshal details: %w", err)
	}

	tx, err := l.db.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: begin create: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO orders (order_id, payer_id, total_cost, payment_method, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		o.ID, o.PayerID, o.TotalCost.String(), string(o.Method), string(details),
		o.CreatedAt.UTC().UnixMilli(),
	)
	if isUniqueViolation(err) {
		return order.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("ledger: insert order: %w", err)
	}

	for _, entry := range o.StatusHistory {
		if err := insertStatus(ctx, tx, o.ID, entry.Status, entry.Evidence, entry.CreatedAt); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ledger: commit create: %w", err)
	}
	return nil
}

// RecordStatus appends one status entry. History rows are never updated or
// deleted.
func (l *Ledger) RecordStatus(ctx context.Context, orderID string, status order.Status, evidence json.RawMessage) error {
	var exists int
	if err := l.db.sqlDB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM orders WHERE order_id = ?", orderID).Scan(&exists); err != nil {
		return fmt.Errorf("ledger: record status: %w", err)
	}
	if exists == 0 {
		return order.ErrNotFound
	}
	return insertStatus(ctx, l.db.sqlDB, orderID, status, evidence, time.Now().UTC())
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertStatus(ctx context.Context, db execer, orderID string, status order.Status, evidence json.RawMessage, at time.Time) error {
	var ev any
	if len(evidence) > 0 {
		ev = string(evidence)
	}
	_, err := db.ExecContext(ctx,
		"INSERT INTO order_status_history (order_id, status, evidence, created_at) VALUES (?, ?, ?, ?)",
		orderID, string(status), ev, at.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("ledger: insert status: %w", err)
	}
	return nil
}

// Get loads an order with its full status history in append order.
func (l *Ledger) Get(ctx context.Context, orderID string) (*order.Order, error) {
	var (
		payerID   string
		totalCost string
		method    string
		details   string
		createdAt int64
	)
	err := l.db.sqlDB.QueryRowContext(ctx,
		"SELECT payer_id, total_cost, payment_method, details, created_at FROM orders WHERE order_id = ?",
		orderID).Scan(&payerID, &totalCost, &method, &details, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, order.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: get order: %w", err)
	}

	cost, err := decimal.NewFromString(totalCost)
	if err != nil {
		return nil, fmt.Errorf("ledger: order %s total cost: %w", orderID, err)
	}
	var descriptor order.Descriptor
	if err := json.Unmarshal([]byte(details), &descriptor); err != nil {
		return nil, fmt.Errorf("ledger: order %s details: %w", orderID, err)
	}

	o := &order.Order{
		ID:        orderID,
		PayerID:   payerID,
		TotalCost: cost,
		Method:    order.Method(method),
		Details:   descriptor,
		CreatedAt: time.UnixMilli(createdAt).UTC(),
	}

	rows, err := l.db.sqlDB.QueryContext(ctx,
		"SELECT status, evidence, created_at FROM order_status_history WHERE order_id = ? ORDER BY id",
		orderID)
	if err != nil {
		return nil, fmt.Errorf("ledger: order %s history: %w", orderID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status   string
			evidence sql.NullString
			at       int64
		)
		if err := rows.Scan(&status, &evidence, &at); err != nil {
			return nil, fmt.Errorf("ledger: scan history: %w", err)
		}
		entry := order.StatusEntry{
			Status:    order.Status(status),
			CreatedAt: time.UnixMilli(at).UTC(),
		}
		if evidence.Valid {
			entry.Evidence = json.RawMessage(evidence.String)
		}
		o.StatusHistory = append(o.StatusHistory, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: order %s history: %w", orderID, err)
	}

	return o, nil
}

var _ order.Ledger = (*Ledger)(nil)
