// Package fulfillment delivers paid orders across the game inventory service
// and the token-issuance platform, keeping local stock counters consistent.
// Delivery steps are strictly sequential and never retried here; a failure
// partway leaves the order PENDING (paid but undelivered) and raises an
// operational alert instead of rolling anything back.
package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/TimTinkers/Item-Ascension-Server/internal/domain/catalog"
	"github.com/TimTinkers/Item-Ascension-Server/internal/domain/order"
	"github.com/TimTinkers/Item-Ascension-Server/internal/domain/payment"
	"github.com/TimTinkers/Item-Ascension-Server/internal/infrastructure/enjin"
	"github.com/TimTinkers/Item-Ascension-Server/internal/pkg/logging"
	"github.com/TimTinkers/Item-Ascension-Server/internal/platform/session"
)

var (
	ErrItemRemoval     = errors.New("fulfillment: game item removal failed")
	ErrNoLinkedAddress = errors.New("fulfillment: payer has no linked wallet address")
	ErrMintRejected    = errors.New("fulfillment: mint rejected by token platform")
)

// zeroAddress marks a payer whose platform identity is not linked to a
// wallet yet.
const zeroAddress = "0x0000000000000000000000000000000000000000"

// GamePort removes consumed source items from a payer's game inventory using
// an administrative token.
type GamePort interface {
	RemoveItem(ctx context.Context, token, itemID string, amount int64, recipientID string) error
}

// MintPort issues tokens on the platform.
type MintPort interface {
	MintToken(ctx context.Context, token, tokenID, address string, amount int64) (*enjin.MintReceipt, error)
}

// AddressBook resolves a payer's last linked wallet address.
type AddressBook interface {
	LastAddress(ctx context.Context, payerID string) (string, error)
}

// Result summarizes one delivery run.
type Result struct {
	OrderID      string
	Status       order.Status
	RemovedItems int
	MintedUnits  int64
}

// Engine executes post-payment delivery for one order at a time. It holds no
// state of its own; everything it does is driven by the ledger record.
type Engine struct {
	ledger    order.Ledger
	catalog   catalog.Repository
	game      GamePort
	minter    MintPort
	addresses AddressBook
	platform  *session.Platform
	currency  string

	tracer   trace.Tracer
	failures *prometheus.CounterVec // fulfillment_delivery_failures_total{step}
	duration prometheus.Observer    // fulfillment_duration_seconds
}

func NewEngine(
	ledger order.Ledger,
	catalogRepo catalog.Repository,
	game GamePort,
	minter MintPort,
	addresses AddressBook,
	platform *session.Platform,
	currency string,
	failures *prometheus.CounterVec,
	duration prometheus.Observer,
) *Engine {
	return &Engine{
		ledger:    ledger,
		catalog:   catalogRepo,
		game:      game,
		minter:    minter,
		addresses: addresses,
		platform:  platform,
		currency:  currency,
		tracer:    otel.Tracer("fulfillment"),
		failures:  failures,
		duration:  duration,
	}
}

// Fulfill delivers the order after its payment has been verified out-of-band.
// verifiedAmount and verifiedCurrency are whatever the processor reported;
// an order is only delivered when the currency matches and the amount covers
// the recorded total. Over-payment is accepted, under-payment rejects the
// order terminally.
//
// Calling Fulfill twice for the same order delivers at most once: the second
// call fails the PENDING precondition with order.ErrAlreadyFinalized.
func (e *Engine) Fulfill(ctx context.Context, orderID string, verifiedAmount decimal.Decimal, verifiedCurrency string, evidence json.RawMessage) (_ *Result, err error) {
	logger := logging.FromContext(ctx).With(
		zap.String("component", "fulfillment"),
		zap.String("order_id", orderID),
	)

	ctx, span := e.tracer.Start(ctx, "Fulfill",
		trace.WithAttributes(attribute.String("order.id", orderID)))
	start := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		if e.duration != nil {
			e.duration.Observe(time.Since(start).Seconds())
		}
		span.End()
	}()

	o, err := e.ledger.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Finalized() {
		// The result still carries the order's real terminal status so a
		// replayed approval can report what actually happened to it.
		return &Result{OrderID: orderID, Status: o.Status()}, order.ErrAlreadyFinalized
	}

	if verifiedCurrency != e.currency || verifiedAmount.LessThan(o.TotalCost) {
		logger.Warn("payment_amount_mismatch",
			zap.String("verified_amount", verifiedAmount.String()),
			zap.String("verified_currency", verifiedCurrency),
			zap.String("expected_cost", o.TotalCost.String()),
		)
		if recordErr := e.ledger.RecordStatus(ctx, orderID, order.StatusRejected, evidence); recordErr != nil {
			return nil, fmt.Errorf("fulfillment: record rejection: %w", recordErr)
		}
		return nil, fmt.Errorf("%w: got %s %s, need %s %s", payment.ErrAmountMismatch,
			verifiedAmount.String(), verifiedCurrency, o.TotalCost.String(), e.currency)
	}

	result := &Result{OrderID: orderID}

	// Consume the source items of every ascension first. These removals are
	// deliberately not rolled back when a later step fails; the order stays
	// PENDING and the alert below routes it to manual reconciliation.
	for _, itemID := range sortedItemIDs(o.Details.AscensionItems) {
		amount := o.Details.AscensionItems[itemID]
		if err := e.game.RemoveItem(ctx, e.platform.GameAdminToken, itemID, amount, o.PayerID); err != nil {
			e.alert(logger, "remove_item", orderID, itemID, err)
			return nil, fmt.Errorf("%w: item %s: %v", ErrItemRemoval, itemID, err)
		}
		result.RemovedItems++
	}

	// Everything minted in this order goes to the payer's linked wallet.
	address, err := e.addresses.LastAddress(ctx, o.PayerID)
	if err != nil {
		e.alert(logger, "resolve_address", orderID, "", err)
		return nil, fmt.Errorf("fulfillment: resolve address: %w", err)
	}
	if address == "" || address == zeroAddress {
		e.alert(logger, "resolve_address", orderID, "", ErrNoLinkedAddress)
		return nil, fmt.Errorf("%w: payer %s", ErrNoLinkedAddress, o.PayerID)
	}

	for _, service := range o.Details.ConfirmedServices {
		for _, item := range service.Offer.Contents {
			quantity := item.UnitAmount * service.PurchasedAmount
			if err := e.mint(ctx, logger, orderID, item.ItemID, address, quantity); err != nil {
				return nil, err
			}
			result.MintedUnits += quantity
		}
	}
	for _, itemID := range sortedItemIDs(o.Details.AscensionItems) {
		amount := o.Details.AscensionItems[itemID]
		if err := e.mint(ctx, logger, orderID, itemID, address, amount); err != nil {
			return nil, err
		}
		result.MintedUnits += amount
	}

	if err := e.ledger.RecordStatus(ctx, orderID, order.StatusConfirmed, evidence); err != nil {
		e.alert(logger, "record_status", orderID, "", err)
		return nil, fmt.Errorf("fulfillment: record confirmation: %w", err)
	}
	result.Status = order.StatusConfirmed

	logger.Info("order_fulfilled",
		zap.Int("removed_items", result.RemovedItems),
		zap.Int64("minted_units", result.MintedUnits),
	)
	return result, nil
}

// mint issues one item's tokens and decrements local stock only once the
// platform has accepted the mint. A rejected mint leaves stock untouched.
func (e *Engine) mint(ctx context.Context, logger *zap.Logger, orderID, itemID, address string, quantity int64) error {
	tokenID, err := e.catalog.TokenID(ctx, itemID)
	if err != nil {
		e.alert(logger, "resolve_token", orderID, itemID, err)
		return fmt.Errorf("fulfillment: resolve token for %s: %w", itemID, err)
	}

	receipt, err := e.minter.MintToken(ctx, e.platform.TokenAdminToken, tokenID, address, quantity)
	if err != nil {
		e.alert(logger, "mint", orderID, itemID, err)
		return fmt.Errorf("%w: item %s: %v", ErrMintRejected, itemID, err)
	}
	if !receipt.Accepted() {
		e.alert(logger, "mint", orderID, itemID, fmt.Errorf("state %s", receipt.State))
		return fmt.Errorf("%w: item %s state %s", ErrMintRejected, itemID, receipt.State)
	}

	if err := e.catalog.DecrementStock(ctx, itemID, quantity); err != nil {
		e.alert(logger, "decrement_stock", orderID, itemID, err)
		return fmt.Errorf("fulfillment: decrement stock for %s: %w", itemID, err)
	}
	return nil
}

// alert logs a delivery failure with full order context and counts it for
// operator paging. Orders hitting this path are paid but undelivered.
func (e *Engine) alert(logger *zap.Logger, step, orderID, itemID string, err error) {
	fields := []zap.Field{
		zap.String("step", step),
		zap.String("order_id", orderID),
		zap.Error(err),
	}
	if itemID != "" {
		fields = append(fields, zap.String("item_id", itemID))
	}
	logger.Error("delivery_step_failed", fields...)
	if e.failures != nil {
		e.failures.WithLabelValues(step).Inc()
	}
}

func sortedItemIDs(items map[string]int64) []string {
	ids := make([]string, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
