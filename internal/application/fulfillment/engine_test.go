package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/TimTinkers/Item-Ascension-Server/internal/domain/catalog"
	"github.com/TimTinkers/Item-Ascension-Server/internal/domain/order"
	"github.com/TimTinkers/Item-Ascension-Server/internal/domain/payment"
	"github.com/TimTinkers/Item-Ascension-Server/internal/infrastructure/enjin"
	"github.com/TimTinkers/Item-Ascension-Server/internal/infrastructure/memory"
	"github.com/TimTinkers/Item-Ascension-Server/internal/platform/session"
)

type removal struct {
	itemID string
	amount int64
}

type fakeRemover struct {
	removed []removal
	err     error
}

func (f *fakeRemover) RemoveItem(ctx context.Context, token, itemID string, amount int64, recipientID string) error {
	if f.err != nil {
		return f.err
	}
	f.removed = append(f.removed, removal{itemID: itemID, amount: amount})
	return nil
}

type mintCall struct {
	tokenID string
	address string
	amount  int64
}

type fakeMinter struct {
	calls []mintCall
	state string
	err   error
}

func (f *fakeMinter) MintToken(ctx context.Context, token, tokenID, address string, amount int64) (*enjin.MintReceipt, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, mintCall{tokenID: tokenID, address: address, amount: amount})
	state := f.state
	if state == "" {
		state = enjin.MintStatePending
	}
	return &enjin.MintReceipt{State: state}, nil
}

type engineFixture struct {
	engine    *Engine
	ledger    *memory.Ledger
	catalog   *memory.Catalog
	remover   *fakeRemover
	minter    *fakeMinter
	addresses *memory.AddressBook
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	cat := memory.NewCatalog(nil, map[string]*memory.CatalogItem{
		"sword":  {TokenID: "0x01", Available: 20},
		"shield": {TokenID: "0x02", Available: 20, Ascendable: true},
	})
	ledger := memory.NewLedger()
	remover := &fakeRemover{}
	minter := &fakeMinter{}
	addresses := memory.NewAddressBook()

	admin := &session.Platform{
		GameAdminToken:  "game-admin",
		TokenAdminToken: "token-admin",
		AppID:           42,
	}
	engine := NewEngine(ledger, cat, remover, minter, addresses, admin, "USD", nil, nil)
	return &engineFixture{
		engine:    engine,
		ledger:    ledger,
		catalog:   cat,
		remover:   remover,
		minter:    minter,
		addresses: addresses,
	}
}

// seedOrder persists a pending order for payer-1: two units of a bundle
// containing 3 swords each, plus one shield ascension.
func (f *engineFixture) seedOrder(t *testing.T) *order.Order {
	t.Helper()

	o, err := order.New("order-1", "payer-1", order.MethodPayPal, order.Descriptor{
		PayerID:   "payer-1",
		TotalCost: decimal.RequireFromString("100.00"),
		ConfirmedServices: []order.ConfirmedService{{
			Offer: catalog.Offer{
				ServiceID: 7,
				Price:     decimal.RequireFromString("48.75"),
				Contents:  []catalog.OfferItem{{ItemID: "sword", UnitAmount: 3}},
			},
			PurchasedAmount: 2,
		}},
		AscensionItems: map[string]int64{"shield": 1},
	})
	if err != nil {
		t.Fatalf("build order: %v", err)
	}
	if err := f.ledger.Create(context.Background(), o); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return o
}

func (f *engineFixture) linkAddress(t *testing.T) {
	t.Helper()
	err := f.addresses.Record(context.Background(), "payer-1", "payer@example.com",
		"0xabc0000000000000000000000000000000000001", true)
	if err != nil {
		t.Fatalf("link address: %v", err)
	}
}

func TestFulfillDeliversAndConfirms(t *testing.T) {
	f := newEngineFixture(t)
	f.seedOrder(t)
	f.linkAddress(t)

	result, err := f.engine.Fulfill(context.Background(), "order-1",
		decimal.RequireFromString("100.00"), "USD", json.RawMessage(`{"capture":"c-1"}`))
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if result.Status != order.StatusConfirmed {
		t.Fatalf("expected CONFIRMED, got %s", result.Status)
	}
	if result.RemovedItems != 1 {
		t.Fatalf("expected 1 removed item type, got %d", result.RemovedItems)
	}
	// 3 swords x 2 purchased + 1 ascended shield.
	if result.MintedUnits != 7 {
		t.Fatalf("expected 7 minted units, got %d", result.MintedUnits)
	}

	if len(f.remover.removed) != 1 || f.remover.removed[0] != (removal{itemID: "shield", amount: 1}) {
		t.Fatalf("unexpected removals: %v", f.remover.removed)
	}
	if got := f.catalog.Available("sword"); got != 14 {
		t.Fatalf("expected sword stock 14, got %d", got)
	}
	if got := f.catalog.Available("shield"); got != 19 {
		t.Fatalf("expected shield stock 19, got %d", got)
	}

	persisted, err := f.ledger.Get(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if persisted.Status() != order.StatusConfirmed {
		t.Fatalf("expected persisted CONFIRMED, got %s", persisted.Status())
	}
	last := persisted.StatusHistory[len(persisted.StatusHistory)-1]
	if string(last.Evidence) != `{"capture":"c-1"}` {
		t.Fatalf("expected capture evidence preserved, got %s", last.Evidence)
	}
}

func TestFulfillSecondCallDeliversNothing(t *testing.T) {
	f := newEngineFixture(t)
	f.seedOrder(t)
	f.linkAddress(t)

	amount := decimal.RequireFromString("100.00")
	if _, err := f.engine.Fulfill(context.Background(), "order-1", amount, "USD", nil); err != nil {
		t.Fatalf("first fulfill: %v", err)
	}
	mintsAfterFirst := len(f.minter.calls)
	removalsAfterFirst := len(f.remover.removed)

	result, err := f.engine.Fulfill(context.Background(), "order-1", amount, "USD", nil)
	if !errors.Is(err, order.ErrAlreadyFinalized) {
		t.Fatalf("expected ErrAlreadyFinalized, got %v", err)
	}
	if result == nil || result.Status != order.StatusConfirmed {
		t.Fatalf("expected replay result with CONFIRMED status, got %+v", result)
	}
	if len(f.minter.calls) != mintsAfterFirst || len(f.remover.removed) != removalsAfterFirst {
		t.Fatal("second fulfill must not touch the game or the platform")
	}
	if got := f.catalog.Available("sword"); got != 14 {
		t.Fatalf("expected stock unchanged at 14, got %d", got)
	}
}

func TestFulfillReplayOfRejectedOrderReportsRejected(t *testing.T) {
	f := newEngineFixture(t)
	f.seedOrder(t)
	f.linkAddress(t)

	_, err := f.engine.Fulfill(context.Background(), "order-1",
		decimal.RequireFromString("99.99"), "USD", nil)
	if !errors.Is(err, payment.ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}

	// The replay must not pretend the rejected order was confirmed.
	result, err := f.engine.Fulfill(context.Background(), "order-1",
		decimal.RequireFromString("100.00"), "USD", nil)
	if !errors.Is(err, order.ErrAlreadyFinalized) {
		t.Fatalf("expected ErrAlreadyFinalized, got %v", err)
	}
	if result == nil || result.Status != order.StatusRejected {
		t.Fatalf("expected replay result with REJECTED status, got %+v", result)
	}
	if len(f.minter.calls) != 0 || len(f.remover.removed) != 0 {
		t.Fatal("rejected order must never be delivered")
	}
}

func TestFulfillUnderpaymentRejects(t *testing.T) {
	f := newEngineFixture(t)
	f.seedOrder(t)
	f.linkAddress(t)

	_, err := f.engine.Fulfill(context.Background(), "order-1",
		decimal.RequireFromString("99.99"), "USD", json.RawMessage(`{"capture":"short"}`))
	if !errors.Is(err, payment.ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}
	if len(f.remover.removed) != 0 || len(f.minter.calls) != 0 {
		t.Fatal("underpaid order must not be delivered")
	}

	persisted, err := f.ledger.Get(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if persisted.Status() != order.StatusRejected {
		t.Fatalf("expected REJECTED, got %s", persisted.Status())
	}
}

func TestFulfillOverpaymentAccepted(t *testing.T) {
	f := newEngineFixture(t)
	f.seedOrder(t)
	f.linkAddress(t)

	result, err := f.engine.Fulfill(context.Background(), "order-1",
		decimal.RequireFromString("150.00"), "USD", nil)
	if err != nil {
		t.Fatalf("fulfill with over-payment: %v", err)
	}
	if result.Status != order.StatusConfirmed {
		t.Fatalf("expected CONFIRMED, got %s", result.Status)
	}
}

func TestFulfillCurrencyMismatchRejects(t *testing.T) {
	f := newEngineFixture(t)
	f.seedOrder(t)
	f.linkAddress(t)

	_, err := f.engine.Fulfill(context.Background(), "order-1",
		decimal.RequireFromString("100.00"), "EUR", nil)
	if !errors.Is(err, payment.ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}
}

func TestFulfillUnlinkedAddressHaltsAfterRemovals(t *testing.T) {
	f := newEngineFixture(t)
	f.seedOrder(t)
	// No address linked: LastAddress reads as the zero address.

	_, err := f.engine.Fulfill(context.Background(), "order-1",
		decimal.RequireFromString("100.00"), "USD", nil)
	if !errors.Is(err, ErrNoLinkedAddress) {
		t.Fatalf("expected ErrNoLinkedAddress, got %v", err)
	}

	// The removal already happened and is not rolled back; the order stays
	// PENDING for manual reconciliation.
	if len(f.remover.removed) != 1 {
		t.Fatalf("expected 1 removal before the halt, got %d", len(f.remover.removed))
	}
	if len(f.minter.calls) != 0 {
		t.Fatal("nothing may be minted without a linked address")
	}
	persisted, err := f.ledger.Get(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if persisted.Status() != order.StatusPending {
		t.Fatalf("expected order to stay PENDING, got %s", persisted.Status())
	}
}

func TestFulfillRejectedMintLeavesStockUntouched(t *testing.T) {
	f := newEngineFixture(t)
	f.seedOrder(t)
	f.linkAddress(t)
	f.minter.state = "CANCELED_PLATFORM"

	_, err := f.engine.Fulfill(context.Background(), "order-1",
		decimal.RequireFromString("100.00"), "USD", nil)
	if !errors.Is(err, ErrMintRejected) {
		t.Fatalf("expected ErrMintRejected, got %v", err)
	}
	if got := f.catalog.Available("sword"); got != 20 {
		t.Fatalf("expected sword stock untouched at 20, got %d", got)
	}

	persisted, err := f.ledger.Get(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if persisted.Status() != order.StatusPending {
		t.Fatalf("expected order to stay PENDING, got %s", persisted.Status())
	}
}

type fakeVerifier struct {
	verification *payment.Verification
	err          error
}

func (f *fakeVerifier) Initiate(ctx context.Context, o *order.Order) (*payment.Handle, error) {
	return nil, payment.ErrUnsupported
}

func (f *fakeVerifier) Verify(ctx context.Context, externalOrderID string) (*payment.Verification, error) {
	return f.verification, f.err
}

func TestVerifyAndFulfillCompleted(t *testing.T) {
	f := newEngineFixture(t)
	f.seedOrder(t)
	f.linkAddress(t)

	adapter := &fakeVerifier{verification: &payment.Verification{
		OrderID:  "order-1",
		Amount:   decimal.RequireFromString("100.00"),
		Currency: "USD",
		Status:   "COMPLETED",
		Evidence: json.RawMessage(`{"capture":"c-9"}`),
	}}
	svc := NewService(f.engine, f.ledger, adapter)

	result, err := svc.VerifyAndFulfill(context.Background(), "ext-1")
	if err != nil {
		t.Fatalf("verify and fulfill: %v", err)
	}
	if result.Status != order.StatusConfirmed {
		t.Fatalf("expected CONFIRMED, got %s", result.Status)
	}
}

func TestVerifyAndFulfillIncompleteCaptureRejects(t *testing.T) {
	f := newEngineFixture(t)
	f.seedOrder(t)
	f.linkAddress(t)

	adapter := &fakeVerifier{verification: &payment.Verification{
		OrderID:  "order-1",
		Amount:   decimal.RequireFromString("100.00"),
		Currency: "USD",
		Status:   "DECLINED",
	}}
	svc := NewService(f.engine, f.ledger, adapter)

	_, err := svc.VerifyAndFulfill(context.Background(), "ext-1")
	if !errors.Is(err, payment.ErrVerify) {
		t.Fatalf("expected ErrVerify, got %v", err)
	}
	if len(f.minter.calls) != 0 {
		t.Fatal("declined capture must not mint")
	}
	persisted, err := f.ledger.Get(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if persisted.Status() != order.StatusRejected {
		t.Fatalf("expected REJECTED, got %s", persisted.Status())
	}
}
