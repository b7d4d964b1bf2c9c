// Package checkout prices and validates purchase requests and turns them
// into durable orders with an initiated payment. Client input is only
// trusted for which ids and quantities are requested; price, stock, and
// ownership are always re-derived from server state.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strconv"

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
	"github.com/TimTinkers/Item-Ascension-Server/internal/pkg/logging"
)

var (
	ErrUnknownService       = errors.New("checkout: unknown service")
	ErrOutOfStock           = errors.New("checkout: item out of stock")
	ErrInsufficientItems    = errors.New("checkout: payer does not own the requested items")
	ErrEmptyAscension       = errors.New("checkout: no ascension items chosen")
	ErrUnknownPaymentMethod = errors.New("checkout: unknown payment method")
	ErrFeatureDisabled      = errors.New("checkout: feature disabled")
	ErrInvalidQuantity      = errors.New("checkout: quantity must be greater than zero")
)

// AscensionServiceID is the pseudo-service id clients use to request the
// upgrade path alongside concrete catalog services.
const AscensionServiceID = "ASCENSION"

// RequestedLine is one client-requested line item. CheckoutItems is only
// read for the ascension pseudo-service.
type RequestedLine struct {
	ServiceID     string           `json:"id"`
	Amount        int64            `json:"amount"`
	CheckoutItems map[string]int64 `json:"checkoutItems,omitempty"`
}

// OwnedItem is a display-oriented inventory entry offered for screening.
type OwnedItem struct {
	ID          string `json:"id"`
	Amount      int64  `json:"amount"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
}

// Features are the administrative switches gating checkout surfaces.
type Features struct {
	StoreEnabled     bool
	CheckoutEnabled  bool
	AscensionEnabled bool
	PayPalEnabled    bool
	EtherEnabled     bool
	AscensionCost    decimal.Decimal
}

// CheckoutResult couples the persisted order id with the rail-specific
// payment handle the client continues with.
type CheckoutResult struct {
	OrderID string
	Handle  *payment.Handle
}

type Service struct {
	catalog  catalog.Repository
	ledger   order.Ledger
	game     GamePort
	adapters map[order.Method]payment.Adapter
	ids      IDGenerator
	features Features
	tracer   trace.Tracer
	requests *prometheus.CounterVec // checkout_requests_total{outcome}
}

func NewService(
	catalogRepo catalog.Repository,
	ledger order.Ledger,
	gamePort GamePort,
	adapters map[order.Method]payment.Adapter,
	ids IDGenerator,
	features Features,
	requests *prometheus.CounterVec,
) *Service {
	return &Service{
		catalog:  catalogRepo,
		ledger:   ledger,
		game:     gamePort,
		adapters: adapters,
		ids:      ids,
		features: features,
		tracer:   otel.Tracer("checkout"),
		requests: requests,
	}
}

// ListOffers exposes the catalog read path, preserving catalog order.
func (s *Service) ListOffers(ctx context.Context, filter []int64) ([]catalog.Offer, error) {
	if !s.features.StoreEnabled {
		return nil, fmt.Errorf("%w: store", ErrFeatureDisabled)
	}
	return s.catalog.ListOffers(ctx, filter)
}

// ScreenItems filters a payer-declared inventory down to the items that
// qualify for ascension. Unknown ids are dropped, not errored; the same
// screen is re-applied during checkout, so this result is informational.
func (s *Service) ScreenItems(ctx context.Context, unscreened []OwnedItem) ([]OwnedItem, error) {
	ascendable, err := s.catalog.AscendableItemIDs(ctx)
	if err != nil {
		return nil, err
	}

	screened := make([]OwnedItem, 0, len(unscreened))
	for _, item := range unscreened {
		if _, ok := ascendable[item.ID]; ok {
			screened = append(screened, item)
		}
	}
	return screened, nil
}

// PriceOrder computes the order descriptor for the requested lines against
// live catalog and inventory state. It has no side effects and is pure in
// the backing state: unchanged catalog and ownership snapshots always yield
// the same total.
func (s *Service) PriceOrder(ctx context.Context, token, payerID string, lines []RequestedLine, method order.Method) (*order.Descriptor, error) {
	// The feature flag is consulted before the adapter table so that a
	// known rail switched off by configuration reports FeatureDisabled,
	// not UnknownPaymentMethod: only rails the broker has never heard of
	// are "unknown".
	switch method {
	case order.MethodPayPal:
		if !s.features.PayPalEnabled {
			return nil, fmt.Errorf("%w: paypal", ErrFeatureDisabled)
		}
	case order.MethodEther:
		if !s.features.EtherEnabled {
			return nil, fmt.Errorf("%w: ether", ErrFeatureDisabled)
		}
	default:
		return nil, ErrUnknownPaymentMethod
	}
	if s.adapters[method] == nil {
		return nil, ErrUnknownPaymentMethod
	}
	if len(lines) == 0 {
		return nil, ErrEmptyAscension
	}

	// Fetch only the requested slice of the catalog, keyed for lookup.
	var filter []int64
	for _, line := range lines {
		if line.ServiceID == AscensionServiceID {
			continue
		}
		serviceID, err := strconv.ParseInt(line.ServiceID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrUnknownService, line.ServiceID)
		}
		filter = append(filter, serviceID)
	}
	available := make(map[int64]catalog.Offer)
	if len(filter) > 0 {
		offers, err := s.catalog.ListOffers(ctx, filter)
		if err != nil {
			return nil, err
		}
		for _, offer := range offers {
			available[offer.ServiceID] = offer
		}
	}

	descriptor := &order.Descriptor{
		PayerID:   payerID,
		TotalCost: decimal.Zero,
	}

	for _, line := range lines {
		if line.ServiceID == AscensionServiceID {
			items, cost, err := s.priceAscension(ctx, token, line.CheckoutItems)
			if err != nil {
				return nil, err
			}
			descriptor.AscensionItems = items
			descriptor.TotalCost = descriptor.TotalCost.Add(cost)
			continue
		}

		if line.Amount <= 0 {
			return nil, fmt.Errorf("%w: service %s", ErrInvalidQuantity, line.ServiceID)
		}
		serviceID, _ := strconv.ParseInt(line.ServiceID, 10, 64)
		offer, ok := available[serviceID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownService, line.ServiceID)
		}

		// In-supply means every bundled item's unit amount is still covered
		// by remaining stock. The unit amount is deliberately not multiplied
		// by the purchased quantity here; see DESIGN.md.
		for _, item := range offer.Contents {
			if item.UnitAmount > item.AvailableForPurchase {
				return nil, fmt.Errorf("%w: item %s", ErrOutOfStock, item.ItemID)
			}
		}

		descriptor.ConfirmedServices = append(descriptor.ConfirmedServices, order.ConfirmedService{
			Offer:           offer,
			PurchasedAmount: line.Amount,
		})
		descriptor.TotalCost = descriptor.TotalCost.Add(offer.Price.Mul(decimal.NewFromInt(line.Amount)))
	}

	if len(descriptor.ConfirmedServices) == 0 && len(descriptor.AscensionItems) == 0 {
		return nil, ErrEmptyAscension
	}
	return descriptor, nil
}

// priceAscension validates the requested upgrade set against the payer's
// live game inventory and returns the items to deliver plus the fee: the
// fixed unit cost times the number of distinct item types. Requested
// amounts per item only set the delivered quantity, never the fee.
func (s *Service) priceAscension(ctx context.Context, token string, requested map[string]int64) (map[string]int64, decimal.Decimal, error) {
	if !s.features.AscensionEnabled {
		return nil, decimal.Zero, fmt.Errorf("%w: ascension", ErrFeatureDisabled)
	}
	if len(requested) == 0 {
		return nil, decimal.Zero, ErrEmptyAscension
	}

	inventory, err := s.game.Inventory(ctx, token)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("checkout: fetch inventory: %w", err)
	}
	owned := make(map[string]int64, len(inventory))
	for _, item := range inventory {
		if item.Amount > 0 {
			owned[item.ItemID] = item.Amount
		}
	}

	ascendable, err := s.catalog.AscendableItemIDs(ctx)
	if err != nil {
		return nil, decimal.Zero, err
	}

	itemsToMint := make(map[string]int64)
	underOwned := false
	for itemID, amount := range requested {
		if amount <= 0 {
			continue
		}
		// The client-declared ascension set is never trusted: re-screen it.
		if _, ok := ascendable[itemID]; !ok {
			continue
		}
		if owned[itemID] < amount {
			underOwned = true
			continue
		}
		itemsToMint[itemID] = amount
	}

	// An under-owned but otherwise valid item is the payer's problem and
	// is reported as such; the emptiness error is reserved for requests
	// where nothing ascendable was asked for in the first place.
	if underOwned {
		return nil, decimal.Zero, ErrInsufficientItems
	}
	if len(itemsToMint) == 0 {
		return nil, decimal.Zero, ErrEmptyAscension
	}

	cost := s.features.AscensionCost.Mul(decimal.NewFromInt(int64(len(itemsToMint))))
	return itemsToMint, cost, nil
}

// Checkout prices the request, persists the order as a durable pending
// intent, and initiates payment on the chosen rail. The ledger write is
// ordered so the order exists durably before funds can be captured on the
// PayPal rail and before the signable payload leaves on the crypto rail.
func (s *Service) Checkout(ctx context.Context, token, payerID string, lines []RequestedLine, method order.Method) (_ *CheckoutResult, err error) {
	logger := logging.FromContext(ctx).With(zap.String("component", "checkout"))

	ctx, span := s.tracer.Start(ctx, "Checkout",
		trace.WithAttributes(
			attribute.String("order.payer_id", payerID),
			attribute.String("order.method", string(method)),
		))
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		if s.requests != nil {
			s.requests.WithLabelValues(outcome).Inc()
		}
		span.End()
	}()

	if !s.features.CheckoutEnabled {
		return nil, fmt.Errorf("%w: checkout", ErrFeatureDisabled)
	}

	descriptor, err := s.PriceOrder(ctx, token, payerID, lines, method)
	if err != nil {
		return nil, err
	}

	orderID := s.ids.NewID()
	entity, err := order.New(orderID, payerID, method, *descriptor)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", orderID))

	adapter := s.adapters[method]
	var handle *payment.Handle
	switch method {
	case order.MethodPayPal:
		// The remote processor order is created first; an abandoned remote
		// order is harmless because nothing captures it, while a captured
		// payment without a ledger row is not recoverable.
		handle, err = adapter.Initiate(ctx, entity)
		if err != nil {
			logger.Error("payment_initiation_failed",
				zap.String("order_id", orderID), zap.Error(err))
			return nil, err
		}
		if err := s.ledger.Create(ctx, entity); err != nil {
			logger.Error("order_create_failed",
				zap.String("order_id", orderID), zap.Error(err))
			return nil, err
		}
	case order.MethodEther:
		// The ledger row must exist before the signable payload is handed
		// back, or a broadcast payment could reference an unknown order.
		if err := s.ledger.Create(ctx, entity); err != nil {
			logger.Error("order_create_failed",
				zap.String("order_id", orderID), zap.Error(err))
			return nil, err
		}
		handle, err = adapter.Initiate(ctx, entity)
		if err != nil {
			logger.Error("payment_initiation_failed",
				zap.String("order_id", orderID), zap.Error(err))
			return nil, err
		}
	default:
		return nil, ErrUnknownPaymentMethod
	}

	logger.Info("checkout_order_created",
		zap.String("order_id", orderID),
		zap.String("method", string(method)),
		zap.String("total_cost", descriptor.TotalCost.String()),
	)
	return &CheckoutResult{OrderID: orderID, Handle: handle}, nil
}
