package order

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/TimTinkers/Item-Ascension-Server/internal/domain/catalog"
)

var (
	ErrNotFound         = errors.New("order: not found")
	ErrDuplicate        = errors.New("order: duplicate order id")
	ErrAlreadyFinalized = errors.New("order: already finalized")
	ErrInvalidMethod    = errors.New("order: unknown payment method")
	ErrEmptyDescriptor  = errors.New("order: descriptor has nothing to deliver")
)

// Method identifies one of the two independent settlement rails.
type Method string

const (
	MethodPayPal Method = "PAYPAL"
	MethodEther  Method = "ETHER"
)

// Status is the order lifecycle state. An order is created PENDING and only
// ever moves to CONFIRMED or REJECTED, both terminal. A paid order whose
// delivery failed partway stays PENDING and is surfaced to operators instead
// of transitioning.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusRejected  Status = "REJECTED"
)

// ConfirmedService is one stock-checked line of a priced order: the offer
// snapshot frozen at validation time plus the purchased quantity.
type ConfirmedService struct {
	Offer           catalog.Offer `json:"offer"`
	PurchasedAmount int64         `json:"purchasedAmount"`
}

// Descriptor is the delivery plan produced by the pricer. It is frozen into
// the durable order at creation time; fulfillment replays it verbatim and
// never re-prices.
type Descriptor struct {
	PayerID           string             `json:"payerId"`
	TotalCost         decimal.Decimal    `json:"totalCost"`
	ConfirmedServices []ConfirmedService `json:"confirmedServices"`
	AscensionItems    map[string]int64   `json:"ascensionItems"`
}

// StatusEntry is one append-only row of an order's status history. Evidence
// is an opaque payload, typically the payment processor's capture record,
// retained for audit and dispute resolution.
type StatusEntry struct {
	Status    Status
	Evidence  json.RawMessage
	CreatedAt time.Time
}

// Order is the durable record of a purchase intent. The ledger owns it
// exclusively once created; it is never deleted, only appended to.
type Order struct {
	ID            string
	PayerID       string
	TotalCost     decimal.Decimal
	Method        Method
	Details       Descriptor
	StatusHistory []StatusEntry
	CreatedAt     time.Time
}

func New(id, payerID string, method Method, details Descriptor) (*Order, error) {
	if id == "" {
		return nil, errors.New("order: id is required")
	}
	if payerID == "" {
		return nil, errors.New("order: payer id is required")
	}
	if method != MethodPayPal && method != MethodEther {
		return nil, ErrInvalidMethod
	}
	if len(details.ConfirmedServices) == 0 && len(details.AscensionItems) == 0 {
		return nil, ErrEmptyDescriptor
	}

	now := time.Now().UTC()
	return &Order{
		ID:        id,
		PayerID:   payerID,
		TotalCost: details.TotalCost,
		Method:    method,
		Details:   details,
		StatusHistory: []StatusEntry{{
			Status:    StatusPending,
			CreatedAt: now,
		}},
		CreatedAt: now,
	}, nil
}

// Status returns the latest recorded status. An order with no history is
// treated as PENDING.
func (o *Order) Status() Status {
	if len(o.StatusHistory) == 0 {
		return StatusPending
	}
	return o.StatusHistory[len(o.StatusHistory)-1].Status
}

// Finalized reports whether the order reached a terminal status.
func (o *Order) Finalized() bool {
	s := o.Status()
	return s == StatusConfirmed || s == StatusRejected
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.StatusHistory = append([]StatusEntry(nil), o.StatusHistory...)
	clone.Details.ConfirmedServices = append([]ConfirmedService(nil), o.Details.ConfirmedServices...)
	if o.Details.AscensionItems != nil {
		clone.Details.AscensionItems = make(map[string]int64, len(o.Details.AscensionItems))
		for id, amount := range o.Details.AscensionItems {
			clone.Details.AscensionItems[id] = amount
		}
	}
	return &clone
}
