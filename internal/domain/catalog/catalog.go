package catalog

import (
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrUnavailable       = errors.New("catalog: store unavailable")
	ErrUnknownItem       = errors.New("catalog: unknown item")
	ErrInsufficientStock = errors.New("catalog: insufficient stock")
)

// OfferItem is one entry inside a sale bundle. AvailableForPurchase is the
// live stock counter for the underlying item; it never goes below zero and is
// only decremented after the token platform accepts a mint.
type OfferItem struct {
	ItemID               string
	UnitAmount           int64
	UnitMetadata         json.RawMessage
	AvailableForPurchase int64
}

// Offer is a purchasable bundle of items sold for a fixed price.
type Offer struct {
	ServiceID int64
	Metadata  json.RawMessage
	Price     decimal.Decimal
	Contents  []OfferItem
}

// InStock reports whether every item in the bundle still covers its unit
// amount. The check is per unit, not per unit times purchased quantity; see
// the stock policy notes in DESIGN.md.
func (o Offer) InStock() bool {
	for _, item := range o.Contents {
		if item.UnitAmount > item.AvailableForPurchase {
			return false
		}
	}
	return true
}
