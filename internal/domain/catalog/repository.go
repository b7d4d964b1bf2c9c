package catalog

import "context"

// Repository is the read/write boundary for the catalog. Reads price and
// validate orders; the only write is the per-item stock decrement performed by
// fulfillment after a mint is accepted.
type Repository interface {
	// ListOffers returns offers in catalog order. A nil filter returns every
	// offer; otherwise only offers whose service id is in the filter are
	// returned, preserving catalog order.
	ListOffers(ctx context.Context, filter []int64) ([]Offer, error)

	// AscendableItemIDs returns the server-maintained set of item ids that
	// qualify for the ascension upgrade path on the configured network.
	AscendableItemIDs(ctx context.Context) (map[string]struct{}, error)

	// TokenID resolves an item to its platform-specific token identifier.
	TokenID(ctx context.Context, itemID string) (string, error)

	// ValidTokenIDs returns the set of platform token ids that have in-game
	// equivalents, used to filter a payer's on-chain inventory.
	ValidTokenIDs(ctx context.Context) (map[string]struct{}, error)

	// DecrementStock atomically reduces an item's available supply. It fails
	// with ErrInsufficientStock instead of letting the counter go negative,
	// so two orders settling concurrently cannot oversell the same item.
	DecrementStock(ctx context.Context, itemID string, quantity int64) error
}
