package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/TimTinkers/Item-Ascension-Server/internal/domain/catalog"
)

// CatalogItem seeds one item row: its live stock counter plus the flags the
// sqlite schema keeps on catalog_items.
type CatalogItem struct {
	TokenID    string
	Available  int64
	Ascendable bool
}

type Catalog struct {
	mu     sync.RWMutex
	offers []catalog.Offer
	items  map[string]*CatalogItem
}

func NewCatalog(offers []catalog.Offer, items map[string]*CatalogItem) *Catalog {
	c := &Catalog{
		offers: offers,
		items:  make(map[string]*CatalogItem, len(items)),
	}
	for id, item := range items {
		clone := *item
		c.items[id] = &clone
	}
	return c
}

func (c *Catalog) ListOffers(ctx context.Context, filter []int64) ([]catalog.Offer, error) {
	_ = ctx

	c.mu.RLock()
	defer c.mu.RUnlock()

	wanted := make(map[int64]struct{}, len(filter))
	for _, id := range filter {
		wanted[id] = struct{}{}
	}

	offers := make([]catalog.Offer, 0, len(c.offers))
	for _, offer := range c.offers {
		if filter != nil {
			if _, ok := wanted[offer.ServiceID]; !ok {
				continue
			}
		}
		clone := offer
		clone.Contents = append([]catalog.OfferItem(nil), offer.Contents...)
		for i := range clone.Contents {
			if item, ok := c.items[clone.Contents[i].ItemID]; ok {
				clone.Contents[i].AvailableForPurchase = item.Available
			}
		}
		offers = append(offers, clone)
	}
	return offers, nil
}

func (c *Catalog) AscendableItemIDs(ctx context.Context) (map[string]struct{}, error) {
	_ = ctx

	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make(map[string]struct{})
	for id, item := range c.items {
		if item.Ascendable {
			ids[id] = struct{}{}
		}
	}
	return ids, nil
}

func (c *Catalog) TokenID(ctx context.Context, itemID string) (string, error) {
	_ = ctx

	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[itemID]
	if !ok {
		return "", fmt.Errorf("%w: %s", catalog.ErrUnknownItem, itemID)
	}
	return item.TokenID, nil
}

func (c *Catalog) ValidTokenIDs(ctx context.Context) (map[string]struct{}, error) {
	_ = ctx

	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make(map[string]struct{}, len(c.items))
	for _, item := range c.items {
		if item.TokenID != "" {
			ids[item.TokenID] = struct{}{}
		}
	}
	return ids, nil
}

func (c *Catalog) DecrementStock(ctx context.Context, itemID string, quantity int64) error {
	_ = ctx

	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[itemID]
	if !ok {
		return fmt.Errorf("%w: %s", catalog.ErrUnknownItem, itemID)
	}
	if item.Available < quantity {
		return fmt.Errorf("%w: %s", catalog.ErrInsufficientStock, itemID)
	}
	item.Available -= quantity
	return nil
}

// Available reports the current stock counter, for assertions in tests.
func (c *Catalog) Available(itemID string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if item, ok := c.items[itemID]; ok {
		return item.Available
	}
	return 0
}

var _ catalog.Repository = (*Catalog)(nil)
