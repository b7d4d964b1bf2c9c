package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/TimTinkers/Item-Ascension-Server/internal/domain/catalog"
)

// Catalog implements catalog.Repository for one token network.
type Catalog struct {
	db      *DB
	network string
}

func NewCatalog(db *DB, network string) *Catalog {
	return &Catalog{db: db, network: network}
}

const listOffersQuery = `
SELECT o.service_id, o.metadata, o.price,
       c.item_id, c.unit_amount,
       i.metadata, i.available
FROM offers o
JOIN offer_contents c ON c.service_id = o.service_id
JOIN catalog_items i ON i.item_id = c.item_id AND i.network = ?
%s
ORDER BY o.position, c.position`

// ListOffers returns offers in catalog order, optionally restricted to the
// given service ids. Store failures surface as catalog.ErrUnavailable and are
// never retried here.
func (c *Catalog) ListOffers(ctx context.Context, filter []int64) ([]catalog.Offer, error) {
	where := ""
	args := []any{c.network}
	if filter != nil {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(filter)), ",")
		if len(filter) == 0 {
			return []catalog.Offer{}, nil
		}
		where = fmt.Sprintf("WHERE o.service_id IN (%s)", placeholders)
		for _, id := range filter {
			args = append(args, id)
		}
	}

	rows, err := c.db.sqlDB.QueryContext(ctx, fmt.Sprintf(listOffersQuery, where), args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list offers: %v", catalog.ErrUnavailable, err)
	}
	defer rows.Close()

	var offers []catalog.Offer
	index := make(map[int64]int)
	for rows.Next() {
		var (
			serviceID  int64
			offerMeta  string
			price      string
			itemID     string
			unitAmount int64
			itemMeta   string
			available  int64
		)
		if err := rows.Scan(&serviceID, &offerMeta, &price, &itemID, &unitAmount, &itemMeta, &available); err != nil {
			return nil, fmt.Errorf("%w: scan offer: %v", catalog.ErrUnavailable, err)
		}

		pos, ok := index[serviceID]
		if !ok {
			parsedPrice, err := decimal.NewFromString(price)
			if err != nil {
				return nil, fmt.Errorf("%w: offer %d price: %v", catalog.ErrUnavailable, serviceID, err)
			}
			offers = append(offers, catalog.Offer{
				ServiceID: serviceID,
				Metadata:  json.RawMessage(offerMeta),
				Price:     parsedPrice,
			})
			pos = len(offers) - 1
			index[serviceID] = pos
		}
		offers[pos].Contents = append(offers[pos].Contents, catalog.OfferItem{
			ItemID:               itemID,
			UnitAmount:           unitAmount,
			UnitMetadata:         json.RawMessage(itemMeta),
			AvailableForPurchase: available,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list offers: %v", catalog.ErrUnavailable, err)
	}
	if offers == nil {
		offers = []catalog.Offer{}
	}
	return offers, nil
}

// AscendableItemIDs returns the item ids eligible for ascension on this
// catalog's network.
func (c *Catalog) AscendableItemIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := c.db.sqlDB.QueryContext(ctx,
		"SELECT item_id FROM catalog_items WHERE network = ? AND ascendable = 1", c.network)
	if err != nil {
		return nil, fmt.Errorf("%w: ascendable items: %v", catalog.ErrUnavailable, err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scan item id: %v", catalog.ErrUnavailable, err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: ascendable items: %v", catalog.ErrUnavailable, err)
	}
	return ids, nil
}

// TokenID resolves an item to its platform token identifier on this network.
func (c *Catalog) TokenID(ctx context.Context, itemID string) (string, error) {
	var tokenID string
	err := c.db.sqlDB.QueryRowContext(ctx,
		"SELECT token_id FROM catalog_items WHERE item_id = ? AND network = ?",
		itemID, c.network).Scan(&tokenID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", catalog.ErrUnknownItem, itemID)
	}
	if err != nil {
		return "", fmt.Errorf("%w: token id for %s: %v", catalog.ErrUnavailable, itemID, err)
	}
	return tokenID, nil
}

// ValidTokenIDs returns every platform token id with an in-game equivalent.
func (c *Catalog) ValidTokenIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := c.db.sqlDB.QueryContext(ctx,
		"SELECT token_id FROM catalog_items WHERE network = ?", c.network)
	if err != nil {
		return nil, fmt.Errorf("%w: valid token ids: %v", catalog.ErrUnavailable, err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scan token id: %v", catalog.ErrUnavailable, err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: valid token ids: %v", catalog.ErrUnavailable, err)
	}
	return ids, nil
}

// DecrementStock atomically reduces an item's available supply. The guard in
// the WHERE clause is what prevents overselling under concurrent fulfillment:
// the row update either applies fully or not at all, without a read-then-write
// window.
func (c *Catalog) DecrementStock(ctx context.Context, itemID string, quantity int64) error {
	if quantity <= 0 {
		return fmt.Errorf("catalog: decrement quantity must be positive, got %d", quantity)
	}
	res, err := c.db.sqlDB.ExecContext(ctx,
		"UPDATE catalog_items SET available = available - ? WHERE item_id = ? AND network = ? AND available >= ?",
		quantity, itemID, c.network, quantity)
	if err != nil {
		return fmt.Errorf("%w: decrement stock for %s: %v", catalog.ErrUnavailable, itemID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: decrement stock for %s: %v", catalog.ErrUnavailable, itemID, err)
	}
	if affected == 0 {
		var exists int
		err := c.db.sqlDB.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM catalog_items WHERE item_id = ? AND network = ?",
			itemID, c.network).Scan(&exists)
		if err != nil {
			return fmt.Errorf("%w: decrement stock for %s: %v", catalog.ErrUnavailable, itemID, err)
		}
		if exists == 0 {
			return fmt.Errorf("%w: %s", catalog.ErrUnknownItem, itemID)
		}
		return fmt.Errorf("%w: %s needs %d", catalog.ErrInsufficientStock, itemID, quantity)
	}
	return nil
}

var _ catalog.Repository = (*Catalog)(nil)
