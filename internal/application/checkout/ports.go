package checkout

import (
	"context"

	"github.com/TimTinkers/Item-Ascension-Server/internal/infrastructure/game"
)

type IDGenerator interface {
	NewID() string
}

// GamePort is the slice of the game service the checkout path needs: the
// payer's live inventory, fetched with the payer's own bearer token so
// ownership amounts always come from trusted server state.
type GamePort interface {
	Inventory(ctx context.Context, token string) ([]game.InventoryItem, error)
}
