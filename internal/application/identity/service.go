// Package identity links game accounts to token-platform identities and
// keeps the payer address book current. Fulfillment depends on the address
// recorded here to know where minted items go.
package identity

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/TimTinkers/Item-Ascension-Server/internal/domain/catalog"
	"github.com/TimTinkers/Item-Ascension-Server/internal/infrastructure/enjin"
	"github.com/TimTinkers/Item-Ascension-Server/internal/infrastructure/game"
	"github.com/TimTinkers/Item-Ascension-Server/internal/pkg/logging"
	"github.com/TimTinkers/Item-Ascension-Server/internal/platform/session"
)

// zeroAddress is what an unlinked identity reads as.
const zeroAddress = "0x0000000000000000000000000000000000000000"

// link states returned to the client.
const (
	StateLinked   = "LINKED"
	StateMustLink = "MUST_LINK"
)

// GamePort fetches the profile behind a payer's bearer token.
type GamePort interface {
	Profile(ctx context.Context, token string) (*game.Profile, error)
}

// PlatformPort is the slice of the token platform the connect flow uses.
type PlatformPort interface {
	SearchIdentities(ctx context.Context, token string) ([]enjin.Identity, error)
	InviteIdentity(ctx context.Context, token, email string) error
	InventoryByAddress(ctx context.Context, token, address string) ([]enjin.Token, error)
}

// AddressBook records each payer's last observed address.
type AddressBook interface {
	Record(ctx context.Context, payerID, email, address string, hasPlatformAccount bool) error
}

// Status is the outcome of a connect attempt: either the payer is fully
// linked (with their filtered on-chain inventory) or they must finish
// linking with the given code.
type Status struct {
	State         string        `json:"status"`
	Address       string        `json:"address,omitempty"`
	Inventory     []enjin.Token `json:"inventory,omitempty"`
	LinkingCode   string        `json:"code,omitempty"`
	LinkingCodeQR string        `json:"qr,omitempty"`
}

type Service struct {
	game      GamePort
	platform  PlatformPort
	catalog   catalog.Repository
	addresses AddressBook
	admin     *session.Platform
}

func NewService(gamePort GamePort, platformPort PlatformPort, catalogRepo catalog.Repository, addresses AddressBook, admin *session.Platform) *Service {
	return &Service{
		game:      gamePort,
		platform:  platformPort,
		catalog:   catalogRepo,
		addresses: addresses,
		admin:     admin,
	}
}

// Connect resolves the payer's platform identity, inviting them first when
// they have no account yet, and records their current address. An identity
// that is already invited is treated as success.
func (s *Service) Connect(ctx context.Context, token string) (*Status, error) {
	logger := logging.FromContext(ctx).With(zap.String("component", "identity"))

	profile, err := s.game.Profile(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("identity: fetch profile: %w", err)
	}

	if !profile.HasPlatformAccount {
		err := s.platform.InviteIdentity(ctx, s.admin.TokenAdminToken, profile.Email)
		if err != nil && !errors.Is(err, enjin.ErrAlreadyInvited) {
			return nil, fmt.Errorf("identity: invite: %w", err)
		}
	}

	identities, err := s.platform.SearchIdentities(ctx, s.admin.TokenAdminToken)
	if err != nil {
		return nil, fmt.Errorf("identity: search identities: %w", err)
	}

	address := zeroAddress
	linkingCode := ""
	linkingCodeQR := ""
	for _, identity := range identities {
		if identity.Email == profile.Email {
			if identity.Address != "" {
				address = identity.Address
			}
			linkingCode = identity.LinkingCode
			linkingCodeQR = identity.LinkingCodeQR
			break
		}
	}

	if err := s.addresses.Record(ctx, profile.UserID, profile.Email, address, profile.HasPlatformAccount); err != nil {
		return nil, fmt.Errorf("identity: record address: %w", err)
	}

	if address == zeroAddress {
		return &Status{
			State:         StateMustLink,
			LinkingCode:   linkingCode,
			LinkingCodeQR: linkingCodeQR,
		}, nil
	}

	inventory, err := s.platform.InventoryByAddress(ctx, s.admin.TokenAdminToken, address)
	if err != nil {
		return nil, fmt.Errorf("identity: fetch platform inventory: %w", err)
	}
	valid, err := s.catalog.ValidTokenIDs(ctx)
	if err != nil {
		return nil, err
	}

	owned := make([]enjin.Token, 0, len(inventory))
	for _, item := range inventory {
		if item.AppID != s.admin.AppID {
			continue
		}
		if _, ok := valid[item.TokenID]; !ok {
			continue
		}
		owned = append(owned, item)
	}

	logger.Info("identity_connected",
		zap.String("payer_id", profile.UserID),
		zap.Int("owned_tokens", len(owned)),
	)
	return &Status{
		State:     StateLinked,
		Address:   address,
		Inventory: owned,
	}, nil
}
