package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/TimTinkers/Item-Ascension-Server/internal/infrastructure/enjin"
	"github.com/TimTinkers/Item-Ascension-Server/internal/infrastructure/game"
	"github.com/TimTinkers/Item-Ascension-Server/internal/infrastructure/memory"
	"github.com/TimTinkers/Item-Ascension-Server/internal/platform/session"
)

type fakeProfile struct {
	profile *game.Profile
	err     error
}

func (f *fakeProfile) Profile(ctx context.Context, token string) (*game.Profile, error) {
	return f.profile, f.err
}

type fakePlatform struct {
	identities []enjin.Identity
	inventory  []enjin.Token
	inviteErr  error
	invited    []string
}

func (f *fakePlatform) SearchIdentities(ctx context.Context, token string) ([]enjin.Identity, error) {
	return f.identities, nil
}

func (f *fakePlatform) InviteIdentity(ctx context.Context, token, email string) error {
	f.invited = append(f.invited, email)
	return f.inviteErr
}

func (f *fakePlatform) InventoryByAddress(ctx context.Context, token, address string) ([]enjin.Token, error) {
	return f.inventory, nil
}

func newIdentityService(gamePort GamePort, platform PlatformPort, book AddressBook) *Service {
	cat := memory.NewCatalog(nil, map[string]*memory.CatalogItem{
		"sword": {TokenID: "0x01", Available: 5},
	})
	admin := &session.Platform{TokenAdminToken: "token-admin", AppID: 42}
	return NewService(gamePort, platform, cat, book, admin)
}

func TestConnectLinkedIdentity(t *testing.T) {
	gamePort := &fakeProfile{profile: &game.Profile{
		UserID:             "user-1",
		Email:              "player@example.com",
		HasPlatformAccount: true,
	}}
	platform := &fakePlatform{
		identities: []enjin.Identity{{Email: "player@example.com", Address: "0xplayer"}},
		inventory: []enjin.Token{
			{TokenID: "0x01", AppID: 42, Amount: 2, Name: "Sword"},
			{TokenID: "0x99", AppID: 42, Amount: 1, Name: "Unrelated"},
			{TokenID: "0x01", AppID: 7, Amount: 1, Name: "Other App Sword"},
		},
	}
	book := memory.NewAddressBook()
	svc := newIdentityService(gamePort, platform, book)

	status, err := svc.Connect(context.Background(), "tok")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if status.State != StateLinked || status.Address != "0xplayer" {
		t.Fatalf("unexpected status %+v", status)
	}
	// Only tokens of this app with an in-game equivalent survive filtering.
	if len(status.Inventory) != 1 || status.Inventory[0].TokenID != "0x01" {
		t.Fatalf("unexpected inventory %+v", status.Inventory)
	}
	if len(platform.invited) != 0 {
		t.Fatalf("existing account must not be invited again, got %v", platform.invited)
	}

	address, err := book.LastAddress(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("last address: %v", err)
	}
	if address != "0xplayer" {
		t.Fatalf("expected recorded address 0xplayer, got %s", address)
	}
}

func TestConnectInvitesAndReturnsLinkingCode(t *testing.T) {
	gamePort := &fakeProfile{profile: &game.Profile{
		UserID: "user-1",
		Email:  "player@example.com",
	}}
	platform := &fakePlatform{
		identities: []enjin.Identity{{
			Email:         "player@example.com",
			Address:       "0x0000000000000000000000000000000000000000",
			LinkingCode:   "ABC123",
			LinkingCodeQR: "https://example.com/qr.png",
		}},
	}
	svc := newIdentityService(gamePort, platform, memory.NewAddressBook())

	status, err := svc.Connect(context.Background(), "tok")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if status.State != StateMustLink {
		t.Fatalf("expected MUST_LINK, got %s", status.State)
	}
	if status.LinkingCode != "ABC123" || status.LinkingCodeQR != "https://example.com/qr.png" {
		t.Fatalf("unexpected linking material %+v", status)
	}
	if len(platform.invited) != 1 || platform.invited[0] != "player@example.com" {
		t.Fatalf("expected an invite for the payer, got %v", platform.invited)
	}
}

func TestConnectToleratesAlreadyInvited(t *testing.T) {
	gamePort := &fakeProfile{profile: &game.Profile{
		UserID: "user-1",
		Email:  "player@example.com",
	}}
	platform := &fakePlatform{
		inviteErr:  enjin.ErrAlreadyInvited,
		identities: []enjin.Identity{{Email: "player@example.com", LinkingCode: "ABC123"}},
	}
	svc := newIdentityService(gamePort, platform, memory.NewAddressBook())

	status, err := svc.Connect(context.Background(), "tok")
	if err != nil {
		t.Fatalf("connect with existing invite: %v", err)
	}
	if status.State != StateMustLink {
		t.Fatalf("expected MUST_LINK, got %s", status.State)
	}
}

func TestConnectProfileErrorSurfaces(t *testing.T) {
	gamePort := &fakeProfile{err: game.ErrUnauthorized}
	svc := newIdentityService(gamePort, &fakePlatform{}, memory.NewAddressBook())

	if _, err := svc.Connect(context.Background(), "bad"); !errors.Is(err, game.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}
