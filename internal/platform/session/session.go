// Package session builds the immutable platform session: the administrative
// credentials and identities every outbound adapter needs. It is constructed
// once at process start and passed by reference, never mutated afterwards.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/TimTinkers/Item-Ascension-Server/internal/infrastructure/enjin"
	"github.com/TimTinkers/Item-Ascension-Server/internal/infrastructure/game"
)

// Platform is the process-wide administrative session.
type Platform struct {
	GameAdminToken    string
	TokenAdminToken   string
	TokenAdminUserID  int64
	TokenIdentityID   int64
	TokenAdminAddress string
	AppID             int64
}

// Credentials carries the administrator logins used once at bootstrap.
type Credentials struct {
	GameUsername  string
	GamePassword  string
	PlatformEmail string
	PlatformPass  string
	AppID         int64
}

// Bootstrap logs the administrators into the game service and the token
// platform and resolves the platform identity for the configured app. The
// process refuses to start without both logins.
func Bootstrap(ctx context.Context, gameClient *game.Client, platformClient *enjin.Client, creds Credentials) (*Platform, error) {
	if creds.GameUsername == "" || creds.GamePassword == "" {
		return nil, errors.New("session: game administrator credentials are required")
	}
	if creds.PlatformEmail == "" || creds.PlatformPass == "" {
		return nil, errors.New("session: platform administrator credentials are required")
	}

	gameToken, err := gameClient.Login(ctx, creds.GameUsername, creds.GamePassword)
	if err != nil {
		return nil, fmt.Errorf("session: game login: %w", err)
	}

	account, err := platformClient.Login(ctx, creds.PlatformEmail, creds.PlatformPass)
	if err != nil {
		return nil, fmt.Errorf("session: platform login: %w", err)
	}
	identity, ok := account.Identities[creds.AppID]
	if !ok {
		return nil, fmt.Errorf("session: platform administrator has no identity for app %d", creds.AppID)
	}

	return &Platform{
		GameAdminToken:    gameToken,
		TokenAdminToken:   account.AccessToken,
		TokenAdminUserID:  account.UserID,
		TokenIdentityID:   identity.IdentityID,
		TokenAdminAddress: identity.Address,
		AppID:             creds.AppID,
	}, nil
}
