// Package enjin is the client for the token-issuance platform. The platform
// speaks a GraphQL request/response protocol; each operation here is a fixed
// query with typed variables and a typed result, so the rest of the system
// never touches raw platform payloads.
package enjin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	ErrSchema         = errors.New("enjin: unexpected platform payload")
	ErrAlreadyInvited = errors.New("enjin: identity already invited")
)

// MintStatePending is the platform's accepted-and-queued mint state. Stock is
// only decremented once a mint reaches this state.
const MintStatePending = "PENDING"

type Client struct {
	url   string
	appID int64
	http  *http.Client
}

func NewClient(url string, appID int64) *Client {
	return &Client{
		url:   url,
		appID: appID,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

// AdminIdentity is the administrator's identity on one app, resolved at
// login time.
type AdminIdentity struct {
	IdentityID int64
	Address    string
}

// AdminAccount is the result of an administrator login.
type AdminAccount struct {
	AccessToken string
	UserID      int64
	Identities  map[int64]AdminIdentity // keyed by app id
}

// Identity is one platform identity returned by a search.
type Identity struct {
	Email         string
	Address       string
	LinkingCode   string
	LinkingCodeQR string
}

// Token is one on-chain token held by an address.
type Token struct {
	TokenID string `json:"token_id"`
	AppID   int64  `json:"app_id"`
	Amount  int64  `json:"amount"`
	Name    string `json:"name"`
}

// MintReceipt is the platform's answer to a mint request.
type MintReceipt struct {
	State string
}

// Accepted reports whether the platform queued the mint.
func (r MintReceipt) Accepted() bool {
	return r.State == MintStatePending
}

const loginQuery = `query login($email: String!, $password: String!) {
  request: EnjinOauth(email: $email, password: $password) {
    id
    access_tokens
    identities { id app_id ethereum_address }
  }
}`

// Login authenticates the platform administrator and resolves its identities
// per app.
func (c *Client) Login(ctx context.Context, email, password string) (*AdminAccount, error) {
	var resp struct {
		Request *struct {
			ID           int64 `json:"id"`
			AccessTokens []struct {
				AccessToken string `json:"access_token"`
			} `json:"access_tokens"`
			Identities []struct {
				ID              int64  `json:"id"`
				AppID           int64  `json:"app_id"`
				EthereumAddress string `json:"ethereum_address"`
			} `json:"identities"`
		} `json:"request"`
	}
	err := c.request(ctx, "", loginQuery, map[string]any{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Request == nil || len(resp.Request.AccessTokens) == 0 {
		return nil, fmt.Errorf("%w: login response missing access token", ErrSchema)
	}

	account := &AdminAccount{
		AccessToken: resp.Request.AccessTokens[0].AccessToken,
		UserID:      resp.Request.ID,
		Identities:  make(map[int64]AdminIdentity, len(resp.Request.Identities)),
	}
	for _, identity := range resp.Request.Identities {
		account.Identities[identity.AppID] = AdminIdentity{
			IdentityID: identity.ID,
			Address:    identity.EthereumAddress,
		}
	}
	return account, nil
}

const searchIdentitiesQuery = `query identities($appId: Int!) {
  result: EnjinIdentities(app_id: $appId) {
    user { email }
    ethereum_address
    linking_code
    linking_code_qr
  }
}`

// SearchIdentities lists the identities registered to this client's app.
func (c *Client) SearchIdentities(ctx context.Context, token string) ([]Identity, error) {
	var resp struct {
		Result []struct {
			User *struct {
				Email string `json:"email"`
			} `json:"user"`
			EthereumAddress string `json:"ethereum_address"`
			LinkingCode     string `json:"linking_code"`
			LinkingCodeQR   string `json:"linking_code_qr"`
		} `json:"result"`
	}
	err := c.request(ctx, token, searchIdentitiesQuery, map[string]any{
		"appId": c.appID,
	}, &resp)
	if err != nil {
		return nil, err
	}

	identities := make([]Identity, 0, len(resp.Result))
	for _, raw := range resp.Result {
		identity := Identity{
			Address:       raw.EthereumAddress,
			LinkingCode:   raw.LinkingCode,
			LinkingCodeQR: raw.LinkingCodeQR,
		}
		if raw.User != nil {
			identity.Email = raw.User.Email
		}
		identities = append(identities, identity)
	}
	return identities, nil
}

const inviteIdentityMutation = `mutation invite($appId: Int!, $email: String!) {
  result: CreateEnjinIdentity(app_id: $appId, email: $email) { id }
}`

// InviteIdentity invites an email to the platform app. Inviting an address
// that is already registered fails with ErrAlreadyInvited, which callers
// treat as success.
func (c *Client) InviteIdentity(ctx context.Context, token, email string) error {
	var resp struct {
		Result *struct {
			ID int64 `json:"id"`
		} `json:"result"`
	}
	err := c.request(ctx, token, inviteIdentityMutation, map[string]any{
		"appId": c.appID,
		"email": email,
	}, &resp)
	if err != nil {
		return err
	}
	return nil
}

const inventoryQuery = `query inventory($address: String!) {
  result: EnjinBalances(ethereum_address: $address) {
    tokens { token_id app_id amount name }
  }
}`

// InventoryByAddress returns the tokens held by an address.
func (c *Client) InventoryByAddress(ctx context.Context, token, address string) ([]Token, error) {
	var resp struct {
		Result []struct {
			Tokens []Token `json:"tokens"`
		} `json:"result"`
	}
	err := c.request(ctx, token, inventoryQuery, map[string]any{
		"address": address,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Result) == 0 {
		return nil, fmt.Errorf("%w: inventory response missing result", ErrSchema)
	}
	return resp.Result[0].Tokens, nil
}

const mintTokenMutation = `mutation mint($appId: Int!, $tokenId: String!, $address: String!, $amount: Int!) {
  request: CreateEnjinRequest(app_id: $appId, type: MINT,
    mint_token_data: { token_id: $tokenId, recipient_address: $address, value: $amount }) {
    state
  }
}`

// MintToken asks the platform to mint amount units of a token to an address.
func (c *Client) MintToken(ctx context.Context, token, tokenID, address string, amount int64) (*MintReceipt, error) {
	var resp struct {
		Request *struct {
			State string `json:"state"`
		} `json:"request"`
	}
	err := c.request(ctx, token, mintTokenMutation, map[string]any{
		"appId":   c.appID,
		"tokenId": tokenID,
		"address": address,
		"amount":  amount,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Request == nil {
		return nil, fmt.Errorf("%w: mint response missing request", ErrSchema)
	}
	return &MintReceipt{State: resp.Request.State}, nil
}

type graphqlEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *Client) request(ctx context.Context, token, query string, variables map[string]any, out any) error {
	payload, err := json.Marshal(map[string]any{
		"query":     query,
		"variables": variables,
	})
	if err != nil {
		return fmt.Errorf("enjin: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("enjin: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-App-Id", fmt.Sprintf("%d", c.appID))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("enjin: request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("enjin: unexpected status %d", resp.StatusCode)
	}

	var envelope graphqlEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if len(envelope.Errors) > 0 {
		message := envelope.Errors[0].Message
		if strings.Contains(strings.ToLower(message), "already") {
			return fmt.Errorf("%w: %s", ErrAlreadyInvited, message)
		}
		return fmt.Errorf("enjin: platform error: %s", message)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	return nil
}
