// Package game is the HTTP client for the game's profile and inventory
// service. Every response is decoded into an explicit schema type at the
// boundary; missing required fields fail with ErrSchema instead of leaking
// half-parsed payloads into the core.
package game

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	ErrSchema       = errors.New("game: unexpected upstream payload")
	ErrUnauthorized = errors.New("game: not authorized")
)

// Config carries the game service endpoints.
type Config struct {
	LoginURL      string
	ProfileURL    string
	InventoryURL  string
	RemoveItemURL string
}

type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

// Profile is the game-side view of a user.
type Profile struct {
	UserID             string `json:"userId"`
	Email              string `json:"email"`
	HasPlatformAccount bool   `json:"hasEnjinAccount"`
}

// InventoryItem is one owned stack in a user's game inventory.
type InventoryItem struct {
	ItemID string `json:"itemId"`
	Amount int64  `json:"amount"`
}

// Login exchanges credentials for a bearer access token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return "", fmt.Errorf("game: marshal login: %w", err)
	}

	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.do(ctx, http.MethodPost, c.cfg.LoginURL, "", bytes.NewReader(body), &resp); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("%w: login response missing access_token", ErrSchema)
	}
	return resp.AccessToken, nil
}

// Profile fetches the profile of the user the bearer token represents.
func (c *Client) Profile(ctx context.Context, token string) (*Profile, error) {
	var profile Profile
	if err := c.do(ctx, http.MethodGet, c.cfg.ProfileURL, token, nil, &profile); err != nil {
		return nil, err
	}
	if profile.UserID == "" {
		return nil, fmt.Errorf("%w: profile response missing userId", ErrSchema)
	}
	return &profile, nil
}

// Inventory fetches the owned items of the user the bearer token represents.
func (c *Client) Inventory(ctx context.Context, token string) ([]InventoryItem, error) {
	var resp struct {
		Inventory []InventoryItem `json:"inventory"`
	}
	if err := c.do(ctx, http.MethodGet, c.cfg.InventoryURL, token, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Inventory == nil {
		return nil, fmt.Errorf("%w: inventory response missing inventory", ErrSchema)
	}
	return resp.Inventory, nil
}

// RemoveItem removes an amount of one item from the recipient's game
// inventory. The token is expected to carry an administrative principal.
func (c *Client) RemoveItem(ctx context.Context, token, itemID string, amount int64, recipientID string) error {
	body, err := json.Marshal(map[string]any{
		"itemId":      itemID,
		"amount":      amount,
		"recipientId": recipientID,
	})
	if err != nil {
		return fmt.Errorf("game: marshal remove item: %w", err)
	}
	return c.do(ctx, http.MethodPost, c.cfg.RemoveItemURL, token, bytes.NewReader(body), nil)
}

func (c *Client) do(ctx context.Context, method, url, token string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("game: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("game: %s %s: %w", method, url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("game: %s %s: unexpected status %d", method, url, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	return nil
}
