package game

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Config{
		LoginURL:      server.URL + "/login",
		ProfileURL:    server.URL + "/profile",
		InventoryURL:  server.URL + "/inventory",
		RemoveItemURL: server.URL + "/remove",
	})
}

func TestProfile(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/profile", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Fatalf("unexpected authorization header %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"userId":          "user-1",
			"email":           "user@example.com",
			"hasEnjinAccount": true,
		})
	})
	client := newTestClient(t, mux)

	profile, err := client.Profile(context.Background(), "tok")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile.UserID != "user-1" || profile.Email != "user@example.com" || !profile.HasPlatformAccount {
		t.Fatalf("unexpected profile %+v", profile)
	}
}

func TestProfileMissingUserID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/profile", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"email": "user@example.com"})
	})
	client := newTestClient(t, mux)

	if _, err := client.Profile(context.Background(), "tok"); !errors.Is(err, ErrSchema) {
		t.Fatalf("expected ErrSchema, got %v", err)
	}
}

func TestInventory(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/inventory", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"inventory": []map[string]any{
				{"itemId": "sword", "amount": 3},
				{"itemId": "shield", "amount": 0},
			},
		})
	})
	client := newTestClient(t, mux)

	items, err := client.Inventory(context.Background(), "tok")
	if err != nil {
		t.Fatalf("inventory: %v", err)
	}
	if len(items) != 2 || items[0].ItemID != "sword" || items[0].Amount != 3 {
		t.Fatalf("unexpected inventory %+v", items)
	}
}

func TestUnauthorized(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/inventory", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	client := newTestClient(t, mux)

	if _, err := client.Inventory(context.Background(), "expired"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestRemoveItem(t *testing.T) {
	var received map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/remove", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode remove body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	})
	client := newTestClient(t, mux)

	if err := client.RemoveItem(context.Background(), "admin-tok", "sword", 2, "user-1"); err != nil {
		t.Fatalf("remove item: %v", err)
	}
	if received["itemId"] != "sword" || received["recipientId"] != "user-1" {
		t.Fatalf("unexpected removal payload %v", received)
	}
	if amount, ok := received["amount"].(float64); !ok || amount != 2 {
		t.Fatalf("unexpected amount %v", received["amount"])
	}
}
