package memory

import (
	"context"
	"sync"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

type addressEntry struct {
	email              string
	address            string
	hasPlatformAccount bool
}

type AddressBook struct {
	mu      sync.RWMutex
	entries map[string]addressEntry
}

func NewAddressBook() *AddressBook {
	return &AddressBook{
		entries: make(map[string]addressEntry),
	}
}

func (b *AddressBook) Record(ctx context.Context, payerID, email, address string, hasPlatformAccount bool) error {
	_ = ctx

	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[payerID] = addressEntry{
		email:              email,
		address:            address,
		hasPlatformAccount: hasPlatformAccount,
	}
	return nil
}

// LastAddress returns the payer's last recorded address; a payer never seen
// before reads as the zero address, same as the sqlite column default.
func (b *AddressBook) LastAddress(ctx context.Context, payerID string) (string, error) {
	_ = ctx

	b.mu.RLock()
	defer b.mu.RUnlock()

	entry, ok := b.entries[payerID]
	if !ok || entry.address == "" {
		return zeroAddress, nil
	}
	return entry.address, nil
}
