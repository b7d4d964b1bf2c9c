package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ZeroAddress is the sentinel recorded for payers with no linked wallet.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// AddressBook tracks the last chain address observed for each payer. It is
// refreshed whenever a payer connects their platform identity and read during
// fulfillment to decide where minted items go.
type AddressBook struct {
	db *DB
}

func NewAddressBook(db *DB) *AddressBook {
	return &AddressBook{db: db}
}

// Record upserts the payer's last known address and platform-account flag.
func (b *AddressBook) Record(ctx context.Context, payerID, email, address string, hasPlatformAccount bool) error {
	if payerID == "" {
		return fmt.Errorf("address book: payer id is required")
	}
	if address == "" {
		address = ZeroAddress
	}
	hasAccount := 0
	if hasPlatformAccount {
		hasAccount = 1
	}
	_, err := b.db.sqlDB.ExecContext(ctx,
		`INSERT INTO payer_addresses (payer_id, email, last_address, has_platform_account, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(payer_id) DO UPDATE SET
		   email = excluded.email,
		   last_address = excluded.last_address,
		   has_platform_account = excluded.has_platform_account,
		   updated_at = excluded.updated_at`,
		payerID, email, address, hasAccount, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("address book: record: %w", err)
	}
	return nil
}

// LastAddress returns the payer's last recorded address. A payer never seen
// before reads as the zero address rather than an error, matching how an
// unlinked wallet is represented.
func (b *AddressBook) LastAddress(ctx context.Context, payerID string) (string, error) {
	var address string
	err := b.db.sqlDB.QueryRowContext(ctx,
		"SELECT last_address FROM payer_addresses WHERE payer_id = ?", payerID).Scan(&address)
	if errors.Is(err, sql.ErrNoRows) {
		return ZeroAddress, nil
	}
	if err != nil {
		return "", fmt.Errorf("address book: last address: %w", err)
	}
	return address, nil
}
