package payment

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/TimTinkers/Item-Ascension-Server/internal/domain/order"
)

var (
	ErrInit           = errors.New("payment: initiation failed")
	ErrVerify         = errors.New("payment: verification failed")
	ErrAmountMismatch = errors.New("payment: settled amount does not cover order cost")
	ErrUnsupported    = errors.New("payment: operation not supported on this rail")
)

// UnsignedTransaction is the signable payload returned by the crypto rail.
// The caller signs and broadcasts it externally; this core never watches the
// chain for confirmation.
type UnsignedTransaction struct {
	Nonce    uint64   `json:"nonce"`
	GasLimit uint64   `json:"gasLimit"`
	To       string   `json:"to"`
	Data     string   `json:"data"`
	Value    *big.Int `json:"value"`
}

// Handle is the result of initiating payment on a rail: a remote order id for
// processor-held orders, or an unsigned transaction for wallet-signed ones.
type Handle struct {
	Method          order.Method
	ExternalOrderID string
	Transaction     *UnsignedTransaction
}

// Verification is the settlement outcome reported by a processor. Amount and
// currency are relayed exactly as the processor reported them; the caller
// compares them against the locally recorded order cost and never trusts the
// processor's own success flag alone.
type Verification struct {
	OrderID  string
	Amount   decimal.Decimal
	Currency string
	Status   string
	Evidence json.RawMessage
}

// Adapter initiates and verifies payment against one external rail.
type Adapter interface {
	Initiate(ctx context.Context, o *order.Order) (*Handle, error)
	Verify(ctx context.Context, externalOrderID string) (*Verification, error)
}
