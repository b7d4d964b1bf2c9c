// Package ether adapts the crypto settlement rail. Initiate encodes an
// unsigned purchase transaction against the payment-processor contract; the
// caller signs and broadcasts it with their own wallet. This core never
// watches the chain, so Verify is unsupported and settlement is reported back
// by an external collaborator.
package ether

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"

	"golang.org/x/crypto/sha3"

	"github.com/TimTinkers/Item-Ascension-Server/internal/domain/order"
	"github.com/TimTinkers/Item-Ascension-Server/internal/domain/payment"
)

// purchaseSignature is the contract method the generated transaction calls.
// The service id parameter is reserved for routing multiple services through
// the processor contract; ascension is service zero.
const purchaseSignature = "purchase(uint256,string)"

const ascensionServiceIndex = 0

// Config carries the contract endpoint and pricing of the crypto rail.
type Config struct {
	ContractAddress string
	WeiPerUnit      *big.Int
	GasLimit        uint64
}

type Adapter struct {
	cfg Config
}

func NewAdapter(cfg Config) *Adapter {
	return &Adapter{cfg: cfg}
}

// Initiate builds the unsigned transaction for an order. The transferred
// value is the per-unit wei price times the number of distinct ascended item
// types, mirroring how the pricer charges ascension.
func (a *Adapter) Initiate(ctx context.Context, o *order.Order) (*payment.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if a.cfg.ContractAddress == "" {
		return nil, fmt.Errorf("%w: payment contract address not configured", payment.ErrInit)
	}

	data, err := encodePurchase(ascensionServiceIndex, o.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrInit, err)
	}

	value := new(big.Int).Mul(a.cfg.WeiPerUnit, big.NewInt(int64(len(o.Details.AscensionItems))))

	return &payment.Handle{
		Method: order.MethodEther,
		Transaction: &payment.UnsignedTransaction{
			Nonce:    0,
			GasLimit: a.cfg.GasLimit,
			To:       a.cfg.ContractAddress,
			Data:     "0x" + hex.EncodeToString(data),
			Value:    value,
		},
	}, nil
}

// Verify is not supported on this rail; settlement confirmation happens
// outside this core.
func (a *Adapter) Verify(ctx context.Context, externalOrderID string) (*payment.Verification, error) {
	return nil, payment.ErrUnsupported
}

// encodePurchase ABI-encodes a purchase(uint256,string) call: the 4-byte
// Keccak-256 selector, two head words (the service id and the offset of the
// dynamic string), then the string's length word and its right-padded bytes.
func encodePurchase(serviceID uint64, orderID string) ([]byte, error) {
	if orderID == "" {
		return nil, fmt.Errorf("order id is required")
	}

	data := make([]byte, 0, 4+32*4+len(orderID))
	data = append(data, selector(purchaseSignature)...)
	data = append(data, word(new(big.Int).SetUint64(serviceID))...)
	data = append(data, word(big.NewInt(64))...) // offset of the string data
	data = append(data, word(big.NewInt(int64(len(orderID))))...)

	padded := len(orderID)
	if rem := padded % 32; rem != 0 {
		padded += 32 - rem
	}
	body := make([]byte, padded)
	copy(body, orderID)
	data = append(data, body...)

	return data, nil
}

func selector(signature string) []byte {
	hash := sha3.NewLegacyKeccak256()
	hash.Write([]byte(signature))
	return hash.Sum(nil)[:4]
}

func word(value *big.Int) []byte {
	return value.FillBytes(make([]byte, 32))
}

var _ payment.Adapter = (*Adapter)(nil)
