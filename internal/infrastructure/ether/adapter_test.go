package ether

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/TimTinkers/Item-Ascension-Server/internal/domain/order"
	"github.com/TimTinkers/Item-Ascension-Server/internal/domain/payment"
)

func testAdapter() *Adapter {
	wei, _ := new(big.Int).SetString("5500000000000000", 10)
	return NewAdapter(Config{
		ContractAddress: "0x1111111111111111111111111111111111111111",
		WeiPerUnit:      wei,
		GasLimit:        3000000,
	})
}

func etherOrder(t *testing.T, id string, items map[string]int64) *order.Order {
	t.Helper()

	o, err := order.New(id, "payer-1", order.MethodEther, order.Descriptor{
		PayerID:        "payer-1",
		TotalCost:      decimal.Zero,
		AscensionItems: items,
	})
	if err != nil {
		t.Fatalf("build order: %v", err)
	}
	return o
}

func TestInitiateBuildsUnsignedTransaction(t *testing.T) {
	a := testAdapter()
	o := etherOrder(t, "order-1", map[string]int64{"itemA": 2, "itemB": 1, "itemC": 5})

	handle, err := a.Initiate(context.Background(), o)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	tx := handle.Transaction
	if tx == nil {
		t.Fatal("expected an unsigned transaction")
	}
	if tx.To != a.cfg.ContractAddress {
		t.Fatalf("unexpected recipient %s", tx.To)
	}
	if tx.GasLimit != 3000000 || tx.Nonce != 0 {
		t.Fatalf("unexpected gas limit %d / nonce %d", tx.GasLimit, tx.Nonce)
	}

	// Value charges per distinct item type, not per unit.
	want, _ := new(big.Int).SetString("16500000000000000", 10)
	if tx.Value.Cmp(want) != 0 {
		t.Fatalf("expected value %s, got %s", want, tx.Value)
	}
}

func TestInitiateEncodesCalldata(t *testing.T) {
	a := testAdapter()
	orderID := "order-1"
	o := etherOrder(t, orderID, map[string]int64{"itemA": 1})

	handle, err := a.Initiate(context.Background(), o)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if !strings.HasPrefix(handle.Transaction.Data, "0x") {
		t.Fatalf("calldata must be 0x-prefixed, got %q", handle.Transaction.Data)
	}
	data, err := hex.DecodeString(strings.TrimPrefix(handle.Transaction.Data, "0x"))
	if err != nil {
		t.Fatalf("decode calldata: %v", err)
	}

	// selector + service id word + offset word + length word + one padded
	// 32-byte chunk for a 7-byte string.
	if len(data) != 4+32*4 {
		t.Fatalf("unexpected calldata length %d", len(data))
	}

	serviceWord := new(big.Int).SetBytes(data[4:36])
	if serviceWord.Sign() != 0 {
		t.Fatalf("expected service id 0, got %s", serviceWord)
	}
	offsetWord := new(big.Int).SetBytes(data[36:68])
	if offsetWord.Int64() != 64 {
		t.Fatalf("expected string offset 64, got %s", offsetWord)
	}
	lengthWord := new(big.Int).SetBytes(data[68:100])
	if lengthWord.Int64() != int64(len(orderID)) {
		t.Fatalf("expected string length %d, got %s", len(orderID), lengthWord)
	}
	body := data[100:]
	if string(body[:len(orderID)]) != orderID {
		t.Fatalf("expected order id in calldata, got %q", body[:len(orderID)])
	}
	for _, b := range body[len(orderID):] {
		if b != 0 {
			t.Fatal("string padding must be zero bytes")
		}
	}
}

func TestInitiateDeterministic(t *testing.T) {
	a := testAdapter()
	o := etherOrder(t, "order-1", map[string]int64{"itemA": 1})

	first, err := a.Initiate(context.Background(), o)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	second, err := a.Initiate(context.Background(), o)
	if err != nil {
		t.Fatalf("initiate again: %v", err)
	}
	if first.Transaction.Data != second.Transaction.Data {
		t.Fatal("calldata must be deterministic for the same order")
	}
}

func TestInitiateRequiresContractAddress(t *testing.T) {
	a := NewAdapter(Config{WeiPerUnit: big.NewInt(1), GasLimit: 1})
	o := etherOrder(t, "order-1", map[string]int64{"itemA": 1})

	_, err := a.Initiate(context.Background(), o)
	if !errors.Is(err, payment.ErrInit) {
		t.Fatalf("expected ErrInit, got %v", err)
	}
}

func TestVerifyUnsupported(t *testing.T) {
	a := testAdapter()
	if _, err := a.Verify(context.Background(), "anything"); !errors.Is(err, payment.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}
