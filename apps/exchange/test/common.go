package test

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"exchange/apps/exchange/internal/signature"
)

// baseURL returns the address of a running exchange, or skips the test when none is configured.
func baseURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("EXCHANGE_BASE_URL")
	if url == "" {
		t.Skip("EXCHANGE_BASE_URL not set")
	}
	return url
}

// OrderBookEntry mirrors one element of GET /order_book.
type OrderBookEntry struct {
	SenderPK     string `json:"sender_pk"`
	ReceiverPK   string `json:"receiver_pk"`
	BuyCurrency  string `json:"buy_currency"`
	SellCurrency string `json:"sell_currency"`
	BuyAmount    string `json:"buy_amount"`
	SellAmount   string `json:"sell_amount"`
	Signature    string `json:"signature"`
}

// OrderBookResponse is the body of GET /order_book.
type OrderBookResponse struct {
	Data []OrderBookEntry `json:"data"`
}

// Trader signs Ethereum trade requests.
type Trader struct {
	key     *ecdsa.PrivateKey
	Address string
}

func NewTrader(t *testing.T) *Trader {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	return &Trader{key: key, Address: crypto.PubkeyToAddress(key.PublicKey).Hex()}
}

// Payload renders a payload in the field order clients sign.
func (tr *Trader) Payload(buyCurrency, sellCurrency, buyAmount, sellAmount string) string {
	return fmt.Sprintf(`{"sender_pk": "%s", "receiver_pk": "%s", "buy_currency": "%s", "sell_currency": "%s", "buy_amount": %s, "sell_amount": %s, "platform": "Ethereum"}`,
		tr.Address, tr.Address, buyCurrency, sellCurrency, buyAmount, sellAmount)
}

// SignedRequest wraps payload with the trader's signature over it.
func (tr *Trader) SignedRequest(t *testing.T, payload string) string {
	t.Helper()
	message, err := signature.Message([]byte(payload))
	if err != nil {
		t.Fatalf("Failed to render payload: %v", err)
	}
	sig, err := crypto.Sign(accounts.TextHash(message), tr.key)
	if err != nil {
		t.Fatalf("Failed to sign payload: %v", err)
	}
	return fmt.Sprintf(`{"sig": "%s", "payload": %s}`, hexutil.Encode(sig), payload)
}
