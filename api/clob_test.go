package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domwhitecode/polymarket-copy-trading-bot/models"
)

// well-known throwaway key, never funded
const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func newTestClobClient(t *testing.T) *ClobClient {
	t.Helper()
	auth, err := NewAuthFromKey(testKey)
	require.NoError(t, err)
	client, err := NewClobClient("https://clob.polymarket.com", auth, time.Second, nil)
	require.NoError(t, err)
	return client
}

func TestSortBook(t *testing.T) {
	book := &models.OrderBook{
		Bids: []models.OrderBookLevel{
			{Price: "0.40", Size: "10"},
			{Price: "0.62", Size: "5"},
			{Price: "0.50", Size: "8"},
		},
		Asks: []models.OrderBookLevel{
			{Price: "0.70", Size: "3"},
			{Price: "0.65", Size: "12"},
		},
	}

	SortBook(book)

	assert.Equal(t, "0.62", book.Bids[0].Price, "best bid first")
	assert.Equal(t, "0.50", book.Bids[1].Price)
	assert.Equal(t, "0.40", book.Bids[2].Price)
	assert.Equal(t, "0.65", book.Asks[0].Price, "best ask first")
	assert.Equal(t, "0.70", book.Asks[1].Price)
}

func TestClassifyOrderFailure(t *testing.T) {
	tests := []struct {
		raw  string
		kind OrderErrorKind
	}{
		{"not enough balance / allowance", OrderInsufficient},
		{"insufficient BALANCE", OrderInsufficient},
		{"request timeout after 30s", OrderTransport},
		{"connection reset by peer", OrderTransport},
		{"order couldn't be fully filled, FOK orders are fully filled or killed", OrderRejected},
		{"invalid order payload", OrderRejected},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			oe := classifyOrderFailure(tt.raw)
			assert.Equal(t, tt.kind, oe.Kind)
			assert.Equal(t, tt.raw, oe.Raw)
			assert.Contains(t, oe.Error(), tt.raw)
		})
	}
}

func TestNewAuthFromKey(t *testing.T) {
	auth, err := NewAuthFromKey(testKey)
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", auth.GetAddress().Hex())

	// 0x prefix and surrounding whitespace are tolerated
	auth2, err := NewAuthFromKey(" 0x" + testKey)
	require.NoError(t, err)
	assert.Equal(t, auth.GetAddress(), auth2.GetAddress())

	_, err = NewAuthFromKey("not-a-key")
	assert.Error(t, err)
}

func TestSignRequestHeaders(t *testing.T) {
	auth, err := NewAuthFromKey(testKey)
	require.NoError(t, err)

	headers, err := auth.SignRequest()
	require.NoError(t, err)

	assert.Equal(t, auth.GetAddress().Hex(), headers["POLY_ADDRESS"])
	assert.Equal(t, "0", headers["POLY_NONCE"])
	assert.NotEmpty(t, headers["POLY_TIMESTAMP"])
	// 65-byte signature, hex encoded with 0x prefix
	assert.Len(t, headers["POLY_SIGNATURE"], 132)
}

func TestCreateSignedSellOrder(t *testing.T) {
	client := newTestClobClient(t)

	order, err := client.createSignedSellOrder("123456", 30.456, 0.604, false)
	require.NoError(t, err)

	// size rounds to 30.46 tokens, price snaps to the 0.60 tick
	assert.Equal(t, "30460000", order.MakerAmount)
	assert.Equal(t, "18276000", order.TakerAmount)
	assert.Equal(t, string(SideSell), order.Side)
	assert.Equal(t, 1, order.SideInt)
	assert.Equal(t, "0", order.Expiration)
	assert.Equal(t, "0", order.Nonce)
	assert.Equal(t, client.auth.GetAddress().Hex(), order.Maker)
	assert.Equal(t, client.auth.GetAddress().Hex(), order.Signer)
	assert.Len(t, order.Signature, 132)
}

func TestCreateSignedSellOrderRejectsDust(t *testing.T) {
	client := newTestClobClient(t)
	_, err := client.createSignedSellOrder("123456", 0.004, 0.5, false)
	assert.Error(t, err)
}

func TestShortToken(t *testing.T) {
	assert.Equal(t, "12345", shortToken("12345"))
	assert.Equal(t, "1234567890123456", shortToken("123456789012345678901234567890"))
}
