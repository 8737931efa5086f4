package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/domwhitecode/polymarket-copy-trading-bot/models"
	"github.com/domwhitecode/polymarket-copy-trading-bot/utils"
)

// MockStore is an in-memory TradeStore for tests and local development.
type MockStore struct {
	mu     sync.RWMutex
	trades map[string]models.Trade // keyed by transaction hash
}

func NewMockStore() *MockStore {
	return &MockStore{
		trades: make(map[string]models.Trade),
	}
}

func (m *MockStore) Close() error {
	return nil
}

func (m *MockStore) SaveTradeIfNew(_ context.Context, trade models.Trade) (bool, error) {
	if trade.TransactionHash == "" {
		return false, fmt.Errorf("%w: empty transaction hash", models.ErrInvalidArgument)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.trades[trade.TransactionHash]; exists {
		return false, nil
	}
	trade.Wallet = utils.NormalizeAddress(trade.Wallet)
	m.trades[trade.TransactionHash] = trade
	return true, nil
}

func (m *MockStore) RecentTrades(_ context.Context, wallet string, since int64, limit int) ([]models.Trade, error) {
	wallet = utils.NormalizeAddress(wallet)
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}

	m.mu.RLock()
	var out []models.Trade
	for _, t := range m.trades {
		if t.Wallet == wallet && t.Timestamp > since {
			out = append(out, t)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp > out[j].Timestamp
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockStore) BotTradesSince(_ context.Context, wallet string, watermark int64) ([]models.Trade, error) {
	wallet = utils.NormalizeAddress(wallet)

	m.mu.RLock()
	var out []models.Trade
	for _, t := range m.trades {
		if t.Wallet == wallet && t.Bot && t.Timestamp > watermark {
			out = append(out, t)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	return out, nil
}

func (m *MockStore) HasWallet(_ context.Context, wallet string) (bool, error) {
	wallet = utils.NormalizeAddress(wallet)

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.trades {
		if t.Wallet == wallet {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockStore) TrackedWallets(_ context.Context) ([]string, error) {
	m.mu.RLock()
	seen := make(map[string]bool)
	for _, t := range m.trades {
		seen[t.Wallet] = true
	}
	m.mu.RUnlock()

	wallets := make([]string, 0, len(seen))
	for w := range seen {
		wallets = append(wallets, w)
	}
	sort.Strings(wallets)
	return wallets, nil
}

// Len reports stored trades, for test assertions.
func (m *MockStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.trades)
}
