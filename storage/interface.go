package storage

import (
	"context"

	"github.com/domwhitecode/polymarket-copy-trading-bot/models"
)

// TradeStore defines the interface for trade observation storage backends.
type TradeStore interface {
	Close() error

	// SaveTradeIfNew records a trade keyed by transaction hash. Returns true
	// when the row was inserted, false when the hash was already known.
	SaveTradeIfNew(ctx context.Context, trade models.Trade) (bool, error)

	// RecentTrades returns trades for a wallet newer than since (unix
	// seconds), newest first. limit<=0 uses the default page size; limits
	// above the hard cap are clamped.
	RecentTrades(ctx context.Context, wallet string, since int64, limit int) ([]models.Trade, error)

	// BotTradesSince returns bot-executed trades for a wallet strictly newer
	// than the watermark, oldest first.
	BotTradesSince(ctx context.Context, wallet string, watermark int64) ([]models.Trade, error)

	// HasWallet reports whether any trade has been recorded for the wallet.
	HasWallet(ctx context.Context, wallet string) (bool, error)

	// TrackedWallets lists every wallet with at least one recorded trade.
	TrackedWallets(ctx context.Context) ([]string, error)
}

// Query paging bounds.
const (
	DefaultQueryLimit = 50
	MaxQueryLimit     = 100
)

// Ensure both implementations satisfy the interface
var _ TradeStore = (*PostgresStore)(nil)
var _ TradeStore = (*MockStore)(nil)
