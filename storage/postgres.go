package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/domwhitecode/polymarket-copy-trading-bot/models"
	"github.com/domwhitecode/polymarket-copy-trading-bot/utils"
)

const recentTradesCacheTTL = 5 * time.Second

// PostgresStore persists trade observations in PostgreSQL with an optional
// Redis cache in front of the recent-trades query. When redisURL is empty
// the store runs without caching.
type PostgresStore struct {
	pool  *pgxpool.Pool
	redis *redis.Client
	log   *zap.Logger
}

// NewPostgres connects to the database, bootstraps the schema, and wires the
// optional Redis cache.
func NewPostgres(ctx context.Context, databaseURL, redisURL string, log *zap.Logger) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("postgres: DATABASE_URL not set")
	}
	if log == nil {
		log = zap.NewNop()
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}

	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute
	config.HealthCheckPeriod = 30 * time.Second
	config.ConnConfig.RuntimeParams["statement_timeout"] = "30000"
	config.ConnConfig.RuntimeParams["lock_timeout"] = "10000"

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	var rdb *redis.Client
	if redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("redis: parse url: %w", err)
		}
		rdb = redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			pool.Close()
			return nil, fmt.Errorf("redis: ping: %w", err)
		}
	}

	s := &PostgresStore{
		pool:  pool,
		redis: rdb,
		log:   log.Named("storage"),
	}
	if err := s.migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS trades (
			transaction_hash TEXT PRIMARY KEY,
			wallet           TEXT NOT NULL,
			asset            TEXT NOT NULL,
			side             TEXT NOT NULL,
			size             DOUBLE PRECISION NOT NULL,
			price            DOUBLE PRECISION NOT NULL,
			usdc_size        DOUBLE PRECISION NOT NULL,
			timestamp        BIGINT NOT NULL,
			title            TEXT NOT NULL DEFAULT '',
			outcome          TEXT NOT NULL DEFAULT '',
			slug             TEXT NOT NULL DEFAULT '',
			bot              BOOLEAN NOT NULL DEFAULT FALSE,
			inserted_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_trades_wallet_ts ON trades (wallet, timestamp DESC);
	`)
	if err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Close releases database connections
func (s *PostgresStore) Close() error {
	if s.redis != nil {
		s.redis.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// SaveTradeIfNew inserts the trade unless its transaction hash is already
// recorded. The insert is the dedupe point: callers re-observing the same
// fill through a second channel get false and move on.
func (s *PostgresStore) SaveTradeIfNew(ctx context.Context, trade models.Trade) (bool, error) {
	if trade.TransactionHash == "" {
		return false, fmt.Errorf("%w: empty transaction hash", models.ErrInvalidArgument)
	}
	wallet := utils.NormalizeAddress(trade.Wallet)

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO trades (
			transaction_hash, wallet, asset, side, size, price, usdc_size,
			timestamp, title, outcome, slug, bot
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (transaction_hash) DO NOTHING
	`,
		trade.TransactionHash, wallet, trade.Asset, trade.Side, trade.Size,
		trade.Price, trade.UsdcSize, trade.Timestamp, trade.Title,
		trade.Outcome, trade.Slug, trade.Bot,
	)
	if err != nil {
		return false, fmt.Errorf("save trade: %w", err)
	}

	inserted := tag.RowsAffected() > 0
	if inserted {
		s.invalidateRecentCache(ctx, wallet)
	}
	return inserted, nil
}

// RecentTrades returns trades for a wallet newer than since, newest first.
func (s *PostgresStore) RecentTrades(ctx context.Context, wallet string, since int64, limit int) ([]models.Trade, error) {
	wallet = utils.NormalizeAddress(wallet)
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}

	cacheKey := fmt.Sprintf("trades:recent:%s:%d:%d", wallet, since, limit)
	if s.redis != nil {
		if raw, err := s.redis.Get(ctx, cacheKey).Result(); err == nil {
			var cached []models.Trade
			if err := json.Unmarshal([]byte(raw), &cached); err == nil {
				return cached, nil
			}
		}
	}

	rows, err := s.pool.Query(ctx, `
		SELECT transaction_hash, wallet, asset, side, size, price, usdc_size,
		       timestamp, title, outcome, slug, bot
		FROM trades
		WHERE wallet = $1 AND timestamp > $2
		ORDER BY timestamp DESC
		LIMIT $3
	`, wallet, since, limit)
	if err != nil {
		return nil, fmt.Errorf("recent trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanTrades(rows)
	if err != nil {
		return nil, err
	}

	if s.redis != nil {
		if raw, err := json.Marshal(trades); err == nil {
			s.redis.Set(ctx, cacheKey, raw, recentTradesCacheTTL)
		}
	}
	return trades, nil
}

// BotTradesSince returns bot-executed trades newer than the watermark,
// oldest first so the poller can advance its watermark in order.
func (s *PostgresStore) BotTradesSince(ctx context.Context, wallet string, watermark int64) ([]models.Trade, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT transaction_hash, wallet, asset, side, size, price, usdc_size,
		       timestamp, title, outcome, slug, bot
		FROM trades
		WHERE wallet = $1 AND bot = TRUE AND timestamp > $2
		ORDER BY timestamp ASC
	`, utils.NormalizeAddress(wallet), watermark)
	if err != nil {
		return nil, fmt.Errorf("bot trades: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// HasWallet reports whether any trade has been recorded for the wallet.
func (s *PostgresStore) HasWallet(ctx context.Context, wallet string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM trades WHERE wallet = $1)
	`, utils.NormalizeAddress(wallet)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has wallet: %w", err)
	}
	return exists, nil
}

// TrackedWallets lists every wallet the store has observations for.
func (s *PostgresStore) TrackedWallets(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT wallet FROM trades ORDER BY wallet`)
	if err != nil {
		return nil, fmt.Errorf("tracked wallets: %w", err)
	}
	defer rows.Close()

	var wallets []string
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		wallets = append(wallets, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return wallets, nil
}

func (s *PostgresStore) invalidateRecentCache(ctx context.Context, wallet string) {
	if s.redis == nil {
		return
	}
	pattern := fmt.Sprintf("trades:recent:%s:*", wallet)
	if keys, err := s.redis.Keys(ctx, pattern).Result(); err == nil && len(keys) > 0 {
		s.redis.Del(ctx, keys...)
	}
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanTrades(rows rowScanner) ([]models.Trade, error) {
	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		if err := rows.Scan(
			&t.TransactionHash, &t.Wallet, &t.Asset, &t.Side, &t.Size,
			&t.Price, &t.UsdcSize, &t.Timestamp, &t.Title, &t.Outcome,
			&t.Slug, &t.Bot,
		); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return trades, nil
}
