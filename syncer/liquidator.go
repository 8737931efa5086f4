package syncer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/domwhitecode/polymarket-copy-trading-bot/api"
	"github.com/domwhitecode/polymarket-copy-trading-bot/models"
)

// PositionSource fetches open positions for a wallet.
type PositionSource interface {
	GetPositions(ctx context.Context, user string) ([]models.Position, error)
	InvalidatePositions(user string)
}

// BookReader fetches the order book for a token.
type BookReader interface {
	GetOrderBook(ctx context.Context, tokenID string) (*models.OrderBook, error)
}

// OrderPlacer places sell orders and refreshes the exchange's balance view.
type OrderPlacer interface {
	SellFOK(ctx context.Context, tokenID string, size, price float64, negRisk bool) error
	UpdateBalanceAllowance(ctx context.Context, tokenID string) error
}

// LiquidatorConfig tunes the fill loop.
type LiquidatorConfig struct {
	MaxRetries    int           // consecutive failed fills before giving up
	RetryBackoff  time.Duration // sleep between failed fills
	DustThreshold float64       // positions at or below this size are not sellable
	BulkSellDelay time.Duration // pause between positions in a close-all run
}

// CloseAllHooks observe a close-all run. Nil hooks are skipped.
type CloseAllHooks struct {
	OnInit     func(total int)
	OnClosing  func(pos models.Position)
	OnClosed   func(pos models.Position, result models.LiquidationResult)
	OnComplete func(summary models.CloseAllSummary)
}

// Liquidator sells positions into the order book with Fill-Or-Kill orders,
// walking the best bid level by level until the requested size is gone or
// the retry budget runs out.
type Liquidator struct {
	positions PositionSource
	books     BookReader
	orders    OrderPlacer
	gate      *Gate
	cfg       LiquidatorConfig
	wallet    string
	log       *zap.Logger

	// sleep is swapped out in tests
	sleep func(ctx context.Context, d time.Duration)
}

func NewLiquidator(positions PositionSource, books BookReader, orders OrderPlacer, gate *Gate, wallet string, cfg LiquidatorConfig, log *zap.Logger) *Liquidator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Liquidator{
		positions: positions,
		books:     books,
		orders:    orders,
		gate:      gate,
		cfg:       cfg,
		wallet:    wallet,
		log:       log.Named("liquidator"),
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// ClosePosition sells percent (0 <= percent <= 100) of the wallet's holding
// in asset. A zero percent is valid input and fails BelowMinimum like any
// other sub-dust request. Partial fills count as success when anything sold;
// the result always satisfies Sold + Remaining == requested size.
func (l *Liquidator) ClosePosition(ctx context.Context, asset string, percent float64) (models.LiquidationResult, error) {
	if l.gate != nil && l.gate.Paused() {
		return models.LiquidationResult{Error: models.ErrPaused.Error()}, models.ErrPaused
	}
	if percent < 0 || percent > 100 {
		err := fmt.Errorf("%w: percent %.2f out of range [0, 100]", models.ErrInvalidArgument, percent)
		return models.LiquidationResult{Error: err.Error()}, err
	}

	positions, err := l.positions.GetPositions(ctx, l.wallet)
	if err != nil {
		return models.LiquidationResult{Error: err.Error()}, fmt.Errorf("fetch positions: %w", err)
	}

	var pos *models.Position
	for i := range positions {
		if positions[i].Asset == asset {
			pos = &positions[i]
			break
		}
	}
	if pos == nil {
		err := fmt.Errorf("%w: asset %s", models.ErrNotFound, asset)
		return models.LiquidationResult{Error: err.Error()}, err
	}

	requested := pos.Size * percent / 100
	if requested <= l.cfg.DustThreshold {
		err := fmt.Errorf("%w: %.4f tokens", models.ErrBelowMinimum, requested)
		return models.LiquidationResult{Remaining: requested, Error: err.Error()}, err
	}

	result, err := l.sellIntoBook(ctx, *pos, requested)
	if result.Sold > 0 {
		l.positions.InvalidatePositions(l.wallet)
	}
	return result, err
}

// sellIntoBook walks the book selling FOK chunks at the best bid. A failed
// fill burns one retry; a successful fill resets the counter. Sold and
// Remaining stay complementary through every iteration.
func (l *Liquidator) sellIntoBook(ctx context.Context, pos models.Position, requested float64) (models.LiquidationResult, error) {
	// Exchange must see our current token balance before selling.
	if err := l.orders.UpdateBalanceAllowance(ctx, pos.Asset); err != nil {
		l.log.Warn("balance refresh failed, selling anyway", zap.Error(err))
	}

	result := models.LiquidationResult{Remaining: requested}
	retries := 0

	for result.Remaining > l.cfg.DustThreshold {
		if err := ctx.Err(); err != nil {
			result.Error = err.Error()
			return result, err
		}

		book, err := l.books.GetOrderBook(ctx, pos.Asset)
		if err != nil {
			retries++
			if retries >= l.cfg.MaxRetries {
				return l.finishExhausted(result)
			}
			l.sleep(ctx, l.cfg.RetryBackoff)
			continue
		}

		price, depth, ok := bestBid(book)
		if !ok {
			if result.Sold > 0 {
				// Book drained mid-run: partial close.
				result.Success = true
				result.Error = fmt.Sprintf("remaining %.4f tokens: %v", result.Remaining, models.ErrNoLiquidity)
				return result, nil
			}
			err := fmt.Errorf("%w: no bids for %s", models.ErrNoLiquidity, pos.Asset)
			result.Error = err.Error()
			return result, err
		}

		chunk := result.Remaining
		if depth < chunk {
			chunk = depth
		}

		if err := l.orders.SellFOK(ctx, pos.Asset, chunk, price, false); err != nil {
			var oe *api.OrderError
			if errors.As(err, &oe) {
				l.log.Warn("fill failed",
					zap.String("kind", string(oe.Kind)),
					zap.Float64("chunk", chunk),
					zap.Float64("price", price))
			}
			retries++
			if retries >= l.cfg.MaxRetries {
				return l.finishExhausted(result)
			}
			l.sleep(ctx, l.cfg.RetryBackoff)
			continue
		}

		result.Sold += chunk
		result.Remaining -= chunk
		result.Proceeds += chunk * price
		retries = 0

		l.log.Info("chunk sold",
			zap.String("title", pos.Title),
			zap.Float64("size", chunk),
			zap.Float64("price", price),
			zap.Float64("remaining", result.Remaining))
	}

	// Sub-dust residue counts as fully closed.
	result.Success = true
	return result, nil
}

func (l *Liquidator) finishExhausted(result models.LiquidationResult) (models.LiquidationResult, error) {
	err := fmt.Errorf("remaining %.4f tokens: %w", result.Remaining, models.ErrRetriesExhausted)
	result.Error = err.Error()
	if result.Sold > 0 {
		result.Success = true
		return result, nil
	}
	return result, err
}

// bestBid returns the highest bid price and its depth. The book is sorted
// best first; a linear scan keeps this correct even for an unsorted book,
// with the first of equal-price levels winning.
func bestBid(book *models.OrderBook) (price, size float64, ok bool) {
	for _, level := range book.Bids {
		p, err := strconv.ParseFloat(level.Price, 64)
		if err != nil {
			continue
		}
		s, err := strconv.ParseFloat(level.Size, 64)
		if err != nil || s <= 0 {
			continue
		}
		if !ok || p > price {
			price = p
			size = s
			ok = true
		}
	}
	return price, size, ok
}

// CloseAll liquidates every sellable position in sequence, pausing between
// positions so the exchange is not hammered. Resolved positions are skipped;
// redemption handles those.
func (l *Liquidator) CloseAll(ctx context.Context, hooks CloseAllHooks) (models.CloseAllSummary, error) {
	if l.gate != nil && l.gate.Paused() {
		return models.CloseAllSummary{}, models.ErrPaused
	}

	positions, err := l.positions.GetPositions(ctx, l.wallet)
	if err != nil {
		return models.CloseAllSummary{}, fmt.Errorf("fetch positions: %w", err)
	}

	var sellable []models.Position
	for _, pos := range positions {
		if pos.Size > l.cfg.DustThreshold && !pos.Redeemable {
			sellable = append(sellable, pos)
		}
	}

	if hooks.OnInit != nil {
		hooks.OnInit(len(sellable))
	}

	var summary models.CloseAllSummary
	for i, pos := range sellable {
		if i > 0 {
			l.sleep(ctx, l.cfg.BulkSellDelay)
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		if hooks.OnClosing != nil {
			hooks.OnClosing(pos)
		}

		result, err := l.sellIntoBook(ctx, pos, pos.Size)
		if result.Success {
			summary.Closed++
			summary.Proceeds += result.Proceeds
		} else {
			summary.Failed++
			l.log.Warn("close failed",
				zap.String("title", pos.Title),
				zap.Error(err))
		}

		if hooks.OnClosed != nil {
			hooks.OnClosed(pos, result)
		}
	}

	if summary.Closed > 0 {
		l.positions.InvalidatePositions(l.wallet)
	}
	if hooks.OnComplete != nil {
		hooks.OnComplete(summary)
	}

	l.log.Info("close-all finished",
		zap.Int("closed", summary.Closed),
		zap.Int("failed", summary.Failed),
		zap.Float64("proceeds", summary.Proceeds))
	return summary, nil
}
