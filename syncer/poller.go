package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/domwhitecode/polymarket-copy-trading-bot/models"
	"github.com/domwhitecode/polymarket-copy-trading-bot/storage"
	"github.com/domwhitecode/polymarket-copy-trading-bot/utils"
)

// Poller is the polling fallback behind the monitor. Each tick it walks the
// tracked wallets and re-emits bot-executed observations newer than the
// wallet's watermark, then advances the watermark to the newest timestamp
// seen so nothing is reported twice or skipped between cycles.
type Poller struct {
	store    storage.TradeStore
	interval time.Duration
	emit     func(models.Event)
	log      *zap.Logger

	wallets    []string
	watermarks map[string]int64
	mu         sync.Mutex

	running bool
	runMu   sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewPoller(store storage.TradeStore, interval time.Duration, emit func(models.Event), log *zap.Logger) *Poller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{
		store:      store,
		interval:   interval,
		emit:       emit,
		log:        log.Named("poller"),
		watermarks: make(map[string]int64),
	}
}

// SetWallets replaces the tracked wallet list. Watermarks for wallets that
// remain tracked are kept so a list update never replays old observations.
func (p *Poller) SetWallets(wallets []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.wallets = make([]string, 0, len(wallets))
	for _, w := range wallets {
		p.wallets = append(p.wallets, utils.NormalizeAddress(w))
	}
}

// Start begins polling. New watermarks start at the current time so only
// observations made after fallback engaged are emitted.
func (p *Poller) Start(ctx context.Context) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.running {
		return fmt.Errorf("poller already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})

	now := time.Now().Unix()
	p.mu.Lock()
	for _, w := range p.wallets {
		if _, ok := p.watermarks[w]; !ok {
			p.watermarks[w] = now
		}
	}
	p.mu.Unlock()

	p.wg.Add(1)
	go p.loop(ctx)
	p.log.Info("started", zap.Duration("interval", p.interval))
	return nil
}

// Stop halts polling. Watermarks survive so a later Start resumes where the
// last cycle left off.
func (p *Poller) Stop() {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	close(p.stopCh)
	p.wg.Wait()
	p.log.Info("stopped")
}

func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll runs one cycle over all tracked wallets. Exported for tests and for
// an eager first cycle on fallback engagement.
func (p *Poller) Poll(ctx context.Context) {
	p.mu.Lock()
	wallets := make([]string, len(p.wallets))
	copy(wallets, p.wallets)
	p.mu.Unlock()

	for _, wallet := range wallets {
		if err := p.pollWallet(ctx, wallet); err != nil {
			p.log.Warn("poll failed",
				zap.String("wallet", utils.ShortAddress(wallet)),
				zap.Error(err))
		}
	}
}

func (p *Poller) pollWallet(ctx context.Context, wallet string) error {
	// A wallet with no recorded trades has no collection to poll yet.
	exists, err := p.store.HasWallet(ctx, wallet)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	p.mu.Lock()
	watermark := p.watermarks[wallet]
	p.mu.Unlock()

	trades, err := p.store.BotTradesSince(ctx, wallet, watermark)
	if err != nil {
		return err
	}
	if len(trades) == 0 {
		return nil
	}

	maxTS := watermark
	for i := range trades {
		t := trades[i]
		if t.Timestamp > maxTS {
			maxTS = t.Timestamp
		}
		if p.emit != nil {
			p.emit(models.Event{Type: models.EventTrade, Trade: &t})
		}
	}

	p.mu.Lock()
	// Watermarks only move forward.
	if maxTS > p.watermarks[wallet] {
		p.watermarks[wallet] = maxTS
	}
	p.mu.Unlock()

	p.log.Debug("emitted observations",
		zap.String("wallet", utils.ShortAddress(wallet)),
		zap.Int("count", len(trades)),
		zap.Int64("watermark", maxTS))
	return nil
}

// Watermark reports a wallet's current watermark, for tests and status.
func (p *Poller) Watermark(wallet string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.watermarks[utils.NormalizeAddress(wallet)]
}
