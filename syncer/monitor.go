package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/domwhitecode/polymarket-copy-trading-bot/api"
	"github.com/domwhitecode/polymarket-copy-trading-bot/models"
	"github.com/domwhitecode/polymarket-copy-trading-bot/storage"
)

// Feed is the live trade stream the monitor drives. One Connect call yields
// one connection; the monitor owns the reconnect policy.
type Feed interface {
	SetHandlers(onTrade api.TradeHandler, onStatus api.StatusHandler)
	Watch(wallets []string)
	Connect(ctx context.Context) error
	Disconnect()
	Close()
}

// MonitorConfig tunes reconnection and trade freshness.
type MonitorConfig struct {
	ReconnectBase        time.Duration // first retry delay, doubled per attempt
	MaxReconnectAttempts int           // failed attempts before fallback latches
	Freshness            time.Duration // trades older than this are dropped
}

// MonitorStatus is a snapshot of the connection state for the status API.
type MonitorStatus struct {
	State    string `json:"state"`
	Attempts int    `json:"attempts"`
	Fallback bool   `json:"fallback"`
}

// Monitor watches tracked wallets on the live feed, dedupes observed trades
// through the store, and fans fresh ones out to in-process subscribers.
// When the feed cannot be re-established within the attempt budget the
// monitor latches into fallback and announces it exactly once; from there
// polling carries the stream until an operator resets the monitor.
type Monitor struct {
	feed  Feed
	store storage.TradeStore
	cfg   MonitorConfig
	log   *zap.Logger

	fsm     *connFSM
	dropCh  chan struct{}
	resetCh chan struct{}

	subscribers []chan models.Event
	subMu       sync.Mutex

	// fallback lifecycle callbacks, e.g. starting and stopping the poller
	onFallbackStart func()
	onFallbackEnd   func()

	running bool
	runMu   sync.Mutex
	wg      sync.WaitGroup

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

func NewMonitor(feed Feed, store storage.TradeStore, cfg MonitorConfig, log *zap.Logger) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Monitor{
		feed:    feed,
		store:   store,
		cfg:     cfg,
		log:     log.Named("monitor"),
		fsm:     newConnFSM(),
		dropCh:  make(chan struct{}, 1),
		resetCh: make(chan struct{}, 1),
		now:     time.Now,
		sleep:   sleepCtx,
	}
	feed.SetHandlers(m.handleTrade, m.handleStatus)
	return m
}

// SetFallbackHooks installs callbacks fired when fallback engages and when
// it is reset. Must be called before Start.
func (m *Monitor) SetFallbackHooks(onStart, onEnd func()) {
	m.onFallbackStart = onStart
	m.onFallbackEnd = onEnd
}

// Watch forwards the tracked wallet set to the feed.
func (m *Monitor) Watch(wallets []string) {
	m.feed.Watch(wallets)
}

// Subscribe returns a channel of monitor events. Slow subscribers lose
// events rather than block the feed.
func (m *Monitor) Subscribe() <-chan models.Event {
	ch := make(chan models.Event, 64)
	m.subMu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.subMu.Unlock()
	return ch
}

func (m *Monitor) publish(ev models.Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Status reports the connection state for the status endpoint.
func (m *Monitor) Status() MonitorStatus {
	state := m.fsm.State()
	return MonitorStatus{
		State:    state.String(),
		Attempts: m.fsm.Attempts(),
		Fallback: state == StateFallbackActive,
	}
}

// Start launches the connection loop.
func (m *Monitor) Start(ctx context.Context) error {
	m.runMu.Lock()
	if m.running {
		m.runMu.Unlock()
		return fmt.Errorf("monitor already running")
	}
	m.running = true
	m.runMu.Unlock()

	m.wg.Add(1)
	go m.run(ctx)
	m.log.Info("started")
	return nil
}

// Stop shuts the monitor and its feed down.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	if !m.running {
		m.runMu.Unlock()
		return
	}
	m.running = false
	m.runMu.Unlock()

	m.feed.Close()
	m.wg.Wait()
	m.log.Info("stopped")
}

// ResetFallback clears the fallback latch so the connection loop resumes
// dialing. No-op unless fallback is active.
func (m *Monitor) ResetFallback() bool {
	if m.fsm.State() != StateFallbackActive {
		return false
	}
	m.fsm.Reset()
	if m.onFallbackEnd != nil {
		m.onFallbackEnd()
	}
	select {
	case m.resetCh <- struct{}{}:
	default:
	}
	m.log.Info("fallback reset, resuming reconnection")
	return true
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		if m.fsm.State() == StateFallbackActive {
			select {
			case <-ctx.Done():
				return
			case <-m.resetCh:
			}
			continue
		}

		if !m.fsm.ToConnecting() {
			continue
		}

		if err := m.feed.Connect(ctx); err != nil {
			prev := m.fsm.Attempts()
			if m.fsm.FailAttempt(m.cfg.MaxReconnectAttempts) {
				m.enterFallback()
				continue
			}
			delay := m.cfg.ReconnectBase << uint(prev)
			m.log.Warn("connect failed",
				zap.Int("attempt", prev+1),
				zap.Duration("retryIn", delay),
				zap.Error(err))
			m.sleep(ctx, delay)
			continue
		}

		m.fsm.ToConnected()
		m.log.Info("feed connected")

		// Hold here until the feed drops or we shut down.
		select {
		case <-ctx.Done():
			return
		case <-m.dropCh:
		}

		m.fsm.ToDisconnected()
		m.feed.Disconnect()
	}
}

func (m *Monitor) enterFallback() {
	m.log.Warn("reconnect budget exhausted, switching to polling",
		zap.Int("attempts", m.cfg.MaxReconnectAttempts))
	if m.onFallbackStart != nil {
		m.onFallbackStart()
	}
	m.publish(models.Event{Type: models.EventFallback})
}

func (m *Monitor) handleStatus(connected bool) {
	if connected {
		return
	}
	select {
	case m.dropCh <- struct{}{}:
	default:
	}
}

// handleTrade records each observed fill and republishes the ones not seen
// before. Stale trades, replayed by the feed after a reconnect, are dropped
// by the freshness cutoff before they hit the store.
func (m *Monitor) handleTrade(trade models.Trade) {
	cutoff := m.now().Add(-m.cfg.Freshness).Unix()
	if trade.Timestamp < cutoff {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	inserted, err := m.store.SaveTradeIfNew(ctx, trade)
	if err != nil {
		m.log.Error("save trade failed",
			zap.String("tx", trade.TransactionHash),
			zap.Error(err))
		return
	}
	if !inserted {
		return
	}

	m.log.Info("trade observed",
		zap.String("wallet", trade.Wallet),
		zap.String("side", trade.Side),
		zap.Float64("size", trade.Size),
		zap.Float64("price", trade.Price),
		zap.String("title", trade.Title))

	t := trade
	m.publish(models.Event{Type: models.EventTrade, Trade: &t})
}
