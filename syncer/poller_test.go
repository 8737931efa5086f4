package syncer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/domwhitecode/polymarket-copy-trading-bot/models"
	"github.com/domwhitecode/polymarket-copy-trading-bot/storage"
)

type eventSink struct {
	mu     sync.Mutex
	events []models.Event
}

func (s *eventSink) emit(ev models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *eventSink) trades() []models.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Trade
	for _, ev := range s.events {
		if ev.Trade != nil {
			out = append(out, *ev.Trade)
		}
	}
	return out
}

func seedTrade(t *testing.T, store *storage.MockStore, tx, wallet string, ts int64, bot bool) {
	t.Helper()
	inserted, err := store.SaveTradeIfNew(context.Background(), models.Trade{
		TransactionHash: tx,
		Wallet:          wallet,
		Side:            "SELL",
		Size:            10,
		Price:           0.5,
		Timestamp:       ts,
		Bot:             bot,
	})
	if err != nil || !inserted {
		t.Fatalf("seed %s: inserted=%v err=%v", tx, inserted, err)
	}
}

func TestPollerEmitsBotTradesOnce(t *testing.T) {
	store := storage.NewMockStore()
	seedTrade(t, store, "0x1", "0xabc", 100, true)
	seedTrade(t, store, "0x2", "0xabc", 110, false)
	seedTrade(t, store, "0x3", "0xabc", 120, true)

	sink := &eventSink{}
	p := NewPoller(store, time.Second, sink.emit, nil)
	p.SetWallets([]string{"0xABC"})

	p.Poll(context.Background())

	trades := sink.trades()
	if len(trades) != 2 {
		t.Fatalf("emitted %d trades, want 2 bot trades", len(trades))
	}
	if trades[0].TransactionHash != "0x1" || trades[1].TransactionHash != "0x3" {
		t.Errorf("emitted %s,%s, want 0x1,0x3 oldest first",
			trades[0].TransactionHash, trades[1].TransactionHash)
	}
	if wm := p.Watermark("0xabc"); wm != 120 {
		t.Errorf("watermark=%d, want 120", wm)
	}

	// second cycle with nothing new stays quiet
	p.Poll(context.Background())
	if len(sink.trades()) != 2 {
		t.Error("trades re-emitted on an idle cycle")
	}

	// a newer bot trade comes through exactly once
	seedTrade(t, store, "0x4", "0xabc", 130, true)
	p.Poll(context.Background())
	p.Poll(context.Background())

	trades = sink.trades()
	if len(trades) != 3 || trades[2].TransactionHash != "0x4" {
		t.Errorf("emitted %d trades, want the new one exactly once", len(trades))
	}
	if wm := p.Watermark("0xabc"); wm != 130 {
		t.Errorf("watermark=%d, want 130", wm)
	}
}

func TestPollerSkipsUnknownWallets(t *testing.T) {
	store := storage.NewMockStore()
	sink := &eventSink{}

	p := NewPoller(store, time.Second, sink.emit, nil)
	p.SetWallets([]string{"0xnobody"})

	p.Poll(context.Background())
	if len(sink.trades()) != 0 {
		t.Errorf("emitted %d trades for an unknown wallet, want 0", len(sink.trades()))
	}
	if wm := p.Watermark("0xnobody"); wm != 0 {
		t.Errorf("watermark=%d for an unknown wallet, want 0", wm)
	}
}

func TestPollerStartStop(t *testing.T) {
	store := storage.NewMockStore()
	sink := &eventSink{}

	p := NewPoller(store, 5*time.Millisecond, sink.emit, nil)
	p.SetWallets([]string{"0xabc"})

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := p.Start(ctx); err == nil {
		t.Error("second start should be refused")
	}

	// fresh watermarks begin at engagement time, not zero
	if wm := p.Watermark("0xabc"); wm == 0 {
		t.Error("watermark should be initialized on start")
	}

	p.Stop()
	p.Stop() // idempotent

	// watermarks survive the stop so a later start does not replay
	wm := p.Watermark("0xabc")
	if err := p.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer p.Stop()
	if p.Watermark("0xabc") != wm {
		t.Error("watermark reset across restart")
	}
}

func TestPollerSetWalletsKeepsWatermarks(t *testing.T) {
	store := storage.NewMockStore()
	seedTrade(t, store, "0x1", "0xabc", 100, true)

	sink := &eventSink{}
	p := NewPoller(store, time.Second, sink.emit, nil)
	p.SetWallets([]string{"0xabc"})
	p.Poll(context.Background())

	if wm := p.Watermark("0xabc"); wm != 100 {
		t.Fatalf("watermark=%d, want 100", wm)
	}

	p.SetWallets([]string{"0xabc", "0xdef"})
	p.Poll(context.Background())

	if wm := p.Watermark("0xabc"); wm != 100 {
		t.Errorf("watermark=%d after list update, want 100", wm)
	}
	if len(sink.trades()) != 1 {
		t.Errorf("emitted %d trades, old observation replayed", len(sink.trades()))
	}
}
