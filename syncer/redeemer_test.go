package syncer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/domwhitecode/polymarket-copy-trading-bot/models"
)

type fakeChain struct {
	failing map[string]error
	calls   []string
}

func (f *fakeChain) RedeemCondition(_ context.Context, conditionID string) (string, error) {
	f.calls = append(f.calls, conditionID)
	if err, ok := f.failing[conditionID]; ok {
		return "", err
	}
	return fmt.Sprintf("0xtx-%s", conditionID), nil
}

func newTestRedeemer(positions *fakePositions, chain *fakeChain) *Redeemer {
	r := NewRedeemer(positions, chain, nil, "0xwallet", RedeemerConfig{
		ZeroDustThreshold: 0.0001,
		BatchDelay:        time.Millisecond,
	}, nil)
	r.sleep = func(context.Context, time.Duration) {}
	return r
}

func resolvedPos(condition string, value float64) models.Position {
	return models.Position{
		Asset:        "tok-" + condition,
		ConditionID:  condition,
		Size:         10,
		CurPrice:     1.0,
		CurrentValue: value,
		Redeemable:   true,
	}
}

func TestGroupByCondition(t *testing.T) {
	batches := groupByCondition([]models.Position{
		resolvedPos("A", 5),
		resolvedPos("A", 7),
		resolvedPos("B", 3),
	})

	if len(batches) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(batches))
	}
	if batches[0].ConditionID != "A" || batches[1].ConditionID != "B" {
		t.Errorf("batch order %s,%s, want A,B", batches[0].ConditionID, batches[1].ConditionID)
	}
	if len(batches[0].Positions) != 2 {
		t.Errorf("batch A has %d positions, want 2", len(batches[0].Positions))
	}
	if batches[0].Value != 12 || batches[1].Value != 3 {
		t.Errorf("values %.0f/%.0f, want 12/3", batches[0].Value, batches[1].Value)
	}
}

func TestFindRedeemable(t *testing.T) {
	positions := &fakePositions{positions: []models.Position{
		{Asset: "won", ConditionID: "A", Size: 10, CurPrice: 0.995, Redeemable: true, CurrentValue: 10},
		{Asset: "lost", ConditionID: "B", Size: 5, CurPrice: 0.002, Redeemable: true, CurrentValue: 0},
		{Asset: "flaggedMidRange", ConditionID: "C", Size: 3, CurPrice: 0.5, Redeemable: true, CurrentValue: 3},
		{Asset: "pinnedUnflagged", ConditionID: "D", Size: 4, CurPrice: 0.999, CurrentValue: 4},
		{Asset: "live", ConditionID: "E", Size: 8, CurPrice: 0.42, CurrentValue: 3.36},
		{Asset: "dust", ConditionID: "F", Size: 0.00005, CurPrice: 1.0, Redeemable: true},
	}}

	r := newTestRedeemer(positions, &fakeChain{})
	summary, err := r.FindRedeemable(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// eligibility needs the venue flag, a pinned price, and real size at once
	if summary.Count != 2 {
		t.Fatalf("found %d positions, want only won and lost", summary.Count)
	}
	if summary.TotalValue != 10 {
		t.Errorf("total value %.2f, want 10", summary.TotalValue)
	}
	for _, pos := range summary.Positions {
		if pos.Asset != "won" && pos.Asset != "lost" {
			t.Errorf("position %s should not be redeemable", pos.Asset)
		}
	}
}

func TestRedeemableNeedsFlagAndPinnedPrice(t *testing.T) {
	r := newTestRedeemer(&fakePositions{}, &fakeChain{})

	tests := []struct {
		name string
		pos  models.Position
		want bool
	}{
		{"FlaggedAtOne", models.Position{Size: 10, CurPrice: 1.0, Redeemable: true}, true},
		{"FlaggedAtZero", models.Position{Size: 10, CurPrice: 0.0, Redeemable: true}, true},
		{"FlaggedAtLowerBound", models.Position{Size: 10, CurPrice: 0.99, Redeemable: true}, true},
		{"FlaggedAtUpperBound", models.Position{Size: 10, CurPrice: 0.01, Redeemable: true}, true},
		{"FlaggedMidRange", models.Position{Size: 10, CurPrice: 0.5, Redeemable: true}, false},
		{"FlaggedJustInside", models.Position{Size: 10, CurPrice: 0.985, Redeemable: true}, false},
		{"PinnedWithoutFlag", models.Position{Size: 10, CurPrice: 1.0}, false},
		{"FlaggedPinnedDust", models.Position{Size: 0.00001, CurPrice: 1.0, Redeemable: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.redeemable(tt.pos); got != tt.want {
				t.Errorf("redeemable(%+v)=%v, want %v", tt.pos, got, tt.want)
			}
		})
	}
}

func TestRedeemAllMixedOutcome(t *testing.T) {
	positions := &fakePositions{positions: []models.Position{
		resolvedPos("A", 5),
		resolvedPos("A", 7),
		resolvedPos("B", 3),
	}}
	chain := &fakeChain{failing: map[string]error{
		"A": fmt.Errorf("execution: %w", models.ErrReverted),
	}}

	r := newTestRedeemer(positions, chain)
	summary, err := r.RedeemAll(context.Background(), RedeemHooks{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.Redeemed != 1 || summary.Failed != 1 {
		t.Errorf("redeemed=%d failed=%d, want 1/1", summary.Redeemed, summary.Failed)
	}
	if !summary.Success {
		t.Error("one batch landed, run counts as success")
	}
	if summary.TotalValue != 3 {
		t.Errorf("total value %.2f, want only B's 3", summary.TotalValue)
	}

	if summary.Batches[0].Status != models.BatchFailed || summary.Batches[0].Error == "" {
		t.Errorf("batch A %+v, want failed with error", summary.Batches[0])
	}
	if summary.Batches[1].Status != models.BatchSucceeded || summary.Batches[1].TxHash == "" {
		t.Errorf("batch B %+v, want succeeded with tx hash", summary.Batches[1])
	}
	if positions.invalidated != 1 {
		t.Errorf("positions cache invalidated %d times, want 1", positions.invalidated)
	}
}

func TestRedeemAllEveryBatchFails(t *testing.T) {
	positions := &fakePositions{positions: []models.Position{resolvedPos("A", 5)}}
	chain := &fakeChain{failing: map[string]error{"A": models.ErrFeeUnavailable}}

	r := newTestRedeemer(positions, chain)
	summary, err := r.RedeemAll(context.Background(), RedeemHooks{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Success {
		t.Error("all batches failed, run must not be a success")
	}
	if positions.invalidated != 0 {
		t.Error("nothing redeemed, cache should stay")
	}
}

func TestRedeemAllNothingToDo(t *testing.T) {
	positions := &fakePositions{positions: []models.Position{
		{Asset: "live", ConditionID: "D", Size: 8, CurPrice: 0.42},
	}}
	chain := &fakeChain{}

	r := newTestRedeemer(positions, chain)
	summary, err := r.RedeemAll(context.Background(), RedeemHooks{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !summary.Success {
		t.Error("empty run is a success")
	}
	if len(chain.calls) != 0 {
		t.Errorf("chain called %d times, want 0", len(chain.calls))
	}
}

func TestRedeemAllPaused(t *testing.T) {
	gate := NewGate()
	gate.Pause()

	r := NewRedeemer(&fakePositions{}, &fakeChain{}, gate, "0xwallet", RedeemerConfig{}, nil)
	if _, err := r.RedeemAll(context.Background(), RedeemHooks{}); !errors.Is(err, models.ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", err)
	}
}

func TestRedeemAllHooks(t *testing.T) {
	positions := &fakePositions{positions: []models.Position{
		resolvedPos("A", 5),
		resolvedPos("B", 3),
	}}

	var discovered int
	var started, done []string
	r := newTestRedeemer(positions, &fakeChain{})
	_, err := r.RedeemAll(context.Background(), RedeemHooks{
		OnDiscovered: func(s models.RedeemableSummary) { discovered = s.Count },
		OnBatchStart: func(b models.RedemptionBatch) { started = append(started, b.ConditionID) },
		OnBatchDone:  func(b models.RedemptionBatch) { done = append(done, b.ConditionID) },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if discovered != 2 {
		t.Errorf("discovered %d, want 2", discovered)
	}
	if len(started) != 2 || len(done) != 2 {
		t.Errorf("hooks saw start=%v done=%v, want both A,B", started, done)
	}
}
