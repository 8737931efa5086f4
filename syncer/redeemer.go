package syncer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/domwhitecode/polymarket-copy-trading-bot/models"
)

// ConditionRedeemer settles a resolved condition on-chain and returns the
// transaction hash.
type ConditionRedeemer interface {
	RedeemCondition(ctx context.Context, conditionID string) (string, error)
}

// RedeemerConfig tunes the redemption engine.
type RedeemerConfig struct {
	ZeroDustThreshold float64       // positions at or below this size are ignored
	BatchDelay        time.Duration // pause between on-chain batches
}

// RedeemHooks observe a redeem-all run. Nil hooks are skipped.
type RedeemHooks struct {
	OnDiscovered func(summary models.RedeemableSummary)
	OnBatchStart func(batch models.RedemptionBatch)
	OnBatchDone  func(batch models.RedemptionBatch)
}

// Redeemer converts resolved outcome tokens back into USDC. Positions
// sharing a condition settle in one transaction, so batches are grouped by
// condition ID before anything goes on-chain.
type Redeemer struct {
	positions PositionSource
	chain     ConditionRedeemer
	gate      *Gate
	cfg       RedeemerConfig
	wallet    string
	log       *zap.Logger

	sleep func(ctx context.Context, d time.Duration)
}

func NewRedeemer(positions PositionSource, chain ConditionRedeemer, gate *Gate, wallet string, cfg RedeemerConfig, log *zap.Logger) *Redeemer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Redeemer{
		positions: positions,
		chain:     chain,
		gate:      gate,
		cfg:       cfg,
		wallet:    wallet,
		log:       log.Named("redeemer"),
		sleep:     sleepCtx,
	}
}

// redeemable reports whether a position can be redeemed: the venue must flag
// it, its price must be pinned near 0 or 1, and it must be more than dust.
// The flag alone is not enough; a flagged position still trading mid-range is
// not settled yet.
func (r *Redeemer) redeemable(pos models.Position) bool {
	if pos.Size <= r.cfg.ZeroDustThreshold {
		return false
	}
	if !pos.Redeemable {
		return false
	}
	return pos.CurPrice >= 0.99 || pos.CurPrice <= 0.01
}

// FindRedeemable lists resolved positions for the wallet. Winning positions
// carry their full value; losing ones redeem for zero but still free the
// token balance.
func (r *Redeemer) FindRedeemable(ctx context.Context) (models.RedeemableSummary, error) {
	positions, err := r.positions.GetPositions(ctx, r.wallet)
	if err != nil {
		return models.RedeemableSummary{}, fmt.Errorf("fetch positions: %w", err)
	}

	var summary models.RedeemableSummary
	for _, pos := range positions {
		if !r.redeemable(pos) {
			continue
		}
		summary.Positions = append(summary.Positions, pos)
		summary.Count++
		summary.TotalValue += pos.CurrentValue
	}
	return summary, nil
}

// groupByCondition batches positions sharing a condition ID, preserving the
// order conditions first appear.
func groupByCondition(positions []models.Position) []models.RedemptionBatch {
	index := make(map[string]int)
	var batches []models.RedemptionBatch

	for _, pos := range positions {
		i, seen := index[pos.ConditionID]
		if !seen {
			index[pos.ConditionID] = len(batches)
			batches = append(batches, models.RedemptionBatch{
				ConditionID: pos.ConditionID,
				Status:      models.BatchPending,
			})
			i = len(batches) - 1
		}
		batches[i].Positions = append(batches[i].Positions, pos)
		batches[i].Value += pos.CurrentValue
	}
	return batches
}

// RedeemAll discovers resolved positions, batches them by condition, and
// settles each batch on-chain with a delay in between. Success means
// something redeemed or nothing failed; a run where every batch reverts is a
// failure even though the positions remain intact.
func (r *Redeemer) RedeemAll(ctx context.Context, hooks RedeemHooks) (models.RedeemAllSummary, error) {
	if r.gate != nil && r.gate.Paused() {
		return models.RedeemAllSummary{}, models.ErrPaused
	}

	discovered, err := r.FindRedeemable(ctx)
	if err != nil {
		return models.RedeemAllSummary{}, err
	}
	if hooks.OnDiscovered != nil {
		hooks.OnDiscovered(discovered)
	}

	summary := models.RedeemAllSummary{
		Batches: groupByCondition(discovered.Positions),
	}
	if len(summary.Batches) == 0 {
		summary.Success = true
		return summary, nil
	}

	r.log.Info("redeeming resolved positions",
		zap.Int("positions", discovered.Count),
		zap.Int("batches", len(summary.Batches)),
		zap.Float64("value", discovered.TotalValue))

	for i := range summary.Batches {
		if i > 0 {
			r.sleep(ctx, r.cfg.BatchDelay)
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		batch := &summary.Batches[i]
		if hooks.OnBatchStart != nil {
			hooks.OnBatchStart(*batch)
		}

		txHash, err := r.chain.RedeemCondition(ctx, batch.ConditionID)
		batch.TxHash = txHash
		if err != nil {
			batch.Status = models.BatchFailed
			batch.Error = err.Error()
			summary.Failed++
			r.log.Warn("batch failed",
				zap.String("condition", batch.ConditionID),
				zap.Error(err))
		} else {
			batch.Status = models.BatchSucceeded
			summary.Redeemed++
			summary.TotalValue += batch.Value
			r.log.Info("batch redeemed",
				zap.String("condition", batch.ConditionID),
				zap.String("tx", txHash),
				zap.Float64("value", batch.Value))
		}

		if hooks.OnBatchDone != nil {
			hooks.OnBatchDone(*batch)
		}
	}

	summary.Success = summary.Redeemed > 0 || summary.Failed == 0
	if summary.Redeemed > 0 {
		r.positions.InvalidatePositions(r.wallet)
	}
	return summary, nil
}
