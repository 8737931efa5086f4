package models

// LiquidationResult reports one position liquidation. Sold + Remaining equals
// the requested sell size at every step of the fill loop, so a partial fill
// is fully accounted for.
type LiquidationResult struct {
	Success   bool    `json:"success"`
	Sold      float64 `json:"sold"`
	Remaining float64 `json:"remaining"`
	Proceeds  float64 `json:"proceeds"`
	Error     string  `json:"error,omitempty"`
}

// CloseAllSummary aggregates a sequential close-all run.
type CloseAllSummary struct {
	Closed   int     `json:"closed"`
	Failed   int     `json:"failed"`
	Proceeds float64 `json:"proceeds"`
}

// BatchStatus is the outcome of one redemption batch.
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchSucceeded BatchStatus = "succeeded"
	BatchFailed    BatchStatus = "failed"
)

// RedemptionBatch groups redeemable positions sharing a condition ID. All
// members settle through the same on-chain call, so the batch is attempted
// with the first member as payload and reports the aggregate value.
type RedemptionBatch struct {
	ConditionID string      `json:"conditionId"`
	Positions   []Position  `json:"positions"`
	Value       float64     `json:"value"`
	Status      BatchStatus `json:"status"`
	TxHash      string      `json:"txHash,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// RedeemableSummary lists positions eligible for redemption.
type RedeemableSummary struct {
	Positions  []Position `json:"positions"`
	Count      int        `json:"count"`
	TotalValue float64    `json:"totalValue"`
}

// RedeemAllSummary reports a full redemption run. Success is false only when
// every attempted batch failed.
type RedeemAllSummary struct {
	Success    bool              `json:"success"`
	Redeemed   int               `json:"redeemed"`
	Failed     int               `json:"failed"`
	TotalValue float64           `json:"totalValue"`
	Batches    []RedemptionBatch `json:"batches"`
}
