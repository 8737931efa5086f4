package models

// Position is one outcome-token holding as reported by the Data API.
// Positions are fetched fresh for every liquidation/redemption pass and are
// never stored, so the struct mirrors the wire format directly.
type Position struct {
	Asset        string  `json:"asset"`        // CLOB token ID (decimal string)
	ConditionID  string  `json:"conditionId"`  // settlement condition (0x-prefixed bytes32)
	Size         float64 `json:"size"`         // token units held
	AvgPrice     float64 `json:"avgPrice"`     // average entry price
	CurrentValue float64 `json:"currentValue"` // size * curPrice, USDC
	CurPrice     float64 `json:"curPrice"`
	Title        string  `json:"title"`
	Outcome      string  `json:"outcome"`
	Slug         string  `json:"slug"`
	Redeemable   bool    `json:"redeemable"`
}
