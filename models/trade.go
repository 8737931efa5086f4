package models

// Trade is a single observed fill for a tracked wallet. The transaction hash
// is the identity key: a trade is inserted once and never updated.
type Trade struct {
	TransactionHash string  `json:"transactionHash"`
	Wallet          string  `json:"wallet"` // normalized (lowercase) proxy wallet
	Asset           string  `json:"asset"`
	Side            string  `json:"side"` // BUY or SELL
	Size            float64 `json:"size"`
	Price           float64 `json:"price"`
	UsdcSize        float64 `json:"usdcSize"` // size * price
	Timestamp       int64   `json:"timestamp"` // unix seconds
	Title           string  `json:"title"`
	Outcome         string  `json:"outcome"`
	Slug            string  `json:"slug"`
	Bot             bool    `json:"bot"` // executed by this bot (vs. observed from a tracked wallet)
}

// EventType tags events on the monitor's local stream.
type EventType string

const (
	EventTrade    EventType = "trade"
	EventFallback EventType = "fallback"
)

// Event is what in-process subscribers receive from the monitor and the
// polling fallback. Trade is nil for EventFallback.
type Event struct {
	Type  EventType `json:"type"`
	Trade *Trade    `json:"trade,omitempty"`
}
