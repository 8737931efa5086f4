package models

// OrderBookLevel is one price level on the CLOB. Prices and sizes arrive as
// decimal strings and are parsed at the point of use.
type OrderBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// OrderBook is the CLOB book snapshot for one token. Bids are sorted best
// (highest) first, asks best (lowest) first after normalization.
type OrderBook struct {
	Market    string           `json:"market"`
	AssetID   string           `json:"asset_id"`
	Bids      []OrderBookLevel `json:"bids"`
	Asks      []OrderBookLevel `json:"asks"`
	Timestamp string           `json:"timestamp"`
}
