package types

import (
	"encoding/json"
	"strconv"
	"time"
)

// BookMessage is one event from the market websocket channel.
// Event types: "book" (full snapshot), "price_change" (incremental best
// levels), "last_trade_price".
type BookMessage struct {
	EventType    string        `json:"event_type"`
	AssetID      string        `json:"asset_id"`
	Market       string        `json:"market"`
	Timestamp    int64         `json:"-"` // parsed from string via UnmarshalJSON
	Hash         string        `json:"hash,omitempty"`
	Bids         []PriceLevel  `json:"bids,omitempty"`
	Asks         []PriceLevel  `json:"asks,omitempty"`
	PriceChanges []PriceChange `json:"price_changes,omitempty"`
	Price        string        `json:"price,omitempty"` // last_trade_price events
	Side         string        `json:"side,omitempty"`  // last_trade_price events
}

// UnmarshalJSON handles the string-encoded millisecond timestamp.
func (b *BookMessage) UnmarshalJSON(data []byte) error {
	type Alias BookMessage
	aux := &struct {
		TimestampStr string `json:"timestamp"`
		*Alias
	}{
		Alias: (*Alias)(b),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.TimestampStr != "" {
		timestamp, err := strconv.ParseInt(aux.TimestampStr, 10, 64)
		if err != nil {
			return err
		}
		b.Timestamp = timestamp
	}

	return nil
}

// PriceLevel is a single price level as sent on the wire.
type PriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// PriceChange is one entry of a price_change event. Each entry carries the
// affected token and its new best levels.
type PriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price,omitempty"`
	Size    string `json:"size,omitempty"`
	Side    string `json:"side,omitempty"`
	Hash    string `json:"hash,omitempty"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

// BookTop is the tracked state of one token's book: current best levels in
// integer points plus the period-low extremes accumulated since the last
// cycle boundary. Zero means "not yet observed".
type BookTop struct {
	TokenID         string
	BidPoints       int
	AskPoints       int
	LastTradePoints int

	PeriodLowAskPoints int
	PeriodLowBidPoints int

	LastUpdated time.Time
}

// Valid reports whether the top is usable: positive bid strictly below a
// positive ask.
func (t *BookTop) Valid() bool {
	return t.BidPoints > 0 && t.AskPoints > 0 && t.BidPoints < t.AskPoints
}
