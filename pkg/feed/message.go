package feed

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is one event from the exchange full channel. Numeric fields stay
// strings until a consumer decides how much precision it needs.
type Message struct {
	Type          string `json:"type"`
	ProductID     string `json:"product_id"`
	Sequence      int64  `json:"sequence"`
	Time          string `json:"time"`
	OrderID       string `json:"order_id"`
	ClientOID     string `json:"client_oid"`
	Side          string `json:"side"`
	Price         string `json:"price"`
	Size          string `json:"size"`
	RemainingSize string `json:"remaining_size"`
	OldSize       string `json:"old_size"`
	NewSize       string `json:"new_size"`
	OldFunds      string `json:"old_funds"`
	NewFunds      string `json:"new_funds"`
	Funds         string `json:"funds"`
	Reason        string `json:"reason"`
	MakerOrderID  string `json:"maker_order_id"`
	TakerOrderID  string `json:"taker_order_id"`
	TradeID       int64  `json:"trade_id"`
	Message       string `json:"message"`
}

// Parse decodes one raw frame from the feed.
func Parse(raw []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to decode feed frame: %w", err)
	}
	return &m, nil
}

// EventTime parses the message timestamp. Returns ok=false when the feed
// omitted it or sent something unparseable.
func (m *Message) EventTime() (time.Time, bool) {
	if m.Time == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, m.Time)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// RefersTo returns the resting order id the event is about. Match events
// carry it as the maker id.
func (m *Message) RefersTo() (string, bool) {
	if m.OrderID != "" {
		return m.OrderID, true
	}
	if m.MakerOrderID != "" {
		return m.MakerOrderID, true
	}
	return "", false
}
