package exchange

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// APIError is a rejection from the exchange REST API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange api error (status %d): %s", e.Status, e.Message)
}

// ProductInfo describes one tradable pair from the product listing.
type ProductInfo struct {
	ID             string          `json:"id"`
	BaseCurrency   string          `json:"base_currency"`
	QuoteCurrency  string          `json:"quote_currency"`
	BaseMinSize    decimal.Decimal `json:"base_min_size"`
	BaseMaxSize    decimal.Decimal `json:"base_max_size"`
	QuoteIncrement decimal.Decimal `json:"quote_increment"`
	Status         string          `json:"status"`
}

// CurrencyInfo describes one listed currency and the smallest amount of it
// the exchange will handle.
type CurrencyInfo struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	MinSize decimal.Decimal `json:"min_size"`
}

// SnapshotEntry is one resting order from a level-3 book snapshot, which
// the API serves as a [price, size, order_id] array.
type SnapshotEntry struct {
	Price   decimal.Decimal
	Size    decimal.Decimal
	OrderID string
}

func (e *SnapshotEntry) UnmarshalJSON(data []byte) error {
	var row [3]json.RawMessage
	if err := json.Unmarshal(data, &row); err != nil {
		return fmt.Errorf("failed to decode snapshot entry: %w", err)
	}
	if err := json.Unmarshal(row[0], &e.Price); err != nil {
		return fmt.Errorf("failed to decode snapshot price: %w", err)
	}
	if err := json.Unmarshal(row[1], &e.Size); err != nil {
		return fmt.Errorf("failed to decode snapshot size: %w", err)
	}
	if err := json.Unmarshal(row[2], &e.OrderID); err != nil {
		return fmt.Errorf("failed to decode snapshot order id: %w", err)
	}
	return nil
}

// BookSnapshot is a full level-3 book at one sequence number.
type BookSnapshot struct {
	Sequence int64           `json:"sequence"`
	Bids     []SnapshotEntry `json:"bids"`
	Asks     []SnapshotEntry `json:"asks"`
}

// Trade is one public fill from the trade tape.
type Trade struct {
	TradeID int64           `json:"trade_id"`
	Price   decimal.Decimal `json:"price"`
	Size    decimal.Decimal `json:"size"`
	Side    string          `json:"side"`
	Time    time.Time       `json:"time"`
}

// Account is one currency balance on the trading profile.
type Account struct {
	ID        string          `json:"id"`
	Currency  string          `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	Hold      decimal.Decimal `json:"hold"`
	Available decimal.Decimal `json:"available"`
	ProfileID string          `json:"profile_id"`
}

// OrderRequest is a new limit order. Orders are always post only so a
// crossing price is rejected instead of taking liquidity.
type OrderRequest struct {
	ClientOID   string `json:"client_oid,omitempty"`
	ProductID   string `json:"product_id"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	Price       string `json:"price"`
	Size        string `json:"size"`
	TimeInForce string `json:"time_in_force,omitempty"`
	PostOnly    bool   `json:"post_only"`
}

// OrderResponse is the exchange's view of an order, returned on placement
// and from the open-order listing.
type OrderResponse struct {
	ID            string          `json:"id"`
	ClientOID     string          `json:"client_oid"`
	ProductID     string          `json:"product_id"`
	Side          string          `json:"side"`
	Type          string          `json:"type"`
	Price         decimal.Decimal `json:"price"`
	Size          decimal.Decimal `json:"size"`
	FilledSize    decimal.Decimal `json:"filled_size"`
	TimeInForce   string          `json:"time_in_force"`
	PostOnly      bool            `json:"post_only"`
	CreatedAt     time.Time       `json:"created_at"`
	Status        string          `json:"status"`
	RejectReason  string          `json:"reject_reason"`
	Settled       bool            `json:"settled"`
	StatusMessage string          `json:"message"`
}
