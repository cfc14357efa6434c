package market

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Order is one book event or own resting order. Size and Price are exact
// decimals; a zero Price on a remove event means the feed omitted it and the
// ladder must not be touched. Historical orders bypass ladder mutation but
// still count toward trade history.
type Order struct {
	ProductID  string
	Sequence   int64
	Side       Side
	Size       decimal.Decimal
	Price      decimal.Decimal
	FilledSize decimal.Decimal
	Status     OrderStatus
	Type       OrderType
	OrderID    string
	CreatedAt  time.Time
	Historical bool
	Confirmed  bool
}

// NewOrder builds an open limit order, the default event shape.
func NewOrder(productID string, seq int64, side Side, size, price decimal.Decimal) *Order {
	return &Order{
		ProductID: productID,
		Sequence:  seq,
		Side:      side,
		Size:      size,
		Price:     price,
		Status:    Open,
		Type:      Limit,
		CreatedAt: time.Now(),
	}
}

// MatchOrder builds a match event keyed by the maker's order id.
func MatchOrder(productID string, seq int64, side Side, size, price decimal.Decimal, makerOrderID string) *Order {
	o := NewOrder(productID, seq, side, size, price)
	o.Type = Match
	o.OrderID = makerOrderID
	return o
}

// DoneOrder builds a remove event. Size carries the remaining size at
// removal; status filled maps to a match-stream entry, canceled to a
// cancel-stream entry.
func DoneOrder(productID string, seq int64, side Side, remaining, price decimal.Decimal, orderID string, status OrderStatus) *Order {
	o := NewOrder(productID, seq, side, remaining, price)
	o.OrderID = orderID
	o.Status = status
	if status == Filled {
		o.Type = Match
	} else {
		o.Type = Cancel
	}
	return o
}

// ChangeOrder builds a resize event. By feed convention Size carries the old
// size and FilledSize the new one, so Remaining is the ladder shrinkage.
func ChangeOrder(productID string, seq int64, side Side, oldSize, newSize, price decimal.Decimal, orderID string) *Order {
	o := NewOrder(productID, seq, side, oldSize, price)
	o.Type = Change
	o.OrderID = orderID
	o.FilledSize = newSize
	return o
}

// Remaining is the unfilled size.
func (o *Order) Remaining() decimal.Decimal {
	return o.Size.Sub(o.FilledSize)
}

// Fill records qty as filled. The exchange is the source of truth, so the
// fill is applied even when it overshoots; the error just flags it.
func (o *Order) Fill(qty decimal.Decimal) error {
	overfill := qty.GreaterThan(o.Remaining())
	o.FilledSize = o.FilledSize.Add(qty)
	if overfill {
		return fmt.Errorf("%w: fill %s exceeded remaining size of order %s",
			ErrBadInput, qty, o.OrderID)
	}
	return nil
}

// ClampCreatedAt pins CreatedAt to the earlier of now and the feed time, so
// replayed events never age an order into the future.
func (o *Order) ClampCreatedAt(now, feedTime time.Time) {
	if feedTime.IsZero() || feedTime.After(now) {
		o.CreatedAt = now
		return
	}
	o.CreatedAt = feedTime
}

func (o *Order) String() string {
	return fmt.Sprintf("%s %s %s %s@%s seq=%d id=%s",
		o.ProductID, o.Side, o.Type, o.Size, o.Price, o.Sequence, o.OrderID)
}
