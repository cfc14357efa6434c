package book

import (
	"context"
	"math"

	"github.com/shopspring/decimal"

	"github.com/openloop/cyclearb/pkg/market"
	"github.com/openloop/cyclearb/pkg/store"
)

// DepthQuote is the result of walking one side of the ladder to a target
// depth. Excess is the quantity left over at the worst level once the depth
// is covered; WorstFill is the full size resting there.
type DepthQuote struct {
	Best      float64
	Worst     float64
	Notional  float64
	Excess    float64
	WorstFill float64
}

// GetPrice walks the ladder best first until depth base units are covered.
// Levels whose size sum has expired still move the worst price but add no
// quantity. Returns ok=false when the side is empty.
func (b *OrderBook) GetPrice(ctx context.Context, side market.Side, depth float64) (DepthQuote, bool, error) {
	var (
		q        DepthQuote
		seen     bool
		totalQty float64
	)
	desc := side == market.Bid
	ladderKey := store.BookKey(b.product.ID, side)

	for start := int64(0); ; start += b.queryBatch {
		levels, err := b.st.LevelRange(ctx, ladderKey, start, start+b.queryBatch-1, desc)
		if err != nil {
			return DepthQuote{}, false, err
		}
		if len(levels) == 0 {
			return q, seen, nil
		}
		sumKeys := make([]string, len(levels))
		for i, lvl := range levels {
			sumKeys[i] = lvl.SumKey
		}
		sums, err := b.st.Floats(ctx, sumKeys)
		if err != nil {
			return DepthQuote{}, false, err
		}
		for i, lvl := range levels {
			if !seen {
				q.Best = lvl.Price
				seen = true
			}
			q.Worst = lvl.Price
			if sums[i] == nil {
				continue
			}
			size := *sums[i]
			qty := math.Min(size, depth-totalQty)
			q.Excess = size - qty
			q.WorstFill = size
			q.Notional += lvl.Price * qty
			totalQty += qty
			if totalQty >= depth {
				return q, true, nil
			}
		}
	}
}

// BestPrice returns the top of the ladder for a side.
func (b *OrderBook) BestPrice(ctx context.Context, side market.Side) (float64, bool, error) {
	q, ok, err := b.GetPrice(ctx, side, 0)
	if err != nil || !ok {
		return 0, false, err
	}
	return q.Worst, true, nil
}

// SpreadLocked reports whether the best bid and ask sit one increment
// apart, leaving no room to improve either side.
func (b *OrderBook) SpreadLocked(ctx context.Context) (bool, error) {
	bid, bidOK, err := b.BestPrice(ctx, market.Bid)
	if err != nil {
		return false, err
	}
	ask, askOK, err := b.BestPrice(ctx, market.Ask)
	if err != nil {
		return false, err
	}
	if !bidOK || !askOK {
		return false, nil
	}
	up := b.product.HigherPrice(decimal.NewFromFloat(bid))
	return up.Equal(b.product.RoundPrice(decimal.NewFromFloat(ask))), nil
}

// GetNetworkPrice picks the maker price at which a resting order of
// desiredQty would fill after totalQty of queued quantity ahead of it. When
// the queue ahead ends mid-level within the product minimum, the order can
// rest at that level; otherwise it steps one increment past the worst level
// and reports how much quantity then sits ahead. A locked spread, or
// allowExceedBest=false, pins the order to the current best with no
// available quantity. Returns ok=false while the side is still empty.
func (b *OrderBook) GetNetworkPrice(ctx context.Context, side market.Side, totalQty, desiredQty float64, allowExceedBest bool) (string, float64, bool, error) {
	ahead := totalQty - desiredQty
	q, ok, err := b.GetPrice(ctx, side, ahead)
	if err != nil || !ok {
		return "", 0, false, err
	}

	if q.Excess <= b.product.BaseMinSize.InexactFloat64() {
		return store.FormatFloat(q.Worst), desiredQty, true, nil
	}
	if q.Best == q.Worst {
		locked, err := b.SpreadLocked(ctx)
		if err != nil {
			return "", 0, false, err
		}
		if locked || !allowExceedBest {
			return store.FormatFloat(q.Best), 0, true, nil
		}
	}

	var price decimal.Decimal
	if side == market.Bid {
		price = b.product.HigherPrice(decimal.NewFromFloat(q.Worst))
	} else {
		price = b.product.LowerPrice(decimal.NewFromFloat(q.Worst))
	}
	return price.String(), desiredQty + q.WorstFill - q.Excess, true, nil
}
