package book

import (
	"context"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/openloop/cyclearb/pkg/market"
	"github.com/openloop/cyclearb/pkg/store"
)

// recordTrade appends the event size to the per-second bucket of its side
// and type stream. The stream zset is scored by the event second so windows
// are a single range query.
func (b *OrderBook) recordTrade(ctx context.Context, o *market.Order) error {
	streamKey := store.TradeHistoryKey(b.product.ID, o.Side, o.Type)
	sec := o.CreatedAt.Unix()
	bucketKey := store.TradeBucketKey(streamKey, sec)
	if err := b.st.ZAddScore(ctx, streamKey, float64(sec), bucketKey); err != nil {
		return err
	}
	_, err := b.st.IncrFloat(ctx, bucketKey, o.Size.InexactFloat64())
	return err
}

// TradeQuantities returns event sizes over the lookback window, oldest
// first. With a non-zero groupBy, sizes whose timestamps floor to the same
// period are summed into one entry; buckets whose size value has expired
// are skipped.
func (b *OrderBook) TradeQuantities(ctx context.Context, side market.Side, orderType market.OrderType, lookback, groupBy time.Duration) ([]float64, error) {
	now := float64(b.clock.Now().Unix())
	first := now - lookback.Seconds()
	streamKey := store.TradeHistoryKey(b.product.ID, side, orderType)

	entries, err := b.st.ScoreRange(ctx, streamKey, first, now)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	bucketKeys := make([]string, len(entries))
	for i, e := range entries {
		bucketKeys[i] = e.Member
	}
	sizes, err := b.st.Floats(ctx, bucketKeys)
	if err != nil {
		return nil, err
	}

	groupSec := int64(groupBy / time.Second)
	var (
		quantities []float64
		lastPeriod int64
		havePeriod bool
	)
	for i, e := range entries {
		if sizes[i] == nil {
			continue
		}
		createdAt := int64(e.Score)
		period := createdAt
		if groupSec > 0 {
			period = (createdAt / groupSec) * groupSec
		}
		if havePeriod && period == lastPeriod {
			quantities[len(quantities)-1] += *sizes[i]
		} else {
			quantities = append(quantities, *sizes[i])
		}
		lastPeriod = period
		havePeriod = true
	}
	return quantities, nil
}

// Volume sums the traded quantity over the lookback window.
func (b *OrderBook) Volume(ctx context.Context, side market.Side, orderType market.OrderType, lookback time.Duration) (float64, error) {
	quantities, err := b.TradeQuantities(ctx, side, orderType, lookback, 0)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, q := range quantities {
		total += q
	}
	return total, nil
}

// MeanTradeSize averages grouped trade sizes. ok=false when the window is
// empty.
func (b *OrderBook) MeanTradeSize(ctx context.Context, side market.Side, orderType market.OrderType, lookback, groupBy time.Duration) (float64, bool, error) {
	quantities, err := b.TradeQuantities(ctx, side, orderType, lookback, groupBy)
	if err != nil || len(quantities) == 0 {
		return 0, false, err
	}
	return stat.Mean(quantities, nil), true, nil
}

// MedianTradeSize estimates the middle grouped trade size by linearly
// interpolating the empirical distribution at the half point.
func (b *OrderBook) MedianTradeSize(ctx context.Context, side market.Side, orderType market.OrderType, lookback, groupBy time.Duration) (float64, bool, error) {
	quantities, err := b.TradeQuantities(ctx, side, orderType, lookback, groupBy)
	if err != nil || len(quantities) == 0 {
		return 0, false, err
	}
	sort.Float64s(quantities)
	return stat.Quantile(0.5, stat.LinInterp, quantities, nil), true, nil
}

// ModeTradeSize returns the most common grouped trade size.
func (b *OrderBook) ModeTradeSize(ctx context.Context, side market.Side, orderType market.OrderType, lookback, groupBy time.Duration) (float64, bool, error) {
	quantities, err := b.TradeQuantities(ctx, side, orderType, lookback, groupBy)
	if err != nil || len(quantities) == 0 {
		return 0, false, err
	}
	mode, _ := stat.Mode(quantities, nil)
	return mode, true, nil
}

// EdgeTradeSize sizes a network edge from recent trades. Best edges carry
// no size requirement; custom is a tenth of the mean. ok=false when the
// flavor needs history and none exists yet.
func (b *OrderBook) EdgeTradeSize(ctx context.Context, side market.Side, orderType market.OrderType, lookback time.Duration, edge market.EdgeType, groupBy time.Duration) (float64, bool, error) {
	switch edge {
	case market.EdgeBest:
		return 0, true, nil
	case market.EdgeMean:
		return b.MeanTradeSize(ctx, side, orderType, lookback, groupBy)
	case market.EdgeMedian:
		return b.MedianTradeSize(ctx, side, orderType, lookback, groupBy)
	case market.EdgeCustom:
		qty, ok, err := b.MeanTradeSize(ctx, side, orderType, lookback, groupBy)
		if err != nil || !ok {
			return 0, false, err
		}
		return qty / 10, true, nil
	default:
		return 0, false, nil
	}
}
