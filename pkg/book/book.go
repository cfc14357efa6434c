package book

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/openloop/cyclearb/pkg/market"
	"github.com/openloop/cyclearb/pkg/store"
	"github.com/openloop/cyclearb/pkg/util"
)

// ErrSequence marks an event older than the book it was applied to.
var ErrSequence = errors.New("sequence behind book")

// OrderBook mirrors one product's resting orders into Redis. Price levels
// live in a per-side zset scored by price; each level carries a hash of
// order sizes and a running size sum. Every applied event is also appended
// to the trade history stream for its side and type.
type OrderBook struct {
	product *market.Product
	st      *store.Store
	clock   util.Clock
	log     *zap.SugaredLogger

	queryBatch int64
	sequence   atomic.Int64
}

func NewOrderBook(p *market.Product, st *store.Store, clock util.Clock, log *zap.SugaredLogger, queryBatch int64) *OrderBook {
	if queryBatch <= 0 {
		queryBatch = 10
	}
	return &OrderBook{
		product:    p,
		st:         st,
		clock:      clock,
		log:        log,
		queryBatch: queryBatch,
	}
}

func (b *OrderBook) Product() *market.Product { return b.product }

// Sequence returns the highest sequence id applied so far.
func (b *OrderBook) Sequence() int64 { return b.sequence.Load() }

func (b *OrderBook) bumpSequence(seq int64) {
	for {
		cur := b.sequence.Load()
		if seq <= cur || b.sequence.CompareAndSwap(cur, seq) {
			return
		}
	}
}

func (b *OrderBook) validateOrder(o *market.Order) error {
	if o.ProductID != b.product.ID {
		return fmt.Errorf("order for %s applied to %s book: %w", o.ProductID, b.product.ID, market.ErrProductMismatch)
	}
	if o.Sequence < b.Sequence() {
		return fmt.Errorf("order seq %d behind book seq %d: %w", o.Sequence, b.Sequence(), ErrSequence)
	}
	return nil
}

// Apply folds one order event into the book. Open limit orders join their
// price level; matches, changes and done events shrink or clear it.
// Historical orders skip the ladder but still feed the trade history, and
// every event flags the product as changed for the network refresh.
func (b *OrderBook) Apply(ctx context.Context, o *market.Order) error {
	if err := b.validateOrder(o); err != nil {
		return err
	}
	b.bumpSequence(o.Sequence)

	if !o.Historical {
		var err error
		if o.Type == market.Limit && o.Status == market.Open {
			err = b.addOrder(ctx, o)
		} else {
			err = b.subOrder(ctx, o)
		}
		if err != nil {
			return err
		}
	}

	if err := b.markChanged(ctx, o.Side); err != nil {
		return err
	}
	return b.recordTrade(ctx, o)
}

// addOrder places a resting order on its price level.
func (b *OrderBook) addOrder(ctx context.Context, o *market.Order) error {
	price := o.Price.InexactFloat64()
	sumKey := store.SumKey(b.product.ID, o.Side, price)
	if err := b.st.ZAddScore(ctx, store.BookKey(b.product.ID, o.Side), price, sumKey); err != nil {
		return err
	}
	if err := b.st.HSetString(ctx, store.OrderListKey(b.product.ID, o.Side, price), o.OrderID, o.Size.String()); err != nil {
		return err
	}
	if _, err := b.st.IncrFloat(ctx, sumKey, o.Size.InexactFloat64()); err != nil {
		return err
	}
	return nil
}

func (b *OrderBook) subOrder(ctx context.Context, o *market.Order) error {
	switch {
	case o.Status == market.Filled || o.Status == market.Canceled:
		return b.removeOrder(ctx, o)
	case o.Type == market.Change:
		return b.changeOrder(ctx, o)
	default:
		return b.matchOrder(ctx, o)
	}
}

// removeOrder drops a finished order. Done events for orders we never
// tracked, such as market orders matched straight through, are ignored so
// they cannot corrupt the level sum. The last order at a level clears the
// whole level.
func (b *OrderBook) removeOrder(ctx context.Context, o *market.Order) error {
	price := o.Price.InexactFloat64()
	listKey := store.OrderListKey(b.product.ID, o.Side, price)
	sumKey := store.SumKey(b.product.ID, o.Side, price)

	known, err := b.st.HExists(ctx, listKey, o.OrderID)
	if err != nil {
		return err
	}
	if !known {
		return nil
	}
	if err := b.st.HDel(ctx, listKey, o.OrderID); err != nil {
		return err
	}
	n, err := b.st.HLen(ctx, listKey)
	if err != nil {
		return err
	}
	if n == 0 {
		if err := b.st.Del(ctx, listKey, sumKey); err != nil {
			return err
		}
		return b.st.ZRem(ctx, store.BookKey(b.product.ID, o.Side), sumKey)
	}
	_, err = b.st.IncrFloat(ctx, sumKey, -o.Size.InexactFloat64())
	return err
}

// changeOrder rewrites an order to its reduced size. The level sum drops by
// the difference between the old and new sizes.
func (b *OrderBook) changeOrder(ctx context.Context, o *market.Order) error {
	price := o.Price.InexactFloat64()
	listKey := store.OrderListKey(b.product.ID, o.Side, price)

	known, err := b.st.HExists(ctx, listKey, o.OrderID)
	if err != nil {
		return err
	}
	if !known {
		return nil
	}
	if err := b.st.HSetString(ctx, listKey, o.OrderID, o.FilledSize.String()); err != nil {
		return err
	}
	_, err = b.st.IncrFloat(ctx, store.SumKey(b.product.ID, o.Side, price), -o.Remaining().InexactFloat64())
	return err
}

// matchOrder shrinks the maker order by the traded size.
func (b *OrderBook) matchOrder(ctx context.Context, o *market.Order) error {
	price := o.Price.InexactFloat64()
	size := o.Size.InexactFloat64()
	if _, err := b.st.HIncrFloat(ctx, store.OrderListKey(b.product.ID, o.Side, price), o.OrderID, -size); err != nil {
		return err
	}
	_, err := b.st.IncrFloat(ctx, store.SumKey(b.product.ID, o.Side, price), -size)
	return err
}

func (b *OrderBook) markChanged(ctx context.Context, side market.Side) error {
	return b.st.SAdd(ctx, store.ChangedProductsKey(side), b.product.ID)
}

// Validate reports a crossed book, which means we lost events somewhere.
func (b *OrderBook) Validate(ctx context.Context) error {
	bid, bidOK, err := b.BestPrice(ctx, market.Bid)
	if err != nil {
		return err
	}
	ask, askOK, err := b.BestPrice(ctx, market.Ask)
	if err != nil {
		return err
	}
	if bidOK && askOK && bid > ask {
		return fmt.Errorf("best bid %v exceeds best ask %v for %s", bid, ask, b.product.ID)
	}
	return nil
}
