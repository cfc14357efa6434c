package network

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/openloop/cyclearb/params"
	"github.com/openloop/cyclearb/pkg/book"
	"github.com/openloop/cyclearb/pkg/market"
	"github.com/openloop/cyclearb/pkg/metrics"
	"github.com/openloop/cyclearb/pkg/store"
	"github.com/openloop/cyclearb/pkg/util"
)

// ErrNegativeEdgeSize means the trade history produced a negative size,
// which can only come from corrupted history buckets.
var ErrNegativeEdgeSize = errors.New("negative edge trade size")

// idlePause is how long the refresher sleeps when no product changed.
const idlePause = 100 * time.Millisecond

// Processor keeps the network in step with the books. Each pass drains the
// changed-product queues and rewrites all edge flavors for the affected
// sides.
type Processor struct {
	books *book.Manager
	net   *Manager
	cfg   params.Network

	qtyMultiplier float64
	clock         util.Clock
	log           *zap.SugaredLogger
	ready         chan struct{}
}

func NewProcessor(books *book.Manager, net *Manager, cfg params.Network, qtyMultiplier float64, clock util.Clock, log *zap.SugaredLogger) *Processor {
	return &Processor{
		books:         books,
		net:           net,
		cfg:           cfg,
		qtyMultiplier: qtyMultiplier,
		clock:         clock,
		log:           log,
		ready:         make(chan struct{}),
	}
}

// Ready closes after the first full refresh pass.
func (p *Processor) Ready() <-chan struct{} { return p.ready }

func (p *Processor) Run(ctx context.Context) error {
	p.log.Infow("network processor running", "edge_types", len(market.EdgeTypes()))
	first := true
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		refreshed, err := p.refresh(ctx)
		switch {
		case errors.Is(err, ErrNegativeEdgeSize):
			return err
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.Errorw("failed to refresh network", "err", err)
		case first:
			close(p.ready)
			first = false
		}

		if refreshed == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.clock.After(idlePause):
			}
		}
	}
}

// refresh drains one batch of changed products per side and rewrites their
// edges.
func (p *Processor) refresh(ctx context.Context) (int, error) {
	refreshed := 0
	for _, side := range market.Sides() {
		ids, err := p.books.PopChanged(ctx, side, int64(p.cfg.BatchSize))
		if err != nil {
			return refreshed, err
		}
		for _, id := range ids {
			b, ok := p.books.Book(id)
			if !ok {
				p.log.Errorw("changed product has no book", "product", id)
				continue
			}
			if err := p.UpdateFromBook(ctx, b, side); err != nil {
				return refreshed, err
			}
			refreshed++
			metrics.NetworkRefreshes.Inc()
		}
	}
	return refreshed, nil
}

// UpdateFromBook rewrites every edge flavor for one side of a product.
func (p *Processor) UpdateFromBook(ctx context.Context, b *book.OrderBook, side market.Side) error {
	for _, et := range market.EdgeTypes() {
		if err := p.updateEdgeType(ctx, b, side, et); err != nil {
			return err
		}
	}
	return nil
}

// updateEdgeType prices the src→dst conversion for one edge flavor. Best
// edges rest at the top of the book with an effectively unlimited quantity.
// The statistical flavors size themselves from recent matches and place at
// the depth where an order of that size would realistically fill; custom
// never bids past the current best.
func (p *Processor) updateEdgeType(ctx context.Context, b *book.OrderBook, side market.Side, et market.EdgeType) error {
	product := b.Product()
	src := product.Source(side)
	dst := product.Destination(side)

	if et == market.EdgeBest {
		price, ok, err := b.BestPrice(ctx, side)
		if err != nil || !ok {
			return err
		}
		currencyPrice := product.QuoteToCurrencyPrice(dst, price)
		if err := p.net.AddEdge(ctx, et, market.QuoteCurrency, src, dst, currencyPrice, p.cfg.BestEdgeQty); err != nil {
			return err
		}
		return p.net.AddEdge(ctx, et, market.QuoteProduct, src, dst, price, p.cfg.BestEdgeQty)
	}

	productQty, ok, err := b.EdgeTradeSize(ctx, side, market.Match, p.cfg.Lookback, et, p.cfg.AggregationPeriod)
	if err != nil || !ok {
		return err
	}
	if productQty < 0 {
		return fmt.Errorf("%s %s to %s sized %v: %w", et, src, dst, productQty, ErrNegativeEdgeSize)
	}
	desiredQty := productQty * p.qtyMultiplier
	allowExceedBest := et != market.EdgeCustom

	priceStr, availQty, ok, err := b.GetNetworkPrice(ctx, side, productQty, desiredQty, allowExceedBest)
	if err != nil || !ok {
		return err
	}
	productPrice, err := store.ParseFloat(priceStr)
	if err != nil {
		return err
	}
	currencyPrice := product.QuoteToCurrencyPrice(dst, productPrice)
	currencyQty := product.CurrencyQtyFromQuoteQtyFloat(dst, availQty, productPrice)
	if err := p.net.AddEdge(ctx, et, market.QuoteCurrency, src, dst, currencyPrice, currencyQty); err != nil {
		return err
	}
	return p.net.AddEdge(ctx, et, market.QuoteProduct, src, dst, productPrice, availQty)
}
