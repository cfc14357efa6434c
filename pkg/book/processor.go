package book

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openloop/cyclearb/pkg/exchange"
	"github.com/openloop/cyclearb/pkg/feed"
	"github.com/openloop/cyclearb/pkg/market"
	"github.com/openloop/cyclearb/pkg/metrics"
)

// Bootstrapper fetches the starting book state from the exchange.
type Bootstrapper interface {
	BookSnapshot(ctx context.Context, productID string) (*exchange.BookSnapshot, error)
	Trades(ctx context.Context, productID string) ([]exchange.Trade, error)
}

// Processor drains feed events into the order books. It first seeds every
// book from a level-3 snapshot plus the recent trade tape, then folds live
// events in sequence order.
type Processor struct {
	books  *Manager
	source Bootstrapper
	events <-chan *feed.Message
	ready  chan struct{}
	log    *zap.SugaredLogger
}

func NewProcessor(books *Manager, source Bootstrapper, events <-chan *feed.Message, log *zap.SugaredLogger) *Processor {
	return &Processor{
		books:  books,
		source: source,
		events: events,
		ready:  make(chan struct{}),
		log:    log,
	}
}

// Ready closes once every book is seeded and live events are flowing.
func (p *Processor) Ready() <-chan struct{} { return p.ready }

func (p *Processor) Run(ctx context.Context) error {
	if err := p.Bootstrap(ctx); err != nil {
		return fmt.Errorf("failed to bootstrap order books: %w", err)
	}
	close(p.ready)
	p.log.Infow("book processor running", "products", len(p.books.Books()))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-p.events:
			if !ok {
				return nil
			}
			p.handle(ctx, msg)
		}
	}
}

func (p *Processor) handle(ctx context.Context, msg *feed.Message) {
	o, err := orderFromMessage(msg)
	if err != nil {
		p.log.Errorw("failed to convert feed message", "type", msg.Type, "product", msg.ProductID, "err", err)
		metrics.BookErrors.Inc()
		return
	}
	if o == nil {
		return
	}
	if o.Sequence <= p.books.Sequence(o.ProductID) {
		return
	}
	if err := p.books.Apply(ctx, o); err != nil {
		if errors.Is(err, ErrSequence) {
			p.log.Debugw("stale order event", "product", o.ProductID, "seq", o.Sequence)
			return
		}
		p.log.Errorw("failed to apply order event", "order", o.String(), "err", err)
		metrics.BookErrors.Inc()
		return
	}
	metrics.BookEvents.WithLabelValues(o.ProductID).Inc()
}

// orderFromMessage converts a feed event into a book order. A nil order
// with nil error means the event carries nothing for the ladder: receipts,
// heartbeats, market-order done events without a price, and funds-based
// changes.
func orderFromMessage(m *feed.Message) (*market.Order, error) {
	switch m.Type {
	case "open", "done", "match", "change":
	default:
		return nil, nil
	}

	side, err := market.SideFromFeed(m.Side)
	if err != nil {
		return nil, err
	}

	var o *market.Order
	switch m.Type {
	case "open":
		size, price, err := parseSizePrice(m.RemainingSize, m.Price)
		if err != nil {
			return nil, err
		}
		o = market.NewOrder(m.ProductID, m.Sequence, side, size, price)
		o.OrderID = m.OrderID
	case "done":
		if m.Price == "" || m.RemainingSize == "" {
			return nil, nil
		}
		remaining, price, err := parseSizePrice(m.RemainingSize, m.Price)
		if err != nil {
			return nil, err
		}
		status := market.Canceled
		if m.Reason == "filled" {
			status = market.Filled
		}
		o = market.DoneOrder(m.ProductID, m.Sequence, side, remaining, price, m.OrderID, status)
	case "match":
		size, price, err := parseSizePrice(m.Size, m.Price)
		if err != nil {
			return nil, err
		}
		o = market.MatchOrder(m.ProductID, m.Sequence, side, size, price, m.MakerOrderID)
	case "change":
		if m.NewFunds != "" || m.Price == "" {
			return nil, nil
		}
		oldSize, price, err := parseSizePrice(m.OldSize, m.Price)
		if err != nil {
			return nil, err
		}
		newSize, err := decimal.NewFromString(m.NewSize)
		if err != nil {
			return nil, fmt.Errorf("failed to parse new size %q: %w", m.NewSize, err)
		}
		o = market.ChangeOrder(m.ProductID, m.Sequence, side, oldSize, newSize, price, m.OrderID)
	}

	if t, ok := m.EventTime(); ok {
		o.CreatedAt = t
	}
	return o, nil
}

func parseSizePrice(size, price string) (decimal.Decimal, decimal.Decimal, error) {
	s, err := decimal.NewFromString(size)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("failed to parse size %q: %w", size, err)
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("failed to parse price %q: %w", price, err)
	}
	return s, p, nil
}

// Bootstrap seeds every book with its snapshot orders at the snapshot
// sequence, then replays the recent tape as historical matches so edge
// statistics start warm. Live events older than the snapshot are dropped by
// the sequence check once Run takes over.
func (p *Processor) Bootstrap(ctx context.Context) error {
	for id, b := range p.books.Books() {
		snap, err := p.source.BookSnapshot(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to fetch %s snapshot: %w", id, err)
		}
		sides := []struct {
			side    market.Side
			entries []exchange.SnapshotEntry
		}{
			{market.Bid, snap.Bids},
			{market.Ask, snap.Asks},
		}
		count := 0
		for _, s := range sides {
			for _, entry := range s.entries {
				o := market.NewOrder(id, snap.Sequence, s.side, entry.Size, entry.Price)
				o.OrderID = entry.OrderID
				if err := b.Apply(ctx, o); err != nil {
					return fmt.Errorf("failed to seed %s book: %w", id, err)
				}
				count++
			}
		}
		if err := b.Validate(ctx); err != nil {
			p.log.Errorw("seeded book is crossed", "product", id, "err", err)
		}

		trades, err := p.source.Trades(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to fetch %s trades: %w", id, err)
		}
		for _, t := range trades {
			side, err := market.SideFromFeed(t.Side)
			if err != nil {
				p.log.Errorw("skipping trade with unknown side", "product", id, "side", t.Side)
				continue
			}
			o := market.MatchOrder(id, snap.Sequence, side, t.Size, t.Price, "")
			o.Historical = true
			o.CreatedAt = t.Time
			if err := b.Apply(ctx, o); err != nil {
				return fmt.Errorf("failed to replay %s trades: %w", id, err)
			}
		}
		p.log.Infow("book seeded", "product", id, "sequence", snap.Sequence, "orders", count, "trades", len(trades))
	}
	return nil
}
