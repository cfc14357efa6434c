// Package portfolio tracks balances, holds and our own resting orders, and
// turns profitable cycles into maker orders.
package portfolio

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openloop/cyclearb/pkg/market"
	"github.com/openloop/cyclearb/pkg/metrics"
	"github.com/openloop/cyclearb/pkg/network"
	"github.com/openloop/cyclearb/pkg/store"
	"github.com/openloop/cyclearb/pkg/util"
)

// Portfolio is one currency balance plus its operator targets. Fraction
// targets live in the persistent store so operators can retune them while
// the process runs; reads are cached briefly to keep the decision pass off
// Redis.
type Portfolio struct {
	currency   market.Currency
	qty        decimal.Decimal
	defaultMin decimal.Decimal
	defaultMax decimal.Decimal

	persistent *store.Store
	cacheTTL   time.Duration
	clock      util.Clock

	cachedMin decimal.Decimal
	cachedMax decimal.Decimal
	fetchedAt time.Time
}

func NewPortfolio(c market.Currency, persistent *store.Store, cacheTTL time.Duration, clock util.Clock) *Portfolio {
	return &Portfolio{
		currency:   c,
		qty:        decimal.Zero,
		defaultMin: decimal.Zero,
		defaultMax: decimal.NewFromInt(1),
		persistent: persistent,
		cacheTTL:   cacheTTL,
		clock:      clock,
	}
}

func (p *Portfolio) Currency() market.Currency { return p.currency }
func (p *Portfolio) Qty() decimal.Decimal      { return p.qty }

func (p *Portfolio) refreshFractions(ctx context.Context) error {
	now := p.clock.Now()
	if !p.fetchedAt.IsZero() && now.Sub(p.fetchedAt) < p.cacheTTL {
		return nil
	}
	p.cachedMin = p.defaultMin
	p.cachedMax = p.defaultMax
	if raw, ok, err := p.persistent.Get(ctx, store.MinFractionKey(p.currency)); err != nil {
		return err
	} else if ok {
		f, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("failed to parse min fraction for %s: %w", p.currency, err)
		}
		p.cachedMin = f
	}
	if raw, ok, err := p.persistent.Get(ctx, store.MaxFractionKey(p.currency)); err != nil {
		return err
	} else if ok {
		f, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("failed to parse max fraction for %s: %w", p.currency, err)
		}
		p.cachedMax = f
	}
	p.fetchedAt = now
	return nil
}

// MinFraction is the operator floor on this currency's share of the
// portfolio value.
func (p *Portfolio) MinFraction(ctx context.Context) (decimal.Decimal, error) {
	if err := p.refreshFractions(ctx); err != nil {
		return decimal.Zero, err
	}
	return p.cachedMin, nil
}

// MaxFraction is the operator ceiling on this currency's share.
func (p *Portfolio) MaxFraction(ctx context.Context) (decimal.Decimal, error) {
	if err := p.refreshFractions(ctx); err != nil {
		return decimal.Zero, err
	}
	return p.cachedMax, nil
}

// Group is the whole account: one Portfolio per traded currency plus the
// book of our own orders. Balance writes mirror into the live store for
// the status API and append to the persistent store for history. Group is
// confined to the portfolio worker goroutine.
type Group struct {
	st         *store.Store
	persistent *store.Store
	orders     *OwnOrderBook
	net        *network.Manager
	products   *market.ProductManager
	portfolios map[market.Currency]*Portfolio

	valuationCurrency market.Currency
	clock             util.Clock
	log               *zap.SugaredLogger
}

func NewGroup(st, persistent *store.Store, orders *OwnOrderBook, net *network.Manager, pm *market.ProductManager,
	valuationCurrency market.Currency, fractionTTL time.Duration, clock util.Clock, log *zap.SugaredLogger) *Group {
	portfolios := make(map[market.Currency]*Portfolio)
	for _, c := range pm.Currencies() {
		portfolios[c] = NewPortfolio(c, persistent, fractionTTL, clock)
	}
	return &Group{
		st:                st,
		persistent:        persistent,
		orders:            orders,
		net:               net,
		products:          pm,
		portfolios:        portfolios,
		valuationCurrency: valuationCurrency,
		clock:             clock,
		log:               log,
	}
}

// Orders exposes the own-order book.
func (g *Group) Orders() *OwnOrderBook { return g.orders }

// Currencies lists the currencies the group tracks, ascending.
func (g *Group) Currencies() []market.Currency { return g.products.Currencies() }

// Balance returns the tracked balance of c.
func (g *Group) Balance(c market.Currency) (decimal.Decimal, error) {
	p, ok := g.portfolios[c]
	if !ok {
		return decimal.Zero, fmt.Errorf("no portfolio for currency %s", c)
	}
	return p.Qty(), nil
}

// Balances snapshots every tracked balance.
func (g *Group) Balances() map[market.Currency]decimal.Decimal {
	out := make(map[market.Currency]decimal.Decimal, len(g.portfolios))
	for c, p := range g.portfolios {
		out[c] = p.Qty()
	}
	return out
}

// Available is balance minus the hold of open orders sourcing c. The
// result is mirrored into the live store on every read.
func (g *Group) Available(ctx context.Context, c market.Currency) (decimal.Decimal, error) {
	balance, err := g.Balance(c)
	if err != nil {
		return decimal.Zero, err
	}
	hold, err := g.orders.HoldQty(c)
	if err != nil {
		return decimal.Zero, err
	}
	available := balance.Sub(hold)
	if err := g.st.Set(ctx, store.AvailableKey(c), available.String()); err != nil {
		return decimal.Zero, err
	}
	return available, nil
}

// AvailableForTrade maps each currency to its available quantity, zeroed
// when it sits below the exchange minimum for that currency.
func (g *Group) AvailableForTrade(ctx context.Context) (map[market.Currency]decimal.Decimal, error) {
	out := make(map[market.Currency]decimal.Decimal, len(g.portfolios))
	for c := range g.portfolios {
		available, err := g.Available(ctx, c)
		if err != nil {
			return nil, err
		}
		if minSize, ok := g.products.MinSize(c); ok && available.LessThan(minSize) {
			out[c] = decimal.Zero
			continue
		}
		out[c] = available
	}
	return out, nil
}

// Valuation expresses every balance in the valuation currency over best
// edges.
func (g *Group) Valuation(ctx context.Context) (map[market.Currency]network.Valuation, decimal.Decimal, error) {
	return g.net.ValuePortfolio(ctx, g.Balances(), g.valuationCurrency)
}

func (g *Group) applyBalance(ctx context.Context, c market.Currency, delta decimal.Decimal) error {
	p, ok := g.portfolios[c]
	if !ok {
		return fmt.Errorf("no portfolio for currency %s", c)
	}
	p.qty = p.qty.Add(delta)
	if err := g.st.Set(ctx, store.BalanceKey(c), p.qty.String()); err != nil {
		return err
	}
	now := float64(g.clock.Now().Unix())
	if err := g.persistent.ZAddScore(ctx, store.BalanceKey(c), now, p.qty.String()); err != nil {
		return err
	}
	metrics.Balance.WithLabelValues(c.String()).Set(p.qty.InexactFloat64())
	return nil
}

// Credit adds qty of c to the balance.
func (g *Group) Credit(ctx context.Context, c market.Currency, qty decimal.Decimal) error {
	return g.applyBalance(ctx, c, qty)
}

// Debit removes qty of c from the balance.
func (g *Group) Debit(ctx context.Context, c market.Currency, qty decimal.Decimal) error {
	return g.applyBalance(ctx, c, qty.Neg())
}

// HandleMatch books a fill on one of our orders: the destination currency
// grows by the converted fill and the source currency shrinks by it.
func (g *Group) HandleMatch(ctx context.Context, orderID string, fillQty decimal.Decimal) error {
	o, _, ok := g.orders.Get(orderID)
	if !ok {
		return fmt.Errorf("matched order %s is not tracked", orderID)
	}
	if _, err := g.orders.Match(orderID, fillQty); err != nil {
		return err
	}
	product, err := g.products.Get(o.ProductID)
	if err != nil {
		return err
	}
	src := product.Source(o.Side)
	dst := product.Destination(o.Side)
	srcQty := product.CurrencyQtyFromQuoteQty(src, fillQty, o.Price)
	dstQty := product.CurrencyQtyFromQuoteQty(dst, fillQty, o.Price)
	if err := g.Credit(ctx, dst, dstQty); err != nil {
		return err
	}
	return g.Debit(ctx, src, srcQty)
}

// HandleDone settles a finished order into its terminal status. A cancel
// needs no balance change; the hold disappears with the open order.
func (g *Group) HandleDone(orderID string, status market.OrderStatus) error {
	switch status {
	case market.Filled:
		_, err := g.orders.MarkFilled(orderID)
		return err
	case market.Canceled:
		_, err := g.orders.MarkCanceled(orderID)
		return err
	default:
		return fmt.Errorf("done order %s must be filled or canceled, got %s", orderID, status)
	}
}
