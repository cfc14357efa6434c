package portfolio

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openloop/cyclearb/params"
	"github.com/openloop/cyclearb/pkg/market"
	"github.com/openloop/cyclearb/pkg/network"
)

// Delta bounds how far a currency may move in one pass, in units of that
// currency: MaxIncrease before it overshoots its target share, MaxDecrease
// before it undershoots.
type Delta struct {
	MaxIncrease decimal.Decimal
	MaxDecrease decimal.Decimal
}

// Trader turns the cycle network plus the current balances into at most
// one new maker order per currency per pass.
type Trader struct {
	group    *Group
	net      *network.Manager
	edgeType market.EdgeType

	minCycleReturn float64
	log            *zap.SugaredLogger
}

func NewTrader(group *Group, net *network.Manager, cfg params.Trader, log *zap.SugaredLogger) (*Trader, error) {
	edgeType, err := market.ParseEdgeType(cfg.EdgeType)
	if err != nil {
		return nil, err
	}
	return &Trader{
		group:          group,
		net:            net,
		edgeType:       edgeType,
		minCycleReturn: cfg.MinCycleReturn,
		log:            log,
	}, nil
}

// MaxDeltas derives the per-currency movement bounds from the current
// valuation and the operator fraction targets. An empty portfolio yields no
// bounds at all.
func (t *Trader) MaxDeltas(ctx context.Context) (map[market.Currency]Delta, error) {
	valuations, total, err := t.group.Valuation(ctx)
	if err != nil {
		return nil, err
	}
	deltas := make(map[market.Currency]Delta)
	if total.IsZero() {
		return deltas, nil
	}
	for c, v := range valuations {
		if v.Edge.IsZero() {
			t.log.Errorw("valuation edge is zero", "currency", c.String())
			continue
		}
		p := t.group.portfolios[c]
		minFraction, err := p.MinFraction(ctx)
		if err != nil {
			return nil, err
		}
		maxFraction, err := p.MaxFraction(ctx)
		if err != nil {
			return nil, err
		}
		maxIncrease := maxFraction.Mul(total).Sub(v.Qty).Div(v.Edge)
		maxDecrease := v.Qty.Sub(minFraction.Mul(total)).Div(v.Edge)
		deltas[c] = Delta{
			MaxIncrease: decimal.Max(decimal.Zero, maxIncrease),
			MaxDecrease: decimal.Max(decimal.Zero, maxDecrease),
		}
	}
	return deltas, nil
}

// NextOrders walks every currency's cycles best first and emits the orders
// worth placing. Per currency: clip the spendable quantity to the rebalance
// bound, take the most valuable cycle whose first edge still has room after
// our own resting orders, size the order against both endpoint bounds, and
// emit it if it clears the product minimum. Cycles at or below the
// profitability floor end the walk.
func (t *Trader) NextOrders(ctx context.Context) ([]*market.Order, error) {
	available, err := t.group.AvailableForTrade(ctx)
	if err != nil {
		return nil, err
	}
	deltas, err := t.MaxDeltas(ctx)
	if err != nil {
		return nil, err
	}

	var orders []*market.Order
	for _, c := range t.group.Currencies() {
		currencyQty := available[c]
		if d, ok := deltas[c]; ok {
			currencyQty = decimal.Min(d.MaxDecrease, currencyQty)
		}

		hops, err := t.net.NextHops(ctx, t.edgeType, c)
		if err != nil {
			return nil, err
		}
		values := make([]float64, 0, len(hops))
		for v := range hops {
			values = append(values, v)
		}
		sort.Sort(sort.Reverse(sort.Float64Slice(values)))

		for _, value := range values {
			if value <= t.minCycleReturn {
				break
			}
			hop := hops[value]
			if hop.Price == "" || hop.Qty == "" {
				continue
			}
			edgeVal, err := decimal.NewFromString(hop.Price)
			if err != nil {
				t.log.Errorw("bad edge price", "price", hop.Price, "err", err)
				continue
			}
			availQty, err := decimal.NewFromString(hop.Qty)
			if err != nil {
				t.log.Errorw("bad edge quantity", "qty", hop.Qty, "err", err)
				continue
			}

			edgeQty, err := t.group.orders.EdgeQty(c, hop.Next)
			if err != nil {
				return nil, err
			}
			remainingEdgeQty := availQty.Sub(edgeQty)
			if remainingEdgeQty.Sign() <= 0 {
				continue
			}

			product, side, err := t.group.products.ProductFor(c, hop.Next)
			if err != nil {
				t.log.Errorw("cycle edge has no product", "from", c.String(), "to", hop.Next.String())
				continue
			}

			quoteQty := decimal.Min(remainingEdgeQty, product.QuoteQtyFromCurrencyQty(c, currencyQty, edgeVal))
			destinationQty := product.CurrencyQtyFromQuoteQty(hop.Next, quoteQty, edgeVal)
			if d, ok := deltas[hop.Next]; ok && destinationQty.GreaterThan(d.MaxIncrease) {
				quoteQty = product.QuoteQtyFromCurrencyQty(hop.Next, d.MaxIncrease, edgeVal)
			}
			quoteQty = product.RoundQuantity(quoteQty)
			if quoteQty.GreaterThan(product.BaseMinSize) {
				o := market.NewOrder(product.ID, 0, side, quoteQty, edgeVal)
				t.log.Infow("cycle trade selected",
					"cycle_value", value,
					"from", c.String(),
					"to", hop.Next.String(),
					"order", o.String())
				orders = append(orders, o)
				break
			}
		}
	}
	return orders, nil
}
