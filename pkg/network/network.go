// Package network maintains the conversion-rate digraphs between
// currencies and enumerates the arbitrage cycles through them. Edges live
// in Redis hashes, one hash per (flavor, quote view, source currency), so
// every worker sees the same network.
package network

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/openloop/cyclearb/pkg/market"
	"github.com/openloop/cyclearb/pkg/metrics"
	"github.com/openloop/cyclearb/pkg/store"
)

// Hop is the first step of one cycle out of a start currency: the currency
// to convert into and the product-view price and available quantity on that
// edge. Price and Qty stay raw hash strings; they are empty while the edge
// statistics are still warming up.
type Hop struct {
	Next  market.Currency
	Price string
	Qty   string
}

// Valuation is one currency's contribution to a portfolio value: the
// quantity expressed in the target currency and the edge rate used.
type Valuation struct {
	Qty  decimal.Decimal
	Edge decimal.Decimal
}

// Manager reads and writes the conversion network.
type Manager struct {
	st  *store.Store
	log *zap.SugaredLogger
}

func NewManager(st *store.Store, log *zap.SugaredLogger) *Manager {
	return &Manager{st: st, log: log}
}

// AddEdge writes one conversion edge. Weight is the conversion rate in the
// given quote view; qty is how much of the edge is worth taking.
func (m *Manager) AddEdge(ctx context.Context, edge market.EdgeType, quote market.QuoteType, src, dst market.Currency, weight, qty float64) error {
	if err := m.st.HSetString(ctx, store.NetworkPriceKey(edge, quote, src), dst.String(), store.FormatFloat(weight)); err != nil {
		return err
	}
	return m.st.HSetString(ctx, store.NetworkQtyKey(edge, quote, src), dst.String(), store.FormatFloat(qty))
}

// EdgeWeight returns the raw price-edge string from src to dst.
func (m *Manager) EdgeWeight(ctx context.Context, edge market.EdgeType, quote market.QuoteType, src, dst market.Currency) (string, bool, error) {
	return m.st.HGet(ctx, store.NetworkPriceKey(edge, quote, src), dst.String())
}

// EdgeQty returns the raw quantity-edge string from src to dst.
func (m *Manager) EdgeQty(ctx context.Context, edge market.EdgeType, quote market.QuoteType, src, dst market.Currency) (string, bool, error) {
	return m.st.HGet(ctx, store.NetworkQtyKey(edge, quote, src), dst.String())
}

// graph assembles the price digraph for one flavor and quote view.
func (m *Manager) graph(ctx context.Context, edge market.EdgeType, quote market.QuoteType) (*simple.WeightedDirectedGraph, error) {
	g := simple.NewWeightedDirectedGraph(0, 0)
	for _, src := range market.Currencies() {
		edges, err := m.st.HGetAll(ctx, store.NetworkPriceKey(edge, quote, src))
		if err != nil {
			return nil, err
		}
		for dstName, weight := range edges {
			dst, err := market.ParseCurrency(dstName)
			if err != nil {
				m.log.Errorw("skipping edge with unknown currency", "currency", dstName)
				continue
			}
			w, err := store.ParseFloat(weight)
			if err != nil {
				return nil, err
			}
			g.SetWeightedEdge(simple.WeightedEdge{
				F: simple.Node(int64(src)),
				T: simple.Node(int64(dst)),
				W: w,
			})
		}
	}
	return g, nil
}

// canonicalize rotates a cycle so its greatest currency leads, then closes
// it by repeating the head. Input may arrive open or already closed.
func canonicalize(cycle []market.Currency) []market.Currency {
	if len(cycle) > 1 && cycle[0] == cycle[len(cycle)-1] {
		cycle = cycle[:len(cycle)-1]
	}
	best := 0
	for i, c := range cycle {
		if c > cycle[best] {
			best = i
		}
	}
	out := make([]market.Currency, 0, len(cycle)+1)
	out = append(out, cycle[best:]...)
	out = append(out, cycle[:best]...)
	return append(out, out[0])
}

// CyclesByValue enumerates every simple cycle in the price digraph, keyed
// by the product of its edge rates. Cycles are returned closed with their
// greatest currency first. Two cycles with the exact same value collapse to
// one entry.
func (m *Manager) CyclesByValue(ctx context.Context, edge market.EdgeType, quote market.QuoteType) (map[float64][]market.Currency, error) {
	g, err := m.graph(ctx, edge, quote)
	if err != nil {
		return nil, err
	}
	cycleVals := make(map[float64][]market.Currency)
	for _, nodes := range topo.DirectedCyclesIn(g) {
		cycle := make([]market.Currency, len(nodes))
		for i, n := range nodes {
			cycle[i] = market.Currency(n.ID())
		}
		cycle = canonicalize(cycle)
		value := 1.0
		valid := true
		for i := 0; i < len(cycle)-1; i++ {
			w, ok := g.Weight(int64(cycle[i]), int64(cycle[i+1]))
			if !ok {
				valid = false
				break
			}
			value *= w
		}
		if valid {
			cycleVals[value] = cycle
		}
	}
	metrics.NetworkCycles.Set(float64(len(cycleVals)))
	return cycleVals, nil
}

// CyclesForCurrency filters the enumeration to cycles passing through
// start.
func (m *Manager) CyclesForCurrency(ctx context.Context, edge market.EdgeType, quote market.QuoteType, start market.Currency) (map[float64][]market.Currency, error) {
	cycles, err := m.CyclesByValue(ctx, edge, quote)
	if err != nil {
		return nil, err
	}
	out := make(map[float64][]market.Currency)
	for value, cycle := range cycles {
		for _, c := range cycle {
			if c == start {
				out[value] = cycle
				break
			}
		}
	}
	return out, nil
}

// nextInCycle returns the currency following start in a closed cycle.
func nextInCycle(cycle []market.Currency, start market.Currency) (market.Currency, bool) {
	for i := 0; i < len(cycle)-1; i++ {
		if cycle[i] == start {
			return cycle[i+1], true
		}
	}
	return 0, false
}

// NextHops maps cycle values to the first hop out of start, using
// currency-view cycles for ranking and product-view edges for the
// executable price and quantity.
func (m *Manager) NextHops(ctx context.Context, edge market.EdgeType, start market.Currency) (map[float64]Hop, error) {
	cycles, err := m.CyclesForCurrency(ctx, edge, market.QuoteCurrency, start)
	if err != nil {
		return nil, err
	}
	hops := make(map[float64]Hop, len(cycles))
	for value, cycle := range cycles {
		next, ok := nextInCycle(cycle, start)
		if !ok {
			continue
		}
		price, _, err := m.EdgeWeight(ctx, edge, market.QuoteProduct, start, next)
		if err != nil {
			return nil, err
		}
		qty, _, err := m.EdgeQty(ctx, edge, market.QuoteProduct, start, next)
		if err != nil {
			return nil, err
		}
		hops[value] = Hop{Next: next, Price: price, Qty: qty}
	}
	return hops, nil
}

// ValuePortfolio expresses per-currency balances in the target currency
// using best-price currency-view edges. Currencies with no edge to the
// target are left out of the result and the total.
func (m *Manager) ValuePortfolio(ctx context.Context, balances map[market.Currency]decimal.Decimal, target market.Currency) (map[market.Currency]Valuation, decimal.Decimal, error) {
	valuations := make(map[market.Currency]Valuation, len(balances))
	total := decimal.Zero
	for c, qty := range balances {
		if c == target {
			valuations[c] = Valuation{Qty: qty, Edge: decimal.NewFromInt(1)}
			total = total.Add(qty)
			continue
		}
		raw, ok, err := m.EdgeWeight(ctx, market.EdgeBest, market.QuoteCurrency, c, target)
		if err != nil {
			return nil, decimal.Zero, err
		}
		if !ok {
			continue
		}
		edgeVal, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, decimal.Zero, err
		}
		finalQty := edgeVal.Mul(qty)
		valuations[c] = Valuation{Qty: finalQty, Edge: edgeVal}
		total = total.Add(finalQty)
	}
	return valuations, total, nil
}
