package market

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Product is an immutable currency pair. QuoteIncrement is the price tick;
// BaseMinSize is the smallest tradable base quantity and the rounding unit
// for order sizes.
type Product struct {
	ID             string
	Quote          Currency
	Base           Currency
	QuoteIncrement decimal.Decimal
	BaseMinSize    decimal.Decimal
}

func NewProduct(id string, quote, base Currency, quoteIncrement, baseMinSize decimal.Decimal) (*Product, error) {
	if quote == base {
		return nil, fmt.Errorf("product %s: quote and base currency are equal", id)
	}
	if !quoteIncrement.IsPositive() {
		return nil, fmt.Errorf("product %s: quote increment %s is not positive", id, quoteIncrement)
	}
	if !baseMinSize.IsPositive() {
		return nil, fmt.Errorf("product %s: base min size %s is not positive", id, baseMinSize)
	}
	return &Product{
		ID:             id,
		Quote:          quote,
		Base:           base,
		QuoteIncrement: quoteIncrement,
		BaseMinSize:    baseMinSize,
	}, nil
}

// Has reports whether c is one of the product's two currencies.
func (p *Product) Has(c Currency) bool {
	return c == p.Quote || c == p.Base
}

// Matches reports whether {src, dst} is exactly the product's currency set.
func (p *Product) Matches(src, dst Currency) bool {
	return (src == p.Quote && dst == p.Base) || (src == p.Base && dst == p.Quote)
}

// Source is the currency spent by an order on the given side: a bid spends
// quote for base, an ask spends base for quote.
func (p *Product) Source(side Side) Currency {
	if side == Bid {
		return p.Quote
	}
	return p.Base
}

// Destination is the currency received by an order on the given side.
func (p *Product) Destination(side Side) Currency {
	if side == Bid {
		return p.Base
	}
	return p.Quote
}

// SideFromDirection maps a (source, destination) currency move onto the side
// an order must rest on. ok is false when {src, dst} is not the product's
// currency set.
func (p *Product) SideFromDirection(src, dst Currency) (Side, bool) {
	switch {
	case src == p.Quote && dst == p.Base:
		return Bid, true
	case src == p.Base && dst == p.Quote:
		return Ask, true
	}
	return 0, false
}

// RoundPrice rounds to the nearest quote increment, ties to even.
func (p *Product) RoundPrice(price decimal.Decimal) decimal.Decimal {
	return price.Div(p.QuoteIncrement).RoundBank(0).Mul(p.QuoteIncrement)
}

// LowerPrice is one increment below the rounded price.
func (p *Product) LowerPrice(price decimal.Decimal) decimal.Decimal {
	return p.RoundPrice(price).Sub(p.QuoteIncrement)
}

// HigherPrice is one increment above the rounded price.
func (p *Product) HigherPrice(price decimal.Decimal) decimal.Decimal {
	return p.RoundPrice(price).Add(p.QuoteIncrement)
}

// RoundQuantity rounds a base quantity down to a multiple of BaseMinSize.
// Rounding is always toward zero so a sized order can never exceed the
// quantity it was derived from.
func (p *Product) RoundQuantity(qty decimal.Decimal) decimal.Decimal {
	return qty.Div(p.BaseMinSize).RoundDown(0).Mul(p.BaseMinSize)
}

// QuoteToCurrencyPrice converts a product-quote price into c's terms:
// identity for the quote currency, reciprocal otherwise. Used for network
// edge weights, which tolerate float arithmetic.
func (p *Product) QuoteToCurrencyPrice(c Currency, price float64) float64 {
	if c == p.Quote {
		return price
	}
	return 1 / price
}

// QuoteQtyFromCurrencyQty converts a quantity of currency c into base-qty
// terms at the given quote price: identity for the base currency, division
// otherwise.
func (p *Product) QuoteQtyFromCurrencyQty(c Currency, qty, price decimal.Decimal) decimal.Decimal {
	if c == p.Base {
		return qty
	}
	return qty.Div(price)
}

// CurrencyQtyFromQuoteQty converts a base quantity into units of currency c
// at the given quote price: identity for the base currency, multiplication
// otherwise.
func (p *Product) CurrencyQtyFromQuoteQty(c Currency, qty, price decimal.Decimal) decimal.Decimal {
	if c == p.Base {
		return qty
	}
	return qty.Mul(price)
}

// CurrencyQtyFromQuoteQtyFloat is CurrencyQtyFromQuoteQty in float terms
// for the depth and edge math, where ladder precision already rules.
func (p *Product) CurrencyQtyFromQuoteQtyFloat(c Currency, qty, price float64) float64 {
	if c == p.Base {
		return qty
	}
	return qty * price
}
