package market

import "fmt"

// Currency is a closed enumeration ordered by volatility rank. The ordering
// is total and stable: the reference stablecoin ranks greatest and is the
// tie-break for cycle canonicalization. New currencies must slot into the
// ordering without reshuffling existing ranks.
type Currency int8

const (
	LTC Currency = 1
	ETH Currency = 2
	BTC Currency = 3
	USD Currency = 4
)

var currencyNames = map[Currency]string{
	LTC: "LTC",
	ETH: "ETH",
	BTC: "BTC",
	USD: "USD",
}

var currencyValues = map[string]Currency{
	"LTC": LTC,
	"ETH": ETH,
	"BTC": BTC,
	"USD": USD,
}

func (c Currency) String() string {
	if name, ok := currencyNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Currency(%d)", int8(c))
}

// ParseCurrency maps a ticker symbol to its Currency value.
// Returns error for symbols outside the closed set.
func ParseCurrency(s string) (Currency, error) {
	if c, ok := currencyValues[s]; ok {
		return c, nil
	}
	return 0, fmt.Errorf("unknown currency %q", s)
}

// Currencies returns the closed set in ascending volatility-rank order.
func Currencies() []Currency {
	return []Currency{LTC, ETH, BTC, USD}
}
