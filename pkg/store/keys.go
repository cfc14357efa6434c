package store

import (
	"fmt"

	"github.com/openloop/cyclearb/pkg/market"
)

// Redis key schema. The live DB is flushed on every bootstrap; the
// persistent DB keeps operator targets and balance history across restarts.
//
// Live DB:
//   order_book:book:{product}:{side}                          → ZSET score=price member=sum key
//   order_book:book:{product}:{side}:{price:.5f}:order_size_sum → numeric string
//   order_book:book:{product}:{side}:{price:.5f}:order_list   → HASH order_id → size
//   order_book:history:trades:{product}:{side}:{type}         → ZSET score=unix sec member=bucket key
//   order_book:history:trades:{product}:{side}:{type}:{sec}   → running size sum
//   order_book:changed_products:{side}                        → SET of product ids
//   network:price:{edge}:{quote}:{src}                        → HASH dst → weight
//   network:quantity:{edge}:{quote}:{src}                     → HASH dst → qty
//   portfolio:balance:{currency}, portfolio:available:{currency} → numeric string
//
// Persistent DB:
//   portfolio:min_fraction:{currency}, portfolio:max_fraction:{currency}
//   portfolio:balance:{currency}                              → ZSET score=unix sec member=qty

const (
	prefixBook    = "order_book:book"
	prefixHistory = "order_book:history:trades"
	prefixChanged = "order_book:changed_products"
	prefixNetwork = "network"
	prefixFolio   = "portfolio"
)

// BookKey returns the per-side price ladder key
// Format: "order_book:book:{product}:{side}"
func BookKey(productID string, side market.Side) string {
	return fmt.Sprintf("%s:%s:%s", prefixBook, productID, side)
}

// PriceKey renders a price the way every per-price key embeds it:
// zero-padded to five decimals.
func PriceKey(price float64) string {
	return fmt.Sprintf("%.5f", price)
}

// SumKey returns the per-price size sum key; it doubles as the ladder
// member for that price.
// Format: "order_book:book:{product}:{side}:{price:.5f}:order_size_sum"
func SumKey(productID string, side market.Side, price float64) string {
	return fmt.Sprintf("%s:%s:order_size_sum", BookKey(productID, side), PriceKey(price))
}

// OrderListKey returns the per-price order map key
// Format: "order_book:book:{product}:{side}:{price:.5f}:order_list"
func OrderListKey(productID string, side market.Side, price float64) string {
	return fmt.Sprintf("%s:%s:order_list", BookKey(productID, side), PriceKey(price))
}

// TradeHistoryKey returns the per-(side, type) trade stream key
// Format: "order_book:history:trades:{product}:{side}:{type}"
func TradeHistoryKey(productID string, side market.Side, orderType market.OrderType) string {
	return fmt.Sprintf("%s:%s:%s:%s", prefixHistory, productID, side, orderType)
}

// TradeBucketKey returns the per-second aggregate key inside a trade stream
// Format: "{stream}:{sec}"
func TradeBucketKey(streamKey string, sec int64) string {
	return fmt.Sprintf("%s:%d", streamKey, sec)
}

// ChangedProductsKey returns the per-side dirty product set key
// Format: "order_book:changed_products:{side}"
func ChangedProductsKey(side market.Side) string {
	return fmt.Sprintf("%s:%s", prefixChanged, side)
}

// NetworkPriceKey returns the outgoing price-edge hash for a source currency
// Format: "network:price:{edge}:{quote}:{src}"
func NetworkPriceKey(edge market.EdgeType, quote market.QuoteType, src market.Currency) string {
	return fmt.Sprintf("%s:price:%s:%s:%s", prefixNetwork, edge, quote, src)
}

// NetworkQtyKey returns the outgoing quantity-edge hash for a source currency
// Format: "network:quantity:{edge}:{quote}:{src}"
func NetworkQtyKey(edge market.EdgeType, quote market.QuoteType, src market.Currency) string {
	return fmt.Sprintf("%s:quantity:%s:%s:%s", prefixNetwork, edge, quote, src)
}

// BalanceKey returns the current balance mirror key (live DB) and the
// balance history zset key (persistent DB)
// Format: "portfolio:balance:{currency}"
func BalanceKey(c market.Currency) string {
	return fmt.Sprintf("%s:balance:%s", prefixFolio, c)
}

// AvailableKey returns the available (balance minus holds) mirror key
// Format: "portfolio:available:{currency}"
func AvailableKey(c market.Currency) string {
	return fmt.Sprintf("%s:available:%s", prefixFolio, c)
}

// MinFractionKey returns the operator-tunable portfolio floor key
// Format: "portfolio:min_fraction:{currency}"
func MinFractionKey(c market.Currency) string {
	return fmt.Sprintf("%s:min_fraction:%s", prefixFolio, c)
}

// MaxFractionKey returns the operator-tunable portfolio ceiling key
// Format: "portfolio:max_fraction:{currency}"
func MaxFractionKey(c market.Currency) string {
	return fmt.Sprintf("%s:max_fraction:%s", prefixFolio, c)
}
