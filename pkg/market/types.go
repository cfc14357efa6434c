package market

import (
	"errors"
	"fmt"
)

// Structural failures raised by book and portfolio application. Sequence
// staleness and missing entities are not here: the former is book.ErrSequence,
// the latter is a silent no-op by contract.
var (
	ErrProductMismatch = errors.New("order product does not match book product")
	ErrBadInput        = errors.New("bad order input")
)

// Side is the resting side of the book an order lives on.
type Side int8

const (
	Bid Side = 1
	Ask Side = 2
)

func (s Side) String() string {
	switch s {
	case Bid:
		return "bid"
	case Ask:
		return "ask"
	}
	return fmt.Sprintf("Side(%d)", int8(s))
}

// Other returns the opposing side.
func (s Side) Other() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

// SideFromFeed translates feed direction to a book side: a buy rests as a
// bid, a sell rests as an ask.
func SideFromFeed(s string) (Side, error) {
	switch s {
	case "buy":
		return Bid, nil
	case "sell":
		return Ask, nil
	}
	return 0, fmt.Errorf("unknown feed side %q", s)
}

// FeedName is the inverse of SideFromFeed, used for REST submission.
func (s Side) FeedName() string {
	if s == Bid {
		return "buy"
	}
	return "sell"
}

func ParseSide(s string) (Side, error) {
	switch s {
	case "bid":
		return Bid, nil
	case "ask":
		return Ask, nil
	}
	return 0, fmt.Errorf("unknown side %q", s)
}

// Sides returns both book sides, bid first.
func Sides() []Side {
	return []Side{Bid, Ask}
}

// OrderType classifies both feed events and trade-history streams.
type OrderType int8

const (
	Limit OrderType = iota + 1
	Match
	Change
	Cancel
)

func (t OrderType) String() string {
	switch t {
	case Limit:
		return "limit"
	case Match:
		return "match"
	case Change:
		return "change"
	case Cancel:
		return "cancel"
	}
	return fmt.Sprintf("OrderType(%d)", int8(t))
}

// OrderTypes returns every trade-history stream type.
func OrderTypes() []OrderType {
	return []OrderType{Limit, Match, Change, Cancel}
}

type OrderStatus int8

const (
	Open OrderStatus = iota + 1
	Filled
	Canceled
	Unconfirmed
)

func (s OrderStatus) String() string {
	switch s {
	case Open:
		return "open"
	case Filled:
		return "filled"
	case Canceled:
		return "canceled"
	case Unconfirmed:
		return "unconfirmed"
	}
	return fmt.Sprintf("OrderStatus(%d)", int8(s))
}

// OrderStatuses lists every order status.
func OrderStatuses() []OrderStatus {
	return []OrderStatus{Open, Filled, Canceled, Unconfirmed}
}

// EdgeType selects how a network edge weight is derived from the book:
// the resting best price, or an average (mean, median, custom = mean/10)
// of recently matched size placed at maker depth.
type EdgeType int8

const (
	EdgeBest EdgeType = iota + 1
	EdgeMean
	EdgeMedian
	EdgeCustom
)

func (e EdgeType) String() string {
	switch e {
	case EdgeBest:
		return "best"
	case EdgeMean:
		return "mean"
	case EdgeMedian:
		return "median"
	case EdgeCustom:
		return "custom"
	}
	return fmt.Sprintf("EdgeType(%d)", int8(e))
}

func ParseEdgeType(s string) (EdgeType, error) {
	switch s {
	case "best":
		return EdgeBest, nil
	case "mean":
		return EdgeMean, nil
	case "median":
		return EdgeMedian, nil
	case "custom":
		return EdgeCustom, nil
	}
	return 0, fmt.Errorf("unknown edge type %q", s)
}

// EdgeTypes returns every edge flavor.
func EdgeTypes() []EdgeType {
	return []EdgeType{EdgeBest, EdgeMean, EdgeMedian, EdgeCustom}
}

// QuoteType selects the weight view of the network: product keeps the
// product's native quote price, currency normalizes so that traversing the
// edge multiplies a held source quantity into destination units.
type QuoteType int8

const (
	QuoteProduct QuoteType = iota + 1
	QuoteCurrency
)

func (q QuoteType) String() string {
	switch q {
	case QuoteProduct:
		return "product"
	case QuoteCurrency:
		return "currency"
	}
	return fmt.Sprintf("QuoteType(%d)", int8(q))
}

// QuoteTypes returns both weight views.
func QuoteTypes() []QuoteType {
	return []QuoteType{QuoteProduct, QuoteCurrency}
}
