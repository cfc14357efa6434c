package api

// Response payloads for the status endpoints.

// ProductInfo is a product's static configuration plus its live feed
// sequence.
type ProductInfo struct {
	ID             string `json:"id"`
	Base           string `json:"base_currency"`
	Quote          string `json:"quote_currency"`
	QuoteIncrement string `json:"quote_increment"`
	BaseMinSize    string `json:"base_min_size"`
	Sequence       int64  `json:"sequence"`
}

// SideQuote summarizes one side of a ladder walked to the requested
// depth.
type SideQuote struct {
	Best     float64 `json:"best"`
	Worst    float64 `json:"worst"`
	Notional float64 `json:"notional"`
	Excess   float64 `json:"excess"`
}

type BookStatus struct {
	ProductID    string     `json:"product_id"`
	Sequence     int64      `json:"sequence"`
	Depth        float64    `json:"depth"`
	Bid          *SideQuote `json:"bid,omitempty"`
	Ask          *SideQuote `json:"ask,omitempty"`
	SpreadLocked bool       `json:"spread_locked"`
}

// CycleInfo is one conversion cycle and its product of edge weights.
// Values above 1 are profitable before fees.
type CycleInfo struct {
	Value float64  `json:"value"`
	Path  []string `json:"path"`
}

type PortfolioEntry struct {
	Currency  string `json:"currency"`
	Balance   string `json:"balance"`
	Available string `json:"available"`
}

type PortfolioStatus struct {
	Currencies        []PortfolioEntry `json:"currencies"`
	Valuation         string           `json:"valuation"`
	ValuationCurrency string           `json:"valuation_currency"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
