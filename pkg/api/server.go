package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openloop/cyclearb/params"
	"github.com/openloop/cyclearb/pkg/book"
	"github.com/openloop/cyclearb/pkg/market"
	"github.com/openloop/cyclearb/pkg/network"
	"github.com/openloop/cyclearb/pkg/store"
)

const (
	defaultBookDepth = 1.0
	shutdownTimeout  = 5 * time.Second
)

// Server exposes read-only operational state over HTTP. Every answer
// comes from the store or from atomic book counters, so handlers never
// reach into the trading goroutines.
type Server struct {
	cfg       params.API
	products  *market.ProductManager
	books     *book.Manager
	net       *network.Manager
	st        *store.Store
	edgeType  market.EdgeType
	valuation market.Currency
	router    *mux.Router
	log       *zap.SugaredLogger
}

func NewServer(cfg params.API, products *market.ProductManager, books *book.Manager,
	net *network.Manager, st *store.Store, edgeType market.EdgeType,
	valuation market.Currency, log *zap.SugaredLogger) *Server {
	s := &Server{
		cfg:       cfg,
		products:  products,
		books:     books,
		net:       net,
		st:        st,
		edgeType:  edgeType,
		valuation: valuation,
		router:    mux.NewRouter(),
		log:       log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/products", s.handleGetProducts).Methods("GET")
	api.HandleFunc("/book/{product}", s.handleGetBook).Methods("GET")
	api.HandleFunc("/cycles", s.handleGetCycles).Methods("GET")
	api.HandleFunc("/portfolio", s.handleGetPortfolio).Methods("GET")

	s.router.Handle("/metrics", promhttp.Handler())
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler is the routed handler with CORS applied; split out so tests
// can drive it without a listener.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(s.router)
}

// Run serves until ctx is canceled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.ListenAddr, Handler: s.Handler()}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Infow("status api listening", "addr", s.cfg.ListenAddr)

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errc:
		return err
	}
}

func (s *Server) handleGetProducts(w http.ResponseWriter, r *http.Request) {
	products := s.products.List()

	response := make([]ProductInfo, len(products))
	for i, p := range products {
		response[i] = ProductInfo{
			ID:             p.ID,
			Base:           p.Base.String(),
			Quote:          p.Quote.String(),
			QuoteIncrement: p.QuoteIncrement.String(),
			BaseMinSize:    p.BaseMinSize.String(),
			Sequence:       s.books.Sequence(p.ID),
		}
	}

	respondJSON(w, response)
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["product"]
	bk, ok := s.books.Book(id)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown product", id)
		return
	}

	depth := defaultBookDepth
	if raw := r.URL.Query().Get("depth"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "bad depth", raw)
			return
		}
		depth = parsed
	}

	response := BookStatus{ProductID: id, Sequence: bk.Sequence(), Depth: depth}
	for _, side := range market.Sides() {
		quote, ok, err := bk.GetPrice(r.Context(), side, depth)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "book query failed", err.Error())
			return
		}
		if !ok {
			continue
		}
		sq := &SideQuote{
			Best:     quote.Best,
			Worst:    quote.Worst,
			Notional: quote.Notional,
			Excess:   quote.Excess,
		}
		if side == market.Bid {
			response.Bid = sq
		} else {
			response.Ask = sq
		}
	}

	locked, err := bk.SpreadLocked(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "book query failed", err.Error())
		return
	}
	response.SpreadLocked = locked

	respondJSON(w, response)
}

func (s *Server) handleGetCycles(w http.ResponseWriter, r *http.Request) {
	et := s.edgeType
	if raw := r.URL.Query().Get("edge"); raw != "" {
		parsed, err := market.ParseEdgeType(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "bad edge type", raw)
			return
		}
		et = parsed
	}

	cycles, err := s.net.CyclesByValue(r.Context(), et, market.QuoteCurrency)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "cycle query failed", err.Error())
		return
	}

	values := make([]float64, 0, len(cycles))
	for v := range cycles {
		values = append(values, v)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(values)))

	response := make([]CycleInfo, 0, len(values))
	for _, v := range values {
		path := make([]string, len(cycles[v]))
		for i, c := range cycles[v] {
			path[i] = c.String()
		}
		response = append(response, CycleInfo{Value: v, Path: path})
	}

	respondJSON(w, response)
}

func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	currencies := s.products.Currencies()

	qtys := make(map[market.Currency]decimal.Decimal)
	entries := make([]PortfolioEntry, 0, len(currencies))
	for _, c := range currencies {
		entry := PortfolioEntry{Currency: c.String(), Balance: "0", Available: "0"}

		raw, ok, err := s.st.Get(ctx, store.BalanceKey(c))
		if err != nil {
			respondError(w, http.StatusInternalServerError, "store read failed", err.Error())
			return
		}
		if ok {
			entry.Balance = raw
			if qty, err := decimal.NewFromString(raw); err == nil {
				qtys[c] = qty
			}
		}

		raw, ok, err = s.st.Get(ctx, store.AvailableKey(c))
		if err != nil {
			respondError(w, http.StatusInternalServerError, "store read failed", err.Error())
			return
		}
		if ok {
			entry.Available = raw
		}

		entries = append(entries, entry)
	}

	response := PortfolioStatus{
		Currencies:        entries,
		Valuation:         "0",
		ValuationCurrency: s.valuation.String(),
	}
	if _, total, err := s.net.ValuePortfolio(ctx, qtys, s.valuation); err == nil {
		response.Valuation = total.String()
	} else {
		respondError(w, http.StatusInternalServerError, "valuation failed", err.Error())
		return
	}

	respondJSON(w, response)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.st.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store unreachable", err.Error())
		return
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
