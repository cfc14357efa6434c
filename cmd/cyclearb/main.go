package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openloop/cyclearb/params"
	"github.com/openloop/cyclearb/pkg/api"
	"github.com/openloop/cyclearb/pkg/book"
	"github.com/openloop/cyclearb/pkg/exchange"
	"github.com/openloop/cyclearb/pkg/feed"
	"github.com/openloop/cyclearb/pkg/market"
	"github.com/openloop/cyclearb/pkg/metrics"
	"github.com/openloop/cyclearb/pkg/network"
	"github.com/openloop/cyclearb/pkg/portfolio"
	"github.com/openloop/cyclearb/pkg/store"
	"github.com/openloop/cyclearb/pkg/util"
)

const restartPause = 5 * time.Second

func main() {
	cfg := params.LoadFromEnv("")

	logPath := cfg.LogFile
	if logPath == "" {
		logPath = "data/cyclearb.log"
	}
	logger, err := util.NewLoggerWithFile(cfg.Debug, logPath)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger initialized", "log_file", logPath, "debug", cfg.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Every pass rebuilds the world from scratch: flush the live store,
	// rebootstrap books over REST and resubscribe to the feed. A sequence
	// gap or any worker failure lands back here.
	for {
		err := run(ctx, cfg, sugar)
		if ctx.Err() != nil {
			sugar.Infow("trader stopped")
			return
		}
		metrics.Restarts.Inc()
		sugar.Errorw("trader run failed, restarting", "err", err, "pause_s", restartPause.Seconds())
		select {
		case <-ctx.Done():
			sugar.Infow("trader stopped")
			return
		case <-time.After(restartPause):
		}
	}
}

func run(ctx context.Context, cfg params.Config, log *zap.SugaredLogger) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	clock := util.RealClock{}

	live, err := store.Open(runCtx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.LiveDB)
	if err != nil {
		return fmt.Errorf("failed to open live store: %w", err)
	}
	defer live.Close()
	persistent, err := store.Open(runCtx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.PersistentDB)
	if err != nil {
		return fmt.Errorf("failed to open persistent store: %w", err)
	}
	defer persistent.Close()

	// Ladders, trade history, edges and balance mirrors are rebuilt from
	// snapshots; state from a previous run must not leak in.
	if err := live.FlushDB(runCtx); err != nil {
		return fmt.Errorf("failed to flush live store: %w", err)
	}

	rest, err := exchange.NewClient(cfg.Exchange, clock, log)
	if err != nil {
		return fmt.Errorf("failed to build exchange client: %w", err)
	}

	products, err := loadProducts(runCtx, rest, cfg.Exchange.Products, log)
	if err != nil {
		return err
	}

	valuation, err := market.ParseCurrency(cfg.Trader.ValuationCurrency)
	if err != nil {
		return fmt.Errorf("bad valuation currency: %w", err)
	}
	edgeType, err := market.ParseEdgeType(cfg.Trader.EdgeType)
	if err != nil {
		return fmt.Errorf("bad edge type: %w", err)
	}

	books := book.NewManager(products, live, clock, log, int64(cfg.Book.QueryBatchSize))
	netMgr := network.NewManager(live, log)

	feedClient := feed.NewClient(cfg.Exchange.FeedURL, products.IDs(), cfg.Feed.QueueSize, log)
	bookProc := book.NewProcessor(books, rest, feedClient.Books(), log)
	netProc := network.NewProcessor(books, netMgr, cfg.Network, cfg.Trader.QtyMultiplier, clock, log)

	orders := portfolio.NewOwnOrderBook(products, clock, log)
	group := portfolio.NewGroup(live, persistent, orders, netMgr, products, valuation,
		cfg.Trader.FractionCacheTTL, clock, log)
	trader, err := portfolio.NewTrader(group, netMgr, cfg.Trader, log)
	if err != nil {
		return err
	}
	readies := []<-chan struct{}{bookProc.Ready(), netProc.Ready()}
	portProc := portfolio.NewProcessor(group, trader, rest, feedClient.Portfolio(),
		cfg.Trader, readies, clock, log)

	errc := make(chan error, 5)
	workers := 1
	go func() { errc <- feedClient.Run(runCtx) }()

	// The subscription must be live before snapshots are fetched, or
	// events between the two would be missed.
	select {
	case <-feedClient.Ready():
	case err := <-errc:
		return fmt.Errorf("feed never came up: %w", err)
	case <-runCtx.Done():
		<-errc
		return runCtx.Err()
	}

	workers++
	go func() { errc <- bookProc.Run(runCtx) }()
	workers++
	go func() { errc <- netProc.Run(runCtx) }()
	workers++
	go func() { errc <- portProc.Run(runCtx) }()
	if cfg.API.Enabled {
		server := api.NewServer(cfg.API, products, books, netMgr, live, edgeType, valuation, log)
		workers++
		go func() { errc <- server.Run(runCtx) }()
	}
	log.Infow("trader running", "products", products.IDs(), "paper_trade", cfg.Trader.PaperTrade)

	// First failure wins; the rest are shut down and drained so resting
	// orders get canceled before the store is flushed again.
	first := <-errc
	cancel()
	for i := 1; i < workers; i++ {
		<-errc
	}
	return first
}

// loadProducts builds the product universe from the exchange listing. A
// product is tradable when both currencies are known, it is online and,
// if a product filter is configured, it is listed there.
func loadProducts(ctx context.Context, rest *exchange.Client, only []string, log *zap.SugaredLogger) (*market.ProductManager, error) {
	currencies, err := rest.Currencies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list currencies: %w", err)
	}
	minSizes := make(map[market.Currency]decimal.Decimal)
	for _, info := range currencies {
		c, err := market.ParseCurrency(info.ID)
		if err != nil {
			continue
		}
		minSizes[c] = info.MinSize
	}

	wanted := make(map[string]struct{}, len(only))
	for _, id := range only {
		wanted[id] = struct{}{}
	}

	listing, err := rest.Products(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	pm := market.NewProductManager()
	for _, info := range listing {
		if len(wanted) > 0 {
			if _, ok := wanted[info.ID]; !ok {
				continue
			}
		}
		if info.Status != "" && info.Status != "online" {
			continue
		}
		quote, err := market.ParseCurrency(info.QuoteCurrency)
		if err != nil {
			continue
		}
		base, err := market.ParseCurrency(info.BaseCurrency)
		if err != nil {
			continue
		}
		p, err := market.NewProduct(info.ID, quote, base, info.QuoteIncrement, info.BaseMinSize)
		if err != nil {
			log.Errorw("skipping malformed product", "product", info.ID, "err", err)
			continue
		}
		if err := pm.Register(p); err != nil {
			return nil, err
		}
		log.Infow("product registered", "product", info.ID,
			"quote_increment", info.QuoteIncrement.String(), "base_min_size", info.BaseMinSize.String())
	}
	if len(pm.IDs()) == 0 {
		return nil, errors.New("no tradable products found")
	}
	for c, minSize := range minSizes {
		pm.SetMinSize(c, minSize)
	}
	return pm, nil
}
