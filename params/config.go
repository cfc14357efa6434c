package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Redis struct {
	Addr     string
	Password string
	// LiveDB holds books, trade history, network edges and balance mirrors;
	// it is flushed on every bootstrap. PersistentDB holds operator targets
	// and balance history and survives restarts.
	LiveDB       int
	PersistentDB int
}

type Exchange struct {
	RESTURL    string
	FeedURL    string
	Key        string
	Secret     string
	Passphrase string
	// Products restricts trading to the listed ids; empty means every
	// product whose currencies are known.
	Products []string
	// Requests per second against the public and private REST endpoints.
	PublicRate  float64
	PrivateRate float64
}

type Network struct {
	// Lookback is the trade-history window feeding edge statistics.
	Lookback time.Duration
	// AggregationPeriod groups trades into buckets before averaging.
	AggregationPeriod time.Duration
	// BatchSize is how many dirty products are popped per side per pass.
	BatchSize int
	// BestEdgeQty is the quantity recorded on best-price edges, effectively
	// unbounded.
	BestEdgeQty float64
}

type Trader struct {
	// EdgeType selects which edge flavor drives trade selection
	// (best, mean, median, custom).
	EdgeType string
	// MinCycleReturn is the profitability floor; cycles at or below it are
	// never traded.
	MinCycleReturn float64
	QtyMultiplier  float64
	// StaleOpenOrders and OrderConfirmationTime bound how long own orders
	// may stay open or unconfirmed before they are flagged.
	StaleOpenOrders       time.Duration
	OrderConfirmationTime time.Duration
	// BatchSize caps feed events drained per portfolio pass.
	BatchSize int
	// FractionCacheTTL bounds staleness of operator min/max fraction reads.
	FractionCacheTTL  time.Duration
	ValuationCurrency string
	// PaperTrade computes and logs orders without submitting them.
	PaperTrade bool
	// CancelOnExit cancels all open own orders during shutdown.
	CancelOnExit bool
}

type Book struct {
	// QueryBatchSize is how many ladder levels each store read fetches
	// during depth walks.
	QueryBatchSize int
}

type Feed struct {
	QueueSize int
}

type API struct {
	Enabled    bool
	ListenAddr string
}

type Config struct {
	Debug   bool
	LogFile string

	Redis    Redis
	Exchange Exchange
	Network  Network
	Trader   Trader
	Book     Book
	Feed     Feed
	API      API
}

func Default() Config {
	return Config{
		Debug:   false,
		LogFile: "",
		Redis: Redis{
			Addr:         "localhost:6379",
			LiveDB:       0,
			PersistentDB: 1,
		},
		Exchange: Exchange{
			RESTURL:     "https://api.exchange.coinbase.com",
			FeedURL:     "wss://ws-feed.exchange.coinbase.com",
			PublicRate:  3,
			PrivateRate: 5,
		},
		Network: Network{
			Lookback:          30 * 24 * 60 * time.Second,
			AggregationPeriod: time.Second,
			BatchSize:         10,
			BestEdgeQty:       1e9,
		},
		Trader: Trader{
			EdgeType:              "mean",
			MinCycleReturn:        1.005,
			QtyMultiplier:         0.5,
			StaleOpenOrders:       300 * time.Second,
			OrderConfirmationTime: 600 * time.Second,
			BatchSize:             100,
			FractionCacheTTL:      5 * time.Second,
			ValuationCurrency:     "USD",
			PaperTrade:            true, // live submission is opt-in
			CancelOnExit:          true,
		},
		Book: Book{
			QueryBatchSize: 10,
		},
		Feed: Feed{
			QueueSize: 4096,
		},
		API: API{
			Enabled:    true,
			ListenAddr: ":8080",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	cfg.Debug = getEnvBool("DEBUG", cfg.Debug)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.LiveDB = getEnvInt("REDIS_LIVE_DB", cfg.Redis.LiveDB)
	cfg.Redis.PersistentDB = getEnvInt("REDIS_PERSISTENT_DB", cfg.Redis.PersistentDB)

	cfg.Exchange.RESTURL = getEnv("EXCHANGE_REST_URL", cfg.Exchange.RESTURL)
	cfg.Exchange.FeedURL = getEnv("EXCHANGE_FEED_URL", cfg.Exchange.FeedURL)
	cfg.Exchange.Key = getEnv("EXCHANGE_KEY", cfg.Exchange.Key)
	cfg.Exchange.Secret = getEnv("EXCHANGE_SECRET", cfg.Exchange.Secret)
	cfg.Exchange.Passphrase = getEnv("EXCHANGE_PASSPHRASE", cfg.Exchange.Passphrase)
	if products := os.Getenv("EXCHANGE_PRODUCTS"); products != "" {
		// Example: "BTC-USD,LTC-USD,LTC-BTC"
		cfg.Exchange.Products = strings.Split(products, ",")
	}
	cfg.Exchange.PublicRate = getEnvFloat("EXCHANGE_PUBLIC_RATE", cfg.Exchange.PublicRate)
	cfg.Exchange.PrivateRate = getEnvFloat("EXCHANGE_PRIVATE_RATE", cfg.Exchange.PrivateRate)

	cfg.Network.Lookback = getEnvSeconds("NETWORK_LOOKBACK_S", cfg.Network.Lookback)
	cfg.Network.AggregationPeriod = getEnvSeconds("ORDER_AGGREGATION_TIME_S", cfg.Network.AggregationPeriod)
	cfg.Network.BatchSize = getEnvInt("NETWORK_BATCH_SIZE", cfg.Network.BatchSize)
	cfg.Network.BestEdgeQty = getEnvFloat("BEST_EDGE_QTY", cfg.Network.BestEdgeQty)

	cfg.Trader.EdgeType = getEnv("EDGE_TYPE", cfg.Trader.EdgeType)
	cfg.Trader.MinCycleReturn = getEnvFloat("MIN_CYCLE_RETURN", cfg.Trader.MinCycleReturn)
	cfg.Trader.QtyMultiplier = getEnvFloat("QTY_MULTIPLIER", cfg.Trader.QtyMultiplier)
	cfg.Trader.StaleOpenOrders = getEnvSeconds("STALE_OPEN_ORDERS_S", cfg.Trader.StaleOpenOrders)
	cfg.Trader.OrderConfirmationTime = getEnvSeconds("ORDER_CONFIRMATION_TIME_S", cfg.Trader.OrderConfirmationTime)
	cfg.Trader.BatchSize = getEnvInt("TRADER_BATCH_SIZE", cfg.Trader.BatchSize)
	cfg.Trader.FractionCacheTTL = getEnvSeconds("FRACTION_CACHE_TTL_S", cfg.Trader.FractionCacheTTL)
	cfg.Trader.ValuationCurrency = getEnv("VALUATION_CURRENCY", cfg.Trader.ValuationCurrency)
	cfg.Trader.PaperTrade = getEnvBool("PAPER_TRADE", cfg.Trader.PaperTrade)
	cfg.Trader.CancelOnExit = getEnvBool("CANCEL_ON_EXIT", cfg.Trader.CancelOnExit)

	cfg.Book.QueryBatchSize = getEnvInt("BOOK_QUERY_BATCH_SIZE", cfg.Book.QueryBatchSize)

	cfg.Feed.QueueSize = getEnvInt("FEED_QUEUE_SIZE", cfg.Feed.QueueSize)

	cfg.API.Enabled = getEnvBool("API_ENABLED", cfg.API.Enabled)
	cfg.API.ListenAddr = getEnv("API_LISTEN_ADDR", cfg.API.ListenAddr)

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true"
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return defaultValue
}
