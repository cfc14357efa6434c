package portfolio

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openloop/cyclearb/params"
	"github.com/openloop/cyclearb/pkg/exchange"
	"github.com/openloop/cyclearb/pkg/feed"
	"github.com/openloop/cyclearb/pkg/market"
	"github.com/openloop/cyclearb/pkg/metrics"
	"github.com/openloop/cyclearb/pkg/util"
)

// Exchange is the slice of the REST client the portfolio worker needs.
type Exchange interface {
	Accounts(ctx context.Context) ([]exchange.Account, error)
	OpenOrders(ctx context.Context) ([]exchange.OrderResponse, error)
	PlaceOrder(ctx context.Context, req *exchange.OrderRequest) (*exchange.OrderResponse, error)
	CancelOrder(ctx context.Context, orderID string) error
	CancelAll(ctx context.Context, productID string) error
}

const (
	// tradePassInterval paces decision passes; each one walks every cycle.
	tradePassInterval = time.Second
	// scanInterval paces the stale and unconfirmed order sweeps.
	scanInterval = 30 * time.Second
	// shutdownTimeout bounds the cancel-all on exit.
	shutdownTimeout = 10 * time.Second
)

// Processor owns the account state. It seeds balances and resting orders
// from the exchange, folds feed events about our own orders into the
// group, and once every worker is ready runs trade passes that may place
// new maker orders.
type Processor struct {
	group  *Group
	trader *Trader
	ex     Exchange
	events <-chan *feed.Message

	cfg        params.Trader
	registered map[string]struct{}
	readies    []<-chan struct{}
	allReady   bool

	clock util.Clock
	log   *zap.SugaredLogger
}

func NewProcessor(group *Group, trader *Trader, ex Exchange, events <-chan *feed.Message,
	cfg params.Trader, readies []<-chan struct{}, clock util.Clock, log *zap.SugaredLogger) *Processor {
	return &Processor{
		group:      group,
		trader:     trader,
		ex:         ex,
		events:     events,
		cfg:        cfg,
		registered: make(map[string]struct{}),
		readies:    readies,
		clock:      clock,
		log:        log,
	}
}

func (p *Processor) Run(ctx context.Context) error {
	if err := p.Bootstrap(ctx); err != nil {
		return fmt.Errorf("failed to bootstrap portfolio: %w", err)
	}

	tradeTimer := p.clock.After(tradePassInterval)
	scanTimer := p.clock.After(scanInterval)
	for {
		select {
		case <-ctx.Done():
			p.shutdown()
			return ctx.Err()
		case msg, ok := <-p.events:
			if !ok {
				p.shutdown()
				return nil
			}
			p.handleMessage(ctx, msg)
			p.drainEvents(ctx)
		case <-tradeTimer:
			if p.ready() {
				p.createOrders(ctx)
			}
			tradeTimer = p.clock.After(tradePassInterval)
		case <-scanTimer:
			p.scanOrders()
			scanTimer = p.clock.After(scanInterval)
		}
	}
}

// Bootstrap loads account balances and already-resting orders so holds and
// fills line up with what the exchange believes.
func (p *Processor) Bootstrap(ctx context.Context) error {
	currencies := make(map[market.Currency]struct{})
	for _, c := range p.group.Currencies() {
		currencies[c] = struct{}{}
	}
	accounts, err := p.ex.Accounts(ctx)
	if err != nil {
		return err
	}
	for _, account := range accounts {
		c, err := market.ParseCurrency(account.Currency)
		if err != nil {
			continue
		}
		if _, ok := currencies[c]; !ok {
			continue
		}
		if err := p.group.Credit(ctx, c, account.Balance); err != nil {
			return err
		}
		p.log.Infow("balance loaded", "currency", c.String(), "balance", account.Balance.String())
	}

	open, err := p.ex.OpenOrders(ctx)
	if err != nil {
		return err
	}
	for i := range open {
		o, err := orderFromResponse(&open[i])
		if err != nil {
			p.log.Errorw("skipping unparseable open order", "order_id", open[i].ID, "err", err)
			continue
		}
		if _, err := p.group.products.Get(o.ProductID); err != nil {
			continue
		}
		o.Confirmed = true
		p.group.orders.Add(o)
		p.register(o.OrderID)
		p.log.Infow("resting order loaded", "order", o.String(), "age_s", p.clock.Now().Sub(o.CreatedAt).Seconds())
	}
	return nil
}

func (p *Processor) register(orderID string)   { p.registered[orderID] = struct{}{} }
func (p *Processor) deregister(orderID string) { delete(p.registered, orderID) }

func (p *Processor) ready() bool {
	if p.allReady {
		return true
	}
	for _, ch := range p.readies {
		select {
		case <-ch:
		default:
			return false
		}
	}
	p.allReady = true
	p.log.Infow("all workers ready, trading enabled", "paper_trade", p.cfg.PaperTrade)
	return true
}

// drainEvents consumes queued feed events without blocking, bounded per
// pass so a decision pass still runs under heavy traffic.
func (p *Processor) drainEvents(ctx context.Context) {
	for i := 0; i < p.cfg.BatchSize; i++ {
		select {
		case msg, ok := <-p.events:
			if !ok {
				return
			}
			p.handleMessage(ctx, msg)
		default:
			return
		}
	}
}

// handleMessage folds one feed event about our own orders into the group.
// Events about orders we never placed are dropped.
func (p *Processor) handleMessage(ctx context.Context, msg *feed.Message) {
	orderID, ok := msg.RefersTo()
	if !ok {
		return
	}
	if _, mine := p.registered[orderID]; !mine {
		return
	}

	switch msg.Type {
	case "done":
		p.log.Infow("own order done", "order_id", msg.OrderID, "reason", msg.Reason, "remaining", msg.RemainingSize)
		status := market.Canceled
		if msg.Reason == "filled" {
			status = market.Filled
		}
		if err := p.group.HandleDone(msg.OrderID, status); err != nil {
			p.log.Errorw("failed to settle done order", "order_id", msg.OrderID, "err", err)
			return
		}
		p.deregister(msg.OrderID)
	case "match":
		p.log.Infow("own order matched", "order_id", msg.MakerOrderID, "size", msg.Size)
		size, err := decimal.NewFromString(msg.Size)
		if err != nil {
			p.log.Errorw("bad match size", "order_id", msg.MakerOrderID, "size", msg.Size, "err", err)
			return
		}
		if err := p.group.HandleMatch(ctx, msg.MakerOrderID, size); err != nil {
			p.log.Errorw("failed to book fill", "order_id", msg.MakerOrderID, "err", err)
		}
	case "received", "open":
		if err := p.group.orders.Confirm(orderID); err != nil {
			p.log.Errorw("failed to confirm order", "order_id", orderID, "err", err)
			return
		}
		p.log.Infow("own order confirmed", "order_id", orderID, "type", msg.Type)
	case "change":
		p.log.Errorw("own order changed unexpectedly", "order_id", msg.OrderID)
	default:
		p.log.Errorw("unrecognized own-order event", "type", msg.Type, "order_id", orderID)
	}
}

// createOrders runs one decision pass and submits what it finds. A
// placement failure cancels the orders already created in this pass so a
// cycle is never left half-entered.
func (p *Processor) createOrders(ctx context.Context) {
	orders, err := p.trader.NextOrders(ctx)
	if err != nil {
		p.log.Errorw("decision pass failed", "err", err)
		return
	}
	if p.cfg.PaperTrade {
		for _, o := range orders {
			p.log.Infow("paper order", "order", o.String())
		}
		return
	}

	var created []string
	for _, o := range orders {
		req := &exchange.OrderRequest{
			ClientOID:   uuid.NewString(),
			ProductID:   o.ProductID,
			Side:        o.Side.FeedName(),
			Type:        "limit",
			Price:       o.Price.String(),
			Size:        o.Size.String(),
			TimeInForce: "GTC",
			PostOnly:    true,
		}
		p.log.Infow("placing order", "side", req.Side, "product", req.ProductID, "price", req.Price, "size", req.Size)
		resp, err := p.ex.PlaceOrder(ctx, req)
		if err != nil {
			p.log.Errorw("order placement failed", "product", req.ProductID, "err", err)
			metrics.OrdersRejected.Inc()
			for _, id := range created {
				p.cancelOrder(ctx, id)
				metrics.OrderRollbacks.Inc()
			}
			return
		}
		placed, err := orderFromResponse(resp)
		if err != nil {
			p.log.Errorw("failed to parse placement response", "order_id", resp.ID, "err", err)
			continue
		}
		placed.Confirmed = false
		p.group.orders.Add(placed)
		p.register(placed.OrderID)
		created = append(created, placed.OrderID)
		metrics.OrdersPlaced.WithLabelValues(req.Side).Inc()
	}
}

// cancelOrder asks the exchange to cancel and marks the order canceled
// locally so it is not canceled twice; the feed will confirm.
func (p *Processor) cancelOrder(ctx context.Context, orderID string) {
	if err := p.ex.CancelOrder(ctx, orderID); err != nil {
		p.log.Errorw("failed to cancel order", "order_id", orderID, "err", err)
		return
	}
	if _, err := p.group.orders.MarkCanceled(orderID); err != nil {
		p.log.Errorw("failed to mark order canceled", "order_id", orderID, "err", err)
	}
}

// scanOrders reports resting orders that look wrong: confirmed ones older
// than the stale bound and unconfirmed ones past the confirmation window.
// Both are observed only; cancellation stays a manual call.
func (p *Processor) scanOrders() {
	if unconfirmed := p.group.orders.ExpiredUnconfirmed(p.cfg.OrderConfirmationTime); len(unconfirmed) > 0 {
		p.log.Errorw("orders never confirmed by the feed", "order_ids", unconfirmed)
	}
	if stale := p.group.orders.StaleOpen(p.cfg.StaleOpenOrders); len(stale) > 0 {
		p.log.Infow("stale open orders", "order_ids", stale)
	}
}

func (p *Processor) shutdown() {
	if !p.cfg.CancelOnExit || p.cfg.PaperTrade {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, id := range p.group.products.IDs() {
		if err := p.ex.CancelAll(ctx, id); err != nil {
			p.log.Errorw("failed to cancel remaining orders", "product", id, "err", err)
			continue
		}
	}
	p.log.Infow("remaining orders canceled")
}

func orderFromResponse(resp *exchange.OrderResponse) (*market.Order, error) {
	side, err := market.SideFromFeed(resp.Side)
	if err != nil {
		return nil, err
	}
	o := market.NewOrder(resp.ProductID, 0, side, resp.Size, resp.Price)
	o.OrderID = resp.ID
	o.FilledSize = resp.FilledSize
	if !resp.CreatedAt.IsZero() {
		o.CreatedAt = resp.CreatedAt
	}
	return o, nil
}
