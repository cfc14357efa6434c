package portfolio

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openloop/cyclearb/pkg/market"
	"github.com/openloop/cyclearb/pkg/util"
)

// OwnOrderBook tracks the orders this process placed, partitioned by
// status. It backs the hold math, so it must see every fill and cancel the
// feed reports for our ids.
type OwnOrderBook struct {
	mu       sync.RWMutex
	products *market.ProductManager
	orders   map[market.OrderStatus]map[string]*market.Order
	clock    util.Clock
	log      *zap.SugaredLogger
}

func NewOwnOrderBook(pm *market.ProductManager, clock util.Clock, log *zap.SugaredLogger) *OwnOrderBook {
	orders := make(map[market.OrderStatus]map[string]*market.Order)
	for _, status := range market.OrderStatuses() {
		orders[status] = make(map[string]*market.Order)
	}
	return &OwnOrderBook{
		products: pm,
		orders:   orders,
		clock:    clock,
		log:      log,
	}
}

// Add tracks an order under its current status.
func (ob *OwnOrderBook) Add(o *market.Order) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	ob.orders[o.Status][o.OrderID] = o
	ob.log.Infow("own order tracked", "order", o.String(), "status", o.Status.String())
}

// Get finds an order in any status partition.
func (ob *OwnOrderBook) Get(orderID string) (*market.Order, market.OrderStatus, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.lookup(orderID)
}

func (ob *OwnOrderBook) lookup(orderID string) (*market.Order, market.OrderStatus, bool) {
	for status, byID := range ob.orders {
		if o, ok := byID[orderID]; ok {
			return o, status, true
		}
	}
	return nil, 0, false
}

// Open returns a snapshot of the open orders keyed by id.
func (ob *OwnOrderBook) Open() map[string]*market.Order {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	out := make(map[string]*market.Order, len(ob.orders[market.Open]))
	for id, o := range ob.orders[market.Open] {
		out[id] = o
	}
	return out
}

// OpenIDs lists the open order ids.
func (ob *OwnOrderBook) OpenIDs() []string {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	ids := make([]string, 0, len(ob.orders[market.Open]))
	for id := range ob.orders[market.Open] {
		ids = append(ids, id)
	}
	return ids
}

// AnyOpen reports whether any order is still resting.
func (ob *OwnOrderBook) AnyOpen() bool {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return len(ob.orders[market.Open]) > 0
}

func (ob *OwnOrderBook) updateStatus(orderID string, status market.OrderStatus) (*market.Order, error) {
	o, current, ok := ob.lookup(orderID)
	if !ok {
		return nil, fmt.Errorf("order %s is not tracked", orderID)
	}
	delete(ob.orders[current], orderID)
	o.Status = status
	ob.orders[status][orderID] = o
	return o, nil
}

// MarkFilled moves an order to the filled partition.
func (ob *OwnOrderBook) MarkFilled(orderID string) (*market.Order, error) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	ob.log.Infow("own order filled", "order_id", orderID)
	return ob.updateStatus(orderID, market.Filled)
}

// MarkCanceled moves an order to the canceled partition.
func (ob *OwnOrderBook) MarkCanceled(orderID string) (*market.Order, error) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	ob.log.Infow("own order canceled", "order_id", orderID)
	return ob.updateStatus(orderID, market.Canceled)
}

// Confirm records that the exchange acknowledged the order on the feed.
func (ob *OwnOrderBook) Confirm(orderID string) error {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	o, _, ok := ob.lookup(orderID)
	if !ok {
		return fmt.Errorf("order %s is not tracked", orderID)
	}
	o.Confirmed = true
	return nil
}

// Match applies a partial fill to a tracked order.
func (ob *OwnOrderBook) Match(orderID string, qty decimal.Decimal) (*market.Order, error) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	o, _, ok := ob.lookup(orderID)
	if !ok {
		return nil, fmt.Errorf("order %s is not tracked", orderID)
	}
	if err := o.Fill(qty); err != nil {
		ob.log.Errorw("overfilled own order", "order_id", orderID, "qty", qty.String(), "err", err)
	}
	return o, nil
}

// Remove forgets an order entirely.
func (ob *OwnOrderBook) Remove(orderID string) (*market.Order, bool) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	o, status, ok := ob.lookup(orderID)
	if !ok {
		return nil, false
	}
	delete(ob.orders[status], orderID)
	return o, true
}

// HoldQty sums, in units of c, what open orders sourcing c would spend if
// fully filled.
func (ob *OwnOrderBook) HoldQty(c market.Currency) (decimal.Decimal, error) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	hold := decimal.Zero
	for _, o := range ob.orders[market.Open] {
		product, err := ob.products.Get(o.ProductID)
		if err != nil {
			return decimal.Zero, err
		}
		if c != product.Source(o.Side) {
			continue
		}
		hold = hold.Add(product.CurrencyQtyFromQuoteQty(c, o.Remaining(), o.Price))
	}
	return hold, nil
}

// EdgeQty sums the remaining base quantity of open orders already working
// the src to dst conversion.
func (ob *OwnOrderBook) EdgeQty(src, dst market.Currency) (decimal.Decimal, error) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	qty := decimal.Zero
	for _, o := range ob.orders[market.Open] {
		product, err := ob.products.Get(o.ProductID)
		if err != nil {
			return decimal.Zero, err
		}
		side, ok := product.SideFromDirection(src, dst)
		if !ok || side != o.Side {
			continue
		}
		qty = qty.Add(o.Remaining())
	}
	return qty, nil
}

// StaleOpen lists confirmed open orders older than age.
func (ob *OwnOrderBook) StaleOpen(age time.Duration) []string {
	return ob.openOlderThan(age, true)
}

// ExpiredUnconfirmed lists open orders the feed never acknowledged within
// age.
func (ob *OwnOrderBook) ExpiredUnconfirmed(age time.Duration) []string {
	return ob.openOlderThan(age, false)
}

func (ob *OwnOrderBook) openOlderThan(age time.Duration, confirmed bool) []string {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	now := ob.clock.Now()
	var ids []string
	for id, o := range ob.orders[market.Open] {
		if o.Confirmed == confirmed && now.Sub(o.CreatedAt) > age {
			ids = append(ids, id)
		}
	}
	return ids
}
