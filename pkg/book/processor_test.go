package book

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"github.com/openloop/cyclearb/pkg/exchange"
	"github.com/openloop/cyclearb/pkg/feed"
	"github.com/openloop/cyclearb/pkg/market"
	"github.com/openloop/cyclearb/pkg/store"
	"github.com/openloop/cyclearb/pkg/util"
)

type fakeSource struct {
	snaps  map[string]*exchange.BookSnapshot
	trades map[string][]exchange.Trade
}

func (f *fakeSource) BookSnapshot(ctx context.Context, productID string) (*exchange.BookSnapshot, error) {
	snap, ok := f.snaps[productID]
	if !ok {
		return nil, fmt.Errorf("no snapshot for %s", productID)
	}
	return snap, nil
}

func (f *fakeSource) Trades(ctx context.Context, productID string) ([]exchange.Trade, error) {
	return f.trades[productID], nil
}

func testBookManager(t *testing.T) *Manager {
	t.Helper()
	mr := miniredis.RunT(t)
	st, err := store.Open(context.Background(), mr.Addr(), "", 0)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	pm := market.NewProductManager()
	if err := pm.Register(testProduct(t)); err != nil {
		t.Fatalf("failed to register product: %v", err)
	}
	clock := util.NewManualClock(time.Unix(1700000100, 0))
	return NewManager(pm, st, clock, zap.NewNop().Sugar(), 10)
}

// TestOrderFromMessage tests the feed event to book order conversion
// rules, including the events that carry nothing for the ladder.
func TestOrderFromMessage(t *testing.T) {
	tests := []struct {
		name       string
		msg        *feed.Message
		wantNil    bool
		wantErr    bool
		wantType   market.OrderType
		wantStatus market.OrderStatus
		wantSide   market.Side
		wantID     string
		wantSize   string
		wantPrice  string
	}{
		{
			name:    "received carries nothing",
			msg:     &feed.Message{Type: "received", ProductID: "BTC-USD", Sequence: 1, Side: "buy"},
			wantNil: true,
		},
		{
			name:    "heartbeat carries nothing",
			msg:     &feed.Message{Type: "heartbeat", ProductID: "BTC-USD"},
			wantNil: true,
		},
		{
			name:       "open joins the ladder",
			msg:        &feed.Message{Type: "open", ProductID: "BTC-USD", Sequence: 10, Side: "buy", OrderID: "o1", RemainingSize: "1.5", Price: "9"},
			wantType:   market.Limit,
			wantStatus: market.Open,
			wantSide:   market.Bid,
			wantID:     "o1",
			wantSize:   "1.5",
			wantPrice:  "9",
		},
		{
			name:    "market done has no price",
			msg:     &feed.Message{Type: "done", ProductID: "BTC-USD", Sequence: 11, Side: "sell", OrderID: "o2", Reason: "filled"},
			wantNil: true,
		},
		{
			name:       "done filled clears the maker",
			msg:        &feed.Message{Type: "done", ProductID: "BTC-USD", Sequence: 12, Side: "sell", OrderID: "o2", Reason: "filled", RemainingSize: "0.5", Price: "9"},
			wantType:   market.Match,
			wantStatus: market.Filled,
			wantSide:   market.Ask,
			wantID:     "o2",
			wantSize:   "0.5",
			wantPrice:  "9",
		},
		{
			name:       "done canceled",
			msg:        &feed.Message{Type: "done", ProductID: "BTC-USD", Sequence: 13, Side: "buy", OrderID: "o3", Reason: "canceled", RemainingSize: "2", Price: "8"},
			wantType:   market.Cancel,
			wantStatus: market.Canceled,
			wantSide:   market.Bid,
			wantID:     "o3",
			wantSize:   "2",
			wantPrice:  "8",
		},
		{
			name:       "match shrinks the maker",
			msg:        &feed.Message{Type: "match", ProductID: "BTC-USD", Sequence: 14, Side: "buy", MakerOrderID: "m1", TakerOrderID: "t1", Size: "0.25", Price: "9"},
			wantType:   market.Match,
			wantStatus: market.Open,
			wantSide:   market.Bid,
			wantID:     "m1",
			wantSize:   "0.25",
			wantPrice:  "9",
		},
		{
			name:    "funds change is skipped",
			msg:     &feed.Message{Type: "change", ProductID: "BTC-USD", Sequence: 15, Side: "buy", OrderID: "o4", NewFunds: "100", OldFunds: "120", Price: "9"},
			wantNil: true,
		},
		{
			name:    "change without a price is skipped",
			msg:     &feed.Message{Type: "change", ProductID: "BTC-USD", Sequence: 16, Side: "buy", OrderID: "o4", OldSize: "5", NewSize: "3"},
			wantNil: true,
		},
		{
			name:       "size change resizes",
			msg:        &feed.Message{Type: "change", ProductID: "BTC-USD", Sequence: 17, Side: "buy", OrderID: "o4", OldSize: "5", NewSize: "3", Price: "9"},
			wantType:   market.Change,
			wantStatus: market.Open,
			wantSide:   market.Bid,
			wantID:     "o4",
			wantSize:   "5",
			wantPrice:  "9",
		},
		{
			name:    "unknown side",
			msg:     &feed.Message{Type: "open", ProductID: "BTC-USD", Sequence: 18, Side: "hold", RemainingSize: "1", Price: "9"},
			wantErr: true,
		},
		{
			name:    "bad size",
			msg:     &feed.Message{Type: "open", ProductID: "BTC-USD", Sequence: 19, Side: "buy", RemainingSize: "abc", Price: "9"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := orderFromMessage(tt.msg)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("failed to convert: %v", err)
			}
			if tt.wantNil {
				if o != nil {
					t.Fatalf("expected no order, got %s", o)
				}
				return
			}
			if o == nil {
				t.Fatalf("expected an order")
			}
			if o.Type != tt.wantType || o.Status != tt.wantStatus || o.Side != tt.wantSide {
				t.Errorf("got %s/%s/%s, want %s/%s/%s",
					o.Type, o.Status, o.Side, tt.wantType, tt.wantStatus, tt.wantSide)
			}
			if o.OrderID != tt.wantID {
				t.Errorf("order id = %s, want %s", o.OrderID, tt.wantID)
			}
			if o.Size.String() != tt.wantSize || o.Price.String() != tt.wantPrice {
				t.Errorf("got %s@%s, want %s@%s", o.Size, o.Price, tt.wantSize, tt.wantPrice)
			}
			if o.Sequence != tt.msg.Sequence {
				t.Errorf("sequence = %d, want %d", o.Sequence, tt.msg.Sequence)
			}
		})
	}
}

// TestOrderFromMessageFields tests the resize payload and the feed
// timestamp override.
func TestOrderFromMessageFields(t *testing.T) {
	o, err := orderFromMessage(&feed.Message{
		Type: "change", ProductID: "BTC-USD", Sequence: 20, Side: "buy",
		OrderID: "o5", OldSize: "5", NewSize: "3", Price: "9",
	})
	if err != nil || o == nil {
		t.Fatalf("failed to convert change: o=%v err=%v", o, err)
	}
	if o.FilledSize.String() != "3" {
		t.Errorf("new size = %s, want 3", o.FilledSize)
	}
	if o.Remaining().String() != "2" {
		t.Errorf("shrinkage = %s, want 2", o.Remaining())
	}

	stamp := "2023-11-14T22:13:20.123456Z"
	o, err = orderFromMessage(&feed.Message{
		Type: "match", ProductID: "BTC-USD", Sequence: 21, Side: "sell",
		MakerOrderID: "m1", Size: "1", Price: "9", Time: stamp,
	})
	if err != nil || o == nil {
		t.Fatalf("failed to convert match: o=%v err=%v", o, err)
	}
	want, err := time.Parse(time.RFC3339Nano, stamp)
	if err != nil {
		t.Fatalf("failed to parse stamp: %v", err)
	}
	if !o.CreatedAt.Equal(want) {
		t.Errorf("created at = %v, want %v", o.CreatedAt, want)
	}
}

// TestProcessorHandle tests that events at or behind the book sequence are
// dropped before touching the engine.
func TestProcessorHandle(t *testing.T) {
	ctx := context.Background()
	books := testBookManager(t)
	p := NewProcessor(books, &fakeSource{}, nil, zap.NewNop().Sugar())

	seed := market.NewOrder("BTC-USD", 5, market.Bid, d("1"), d("9"))
	seed.OrderID = "a"
	if err := books.Apply(ctx, seed); err != nil {
		t.Fatalf("failed to seed book: %v", err)
	}
	b, _ := books.Book("BTC-USD")

	p.handle(ctx, &feed.Message{Type: "open", ProductID: "BTC-USD", Sequence: 5, Side: "buy", OrderID: "dup", RemainingSize: "1", Price: "9"})
	q, ok, err := b.GetPrice(ctx, market.Bid, 1)
	if err != nil || !ok {
		t.Fatalf("failed to quote: ok=%v err=%v", ok, err)
	}
	if q.WorstFill != 1 {
		t.Errorf("level size after replayed event = %v, want 1", q.WorstFill)
	}

	p.handle(ctx, &feed.Message{Type: "open", ProductID: "BTC-USD", Sequence: 6, Side: "buy", OrderID: "b", RemainingSize: "2", Price: "9"})
	q, _, err = b.GetPrice(ctx, market.Bid, 1)
	if err != nil {
		t.Fatalf("failed to quote: %v", err)
	}
	if q.WorstFill != 3 {
		t.Errorf("level size after new event = %v, want 3", q.WorstFill)
	}
	if got := b.Sequence(); got != 6 {
		t.Errorf("sequence = %d, want 6", got)
	}

	// Malformed events and unknown products are logged, not fatal.
	p.handle(ctx, &feed.Message{Type: "open", ProductID: "BTC-USD", Sequence: 7, Side: "hold", RemainingSize: "1", Price: "9"})
	p.handle(ctx, &feed.Message{Type: "open", ProductID: "ETH-USD", Sequence: 1, Side: "buy", OrderID: "z", RemainingSize: "1", Price: "9"})
}

// TestProcessorBootstrap tests snapshot seeding and trade tape replay.
func TestProcessorBootstrap(t *testing.T) {
	ctx := context.Background()
	books := testBookManager(t)

	empty := NewProcessor(books, &fakeSource{}, nil, zap.NewNop().Sugar())
	if err := empty.Bootstrap(ctx); err == nil {
		t.Fatalf("expected bootstrap to fail without a snapshot")
	}

	src := &fakeSource{
		snaps: map[string]*exchange.BookSnapshot{
			"BTC-USD": {
				Sequence: 100,
				Bids: []exchange.SnapshotEntry{
					{Price: d("9"), Size: d("1"), OrderID: "a"},
					{Price: d("8"), Size: d("2"), OrderID: "b"},
				},
				Asks: []exchange.SnapshotEntry{
					{Price: d("9.5"), Size: d("1"), OrderID: "c"},
				},
			},
		},
		trades: map[string][]exchange.Trade{
			"BTC-USD": {
				{TradeID: 1, Price: d("9"), Size: d("0.5"), Side: "buy", Time: time.Unix(1700000090, 0)},
			},
		},
	}
	p := NewProcessor(books, src, nil, zap.NewNop().Sugar())
	if err := p.Bootstrap(ctx); err != nil {
		t.Fatalf("failed to bootstrap: %v", err)
	}

	b, _ := books.Book("BTC-USD")
	if got := b.Sequence(); got != 100 {
		t.Errorf("sequence = %d, want 100", got)
	}
	q, ok, err := b.GetPrice(ctx, market.Bid, 3)
	if err != nil || !ok {
		t.Fatalf("failed to quote: ok=%v err=%v", ok, err)
	}
	want := DepthQuote{Best: 9, Worst: 8, Notional: 25, Excess: 0, WorstFill: 2}
	if q != want {
		t.Errorf("seeded bid quote = %+v, want %+v", q, want)
	}
	ask, ok, err := b.BestPrice(ctx, market.Ask)
	if err != nil || !ok {
		t.Fatalf("failed to read best ask: ok=%v err=%v", ok, err)
	}
	if ask != 9.5 {
		t.Errorf("best ask = %v, want 9.5", ask)
	}

	// The tape lands in trade history without touching the ladder.
	qs, err := b.TradeQuantities(ctx, market.Bid, market.Match, 300*time.Second, 0)
	if err != nil {
		t.Fatalf("failed to read trade history: %v", err)
	}
	if len(qs) != 1 || qs[0] != 0.5 {
		t.Errorf("replayed trades = %v, want [0.5]", qs)
	}
}

// TestProcessorRun tests the live loop: ready once seeded, events applied
// in order, clean exit when the feed closes.
func TestProcessorRun(t *testing.T) {
	books := testBookManager(t)
	src := &fakeSource{
		snaps: map[string]*exchange.BookSnapshot{"BTC-USD": {Sequence: 10}},
	}
	events := make(chan *feed.Message, 4)
	p := NewProcessor(books, src, events, zap.NewNop().Sugar())

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	select {
	case <-p.Ready():
	case <-time.After(5 * time.Second):
		t.Fatalf("processor never became ready")
	}

	events <- &feed.Message{Type: "open", ProductID: "BTC-USD", Sequence: 11, Side: "buy", OrderID: "a", RemainingSize: "1", Price: "9"}
	close(events)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("processor never exited")
	}

	b, _ := books.Book("BTC-USD")
	if got := b.Sequence(); got != 11 {
		t.Errorf("sequence = %d, want 11", got)
	}
	best, ok, err := b.BestPrice(context.Background(), market.Bid)
	if err != nil || !ok {
		t.Fatalf("failed to read best bid: ok=%v err=%v", ok, err)
	}
	if best != 9 {
		t.Errorf("best bid = %v, want 9", best)
	}
}
