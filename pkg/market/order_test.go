package market

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// TestOrderConstructors tests that each event constructor sets the
// status/type combination its stream expects.
func TestOrderConstructors(t *testing.T) {
	size := decimal.NewFromInt(2)
	price := decimal.NewFromInt(100)

	o := NewOrder("BTC-USD", 7, Bid, size, price)
	if o.Status != Open || o.Type != Limit {
		t.Errorf("NewOrder status/type = %s/%s, want open/limit", o.Status, o.Type)
	}
	if o.CreatedAt.IsZero() {
		t.Errorf("NewOrder should stamp CreatedAt")
	}

	m := MatchOrder("BTC-USD", 8, Ask, size, price, "maker-1")
	if m.Type != Match || m.OrderID != "maker-1" {
		t.Errorf("MatchOrder type/id = %s/%s, want match/maker-1", m.Type, m.OrderID)
	}

	filled := DoneOrder("BTC-USD", 9, Bid, size, price, "o-1", Filled)
	if filled.Type != Match || filled.Status != Filled {
		t.Errorf("DoneOrder(filled) type/status = %s/%s, want match/filled", filled.Type, filled.Status)
	}
	canceled := DoneOrder("BTC-USD", 10, Bid, size, price, "o-2", Canceled)
	if canceled.Type != Cancel || canceled.Status != Canceled {
		t.Errorf("DoneOrder(canceled) type/status = %s/%s, want cancel/canceled", canceled.Type, canceled.Status)
	}

	c := ChangeOrder("BTC-USD", 11, Bid, decimal.NewFromInt(5), decimal.NewFromInt(3), price, "o-3")
	if c.Type != Change {
		t.Errorf("ChangeOrder type = %s, want change", c.Type)
	}
	if !c.Remaining().Equal(decimal.NewFromInt(2)) {
		t.Errorf("ChangeOrder remaining = %s, want 2 (old minus new)", c.Remaining())
	}
}

// TestFill tests that fills apply even past the remaining size, with the
// overshoot reported as an error.
func TestFill(t *testing.T) {
	o := NewOrder("BTC-USD", 1, Bid, decimal.NewFromInt(2), decimal.NewFromInt(100))

	if err := o.Fill(decimal.RequireFromString("1.5")); err != nil {
		t.Fatalf("partial fill failed: %v", err)
	}
	if !o.Remaining().Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("remaining = %s, want 0.5", o.Remaining())
	}

	err := o.Fill(decimal.NewFromInt(1))
	if !errors.Is(err, ErrBadInput) {
		t.Errorf("overfill error = %v, want ErrBadInput", err)
	}
	if !o.FilledSize.Equal(decimal.RequireFromString("2.5")) {
		t.Errorf("overfill must still apply, filled = %s, want 2.5", o.FilledSize)
	}
}

// TestClampCreatedAt tests that feed times never age an order into the
// future.
func TestClampCreatedAt(t *testing.T) {
	now := time.Date(2021, 3, 14, 12, 0, 0, 0, time.UTC)
	o := NewOrder("BTC-USD", 1, Bid, decimal.NewFromInt(1), decimal.NewFromInt(100))

	past := now.Add(-time.Minute)
	o.ClampCreatedAt(now, past)
	if !o.CreatedAt.Equal(past) {
		t.Errorf("past feed time should win, got %s", o.CreatedAt)
	}

	o.ClampCreatedAt(now, now.Add(time.Minute))
	if !o.CreatedAt.Equal(now) {
		t.Errorf("future feed time should clamp to now, got %s", o.CreatedAt)
	}

	o.ClampCreatedAt(now, time.Time{})
	if !o.CreatedAt.Equal(now) {
		t.Errorf("zero feed time should clamp to now, got %s", o.CreatedAt)
	}
}
