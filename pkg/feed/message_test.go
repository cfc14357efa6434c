package feed

import (
	"testing"
	"time"
)

// TestParse tests that feed frames decode with their numeric fields kept as
// strings.
func TestParse(t *testing.T) {
	raw := []byte(`{"type":"open","product_id":"BTC-USD","sequence":42,` +
		`"time":"2023-11-14T22:13:20.123456Z","order_id":"o1","side":"buy",` +
		`"price":"150.01","remaining_size":"1.5"}`)
	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if msg.Type != "open" || msg.ProductID != "BTC-USD" || msg.Sequence != 42 {
		t.Errorf("header = %s %s %d", msg.Type, msg.ProductID, msg.Sequence)
	}
	if msg.OrderID != "o1" || msg.Side != "buy" || msg.Price != "150.01" || msg.RemainingSize != "1.5" {
		t.Errorf("fields = %+v", msg)
	}

	if _, err := Parse([]byte(`{"sequence":"not a number"}`)); err == nil {
		t.Errorf("malformed frame did not fail")
	}
}

// TestEventTime tests that only well-formed feed timestamps parse.
func TestEventTime(t *testing.T) {
	tests := []struct {
		name string
		time string
		want time.Time
		ok   bool
	}{
		{"nanosecond timestamp", "2023-11-14T22:13:20.123456Z",
			time.Date(2023, 11, 14, 22, 13, 20, 123456000, time.UTC), true},
		{"whole seconds", "2023-11-14T22:13:20Z",
			time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC), true},
		{"omitted", "", time.Time{}, false},
		{"unparseable", "yesterday", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Message{Time: tt.time}
			got, ok := m.EventTime()
			if ok != tt.ok {
				t.Fatalf("ok = %t, want %t", ok, tt.ok)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("time = %s, want %s", got, tt.want)
			}
		})
	}
}

// TestRefersTo tests that the resting order id comes from the order id
// first and the maker id for matches.
func TestRefersTo(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want string
		ok   bool
	}{
		{"order id", Message{OrderID: "a"}, "a", true},
		{"maker id", Message{MakerOrderID: "m"}, "m", true},
		{"order id wins", Message{OrderID: "a", MakerOrderID: "m"}, "a", true},
		{"neither", Message{Type: "heartbeat"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.msg.RefersTo()
			if got != tt.want || ok != tt.ok {
				t.Errorf("RefersTo() = %q, %t, want %q, %t", got, ok, tt.want, tt.ok)
			}
		})
	}
}
