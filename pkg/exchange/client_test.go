package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openloop/cyclearb/params"
	"github.com/openloop/cyclearb/pkg/util"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	cfg := params.Exchange{
		RESTURL:     baseURL,
		Key:         "test-key",
		Secret:      base64.StdEncoding.EncodeToString(testSecret),
		Passphrase:  "test-pass",
		PublicRate:  100,
		PrivateRate: 100,
	}
	c, err := NewClient(cfg, util.NewManualClock(time.Unix(1700000100, 0)), zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("failed to build client: %v", err)
	}
	return c
}

// checkSigned recomputes the request signature with the known secret and
// compares it against the CB-ACCESS headers.
func checkSigned(t *testing.T, r *http.Request, body []byte) {
	t.Helper()
	if got := r.Header.Get("CB-ACCESS-KEY"); got != "test-key" {
		t.Errorf("api key header = %q", got)
	}
	if got := r.Header.Get("CB-ACCESS-PASSPHRASE"); got != "test-pass" {
		t.Errorf("passphrase header = %q", got)
	}
	ts := r.Header.Get("CB-ACCESS-TIMESTAMP")
	if ts != "1700000100" {
		t.Errorf("timestamp header = %q, want 1700000100", ts)
	}
	mac := hmac.New(sha256.New, testSecret)
	mac.Write([]byte(ts))
	mac.Write([]byte(r.Method))
	mac.Write([]byte(r.URL.RequestURI()))
	mac.Write(body)
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if got := r.Header.Get("CB-ACCESS-SIGN"); got != want {
		t.Errorf("signature header = %q, want %q", got, want)
	}
}

// TestNewClientBadSecret tests that a secret that is not base64 is rejected
// up front instead of failing on the first signed call.
func TestNewClientBadSecret(t *testing.T) {
	cfg := params.Exchange{
		RESTURL:     "http://localhost",
		Secret:      "%%% not base64 %%%",
		PublicRate:  1,
		PrivateRate: 1,
	}
	if _, err := NewClient(cfg, util.RealClock{}, zap.NewNop().Sugar()); err == nil {
		t.Fatalf("bad secret accepted")
	}
}

// TestProducts tests that the product listing is fetched without credentials
// and decoded with its decimal fields intact.
func TestProducts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/products" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("CB-ACCESS-KEY") != "" {
			t.Errorf("public request carried credentials")
		}
		fmt.Fprint(w, `[
			{"id":"BTC-USD","base_currency":"BTC","quote_currency":"USD",
			 "base_min_size":"0.001","quote_increment":"0.01","status":"online"},
			{"id":"LTC-USD","base_currency":"LTC","quote_currency":"USD",
			 "base_min_size":"0.1","quote_increment":"0.01","status":"online"}
		]`)
	}))
	defer srv.Close()

	products, err := testClient(t, srv.URL).Products(context.Background())
	if err != nil {
		t.Fatalf("failed to list products: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("got %d products, want 2", len(products))
	}
	p := products[0]
	if p.ID != "BTC-USD" || p.BaseCurrency != "BTC" || p.QuoteCurrency != "USD" {
		t.Errorf("product = %+v", p)
	}
	if !p.BaseMinSize.Equal(d("0.001")) || !p.QuoteIncrement.Equal(d("0.01")) {
		t.Errorf("sizes = %s %s", p.BaseMinSize, p.QuoteIncrement)
	}
}

// TestBookSnapshot tests that the book is requested at level 3 and its
// [price, size, order_id] rows decode.
func TestBookSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/products/BTC-USD/book" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("level"); got != "3" {
			t.Errorf("level = %q, want 3", got)
		}
		fmt.Fprint(w, `{"sequence":777,
			"bids":[["150.01","1.5","b1"],["150.00","2","b2"]],
			"asks":[["150.02","0.5","a1"]]}`)
	}))
	defer srv.Close()

	snap, err := testClient(t, srv.URL).BookSnapshot(context.Background(), "BTC-USD")
	if err != nil {
		t.Fatalf("failed to fetch snapshot: %v", err)
	}
	if snap.Sequence != 777 || len(snap.Bids) != 2 || len(snap.Asks) != 1 {
		t.Fatalf("snapshot = seq %d, %d bids, %d asks", snap.Sequence, len(snap.Bids), len(snap.Asks))
	}
	bid := snap.Bids[0]
	if !bid.Price.Equal(d("150.01")) || !bid.Size.Equal(d("1.5")) || bid.OrderID != "b1" {
		t.Errorf("bid = %+v", bid)
	}

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"sequence":1,"bids":[["150.01","1.5",42]],"asks":[]}`)
	}))
	defer bad.Close()
	if _, err := testClient(t, bad.URL).BookSnapshot(context.Background(), "BTC-USD"); err == nil {
		t.Errorf("malformed snapshot row did not fail")
	}
}

// TestSignedRequests tests that private endpoints carry CB-ACCESS headers
// with a signature over timestamp, method, path and query.
func TestSignedRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		checkSigned(t, r, body)
		switch r.URL.Path {
		case "/accounts":
			fmt.Fprint(w, `[{"id":"acc1","currency":"USD","balance":"500.5",
				"hold":"10","available":"490.5","profile_id":"p1"}]`)
		case "/orders":
			if got := r.URL.Query().Get("status"); got != "open" {
				t.Errorf("status = %q, want open", got)
			}
			fmt.Fprint(w, `[{"id":"ex1","product_id":"BTC-USD","side":"buy","type":"limit",
				"price":"150.01","size":"1.5","filled_size":"0.5","status":"open",
				"created_at":"2023-11-14T22:13:20Z"}]`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	accounts, err := c.Accounts(context.Background())
	if err != nil {
		t.Fatalf("failed to list accounts: %v", err)
	}
	if len(accounts) != 1 || accounts[0].Currency != "USD" || !accounts[0].Balance.Equal(d("500.5")) {
		t.Errorf("accounts = %+v", accounts)
	}

	orders, err := c.OpenOrders(context.Background())
	if err != nil {
		t.Fatalf("failed to list orders: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("got %d orders, want 1", len(orders))
	}
	o := orders[0]
	if o.ID != "ex1" || !o.Price.Equal(d("150.01")) || !o.FilledSize.Equal(d("0.5")) {
		t.Errorf("order = %+v", o)
	}
	if o.CreatedAt.IsZero() {
		t.Errorf("created at not decoded")
	}
}

// TestPlaceOrder tests that submission posts the order as given and that
// exchange-level rejections surface as errors even on http 200.
func TestPlaceOrder(t *testing.T) {
	req := &OrderRequest{
		ClientOID:   "11111111-2222-3333-4444-555555555555",
		ProductID:   "BTC-USD",
		Side:        "buy",
		Type:        "limit",
		Price:       "150.01",
		Size:        "0.9",
		TimeInForce: "GTC",
		PostOnly:    true,
	}

	place := func(t *testing.T, respond func(w http.ResponseWriter)) (*OrderResponse, error) {
		t.Helper()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.URL.Path != "/orders" {
				t.Errorf("request = %s %s", r.Method, r.URL.Path)
			}
			body, _ := io.ReadAll(r.Body)
			checkSigned(t, r, body)
			var got OrderRequest
			if err := json.Unmarshal(body, &got); err != nil {
				t.Errorf("failed to decode body: %v", err)
			} else if got != *req {
				t.Errorf("body = %+v, want %+v", got, *req)
			}
			respond(w)
		}))
		defer srv.Close()
		return testClient(t, srv.URL).PlaceOrder(context.Background(), req)
	}

	t.Run("accepted", func(t *testing.T) {
		resp, err := place(t, func(w http.ResponseWriter) {
			fmt.Fprint(w, `{"id":"ex-9","client_oid":"11111111-2222-3333-4444-555555555555",
				"product_id":"BTC-USD","side":"buy","type":"limit","price":"150.01",
				"size":"0.9","filled_size":"0","status":"pending","post_only":true,
				"created_at":"2023-11-14T22:15:00Z"}`)
		})
		if err != nil {
			t.Fatalf("failed to place order: %v", err)
		}
		if resp.ID != "ex-9" || resp.Status != "pending" || !resp.PostOnly {
			t.Errorf("response = %+v", resp)
		}
		if !resp.Price.Equal(d("150.01")) || !resp.Size.Equal(d("0.9")) {
			t.Errorf("price/size = %s %s", resp.Price, resp.Size)
		}
	})

	t.Run("rejected", func(t *testing.T) {
		_, err := place(t, func(w http.ResponseWriter) {
			fmt.Fprint(w, `{"id":"ex-9","status":"rejected","reject_reason":"post only"}`)
		})
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("got %v, want an APIError", err)
		}
		if apiErr.Status != http.StatusOK || apiErr.Message != "post only" {
			t.Errorf("error = %+v", apiErr)
		}
	})

	t.Run("rejected without reason", func(t *testing.T) {
		_, err := place(t, func(w http.ResponseWriter) {
			fmt.Fprint(w, `{"id":"ex-9","status":"rejected"}`)
		})
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("got %v, want an APIError", err)
		}
		if apiErr.Message != "order rejected" {
			t.Errorf("message = %q", apiErr.Message)
		}
	})

	t.Run("error message on http 200", func(t *testing.T) {
		_, err := place(t, func(w http.ResponseWriter) {
			fmt.Fprint(w, `{"message":"Insufficient funds"}`)
		})
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("got %v, want an APIError", err)
		}
		if apiErr.Status != http.StatusOK || apiErr.Message != "Insufficient funds" {
			t.Errorf("error = %+v", apiErr)
		}
	})

	t.Run("http error", func(t *testing.T) {
		_, err := place(t, func(w http.ResponseWriter) {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"message":"price too precise"}`)
		})
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("got %v, want an APIError", err)
		}
		if apiErr.Status != http.StatusBadRequest || apiErr.Message != "price too precise" {
			t.Errorf("error = %+v", apiErr)
		}
	})

	t.Run("http error without body", func(t *testing.T) {
		_, err := place(t, func(w http.ResponseWriter) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("got %v, want an APIError", err)
		}
		if apiErr.Status != http.StatusServiceUnavailable || apiErr.Message != "Service Unavailable" {
			t.Errorf("error = %+v", apiErr)
		}
	})
}

// TestCancel tests that single and bulk cancels hit the right paths.
func TestCancel(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		checkSigned(t, r, body)
		mu.Lock()
		calls = append(calls, r.URL.RequestURI())
		mu.Unlock()
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	ctx := context.Background()
	if err := c.CancelOrder(ctx, "ex-1"); err != nil {
		t.Fatalf("failed to cancel order: %v", err)
	}
	if err := c.CancelAll(ctx, "BTC-USD"); err != nil {
		t.Fatalf("failed to cancel product orders: %v", err)
	}
	if err := c.CancelAll(ctx, ""); err != nil {
		t.Fatalf("failed to cancel all orders: %v", err)
	}

	want := []string{"/orders/ex-1", "/orders?product_id=BTC-USD", "/orders"}
	mu.Lock()
	defer mu.Unlock()
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d = %s, want %s", i, calls[i], want[i])
		}
	}
}
