package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/openloop/cyclearb/params"
	"github.com/openloop/cyclearb/pkg/util"
)

// Client talks to the exchange REST API. Public endpoints share one rate
// limiter and signed endpoints another, matching the exchange's separate
// budgets.
type Client struct {
	baseURL    string
	key        string
	secret     []byte
	passphrase string

	httpClient *http.Client
	publicLim  *rate.Limiter
	privateLim *rate.Limiter
	clock      util.Clock
	log        *zap.SugaredLogger
}

func NewClient(cfg params.Exchange, clock util.Clock, log *zap.SugaredLogger) (*Client, error) {
	var secret []byte
	if cfg.Secret != "" {
		var err error
		secret, err = base64.StdEncoding.DecodeString(cfg.Secret)
		if err != nil {
			return nil, fmt.Errorf("failed to decode api secret: %w", err)
		}
	}
	return &Client{
		baseURL:    cfg.RESTURL,
		key:        cfg.Key,
		secret:     secret,
		passphrase: cfg.Passphrase,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		publicLim:  rate.NewLimiter(rate.Limit(cfg.PublicRate), int(cfg.PublicRate)*2),
		privateLim: rate.NewLimiter(rate.Limit(cfg.PrivateRate), int(cfg.PrivateRate)*2),
		clock:      clock,
		log:        log,
	}, nil
}

// sign builds the CB-ACCESS-SIGN header: an HMAC-SHA256 over
// timestamp+method+path+body keyed with the decoded api secret.
func (c *Client) sign(timestamp, method, requestPath string, body []byte) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte(method))
	mac.Write([]byte(requestPath))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *Client) do(ctx context.Context, method, requestPath string, signed bool, body, out any) error {
	lim := c.publicLim
	if signed {
		lim = c.privateLim
	}
	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("failed to acquire rate slot: %w", err)
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "cyclearb/1.0")
	if signed {
		ts := strconv.FormatInt(c.clock.Now().Unix(), 10)
		req.Header.Set("CB-ACCESS-KEY", c.key)
		req.Header.Set("CB-ACCESS-SIGN", c.sign(ts, method, requestPath, payload))
		req.Header.Set("CB-ACCESS-TIMESTAMP", ts)
		req.Header.Set("CB-ACCESS-PASSPHRASE", c.passphrase)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s %s: %w", method, requestPath, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response for %s: %w", requestPath, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(raw, &apiErr)
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: apiErr.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response for %s: %w", requestPath, err)
	}
	return nil
}

// Products lists the tradable pairs.
func (c *Client) Products(ctx context.Context) ([]ProductInfo, error) {
	var products []ProductInfo
	if err := c.do(ctx, http.MethodGet, "/products", false, nil, &products); err != nil {
		return nil, err
	}
	return products, nil
}

// Currencies lists currencies with their minimum handled sizes.
func (c *Client) Currencies(ctx context.Context) ([]CurrencyInfo, error) {
	var currencies []CurrencyInfo
	if err := c.do(ctx, http.MethodGet, "/currencies", false, nil, &currencies); err != nil {
		return nil, err
	}
	return currencies, nil
}

// BookSnapshot fetches the full level-3 book for a product.
func (c *Client) BookSnapshot(ctx context.Context, productID string) (*BookSnapshot, error) {
	var snap BookSnapshot
	path := fmt.Sprintf("/products/%s/book?level=3", productID)
	if err := c.do(ctx, http.MethodGet, path, false, nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Trades fetches the most recent page of public fills for a product.
func (c *Client) Trades(ctx context.Context, productID string) ([]Trade, error) {
	var trades []Trade
	path := fmt.Sprintf("/products/%s/trades", productID)
	if err := c.do(ctx, http.MethodGet, path, false, nil, &trades); err != nil {
		return nil, err
	}
	return trades, nil
}

// Accounts lists balances for the trading profile.
func (c *Client) Accounts(ctx context.Context) ([]Account, error) {
	var accounts []Account
	if err := c.do(ctx, http.MethodGet, "/accounts", true, nil, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// OpenOrders lists the orders currently resting for the profile.
func (c *Client) OpenOrders(ctx context.Context) ([]OrderResponse, error) {
	var orders []OrderResponse
	if err := c.do(ctx, http.MethodGet, "/orders?status=open", true, nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// PlaceOrder submits a limit order. A response carrying an error message or
// a rejected status is surfaced as an APIError even on HTTP 200.
func (c *Client) PlaceOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error) {
	var resp OrderResponse
	if err := c.do(ctx, http.MethodPost, "/orders", true, req, &resp); err != nil {
		return nil, err
	}
	if resp.StatusMessage != "" {
		return nil, &APIError{Status: http.StatusOK, Message: resp.StatusMessage}
	}
	if resp.Status == "rejected" {
		reason := resp.RejectReason
		if reason == "" {
			reason = "order rejected"
		}
		return nil, &APIError{Status: http.StatusOK, Message: reason}
	}
	return &resp, nil
}

// CancelOrder cancels one resting order by exchange id.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	return c.do(ctx, http.MethodDelete, "/orders/"+orderID, true, nil, nil)
}

// CancelAll cancels every resting order, optionally scoped to one product.
func (c *Client) CancelAll(ctx context.Context, productID string) error {
	path := "/orders"
	if productID != "" {
		path += "?product_id=" + productID
	}
	return c.do(ctx, http.MethodDelete, path, true, nil, nil)
}
