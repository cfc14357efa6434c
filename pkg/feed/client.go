package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/openloop/cyclearb/pkg/metrics"
)

// GapError reports a break in a product's sequence stream. Missed events
// cannot be replayed, so the caller is expected to rebootstrap.
type GapError struct {
	Product  string
	Expected int64
	Got      int64
}

func (e *GapError) Error() string {
	return fmt.Sprintf("feed: sequence gap on %s: expected %d, got %d", e.Product, e.Expected, e.Got)
}

const handshakeTimeout = 10 * time.Second

// Client maintains the exchange websocket and fans order events out to
// the book and portfolio workers. Sequence numbers must be contiguous
// per product; the first message for a product primes its counter.
type Client struct {
	url      string
	products []string

	books     chan *Message
	portfolio chan *Message

	lastSeq map[string]int64
	ready   chan struct{}
	log     *zap.SugaredLogger
}

func NewClient(url string, products []string, queueSize int, log *zap.SugaredLogger) *Client {
	return &Client{
		url:       url,
		products:  products,
		books:     make(chan *Message, queueSize),
		portfolio: make(chan *Message, queueSize),
		lastSeq:   make(map[string]int64),
		ready:     make(chan struct{}),
		log:       log,
	}
}

// Books is the lossless event stream feeding the order books.
func (c *Client) Books() <-chan *Message { return c.books }

// Portfolio is the own-order event stream. Sends never block; an
// overflow drops the event and counts it.
func (c *Client) Portfolio() <-chan *Message { return c.portfolio }

// Ready is closed once the subscription has been sent, so book
// snapshots fetched afterwards cannot miss events.
func (c *Client) Ready() <-chan struct{} { return c.ready }

// Run connects, subscribes and pumps events until the connection drops,
// a gap is found or ctx is canceled. Both outbound streams are closed on
// return.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.books)
	defer close(c.portfolio)

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial feed %s: %w", c.url, err)
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	sub := struct {
		Type       string   `json:"type"`
		ProductIDs []string `json:"product_ids"`
		Channels   []string `json:"channels"`
	}{Type: "subscribe", ProductIDs: c.products, Channels: []string{"full"}}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	c.log.Infow("subscribed to feed", "url", c.url, "products", c.products)
	close(c.ready)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("feed connection lost: %w", err)
		}
		msg, err := Parse(raw)
		if err != nil {
			c.log.Errorw("unparseable feed message", "err", err)
			continue
		}
		if err := c.dispatch(ctx, msg); err != nil {
			return err
		}
	}
}

func (c *Client) dispatch(ctx context.Context, msg *Message) error {
	switch msg.Type {
	case "received", "open", "done", "match", "change":
	case "heartbeat":
		return nil
	case "subscriptions":
		c.log.Infow("feed subscription confirmed")
		return nil
	case "error":
		c.log.Errorw("feed reported an error", "message", msg.Message, "reason", msg.Reason)
		return nil
	default:
		c.log.Infow("feed message ignored", "type", msg.Type)
		return nil
	}

	if err := c.checkSequence(msg); err != nil {
		return err
	}
	metrics.FeedMessages.Inc()

	select {
	case c.books <- msg:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case c.portfolio <- msg:
	default:
		metrics.FeedDropped.Inc()
		c.log.Errorw("portfolio queue full, event dropped",
			"type", msg.Type, "product", msg.ProductID, "sequence", msg.Sequence)
	}
	return nil
}

func (c *Client) checkSequence(msg *Message) error {
	last, seen := c.lastSeq[msg.ProductID]
	if seen && msg.Sequence != last+1 {
		metrics.FeedGaps.Inc()
		return &GapError{Product: msg.ProductID, Expected: last + 1, Got: msg.Sequence}
	}
	c.lastSeq[msg.ProductID] = msg.Sequence
	return nil
}
