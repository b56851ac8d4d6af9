package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/gorilla/websocket"
)

var errQuit = errors.New("unsubscribed")

// SubscribeFinalizedHeads delivers every newly finalized block number to ch exactly
// once and in increasing order. The first value is the finalized head at the time
// of the call. The subscription ends on Unsubscribe, on context cancellation, or on
// the first RPC failure, which is reported through Err.
func (c *Client) SubscribeFinalizedHeads(ctx context.Context, ch chan<- uint64) (event.Subscription, error) {
	first, err := c.FinalizedHead(ctx)
	if err != nil {
		return nil, err
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		ticks, stop := c.watchHeads(ctx)
		defer stop()

		next := first
		emit := func(head uint64) error {
			for ; next <= head; next++ {
				select {
				case ch <- next:
				case <-quit:
					return errQuit
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		}

		err := emit(first)
		for err == nil {
			select {
			case <-quit:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			case <-ticks:
				var head uint64
				head, err = c.FinalizedHead(ctx)
				if err == nil {
					err = emit(head)
				}
			}
		}
		if errors.Is(err, errQuit) {
			return nil
		}
		return err
	}), nil
}

// watchHeads signals on the returned channel whenever a new head may exist. It
// follows eth_subscribe newHeads over WebSocket and falls back to polling when the
// endpoint has no WebSocket or the stream drops. Ticks coalesce.
func (c *Client) watchHeads(ctx context.Context) (<-chan struct{}, func()) {
	ctx, cancel := context.WithCancel(ctx)
	ticks := make(chan struct{}, 1)
	notify := func() {
		select {
		case ticks <- struct{}{}:
		default:
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)

		if conn, err := c.dialNewHeads(ctx); err != nil {
			c.logger.Debug("newHeads subscription unavailable, polling", "url", c.wsURL, "error", err, "interval", c.pollInterval)
		} else {
			stopClose := context.AfterFunc(ctx, func() { conn.Close() })
			err := readNewHeads(conn, notify)
			stopClose()
			conn.Close()
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("newHeads subscription lost, polling", "url", c.wsURL, "error", err)
		}

		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				notify()
			}
		}
	}()

	return ticks, func() {
		cancel()
		<-done
	}
}

func (c *Client) dialNewHeads(ctx context.Context) (*websocket.Conn, error) {
	if !strings.HasPrefix(c.wsURL, "ws://") && !strings.HasPrefix(c.wsURL, "wss://") {
		return nil, fmt.Errorf("not a websocket url: %q", c.wsURL)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return nil, err
	}

	subscribeMsg := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "eth_subscribe",
		"params":  []string{"newHeads"},
		"id":      1,
	}
	if err := conn.WriteJSON(subscribeMsg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe newHeads: %w", err)
	}

	var ack struct {
		Result string          `json:"result"`
		Error  json.RawMessage `json:"error"`
	}
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read subscription ack: %w", err)
	}
	if len(ack.Error) > 0 && string(ack.Error) != "null" {
		conn.Close()
		return nil, fmt.Errorf("subscribe newHeads: %s", ack.Error)
	}
	c.logger.Debug("subscribed to newHeads", "url", c.wsURL, "subscription", ack.Result)
	return conn, nil
}

func readNewHeads(conn *websocket.Conn, notify func()) error {
	for {
		var msg struct {
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		if msg.Method == "eth_subscription" {
			notify()
		}
	}
}
