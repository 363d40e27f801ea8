package bitmex

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BellaBe/crypto-trading-bot-sample/internal/domain"
	"github.com/BellaBe/crypto-trading-bot-sample/internal/exchange"
)

const (
	// wsReconnectDelay is the fixed pause between reconnect attempts.
	wsReconnectDelay = 2 * time.Second

	// wsHandshakeTimeout bounds the dial.
	wsHandshakeTimeout = 15 * time.Second

	// wsWriteWait is the time allowed to write a message to the peer.
	wsWriteWait = 10 * time.Second
)

// wsTopics are the channels subscribed on every (re)connect. BitMEX streams
// all symbols per topic, so no per-symbol args are needed.
var wsTopics = []string{"instrument", "trade"}

// Run drives the streaming connection: dial, subscribe once per topic, read
// until the connection drops, then reconnect after a fixed delay. It returns
// when ctx is cancelled or Close is called.
func (c *Client) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		default:
		}

		if err := c.runConnection(ctx); err == nil {
			return nil
		} else if ctx.Err() != nil {
			return ctx.Err()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case <-time.After(wsReconnectDelay):
		}
	}
}

// Close stops the streaming loop and prevents further reconnects. Safe to
// call multiple times.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.connMu.Lock()
		if c.conn != nil {
			_ = c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteWait),
			)
			_ = c.conn.Close()
		}
		c.connMu.Unlock()
	})
}

// runConnection handles one websocket session. A nil return means shutdown;
// an error means the connection dropped and the caller should reconnect.
func (c *Client) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}

	conn, _, err := dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		c.logger.Warn("websocket dial failed", slog.String("error", err.Error()))
		return err
	}

	// Shutdown may have raced the dial. Check under connMu so a concurrent
	// Close either sees the stored conn or we see the closed done channel.
	c.connMu.Lock()
	select {
	case <-c.done:
		c.connMu.Unlock()
		_ = conn.Close()
		return nil
	default:
	}
	c.conn = conn
	c.connMu.Unlock()

	defer func() {
		_ = conn.Close()
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
	}()

	// One subscribe message per topic, never repeated within a session.
	for _, topic := range wsTopics {
		if err := c.subscribe(conn, topic); err != nil {
			c.logger.Error("subscribe failed",
				slog.String("topic", topic),
				slog.String("error", err.Error()),
			)
			return err
		}
	}
	c.logger.Info("websocket connected", slog.Any("topics", wsTopics))

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return nil
			default:
			}
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("websocket read failed, reconnecting", slog.String("error", err.Error()))
			return err
		}
		c.handleMessage(message)
	}
}

func (c *Client) subscribe(conn *websocket.Conn, topic string) error {
	cmd := wsSubscribeCmd{Op: "subscribe", Args: []string{topic}}
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// handleMessage routes one streaming frame by table name.
func (c *Client) handleMessage(raw []byte) {
	var envelope wsEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}

	switch envelope.Table {
	case "instrument":
		var records []wsInstrument
		if err := json.Unmarshal(envelope.Data, &records); err != nil {
			return
		}
		for _, r := range records {
			c.applyInstrument(r)
		}
	case "trade":
		var records []wsTrade
		if err := json.Unmarshal(envelope.Data, &records); err != nil {
			return
		}
		for _, r := range records {
			c.emitTick(domain.Tick{
				Symbol:    r.Symbol,
				Price:     r.Price,
				Size:      r.Size,
				Timestamp: r.Timestamp.UnixMilli(),
			})
		}
	}
}

// applyInstrument merges a partial instrument record into the price table
// and publishes the resulting quote.
func (c *Client) applyInstrument(r wsInstrument) {
	if r.Symbol == "" || (r.BidPrice == nil && r.AskPrice == nil) {
		return
	}

	c.priceMu.Lock()
	q := c.prices[r.Symbol]
	q.Exchange = Name
	q.Symbol = r.Symbol
	if r.BidPrice != nil {
		q.Bid = *r.BidPrice
	}
	if r.AskPrice != nil {
		q.Ask = *r.AskPrice
	}
	q.Time = time.Now()
	c.prices[r.Symbol] = q
	c.priceMu.Unlock()

	c.emitPrice(exchange.PriceUpdate{
		Exchange: Name,
		Symbol:   r.Symbol,
		Bid:      q.Bid,
		Ask:      q.Ask,
	})
}

func (c *Client) emitPrice(u exchange.PriceUpdate) {
	c.handlerMu.RLock()
	handlers := c.priceHandlers
	c.handlerMu.RUnlock()
	for _, h := range handlers {
		h(u)
	}
}

func (c *Client) emitTick(t domain.Tick) {
	c.handlerMu.RLock()
	handlers := c.tickHandlers
	c.handlerMu.RUnlock()
	for _, h := range handlers {
		h(t)
	}
}

// Compile-time interface check.
var _ exchange.Connector = (*Client)(nil)
