package binance

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BellaBe/crypto-trading-bot-sample/internal/domain"
	"github.com/BellaBe/crypto-trading-bot-sample/internal/exchange"
)

const (
	wsReconnectDelay   = 2 * time.Second
	wsHandshakeTimeout = 15 * time.Second
	wsWriteWait        = 10 * time.Second
)

// streams returns the per-symbol stream names subscribed on every
// (re)connect.
func (c *Client) streams() []string {
	streams := make([]string, 0, 2*len(c.symbols))
	for _, s := range c.symbols {
		streams = append(streams, s+"@bookTicker", s+"@aggTrade")
	}
	return streams
}

// Run drives the streaming connection: dial, subscribe once per stream, read
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

func (c *Client) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}

	conn, _, err := dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		c.logger.Warn("stream dial failed", slog.String("error", err.Error()))
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

	streams := c.streams()
	if len(streams) > 0 {
		cmd := wsSubscribeCmd{Method: "SUBSCRIBE", Params: streams, ID: 1}
		data, err := json.Marshal(cmd)
		if err != nil {
			return err
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			c.logger.Error("subscribe failed", slog.String("error", err.Error()))
			return err
		}
	}
	c.logger.Info("stream connected", slog.Any("streams", streams))

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
			c.logger.Warn("stream read failed, reconnecting", slog.String("error", err.Error()))
			return err
		}
		c.handleMessage(message)
	}
}

// handleMessage routes one streaming frame by event type. Subscribe acks and
// unknown events are ignored.
func (c *Client) handleMessage(raw []byte) {
	var event wsEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return
	}

	switch event.EventType {
	case "bookTicker":
		var bt wsBookTicker
		if err := json.Unmarshal(raw, &bt); err != nil {
			return
		}
		c.applyBookTicker(bt)
	case "aggTrade":
		var at wsAggTrade
		if err := json.Unmarshal(raw, &at); err != nil {
			return
		}
		price, err1 := strconv.ParseFloat(at.Price, 64)
		size, err2 := strconv.ParseFloat(at.Quantity, 64)
		if err1 != nil || err2 != nil {
			return
		}
		c.emitTick(domain.Tick{
			Symbol:    strings.ToUpper(at.Symbol),
			Price:     price,
			Size:      size,
			Timestamp: at.TradeTime,
		})
	}
}

func (c *Client) applyBookTicker(bt wsBookTicker) {
	bid, err1 := strconv.ParseFloat(bt.Bid, 64)
	ask, err2 := strconv.ParseFloat(bt.Ask, 64)
	if err1 != nil || err2 != nil {
		return
	}
	symbol := strings.ToUpper(bt.Symbol)

	c.priceMu.Lock()
	c.prices[symbol] = domain.Quote{
		Exchange: Name,
		Symbol:   symbol,
		Bid:      bid,
		Ask:      ask,
		Time:     time.Now(),
	}
	c.priceMu.Unlock()

	c.emitPrice(exchange.PriceUpdate{
		Exchange: Name,
		Symbol:   symbol,
		Bid:      bid,
		Ask:      ask,
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
