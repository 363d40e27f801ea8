package binance

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/BellaBe/crypto-trading-bot-sample/internal/domain"
)

// exchangeInfo is the GET /fapi/v1/exchangeInfo response.
type exchangeInfo struct {
	Symbols []symbolInfo `json:"symbols"`
}

// symbolInfo is one tradable symbol. Precision limits live in the filter
// list, keyed by filterType.
type symbolInfo struct {
	Symbol         string         `json:"symbol"`
	Status         string         `json:"status"`
	PricePrecision int            `json:"pricePrecision"`
	Filters        []symbolFilter `json:"filters"`
}

type symbolFilter struct {
	FilterType string `json:"filterType"`
	TickSize   string `json:"tickSize"`
	StepSize   string `json:"stepSize"`
}

// toContract maps a venue symbol onto the domain Contract. USDT-margined
// futures are linear with a unit multiplier.
func (s symbolInfo) toContract() domain.Contract {
	c := domain.Contract{
		Symbol:        s.Symbol,
		Exchange:      Name,
		PriceDecimals: s.PricePrecision,
		Multiplier:    1,
		Kind:          domain.ContractLinear,
	}
	for _, f := range s.Filters {
		switch f.FilterType {
		case "PRICE_FILTER":
			c.TickSize, _ = strconv.ParseFloat(f.TickSize, 64)
		case "LOT_SIZE":
			c.LotSize, _ = strconv.ParseFloat(f.StepSize, 64)
		}
	}
	return c
}

// assetBalance is one entry of GET /fapi/v2/balance. Amounts are decimal
// strings.
type assetBalance struct {
	Asset            string `json:"asset"`
	Balance          string `json:"balance"`
	AvailableBalance string `json:"availableBalance"`
}

func (b assetBalance) toBalance() domain.Balance {
	wallet, _ := strconv.ParseFloat(b.Balance, 64)
	available, _ := strconv.ParseFloat(b.AvailableBalance, 64)
	return domain.Balance{
		Currency:      strings.ToUpper(b.Asset),
		WalletBalance: wallet,
		MarginBalance: available,
	}
}

// kline is one GET /fapi/v1/klines row. The venue encodes each candle as a
// positional JSON array mixing numbers and decimal strings.
type kline struct {
	OpenTime int64
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

func (k *kline) UnmarshalJSON(data []byte) error {
	var row []json.RawMessage
	if err := json.Unmarshal(data, &row); err != nil {
		return err
	}
	if len(row) < 6 {
		return fmt.Errorf("kline row has %d fields, want at least 6", len(row))
	}
	if err := json.Unmarshal(row[0], &k.OpenTime); err != nil {
		return fmt.Errorf("kline open time: %w", err)
	}
	fields := []*float64{&k.Open, &k.High, &k.Low, &k.Close, &k.Volume}
	for i, dst := range fields {
		var s string
		if err := json.Unmarshal(row[i+1], &s); err != nil {
			return fmt.Errorf("kline field %d: %w", i+1, err)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("kline field %d: %w", i+1, err)
		}
		*dst = v
	}
	return nil
}

// orderPayload is the order shape shared by the place, cancel, and query
// endpoints.
type orderPayload struct {
	OrderID  int64  `json:"orderId"`
	Symbol   string `json:"symbol"`
	Status   string `json:"status"`
	AvgPrice string `json:"avgPrice"`
}

func (o orderPayload) toStatus() domain.OrderStatus {
	avg, _ := strconv.ParseFloat(o.AvgPrice, 64)
	return domain.OrderStatus{
		OrderID:  strconv.FormatInt(o.OrderID, 10),
		Symbol:   o.Symbol,
		State:    mapOrderState(o.Status),
		AvgPrice: avg,
	}
}

func mapOrderState(s string) domain.OrderState {
	switch s {
	case "NEW":
		return domain.OrderStateNew
	case "FILLED":
		return domain.OrderStateFilled
	case "PARTIALLY_FILLED":
		return domain.OrderStatePartiallyFilled
	case "CANCELED":
		return domain.OrderStateCanceled
	case "REJECTED", "EXPIRED":
		return domain.OrderStateRejected
	default:
		return domain.OrderState(strings.ToLower(s))
	}
}

// apiError is the venue's error envelope on non-2xx responses.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

// Venue error codes surfaced as typed domain errors.
const (
	codeUnknownOrder  = -2011
	codeOrderNotFound = -2013
)

// wsSubscribeCmd is the stream subscribe control message.
type wsSubscribeCmd struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

// wsEvent sniffs the event type before the per-stream decode.
type wsEvent struct {
	EventType string `json:"e"`
}

// wsBookTicker is a <symbol>@bookTicker event.
type wsBookTicker struct {
	Symbol string `json:"s"`
	Bid    string `json:"b"`
	Ask    string `json:"a"`
}

// wsAggTrade is a <symbol>@aggTrade event.
type wsAggTrade struct {
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`
}
