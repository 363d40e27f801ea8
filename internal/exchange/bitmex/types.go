package bitmex

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/BellaBe/crypto-trading-bot-sample/internal/domain"
)

// satoshiMultiplier converts BitMEX satoshi-denominated amounts to XBT.
const satoshiMultiplier = 1e-8

// instrument is one entry of GET /api/v1/instrument/active.
type instrument struct {
	Symbol     string  `json:"symbol"`
	TickSize   float64 `json:"tickSize"`
	LotSize    float64 `json:"lotSize"`
	Multiplier float64 `json:"multiplier"`
	IsInverse  bool    `json:"isInverse"`
	IsQuanto   bool    `json:"isQuanto"`
}

// toContract maps a venue instrument onto the domain Contract. BitMEX
// multipliers are satoshi-denominated and signed; the sign only encodes the
// settlement direction, which the pricing-convention flag already carries.
func (in instrument) toContract() domain.Contract {
	kind := domain.ContractLinear
	switch {
	case in.IsInverse:
		kind = domain.ContractInverse
	case in.IsQuanto:
		kind = domain.ContractQuanto
	}
	return domain.Contract{
		Symbol:        in.Symbol,
		Exchange:      Name,
		TickSize:      in.TickSize,
		LotSize:       in.LotSize,
		PriceDecimals: decimalsFromTick(in.TickSize),
		Multiplier:    math.Abs(in.Multiplier) * satoshiMultiplier,
		Kind:          kind,
	}
}

// margin is one entry of GET /api/v1/user/margin?currency=all. Amounts are
// satoshis.
type margin struct {
	Currency      string  `json:"currency"`
	WalletBalance float64 `json:"walletBalance"`
	MarginBalance float64 `json:"marginBalance"`
}

func (m margin) toBalance() domain.Balance {
	return domain.Balance{
		Currency:      strings.ToUpper(m.Currency),
		WalletBalance: m.WalletBalance * satoshiMultiplier,
		MarginBalance: m.MarginBalance * satoshiMultiplier,
	}
}

// bucketedTrade is one entry of GET /api/v1/trade/bucketed.
type bucketedTrade struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// orderPayload is the order shape shared by the place, cancel, and query
// endpoints. The error text is set by the cancel endpoint when an order is
// already in a terminal state.
type orderPayload struct {
	OrderID   string  `json:"orderID"`
	Symbol    string  `json:"symbol"`
	OrdStatus string  `json:"ordStatus"`
	AvgPx     float64 `json:"avgPx"`
	Error     string  `json:"error"`
}

func (o orderPayload) toStatus() domain.OrderStatus {
	return domain.OrderStatus{
		OrderID:  o.OrderID,
		Symbol:   o.Symbol,
		State:    mapOrderState(o.OrdStatus),
		AvgPrice: o.AvgPx,
	}
}

func mapOrderState(s string) domain.OrderState {
	switch s {
	case "New":
		return domain.OrderStateNew
	case "Filled":
		return domain.OrderStateFilled
	case "PartiallyFilled":
		return domain.OrderStatePartiallyFilled
	case "Canceled":
		return domain.OrderStateCanceled
	case "Rejected":
		return domain.OrderStateRejected
	default:
		return domain.OrderState(strings.ToLower(s))
	}
}

// wsEnvelope is the streaming message frame. Data records are decoded per
// table.
type wsEnvelope struct {
	Table string          `json:"table"`
	Data  json.RawMessage `json:"data"`
}

// wsInstrument is an instrument-table record. Bid/ask are pointers because
// partial updates omit the unchanged side.
type wsInstrument struct {
	Symbol   string   `json:"symbol"`
	BidPrice *float64 `json:"bidPrice"`
	AskPrice *float64 `json:"askPrice"`
}

// wsTrade is a trade-table record.
type wsTrade struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	Timestamp time.Time `json:"timestamp"`
}

// wsSubscribeCmd is the subscribe control message.
type wsSubscribeCmd struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

// decimalsFromTick derives the displayed price precision from a tick size
// (0.5 -> 1, 0.05 -> 2).
func decimalsFromTick(tick float64) int {
	if tick <= 0 {
		return 0
	}
	s := strconv.FormatFloat(tick, 'f', -1, 64)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}
