package domain

// OrderSide indicates whether an order buys or sells.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the other side, used when closing a position.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderState is the venue-reported lifecycle state of an order.
type OrderState string

const (
	OrderStateNew             OrderState = "new"
	OrderStateFilled          OrderState = "filled"
	OrderStatePartiallyFilled OrderState = "partially_filled"
	OrderStateCanceled        OrderState = "canceled"
	OrderStateRejected        OrderState = "rejected"
)

// Terminal reports whether the state can no longer change.
func (s OrderState) Terminal() bool {
	switch s {
	case OrderStateFilled, OrderStateCanceled, OrderStateRejected:
		return true
	default:
		return false
	}
}

// OrderStatus is the venue's view of one order. AvgPrice is zero until the
// venue reports fill data.
type OrderStatus struct {
	OrderID  string
	Symbol   string
	State    OrderState
	AvgPrice float64
}
