package domain

import "math"

// ContractKind is the pricing convention of a derivatives contract. It
// determines how price and multiplier combine into position sizing and PnL.
type ContractKind string

const (
	ContractInverse ContractKind = "inverse"
	ContractQuanto  ContractKind = "quanto"
	ContractLinear  ContractKind = "linear"
)

// Contract describes a tradeable instrument. Contracts are immutable once
// loaded; the connector refreshes the full set at startup.
type Contract struct {
	Symbol        string
	Exchange      string
	TickSize      float64
	LotSize       float64
	PriceDecimals int
	Multiplier    float64
	Kind          ContractKind
}

// RoundPrice snaps a price to the contract's tick size, then truncates noise
// beyond the contract's price precision.
func (c Contract) RoundPrice(price float64) float64 {
	if c.TickSize <= 0 {
		return price
	}
	p := math.Round(price/c.TickSize) * c.TickSize
	pow := math.Pow10(c.PriceDecimals)
	return math.Round(p*pow) / pow
}

// RoundQuantity snaps a quantity to the contract's lot size.
func (c Contract) RoundQuantity(qty float64) float64 {
	if c.LotSize <= 0 {
		return qty
	}
	return math.Round(qty/c.LotSize) * c.LotSize
}

// Balance is a venue account balance for one currency. It is refreshed on
// demand, never streamed.
type Balance struct {
	Currency      string
	WalletBalance float64
	MarginBalance float64
}
