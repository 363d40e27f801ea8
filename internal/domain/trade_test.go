package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPnLInverse(t *testing.T) {
	c := Contract{Kind: ContractInverse, Multiplier: 1}

	// Long gains when price rises: value held in the base currency.
	pnl := PnL(c, PositionLong, 50000, 55000, 10000)
	assert.InDelta(t, (1.0/50000-1.0/55000)*10000, pnl, 1e-12)
	assert.Positive(t, pnl)

	// Short mirrors the long.
	assert.InDelta(t, -pnl, PnL(c, PositionShort, 50000, 55000, 10000), 1e-12)

	// Flat market, flat PnL.
	assert.Zero(t, PnL(c, PositionLong, 50000, 50000, 10000))
}

func TestPnLLinearAndQuanto(t *testing.T) {
	linear := Contract{Kind: ContractLinear, Multiplier: 1}
	assert.InDelta(t, 500.0, PnL(linear, PositionLong, 3000, 3500, 1), 1e-9)
	assert.InDelta(t, -500.0, PnL(linear, PositionShort, 3000, 3500, 1), 1e-9)

	quanto := Contract{Kind: ContractQuanto, Multiplier: 1e-6}
	assert.InDelta(t, 0.05, PnL(quanto, PositionLong, 3000, 3500, 100), 1e-12)
}

func TestPnLGuardsInvalidPrices(t *testing.T) {
	c := Contract{Kind: ContractLinear, Multiplier: 1}
	assert.Zero(t, PnL(c, PositionLong, 0, 100, 1))
	assert.Zero(t, PnL(c, PositionLong, 100, 0, 1))
}

func TestPositionSideOrderSide(t *testing.T) {
	assert.Equal(t, OrderSideBuy, PositionLong.OrderSide())
	assert.Equal(t, OrderSideSell, PositionShort.OrderSide())
	assert.Equal(t, OrderSideSell, OrderSideBuy.Opposite())
}

func TestContractRounding(t *testing.T) {
	c := Contract{TickSize: 0.5, LotSize: 100, PriceDecimals: 1}
	assert.Equal(t, 50000.5, c.RoundPrice(50000.37))
	assert.Equal(t, 1200.0, c.RoundQuantity(1234))

	// Zero sizes leave values untouched.
	free := Contract{}
	assert.Equal(t, 123.456, free.RoundPrice(123.456))
	assert.Equal(t, 0.789, free.RoundQuantity(0.789))
}

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe("5m")
	assert.NoError(t, err)
	assert.Equal(t, int64(300_000), tf.Millis())

	_, err = ParseTimeframe("7m")
	assert.Error(t, err)
}
