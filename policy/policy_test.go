package policy

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestRawToAmount(t *testing.T) {
	amount := RawToAmount(big.NewInt(150000000), 8)
	require.True(t, amount.Equal(decimal.NewFromFloat(1.5)), "got %s", amount)
}

func TestRawToAmountRoundsToEightPlaces(t *testing.T) {
	// 1 / 3 at 18 decimals rounds to 8 places, per spec.md §4.2(d).
	raw, _ := new(big.Int).SetString("333333333333333333", 10)
	amount := RawToAmount(raw, 18)
	require.True(t, amount.Equal(decimal.RequireFromString("0.33333333")), "got %s", amount)
}

func TestEvaluateWithinBounds(t *testing.T) {
	bounds := Bounds{Min: decimal.NewFromInt(1), Max: decimal.NewFromInt(100)}
	fees := Fees{GatewayFee: decimal.NewFromFloat(0.1), NetworkFee: decimal.NewFromFloat(0.05)}

	quote, err := Evaluate(decimal.NewFromInt(10), bounds, fees)
	require.NoError(t, err)
	require.True(t, quote.FeeCharged.Equal(decimal.NewFromFloat(0.15)))
	require.True(t, quote.CreditedAmount.Equal(decimal.NewFromFloat(9.85)))
}

func TestEvaluateBelowMin(t *testing.T) {
	bounds := Bounds{Min: decimal.NewFromInt(1), Max: decimal.NewFromInt(100)}
	_, err := Evaluate(decimal.NewFromFloat(0.5), bounds, Fees{})
	require.ErrorIs(t, err, ErrOutsideRange)
}

func TestEvaluateAboveMax(t *testing.T) {
	bounds := Bounds{Min: decimal.NewFromInt(1), Max: decimal.NewFromInt(100)}
	_, err := Evaluate(decimal.NewFromInt(101), bounds, Fees{})
	require.ErrorIs(t, err, ErrOutsideRange)
}

func TestEvaluateFeesExceedAmount(t *testing.T) {
	bounds := Bounds{Min: decimal.NewFromFloat(0.01), Max: decimal.NewFromInt(100)}
	fees := Fees{GatewayFee: decimal.NewFromInt(5)}
	_, err := Evaluate(decimal.NewFromFloat(0.5), bounds, fees)
	require.ErrorIs(t, err, ErrOutsideRange)
}
