// Package policy implements the fee and amount policy of spec.md
// §4.6: computing the credited amount after gateway + network fees,
// and rejecting deposits outside the configured [min, max] bounds.
//
// Amounts are carried as github.com/shopspring/decimal values rather
// than raw float64, the way the stellar-stellar-disbursement-platform-
// backend and tobi-techy-RAIL-BACKEND-SERVICE examples in the
// retrieval pack represent money — the original Python source used
// plain floats with round(x, 8); this package keeps the 8-place
// rounding but does the arithmetic in fixed-point decimals.
package policy

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Fees is one side's fee schedule (spec.md §6: gatewayFee, networkFee).
type Fees struct {
	GatewayFee decimal.Decimal
	NetworkFee decimal.Decimal
}

// Total is the sum of both fee components.
func (f Fees) Total() decimal.Decimal {
	return f.GatewayFee.Add(f.NetworkFee)
}

// Bounds is the global [min, max] deposit amount window (spec.md §6,
// configured once at top level and shared by both sides).
type Bounds struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// ErrOutsideRange is returned by Evaluate when the deposit amount
// falls outside Bounds; its Error() matches the spec's literal
// "outside amount ranges" detail string stored in errors.detail.
var ErrOutsideRange = fmt.Errorf("outside amount ranges")

// Quote is the result of evaluating a deposit: the amount to credit
// after fees, and the fee actually charged.
type Quote struct {
	CreditedAmount decimal.Decimal
	FeeCharged     decimal.Decimal
}

// RawToAmount converts a raw on-chain integer amount into a decimal
// amount using decimals, rounded to 8 decimal places — the exact
// rounding spec.md §4.2(d) specifies.
func RawToAmount(raw *big.Int, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(raw, 0).
		Div(decimal.New(1, int32(decimals))).
		Round(8)
}

// Evaluate applies the amount-bounds check and fee deduction for a
// single deposit, following spec.md §4.2(d) and §4.6. The min bound is
// checked before the max bound, resolving the spec's Open Question
// (a) for the degenerate case where a misconfigured [min, max] could
// otherwise flag both.
func Evaluate(amount decimal.Decimal, bounds Bounds, destinationFees Fees) (Quote, error) {
	if amount.LessThan(bounds.Min) {
		return Quote{}, ErrOutsideRange
	}
	if amount.GreaterThan(bounds.Max) {
		return Quote{}, ErrOutsideRange
	}

	fee := destinationFees.Total()
	credited := amount.Sub(fee)
	if credited.IsNegative() {
		return Quote{}, ErrOutsideRange
	}

	return Quote{CreditedAmount: credited, FeeCharged: fee}, nil
}
