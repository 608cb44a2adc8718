// Package pricing supplies a secondary, informational theoretical price
// for a market — it never participates in matching, collateral, or
// settlement (those belong exclusively to internal/book, internal/ledger,
// and internal/engine per spec §4.1-§4.5). It exists so operators can see
// when a thin order book has drifted from a smoothed, flow-weighted model
// price.
//
// The cost function is the Logarithmic Market Scoring Rule (Hanson,
// 2003), adapted from an automated-market-maker that holds live
// inventory to a read-only model driven by cumulative signed trade flow:
// qYes/qNo here are running totals of executed BUY/SELL notional on each
// side, not quantities the model maker is itself exposed to.
package pricing

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidLiquidity is returned when b <= 0.
	ErrInvalidLiquidity = errors.New("pricing: liquidity parameter b must be positive")

	// PriceScale is the number of decimal places for internal rounding.
	PriceScale int32 = 8

	minLiquidity = decimal.NewFromInt(10)
)

// ReferenceModel computes a theoretical YES price from cumulative signed
// order flow using the LMSR cost function. It is stateless: flow
// totals are passed in by the caller (typically accumulated per-market
// in the engine from executed trade notional), never stored here.
type ReferenceModel struct {
	b decimal.Decimal
}

// NewReferenceModel creates a model with the given liquidity parameter.
// Higher b flattens the curve — more trade flow is needed to move the
// theoretical price.
func NewReferenceModel(b decimal.Decimal) (*ReferenceModel, error) {
	if b.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidLiquidity
	}
	return &ReferenceModel{b: b}, nil
}

// DeriveLiquidityFromVolume picks a liquidity parameter from a market's
// recent trade volume: higher volume -> higher liquidity -> the
// theoretical price moves more slowly relative to an individual fill,
// the same relationship the teacher's NWS-confidence derivation used
// between forecast uncertainty and subsidy size. A floor prevents a
// brand-new, no-volume market from producing a degenerate model.
func DeriveLiquidityFromVolume(recentVolumeCents decimal.Decimal) decimal.Decimal {
	b := recentVolumeCents.Div(decimal.NewFromInt(10))
	if b.LessThan(minLiquidity) {
		return minLiquidity
	}
	return b
}

// PriceCents returns the theoretical YES price, in integer cents in
// [1,99], implied by cumulative signed flow qYes/qNo.
func (m *ReferenceModel) PriceCents(qYes, qNo decimal.Decimal) int {
	bf := m.b.InexactFloat64()
	qy := qYes.InexactFloat64()
	qn := qNo.InexactFloat64()

	yOverB := qy / bf
	nOverB := qn / bf
	maxVal := math.Max(yOverB, nOverB)

	expYes := math.Exp(yOverB - maxVal)
	expNo := math.Exp(nOverB - maxVal)
	prob := expYes / (expYes + expNo)

	cents := int(math.Round(prob * 100))
	if cents < 1 {
		cents = 1
	}
	if cents > 99 {
		cents = 99
	}
	return cents
}
