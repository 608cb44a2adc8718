// Package ledger holds the pure collateral and position-accounting
// functions described in spec §4.3. Every value here is int64 cents;
// nothing here imports shopspring/decimal.
package ledger

import "github.com/duskmarket/exchange/internal/model"

// CalcLock returns the collateral a new order must lock before it can
// be accepted. The fee component is rounded UP (ceiling) — locking the
// estimated worst-case fee, never less than what could actually be
// charged at fill time (spec §4.3, §9).
func CalcLock(side model.OrderSide, otype model.OrderType, priceCents *int, qty int, feeBps int) int64 {
	if otype == model.TypeMarket {
		base := int64(model.MaxPriceCents) * int64(qty)
		return base + ceilFee(base, feeBps)
	}
	p := int64(*priceCents)
	q := int64(qty)
	if side == model.SideBuy {
		base := p * q
		return base + ceilFee(base, feeBps)
	}
	// SELL LIMIT: worst case for the fee estimate is the taker paying the
	// maximum possible notional (MaxPriceCents * qty), even though the
	// collateral itself is sized off (100-P)*qty.
	base := int64(model.FullPayCents-int(p)) * q
	worstNotional := int64(model.MaxPriceCents) * q
	return base + ceilFee(worstNotional, feeBps)
}

// CalcTakerFee returns the actual fee charged on one fill. The fee
// component is rounded DOWN (floor) — the taker is never charged more
// than the exact bps of the executed notional (spec §4.3, §9). This is
// the deliberate ceil/floor asymmetry between lock-time estimate and
// fill-time charge: original_source's CalcLock/CalcTakerFee truncate on
// both, which under-reserves collateral against a possible fee rounding
// increase; spec.md requires the asymmetry.
func CalcTakerFee(priceCents, qty, feeBps int) int64 {
	base := int64(priceCents) * int64(qty)
	return base * int64(feeBps) / 10000
}

func ceilFee(base int64, feeBps int) int64 {
	num := base * int64(feeBps)
	if num <= 0 {
		return 0
	}
	return (num + 9999) / 10000
}

// MakerLockRelease returns how much of a maker's resting lock to release
// for one fill, given the order's remaining quantity immediately before
// the fill. It is applied once per fill and the order's LockedCents is
// decremented by exactly this amount — repeated partial fills never
// release more in total than the order's original lock (spec §9, Open
// Question 1, "clean rule").
func MakerLockRelease(lockedCents int64, fillQty, remainingBeforeFill int) int64 {
	if remainingBeforeFill <= 0 {
		return lockedCents
	}
	return lockedCents * int64(fillQty) / int64(remainingBeforeFill)
}

// ShortIncrementalLock returns the collateral a SELL fill that opens or
// extends a net-short position must lock: (100 - entryPriceCents) per
// share, matching the worst-case payout the short would owe on a YES
// resolution.
func ShortIncrementalLock(entryPriceCents, qty int) int64 {
	return int64(model.FullPayCents-entryPriceCents) * int64(qty)
}

// ApplyFillToPosition folds one fill into a user's position, returning
// the updated position and the realized-PnL delta booked by this fill
// (spec §4.3). Shares are signed: positive is net long YES, negative is
// net short. Opening or extending exposure in the existing direction
// updates the weighted-average cost basis; reducing exposure realizes
// PnL at the fill price against the existing average; crossing through
// zero both realizes the close and opens a fresh average at the fill
// price for the remainder.
func ApplyFillToPosition(pos model.Position, side model.OrderSide, priceCents, qty int) (model.Position, int64) {
	delta := qty
	if side == model.SideSell {
		delta = -qty
	}
	oldShares := pos.YesShares
	newShares := oldShares + delta

	sameDirectionOrFlat := oldShares == 0 || (oldShares > 0 && delta > 0) || (oldShares < 0 && delta < 0)
	if sameDirectionOrFlat {
		if oldShares == 0 {
			pos.AvgCostCents = int64(priceCents)
		} else {
			oldNotional := pos.AvgCostCents * int64(abs(oldShares))
			addNotional := int64(priceCents) * int64(abs(delta))
			pos.AvgCostCents = (oldNotional + addNotional) / int64(abs(newShares))
		}
		pos.YesShares = newShares
		return pos, 0
	}

	// Reducing exposure, possibly crossing through zero.
	oldAbs := abs(oldShares)
	deltaAbs := abs(delta)
	closeQty := oldAbs
	if deltaAbs < oldAbs {
		closeQty = deltaAbs
	}

	var realized int64
	if oldShares > 0 {
		realized = (int64(priceCents) - pos.AvgCostCents) * int64(closeQty)
	} else {
		realized = (pos.AvgCostCents - int64(priceCents)) * int64(closeQty)
	}

	pos.YesShares = newShares
	pos.RealizedPnlCents += realized
	if newShares == 0 {
		pos.AvgCostCents = 0
	} else if deltaAbs > oldAbs {
		// Flipped sides: remainder opens a fresh position at this fill's price.
		pos.AvgCostCents = int64(priceCents)
	}
	return pos, realized
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
