// Package risk implements position limits that account for correlation
// between markets grouped under the same category path.
//
// A user long YES on "politics/us/senate/ohio" and long YES on
// "politics/us/senate/indiana" carries correlated risk the same way two
// markets covering the same election cycle do: both outcomes tend to
// move together. This package detects that correlation via category
// path-prefix matching and enforces aggregate exposure limits across
// correlated markets, the same shape of control AMOORCHING-ATMX applies
// to geographically adjacent H3 weather cells.
package risk

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrPerCategoryLimitExceeded is returned when a trade would push a
	// single category's position beyond its configured maximum.
	ErrPerCategoryLimitExceeded = errors.New("risk: per-category position limit exceeded")

	// ErrCorrelatedLimitExceeded is returned when a trade would push the
	// aggregate exposure across correlated categories beyond the
	// configured correlated maximum.
	ErrCorrelatedLimitExceeded = errors.New("risk: correlated exposure limit exceeded")
)

// PositionLimiter enforces position limits with category-correlation
// awareness. Correlation is detected via path-prefix matching on the
// market Category string (e.g. "politics/us/senate/ohio"): categories
// sharing a longer prefix are considered more correlated. PrefixLen
// counts characters, not path segments, matching the simple string
// comparison the teacher's H3-index prefix matching already does.
//
// Zero-valued limits (the default) mean "unlimited" — the limiter is
// off unless an operator explicitly configures it, so it never changes
// an otherwise spec-mandated PlaceOrder outcome.
type PositionLimiter struct {
	// MaxPerCategory is the maximum absolute net exposure in any single
	// category. Zero means unlimited.
	MaxPerCategory decimal.Decimal

	// MaxCorrelated is the maximum aggregate absolute exposure across
	// all categories sharing the same prefix. Zero means unlimited.
	MaxCorrelated decimal.Decimal

	// PrefixLen determines how many leading characters of the category
	// string must match for two markets to be considered correlated.
	PrefixLen int
}

// NewPositionLimiter creates a limiter with the given per-category and
// correlated exposure limits. Pass decimal.Zero for either limit to
// disable it.
func NewPositionLimiter(maxPerCategory, maxCorrelated decimal.Decimal, prefixLen int) *PositionLimiter {
	if prefixLen < 1 {
		prefixLen = 1
	}
	return &PositionLimiter{
		MaxPerCategory: maxPerCategory,
		MaxCorrelated:  maxCorrelated,
		PrefixLen:      prefixLen,
	}
}

// CheckLimit validates whether a trade respects position limits.
//
//   - targetCategory: category path of the market being traded
//   - exposureDelta: signed change in exposure (+long / -short direction)
//   - existingExposures: map of category -> current net exposure for this user
//
// Returns nil if the trade is within limits, or an error describing the
// violation. A zero-valued limit field disables that check entirely.
func (l *PositionLimiter) CheckLimit(
	targetCategory string,
	exposureDelta decimal.Decimal,
	existingExposures map[string]decimal.Decimal,
) error {
	currentInCategory := existingExposures[targetCategory]
	newPosition := currentInCategory.Add(exposureDelta)

	if !l.MaxPerCategory.IsZero() && newPosition.Abs().GreaterThan(l.MaxPerCategory) {
		return ErrPerCategoryLimitExceeded
	}

	if l.MaxCorrelated.IsZero() {
		return nil
	}

	targetPrefix := categoryPrefix(targetCategory, l.PrefixLen)
	totalCorrelated := newPosition.Abs()

	for category, exposure := range existingExposures {
		if category == targetCategory {
			continue // already counted via newPosition above
		}
		if categoryPrefix(category, l.PrefixLen) == targetPrefix {
			totalCorrelated = totalCorrelated.Add(exposure.Abs())
		}
	}

	if totalCorrelated.GreaterThan(l.MaxCorrelated) {
		return ErrCorrelatedLimitExceeded
	}

	return nil
}

// categoryPrefix returns the first `length` characters of a category path.
func categoryPrefix(category string, length int) string {
	if length >= len(category) {
		return category
	}
	return category[:length]
}
