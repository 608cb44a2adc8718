package risk

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestCheckLimitWithinLimits(t *testing.T) {
	limiter := NewPositionLimiter(d(1000), d(5000), 12)

	err := limiter.CheckLimit("politics/us/senate/ohio", d(100), nil)
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheckLimitPerCategoryExceeded(t *testing.T) {
	limiter := NewPositionLimiter(d(1000), d(5000), 12)

	existing := map[string]decimal.Decimal{
		"politics/us/senate/ohio": d(950),
	}

	err := limiter.CheckLimit("politics/us/senate/ohio", d(100), existing)
	if err != ErrPerCategoryLimitExceeded {
		t.Errorf("expected ErrPerCategoryLimitExceeded, got %v", err)
	}
}

func TestCheckLimitCorrelatedExceeded(t *testing.T) {
	// PrefixLen=16: "politics/us/sena" shared by both senate markets.
	limiter := NewPositionLimiter(d(1000), d(2000), 16)

	existing := map[string]decimal.Decimal{
		"politics/us/senate/ohio":    d(800),
		"politics/us/senate/indiana": d(800),
		"politics/us/senate/nevada":  d(300),
	}

	err := limiter.CheckLimit("politics/us/senate/georgia", d(200), existing)
	if err != ErrCorrelatedLimitExceeded {
		t.Errorf("expected ErrCorrelatedLimitExceeded, got %v", err)
	}
}

func TestCheckLimitNonCorrelatedCategoriesIgnored(t *testing.T) {
	limiter := NewPositionLimiter(d(1000), d(2000), 16)

	existing := map[string]decimal.Decimal{
		"politics/us/senate/ohio": d(800),
		"sports/nfl/superbowl":    d(900),
	}

	err := limiter.CheckLimit("politics/us/senate/indiana", d(500), existing)
	if err != nil {
		t.Errorf("non-correlated categories should be ignored, got %v", err)
	}
}

func TestCheckLimitDisabledByDefault(t *testing.T) {
	limiter := NewPositionLimiter(decimal.Zero, decimal.Zero, 1)

	existing := map[string]decimal.Decimal{
		"politics/us/senate/ohio": d(1_000_000),
	}
	err := limiter.CheckLimit("politics/us/senate/ohio", d(1_000_000), existing)
	if err != nil {
		t.Errorf("zero-valued limits should disable enforcement, got %v", err)
	}
}

func TestCheckLimitSellReducesExposure(t *testing.T) {
	limiter := NewPositionLimiter(d(1000), d(5000), 12)

	existing := map[string]decimal.Decimal{
		"politics/us/senate/ohio": d(800),
	}

	err := limiter.CheckLimit("politics/us/senate/ohio", d(-200), existing)
	if err != nil {
		t.Errorf("sell should reduce exposure, got %v", err)
	}
}
