package fills

import (
	"github.com/shopspring/decimal"

	"tradecoord/pkg/types"
)

// StaticFeeSchedule is a FeeSchedule backed by fixed maker/taker rates and
// referral fractions read from venue config — the expected_commission_rate
// spec.md §4.3.j needs is "the venue's configured fee for resolved role",
// which for every venue in the retrieved corpus is a static per-role table
// rather than something fetched per request.
type StaticFeeSchedule struct {
	MakerRate             decimal.Decimal
	TakerRate             decimal.Decimal
	MakerReferralFraction decimal.Decimal
	TakerReferralFraction decimal.Decimal
}

// CommissionRate returns the configured rate for role.
func (s StaticFeeSchedule) CommissionRate(role types.OrderRole) decimal.Decimal {
	if role == types.RoleMaker {
		return s.MakerRate
	}
	return s.TakerRate
}

// ReferralFraction returns the configured referral fraction for role.
func (s StaticFeeSchedule) ReferralFraction(role types.OrderRole) decimal.Decimal {
	if role == types.RoleMaker {
		return s.MakerReferralFraction
	}
	return s.TakerReferralFraction
}
