package checkout

import (
	"context"
	"strings"
)

// ValidateDiscount resolves a user-supplied code to a currently-valid coupon.
// The code is tried first as a customer-facing promotion code, then as a raw
// coupon id; callers never need to know which form they were handed. Returns
// nil,nil when no active match exists or the coupon is no longer valid.
// Validity is checked on every call, never cached across checkouts.
func (s *Service) ValidateDiscount(ctx context.Context, code string) (*Coupon, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}
	coupon, err := s.gw.LookupPromotionCode(ctx, code)
	if err != nil {
		return nil, WrapGateway(err, "promotion code lookup failed")
	}
	if coupon == nil {
		coupon, err = s.gw.GetCoupon(ctx, code)
		if err != nil {
			return nil, WrapGateway(err, "coupon lookup failed")
		}
	}
	if coupon == nil || !coupon.Valid {
		return nil, nil
	}
	return coupon, nil
}

// DiscountAmount computes the reduction a coupon applies to an amount.
func DiscountAmount(c *Coupon, amount int64) int64 {
	if c == nil {
		return 0
	}
	if c.AmountOff > 0 {
		if c.AmountOff > amount {
			return amount
		}
		return c.AmountOff
	}
	return int64(float64(amount)*c.PercentOff/100 + 0.5)
}
