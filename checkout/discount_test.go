package checkout

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateDiscount_PromotionCodeWinsOverCouponID(t *testing.T) {
	gw := newFakeGateway()
	gw.promoCodes["SUMMER25"] = &Coupon{ID: "coup_summer", PercentOff: 25, Valid: true}
	gw.coupons["SUMMER25"] = &Coupon{ID: "SUMMER25", PercentOff: 99, Valid: true}
	svc := newTestService(gw, newFakeStore())

	coupon, err := svc.ValidateDiscount(context.Background(), "SUMMER25")
	require.NoError(t, err)
	require.Equal(t, "coup_summer", coupon.ID)
	require.NotContains(t, gw.calls, "coupon.get")
}

func TestValidateDiscount_FallsBackToRawCouponID(t *testing.T) {
	gw := newFakeGateway()
	gw.coupons["coup_direct"] = &Coupon{ID: "coup_direct", AmountOff: 500, Valid: true}
	svc := newTestService(gw, newFakeStore())

	coupon, err := svc.ValidateDiscount(context.Background(), "coup_direct")
	require.NoError(t, err)
	require.Equal(t, "coup_direct", coupon.ID)
	require.Contains(t, gw.calls, "promotion_code.lookup")
	require.Contains(t, gw.calls, "coupon.get")
}

func TestValidateDiscount_UnknownAndInvalid(t *testing.T) {
	gw := newFakeGateway()
	gw.coupons["expired"] = &Coupon{ID: "expired", PercentOff: 50, Valid: false}
	svc := newTestService(gw, newFakeStore())

	coupon, err := svc.ValidateDiscount(context.Background(), "nope")
	require.NoError(t, err)
	require.Nil(t, coupon)

	// A coupon the gateway no longer considers redeemable is reported the
	// same way as an unknown one.
	coupon, err = svc.ValidateDiscount(context.Background(), "expired")
	require.NoError(t, err)
	require.Nil(t, coupon)
}

func TestValidateDiscount_BlankCodeSkipsGateway(t *testing.T) {
	gw := newFakeGateway()
	svc := newTestService(gw, newFakeStore())

	coupon, err := svc.ValidateDiscount(context.Background(), "   ")
	require.NoError(t, err)
	require.Nil(t, coupon)
	require.Empty(t, gw.calls)
}

func TestDiscountAmount(t *testing.T) {
	cases := []struct {
		name   string
		coupon *Coupon
		amount int64
		want   int64
	}{
		{"nil_coupon", nil, 18500, 0},
		{"percent", &Coupon{PercentOff: 20}, 18500, 3700},
		{"percent_rounds", &Coupon{PercentOff: 33}, 100, 33},
		{"full_percent", &Coupon{PercentOff: 100}, 3500, 3500},
		{"fixed", &Coupon{AmountOff: 500}, 3500, 500},
		{"fixed_clamped", &Coupon{AmountOff: 9999}, 3500, 3500},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, DiscountAmount(tc.coupon, tc.amount))
		})
	}
}
