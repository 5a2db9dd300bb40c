package checkout

import (
	"context"
	"time"
)

// commitmentDays approximates the fixed 12-month commitment.
const commitmentDays = 365

// createCommitmentSchedule provisions the 12-month subscription schedule:
// a single phase starting now, ending at the commitment boundary, with the
// recurring price and, when present, the discount carried on the phase.
// end_behavior=release means the subscription continues month-to-month after
// the commitment instead of being cancelled.
func (s *Service) createCommitmentSchedule(ctx context.Context, customerID, couponID string, metadata map[string]string) (*Schedule, *Subscription, error) {
	end := s.now().Add(commitmentDays * 24 * time.Hour)
	meta := map[string]string{"commitment_months": "12"}
	for k, v := range metadata {
		meta[k] = v
	}
	schedule, subscription, err := s.gw.CreateSchedule(ctx, ScheduleParams{
		CustomerID: customerID,
		PriceID:    s.basePriceID,
		CouponID:   couponID,
		EndDate:    end,
		Metadata:   meta,
	})
	if err != nil {
		return nil, nil, WrapGateway(err, "subscription schedule creation failed")
	}
	if subscription == nil {
		return nil, nil, NewError(ErrScheduleWithoutSubscription, "schedule "+schedule.ID+" spawned no retrievable subscription")
	}
	return schedule, subscription, nil
}
