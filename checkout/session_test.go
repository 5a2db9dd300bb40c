package checkout

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"onboarding-backend/submissions"
)

// --- fakes ---

type fakeGateway struct {
	calls []string

	customers  map[string]*Customer // by email
	promoCodes map[string]*Coupon   // active promotion code -> coupon
	coupons    map[string]*Coupon   // coupon id -> coupon

	seq                int
	scheduleCoupons    map[string]string // schedule id -> coupon id
	invoiceItems       map[string][]InvoiceItemParams
	invoiceCoupons     map[string]string
	cancelledSchedules []string
	cancelledSubs      []string
	subscriptions      map[string]*Subscription

	failSpawnSubscription bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		customers:       map[string]*Customer{},
		promoCodes:      map[string]*Coupon{},
		coupons:         map[string]*Coupon{},
		scheduleCoupons: map[string]string{},
		invoiceItems:    map[string][]InvoiceItemParams{},
		invoiceCoupons:  map[string]string{},
		subscriptions:   map[string]*Subscription{},
	}
}

func (g *fakeGateway) record(call string) { g.calls = append(g.calls, call) }

func (g *fakeGateway) FindCustomer(ctx context.Context, email string) (*Customer, error) {
	g.record("customer.find")
	return g.customers[email], nil
}

func (g *fakeGateway) CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (*Customer, error) {
	g.record("customer.create")
	g.seq++
	c := &Customer{ID: fmt.Sprintf("cus_%d", g.seq), Email: email, Name: name}
	g.customers[email] = c
	return c, nil
}

func (g *fakeGateway) LookupPromotionCode(ctx context.Context, code string) (*Coupon, error) {
	g.record("promotion_code.lookup")
	return g.promoCodes[code], nil
}

func (g *fakeGateway) GetCoupon(ctx context.Context, id string) (*Coupon, error) {
	g.record("coupon.get")
	return g.coupons[id], nil
}

func (g *fakeGateway) CreateSchedule(ctx context.Context, p ScheduleParams) (*Schedule, *Subscription, error) {
	g.record("schedule.create")
	g.seq++
	schedule := &Schedule{ID: fmt.Sprintf("sch_%d", g.seq)}
	if g.failSpawnSubscription {
		return schedule, nil, nil
	}
	sub := &Subscription{
		ID:              fmt.Sprintf("sub_%d", g.seq),
		CustomerID:      p.CustomerID,
		ScheduleID:      schedule.ID,
		LatestInvoiceID: fmt.Sprintf("in_%d", g.seq),
		Status:          "active",
		Metadata:        p.Metadata,
	}
	schedule.SubscriptionID = sub.ID
	g.subscriptions[sub.ID] = sub
	if p.CouponID != "" {
		g.scheduleCoupons[schedule.ID] = p.CouponID
	}
	return schedule, sub, nil
}

func (g *fakeGateway) CancelSchedule(ctx context.Context, id string) error {
	g.record("schedule.cancel")
	g.cancelledSchedules = append(g.cancelledSchedules, id)
	return nil
}

func (g *fakeGateway) RetrieveSubscription(ctx context.Context, id string) (*Subscription, error) {
	g.record("subscription.retrieve")
	return g.subscriptions[id], nil
}

func (g *fakeGateway) CancelSubscription(ctx context.Context, id string) error {
	g.record("subscription.cancel")
	g.cancelledSubs = append(g.cancelledSubs, id)
	return nil
}

func (g *fakeGateway) AddInvoiceItem(ctx context.Context, p InvoiceItemParams) error {
	g.record("invoiceitem.create")
	g.invoiceItems[p.InvoiceID] = append(g.invoiceItems[p.InvoiceID], p)
	return nil
}

func (g *fakeGateway) AttachInvoiceDiscount(ctx context.Context, invoiceID, couponID string) error {
	g.record("invoice.discount")
	g.invoiceCoupons[invoiceID] = couponID
	return nil
}

func (g *fakeGateway) FinalizeInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	g.record("invoice.finalize")
	subtotal := BaseAmount
	for _, item := range g.invoiceItems[invoiceID] {
		subtotal += item.Amount
	}
	var discount int64
	if couponID, ok := g.invoiceCoupons[invoiceID]; ok {
		discount = DiscountAmount(g.coupons[couponID], subtotal)
	}
	total := subtotal - discount
	inv := &Invoice{
		ID:             invoiceID,
		AmountDue:      total,
		Subtotal:       subtotal,
		Total:          total,
		DiscountAmount: discount,
		Currency:       BaseCurrency,
	}
	if total <= 0 {
		inv.Paid = true
		return inv, nil
	}
	inv.PaymentIntentID = "pi_" + invoiceID
	inv.ClientSecret = "pi_" + invoiceID + "_secret"
	return inv, nil
}

func (g *fakeGateway) RetrieveInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	g.record("invoice.retrieve")
	return g.FinalizeInvoice(ctx, invoiceID)
}

type analyticsEntry struct {
	sessionID string
	eventType string
	metadata  map[string]any
	at        time.Time
}

type fakeStore struct {
	subs      map[string]*submissions.Submission
	analytics []analyticsEntry
	now       func() time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{subs: map[string]*submissions.Submission{}, now: time.Now}
}

func (s *fakeStore) GetSubmission(ctx context.Context, id string) (*submissions.Submission, error) {
	return s.subs[id], nil
}

func (s *fakeStore) UpdateGatewayLinks(ctx context.Context, id, customerID, subscriptionID, scheduleID, paymentID string) error {
	sub := s.subs[id]
	sub.CustomerID = customerID
	sub.SubscriptionID = subscriptionID
	sub.ScheduleID = scheduleID
	if paymentID != "" {
		sub.PaymentID = paymentID
	}
	return nil
}

func (s *fakeStore) ClearGatewayLinks(ctx context.Context, id string) error {
	sub := s.subs[id]
	sub.SubscriptionID = ""
	sub.ScheduleID = ""
	return nil
}

func (s *fakeStore) AppendAnalyticsEvent(ctx context.Context, sessionID, eventType string, metadata map[string]any) error {
	s.analytics = append(s.analytics, analyticsEntry{sessionID, eventType, metadata, s.now()})
	return nil
}

func (s *fakeStore) CountAnalyticsEvents(ctx context.Context, sessionID, eventType string, since time.Time) (int, error) {
	count := 0
	for _, e := range s.analytics {
		if e.sessionID == sessionID && e.eventType == eventType && !e.at.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *fakeStore) countType(eventType string) int {
	count := 0
	for _, e := range s.analytics {
		if e.eventType == eventType {
			count++
		}
	}
	return count
}

func seedSubmission(store *fakeStore, id, sessionID, formData string) *submissions.Submission {
	sub := &submissions.Submission{
		ID:        id,
		SessionID: sessionID,
		Status:    submissions.StatusSubmitted,
		FormData:  submissions.FormData(formData),
	}
	store.subs[id] = sub
	return sub
}

func newTestService(gw Gateway, store Store) *Service {
	return NewService(gw, store, "price_base")
}

// --- tests ---

func TestCreateSession_HappyPath(t *testing.T) {
	gw := newFakeGateway()
	store := newFakeStore()
	seedSubmission(store, "sub-1", "sess-1", `{"email":"owner@example.com","businessName":"Acme","additionalLanguages":["de","fr"]}`)
	svc := newTestService(gw, store)

	result, err := svc.CreateSession(context.Background(), Request{SubmissionID: "sub-1"})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.True(t, result.PaymentRequired)
	require.NotEmpty(t, result.AuthToken)
	require.Equal(t, BaseAmount+2*AddOnAmount, result.InvoiceTotal)
	require.Equal(t, int64(0), result.InvoiceDiscount)
	require.Len(t, result.LineItems, 3)

	stored := store.subs["sub-1"]
	require.Equal(t, result.CustomerID, stored.CustomerID)
	require.Equal(t, result.SubscriptionID, stored.SubscriptionID)
	require.Equal(t, result.ScheduleID, stored.ScheduleID)
	require.Equal(t, 1, store.countType("payment_attempt"))
}

func TestCreateSession_ReusesExistingCustomer(t *testing.T) {
	gw := newFakeGateway()
	gw.customers["owner@example.com"] = &Customer{ID: "cus_existing", Email: "owner@example.com"}
	store := newFakeStore()
	seedSubmission(store, "sub-1", "sess-1", `{"email":"owner@example.com"}`)
	svc := newTestService(gw, store)

	result, err := svc.CreateSession(context.Background(), Request{SubmissionID: "sub-1"})
	require.NoError(t, err)
	require.Equal(t, "cus_existing", result.CustomerID)
	require.NotContains(t, gw.calls, "customer.create")
}

func TestCreateSession_DiscountMath(t *testing.T) {
	gw := newFakeGateway()
	gw.coupons["SAVE20"] = &Coupon{ID: "SAVE20", PercentOff: 20, Duration: DurationRepeating, DurationInMonths: 12, Valid: true}
	store := newFakeStore()
	seedSubmission(store, "sub-1", "sess-1", `{"email":"owner@example.com","additionalLanguages":["de","fr"]}`)
	svc := newTestService(gw, store)

	result, err := svc.CreateSession(context.Background(), Request{SubmissionID: "sub-1", DiscountCode: "SAVE20"})
	require.NoError(t, err)
	// (3500 + 7500*2) * 0.8
	require.Equal(t, int64(14800), result.InvoiceTotal)
	require.Equal(t, int64(3700), result.InvoiceDiscount)
	require.Equal(t, "SAVE20", result.DiscountID)
	require.True(t, result.PaymentRequired)
	// The discount rides on the schedule phase so every recurring invoice
	// gets it, not only the first.
	require.Equal(t, "SAVE20", gw.scheduleCoupons[result.ScheduleID])
}

func TestCreateSession_ZeroDueShortCircuit(t *testing.T) {
	gw := newFakeGateway()
	gw.coupons["FULLCOMP"] = &Coupon{ID: "FULLCOMP", PercentOff: 100, Duration: DurationOnce, Valid: true}
	store := newFakeStore()
	seedSubmission(store, "sub-1", "sess-1", `{"email":"owner@example.com"}`)
	svc := newTestService(gw, store)

	result, err := svc.CreateSession(context.Background(), Request{SubmissionID: "sub-1", DiscountCode: "FULLCOMP"})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.False(t, result.PaymentRequired)
	require.Empty(t, result.AuthToken)
	require.Equal(t, int64(0), result.InvoiceTotal)
}

func TestCreateSession_InvalidAddOnRejectedBeforeGatewayCalls(t *testing.T) {
	gw := newFakeGateway()
	store := newFakeStore()
	seedSubmission(store, "sub-1", "sess-1", `{"email":"owner@example.com","additionalLanguages":["xx"]}`)
	svc := newTestService(gw, store)

	_, err := svc.CreateSession(context.Background(), Request{SubmissionID: "sub-1"})
	require.Error(t, err)
	require.Equal(t, ErrInvalidAddOnCode, CodeOf(err))
	require.Contains(t, err.Error(), "xx")
	require.Empty(t, gw.calls, "validation failures must touch nothing at the gateway")
}

func TestCreateSession_StoredAddOnsAreTheTrustBoundary(t *testing.T) {
	gw := newFakeGateway()
	store := newFakeStore()
	seedSubmission(store, "sub-1", "sess-1", `{"email":"owner@example.com","additionalLanguages":["de"]}`)
	svc := newTestService(gw, store)

	// The caller-supplied bogus list is ignored because the stored record
	// carries its own.
	result, err := svc.CreateSession(context.Background(), Request{SubmissionID: "sub-1", AddOnCodes: []string{"xx"}})
	require.NoError(t, err)
	require.Equal(t, BaseAmount+AddOnAmount, result.InvoiceTotal)
}

func TestCreateSession_CallerAddOnsUsedWhenStoredEmpty(t *testing.T) {
	gw := newFakeGateway()
	store := newFakeStore()
	seedSubmission(store, "sub-1", "sess-1", `{"email":"owner@example.com"}`)
	svc := newTestService(gw, store)

	result, err := svc.CreateSession(context.Background(), Request{SubmissionID: "sub-1", AddOnCodes: []string{"nl"}})
	require.NoError(t, err)
	require.Equal(t, BaseAmount+AddOnAmount, result.InvoiceTotal)
}

func TestCreateSession_RateLimit(t *testing.T) {
	gw := newFakeGateway()
	store := newFakeStore()
	seedSubmission(store, "sub-1", "sess-1", `{"email":"owner@example.com"}`)
	svc := newTestService(gw, store)

	for i := 0; i < 4; i++ {
		store.analytics = append(store.analytics, analyticsEntry{"sess-1", "payment_attempt", nil, time.Now()})
	}

	// 5th attempt in the window passes
	_, err := svc.CreateSession(context.Background(), Request{SubmissionID: "sub-1"})
	require.NoError(t, err)

	// 6th is rejected
	_, err = svc.CreateSession(context.Background(), Request{SubmissionID: "sub-1"})
	require.Error(t, err)
	require.Equal(t, ErrRateLimitExceeded, CodeOf(err))
}

func TestCreateSession_RateLimitIgnoresOldAttempts(t *testing.T) {
	gw := newFakeGateway()
	store := newFakeStore()
	seedSubmission(store, "sub-1", "sess-1", `{"email":"owner@example.com"}`)
	svc := newTestService(gw, store)

	for i := 0; i < 5; i++ {
		store.analytics = append(store.analytics, analyticsEntry{"sess-1", "payment_attempt", nil, time.Now().Add(-2 * time.Hour)})
	}

	_, err := svc.CreateSession(context.Background(), Request{SubmissionID: "sub-1"})
	require.NoError(t, err)
}

func TestCreateSession_StaleResourceReset(t *testing.T) {
	gw := newFakeGateway()
	store := newFakeStore()
	seedSubmission(store, "sub-1", "sess-1", `{"email":"owner@example.com"}`)
	svc := newTestService(gw, store)

	first, err := svc.CreateSession(context.Background(), Request{SubmissionID: "sub-1"})
	require.NoError(t, err)

	second, err := svc.CreateSession(context.Background(), Request{SubmissionID: "sub-1"})
	require.NoError(t, err)
	require.NotEqual(t, first.SubscriptionID, second.SubscriptionID)

	// The first attempt's resources were cancelled and exactly one live
	// subscription remains linked.
	require.Contains(t, gw.cancelledSchedules, first.ScheduleID)
	require.Contains(t, gw.cancelledSubs, first.SubscriptionID)
	stored := store.subs["sub-1"]
	require.Equal(t, second.SubscriptionID, stored.SubscriptionID)
	require.Equal(t, second.ScheduleID, stored.ScheduleID)
}

func TestCreateSession_InvalidSubmissionID(t *testing.T) {
	svc := newTestService(newFakeGateway(), newFakeStore())
	_, err := svc.CreateSession(context.Background(), Request{SubmissionID: "nope"})
	require.Error(t, err)
	require.Equal(t, ErrInvalidSubmissionID, CodeOf(err))
}

func TestCreateSession_MissingCustomerEmail(t *testing.T) {
	gw := newFakeGateway()
	store := newFakeStore()
	seedSubmission(store, "sub-1", "sess-1", `{"businessName":"Acme"}`)
	svc := newTestService(gw, store)

	_, err := svc.CreateSession(context.Background(), Request{SubmissionID: "sub-1"})
	require.Error(t, err)
	require.Equal(t, ErrMissingCustomerEmail, CodeOf(err))
}

func TestCreateSession_InvalidDiscountCodeIsHardFailure(t *testing.T) {
	gw := newFakeGateway()
	store := newFakeStore()
	seedSubmission(store, "sub-1", "sess-1", `{"email":"owner@example.com"}`)
	svc := newTestService(gw, store)

	_, err := svc.CreateSession(context.Background(), Request{SubmissionID: "sub-1", DiscountCode: "NOPE"})
	require.Error(t, err)
	require.Equal(t, ErrInvalidDiscountCode, CodeOf(err))
	require.NotContains(t, gw.calls, "schedule.create")
}

func TestCreateSession_ScheduleWithoutSubscription(t *testing.T) {
	gw := newFakeGateway()
	gw.failSpawnSubscription = true
	store := newFakeStore()
	seedSubmission(store, "sub-1", "sess-1", `{"email":"owner@example.com"}`)
	svc := newTestService(gw, store)

	_, err := svc.CreateSession(context.Background(), Request{SubmissionID: "sub-1"})
	require.Error(t, err)
	require.Equal(t, ErrScheduleWithoutSubscription, CodeOf(err))
}

func TestCreateSession_EmailFallbackLocations(t *testing.T) {
	cases := []struct {
		name     string
		formData string
	}{
		{"top_level", `{"email":"owner@example.com"}`},
		{"business_email", `{"businessEmail":"owner@example.com"}`},
		{"legacy_step3", `{"step3":{"businessEmail":"owner@example.com"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gw := newFakeGateway()
			store := newFakeStore()
			seedSubmission(store, "sub-1", "sess-1", tc.formData)
			svc := newTestService(gw, store)

			result, err := svc.CreateSession(context.Background(), Request{SubmissionID: "sub-1"})
			require.NoError(t, err)
			require.True(t, strings.HasPrefix(result.CustomerID, "cus_"))
		})
	}
}
