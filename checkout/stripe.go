package checkout

import (
	"context"
	"errors"
	"log"
	"os"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeGateway implements Gateway on the Stripe API. Real calls are optional;
// if STRIPE_SECRET_KEY is not set the constructor returns nil and checkout
// routes report the gateway as unconfigured.
type StripeGateway struct {
	sc          *client.API
	secretKey   string
	callTimeout time.Duration
}

var ErrStripeInvalidAPIKey = errors.New("stripe_invalid_api_key")

func maskKey(k string) string {
	if len(k) < 12 {
		return "****"
	}
	return k[:7] + "..." + k[len(k)-4:]
}

// NewStripeGatewayFromEnv returns a configured gateway or nil when the secret
// key is missing.
func NewStripeGatewayFromEnv() *StripeGateway {
	key := os.Getenv("STRIPE_SECRET_KEY")
	if key == "" {
		return nil
	}
	sc := &client.API{}
	sc.Init(key, nil)
	return &StripeGateway{
		sc:          sc,
		secretKey:   key,
		callTimeout: 15 * time.Second,
	}
}

// callCtx bounds a single gateway call. A hung call must not stall the whole
// checkout chain.
func (g *StripeGateway) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.callTimeout)
}

// classify logs invalid-key failures with a masked key so operators can spot
// a bad deploy without the secret landing in logs.
func (g *StripeGateway) classify(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) && (se.HTTPStatusCode == 401 || strings.Contains(strings.ToLower(se.Msg), "invalid api key")) {
		log.Printf("[STRIPE][%s] invalid api key (%s): %v", op, maskKey(g.secretKey), se)
		return ErrStripeInvalidAPIKey
	}
	return err
}

func (g *StripeGateway) FindCustomer(ctx context.Context, email string) (*Customer, error) {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()
	params := &stripe.CustomerListParams{Email: stripe.String(email)}
	params.Context = ctx
	params.Limit = stripe.Int64(1)
	iter := g.sc.Customers.List(params)
	if iter.Next() {
		c := iter.Customer()
		return &Customer{ID: c.ID, Email: c.Email, Name: c.Name}, nil
	}
	if err := iter.Err(); err != nil {
		return nil, g.classify("customer.list", err)
	}
	return nil, nil
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (*Customer, error) {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	c, err := g.sc.Customers.New(params)
	if err != nil {
		return nil, g.classify("customer.create", err)
	}
	return &Customer{ID: c.ID, Email: c.Email, Name: c.Name}, nil
}

func mapCoupon(c *stripe.Coupon) *Coupon {
	if c == nil {
		return nil
	}
	return &Coupon{
		ID:               c.ID,
		PercentOff:       c.PercentOff,
		AmountOff:        c.AmountOff,
		Duration:         string(c.Duration),
		DurationInMonths: c.DurationInMonths,
		Valid:            c.Valid,
	}
}

func (g *StripeGateway) LookupPromotionCode(ctx context.Context, code string) (*Coupon, error) {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()
	params := &stripe.PromotionCodeListParams{
		Code:   stripe.String(code),
		Active: stripe.Bool(true),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(1)
	iter := g.sc.PromotionCodes.List(params)
	if iter.Next() {
		pc := iter.PromotionCode()
		return mapCoupon(pc.Coupon), nil
	}
	if err := iter.Err(); err != nil {
		return nil, g.classify("promotion_code.list", err)
	}
	return nil, nil
}

func (g *StripeGateway) GetCoupon(ctx context.Context, id string) (*Coupon, error) {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()
	params := &stripe.CouponParams{}
	params.Context = ctx
	c, err := g.sc.Coupons.Get(id, params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.Code == stripe.ErrorCodeResourceMissing {
			return nil, nil
		}
		return nil, g.classify("coupon.get", err)
	}
	return mapCoupon(c), nil
}

func mapSubscription(s *stripe.Subscription) *Subscription {
	if s == nil {
		return nil
	}
	sub := &Subscription{
		ID:       s.ID,
		Status:   string(s.Status),
		Metadata: s.Metadata,
	}
	if s.Customer != nil {
		sub.CustomerID = s.Customer.ID
	}
	if s.Schedule != nil {
		sub.ScheduleID = s.Schedule.ID
	}
	if s.LatestInvoice != nil {
		sub.LatestInvoiceID = s.LatestInvoice.ID
	}
	return sub
}

func (g *StripeGateway) CreateSchedule(ctx context.Context, p ScheduleParams) (*Schedule, *Subscription, error) {
	createCtx, cancel := g.callCtx(ctx)
	defer cancel()
	phase := &stripe.SubscriptionSchedulePhaseParams{
		Items: []*stripe.SubscriptionSchedulePhaseItemParams{{
			Price:    stripe.String(p.PriceID),
			Quantity: stripe.Int64(1),
		}},
		EndDate: stripe.Int64(p.EndDate.Unix()),
	}
	if p.CouponID != "" {
		// Attached to the phase so every recurring invoice in the
		// commitment carries the discount, not just the first.
		phase.Coupon = stripe.String(p.CouponID)
	}
	params := &stripe.SubscriptionScheduleParams{
		Customer:     stripe.String(p.CustomerID),
		StartDateNow: stripe.Bool(true),
		EndBehavior:  stripe.String(string(stripe.SubscriptionScheduleEndBehaviorRelease)),
		Phases:       []*stripe.SubscriptionSchedulePhaseParams{phase},
	}
	params.Context = createCtx
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	schedule, err := g.sc.SubscriptionSchedules.New(params)
	if err != nil {
		return nil, nil, g.classify("schedule.create", err)
	}
	out := &Schedule{ID: schedule.ID}
	if schedule.Subscription == nil || schedule.Subscription.ID == "" {
		return out, nil, nil
	}
	out.SubscriptionID = schedule.Subscription.ID
	sub, err := g.RetrieveSubscription(ctx, schedule.Subscription.ID)
	if err != nil {
		return out, nil, err
	}
	return out, sub, nil
}

func (g *StripeGateway) CancelSchedule(ctx context.Context, id string) error {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()
	params := &stripe.SubscriptionScheduleCancelParams{}
	params.Context = ctx
	_, err := g.sc.SubscriptionSchedules.Cancel(id, params)
	if err != nil {
		return g.classify("schedule.cancel", err)
	}
	return nil
}

func (g *StripeGateway) RetrieveSubscription(ctx context.Context, id string) (*Subscription, error) {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand("latest_invoice")
	s, err := g.sc.Subscriptions.Get(id, params)
	if err != nil {
		return nil, g.classify("subscription.get", err)
	}
	return mapSubscription(s), nil
}

func (g *StripeGateway) CancelSubscription(ctx context.Context, id string) error {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	_, err := g.sc.Subscriptions.Cancel(id, params)
	if err != nil {
		return g.classify("subscription.cancel", err)
	}
	return nil
}

func (g *StripeGateway) AddInvoiceItem(ctx context.Context, p InvoiceItemParams) error {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()
	params := &stripe.InvoiceItemParams{
		Customer:    stripe.String(p.CustomerID),
		Invoice:     stripe.String(p.InvoiceID),
		Amount:      stripe.Int64(p.Amount),
		Currency:    stripe.String(p.Currency),
		Description: stripe.String(p.Description),
	}
	params.Context = ctx
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	_, err := g.sc.InvoiceItems.New(params)
	if err != nil {
		return g.classify("invoiceitem.create", err)
	}
	return nil
}

func (g *StripeGateway) AttachInvoiceDiscount(ctx context.Context, invoiceID, couponID string) error {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()
	params := &stripe.InvoiceParams{
		Discounts: []*stripe.InvoiceDiscountParams{{Coupon: stripe.String(couponID)}},
	}
	params.Context = ctx
	_, err := g.sc.Invoices.Update(invoiceID, params)
	if err != nil {
		return g.classify("invoice.update", err)
	}
	return nil
}

func mapInvoice(inv *stripe.Invoice) *Invoice {
	out := &Invoice{
		ID:        inv.ID,
		AmountDue: inv.AmountDue,
		Subtotal:  inv.Subtotal,
		Total:     inv.Total,
		Currency:  string(inv.Currency),
		Paid:      inv.Status == stripe.InvoiceStatusPaid,
	}
	for _, d := range inv.TotalDiscountAmounts {
		out.DiscountAmount += d.Amount
	}
	if inv.PaymentIntent != nil {
		out.PaymentIntentID = inv.PaymentIntent.ID
		out.ClientSecret = inv.PaymentIntent.ClientSecret
	}
	return out
}

func (g *StripeGateway) FinalizeInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()
	params := &stripe.InvoiceFinalizeInvoiceParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")
	inv, err := g.sc.Invoices.FinalizeInvoice(invoiceID, params)
	if err != nil {
		return nil, g.classify("invoice.finalize", err)
	}
	return mapInvoice(inv), nil
}

func (g *StripeGateway) RetrieveInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()
	params := &stripe.InvoiceParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")
	inv, err := g.sc.Invoices.Get(invoiceID, params)
	if err != nil {
		return nil, g.classify("invoice.get", err)
	}
	return mapInvoice(inv), nil
}
