package checkout

import (
	"context"
	"time"
)

// Domain projections of gateway resources. The orchestrator and reconciler
// only ever see these, never vendor SDK structs.

type Customer struct {
	ID    string
	Email string
	Name  string
}

// Coupon durations.
const (
	DurationOnce      = "once"
	DurationRepeating = "repeating"
	DurationForever   = "forever"
)

type Coupon struct {
	ID               string
	PercentOff       float64
	AmountOff        int64
	Duration         string
	DurationInMonths int64
	Valid            bool
}

type Subscription struct {
	ID              string
	CustomerID      string
	ScheduleID      string
	LatestInvoiceID string
	Status          string
	Metadata        map[string]string
}

type Schedule struct {
	ID             string
	SubscriptionID string
}

type ScheduleParams struct {
	CustomerID string
	PriceID    string
	CouponID   string
	EndDate    time.Time
	Metadata   map[string]string
}

type InvoiceItemParams struct {
	CustomerID  string
	InvoiceID   string
	Amount      int64
	Currency    string
	Description string
	Metadata    map[string]string
}

// Invoice is the finalized billing document. When AmountDue is zero the
// gateway marks it paid with no payment intent, so ClientSecret stays empty.
type Invoice struct {
	ID              string
	AmountDue       int64
	Subtotal        int64
	Total           int64
	DiscountAmount  int64
	Currency        string
	Paid            bool
	PaymentIntentID string
	ClientSecret    string
}

// Gateway is the payment-provider capability surface the core consumes.
// Implementations must honor ctx cancellation on every call.
type Gateway interface {
	FindCustomer(ctx context.Context, email string) (*Customer, error)
	CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (*Customer, error)

	// LookupPromotionCode resolves an active customer-facing code to its
	// coupon; nil,nil when there is no active match.
	LookupPromotionCode(ctx context.Context, code string) (*Coupon, error)
	// GetCoupon returns nil,nil when the coupon id does not exist.
	GetCoupon(ctx context.Context, id string) (*Coupon, error)

	CreateSchedule(ctx context.Context, params ScheduleParams) (*Schedule, *Subscription, error)
	CancelSchedule(ctx context.Context, id string) error

	RetrieveSubscription(ctx context.Context, id string) (*Subscription, error)
	CancelSubscription(ctx context.Context, id string) error

	AddInvoiceItem(ctx context.Context, params InvoiceItemParams) error
	AttachInvoiceDiscount(ctx context.Context, invoiceID, couponID string) error
	FinalizeInvoice(ctx context.Context, invoiceID string) (*Invoice, error)
	RetrieveInvoice(ctx context.Context, invoiceID string) (*Invoice, error)
}
